package canvas

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/randalmurphal/canvaskit/pkg/canvaskit/api"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/dsl"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/event"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/observability"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/snapshot"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/stream"
)

// Saved is the payload of event.TypeCanvasSaved.
type Saved struct {
	CanvasID string
	Hash     uint64
	SavedAt  time.Time
}

// SaveFailed is the payload of event.TypeCanvasSaveFailed. The editor keeps
// its graph; the next save retries it.
type SaveFailed struct {
	CanvasID string
	Err      error
}

// Persister saves an editor's graph to the backend.
type Persister struct {
	svc       api.CanvasService
	editor    *Editor
	transport *stream.Transport
	cfg       persisterConfig

	// saveMu serializes saves so their hashes land in order.
	saveMu sync.Mutex

	mu        sync.Mutex
	lastHash  uint64
	lastTitle string
	lastSaved time.Time
}

// NewPersister treats the editor's current graph and loaded title as
// already saved. The
// transport is used by Run and may be nil when runs go elsewhere.
func NewPersister(svc api.CanvasService, editor *Editor, transport *stream.Transport, opts ...Option) (*Persister, error) {
	cfg := defaultPersisterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	h, err := dsl.Hash(editor.DSL())
	if err != nil {
		return nil, err
	}
	return &Persister{
		svc:       svc,
		editor:    editor,
		transport: transport,
		cfg:       cfg,
		lastHash:  h,
		lastTitle: editor.loadedTitle(),
		lastSaved: editor.lastUpdated(),
	}, nil
}

// Editor returns the editor being persisted.
func (p *Persister) Editor() *Editor {
	return p.editor
}

// LastSaved returns when the graph was last saved, zero if never.
func (p *Persister) LastSaved() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSaved
}

// Dirty reports whether the live graph or title differs from the last
// saved one.
func (p *Persister) Dirty() (bool, error) {
	h, err := dsl.Hash(p.editor.DSL())
	if err != nil {
		return false, err
	}
	title := p.editor.Title()
	p.mu.Lock()
	defer p.mu.Unlock()
	return h != p.lastHash || title != p.lastTitle, nil
}

// Watch saves the graph once edits have been quiet for the debounce
// period. Each edit restarts the wait. It returns when ctx ends. Save
// failures are logged and published, not returned.
func (p *Persister) Watch(ctx context.Context) error {
	timer := time.NewTimer(p.cfg.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.editor.Changes():
			timer.Reset(p.cfg.debounce)
		case <-timer.C:
			_, _ = p.SaveIfChanged(ctx)
		}
	}
}

// SaveIfChanged saves when the graph or title diverged from the last save and
// reports whether it did.
func (p *Persister) SaveIfChanged(ctx context.Context) (bool, error) {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()
	return p.saveLocked(ctx, false)
}

// Save saves the graph unconditionally.
func (p *Persister) Save(ctx context.Context) error {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()
	_, err := p.saveLocked(ctx, true)
	return err
}

func (p *Persister) saveLocked(ctx context.Context, force bool) (bool, error) {
	if p.editor.ReadOnly() {
		return false, ErrReadOnly
	}

	doc := p.editor.DSL()
	title := p.editor.Title()
	h, err := dsl.Hash(doc)
	if err != nil {
		return false, err
	}
	p.mu.Lock()
	unchanged := h == p.lastHash && title == p.lastTitle
	p.mu.Unlock()
	if unchanged && !force {
		return false, nil
	}

	data, err := dsl.Serialize(doc)
	if err != nil {
		return false, err
	}

	id := p.editor.ID()
	elapsed := observability.TimedOperation()
	_, err = p.svc.SetCanvas(ctx, api.SetCanvasParams{ID: id, Title: title, DSL: data})
	p.cfg.metrics.RecordSave(ctx, int64(len(data)), time.Duration(elapsed()*float64(time.Millisecond)), err)
	if err != nil {
		err = fmt.Errorf("save canvas %s: %w", id, err)
		observability.LogSaveError(p.cfg.logger, id, err)
		_ = p.cfg.events.Publish(ctx, event.New(event.TypeCanvasSaveFailed, id, SaveFailed{CanvasID: id, Err: err}))
		return false, err
	}
	observability.LogSave(p.cfg.logger, id, len(data), elapsed())

	now := time.Now()
	p.mu.Lock()
	p.lastHash = h
	p.lastTitle = title
	p.lastSaved = now
	p.mu.Unlock()

	if p.cfg.snapshots != nil {
		if err := p.cfg.snapshots.Save(id, h, data); err != nil && p.cfg.logger != nil {
			p.cfg.logger.Warn("record snapshot failed", "canvas_id", id, "error", err)
		}
	}
	_ = p.cfg.events.Publish(ctx, event.New(event.TypeCanvasSaved, id, Saved{CanvasID: id, Hash: h, SavedAt: now}))
	return true, nil
}

// Run saves the canvas if it diverged, then opens a streamed run of it. A
// failed save aborts the run. p.CanvasID is set to the editor's canvas.
func (p *Persister) Run(ctx context.Context, params api.RunParams) (*stream.Stream, error) {
	if p.transport == nil {
		return nil, fmt.Errorf("run canvas %s: no transport", p.editor.ID())
	}
	if !p.editor.ReadOnly() {
		if _, err := p.SaveIfChanged(ctx); err != nil {
			return nil, err
		}
	}
	params.CanvasID = p.editor.ID()
	return p.transport.Open(ctx, params)
}

// Reset clears the canvas's runtime payloads on the backend and reloads
// the returned graph into the editor.
func (p *Persister) Reset(ctx context.Context) error {
	if p.editor.ReadOnly() {
		return ErrReadOnly
	}

	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	c, err := p.svc.ResetCanvas(ctx, p.editor.ID())
	if err != nil {
		return fmt.Errorf("reset canvas %s: %w", p.editor.ID(), err)
	}
	doc, err := decode(c)
	if err != nil {
		return err
	}
	h, err := dsl.Hash(doc)
	if err != nil {
		return err
	}
	now := time.Now()
	p.editor.replace(doc, now)
	p.mu.Lock()
	p.lastHash = h
	p.lastSaved = now
	p.mu.Unlock()
	return nil
}

// Recover returns the newest locally recorded version of a canvas.
func Recover(store snapshot.Store, canvasID string) (*dsl.DSL, snapshot.Info, error) {
	snap, err := store.Latest(canvasID)
	if err != nil {
		return nil, snapshot.Info{}, err
	}
	doc, err := dsl.Deserialize(snap.Data)
	if err != nil {
		return nil, snapshot.Info{}, err
	}
	return doc, snap.Info, nil
}
