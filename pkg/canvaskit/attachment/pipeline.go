package attachment

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/canvaskit/pkg/canvaskit/api"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/event"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/observability"
)

// sniffLen is how much content is read to detect its type.
const sniffLen = 3072

// Pipeline manages the attachments of one conversation's input surface.
// It is safe for concurrent use.
type Pipeline struct {
	docs api.DocumentService
	cfg  pipelineConfig
	sem  chan struct{}

	mu             sync.Mutex
	conversationID string
	generation     uint64
	items          []*Attachment
	inflight       sync.WaitGroup
}

// NewPipeline creates a pipeline for conversationID.
func NewPipeline(docs api.DocumentService, conversationID string, opts ...Option) *Pipeline {
	cfg := defaultPipelineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Pipeline{
		docs:           docs,
		cfg:            cfg,
		sem:            make(chan struct{}, cfg.concurrency),
		conversationID: conversationID,
	}
}

// ConversationID returns the conversation the pipeline is scoped to.
func (p *Pipeline) ConversationID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conversationID
}

// Add registers f as queued and processes it in the background.
// It returns the attachment's uid immediately.
func (p *Pipeline) Add(ctx context.Context, f File) string {
	uid, gen, conv := p.register(f)
	go func() {
		_ = p.process(ctx, gen, conv, uid, f)
	}()
	return uid
}

// AddAll registers every file in order and blocks until each has reached
// a terminal status. Per-file failures are recorded on the attachment,
// not returned; the error is non-nil only when ctx ends first.
func (p *Pipeline) AddAll(ctx context.Context, files ...File) ([]string, error) {
	uids := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		uid, gen, conv := p.register(f)
		uids[i] = uid
		g.Go(func() error {
			return p.process(gctx, gen, conv, uid, f)
		})
	}
	return uids, g.Wait()
}

// Wait blocks until no attachment is being processed.
func (p *Pipeline) Wait() {
	p.inflight.Wait()
}

func (p *Pipeline) register(f File) (uid string, gen uint64, conv string) {
	a := &Attachment{
		UID:    uuid.NewString(),
		Name:   f.Name,
		Kind:   f.Kind,
		Size:   f.Size,
		Status: StatusQueued,
	}

	p.mu.Lock()
	p.items = append(p.items, a)
	gen, conv = p.generation, p.conversationID
	snap := *a
	p.inflight.Add(1)
	p.mu.Unlock()

	p.publish(snap)
	return a.UID, gen, conv
}

// process drives one attachment to a terminal status. It returns an error
// only when ctx ends before an upload slot frees up.
func (p *Pipeline) process(ctx context.Context, gen uint64, conv, uid string, f File) error {
	defer p.inflight.Done()

	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		p.fail(gen, uid, f, "upload", ctx.Err(), 0)
		return ctx.Err()
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f.Content, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		p.fail(gen, uid, f, "read", err, 0)
		return nil
	}
	head = head[:n]
	mime := mimetype.Detect(head)
	content := io.MultiReader(bytes.NewReader(head), f.Content)

	kind := f.Kind
	if kind == KindAuto {
		kind = KindDocument
		if strings.HasPrefix(mime.String(), "image/") {
			kind = KindImage
		}
	}
	p.update(gen, uid, func(a *Attachment) {
		a.Kind = kind
		a.MIME = mime.String()
	})

	if kind == KindImage {
		p.inline(gen, uid, f, mime.String(), content)
		return nil
	}
	if err := p.upload(ctx, gen, conv, uid, f, content); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// inline encodes an image as a data URL and completes it without a request.
func (p *Pipeline) inline(gen uint64, uid string, f File, mime string, content io.Reader) {
	data, err := io.ReadAll(content)
	if err != nil {
		p.fail(gen, uid, f, "read", err, 0)
		return
	}
	img := &api.Image{
		Name: f.Name,
		Data: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data),
	}
	p.update(gen, uid, func(a *Attachment) {
		a.Size = int64(len(data))
		a.Status = StatusDone
		a.Percent = 100
		a.Inline = img
	})
	observability.LogUpload(p.cfg.logger, uid, f.Name, nil, nil)
}

func (p *Pipeline) upload(ctx context.Context, gen uint64, conv, uid string, f File, content io.Reader) error {
	p.update(gen, uid, func(a *Attachment) {
		a.Status = StatusUploading
	})

	ids, err := p.docs.UploadAndParse(ctx, conv, api.File{Name: f.Name, Size: f.Size, Content: content},
		func(pct int) {
			p.update(gen, uid, func(a *Attachment) {
				a.Percent = pct
				if pct >= 100 {
					a.Status = StatusParsing
				}
			})
		})
	if err != nil {
		code := -1
		var apiErr *api.APIError
		if errors.As(err, &apiErr) {
			code = apiErr.Code
		}
		p.fail(gen, uid, f, "upload", err, code)
		return err
	}

	p.update(gen, uid, func(a *Attachment) {
		a.Status = StatusDone
		a.Percent = 100
		a.Response = &UploadResult{Code: api.CodeSuccess, DocumentIDs: ids}
	})
	p.cfg.metrics.RecordUpload(ctx, f.Size, nil)
	observability.LogUpload(p.cfg.logger, uid, f.Name, ids, nil)
	return nil
}

func (p *Pipeline) fail(gen uint64, uid string, f File, op string, err error, code int) {
	aerr := &Error{UID: uid, Name: f.Name, Op: op, Err: err}
	p.update(gen, uid, func(a *Attachment) {
		a.Status = StatusError
		a.Percent = 100
		a.Err = aerr
		if code != 0 {
			a.Response = &UploadResult{Code: code}
		}
	})
	p.cfg.metrics.RecordUpload(context.Background(), f.Size, aerr)
	observability.LogUpload(p.cfg.logger, uid, f.Name, nil, aerr)
}

// update applies fn to the attachment if it still belongs to generation gen.
// Status never moves backwards, terminal states are final, and percent
// never decreases.
func (p *Pipeline) update(gen uint64, uid string, fn func(*Attachment)) {
	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return
	}
	i := p.index(uid)
	if i < 0 || p.items[i].Status.Terminal() {
		p.mu.Unlock()
		return
	}

	cur := p.items[i]
	next := *cur
	fn(&next)
	if next.Status.rank() < cur.Status.rank() {
		next.Status = cur.Status
	}
	if next.Percent < cur.Percent {
		next.Percent = cur.Percent
	}
	if next == *cur {
		p.mu.Unlock()
		return
	}
	*cur = next
	p.mu.Unlock()

	p.publish(next)
}

func (p *Pipeline) index(uid string) int {
	return slices.IndexFunc(p.items, func(a *Attachment) bool { return a.UID == uid })
}

func (p *Pipeline) publish(a Attachment) {
	p.publishTo(p.ConversationID(), a)
}

func (p *Pipeline) publishTo(conversationID string, a Attachment) {
	_ = p.cfg.events.Publish(context.Background(), event.New(event.TypeAttachmentChanged, conversationID, a))
}

// Remove discards an attachment. Before the backend has assigned ids this
// is a local purge; afterwards the documents are deleted remotely first and
// the entry is kept if that fails.
func (p *Pipeline) Remove(ctx context.Context, uid string) error {
	p.mu.Lock()
	i := p.index(uid)
	if i < 0 {
		p.mu.Unlock()
		return fmt.Errorf("remove %s: %w", uid, ErrNotFound)
	}
	a := *p.items[i]
	ids := a.DocumentIDs()
	gen := p.generation
	if len(ids) == 0 {
		p.items = slices.Delete(p.items, i, i+1)
		p.mu.Unlock()
		p.publishRemoved(a)
		return nil
	}
	p.mu.Unlock()

	var err error
	if p.cfg.surface == Owner {
		err = p.docs.RemoveDocument(ctx, ids[0])
	} else {
		err = p.docs.DeleteDocuments(ctx, ids)
	}
	if err != nil {
		return &Error{UID: uid, Name: a.Name, Op: "remove", Err: err}
	}

	p.mu.Lock()
	if gen == p.generation {
		if j := p.index(uid); j >= 0 {
			p.items = slices.Delete(p.items, j, j+1)
		}
	}
	p.mu.Unlock()
	p.publishRemoved(a)
	return nil
}

func (p *Pipeline) publishRemoved(a Attachment) {
	a.Status = ""
	p.publish(a)
}

// SetConversation rescopes the pipeline and clears it, in-flight uploads
// included. Their late results are ignored.
func (p *Pipeline) SetConversation(id string) {
	p.mu.Lock()
	p.generation++
	prev := p.conversationID
	cleared := p.items
	p.conversationID = id
	p.items = nil
	p.mu.Unlock()

	for _, a := range cleared {
		removed := *a
		removed.Status = ""
		p.publishTo(prev, removed)
	}
}

// Uploading reports whether any attachment has not reached a terminal status.
func (p *Pipeline) Uploading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.ContainsFunc(p.items, func(a *Attachment) bool { return !a.Status.Terminal() })
}

// Snapshot returns copies of every attachment in selection order.
func (p *Pipeline) Snapshot() []Attachment {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Attachment, len(p.items))
	for i, a := range p.items {
		out[i] = *a
	}
	return out
}

// Get returns a copy of one attachment.
func (p *Pipeline) Get(uid string) (Attachment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i := p.index(uid); i >= 0 {
		return *p.items[i], true
	}
	return Attachment{}, false
}

// DocumentIDs returns the ids of successfully parsed documents.
func (p *Pipeline) DocumentIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.documentIDs()
}

func (p *Pipeline) documentIDs() []string {
	var ids []string
	for _, a := range p.items {
		ids = append(ids, a.DocumentIDs()...)
	}
	return ids
}

// Images returns the inline payloads of completed images.
func (p *Pipeline) Images() []api.Image {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.images()
}

func (p *Pipeline) images() []api.Image {
	var out []api.Image
	for _, a := range p.items {
		if a.Status == StatusDone && a.Inline != nil {
			out = append(out, *a.Inline)
		}
	}
	return out
}

// DocumentInfos fetches backend metadata for the current document ids.
func (p *Pipeline) DocumentInfos(ctx context.Context) ([]api.DocumentInfo, error) {
	ids := p.DocumentIDs()
	if len(ids) == 0 {
		return nil, nil
	}
	return p.docs.GetDocumentInfos(ctx, ids)
}

// Take hands the successful document ids and images to a submitted turn
// and clears the list. Failed attachments are dropped. It fails with
// ErrUploading, leaving the list intact, while any attachment is in flight.
func (p *Pipeline) Take() (Handoff, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slices.ContainsFunc(p.items, func(a *Attachment) bool { return !a.Status.Terminal() }) {
		return Handoff{}, ErrUploading
	}
	h := Handoff{DocumentIDs: p.documentIDs(), Images: p.images()}
	p.items = nil
	return h, nil
}
