// Package canvas keeps one canvas's live graph in sync with the backend.
//
// An Editor owns the graph and applies edits. A Persister watches the editor
// and saves the graph after edits settle, before every run, and on demand.
// Saves only go out when the graph hash or the title differs from the last
// saved one.
package canvas

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/randalmurphal/canvaskit/pkg/canvaskit/api"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/dsl"
)

// ErrReadOnly is returned for edits and saves on a canvas the caller may
// not change.
var ErrReadOnly = errors.New("canvas is read-only")

// Editor is the exclusive owner of one canvas's live graph.
type Editor struct {
	id string

	mu         sync.RWMutex
	title      string
	savedTitle string
	doc      *dsl.DSL
	readOnly bool
	updated  time.Time

	changes chan struct{}
}

// NewEditor wraps doc for the canvas id. A nil doc starts from
// dsl.CreateEmpty.
func NewEditor(id, title string, doc *dsl.DSL) *Editor {
	if doc == nil {
		doc = dsl.CreateEmpty()
	}
	return &Editor{
		id:         id,
		title:      title,
		savedTitle: title,
		doc:        doc.Clone(),
		changes:    make(chan struct{}, 1),
	}
}

func readOnlyEditor(id string) *Editor {
	e := NewEditor(id, "", nil)
	e.readOnly = true
	return e
}

// ID returns the canvas id.
func (e *Editor) ID() string {
	return e.id
}

// Title returns the canvas title.
func (e *Editor) Title() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.title
}

// SetTitle renames the canvas. The rename is saved with the next save.
func (e *Editor) SetTitle(title string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.readOnly {
		return ErrReadOnly
	}
	if e.title != title {
		e.title = title
		e.notify()
	}
	return nil
}

// ReadOnly reports whether the backend refused access to the canvas.
func (e *Editor) ReadOnly() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.readOnly
}

// DSL returns a copy of the live graph.
func (e *Editor) DSL() *dsl.DSL {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc.Clone()
}

// Apply runs one edit against the live graph. fn receives a copy and
// returns the next graph; the dsl edit functions fit directly. A failed or
// invalid result leaves the live graph unchanged.
func (e *Editor) Apply(fn func(*dsl.DSL) (*dsl.DSL, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.readOnly {
		return ErrReadOnly
	}
	next, err := fn(e.doc.Clone())
	if err != nil {
		return err
	}
	if next == nil {
		return fmt.Errorf("apply edit: %w", dsl.ErrInvalidGraph)
	}
	if err := dsl.Validate(next); err != nil {
		return err
	}
	e.doc = next
	e.notify()
	return nil
}

// Changes signals after edits. Signals coalesce while nobody reads.
func (e *Editor) Changes() <-chan struct{} {
	return e.changes
}

func (e *Editor) notify() {
	select {
	case e.changes <- struct{}{}:
	default:
	}
}

// replace swaps in a graph that came from the backend.
func (e *Editor) replace(doc *dsl.DSL, updated time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.doc = doc
	e.updated = updated
}

// loadedTitle is the title the editor was created with.
func (e *Editor) loadedTitle() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.savedTitle
}

func (e *Editor) lastUpdated() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.updated
}

// Load fetches a canvas into a new editor. A canvas the caller has no
// permission for loads as an empty read-only editor and no error.
func Load(ctx context.Context, svc api.CanvasService, id string) (*Editor, error) {
	c, err := svc.GetCanvas(ctx, id)
	if api.IsPermission(err) {
		return readOnlyEditor(id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load canvas %s: %w", id, err)
	}
	return editorFrom(c)
}

// Create stores a new canvas holding only a Begin node.
func Create(ctx context.Context, svc api.CanvasService, title string) (*Editor, error) {
	data, err := dsl.Serialize(dsl.CreateEmpty())
	if err != nil {
		return nil, err
	}
	c, err := svc.SetCanvas(ctx, api.SetCanvasParams{Title: title, DSL: data})
	if err != nil {
		return nil, fmt.Errorf("create canvas: %w", err)
	}
	if len(c.DSL) == 0 {
		c.DSL = data
	}
	return editorFrom(c)
}

func editorFrom(c *api.Canvas) (*Editor, error) {
	doc, err := decode(c)
	if err != nil {
		return nil, err
	}
	e := NewEditor(c.ID, c.Title, doc)
	e.updated = updateTime(c)
	return e, nil
}

func decode(c *api.Canvas) (*dsl.DSL, error) {
	if len(c.DSL) == 0 || string(c.DSL) == "null" || string(c.DSL) == "{}" {
		return dsl.CreateEmpty(), nil
	}
	doc, err := dsl.Deserialize(c.DSL)
	if err != nil {
		return nil, fmt.Errorf("canvas %s: %w", c.ID, err)
	}
	return doc, nil
}

func updateTime(c *api.Canvas) time.Time {
	if c.UpdateTime <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.UpdateTime)
}
