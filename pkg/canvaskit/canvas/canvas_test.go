package canvas_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/canvaskit/pkg/canvaskit/api"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/canvas"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/config"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/dsl"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/event"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/snapshot"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/stream"
)

// fakeCanvases is an in-memory CanvasService.
type fakeCanvases struct {
	mu       sync.Mutex
	canvases map[string]*api.Canvas
	sets     []api.SetCanvasParams
	runs     []api.RunParams
	setErr   error
	getErr   error
}

func newFakeCanvases() *fakeCanvases {
	return &fakeCanvases{canvases: make(map[string]*api.Canvas)}
}

func (f *fakeCanvases) GetCanvas(_ context.Context, id string) (*api.Canvas, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	c, ok := f.canvases[id]
	if !ok {
		return nil, &api.APIError{Op: "get canvas", Code: 102, Message: "not found"}
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCanvases) SetCanvas(_ context.Context, p api.SetCanvasParams) (*api.Canvas, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, p)
	if f.setErr != nil {
		return nil, f.setErr
	}
	if p.ID == "" {
		p.ID = "new-canvas"
	}
	c := &api.Canvas{ID: p.ID, Title: p.Title, DSL: p.DSL, UpdateTime: time.Now().UnixMilli()}
	f.canvases[p.ID] = c
	cp := *c
	return &cp, nil
}

func (f *fakeCanvases) RemoveCanvas(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.canvases, id)
	}
	return nil
}

func (f *fakeCanvases) ListCanvas(context.Context) ([]api.Summary, error) {
	return nil, nil
}

func (f *fakeCanvases) ResetCanvas(_ context.Context, id string) (*api.Canvas, error) {
	data, _ := dsl.Serialize(dsl.CreateEmpty())
	return &api.Canvas{ID: id, DSL: data}, nil
}

func (f *fakeCanvases) RunCanvas(_ context.Context, p api.RunParams) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, p)
	return io.NopCloser(strings.NewReader(`data:{"code":0,"data":{"answer":"hi","reference":[]}}` + "\n\ndata:{\"code\":0,\"data\":true}\n\n")), nil
}

func (f *fakeCanvases) setCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sets)
}

func addAnswer(d *dsl.DSL) (*dsl.DSL, error) {
	n := dsl.Node{ID: dsl.NewNodeID("Answer"), Type: dsl.TypeAnswer, Data: dsl.NodeData{Label: "Answer", Name: "answer"}}
	return dsl.AddNode(d, n)
}

func newPersister(t *testing.T, svc *fakeCanvases, opts ...canvas.Option) *canvas.Persister {
	t.Helper()
	e := canvas.NewEditor("c1", "demo", nil)
	opts = append([]canvas.Option{canvas.WithLogger(nil)}, opts...)
	p, err := canvas.NewPersister(svc, e, stream.NewTransport(svc, stream.WithLogger(nil)), opts...)
	require.NoError(t, err)
	return p
}

func TestEditor_Apply(t *testing.T) {
	e := canvas.NewEditor("c1", "demo", nil)

	require.NoError(t, e.Apply(addAnswer))
	assert.Len(t, e.DSL().Graph.Nodes, 2)

	select {
	case <-e.Changes():
	default:
		t.Fatal("expected a change signal")
	}

	err := e.Apply(func(d *dsl.DSL) (*dsl.DSL, error) {
		return dsl.RemoveNode(d, dsl.BeginID)
	})
	assert.ErrorIs(t, err, dsl.ErrInvalidGraph)
	assert.Len(t, e.DSL().Graph.Nodes, 2, "failed edit must not change the graph")
}

// TestEditor_DSLIsCopy verifies callers cannot mutate the live graph.
func TestEditor_DSLIsCopy(t *testing.T) {
	e := canvas.NewEditor("c1", "demo", nil)
	d := e.DSL()
	d.Graph.Nodes = nil
	assert.Len(t, e.DSL().Graph.Nodes, 1)
}

func TestLoad(t *testing.T) {
	svc := newFakeCanvases()
	data, err := dsl.Serialize(dsl.CreateEmpty())
	require.NoError(t, err)
	svc.canvases["c1"] = &api.Canvas{ID: "c1", Title: "demo", DSL: data, UpdateTime: 1700000000000}

	e, err := canvas.Load(context.Background(), svc, "c1")
	require.NoError(t, err)
	assert.Equal(t, "demo", e.Title())
	assert.False(t, e.ReadOnly())

	_, err = canvas.Load(context.Background(), svc, "missing")
	assert.ErrorIs(t, err, api.ErrFailure)
}

// TestLoad_PermissionDenied verifies code 109 gives an empty read-only editor.
func TestLoad_PermissionDenied(t *testing.T) {
	svc := newFakeCanvases()
	svc.getErr = &api.APIError{Op: "get canvas", Code: api.CodePermission, Message: "no permission"}

	e, err := canvas.Load(context.Background(), svc, "c1")
	require.NoError(t, err)
	assert.True(t, e.ReadOnly())
	assert.Len(t, e.DSL().Graph.Nodes, 1)
	assert.ErrorIs(t, e.Apply(addAnswer), canvas.ErrReadOnly)
	assert.ErrorIs(t, e.SetTitle("x"), canvas.ErrReadOnly)

	p, err := canvas.NewPersister(svc, e, nil, canvas.WithLogger(nil))
	require.NoError(t, err)
	assert.ErrorIs(t, p.Save(context.Background()), canvas.ErrReadOnly)
	assert.Zero(t, svc.setCount())
}

func TestCreate(t *testing.T) {
	svc := newFakeCanvases()
	e, err := canvas.Create(context.Background(), svc, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "new-canvas", e.ID())
	assert.Equal(t, "fresh", e.Title())
	_, ok := e.DSL().Begin()
	assert.True(t, ok)
}

func TestSaveIfChanged(t *testing.T) {
	svc := newFakeCanvases()
	p := newPersister(t, svc)

	saved, err := p.SaveIfChanged(context.Background())
	require.NoError(t, err)
	assert.False(t, saved, "unchanged graph must not be saved")
	assert.True(t, p.LastSaved().IsZero())

	require.NoError(t, p.Editor().Apply(addAnswer))
	dirty, err := p.Dirty()
	require.NoError(t, err)
	assert.True(t, dirty)

	saved, err = p.SaveIfChanged(context.Background())
	require.NoError(t, err)
	assert.True(t, saved)
	assert.False(t, p.LastSaved().IsZero())
	require.Equal(t, 1, svc.setCount())
	assert.Equal(t, "c1", svc.sets[0].ID)
	assert.Equal(t, "demo", svc.sets[0].Title)

	saved, err = p.SaveIfChanged(context.Background())
	require.NoError(t, err)
	assert.False(t, saved)

	require.NoError(t, p.Save(context.Background()))
	assert.Equal(t, 2, svc.setCount(), "Save always sends")
}

// TestSaveIfChanged_Title verifies a rename alone counts as a change and
// wakes the watcher.
func TestSaveIfChanged_Title(t *testing.T) {
	svc := newFakeCanvases()
	e := canvas.NewEditor("c1", "Old", nil)
	require.NoError(t, e.SetTitle("New"))

	select {
	case <-e.Changes():
	default:
		t.Fatal("expected a change signal")
	}

	p, err := canvas.NewPersister(svc, e, nil, canvas.WithLogger(nil))
	require.NoError(t, err)
	dirty, err := p.Dirty()
	require.NoError(t, err)
	assert.True(t, dirty)

	saved, err := p.SaveIfChanged(context.Background())
	require.NoError(t, err)
	assert.True(t, saved)
	require.Equal(t, 1, svc.setCount())
	assert.Equal(t, "New", svc.sets[0].Title)

	saved, err = p.SaveIfChanged(context.Background())
	require.NoError(t, err)
	assert.False(t, saved)
}

// TestWatch_SavesRename verifies the watcher saves a title-only change.
func TestWatch_SavesRename(t *testing.T) {
	svc := newFakeCanvases()
	p := newPersister(t, svc, canvas.WithDebounce(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Watch(ctx) }()

	require.NoError(t, p.Editor().SetTitle("renamed"))
	assert.Eventually(t, func() bool { return svc.setCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

// TestSave_FailureKeepsGraph verifies a failed save leaves the graph dirty
// and publishes the failure.
func TestSave_FailureKeepsGraph(t *testing.T) {
	svc := newFakeCanvases()
	svc.setErr = &api.APIError{Op: "set canvas", Code: api.CodeServer, Message: "down"}
	bus := event.NewBus(event.BusConfig{})
	defer bus.Close()
	failed := make(chan canvas.SaveFailed, 1)
	bus.Subscribe(func(_ context.Context, e event.Event) {
		if f, ok := event.Payload[canvas.SaveFailed](e); ok {
			failed <- f
		}
	}, event.TypeCanvasSaveFailed)

	p := newPersister(t, svc, canvas.WithPublisher(bus))
	require.NoError(t, p.Editor().Apply(addAnswer))

	_, err := p.SaveIfChanged(context.Background())
	assert.ErrorIs(t, err, api.ErrFailure)
	dirty, err := p.Dirty()
	require.NoError(t, err)
	assert.True(t, dirty)
	assert.Len(t, p.Editor().DSL().Graph.Nodes, 2)

	select {
	case f := <-failed:
		assert.Equal(t, "c1", f.CanvasID)
	case <-time.After(time.Second):
		t.Fatal("save failure not published")
	}
}

// TestDefaultDebounce verifies the persister and client settings agree.
func TestDefaultDebounce(t *testing.T) {
	assert.Equal(t, config.DefaultClient().SaveDebounce, canvas.DefaultDebounce)
	assert.Equal(t, 20*time.Second, canvas.DefaultDebounce)
}

// TestWatch_Debounces verifies a burst of edits produces one save.
func TestWatch_Debounces(t *testing.T) {
	svc := newFakeCanvases()
	p := newPersister(t, svc, canvas.WithDebounce(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx) }()

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Editor().Apply(addAnswer))
		time.Sleep(5 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return svc.setCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, svc.setCount())

	saved, err := dsl.Deserialize(svc.sets[0].DSL)
	require.NoError(t, err)
	assert.Len(t, saved.Graph.Nodes, 6)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

// TestRun_SavesFirst verifies run-implies-save.
func TestRun_SavesFirst(t *testing.T) {
	svc := newFakeCanvases()
	p := newPersister(t, svc)
	require.NoError(t, p.Editor().Apply(addAnswer))

	s, err := p.Run(context.Background(), api.RunParams{Message: "Hello"})
	require.NoError(t, err)
	final, err := s.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hi", final.Answer)

	assert.Equal(t, 1, svc.setCount())
	require.Len(t, svc.runs, 1)
	assert.Equal(t, "c1", svc.runs[0].CanvasID)

	_, err = p.Run(context.Background(), api.RunParams{Message: "again"})
	require.NoError(t, err)
	assert.Equal(t, 1, svc.setCount(), "unchanged graph is not saved again")
}

// syncBuffer is a bytes.Buffer safe for a logger shared across goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// TestRun_LogsStartOnce verifies one run produces one start line.
func TestRun_LogsStartOnce(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, nil))
	svc := newFakeCanvases()
	e := canvas.NewEditor("c1", "demo", nil)
	p, err := canvas.NewPersister(svc, e, stream.NewTransport(svc, stream.WithLogger(logger)), canvas.WithLogger(logger))
	require.NoError(t, err)

	s, err := p.Run(context.Background(), api.RunParams{Message: "Hello"})
	require.NoError(t, err)
	_, err = s.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(out.String(), "canvas run starting"))
}

func TestRun_SaveFailureAborts(t *testing.T) {
	svc := newFakeCanvases()
	svc.setErr = errors.New("offline")
	p := newPersister(t, svc)
	require.NoError(t, p.Editor().Apply(addAnswer))

	_, err := p.Run(context.Background(), api.RunParams{Message: "Hello"})
	require.Error(t, err)
	assert.Empty(t, svc.runs)
}

// TestSnapshots verifies saves are recorded locally and recoverable.
func TestSnapshots(t *testing.T) {
	svc := newFakeCanvases()
	store := snapshot.NewMemoryStore()
	p := newPersister(t, svc, canvas.WithSnapshots(store))

	require.NoError(t, p.Editor().Apply(addAnswer))
	require.NoError(t, p.Save(context.Background()))
	require.NoError(t, p.Save(context.Background()))

	infos, err := store.List("c1")
	require.NoError(t, err)
	assert.Len(t, infos, 1, "identical saves share one version")

	doc, info, err := canvas.Recover(store, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, info.Version)
	assert.Len(t, doc.Graph.Nodes, 2)

	_, _, err = canvas.Recover(store, "other")
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
}

func TestReset(t *testing.T) {
	svc := newFakeCanvases()
	p := newPersister(t, svc)
	require.NoError(t, p.Editor().Apply(addAnswer))

	require.NoError(t, p.Reset(context.Background()))
	assert.Len(t, p.Editor().DSL().Graph.Nodes, 1)
	dirty, err := p.Dirty()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.False(t, p.LastSaved().IsZero())
}
