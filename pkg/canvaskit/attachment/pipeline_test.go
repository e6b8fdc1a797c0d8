package attachment_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randalmurphal/canvaskit/pkg/canvaskit/api"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/attachment"
	ckerrors "github.com/randalmurphal/canvaskit/pkg/canvaskit/errors"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pngHeader = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00"

// fakeDocs is an in-memory DocumentService.
type fakeDocs struct {
	mu        sync.Mutex
	results   map[string][]string // file name -> ids
	codes     map[string]int      // file name -> failing envelope code
	gate      chan struct{}       // when set, uploads block until closed
	uploads   []string
	deleted   [][]string
	removed   []string
	conv      []string
	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{results: map[string][]string{}, codes: map[string]int{}}
}

func (f *fakeDocs) UploadAndParse(ctx context.Context, conv string, file api.File, progress api.Progress) ([]string, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	_, _ = io.Copy(io.Discard, file.Content)
	if progress != nil {
		progress(40)
		progress(100)
		progress(30)
	}

	f.mu.Lock()
	f.uploads = append(f.uploads, file.Name)
	f.conv = append(f.conv, conv)
	gate := f.gate
	ids, code := f.results[file.Name], f.codes[file.Name]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if code != 0 {
		return nil, &api.APIError{Op: "upload_and_parse", Code: code, Message: "parse failed"}
	}
	return ids, nil
}

func (f *fakeDocs) DeleteDocuments(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids)
	return nil
}

func (f *fakeDocs) RemoveDocument(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeDocs) GetDocumentInfos(_ context.Context, ids []string) ([]api.DocumentInfo, error) {
	out := make([]api.DocumentInfo, len(ids))
	for i, id := range ids {
		out[i] = api.DocumentInfo{ID: id, Name: id + ".pdf"}
	}
	return out, nil
}

// recorder collects published attachment snapshots synchronously.
type recorder struct {
	mu     sync.Mutex
	events []attachment.Attachment
}

func (r *recorder) Publish(_ context.Context, evt event.Event) error {
	if a, ok := event.Payload[attachment.Attachment](evt); ok {
		r.mu.Lock()
		r.events = append(r.events, a)
		r.mu.Unlock()
	}
	return nil
}

func (r *recorder) statuses(uid string) []attachment.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []attachment.Status
	for _, a := range r.events {
		if a.UID == uid && a.Status != "" {
			out = append(out, a.Status)
		}
	}
	return out
}

func pdf(name string) attachment.File {
	body := "%PDF-1.4\n" + strings.Repeat("x", 100)
	return attachment.File{Name: name, Size: int64(len(body)), Content: strings.NewReader(body)}
}

func newPipeline(docs *fakeDocs, opts ...attachment.Option) *attachment.Pipeline {
	opts = append([]attachment.Option{attachment.WithLogger(nil)}, opts...)
	return attachment.NewPipeline(docs, "conv-1", opts...)
}

// TestUploadSuccess walks report.pdf to done and fetches its metadata.
func TestUploadSuccess(t *testing.T) {
	docs := newFakeDocs()
	docs.results["report.pdf"] = []string{"doc123"}
	rec := &recorder{}
	p := newPipeline(docs, attachment.WithPublisher(rec))

	uids, err := p.AddAll(context.Background(), pdf("report.pdf"))
	require.NoError(t, err)

	a, ok := p.Get(uids[0])
	require.True(t, ok)
	assert.Equal(t, attachment.StatusDone, a.Status)
	assert.Equal(t, 100, a.Percent)
	assert.Equal(t, attachment.KindDocument, a.Kind)
	assert.Equal(t, "application/pdf", a.MIME)
	require.NotNil(t, a.Response)
	assert.Equal(t, []string{"doc123"}, a.Response.DocumentIDs)
	assert.Equal(t, []string{"conv-1"}, docs.conv)

	infos, err := p.DocumentInfos(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "doc123", infos[0].ID)

	assert.Equal(t, []attachment.Status{
		attachment.StatusQueued,
		attachment.StatusQueued,
		attachment.StatusUploading,
		attachment.StatusUploading,
		attachment.StatusParsing,
		attachment.StatusDone,
	}, rec.statuses(uids[0]))
}

// TestStatusNeverRegresses verifies late progress cannot move a file backwards.
func TestStatusNeverRegresses(t *testing.T) {
	docs := newFakeDocs()
	docs.results["a.pdf"] = []string{"d1"}
	rec := &recorder{}
	p := newPipeline(docs, attachment.WithPublisher(rec))

	uids, err := p.AddAll(context.Background(), pdf("a.pdf"))
	require.NoError(t, err)

	rank := map[attachment.Status]int{
		attachment.StatusQueued: 0, attachment.StatusUploading: 1, attachment.StatusParsing: 2,
		attachment.StatusDone: 3, attachment.StatusError: 3,
	}
	prev, prevPct := -1, -1
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, a := range rec.events {
		if a.UID != uids[0] {
			continue
		}
		assert.GreaterOrEqual(t, rank[a.Status], prev)
		assert.GreaterOrEqual(t, a.Percent, prevPct)
		prev, prevPct = rank[a.Status], a.Percent
	}
}

func TestUploadFailure_DoesNotBlockSubmit(t *testing.T) {
	docs := newFakeDocs()
	docs.codes["bad.pdf"] = 1
	docs.results["good.pdf"] = []string{"d1"}
	p := newPipeline(docs)

	uids, err := p.AddAll(context.Background(), pdf("bad.pdf"), pdf("good.pdf"))
	require.NoError(t, err)

	bad, _ := p.Get(uids[0])
	assert.Equal(t, attachment.StatusError, bad.Status)
	require.NotNil(t, bad.Response)
	assert.Equal(t, 1, bad.Response.Code)
	assert.Equal(t, ckerrors.CategoryAttachment, ckerrors.Categorize(bad.Err))

	assert.False(t, p.Uploading())
	h, err := p.Take()
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, h.DocumentIDs)
	assert.Empty(t, p.Snapshot())
}

func TestImageInline(t *testing.T) {
	docs := newFakeDocs()
	p := newPipeline(docs)

	uids, err := p.AddAll(context.Background(), attachment.File{Name: "cat.png", Content: strings.NewReader(pngHeader)})
	require.NoError(t, err)

	a, _ := p.Get(uids[0])
	assert.Equal(t, attachment.KindImage, a.Kind)
	assert.Equal(t, attachment.StatusDone, a.Status)
	require.NotNil(t, a.Inline)
	assert.True(t, strings.HasPrefix(a.Inline.Data, "data:image/png;base64,"))
	assert.Nil(t, a.DocumentIDs())
	assert.Empty(t, docs.uploads, "images never hit the network")

	imgs := p.Images()
	require.Len(t, imgs, 1)
	assert.Equal(t, "cat.png", imgs[0].Name)
}

// TestRemove_AfterID verifies removal deletes remotely once an id exists.
func TestRemove_AfterID(t *testing.T) {
	docs := newFakeDocs()
	docs.results["report.pdf"] = []string{"doc123"}
	p := newPipeline(docs)

	uids, err := p.AddAll(context.Background(), pdf("report.pdf"))
	require.NoError(t, err)
	require.NoError(t, p.Remove(context.Background(), uids[0]))

	assert.Equal(t, [][]string{{"doc123"}}, docs.deleted)
	assert.Empty(t, p.Snapshot())
}

func TestRemove_OwnerSurface(t *testing.T) {
	docs := newFakeDocs()
	docs.results["report.pdf"] = []string{"doc123", "doc124"}
	p := newPipeline(docs, attachment.WithSurface(attachment.Owner))

	uids, err := p.AddAll(context.Background(), pdf("report.pdf"))
	require.NoError(t, err)
	require.NoError(t, p.Remove(context.Background(), uids[0]))

	assert.Equal(t, []string{"doc123"}, docs.removed)
	assert.Empty(t, docs.deleted)
}

// TestRemove_BeforeID verifies a local purge and that the late result is ignored.
func TestRemove_BeforeID(t *testing.T) {
	docs := newFakeDocs()
	docs.gate = make(chan struct{})
	docs.results["slow.pdf"] = []string{"d9"}
	p := newPipeline(docs)

	uid := p.Add(context.Background(), pdf("slow.pdf"))
	assert.True(t, p.Uploading())
	require.NoError(t, p.Remove(context.Background(), uid))
	assert.Empty(t, p.Snapshot())

	close(docs.gate)
	p.Wait()
	assert.Empty(t, p.Snapshot())
	assert.Empty(t, docs.deleted)

	err := p.Remove(context.Background(), uid)
	assert.ErrorIs(t, err, attachment.ErrNotFound)
}

func TestSetConversation_DropsLateResults(t *testing.T) {
	docs := newFakeDocs()
	docs.gate = make(chan struct{})
	docs.results["a.pdf"] = []string{"d1"}
	p := newPipeline(docs)

	p.Add(context.Background(), pdf("a.pdf"))
	p.SetConversation("conv-2")
	assert.Empty(t, p.Snapshot())
	assert.False(t, p.Uploading())

	close(docs.gate)
	p.Wait()
	assert.Empty(t, p.Snapshot())
	assert.Empty(t, p.DocumentIDs())
	assert.Equal(t, "conv-2", p.ConversationID())
}

// TestSetConversation_PublishesRemovals verifies cleared attachments are
// announced as removed.
func TestSetConversation_PublishesRemovals(t *testing.T) {
	docs := newFakeDocs()
	docs.results["a.pdf"] = []string{"d1"}
	rec := &recorder{}
	p := newPipeline(docs, attachment.WithPublisher(rec))

	uids, err := p.AddAll(context.Background(), pdf("a.pdf"))
	require.NoError(t, err)
	p.SetConversation("conv-2")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.events)
	last := rec.events[len(rec.events)-1]
	assert.Equal(t, uids[0], last.UID)
	assert.Empty(t, last.Status)
}

func TestTake_BlockedWhileUploading(t *testing.T) {
	docs := newFakeDocs()
	docs.gate = make(chan struct{})
	p := newPipeline(docs)

	p.Add(context.Background(), pdf("a.pdf"))
	_, err := p.Take()
	assert.ErrorIs(t, err, attachment.ErrUploading)
	assert.Len(t, p.Snapshot(), 1)

	close(docs.gate)
	p.Wait()
	_, err = p.Take()
	assert.NoError(t, err)
}

func TestAddAll_BoundedConcurrency(t *testing.T) {
	docs := newFakeDocs()
	p := newPipeline(docs, attachment.WithConcurrency(2))

	docs.gate = make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		close(docs.gate)
	}()

	files := make([]attachment.File, 6)
	for i := range files {
		files[i] = pdf("f.pdf")
	}
	uids, err := p.AddAll(context.Background(), files...)
	require.NoError(t, err)
	assert.Len(t, uids, 6)
	assert.LessOrEqual(t, docs.maxActive.Load(), int32(2))
	assert.Len(t, docs.uploads, 6)
}

func TestAddAll_ContextCancelled(t *testing.T) {
	docs := newFakeDocs()
	docs.gate = make(chan struct{})
	p := newPipeline(docs, attachment.WithConcurrency(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	uids, err := p.AddAll(ctx, pdf("a.pdf"), pdf("b.pdf"))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	for _, uid := range uids {
		a, ok := p.Get(uid)
		require.True(t, ok)
		assert.Equal(t, attachment.StatusError, a.Status)
	}
	close(docs.gate)
}
