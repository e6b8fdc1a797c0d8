package canvaskit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/canvaskit/pkg/canvaskit/api"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/attachment"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/canvas"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/config"
	ckerrors "github.com/randalmurphal/canvaskit/pkg/canvaskit/errors"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/event"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/observability"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/session"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/snapshot"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/stream"
)

// Client wires the backend client, the answer stream transport, the event
// bus and the snapshot store from one set of settings.
type Client struct {
	settings  config.Client
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	api       *api.HTTPClient
	transport *stream.Transport
	bus       *event.LocalBus
	snapshots snapshot.Store
	notifySub event.Subscription
}

// New validates settings and builds a Client.
func New(settings config.Client, opts ...Option) (*Client, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var metrics observability.MetricsRecorder = observability.NoopMetrics{}
	if cfg.metrics {
		metrics = observability.NewMetricsRecorder(cfg.meterProvider)
	}
	var spans observability.SpanManager = observability.NoopSpanManager{}
	if cfg.tracing {
		spans = observability.NewSpanManager(cfg.tracerProvider)
	}

	var store snapshot.Store
	switch settings.SnapshotDriver {
	case config.SnapshotSQLite:
		s, err := snapshot.NewSQLiteStore(settings.SnapshotPath)
		if err != nil {
			return nil, fmt.Errorf("open snapshot store: %w", err)
		}
		store = s
	default:
		store = snapshot.NewMemoryStore()
	}

	retry := ckerrors.DefaultRetryPolicy
	retry.MaxAttempts = settings.RetryAttempts
	apiOpts := []api.Option{
		api.WithToken(settings.Token),
		api.WithRequestTimeout(settings.RequestTimeout),
		api.WithRetryPolicy(retry),
		api.WithBreaker(settings.BreakerFailures, settings.BreakerCooldown),
		api.WithLogger(cfg.logger),
		api.WithMetrics(metrics),
		api.WithSpanManager(spans),
	}
	if cfg.httpClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(cfg.httpClient))
	}
	backend := api.NewHTTPClient(settings.BaseURL, apiOpts...)

	mode := stream.Cumulative
	if settings.StreamMode == config.StreamIncremental {
		mode = stream.Incremental
	}
	transport := stream.NewTransport(backend,
		stream.WithMode(mode),
		stream.WithIdleTimeout(settings.StreamIdleTimeout),
		stream.WithLogger(cfg.logger),
		stream.WithMetrics(metrics),
		stream.WithSpanManager(spans),
	)

	bus := event.NewBus(event.BusConfig{
		OnDrop: func(e event.Event, _ string) {
			if cfg.logger != nil {
				cfg.logger.Warn("event dropped", slog.String("type", e.Type), slog.String("source", e.Source))
			}
		},
	})

	c := &Client{
		settings:  settings,
		logger:    cfg.logger,
		metrics:   metrics,
		api:       backend,
		transport: transport,
		bus:       bus,
		snapshots: store,
	}
	c.notifySub = bus.Subscribe(c.relayFailure,
		event.TypeCanvasSaveFailed,
		event.TypeTurnChanged,
		event.TypeAttachmentChanged,
	)
	return c, nil
}

// NewFromFile loads settings from a YAML or JSON file and builds a Client.
func NewFromFile(path string, opts ...Option) (*Client, error) {
	cfg, err := config.FromFile(path)
	if err != nil {
		return nil, err
	}
	settings, err := config.ClientFrom(cfg)
	if err != nil {
		return nil, err
	}
	return New(settings, opts...)
}

// Events returns the bus every component publishes to.
func (c *Client) Events() event.Bus {
	return c.bus
}

// Snapshots returns the local store of saved graph versions.
func (c *Client) Snapshots() snapshot.Store {
	return c.snapshots
}

// Canvases returns the backend canvas service.
func (c *Client) Canvases() api.CanvasService {
	return c.api
}

// Documents returns the backend document service.
func (c *Client) Documents() api.DocumentService {
	return c.api
}

// ListCanvases lists the caller's canvases.
func (c *Client) ListCanvases(ctx context.Context) ([]api.Summary, error) {
	return c.api.ListCanvas(ctx)
}

// RemoveCanvases deletes canvases on the backend and their local snapshots.
func (c *Client) RemoveCanvases(ctx context.Context, ids ...string) error {
	if err := c.api.RemoveCanvas(ctx, ids); err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		errs = append(errs, c.snapshots.DeleteCanvas(id))
	}
	return errors.Join(errs...)
}

// OpenCanvas loads a canvas and returns its persister. A canvas the caller
// may not access opens read-only and a permission notification is published.
func (c *Client) OpenCanvas(ctx context.Context, id string) (*canvas.Persister, error) {
	e, err := canvas.Load(ctx, c.api, id)
	if err != nil {
		c.Notify(ctx, id, err)
		return nil, err
	}
	if e.ReadOnly() {
		c.Notify(ctx, id, &api.APIError{Op: "get_canvas", Code: api.CodePermission, Message: "no permission to edit this canvas"})
	}
	return c.persister(e)
}

// CreateCanvas stores a new canvas holding only a Begin node.
func (c *Client) CreateCanvas(ctx context.Context, title string) (*canvas.Persister, error) {
	e, err := canvas.Create(ctx, c.api, title)
	if err != nil {
		c.Notify(ctx, "", err)
		return nil, err
	}
	return c.persister(e)
}

func (c *Client) persister(e *canvas.Editor) (*canvas.Persister, error) {
	return canvas.NewPersister(c.api, e, c.transport,
		canvas.WithDebounce(c.settings.SaveDebounce),
		canvas.WithLogger(c.logger),
		canvas.WithMetrics(c.metrics),
		canvas.WithPublisher(c.bus),
		canvas.WithSnapshots(c.snapshots),
	)
}

// Notify publishes err as a user-visible notification.
func (c *Client) Notify(ctx context.Context, source string, err error) {
	if err == nil {
		return
	}
	_ = c.bus.Publish(ctx, event.New(event.TypeNotification, source, ckerrors.Notify(err)))
}

// relayFailure turns failed saves, turns and uploads into notifications.
func (c *Client) relayFailure(ctx context.Context, e event.Event) {
	switch e.Type {
	case event.TypeCanvasSaveFailed:
		if f, ok := event.Payload[canvas.SaveFailed](e); ok {
			c.Notify(ctx, f.CanvasID, f.Err)
		}
	case event.TypeTurnChanged:
		if f, ok := event.Payload[session.Failed](e); ok {
			c.Notify(ctx, e.Source, f.Reason)
		}
	case event.TypeAttachmentChanged:
		if a, ok := event.Payload[attachment.Attachment](e); ok && a.Status == attachment.StatusError {
			c.Notify(ctx, e.Source, a.Err)
		}
	}
}

// Close stops event delivery and closes the snapshot store.
func (c *Client) Close() error {
	c.notifySub.Unsubscribe()
	return errors.Join(c.bus.Close(), c.snapshots.Close())
}

func (c *Client) attachmentSurface() attachment.Surface {
	if c.settings.Surface == config.SurfaceOwner {
		return attachment.Owner
	}
	return attachment.Shared
}

// Chat is one conversation against a canvas: the turn state machine and
// the attachments queued for the next turn.
type Chat struct {
	Session     *session.Session
	Attachments *attachment.Pipeline
}

// NewChat starts a conversation on cv. Runs go through cv so the graph is
// saved before every turn.
func (c *Client) NewChat(cv *canvas.Persister, conversationID string) *Chat {
	pipeline := attachment.NewPipeline(c.api, conversationID,
		attachment.WithSurface(c.attachmentSurface()),
		attachment.WithConcurrency(c.settings.UploadConcurrency),
		attachment.WithLogger(c.logger),
		attachment.WithMetrics(c.metrics),
		attachment.WithPublisher(c.bus),
	)
	runner := session.RunnerFunc(func(ctx context.Context, p api.RunParams) (session.Deltas, error) {
		s, err := cv.Run(ctx, p)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	sess := session.New(runner, cv.Editor().ID(), conversationID,
		session.WithLogger(c.logger),
		session.WithPublisher(c.bus),
		session.WithAttachments(pipeline),
	)
	return &Chat{Session: sess, Attachments: pipeline}
}

// Close aborts the running turn and waits for in-flight uploads.
func (ch *Chat) Close() error {
	err := ch.Session.Close()
	ch.Attachments.Wait()
	return err
}
