package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Stream modes describe how the backend fills the answer field of a frame.
const (
	StreamCumulative  = "cumulative"
	StreamIncremental = "incremental"
)

// Document removal surfaces.
const (
	SurfaceShared = "shared"
	SurfaceOwner  = "owner"
)

// Snapshot drivers.
const (
	SnapshotMemory = "memory"
	SnapshotSQLite = "sqlite"
)

// Client holds the typed settings for one canvaskit client.
type Client struct {
	// BaseURL is the backend root, e.g. https://builder.example.com/v1.
	BaseURL string `validate:"required,url"`

	// Token is sent as the Authorization header when set.
	Token string

	// RequestTimeout bounds every non-stream request.
	RequestTimeout time.Duration `validate:"gt=0"`

	// StreamMode selects how answer frames are accumulated.
	StreamMode string `validate:"oneof=cumulative incremental"`

	// StreamIdleTimeout closes a stream that delivers no frame for this long.
	// Zero disables the timeout.
	StreamIdleTimeout time.Duration `validate:"gte=0"`

	// SaveDebounce is the quiet period before an edited canvas is saved.
	SaveDebounce time.Duration `validate:"gt=0"`

	// UploadConcurrency bounds parallel attachment uploads.
	UploadConcurrency int `validate:"min=1,max=32"`

	// Surface selects which document removal call is used.
	Surface string `validate:"oneof=shared owner"`

	// RetryAttempts applies to idempotent reads only.
	RetryAttempts int `validate:"min=1,max=10"`

	// BreakerFailures is the consecutive failure count that opens the breaker.
	BreakerFailures int `validate:"min=1"`

	// BreakerCooldown is how long the breaker stays open.
	BreakerCooldown time.Duration `validate:"gt=0"`

	// SnapshotDriver selects the local snapshot store.
	SnapshotDriver string `validate:"oneof=memory sqlite"`

	// SnapshotPath is the SQLite file, required for the sqlite driver.
	SnapshotPath string `validate:"required_if=SnapshotDriver sqlite"`
}

// DefaultSaveDebounce is the quiet period after an edit before a canvas
// is saved.
const DefaultSaveDebounce = 20 * time.Second

// DefaultClient returns settings with every optional value filled in.
func DefaultClient() Client {
	return Client{
		RequestTimeout:    30 * time.Second,
		StreamMode:        StreamCumulative,
		StreamIdleTimeout: 2 * time.Minute,
		SaveDebounce:      DefaultSaveDebounce,
		UploadConcurrency: 4,
		Surface:           SurfaceShared,
		RetryAttempts:     3,
		BreakerFailures:   5,
		BreakerCooldown:   30 * time.Second,
		SnapshotDriver:    SnapshotMemory,
	}
}

// ClientFrom reads Client settings from cfg over DefaultClient and validates them.
//
// Recognized keys: base_url, token, request_timeout, stream.mode,
// stream.idle_timeout, save_debounce, upload_concurrency, surface,
// retry_attempts, breaker.failures, breaker.cooldown, snapshot.driver,
// snapshot.path.
func ClientFrom(cfg Config) (Client, error) {
	d := DefaultClient()
	stream := cfg.Sub("stream")
	breaker := cfg.Sub("breaker")
	snapshot := cfg.Sub("snapshot")

	c := Client{
		BaseURL:           strings.TrimRight(cfg.String("base_url", d.BaseURL), "/"),
		Token:             cfg.String("token", d.Token),
		RequestTimeout:    cfg.Duration("request_timeout", d.RequestTimeout),
		StreamMode:        stream.String("mode", d.StreamMode),
		StreamIdleTimeout: stream.Duration("idle_timeout", d.StreamIdleTimeout),
		SaveDebounce:      cfg.Duration("save_debounce", d.SaveDebounce),
		UploadConcurrency: cfg.Int("upload_concurrency", d.UploadConcurrency),
		Surface:           cfg.String("surface", d.Surface),
		RetryAttempts:     cfg.Int("retry_attempts", d.RetryAttempts),
		BreakerFailures:   breaker.Int("failures", d.BreakerFailures),
		BreakerCooldown:   breaker.Duration("cooldown", d.BreakerCooldown),
		SnapshotDriver:    snapshot.String("driver", d.SnapshotDriver),
		SnapshotPath:      snapshot.String("path", d.SnapshotPath),
	}
	if err := c.Validate(); err != nil {
		return Client{}, err
	}
	return c, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the settings against their field constraints.
func (c Client) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid client config: %w", err)
	}
	return nil
}
