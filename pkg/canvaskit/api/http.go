package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	ckerrors "github.com/randalmurphal/canvaskit/pkg/canvaskit/errors"
)

// Backend routes, relative to the base URL.
const (
	pathCanvasGet      = "/canvas/get/"
	pathCanvasSet      = "/canvas/set"
	pathCanvasRemove   = "/canvas/rm"
	pathCanvasList     = "/canvas/list"
	pathCanvasReset    = "/canvas/reset"
	pathCanvasRun      = "/canvas/completion"
	pathDocumentUpload = "/document/upload_and_parse"
	pathDocumentDelete = "/document/delete"
	pathDocumentRemove = "/document/rm"
	pathDocumentInfos  = "/document/infos"
)

// HTTPClient implements CanvasService and DocumentService over HTTP.
// Calls share one circuit breaker; only transport failures count against
// it, since a non-success envelope is a healthy backend answering.
type HTTPClient struct {
	baseURL string
	cfg     clientConfig
	breaker *gobreaker.CircuitBreaker
}

var (
	_ CanvasService   = (*HTTPClient)(nil)
	_ DocumentService = (*HTTPClient)(nil)
)

// NewHTTPClient creates a client for the backend rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), cfg: cfg}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "canvaskit-backend",
		Timeout: cfg.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if cfg.logger != nil {
				cfg.logger.Warn("circuit breaker state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			}
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			return err == nil || errors.As(err, &apiErr) || errors.Is(err, context.Canceled)
		},
	})
	return c
}

// GetCanvas fetches one canvas.
func (c *HTTPClient) GetCanvas(ctx context.Context, id string) (*Canvas, error) {
	var out Canvas
	err := c.read(ctx, "get_canvas", http.MethodGet, pathCanvasGet+url.PathEscape(id), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetCanvas creates or updates a canvas.
func (c *HTTPClient) SetCanvas(ctx context.Context, p SetCanvasParams) (*Canvas, error) {
	var out Canvas
	if err := c.write(ctx, "set_canvas", pathCanvasSet, p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveCanvas deletes canvases owned by the caller.
func (c *HTTPClient) RemoveCanvas(ctx context.Context, ids []string) error {
	return c.write(ctx, "remove_canvas", pathCanvasRemove, map[string]any{"canvas_ids": ids}, nil)
}

// ListCanvas lists the caller's canvases.
func (c *HTTPClient) ListCanvas(ctx context.Context) ([]Summary, error) {
	var out []Summary
	if err := c.read(ctx, "list_canvas", http.MethodGet, pathCanvasList, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ResetCanvas clears runtime payloads server-side.
func (c *HTTPClient) ResetCanvas(ctx context.Context, id string) (*Canvas, error) {
	var dsl json.RawMessage
	if err := c.write(ctx, "reset_canvas", pathCanvasReset, map[string]any{"id": id}, &dsl); err != nil {
		return nil, err
	}
	return &Canvas{ID: id, DSL: dsl}, nil
}

// RunCanvas opens a streamed run. A JSON reply instead of an event stream
// is decoded as an envelope and returned as an error.
func (c *HTTPClient) RunCanvas(ctx context.Context, p RunParams) (io.ReadCloser, error) {
	p.Stream = true
	ctx, span := c.cfg.spans.StartRequestSpan(ctx, "run_canvas", pathCanvasRun)
	start := time.Now()

	body, err := breakerExec(c.breaker, func() (io.ReadCloser, error) {
		req, err := c.newJSONRequest(ctx, http.MethodPost, pathCanvasRun, p)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/event-stream")
		resp, err := c.cfg.httpClient.Do(req)
		if err != nil {
			return nil, ckerrors.Transport(err, "run_canvas")
		}
		if err := checkStatus(resp, pathCanvasRun); err != nil {
			return nil, err
		}
		mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		if mt == "application/json" {
			defer resp.Body.Close()
			return nil, decodeEnvelope(resp.Body, "run_canvas", nil)
		}
		return resp.Body, nil
	})

	c.cfg.metrics.RecordRequest(ctx, "run_canvas", time.Since(start), err)
	c.cfg.spans.EndSpanWithError(span, err)
	return body, err
}

// read performs an idempotent call, retrying transient failures.
func (c *HTTPClient) read(ctx context.Context, op, method, path string, in, out any) error {
	ctx, span := c.cfg.spans.StartRequestSpan(ctx, op, path)
	start := time.Now()

	res := ckerrors.Retry(ctx, c.cfg.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.roundTrip(ctx, op, method, path, in, out)
	})
	err := res.Err
	if res.Attempts > 1 {
		c.cfg.spans.AddSpanEvent(ctx, "retried")
	}
	if err != nil {
		err = unwrapAttempt(err)
	}

	c.cfg.metrics.RecordRequest(ctx, op, time.Since(start), err)
	c.cfg.spans.EndSpanWithError(span, err)
	return err
}

// write performs a single non-idempotent POST.
func (c *HTTPClient) write(ctx context.Context, op, path string, in, out any) error {
	ctx, span := c.cfg.spans.StartRequestSpan(ctx, op, path)
	start := time.Now()

	err := c.roundTrip(ctx, op, http.MethodPost, path, in, out)

	c.cfg.metrics.RecordRequest(ctx, op, time.Since(start), err)
	c.cfg.spans.EndSpanWithError(span, err)
	return err
}

// unwrapAttempt strips the retry wrapper from envelope failures so callers
// see the *APIError directly.
func unwrapAttempt(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return err
}

func (c *HTTPClient) roundTrip(ctx context.Context, op, method, path string, in, out any) error {
	if c.cfg.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.requestTimeout)
		defer cancel()
	}
	_, err := breakerExec(c.breaker, func() (struct{}, error) {
		req, err := c.newJSONRequest(ctx, method, path, in)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, c.send(req, op, path, out)
	})
	return err
}

func (c *HTTPClient) send(req *http.Request, op, path string, out any) error {
	resp, err := c.cfg.httpClient.Do(req)
	if err != nil {
		return ckerrors.Transport(err, op)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, path); err != nil {
		return err
	}
	return decodeEnvelope(resp.Body, op, out)
}

// breakerExec runs fn through the circuit breaker. Open and half-open
// rejections surface as transport errors.
func breakerExec[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	v, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, ckerrors.Transport(err, "circuit breaker")
		}
		return zero, err
	}
	return v.(T), nil
}

func (c *HTTPClient) newJSONRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)
	return req, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.cfg.token != "" {
		req.Header.Set("Authorization", c.cfg.token)
	}
}

func checkStatus(resp *http.Response, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	resp.Body.Close()
	return &ckerrors.HTTPError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(msg)),
		Endpoint:   path,
	}
}

// decodeEnvelope reads a Response and unmarshals its data into out.
func decodeEnvelope(r io.Reader, op string, out any) error {
	var env Response[json.RawMessage]
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return ckerrors.Transport(fmt.Errorf("decode response: %w", err), op)
	}
	if err := env.Err(op); err != nil {
		return err
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return ckerrors.Transport(fmt.Errorf("decode %s data: %w", op, err), op)
	}
	return nil
}
