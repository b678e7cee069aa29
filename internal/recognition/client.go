// Package recognition talks to the external recognition (OCR/layout analysis)
// service, either synchronously or through an asynchronous submit and poll.
package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"recognition-orchestrator/internal/telemetry"
)

const (
	pageRangeHeader         = "X-Page-Index-Range"
	operationLocationHeader = "Operation-Location"
)

// Options configures a Client.
type Options struct {
	BaseURL       string
	SyncPath      string
	AsyncPath     string
	Dialect       Dialect
	SubmitTimeout time.Duration
	PollTimeout   time.Duration
	// MaxAttempts and BaseDelay drive the synchronous retry policy.
	MaxAttempts int
	BaseDelay   time.Duration
	HTTPClient  *http.Client
	Sleep       func(ctx context.Context, d time.Duration) error
	Logger      *slog.Logger
}

// Client issues recognition requests against one service endpoint.
type Client struct {
	opts   Options
	submit *http.Client
	poll   *http.Client
	log    *slog.Logger
}

// SyncResponse is the last HTTP response seen by RecognizeSync.
type SyncResponse struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the service answered 200.
func (r *SyncResponse) OK() bool { return r != nil && r.StatusCode == http.StatusOK }

// NewClient builds a client, filling defaults for anything left zero.
func NewClient(opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay == 0 {
		opts.BaseDelay = time.Second
	}
	if opts.SubmitTimeout == 0 {
		opts.SubmitTimeout = time.Hour
	}
	if opts.PollTimeout == 0 {
		opts.PollTimeout = 10 * time.Second
	}
	if opts.Dialect == nil {
		opts.Dialect = AsyncDialect
	}
	if opts.Sleep == nil {
		opts.Sleep = SleepContext
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	submit := *base
	submit.Timeout = opts.SubmitTimeout
	poll := *base
	poll.Timeout = opts.PollTimeout
	return &Client{opts: opts, submit: &submit, poll: &poll, log: opts.Logger}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) endpoint(path, language string) string {
	u := strings.TrimRight(c.opts.BaseURL, "/") + path
	if language != "" {
		u += "?language=" + url.QueryEscape(language)
	}
	return u
}

func (c *Client) post(ctx context.Context, target string, doc []byte, pageRange string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set(pageRangeHeader, pageRange)
	return c.submit.Do(req)
}

// RecognizeSync posts doc and waits for the final result. It makes up to
// MaxAttempts attempts, sleeping attempt*BaseDelay between them. When every
// attempt fails, a transport error is returned as an error while a non-200
// answer is returned as the last response with a nil error.
func (c *Client) RecognizeSync(ctx context.Context, doc []byte, pageRange, language string) (*SyncResponse, error) {
	target := c.endpoint(c.opts.SyncPath, language)
	var last *SyncResponse
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		last, lastErr = c.syncAttempt(ctx, target, doc, pageRange)
		if lastErr == nil && last.OK() {
			return last, nil
		}
		if lastErr != nil {
			c.log.Warn("Recognition request failed.", "attempt", attempt, "maxAttempts", c.opts.MaxAttempts, "error", lastErr)
		} else {
			c.log.Warn("Recognition returned non-200 status.", "attempt", attempt, "maxAttempts", c.opts.MaxAttempts, "statusCode", last.StatusCode)
		}
		if attempt == c.opts.MaxAttempts {
			break
		}
		telemetry.SyncRetries.Inc()
		if err := c.opts.Sleep(ctx, time.Duration(attempt)*c.opts.BaseDelay); err != nil {
			return nil, err
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("recognition failed after %d attempts: %w", c.opts.MaxAttempts, lastErr)
	}
	return last, nil
}

func (c *Client) syncAttempt(ctx context.Context, target string, doc []byte, pageRange string) (*SyncResponse, error) {
	resp, err := c.post(ctx, target, doc, pageRange)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &SyncResponse{StatusCode: resp.StatusCode, Body: body}, nil
}

// SubmitAsync posts doc for asynchronous analysis and returns the operation
// location identifying the job. Any failure yields an empty handle.
func (c *Client) SubmitAsync(ctx context.Context, doc []byte, pageRange, language string) string {
	resp, err := c.post(ctx, c.endpoint(c.opts.AsyncPath, language), doc, pageRange)
	if err != nil {
		c.log.Error("Async recognition submit failed.", "error", err)
		return ""
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		c.log.Error("Async recognition submit rejected.", "statusCode", resp.StatusCode)
		return ""
	}
	handle := resp.Header.Get(operationLocationHeader)
	if handle == "" {
		c.log.Error("Async recognition accepted without operation location.")
	}
	return handle
}

type pollBody struct {
	Status       *string         `json:"status"`
	Result       json.RawMessage `json:"result"`
	ErrorMessage string          `json:"error_message"`
}

// CheckStatus polls the job behind requestID once. Transport and decoding
// failures are reported as a Failed outcome.
func (c *Client) CheckStatus(ctx context.Context, requestID string) PollOutcome {
	telemetry.PollRequests.Inc()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pollURL(requestID), nil)
	if err != nil {
		return failed(fmt.Sprintf("request failed: %v", err))
	}
	resp, err := c.poll.Do(req)
	if err != nil {
		return failed(fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	var body pollBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return failed("invalid JSON in upstream response")
	}
	if body.Status == nil {
		return PollOutcome{State: StateUnrecognized, Message: "upstream response has no status"}
	}
	raw := *body.Status
	switch c.opts.Dialect.classify(raw) {
	case StateRunning:
		return PollOutcome{State: StateRunning, Raw: raw}
	case StateFailed:
		msg := body.ErrorMessage
		if msg == "" {
			msg = "recognition failed"
		}
		return PollOutcome{State: StateFailed, Raw: raw, Message: msg}
	case StateCompleted:
		if len(body.Result) == 0 {
			return PollOutcome{State: StateFailed, Raw: raw, Message: "completed response has no result"}
		}
		return PollOutcome{State: StateCompleted, Raw: raw, Result: body.Result}
	}
	return PollOutcome{State: StateUnrecognized, Raw: raw, Message: fmt.Sprintf("unexpected status: %s", raw)}
}

// pollURL resolves an operation location that may be absolute or relative
// to the service base URL.
func (c *Client) pollURL(requestID string) string {
	if strings.HasPrefix(requestID, "http://") || strings.HasPrefix(requestID, "https://") {
		return requestID
	}
	return strings.TrimRight(c.opts.BaseURL, "/") + "/" + strings.TrimLeft(requestID, "/")
}
