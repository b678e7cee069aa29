package recognition

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func noSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestRecognizeSyncRetriesThenReturnsLastResponse(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("Content-Type") != "application/pdf" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get(pageRangeHeader) != "1-3" {
			t.Errorf("unexpected page range header %q", r.Header.Get(pageRangeHeader))
		}
		if r.URL.Query().Get("language") != "en" {
			t.Errorf("language query missing: %s", r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream busy"))
	}))
	defer srv.Close()

	var delays []time.Duration
	c := NewClient(Options{BaseURL: srv.URL, SyncPath: "/recognize", BaseDelay: time.Second, Sleep: noSleep(&delays)})

	resp, err := c.RecognizeSync(context.Background(), []byte("%PDF"), "1-3", "en")
	if err != nil {
		t.Fatalf("expected non-200 to be returned without error, got %v", err)
	}
	if resp.StatusCode != http.StatusBadGateway || string(resp.Body) != "upstream busy" {
		t.Fatalf("unexpected last response %d %q", resp.StatusCode, resp.Body)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Fatalf("expected linear backoff 1s,2s got %v", delays)
	}
}

func TestRecognizeSyncSucceedsOnRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(append([]byte("ok:"), body...))
	}))
	defer srv.Close()

	var delays []time.Duration
	c := NewClient(Options{BaseURL: srv.URL, Sleep: noSleep(&delays)})
	resp, err := c.RecognizeSync(context.Background(), []byte("doc"), "", "")
	if err != nil || !resp.OK() {
		t.Fatalf("expected success, got resp=%+v err=%v", resp, err)
	}
	if string(resp.Body) != "ok:doc" {
		t.Fatalf("unexpected body %q", resp.Body)
	}
	if len(delays) != 1 {
		t.Fatalf("expected one backoff, got %v", delays)
	}
}

func TestRecognizeSyncTransportFailureIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	var delays []time.Duration
	c := NewClient(Options{BaseURL: url, Sleep: noSleep(&delays)})
	if _, err := c.RecognizeSync(context.Background(), []byte("doc"), "", ""); err == nil {
		t.Fatalf("expected transport error")
	}
	if len(delays) != 2 {
		t.Fatalf("expected two backoffs before giving up, got %v", delays)
	}
}

func TestSubmitAsync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accept":
			w.Header().Set(operationLocationHeader, "/api/intelligentOcr/analyzeResults/abc123")
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, AsyncPath: "/accept"})
	if got := c.SubmitAsync(context.Background(), []byte("doc"), "1", ""); got != "/api/intelligentOcr/analyzeResults/abc123" {
		t.Fatalf("unexpected handle %q", got)
	}

	c = NewClient(Options{BaseURL: srv.URL, AsyncPath: "/sync-only"})
	if got := c.SubmitAsync(context.Background(), []byte("doc"), "1", ""); got != "" {
		t.Fatalf("non-202 must yield empty handle, got %q", got)
	}
}

func TestCheckStatus(t *testing.T) {
	bodies := map[string]string{
		"/jobs/running":   `{"status":"Running"}`,
		"/jobs/done":      `{"status":"Completed","result":{"pages":[1,2]}}`,
		"/jobs/failed":    `{"status":"error","error_message":"bad scan"}`,
		"/jobs/lowercase": `{"status":"completed","result":{}}`,
		"/jobs/garbage":   `not json`,
		"/jobs/empty":     `{"status":"Completed"}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(bodies[r.URL.Path]))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	ctx := context.Background()

	if out := c.CheckStatus(ctx, "/jobs/running"); out.State != StateRunning {
		t.Fatalf("expected running, got %+v", out)
	}
	out := c.CheckStatus(ctx, srv.URL+"/jobs/done")
	if out.State != StateCompleted || string(out.Result) != `{"pages":[1,2]}` {
		t.Fatalf("expected completed with result, got %+v", out)
	}
	if out := c.CheckStatus(ctx, "jobs/failed"); out.State != StateFailed || out.Message != "bad scan" {
		t.Fatalf("expected failed with message, got %+v", out)
	}
	if out := c.CheckStatus(ctx, "/jobs/lowercase"); out.State != StateUnrecognized {
		t.Fatalf("status matching must be case-sensitive, got %+v", out)
	}
	if out := c.CheckStatus(ctx, "/jobs/garbage"); out.State != StateFailed || out.Message == "" {
		t.Fatalf("expected failed on invalid JSON, got %+v", out)
	}
	if out := c.CheckStatus(ctx, "/jobs/empty"); out.State != StateFailed {
		t.Fatalf("completed without result must fail, got %+v", out)
	}

	legacy := NewClient(Options{BaseURL: srv.URL, Dialect: LegacyDialect})
	if out := legacy.CheckStatus(ctx, "/jobs/lowercase"); out.State != StateCompleted {
		t.Fatalf("legacy dialect should accept lowercase completed, got %+v", out)
	}
}

func TestCheckStatusTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(Options{BaseURL: url})
	out := c.CheckStatus(context.Background(), "/jobs/x")
	if out.State != StateFailed || out.Message == "" {
		t.Fatalf("expected failed outcome with message, got %+v", out)
	}
}
