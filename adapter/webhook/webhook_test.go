package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/tether/adapter"
	"github.com/pithecene-io/tether/iox"
)

func TestMain(m *testing.M) {
	adapter.BaseBackoff = time.Millisecond
	m.Run()
}

func testEnvelope() *adapter.EventEnvelope {
	return &adapter.EventEnvelope{
		Protocol:  "0.2.0",
		EventType: adapter.EventType,
		SessionID: "sess-001",
		Path:      "emitter",
		Event:     "tick",
		Seq:       1,
		Args:      []any{"a", 1},
		Timestamp: "2026-10-18T12:00:00Z",
	}
}

func TestPublish_Success(t *testing.T) {
	var received adapter.EventEnvelope
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("unmarshal: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a, err := New(Config{URL: ts.URL})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(a)

	if err := a.Publish(t.Context(), testEnvelope()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if received.SessionID != "sess-001" || received.Event != "tick" || received.EventType != adapter.EventType {
		t.Errorf("unexpected envelope: %+v", received)
	}
	if len(received.Args) != 2 || received.Args[0] != "a" {
		t.Errorf("args: got %v", received.Args)
	}
}

func TestPublish_CustomHeaders(t *testing.T) {
	var authHeader atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a, err := New(Config{
		URL:     ts.URL,
		Headers: map[string]string{"Authorization": "Bearer test-token"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(a)

	if err := a.Publish(t.Context(), testEnvelope()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := authHeader.Load(); got != "Bearer test-token" {
		t.Errorf("expected Bearer test-token, got %v", got)
	}
}

func TestPublish_StatusHandling(t *testing.T) {
	tests := []struct {
		code         int
		retries      int
		wantErr      bool
		wantAttempts int32
	}{
		{200, 0, false, 1},
		{201, 0, false, 1},
		{204, 0, false, 1},
		{400, 3, true, 1},
		{404, 3, true, 1},
		{500, 2, true, 3},
		{503, 2, true, 3},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			var attempts atomic.Int32
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				attempts.Add(1)
				w.WriteHeader(tt.code)
			}))
			defer ts.Close()

			a, err := New(Config{URL: ts.URL, Retries: tt.retries, Timeout: 5 * time.Second})
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			defer iox.DiscardClose(a)

			err = a.Publish(t.Context(), testEnvelope())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Publish error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := attempts.Load(); got != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", got, tt.wantAttempts)
			}
		})
	}
}

func TestPublish_RecoversAfterServerErrors(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a, err := New(Config{URL: ts.URL, Retries: 3})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(a)

	if err := a.Publish(t.Context(), testEnvelope()); err != nil {
		t.Fatalf("publish should succeed after retries: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestPublish_ContextCanceled(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()
	defer close(release)

	a, err := New(Config{URL: ts.URL, Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(a)

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	if err := a.Publish(ctx, testEnvelope()); err == nil {
		t.Fatal("expected error on canceled context")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty URL")
	}
	if _, err := New(Config{URL: "http://example.com", Retries: -1}); err == nil {
		t.Error("expected error for negative retries")
	}
	a, err := New(Config{URL: "http://example.com"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if a.config.Timeout != DefaultTimeout {
		t.Errorf("expected default timeout %v, got %v", DefaultTimeout, a.config.Timeout)
	}
}
