package cmd

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/adapter"
	"github.com/pithecene-io/tether/cli/config"
)

// parseWithFlags runs parseAdapterConfig inside a real app so slice flags
// go through urfave's parsing.
func parseWithFlags(t *testing.T, cfg *config.Config, args ...string) (*adapterChoice, error) {
	t.Helper()
	var (
		ac  *adapterChoice
		err error
	)
	app := &cli.App{
		Name:   "test",
		Flags:  adapterFlags(),
		Writer: io.Discard,
		Action: func(c *cli.Context) error {
			ac, err = parseAdapterConfig(c, cfg)
			return nil
		},
	}
	if runErr := app.Run(append([]string{"test"}, args...)); runErr != nil {
		t.Fatalf("app.Run: %v", runErr)
	}
	return ac, err
}

func TestParseAdapterConfig_None(t *testing.T) {
	ac, err := parseWithFlags(t, nil)
	if err != nil || ac != nil {
		t.Fatalf("got %+v, %v; want nil, nil", ac, err)
	}
}

func TestParseAdapterConfig_WebhookFromFlags(t *testing.T) {
	ac, err := parseWithFlags(t, nil,
		"--adapter", "webhook",
		"--adapter-url", "https://hooks.example.com/tether",
		"--adapter-header", "Authorization=Bearer x=y",
		"--adapter-timeout", "2s",
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ac.adapterType != "webhook" || ac.url != "https://hooks.example.com/tether" {
		t.Errorf("unexpected choice: %+v", ac)
	}
	if ac.headers["Authorization"] != "Bearer x=y" {
		t.Errorf("header: got %v", ac.headers)
	}
	if ac.timeout != 2*time.Second || ac.retries != 3 {
		t.Errorf("timeout/retries: got %v/%d", ac.timeout, ac.retries)
	}
}

func TestParseAdapterConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"webhook missing url", []string{"--adapter", "webhook"}, "--adapter-url is required when --adapter=webhook"},
		{"redis missing url", []string{"--adapter", "redis"}, "--adapter-url is required when --adapter=redis"},
		{"unknown type", []string{"--adapter", "kafka", "--adapter-url", "x"}, `unknown adapter type "kafka"`},
		{"bad header", []string{"--adapter", "webhook", "--adapter-url", "u", "--adapter-header", "novalue"}, "invalid --adapter-header"},
		{"negative retries", []string{"--adapter", "webhook", "--adapter-url", "u", "--adapter-retries", "-1"}, "must be >= 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseWithFlags(t, nil, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestParseAdapterConfig_ConfigDefaults(t *testing.T) {
	retries := 5
	cfg := &config.Config{Adapter: config.AdapterConfig{
		Type:    "redis",
		URL:     "redis://config:6379",
		Channel: "from-config",
		Headers: map[string]string{"X-Source": "tether"},
		Retries: &retries,
	}}

	ac, err := parseWithFlags(t, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ac.url != "redis://config:6379" || ac.channel != "from-config" || ac.retries != 5 {
		t.Errorf("config defaults not applied: %+v", ac)
	}

	ac, err = parseWithFlags(t, cfg, "--adapter-url", "redis://cli:6379", "--adapter-retries", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ac.url != "redis://cli:6379" || ac.retries != 1 || ac.channel != "from-config" {
		t.Errorf("flags should override config: %+v", ac)
	}
	if ac.headers["X-Source"] != "tether" {
		t.Errorf("config headers not merged: %v", ac.headers)
	}
}

func TestBuildAdapter(t *testing.T) {
	for _, ac := range []*adapterChoice{
		{adapterType: "webhook", url: "https://hooks.example.com"},
		{adapterType: "redis", url: "redis://localhost:6379"},
	} {
		a, err := buildAdapter(ac)
		if err != nil {
			t.Fatalf("%s: %v", ac.adapterType, err)
		}
		_ = a.Close()
	}
	if _, err := buildAdapter(&adapterChoice{adapterType: "kafka"}); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestWatch_ForwardsToWebhook(t *testing.T) {
	var (
		mu        sync.Mutex
		envelopes []adapter.EventEnvelope
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env adapter.EventEnvelope
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &env); err != nil {
			t.Errorf("unmarshal: %v", err)
		}
		mu.Lock()
		envelopes = append(envelopes, env)
		mu.Unlock()
		if r.Header.Get("X-Token") != "abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	res := runApp(t, "watch", "--format", "json", "--count", "2",
		"--adapter", "webhook", "--adapter-url", ts.URL, "--adapter-header", "X-Token=abc",
		"--trigger", "burst", "--trigger-arg", `"tick"`, "--trigger-arg", "2",
		"emitter", "tick")
	res.assertCode(t, exitSuccess)

	mu.Lock()
	defer mu.Unlock()
	if len(envelopes) != 2 {
		t.Fatalf("expected 2 forwarded events, got %d", len(envelopes))
	}
	for i, env := range envelopes {
		if env.EventType != adapter.EventType || env.Event != "tick" || env.Seq != i+1 || env.Path != "emitter" {
			t.Errorf("envelope %d: %+v", i, env)
		}
		if env.SessionID == "" || env.Timestamp == "" {
			t.Errorf("envelope %d missing session or timestamp: %+v", i, env)
		}
	}
}

func TestWatch_ForwardingFailureDoesNotStopStream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	res := runApp(t, "--log-level", "warn", "watch", "--format", "json", "--count", "2",
		"--adapter", "webhook", "--adapter-url", ts.URL,
		"--trigger", "burst", "--trigger-arg", `"tick"`, "--trigger-arg", "2",
		"emitter", "tick")
	res.assertCode(t, exitSuccess)

	if events := decodeEvents(t, res.stdout); len(events) != 2 {
		t.Fatalf("expected 2 rendered events, got %d", len(events))
	}
	res.assertStderrContains(t, "event forwarding failed")
}
