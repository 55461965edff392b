package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePinger reports err from every probe.
type fakePinger struct {
	name string
	err  error
}

func (f *fakePinger) Name() string               { return f.name }
func (f *fakePinger) Ping(context.Context) error { return f.err }

// newReadyTestServer builds a *Server probing pingers.
func newReadyTestServer(t *testing.T, pingers ...Pinger) *Server {
	t.Helper()
	s := newTestServer(t)
	s.pingers = pingers
	return s
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	newTestServer(t).handleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHandleReady(t *testing.T) {
	t.Parallel()

	refused := errors.New("connection refused")
	tests := []struct {
		name       string
		pingers    []Pinger
		wantStatus int
		wantOK     map[string]bool
	}{
		{
			name:       "no pingers is liveness only",
			wantStatus: http.StatusOK,
			wantOK:     map[string]bool{},
		},
		{
			name:       "all healthy",
			pingers:    []Pinger{&fakePinger{name: "llm"}, &fakePinger{name: "qdrant"}},
			wantStatus: http.StatusOK,
			wantOK:     map[string]bool{"llm": true, "qdrant": true},
		},
		{
			name:       "one failing",
			pingers:    []Pinger{&fakePinger{name: "llm"}, &fakePinger{name: "qdrant", err: refused}},
			wantStatus: http.StatusServiceUnavailable,
			wantOK:     map[string]bool{"llm": true, "qdrant": false},
		},
		{
			name:       "all failing",
			pingers:    []Pinger{&fakePinger{name: "llm", err: errors.New("timeout")}, &fakePinger{name: "embedder-ollama", err: refused}},
			wantStatus: http.StatusServiceUnavailable,
			wantOK:     map[string]bool{"llm": false, "embedder-ollama": false},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			newReadyTestServer(t, tc.pingers...).handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

			require.Equal(t, tc.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp readyResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tc.wantStatus == http.StatusOK, resp.Ready)
			require.Len(t, resp.Checks, len(tc.wantOK))
			for _, c := range resp.Checks {
				assert.Equal(t, tc.wantOK[c.Name], c.OK, "check %s", c.Name)
				assert.Equal(t, c.OK, c.Error == "", "check %s error %q", c.Name, c.Error)
				assert.GreaterOrEqual(t, c.LatencyMS, int64(0))
			}
		})
	}
}

// slowPinger blocks until its context ends or delay passes.
type slowPinger struct {
	name  string
	delay time.Duration
}

func (p *slowPinger) Name() string { return p.name }
func (p *slowPinger) Ping(ctx context.Context) error {
	select {
	case <-time.After(p.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TestHandleReady_ProbesConcurrently verifies that probes overlap and that
// checks keep registration order regardless of completion order.
func TestHandleReady_ProbesConcurrently(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(t,
		&slowPinger{name: "llm", delay: 300 * time.Millisecond},
		&slowPinger{name: "embedder-ollama", delay: 300 * time.Millisecond},
		&slowPinger{name: "qdrant", delay: 10 * time.Millisecond},
	)
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()

	start := time.Now()
	s.handleReady(w, req)
	if elapsed := time.Since(start); elapsed > 550*time.Millisecond {
		t.Errorf("probes ran sequentially: took %v", elapsed)
	}

	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var names []string
	for _, c := range resp.Checks {
		names = append(names, c.Name)
	}
	if strings.Join(names, ",") != "llm,embedder-ollama,qdrant" {
		t.Errorf("check order: got %v", names)
	}
}

// fakeHealthCheck is a provider.HealthCheckConfig double.
type fakeHealthCheck struct{ err error }

func (f fakeHealthCheck) HealthCheck(context.Context) error { return f.err }

func TestLLMPinger_PrefersHealthCheck(t *testing.T) {
	t.Parallel()

	p := NewLLMPinger(nil, fakeHealthCheck{}, "openai")
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("healthy check: %v", err)
	}

	p = NewLLMPinger(nil, fakeHealthCheck{err: errors.New("401")}, "openai")
	err := p.Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "openai health check failed") {
		t.Fatalf("want wrapped health check error, got %v", err)
	}
}

// generateModel answers Generate with reply or err.
type generateModel struct {
	reply *schema.Message
	err   error
}

func (g generateModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return g.reply, g.err
}

func (generateModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestLLMPinger_GenerateFallback(t *testing.T) {
	t.Parallel()

	ok := NewLLMPinger(generateModel{reply: schema.AssistantMessage("pong", nil)}, nil, "bedrock")
	assert.Equal(t, "bedrock", ok.Name())
	assert.NoError(t, ok.Ping(context.Background()))

	boom := errors.New("throttled")
	assert.ErrorIs(t, NewLLMPinger(generateModel{err: boom}, nil, "bedrock").Ping(context.Background()), boom)
	assert.Error(t, NewLLMPinger(generateModel{}, nil, "gemini").Ping(context.Background()))
}

// pingEmbedder is an embedder with a Ping probe.
type pingEmbedder struct{ err error }

func (pingEmbedder) Embed(context.Context, []string) ([][]float32, error) { return nil, nil }
func (p pingEmbedder) Ping(context.Context) error                        { return p.err }

func TestEmbedderAndQdrantPingers(t *testing.T) {
	t.Parallel()

	down := errors.New("connection refused")
	e := NewEmbedderPinger(pingEmbedder{err: down}, "ollama")
	if e.Name() != "embedder-ollama" {
		t.Errorf("name: got %q", e.Name())
	}
	if err := e.Ping(context.Background()); !errors.Is(err, down) {
		t.Errorf("embedder ping: want %v, got %v", down, err)
	}

	q := NewQdrantPinger(pingEmbedder{err: down})
	if err := q.Ping(context.Background()); !errors.Is(err, down) {
		t.Errorf("qdrant ping: want %v, got %v", down, err)
	}
}
