package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docchat-go/internal/assistant"
	"github.com/54b3r/docchat-go/internal/ingestion"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/session"
)

// stubIndex is a built index of n chunks.
type stubIndex struct{ n int }

func (s stubIndex) Query(context.Context, []float32, rag.QueryOptions) ([]rag.Chunk, error) {
	return nil, nil
}
func (s stubIndex) Len() int     { return s.n }
func (s stubIndex) Close() error { return nil }

// recordingBuilder reads the file it is handed, so uploads can be checked
// after the handler has removed the temp dir.
type recordingBuilder struct {
	mu       sync.Mutex
	paths    []string
	labels   []string
	contents []string
}

func (b *recordingBuilder) BuildAs(_ context.Context, path, label string, _ func(string)) (rag.Index, *ingestion.Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("ingestion: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, fmt.Errorf("ingestion: %w", rag.ErrEmptyCorpus)
	}
	b.mu.Lock()
	b.paths = append(b.paths, path)
	b.labels = append(b.labels, label)
	b.contents = append(b.contents, string(data))
	b.mu.Unlock()
	return stubIndex{n: 3}, &ingestion.Stats{Files: 1, Documents: 1, Chunks: 3}, nil
}

// echoAsker answers deterministically or fails with err.
type echoAsker struct {
	err error
}

func (a *echoAsker) AskGrounded(_ context.Context, _ rag.Index, q string) (*assistant.Answer, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &assistant.Answer{Text: "doc:" + q, Context: "ctx", Sources: []string{"policy.txt"}}, nil
}

func (a *echoAsker) AskGeneral(_ context.Context, q string, history []assistant.Turn) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return fmt.Sprintf("gen:%s:%d", q, len(history)), nil
}

// testEnv bundles a Server with its fakes.
type testEnv struct {
	srv     *Server
	builder *recordingBuilder
	asker   *echoAsker
	reg     *prometheus.Registry
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	env := &testEnv{
		builder: &recordingBuilder{},
		asker:   &echoAsker{},
		reg:     prometheus.NewRegistry(),
	}
	mgr := session.NewManager(func(ctx context.Context, id string) (*session.Session, error) {
		return session.New(ctx, session.Config{ID: id, Builder: env.builder, Asker: env.asker})
	})
	cfg := &Config{
		Logger:          logging.Discard(),
		MetricsRegistry: env.reg,
		MetricsGatherer: env.reg,
		RateLimit:       1000,
		RateBurst:       1000,
		UploadDir:       t.TempDir(),
	}
	if mutate != nil {
		mutate(cfg)
	}
	s, err := New(mgr, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close(context.Background()) })
	env.srv = s
	return env
}

// newTestServer returns a Server with fake dependencies.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestEnv(t, nil).srv
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp sessionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func writeCorpus(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	id := env.createSession(t)

	w := env.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status sessionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.False(t, status.Ready)

	// Grounded questions need documents first.
	w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/ask", askRequest{Question: "what is covered?"})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	path := writeCorpus(t, t.TempDir(), "policy.txt", "The warranty covers defects.")
	w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/ingest", ingestRequest{Path: path})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ing map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ing))
	assert.Equal(t, path, ing["source"])
	assert.EqualValues(t, 3, ing["chunks"])
	assert.Equal(t, 1.0, testutil.ToFloat64(env.srv.metrics.ingestTotal.WithLabelValues(ingestSourcePath, "ok")))

	w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/ask", askRequest{Question: "what is covered?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ans askResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ans))
	assert.Equal(t, session.ModeDocuments, ans.Mode)
	assert.Equal(t, "doc:what is covered?", ans.Answer)
	assert.Equal(t, "ctx", ans.Context)
	assert.Equal(t, []string{"policy.txt"}, ans.Sources)

	w = env.do(t, http.MethodGet, "/api/sessions/"+id+"/history?mode=documents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hist historyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&hist))
	require.Len(t, hist.Turns, 1)
	assert.Equal(t, "what is covered?", hist.Turns[0].Question)

	w = env.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAsk_GeneralModeCarriesHistory(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	id := env.createSession(t)

	for i, want := range []string{"gen:hi:0", "gen:again:1"} {
		q := []string{"hi", "again"}[i]
		w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/ask", askRequest{Question: q, Mode: "general"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var ans askResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&ans))
		assert.Equal(t, want, ans.Answer)
		assert.Empty(t, ans.Context)
	}

	w := env.do(t, http.MethodDelete, "/api/sessions/"+id+"/history?mode=general", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/ask", askRequest{Question: "fresh", Mode: "general"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gen:fresh:0")
}

func TestAsk_ErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		askerErr error
		req      any
		wantCode int
	}{
		{"unknown mode", nil, askRequest{Question: "q", Mode: "poetry"}, http.StatusBadRequest},
		{"malformed body", nil, "not an object", http.StatusBadRequest},
		{"blank question", rag.Invalid("question is empty"), askRequest{Question: " ", Mode: "general"}, http.StatusBadRequest},
		{"upstream failure", rag.Upstream("llm", io.ErrUnexpectedEOF), askRequest{Question: "q", Mode: "general"}, http.StatusBadGateway},
		{"deadline", context.DeadlineExceeded, askRequest{Question: "q", Mode: "general"}, http.StatusGatewayTimeout},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, nil)
			env.asker.err = tc.askerErr
			id := env.createSession(t)

			w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/ask", tc.req)
			assert.Equal(t, tc.wantCode, w.Code, w.Body.String())
			var er errorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&er))
			assert.NotEmpty(t, er.Error)
		})
	}
}

func TestUnknownSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	for _, rt := range []struct{ method, path string }{
		{http.MethodGet, "/api/sessions/missing"},
		{http.MethodDelete, "/api/sessions/missing"},
		{http.MethodPost, "/api/sessions/missing/ask"},
		{http.MethodGet, "/api/sessions/missing/history"},
	} {
		w := env.do(t, rt.method, rt.path, askRequest{Question: "q"})
		assert.Equal(t, http.StatusNotFound, w.Code, "%s %s", rt.method, rt.path)
	}
}

func TestIngest_RootConfinement(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	env := newTestEnv(t, func(c *Config) { c.IngestRoot = root })
	id := env.createSession(t)

	inside := writeCorpus(t, root, "inside.txt", "allowed content")
	outside := writeCorpus(t, t.TempDir(), "outside.txt", "secret content")

	w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/ingest", ingestRequest{Path: outside})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/ingest", ingestRequest{Path: filepath.Join(root, "..", filepath.Base(filepath.Dir(outside)), "outside.txt")})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/ingest", ingestRequest{Path: inside})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"allowed content"}, env.builder.contents)
}

func TestIngest_SymlinkOutsideRoot(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	env := newTestEnv(t, func(c *Config) { c.IngestRoot = root })
	id := env.createSession(t)

	outside := writeCorpus(t, t.TempDir(), "secret.txt", "secret content")
	link := filepath.Join(root, "shortcut.txt")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Dir(outside), filepath.Join(root, "folder")))

	w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/ingest", ingestRequest{Path: link})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/ingest", ingestRequest{Path: filepath.Join(root, "folder")})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/ingest", ingestRequest{Path: filepath.Join(root, "missing.txt")})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Empty(t, env.builder.paths)

	inner := writeCorpus(t, root, "real.txt", "allowed content")
	require.NoError(t, os.Symlink(inner, filepath.Join(root, "alias.txt")))
	w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/ingest", ingestRequest{Path: filepath.Join(root, "alias.txt")})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"allowed content"}, env.builder.contents)
}

func TestIngest_BadInput(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	id := env.createSession(t)

	w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/ingest", ingestRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/ingest", ingestRequest{Path: filepath.Join(t.TempDir(), "nope.txt")})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	empty := writeCorpus(t, t.TempDir(), "empty.txt", "   ")
	w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/ingest", ingestRequest{Path: empty})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	// A failed ingest leaves the session without documents.
	w = env.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	assert.Contains(t, w.Body.String(), `"ready":false`)
}

func uploadRequest(t *testing.T, path, field, name, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	id := env.createSession(t)

	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, uploadRequest(t, "/api/sessions/"+id+"/upload", "file", "../../etc/manual.txt", "uploaded manual"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "manual.txt", resp["source"])

	require.Len(t, env.builder.paths, 1)
	assert.Equal(t, "uploaded manual", env.builder.contents[0])
	assert.Equal(t, "manual.txt", filepath.Base(env.builder.paths[0]))
	assert.True(t, strings.HasPrefix(env.builder.paths[0], env.srv.cfg.UploadDir), "upload written outside UploadDir")

	_, err := os.Stat(filepath.Dir(env.builder.paths[0]))
	assert.True(t, os.IsNotExist(err), "upload temp dir not removed")

	assert.Equal(t, []string{"manual.txt"}, env.builder.labels)
	w = env.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status sessionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "manual.txt", status.Source)
}

func TestUpload_Rejections(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(c *Config) { c.MaxUploadBytes = 1024 })
	id := env.createSession(t)

	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, uploadRequest(t, "/api/sessions/"+id+"/upload", "document", "a.txt", "x"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, uploadRequest(t, "/api/sessions/"+id+"/upload", "file", "big.txt", strings.Repeat("x", 4096)))
	assert.Contains(t, []int{http.StatusBadRequest, http.StatusRequestEntityTooLarge}, w.Code)
	assert.Empty(t, env.builder.paths)
}

func TestAuth_GuardsSessionRoutesOnly(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(c *Config) { c.APIKey = "s3cret" })

	w := env.do(t, http.MethodPost, "/api/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{session.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", rag.ErrEmptyIndex), http.StatusConflict},
		{rag.Upstream("embedder", io.EOF), http.StatusBadGateway},
		{fmt.Errorf("x: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{rag.ErrUnsupportedFormat, http.StatusBadRequest},
		{rag.ErrEmptyCorpus, http.StatusBadRequest},
		{os.ErrNotExist, http.StatusBadRequest},
		{io.ErrClosedPipe, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, statusFor(tc.err), "%v", tc.err)
	}
}

func TestAskMetrics(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	id := env.createSession(t)

	env.do(t, http.MethodPost, "/api/sessions/"+id+"/ask", askRequest{Question: "q", Mode: "general"})
	env.do(t, http.MethodPost, "/api/sessions/"+id+"/ask", askRequest{Question: "q"})

	assert.Equal(t, 1.0, testutil.ToFloat64(env.srv.metrics.askTotal.WithLabelValues("general", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.srv.metrics.askTotal.WithLabelValues("documents", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.srv.metrics.httpTotal.WithLabelValues("POST", "POST /api/sessions/{id}/ask", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.srv.metrics.httpTotal.WithLabelValues("POST", "POST /api/sessions/{id}/ask", "409")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.srv.metrics.httpTotal.WithLabelValues("POST", "POST /api/sessions", "201")))

	env.do(t, http.MethodGet, "/nowhere", nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.srv.metrics.httpTotal.WithLabelValues("GET", "unmatched", "404")))
}
