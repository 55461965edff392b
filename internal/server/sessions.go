package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/54b3r/docchat-go/internal/assistant"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/session"
)

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 1 << 20

// handleCreateSession handles POST /api/sessions.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Create(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, sessionResponse{ID: sess.ID()})
}

// handleGetSession handles GET /api/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	ready, source, chunks := sess.Status()
	writeJSON(w, r, http.StatusOK, sessionResponse{ID: sess.ID(), Ready: ready, Source: source, Chunks: chunks})
}

// handleDeleteSession handles DELETE /api/sessions/{id}: the clear operation.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleIngest handles POST /api/sessions/{id}/ingest with a server-local path.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req ingestRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	path, label, err := s.resolveIngestPath(req.Path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.ingest(w, r, sess, path, label, ingestSourcePath)
}

// handleUpload handles POST /api/sessions/{id}/upload. The multipart "file"
// part is written to a temporary directory, ingested, and removed again.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.writeError(w, r, err)
		return
	}
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "multipart field \"file\" is required"})
		return
	}
	defer file.Close() //nolint:errcheck // read-only

	name := filepath.Base(filepath.Clean("/" + header.Filename))
	if name == "/" || name == "." {
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "upload has no file name"})
		return
	}

	dir, err := os.MkdirTemp(s.cfg.UploadDir, "docchat-upload-*")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("server: upload temp dir: %w", err))
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logging.FromContext(r.Context()).Warn("upload: cleanup failed", slog.String("dir", dir), slog.Any("error", err))
		}
	}()

	dst := filepath.Join(dir, name)
	if err := saveUpload(dst, file); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.ingest(w, r, sess, dst, name, ingestSourceUpload)
}

// ingest builds the session index from path under IngestTimeout and replies
// with the build stats, reporting the corpus as label.
func (s *Server) ingest(w http.ResponseWriter, r *http.Request, sess *session.Session, path, label, source string) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.IngestTimeout)
	defer cancel()

	start := time.Now()
	stats, err := sess.IngestAs(ctx, path, label, progressLogger(ctx))
	s.metrics.observeIngest(source, outcome(ctx, err), time.Since(start))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ingestResponse{Source: label, Stats: stats})
}

// handleAsk handles POST /api/sessions/{id}/ask in either mode.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req askRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AskTimeout)
	defer cancel()

	start := time.Now()
	resp := askResponse{Mode: mode}
	switch mode {
	case session.ModeGeneral:
		resp.Answer, err = sess.AskGeneral(ctx, req.Question)
	default:
		var ans *assistant.Answer
		ans, err = sess.AskGrounded(ctx, req.Question)
		if err == nil {
			resp.Answer, resp.Context, resp.Sources = ans.Text, ans.Context, ans.Sources
		}
	}
	s.metrics.observeAsk(mode, outcome(ctx, err), time.Since(start))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleHistory handles GET /api/sessions/{id}/history?mode=.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	mode, err := session.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	turns := sess.History(mode)
	if turns == nil {
		turns = []assistant.Turn{}
	}
	writeJSON(w, r, http.StatusOK, historyResponse{Mode: mode, Turns: turns})
}

// handleClearHistory handles DELETE /api/sessions/{id}/history?mode=.
func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	mode, err := session.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := sess.ClearHistory(r.Context(), mode); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// lookup resolves the {id} path value, writing 404 when unknown.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return sess, true
}

// resolveIngestPath cleans p and, when IngestRoot is set, rejects paths that
// escape it once symlinks are followed. It returns the path to read and the
// absolute path to report.
func (s *Server) resolveIngestPath(p string) (path, label string, err error) {
	if strings.TrimSpace(p) == "" {
		return "", "", rag.Invalid("path is required")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", "", rag.Invalid("path %q: %v", p, err)
	}
	if s.cfg.IngestRoot == "" {
		return abs, abs, nil
	}
	root, err := filepath.Abs(s.cfg.IngestRoot)
	if err == nil {
		root, err = filepath.EvalSymlinks(root)
	}
	if err != nil {
		return "", "", fmt.Errorf("server: ingest root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", "", fmt.Errorf("server: ingest path: %w", err)
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", rag.Invalid("path %q is outside the ingest root", p)
	}
	return resolved, abs, nil
}

// saveUpload copies src to a new file at dst.
func saveUpload(dst string, src io.Reader) error {
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("server: create upload file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		return fmt.Errorf("server: write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("server: close upload: %w", err)
	}
	return nil
}

// progressLogger forwards pipeline progress to the request logger at DEBUG.
func progressLogger(ctx context.Context) func(string) {
	log := logging.FromContext(ctx)
	return func(msg string) { log.Debug("ingest: progress", slog.String("step", msg)) }
}

// statusFor maps an error to its HTTP status code.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rag.ErrEmptyIndex):
		return http.StatusConflict
	case errors.Is(err, rag.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, rag.ErrInvalidConfiguration),
		errors.Is(err, rag.ErrUnsupportedFormat),
		errors.Is(err, rag.ErrEmptyCorpus),
		errors.Is(err, fs.ErrNotExist):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// outcome labels a request result for metrics.
func outcome(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	}
	return "error"
}

// writeError logs err and writes it as a JSON error reply.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.Int("status", status), slog.Any("error", err))
	} else {
		log.Warn("request rejected", slog.Int("status", status), slog.Any("error", err))
	}
	writeJSON(w, r, status, errorResponse{Error: err.Error()})
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}
