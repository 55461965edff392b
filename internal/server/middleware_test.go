package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docchat-go/internal/logging"
)

func TestRequestLogger(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		incoming  string
		status    int
		wantLevel string
		keepID    bool
	}{
		{name: "generated id", status: http.StatusOK, wantLevel: "INFO"},
		{name: "caller id kept", incoming: "trace-42", status: http.StatusCreated, wantLevel: "INFO", keepID: true},
		{name: "unprintable id replaced", incoming: "bad id\n", status: http.StatusOK, wantLevel: "INFO"},
		{name: "oversized id replaced", incoming: strings.Repeat("x", maxRequestIDLen+1), status: http.StatusOK, wantLevel: "INFO"},
		{name: "server error warns", status: http.StatusBadGateway, wantLevel: "WARN"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			var ctxID string
			h := requestLogger(log, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				logging.FromContext(r.Context()).Debug("inner")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte("hello"))
				ctxID = w.Header().Get(headerRequestID)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
			if tc.incoming != "" {
				req.Header.Set(headerRequestID, tc.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			id := rec.Header().Get(headerRequestID)
			require.NotEmpty(t, id)
			assert.Equal(t, id, ctxID)
			if tc.keepID {
				assert.Equal(t, tc.incoming, id)
			} else {
				_, err := uuid.Parse(id)
				assert.NoError(t, err, "request id %q", id)
			}

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			require.Len(t, lines, 2)
			var inner, done map[string]any
			require.NoError(t, json.Unmarshal([]byte(lines[0]), &inner))
			require.NoError(t, json.Unmarshal([]byte(lines[1]), &done))

			assert.Equal(t, id, inner["request_id"])
			assert.Equal(t, "request", done["msg"])
			assert.Equal(t, tc.wantLevel, done["level"])
			assert.EqualValues(t, tc.status, done["status"])
			assert.EqualValues(t, 5, done["bytes"])
			assert.Equal(t, "/api/health", done["path"])
		})
	}
}

func TestResponseWriter_FirstStatusWins(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}
	_, _ = rw.Write([]byte("ok"))
	rw.WriteHeader(http.StatusInternalServerError)

	assert.Equal(t, http.StatusOK, rw.status)
	assert.Equal(t, rec, rw.Unwrap())
}
