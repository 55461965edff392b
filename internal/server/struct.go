package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docchat-go/internal/assistant"
	"github.com/54b3r/docchat-go/internal/ingestion"
	"github.com/54b3r/docchat-go/internal/session"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// AskTimeout bounds a single question (default: 2m).
	AskTimeout time.Duration
	// IngestTimeout bounds a single ingest or upload (default: 15m).
	IngestTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all /api/sessions routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// IngestRoot, when set, confines POST .../ingest paths to this directory.
	IngestRoot string
	// UploadDir is the parent directory for upload temp dirs (default: os.TempDir()).
	UploadDir string
	// MaxUploadBytes caps an upload request body (default: 64 MiB).
	MaxUploadBytes int64
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer serves GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Server is the HTTP server that exposes sessions over a JSON API.
type Server struct {
	// sessions owns every live session.
	sessions *session.Manager
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors.
	metrics *serverMetrics
}

// sessionResponse is the JSON body for session create and status.
type sessionResponse struct {
	// ID is the session identifier used in every other route.
	ID string `json:"id"`
	// Ready is true once documents have been ingested.
	Ready bool `json:"ready"`
	// Source is the ingested path or uploaded file name.
	Source string `json:"source,omitempty"`
	// Chunks is the number of indexed chunks.
	Chunks int `json:"chunks"`
}

// ingestRequest is the JSON body for POST /api/sessions/{id}/ingest.
type ingestRequest struct {
	// Path is a server-local file or directory.
	Path string `json:"path"`
}

// ingestResponse is the JSON body returned by ingest and upload.
type ingestResponse struct {
	// Source is the ingested path or uploaded file name.
	Source string `json:"source"`
	*ingestion.Stats
}

// askRequest is the JSON body for POST /api/sessions/{id}/ask.
type askRequest struct {
	// Question is the user's question.
	Question string `json:"question"`
	// Mode is "documents" (default) or "general".
	Mode string `json:"mode"`
}

// askResponse is the JSON body returned by POST /api/sessions/{id}/ask.
type askResponse struct {
	// Mode is the mode that answered.
	Mode session.Mode `json:"mode"`
	// Answer is the model's reply.
	Answer string `json:"answer"`
	// Context is the retrieved context (documents mode only).
	Context string `json:"context,omitempty"`
	// Sources lists the documents behind Context.
	Sources []string `json:"sources,omitempty"`
}

// historyResponse is the JSON body for GET /api/sessions/{id}/history.
type historyResponse struct {
	// Mode is the history that was read.
	Mode session.Mode `json:"mode"`
	// Turns is the conversation, oldest first.
	Turns []assistant.Turn `json:"turns"`
}

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	// Error is a human-readable description.
	Error string `json:"error"`
}
