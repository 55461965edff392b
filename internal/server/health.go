package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/docchat-go/internal/logging"
)

// probeTimeout bounds each dependency probe of a readiness check.
const probeTimeout = 5 * time.Second

// Pinger is a dependency that can report its own reachability. Ping must be
// safe for concurrent use.
type Pinger interface {
	// Ping returns nil when the dependency answered within ctx.
	Ping(ctx context.Context) error
	// Name labels the dependency in readiness replies ("llm", "qdrant").
	Name() string
}

// readyCheck is one dependency's probe outcome.
type readyCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// readyResponse is the body of GET /api/ready. Checks keep registration order.
type readyResponse struct {
	Ready  bool         `json:"ready"`
	Checks []readyCheck `json:"checks"`
}

// probe runs one Pinger under its own timeout.
func probe(ctx context.Context, p Pinger) readyCheck {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	began := time.Now()
	err := p.Ping(ctx)
	c := readyCheck{Name: p.Name(), OK: err == nil, LatencyMS: time.Since(began).Milliseconds()}
	if err != nil {
		c.Error = err.Error()
	}
	return c
}

// handleReady handles GET /api/ready: all pingers are probed in parallel and
// the reply is 503 unless every one succeeds.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{Ready: true, Checks: make([]readyCheck, len(s.pingers))}

	var g errgroup.Group
	for i, p := range s.pingers {
		g.Go(func() error {
			resp.Checks[i] = probe(r.Context(), p)
			return nil
		})
	}
	_ = g.Wait()

	log := logging.FromContext(r.Context())
	for _, c := range resp.Checks {
		if c.OK {
			continue
		}
		resp.Ready = false
		log.Warn("readiness probe failed",
			slog.String("dependency", c.Name),
			slog.String("error", c.Error),
			slog.Int64("latency_ms", c.LatencyMS),
		)
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}
