// Package session is the boundary every front end talks to. A Session owns
// one index handle and two chat histories (general and documents) and exposes
// the four operations: Ingest, AskGrounded, AskGeneral and Clear. A failed
// operation leaves the session exactly as it was.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/54b3r/docchat-go/internal/assistant"
	"github.com/54b3r/docchat-go/internal/ingestion"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/store"
)

// Mode selects the answer mode and the history it appends to.
type Mode string

const (
	// ModeGeneral is free conversation without retrieval.
	ModeGeneral Mode = "general"
	// ModeDocuments answers from the ingested documents.
	ModeDocuments Mode = "documents"
)

// ParseMode maps user input to a Mode. An empty string selects documents.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeGeneral:
		return ModeGeneral, nil
	case ModeDocuments, "":
		return ModeDocuments, nil
	}
	return "", fmt.Errorf("session: %w", rag.Invalid("unknown mode %q (want general or documents)", s))
}

// Builder turns a path into a complete index. Chunks record label in place
// of path as their source.
type Builder interface {
	BuildAs(ctx context.Context, path, label string, progress func(msg string)) (rag.Index, *ingestion.Stats, error)
}

// Asker answers questions in both modes.
type Asker interface {
	AskGrounded(ctx context.Context, idx rag.Index, question string) (*assistant.Answer, error)
	AskGeneral(ctx context.Context, question string, history []assistant.Turn) (string, error)
}

// Config holds the dependencies of a Session.
type Config struct {
	// ID identifies the session in logs and in the history store.
	ID string

	// Builder builds indexes for Ingest.
	Builder Builder

	// Asker answers questions.
	Asker Asker

	// Store persists histories. May be nil for in-memory only.
	Store store.HistoryStore

	// Index is an already built index to start from (e.g. a persisted Qdrant
	// collection). May be nil.
	Index rag.Index

	// Source describes Index for status output.
	Source string

	// OnClear runs after Clear discards the index, e.g. to drop persisted
	// index storage. May be nil.
	OnClear func(ctx context.Context) error
}

// handle is a reference-counted index. A retired handle is closed once its
// last in-flight query releases it.
type handle struct {
	idx     rag.Index
	source  string
	refs    int
	retired bool
}

// Session is safe for concurrent use. Ingests are serialised; questions run
// concurrently against a snapshot of the current index.
type Session struct {
	// ingestMu serialises Ingest calls.
	ingestMu sync.Mutex

	// persistMu orders history writes to the store against the clears that
	// bump a generation. Taken before mu.
	persistMu sync.Mutex

	// mu guards every field below.
	mu sync.Mutex
	// current is the published index, or nil.
	current *handle
	// histories holds completed turns per mode, oldest first.
	histories map[Mode][]assistant.Turn
	// gens advances whenever a mode's history is reset. A turn answered
	// under an older generation is dropped.
	gens map[Mode]uint64

	// Immutable after New.
	id      string
	builder Builder
	asker   Asker
	store   store.HistoryStore
	onClear func(ctx context.Context) error
}

// New constructs a Session, restoring persisted histories when a store is
// configured.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Asker == nil {
		return nil, fmt.Errorf("session: Asker must not be nil")
	}
	s := &Session{
		id:        cfg.ID,
		builder:   cfg.Builder,
		asker:     cfg.Asker,
		store:     cfg.Store,
		onClear:   cfg.OnClear,
		histories: make(map[Mode][]assistant.Turn, 2),
		gens:      make(map[Mode]uint64, 2),
	}
	if cfg.Index != nil {
		s.current = &handle{idx: cfg.Index, source: cfg.Source}
	}
	if s.store != nil {
		for _, mode := range []Mode{ModeGeneral, ModeDocuments} {
			turns, err := s.store.Recent(ctx, s.id, string(mode), 0)
			if err != nil {
				return nil, fmt.Errorf("session: restoring %s history: %w", mode, err)
			}
			for _, t := range turns {
				s.histories[mode] = append(s.histories[mode], assistant.Turn{Question: t.Question, Answer: t.Answer})
			}
		}
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Status reports whether an index is loaded and where it came from.
func (s *Session) Status() (ready bool, source string, chunks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return false, "", 0
	}
	return true, s.current.source, s.current.idx.Len()
}

// Ingest builds a new index from path and publishes it, replacing the
// previous one and clearing the documents history. On error the previous
// index and history are kept.
func (s *Session) Ingest(ctx context.Context, path string, progress func(msg string)) (*ingestion.Stats, error) {
	return s.IngestAs(ctx, path, path, progress)
}

// IngestAs is Ingest for content staged at path that users know as label,
// such as an upload in a temporary directory. Status and answer sources
// report label.
func (s *Session) IngestAs(ctx context.Context, path, label string, progress func(msg string)) (*ingestion.Stats, error) {
	if s.builder == nil {
		return nil, fmt.Errorf("session: %w", rag.Invalid("no index builder configured"))
	}
	if label == "" {
		label = path
	}
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	idx, stats, err := s.builder.BuildAs(ctx, path, label, progress)
	if err != nil {
		return nil, fmt.Errorf("session: ingest %s: %w", label, err)
	}

	s.persistMu.Lock()
	s.mu.Lock()
	old := s.current
	s.current = &handle{idx: idx, source: label}
	s.resetLocked(ModeDocuments)
	closeOld := s.retireLocked(old)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Clear(ctx, s.id, string(ModeDocuments)); err != nil {
			logging.FromContext(ctx).Warn("history: failed to clear documents history", slog.Any("error", err))
		}
	}
	s.persistMu.Unlock()

	closeIndex(ctx, closeOld)
	logging.FromContext(ctx).Info("session: index published",
		slog.String("session", s.id),
		slog.String("source", label),
		slog.Int("chunks", stats.Chunks),
	)
	return stats, nil
}

// AskGrounded answers question from the current index. Without an index it
// fails with rag.ErrEmptyIndex. The turn is recorded only on success.
func (s *Session) AskGrounded(ctx context.Context, question string) (*assistant.Answer, error) {
	h, gen := s.acquire()
	if h == nil {
		return nil, fmt.Errorf("session: no documents loaded: %w", rag.ErrEmptyIndex)
	}
	defer s.release(ctx, h)

	ans, err := s.asker.AskGrounded(ctx, h.idx, question)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	s.record(ctx, ModeDocuments, gen, assistant.Turn{Question: question, Answer: ans.Text})
	return ans, nil
}

// AskGeneral answers question as the next turn of the general conversation.
// The turn is recorded only on success.
func (s *Session) AskGeneral(ctx context.Context, question string) (string, error) {
	s.mu.Lock()
	history := append([]assistant.Turn(nil), s.histories[ModeGeneral]...)
	gen := s.gens[ModeGeneral]
	s.mu.Unlock()

	answer, err := s.asker.AskGeneral(ctx, question, history)
	if err != nil {
		return "", fmt.Errorf("session: %w", err)
	}
	s.record(ctx, ModeGeneral, gen, assistant.Turn{Question: question, Answer: answer})
	return answer, nil
}

// History returns a copy of the turns recorded for mode.
func (s *Session) History(mode Mode) []assistant.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]assistant.Turn(nil), s.histories[mode]...)
}

// ClearHistory forgets the turns of one mode.
func (s *Session) ClearHistory(ctx context.Context, mode Mode) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.mu.Lock()
	s.resetLocked(mode)
	s.mu.Unlock()
	if s.store != nil {
		if err := s.store.Clear(ctx, s.id, string(mode)); err != nil {
			return fmt.Errorf("session: %w", err)
		}
	}
	return nil
}

// Clear discards the index and both histories.
func (s *Session) Clear(ctx context.Context) error {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	s.persistMu.Lock()
	s.mu.Lock()
	closeOld := s.retireLocked(s.current)
	s.current = nil
	s.resetLocked(ModeGeneral)
	s.resetLocked(ModeDocuments)
	s.mu.Unlock()

	var errs []error
	if s.store != nil {
		if err := s.store.Clear(ctx, s.id, ""); err != nil {
			errs = append(errs, err)
		}
	}
	s.persistMu.Unlock()

	closeIndex(ctx, closeOld)
	if s.onClear != nil {
		if err := s.onClear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	return nil
}

// Close releases the index without touching persisted history.
func (s *Session) Close() error {
	s.mu.Lock()
	closeOld := s.retireLocked(s.current)
	s.current = nil
	s.mu.Unlock()
	if closeOld != nil {
		return closeOld.Close()
	}
	return nil
}

// acquire returns the current handle with its reference count raised, and
// the documents generation it belongs to.
func (s *Session) acquire() (*handle, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, 0
	}
	s.current.refs++
	return s.current, s.gens[ModeDocuments]
}

// release drops a reference and closes a retired index once unused.
func (s *Session) release(ctx context.Context, h *handle) {
	s.mu.Lock()
	h.refs--
	var idx rag.Index
	if h.retired && h.refs == 0 {
		idx = h.idx
	}
	s.mu.Unlock()
	closeIndex(ctx, idx)
}

// retireLocked marks h retired and returns its index when it can be closed
// immediately. s.mu must be held.
func (s *Session) retireLocked(h *handle) rag.Index {
	if h == nil {
		return nil
	}
	h.retired = true
	if h.refs == 0 {
		return h.idx
	}
	return nil
}

// resetLocked empties mode's history and starts a new generation. s.mu must
// be held.
func (s *Session) resetLocked(mode Mode) {
	s.histories[mode] = nil
	s.gens[mode]++
}

// record appends a completed turn in memory and, best effort, to the store.
// A turn from generation gen is dropped once mode has been reset since.
func (s *Session) record(ctx context.Context, mode Mode, gen uint64, turn assistant.Turn) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.mu.Lock()
	if s.gens[mode] != gen {
		s.mu.Unlock()
		logging.FromContext(ctx).Debug("session: dropping turn answered before history reset",
			slog.String("session", s.id), slog.String("mode", string(mode)))
		return
	}
	s.histories[mode] = append(s.histories[mode], turn)
	s.mu.Unlock()
	if s.store != nil {
		if err := s.store.Append(ctx, s.id, string(mode), store.Turn{Question: turn.Question, Answer: turn.Answer}); err != nil {
			logging.FromContext(ctx).Warn("history: failed to persist turn", slog.String("mode", string(mode)), slog.Any("error", err))
		}
	}
}

// closeIndex closes idx, logging failures.
func closeIndex(ctx context.Context, idx rag.Index) {
	if idx == nil {
		return
	}
	if err := idx.Close(); err != nil {
		logging.FromContext(ctx).Warn("session: closing index failed", slog.Any("error", err))
	}
}
