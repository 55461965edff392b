// Package assistant answers questions with a chat model, either grounded in
// retrieved document chunks or as free conversation carrying prior turns.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docchat-go/internal/budget"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/rag"
)

// Config holds the dependencies required to construct an Assistant.
type Config struct {
	// Client sends prompts to the chat model.
	Client *Client

	// Retriever fetches context chunks for grounded questions. May be nil
	// when only general chat is used.
	Retriever *rag.Retriever

	// History bounds the prior turns resent in general chat. The zero value
	// resends everything.
	History budget.Policy
}

// Answer is the result of a grounded question.
type Answer struct {
	// Text is the model's reply.
	Text string `json:"answer"`
	// Context is the rendered context block that was sent to the model.
	Context string `json:"context"`
	// Sources lists the distinct source paths behind Context.
	Sources []string `json:"sources"`
	// Chunks are the retrieved chunks in rank order.
	Chunks []rag.Chunk `json:"-"`
}

// Assistant renders prompts for both answer modes and calls the Client.
type Assistant struct {
	// client is the LLM client.
	client *Client
	// retriever is the optional grounded-mode retriever.
	retriever *rag.Retriever
	// history is the general-chat truncation policy.
	history budget.Policy
}

// New constructs an Assistant from the provided Config.
func New(cfg Config) (*Assistant, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("assistant: Client must not be nil")
	}
	return &Assistant{
		client:    cfg.Client,
		retriever: cfg.Retriever,
		history:   cfg.History,
	}, nil
}

// Retriever returns the grounded-mode retriever, or nil.
func (a *Assistant) Retriever() *rag.Retriever { return a.retriever }

// AskGrounded retrieves context for question from idx and asks the model to
// answer from that context only. The context is returned with the answer.
func (a *Assistant) AskGrounded(ctx context.Context, idx rag.Index, question string) (*Answer, error) {
	if err := checkQuestion(question); err != nil {
		return nil, err
	}
	if a.retriever == nil {
		return nil, fmt.Errorf("assistant: %w", rag.Invalid("no retriever configured"))
	}

	chunks, err := a.retriever.Retrieve(ctx, idx, question)
	if err != nil {
		return nil, fmt.Errorf("assistant: retrieval failed: %w", err)
	}
	docContext := rag.BuildContext(chunks)

	text, err := a.client.Complete(ctx, groundedSystemPrompt, []*schema.Message{renderGrounded(docContext, question)})
	if err != nil {
		return nil, fmt.Errorf("assistant: grounded answer failed: %w", err)
	}

	logging.FromContext(ctx).Debug("assistant: grounded answer",
		slog.Int("chunks", len(chunks)),
		slog.Int("context_chars", len(docContext)),
	)
	return &Answer{
		Text:    text,
		Context: docContext,
		Sources: rag.Sources(chunks),
		Chunks:  chunks,
	}, nil
}

// AskGeneral answers question as the next turn of a conversation. history is
// resent on every call, oldest first, after truncation by the history policy.
func (a *Assistant) AskGeneral(ctx context.Context, question string, history []Turn) (string, error) {
	if err := checkQuestion(question); err != nil {
		return "", err
	}

	current := schema.UserMessage(question)
	prior := historyMessages(history)
	fixed := []*schema.Message{schema.SystemMessage(generalSystemPrompt), current}

	prior, dropped := a.history.Apply(fixed, prior)
	if dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(prior)),
			slog.Int("max_turns", a.history.MaxTurns),
			slog.Int("max_tokens", a.history.MaxContextTokens),
		)
	}

	msgs := make([]*schema.Message, 0, len(prior)+1)
	msgs = append(msgs, prior...)
	msgs = append(msgs, current)

	text, err := a.client.Complete(ctx, generalSystemPrompt, msgs)
	if err != nil {
		return "", fmt.Errorf("assistant: general answer failed: %w", err)
	}
	return text, nil
}

// checkQuestion rejects blank questions before any network call.
func checkQuestion(question string) error {
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("assistant: %w", rag.Invalid("question must not be empty"))
	}
	return nil
}
