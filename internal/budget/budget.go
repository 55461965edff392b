// Package budget bounds the chat history resent to the model in general chat
// mode. Backends tokenize differently, so sizes are estimated from character
// counts at roughly four characters per token.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken approximates English prose and code.
	charsPerToken = 4

	// messageOverhead is the per-message framing cost most chat APIs charge.
	messageOverhead = 4

	// DefaultMaxContextTokens fits 8k-context models with room left for the
	// reply. Override with MODEL_MAX_CONTEXT_TOKENS.
	DefaultMaxContextTokens = 6000

	// DefaultMaxTurns is the number of question/answer pairs kept. Override
	// with HISTORY_MAX_TURNS; 0 keeps every turn.
	DefaultMaxTurns = 20
)

// Policy bounds prior turns by count and by estimated tokens. A zero field
// disables that bound.
type Policy struct {
	// MaxTurns keeps at most this many of the most recent turns.
	MaxTurns int
	// MaxContextTokens is the estimated token budget for the whole request,
	// including the fixed messages.
	MaxContextTokens int
}

// DefaultPolicy returns the 20-turn, 6000-token policy.
func DefaultPolicy() Policy {
	return Policy{MaxTurns: DefaultMaxTurns, MaxContextTokens: DefaultMaxContextTokens}
}

// Apply returns the newest suffix of history allowed by p alongside the
// fixed messages, and how many messages it dropped.
func (p Policy) Apply(fixed, history []*schema.Message) ([]*schema.Message, int) {
	kept := LimitTurns(history, p.MaxTurns)
	if p.MaxContextTokens > 0 {
		kept = TrimHistory(fixed, kept, p.MaxContextTokens)
	}
	return kept, len(history) - len(kept)
}

// LimitTurns keeps the last maxTurns user/assistant pairs. maxTurns <= 0
// keeps everything.
func LimitTurns(history []*schema.Message, maxTurns int) []*schema.Message {
	if maxTurns <= 0 {
		return history
	}
	if keep := 2 * maxTurns; len(history) > keep {
		return openWithQuestion(history[len(history)-keep:])
	}
	return history
}

// TrimHistory keeps the longest newest suffix of history whose estimate,
// added to the fixed messages, fits maxTokens. Fixed messages are never
// dropped; when they alone exceed the budget the result is empty.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	room := maxTokens - EstimateMessages(fixed)
	start := len(history)
	for start > 0 {
		cost := messageTokens(history[start-1])
		if cost > room {
			break
		}
		room -= cost
		start--
	}
	if start == 0 {
		return history
	}
	return openWithQuestion(history[start:])
}

// openWithQuestion skips replies whose question was cut off.
func openWithQuestion(history []*schema.Message) []*schema.Message {
	i := 0
	for i < len(history) && history[i].Role == schema.Assistant {
		i++
	}
	return history[i:]
}

// Estimate returns the approximate token count of s. Non-empty text is never
// free.
func Estimate(s string) int {
	if s == "" {
		return 0
	}
	return max(1, len(s)/charsPerToken)
}

// EstimateMessages sums the estimate of every message, including role and
// framing overhead.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageTokens(m)
	}
	return total
}

func messageTokens(m *schema.Message) int {
	return messageOverhead + Estimate(string(m.Role)) + Estimate(m.Content)
}
