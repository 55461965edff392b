package budget

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// conversation builds n question/answer pairs with distinct contents.
func conversation(n int) []*schema.Message {
	msgs := make([]*schema.Message, 0, 2*n)
	for i := range n {
		msgs = append(msgs,
			schema.UserMessage("q"+strings.Repeat("?", i)),
			schema.AssistantMessage("a"+strings.Repeat("!", i), nil),
		)
	}
	return msgs
}

func TestEstimate(t *testing.T) {
	t.Parallel()
	tests := map[string]int{
		"":                      0,
		"x":                     1,
		"four":                  1,
		"seven!!":               1,
		"eight!!!":              2,
		strings.Repeat("z", 40): 10,
	}
	for in, want := range tests {
		assert.Equal(t, want, Estimate(in), "Estimate(%q)", in)
	}
}

func TestEstimateMessages(t *testing.T) {
	t.Parallel()
	// overhead 4 + "system" 1 + "be brief" 2
	sys := schema.SystemMessage("be brief")
	assert.Equal(t, 7, EstimateMessages([]*schema.Message{sys}))
	assert.Equal(t, 14, EstimateMessages([]*schema.Message{sys, sys}))
	assert.Zero(t, EstimateMessages(nil))
}

func TestLimitTurns(t *testing.T) {
	t.Parallel()
	history := conversation(4)

	tests := []struct {
		name     string
		maxTurns int
		want     int
	}{
		{name: "unlimited", maxTurns: 0, want: 8},
		{name: "negative", maxTurns: -3, want: 8},
		{name: "exact", maxTurns: 4, want: 8},
		{name: "above", maxTurns: 9, want: 8},
		{name: "three", maxTurns: 3, want: 6},
		{name: "one", maxTurns: 1, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := LimitTurns(history, tt.maxTurns)
			require.Len(t, got, tt.want)
			assert.Equal(t, schema.User, got[0].Role)
			assert.Same(t, history[len(history)-1], got[len(got)-1])
		})
	}
}

func TestLimitTurns_OddHistory(t *testing.T) {
	t.Parallel()
	// A trailing unanswered question shifts the window onto a reply, which
	// must be skipped.
	history := append(conversation(2), schema.UserMessage("pending"))
	got := LimitTurns(history, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "pending", got[0].Content)
}

func TestTrimHistory(t *testing.T) {
	t.Parallel()
	sys := []*schema.Message{schema.SystemMessage("sys")}

	t.Run("fits", func(t *testing.T) {
		t.Parallel()
		history := conversation(3)
		assert.Len(t, TrimHistory(sys, history, DefaultMaxContextTokens), 6)
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, TrimHistory(sys, nil, DefaultMaxContextTokens))
	})

	t.Run("keeps newest", func(t *testing.T) {
		t.Parallel()
		history := []*schema.Message{schema.UserMessage("first"), schema.UserMessage("second")}
		// Each costs 4 + 1 + 1 = 6, so a budget of 11 holds one.
		got := TrimHistory(nil, history, 11)
		require.Len(t, got, 1)
		assert.Equal(t, "second", got[0].Content)
	})

	t.Run("fixed over budget", func(t *testing.T) {
		t.Parallel()
		huge := []*schema.Message{schema.SystemMessage(strings.Repeat("s", 4*500))}
		assert.Empty(t, TrimHistory(huge, conversation(2), 100))
	})

	t.Run("drops orphaned reply", func(t *testing.T) {
		t.Parallel()
		history := conversation(2)
		got := TrimHistory(nil, history, EstimateMessages(history[1:]))
		require.Len(t, got, 2)
		assert.Equal(t, history[2], got[0])
	})
}

func TestPolicyApply(t *testing.T) {
	t.Parallel()
	history := conversation(25)
	fixed := []*schema.Message{schema.SystemMessage("sys"), schema.UserMessage("now")}

	got, dropped := DefaultPolicy().Apply(fixed, history)
	assert.Len(t, got, 2*DefaultMaxTurns)
	assert.Equal(t, len(history)-len(got), dropped)

	lastPair := history[len(history)-2:]
	tight := Policy{MaxContextTokens: EstimateMessages(fixed) + EstimateMessages(lastPair)}
	got, dropped = tight.Apply(fixed, history)
	assert.Equal(t, lastPair, got)
	assert.Equal(t, len(history)-2, dropped)

	got, dropped = Policy{}.Apply(fixed, history)
	assert.Len(t, got, len(history))
	assert.Zero(t, dropped)
}
