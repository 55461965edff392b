package assistant

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docchat-go/internal/budget"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/vectorindex"
)

// fakeModel records every request and replays scripted results.
type fakeModel struct {
	mu sync.Mutex
	// calls holds the input of every Generate call.
	calls [][]*schema.Message
	// errs is consumed front to back; a nil entry means success.
	errs []error
	// reply is returned on success.
	reply string
}

func (f *fakeModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, input)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

func (f *fakeModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// keywordEmbedder maps text onto three topic axes.
type keywordEmbedder struct{}

func (keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		t = strings.ToLower(t)
		v := []float32{0.01, 0.01, 0.01}
		if strings.Contains(t, "warranty") {
			v[0] = 1
		}
		if strings.Contains(t, "shipping") {
			v[1] = 1
		}
		if strings.Contains(t, "refund") {
			v[2] = 1
		}
		out[i] = v
	}
	return out, nil
}

func newAssistant(t *testing.T, m *fakeModel, policy budget.Policy) *Assistant {
	t.Helper()
	client, err := NewClient(m, "test llm", 0)
	require.NoError(t, err)
	retriever, err := rag.NewRetriever(keywordEmbedder{}, rag.SimilarityPreset())
	require.NoError(t, err)
	a, err := New(Config{Client: client, Retriever: retriever, History: policy})
	require.NoError(t, err)
	return a
}

func buildIndex(t *testing.T) rag.Index {
	t.Helper()
	chunks := []rag.Chunk{
		{Text: "The warranty lasts two years.", SourcePath: "warranty.txt"},
		{Text: "Shipping takes three days.", SourcePath: "shipping.txt"},
		{Text: "Refunds are issued within a week.", SourcePath: "refunds.pdf", Page: 2},
	}
	vecs, err := keywordEmbedder{}.Embed(context.Background(), []string{chunks[0].Text, chunks[1].Text, chunks[2].Text})
	require.NoError(t, err)
	idx, err := vectorindex.NewMemoryBuilder().Build(context.Background(), chunks, vecs)
	require.NoError(t, err)
	return idx
}

func TestNew_RequiresClient(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)

	_, err = NewClient(nil, "", 0)
	require.Error(t, err)
}

func TestAskGeneral_NoHistory(t *testing.T) {
	t.Parallel()

	m := &fakeModel{reply: "Hello!"}
	a := newAssistant(t, m, budget.DefaultPolicy())

	got, err := a.AskGeneral(context.Background(), "Hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello!", got)

	require.Len(t, m.calls, 1)
	msgs := m.calls[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, generalSystemPrompt, msgs[0].Content)
	assert.Equal(t, schema.User, msgs[1].Role)
	assert.Equal(t, "Hi", msgs[1].Content)
}

func TestAskGeneral_ResendsPriorTurnVerbatim(t *testing.T) {
	t.Parallel()

	m := &fakeModel{reply: "You said Hi."}
	a := newAssistant(t, m, budget.DefaultPolicy())

	history := []Turn{{Question: "Hi", Answer: "Hello!"}}
	_, err := a.AskGeneral(context.Background(), "What did I just ask?", history)
	require.NoError(t, err)

	require.Len(t, m.calls, 1)
	msgs := m.calls[0]
	require.Len(t, msgs, 4)
	assert.Equal(t, []schema.RoleType{schema.System, schema.User, schema.Assistant, schema.User},
		[]schema.RoleType{msgs[0].Role, msgs[1].Role, msgs[2].Role, msgs[3].Role})
	assert.Equal(t, "Hi", msgs[1].Content)
	assert.Equal(t, "Hello!", msgs[2].Content)
	assert.Equal(t, "What did I just ask?", msgs[3].Content)
}

func TestAskGeneral_TruncatesLongHistory(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := logging.WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))

	history := make([]Turn, 30)
	for i := range history {
		history[i] = Turn{Question: "question", Answer: "answer"}
	}
	history[29] = Turn{Question: "latest question", Answer: "latest answer"}

	m := &fakeModel{reply: "ok"}
	a := newAssistant(t, m, budget.Policy{MaxTurns: 2, MaxContextTokens: budget.DefaultMaxContextTokens})

	_, err := a.AskGeneral(ctx, "next", history)
	require.NoError(t, err)

	msgs := m.calls[0]
	// system + 2 turns + question
	require.Len(t, msgs, 6)
	assert.Equal(t, "latest question", msgs[3].Content)
	assert.Equal(t, "latest answer", msgs[4].Content)
	assert.Contains(t, buf.String(), "dropped history messages")
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestAskGeneral_ErrorPropagates(t *testing.T) {
	t.Parallel()

	m := &fakeModel{errs: []error{errors.New("503 service unavailable")}}
	a := newAssistant(t, m, budget.DefaultPolicy())

	_, err := a.AskGeneral(context.Background(), "Hi", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrUpstream)

	var upstream *rag.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "test llm", upstream.Service)
}

func TestAsk_BlankQuestion(t *testing.T) {
	t.Parallel()

	m := &fakeModel{reply: "unused"}
	a := newAssistant(t, m, budget.DefaultPolicy())

	_, err := a.AskGeneral(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, rag.ErrInvalidConfiguration)

	_, err = a.AskGrounded(context.Background(), buildIndex(t), "")
	assert.ErrorIs(t, err, rag.ErrInvalidConfiguration)

	assert.Zero(t, m.callCount())
}

func TestAskGrounded_RendersPrompt(t *testing.T) {
	t.Parallel()

	m := &fakeModel{reply: "Two years."}
	a := newAssistant(t, m, budget.DefaultPolicy())

	question := "How long is the warranty?"
	got, err := a.AskGrounded(context.Background(), buildIndex(t), question)
	require.NoError(t, err)

	assert.Equal(t, "Two years.", got.Text)
	require.Len(t, got.Chunks, 3)
	assert.Equal(t, "warranty.txt", got.Chunks[0].SourcePath)
	assert.Equal(t, rag.BuildContext(got.Chunks), got.Context)
	assert.True(t, strings.HasPrefix(got.Context, "The warranty lasts two years.\n\n"))
	assert.Equal(t, "warranty.txt", got.Sources[0])

	require.Len(t, m.calls, 1)
	msgs := m.calls[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, "Answer ONLY using the provided context. If the answer is not in the context, say 'I don't know'. Keep the answer short and factual.", msgs[0].Content)
	assert.Equal(t, "Context:\n"+got.Context+"\n\nQuestion: "+question, msgs[1].Content)
}

func TestAskGrounded_EmptyIndex(t *testing.T) {
	t.Parallel()

	m := &fakeModel{reply: "unused"}
	a := newAssistant(t, m, budget.DefaultPolicy())

	_, err := a.AskGrounded(context.Background(), vectorindex.NewMemoryIndex(), "anything")
	assert.ErrorIs(t, err, rag.ErrEmptyIndex)

	_, err = a.AskGrounded(context.Background(), nil, "anything")
	assert.ErrorIs(t, err, rag.ErrEmptyIndex)

	assert.Zero(t, m.callCount())
}

func TestClient_EmptyResponseIsUpstream(t *testing.T) {
	t.Parallel()

	client, err := NewClient(&fakeModel{reply: "  \n"}, "", 0)
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "sys", []*schema.Message{schema.UserMessage("q")})
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrUpstream)
	assert.Contains(t, err.Error(), "llm")
}

func TestClient_Retry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		maxRetries int
		errs       []error
		wantErr    bool
		wantCalls  int
	}{
		{"no retry configured", 0, []error{errors.New("boom")}, true, 1},
		{"recovers on second attempt", 2, []error{errors.New("boom"), nil}, false, 2},
		{"budget exhausted", 2, []error{errors.New("a"), errors.New("b"), errors.New("c")}, true, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := &fakeModel{errs: tc.errs, reply: "ok"}
			client, err := NewClient(m, "llm", tc.maxRetries)
			require.NoError(t, err)
			client.initialInterval = time.Millisecond

			got, err := client.Complete(context.Background(), "", []*schema.Message{schema.UserMessage("q")})
			if tc.wantErr {
				assert.ErrorIs(t, err, rag.ErrUpstream)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "ok", got)
			}
			assert.Equal(t, tc.wantCalls, m.callCount())
		})
	}
}

func TestClient_CancelledContextIsNotUpstream(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &fakeModel{errs: []error{context.Canceled}}
	client, err := NewClient(m, "llm", 3)
	require.NoError(t, err)

	_, err = client.Complete(ctx, "", []*schema.Message{schema.UserMessage("q")})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, rag.ErrUpstream)
}
