package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docuchat/internal/ai"
	"docuchat/internal/apperr"
	"docuchat/internal/embedding"
	"docuchat/internal/vectorstore"
)

type recordingLLM struct {
	answer  string
	err     error
	prompts []ai.Prompt
}

func (r *recordingLLM) Name() string { return "test-model" }

func (r *recordingLLM) Generate(_ context.Context, p ai.Prompt) (string, error) {
	r.prompts = append(r.prompts, p)
	return r.answer, r.err
}

type failingEmbedder struct{ err error }

func (f failingEmbedder) EmbedOne(context.Context, string) ([]float32, string, error) {
	return nil, "", f.err
}

// flakyBackend wraps a working backend under another name and starts failing
// once err is set.
type flakyBackend struct {
	embedding.Backend
	name string
	err  error
}

func (f *flakyBackend) Name() string { return f.name }

func (f *flakyBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.Backend.Embed(ctx, texts)
}

func seededStore(t *testing.T, emb *embedding.Generator) *vectorstore.Local {
	t.Helper()
	ctx := context.Background()
	s := vectorstore.NewMemory()
	_, err := s.CreateCollection(ctx, "documents")
	require.NoError(t, err)

	texts := []string{
		"Quarterly revenue grew twelve percent in the northern region.",
		"The office cafeteria serves lunch from noon until two.",
	}
	res, err := emb.Embed(ctx, texts)
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, "documents", res.Model, []vectorstore.Record{
		{ID: "r:1:0", Vector: res.Vectors[0], Text: texts[0], Metadata: map[string]any{"owner_id": "u1", "document": "report.pdf", "page_number": 2}},
		{ID: "m:1:0", Vector: res.Vectors[1], Text: texts[1], Metadata: map[string]any{"owner_id": "u1", "document": "menu.pdf", "page_number": 1}},
	}))
	return s
}

func TestAsk_UsesRetrievedContext(t *testing.T) {
	emb := embedding.NewGenerator(embedding.HashingLoader(128))
	llm := &recordingLLM{answer: "Revenue grew 12% [1]."}
	o := NewOrchestrator(emb, seededStore(t, emb), llm, "documents", 5)

	ans, err := o.Ask(context.Background(), Question{
		Text:     "How much did revenue grow?",
		OwnerID:  "u1",
		Document: "report.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "Revenue grew 12% [1].", ans.Text)
	assert.True(t, ans.ContextFound)
	assert.Equal(t, "test-model", ans.Model)
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, "report.pdf", ans.Sources[0].Document)
	assert.Equal(t, 2, ans.Sources[0].Page)

	require.Len(t, llm.prompts, 1)
	user := llm.prompts[0].User
	assert.Contains(t, user, "[1] (page 2) Quarterly revenue grew")
	assert.NotContains(t, user, "cafeteria")
	assert.True(t, strings.HasSuffix(user, "Question: How much did revenue grow?\n\nAnswer:"))
}

func TestAsk_NoMatchesStillAnswers(t *testing.T) {
	emb := embedding.NewGenerator(embedding.HashingLoader(64))
	s := vectorstore.NewMemory()
	_, err := s.CreateCollection(context.Background(), "empty")
	require.NoError(t, err)
	llm := &recordingLLM{answer: "I could not find anything about that in the selected document."}
	o := NewOrchestrator(emb, s, llm, "empty", 0)

	ans, err := o.Ask(context.Background(), Question{Text: "What is the refund policy?", Document: "report.pdf"})
	require.NoError(t, err)
	assert.NotEmpty(t, ans.Text)
	assert.False(t, ans.ContextFound)
	assert.Empty(t, ans.Sources)

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0].User, NoContextNote)
	assert.Contains(t, llm.prompts[0].System, "No relevant context was retrieved")
}

func TestAsk_UnknownCollection(t *testing.T) {
	emb := embedding.NewGenerator(embedding.HashingLoader(64))
	o := NewOrchestrator(emb, vectorstore.NewMemory(), &recordingLLM{answer: "x"}, "documents", 5)

	_, err := o.Ask(context.Background(), Question{Text: "anything", Collection: "missing"})
	assert.ErrorIs(t, err, apperr.ErrCollectionNotFound)
}

func TestAsk_GenerationFailure(t *testing.T) {
	emb := embedding.NewGenerator(embedding.HashingLoader(128))
	llm := &recordingLLM{err: errors.New("quota exceeded")}
	o := NewOrchestrator(emb, seededStore(t, emb), llm, "documents", 5)

	_, err := o.Ask(context.Background(), Question{Text: "revenue?"})
	assert.ErrorIs(t, err, apperr.ErrGeneration)
	assert.Len(t, llm.prompts, 1, "no retry inside the orchestrator")

	llm.err, llm.answer = nil, "   "
	_, err = o.Ask(context.Background(), Question{Text: "revenue?"})
	assert.ErrorIs(t, err, apperr.ErrGeneration)
}

func TestAsk_EmbeddingErrorKeepsKind(t *testing.T) {
	o := NewOrchestrator(failingEmbedder{err: apperr.ErrModelUnavailable}, vectorstore.NewMemory(), &recordingLLM{answer: "x"}, "documents", 5)
	_, err := o.Ask(context.Background(), Question{Text: "revenue?"})
	assert.ErrorIs(t, err, apperr.ErrModelUnavailable)

	_, err = o.Ask(context.Background(), Question{Text: "  "})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestAsk_DegradedBackendCannotQueryPinnedCollection(t *testing.T) {
	ctx := context.Background()
	hashing, err := embedding.HashingLoader(128)(ctx)
	require.NoError(t, err)
	primary := &flakyBackend{Backend: hashing, name: "onnx"}
	emb := embedding.NewGenerator(
		func(context.Context) (embedding.Backend, error) { return primary, nil },
		embedding.WithFallback(embedding.HashingLoader(128)),
	)
	store := seededStore(t, emb)
	llm := &recordingLLM{answer: "Revenue grew 12% [1]."}
	o := NewOrchestrator(emb, store, llm, "documents", 5)

	_, err = o.Ask(ctx, Question{Text: "How much did revenue grow?", OwnerID: "u1"})
	require.NoError(t, err)

	primary.err = fmt.Errorf("%w: session closed", apperr.ErrModelUnavailable)
	_, err = o.Ask(ctx, Question{Text: "How much did revenue grow?", OwnerID: "u1"})
	require.ErrorIs(t, err, apperr.ErrModelUnavailable)
	assert.Contains(t, err.Error(), "built with embedding model onnx")
	assert.Len(t, llm.prompts, 1, "the model is not asked with mismatched context")

	assert.Equal(t, embedding.StateDegraded, emb.Status().State)
	assert.Equal(t, "hashing", emb.Status().Backend)
	assert.Equal(t, map[string]string{"documents": "onnx"}, store.Health(ctx).Models)
}

func TestRetrieve_ReturnsMatchesWithoutModel(t *testing.T) {
	emb := embedding.NewGenerator(embedding.HashingLoader(128))
	llm := &recordingLLM{answer: "unused"}
	o := NewOrchestrator(emb, seededStore(t, emb), llm, "documents", 5)

	r, err := o.Retrieve(context.Background(), Question{Text: " revenue growth ", OwnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "revenue growth", r.Question)
	assert.Equal(t, "documents", r.Collection)
	assert.Equal(t, "hashing", r.Model)
	assert.Len(t, r.Matches, 2)
	assert.Empty(t, llm.prompts)
}

func TestBuildPrompt_Deterministic(t *testing.T) {
	matches := []vectorstore.Match{
		{Text: "alpha", Metadata: map[string]any{"page_number": 1.0}},
		{Text: "beta", Metadata: map[string]any{"page_number": 3}},
	}
	history := make([]Turn, 8)
	for i := range history {
		history[i] = Turn{Question: "q" + string(rune('0'+i)), Answer: "a"}
	}

	p1 := BuildPrompt("why?", matches, history)
	p2 := BuildPrompt("why?", matches, history)
	assert.Equal(t, p1, p2)
	assert.Contains(t, p1.User, "[1] (page 1) alpha\n[2] (page 3) beta\n")
	assert.Contains(t, p1.User, "Conversation so far:")
	assert.NotContains(t, p1.User, "User: q1\n", "only the last turns are kept")
	assert.Contains(t, p1.User, "User: q7\n")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("  short ", 10))
	assert.Equal(t, "héll...", preview("héllo", 4))
}
