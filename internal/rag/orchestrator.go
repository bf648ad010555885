// Package rag answers questions over ingested documents: embed the question,
// retrieve the nearest chunks and ask the language model with them as context.
package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"docuchat/internal/ai"
	"docuchat/internal/apperr"
	"docuchat/internal/logger"
	"docuchat/internal/vectorstore"
)

const (
	DefaultTopK     = 5
	maxHistoryTurns = 6
	sourcePreview   = 200

	NoContextNote = "No relevant context was found in the selected document."
)

const systemWithContext = "You are a helpful assistant that answers questions about the user's documents. " +
	"Answer using only the numbered context passages below and cite them as [n]. " +
	"If the context does not contain the answer, say so. Do not make up facts."

const systemWithoutContext = "You are a helpful assistant that answers questions about the user's documents. " +
	"No relevant context was retrieved for this question. Tell the user that the selected document " +
	"does not appear to contain the answer, and do not make up facts."

type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, string, error)
}

type Searcher interface {
	Query(ctx context.Context, collection, embeddingModel string, vector []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Match, error)
}

type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Question is the input for Ask. Document narrows retrieval to one file of
// the owner; Collection defaults to the orchestrator's default collection.
type Question struct {
	Text       string
	OwnerID    string
	Document   string
	Collection string
	History    []Turn
	TopK       int
}

type Source struct {
	Document string  `json:"document"`
	Page     int     `json:"page"`
	Text     string  `json:"text"`
	Distance float32 `json:"distance"`
}

type Answer struct {
	Text         string        `json:"answer"`
	Sources      []Source      `json:"sources"`
	ContextFound bool          `json:"context_found"`
	Model        string        `json:"model"`
	Latency      time.Duration `json:"-"`
}

type Orchestrator struct {
	embedder          Embedder
	store             Searcher
	llm               ai.LLM
	defaultCollection string
	defaultTopK       int
}

func NewOrchestrator(embedder Embedder, store Searcher, llm ai.LLM, defaultCollection string, defaultTopK int) *Orchestrator {
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	return &Orchestrator{
		embedder:          embedder,
		store:             store,
		llm:               llm,
		defaultCollection: defaultCollection,
		defaultTopK:       defaultTopK,
	}
}

// Retrieval is the outcome of the embedding and nearest-neighbour steps.
type Retrieval struct {
	Question   string
	Collection string
	Model      string
	Matches    []vectorstore.Match
}

// Retrieve embeds the question and returns its top-k chunks without asking
// the model.
func (o *Orchestrator) Retrieve(ctx context.Context, q Question) (*Retrieval, error) {
	ctx, span := otel.Tracer("docuchat/rag").Start(ctx, "rag.retrieve")
	defer span.End()

	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: question is empty", apperr.ErrInvalidInput)
	}
	collection := q.Collection
	if collection == "" {
		collection = o.defaultCollection
	}
	topK := q.TopK
	if topK <= 0 {
		topK = o.defaultTopK
	}
	span.SetAttributes(
		attribute.String("rag.collection", collection),
		attribute.String("rag.document", q.Document),
		attribute.Int("rag.top_k", topK),
	)

	vec, embeddingModel, err := o.embedder.EmbedOne(ctx, text)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	matches, err := o.store.Query(ctx, collection, embeddingModel, vec, topK, filterFor(q))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("rag.matches", len(matches)))
	return &Retrieval{Question: text, Collection: collection, Model: embeddingModel, Matches: matches}, nil
}

// Ask retrieves the top-k chunks for the question and asks the model. When
// nothing is retrieved the model is still asked and told so. Embedding and
// vector store errors keep their own kind; model failures are GenerationError.
func (o *Orchestrator) Ask(ctx context.Context, q Question) (*Answer, error) {
	ctx, span := otel.Tracer("docuchat/rag").Start(ctx, "rag.ask")
	defer span.End()
	start := time.Now()

	r, err := o.Retrieve(ctx, q)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	prompt := BuildPrompt(r.Question, r.Matches, q.History)
	out, err := o.llm.Generate(ctx, prompt)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, asGenerationError(err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, fmt.Errorf("%w: model returned an empty answer", apperr.ErrGeneration)
	}

	ans := &Answer{
		Text:         out,
		Sources:      sourcesOf(r.Matches),
		ContextFound: len(r.Matches) > 0,
		Model:        o.llm.Name(),
		Latency:      time.Since(start),
	}
	logger.Debug("rag answer generated",
		"collection", r.Collection,
		"document", q.Document,
		"matches", len(r.Matches),
		"latency_ms", ans.Latency.Milliseconds(),
	)
	return ans, nil
}

func filterFor(q Question) vectorstore.Filter {
	f := vectorstore.Filter{}
	if q.OwnerID != "" {
		f["owner_id"] = q.OwnerID
	}
	if q.Document != "" {
		f["document"] = q.Document
	}
	if len(f) == 0 {
		return nil
	}
	return f
}

// BuildPrompt renders the deterministic prompt for a question and its
// retrieved matches.
func BuildPrompt(question string, matches []vectorstore.Match, history []Turn) ai.Prompt {
	var b strings.Builder
	b.WriteString("Context:\n")
	if len(matches) == 0 {
		b.WriteString(NoContextNote)
		b.WriteString("\n")
	}
	for i, m := range matches {
		fmt.Fprintf(&b, "[%d] (page %d) %s\n", i+1, pageOf(m), strings.TrimSpace(m.Text))
	}

	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, t := range history {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", strings.TrimSpace(t.Question), strings.TrimSpace(t.Answer))
		}
	}

	fmt.Fprintf(&b, "\nQuestion: %s\n\nAnswer:", question)

	system := systemWithContext
	if len(matches) == 0 {
		system = systemWithoutContext
	}
	return ai.Prompt{System: system, User: b.String()}
}

func sourcesOf(matches []vectorstore.Match) []Source {
	out := make([]Source, 0, len(matches))
	for _, m := range matches {
		doc, _ := m.Metadata["document"].(string)
		out = append(out, Source{
			Document: doc,
			Page:     pageOf(m),
			Text:     preview(m.Text, sourcePreview),
			Distance: m.Distance,
		})
	}
	return out
}

func pageOf(m vectorstore.Match) int {
	switch v := m.Metadata["page_number"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func preview(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func asGenerationError(err error) error {
	if apperr.KindOf(err) == apperr.KindGeneration {
		return err
	}
	return fmt.Errorf("%w: %w", apperr.ErrGeneration, err)
}
