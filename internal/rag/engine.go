// Package rag answers questions over the article index: retrieve the most
// relevant documents, assemble them into a grounding context, and generate
// an answer with the configured model.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core"
	"github.com/firebase/genkit/go/genkit"

	"github.com/pautahq/newsbot/internal/index"
)

// Searcher retrieves the documents most relevant to a query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]index.Document, error)
}

// Source is one retrieved document returned alongside an answer, so callers
// can cite where the answer came from.
type Source struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// Answer is a complete generation result.
type Answer struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
}

// Chunk is one streaming increment. The first chunk of a stream carries the
// retrieved sources with empty text; every later chunk carries text only.
type Chunk struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources,omitempty"`
}

type askInput struct {
	Question string `json:"question"`
}

// Config holds the parameters for building an Engine.
type Config struct {
	Genkit      *genkit.Genkit
	Searcher    Searcher
	ModelName   string // fully qualified, e.g. "googleai/gemini-2.0-flash"
	Temperature float64
	Prompt      string // template with {context} and {question} placeholders
	Logger      *slog.Logger
}

// Engine generates grounded answers. Retrieval always runs exactly once per
// question, even when the index is empty; generation then proceeds with
// whatever context was found.
type Engine struct {
	searcher    Searcher
	modelName   string
	temperature float64
	prompt      string
	logger      *slog.Logger
	flow        *core.Flow[askInput, *Answer, Chunk]
}

// New builds an Engine and registers its ask flow with Genkit.
func New(cfg Config) (*Engine, error) {
	if cfg.Genkit == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if cfg.Searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("model name is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		searcher:    cfg.Searcher,
		modelName:   cfg.ModelName,
		temperature: cfg.Temperature,
		prompt:      cfg.Prompt,
		logger:      logger,
	}
	e.flow = genkit.DefineStreamingFlow(cfg.Genkit, "newsbot/ask",
		func(ctx context.Context, in askInput, cb func(context.Context, Chunk) error) (*Answer, error) {
			return e.ask(ctx, cfg.Genkit, in.Question, cb)
		})
	return e, nil
}

// AskQuestion answers a question in one shot.
func (e *Engine) AskQuestion(ctx context.Context, question string) (*Answer, error) {
	return e.flow.Run(ctx, askInput{Question: question})
}

// AskQuestionStream answers a question, invoking cb for each increment as it
// is produced. The first chunk carries the sources; the concatenation of all
// chunk texts equals the returned Answer.Text.
func (e *Engine) AskQuestionStream(ctx context.Context, question string, cb func(Chunk) error) (*Answer, error) {
	var answer *Answer
	for val, err := range e.flow.Stream(ctx, askInput{Question: question}) {
		if err != nil {
			return nil, err
		}
		if val.Done {
			answer = val.Output
			continue
		}
		if err := cb(val.Stream); err != nil {
			return nil, err
		}
	}
	if answer == nil {
		return nil, fmt.Errorf("stream ended without a final answer")
	}
	return answer, nil
}

func (e *Engine) ask(ctx context.Context, g *genkit.Genkit, question string, cb func(context.Context, Chunk) error) (*Answer, error) {
	docs, err := e.searcher.Search(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("retrieving documents: %w", err)
	}

	sources := make([]Source, len(docs))
	contents := make([]string, len(docs))
	for i, doc := range docs {
		sources[i] = Source{Content: doc.Content, Metadata: doc.Metadata}
		contents[i] = doc.Content
	}

	if cb != nil {
		// Sources go out before any generated text so clients can render
		// citations while the answer streams.
		if err := cb(ctx, Chunk{Sources: sources}); err != nil {
			return nil, err
		}
	}

	prompt := renderPrompt(e.prompt, strings.Join(contents, "\n\n"), question)

	opts := []ai.GenerateOption{
		ai.WithModelName(e.modelName),
		ai.WithPrompt(prompt),
		ai.WithConfig(map[string]any{"temperature": e.temperature}),
	}
	if cb != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			text := chunkText(chunk)
			if text == "" {
				return nil
			}
			return cb(ctx, Chunk{Text: text})
		}))
	}

	resp, err := genkit.Generate(ctx, g, opts...)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	e.logger.Debug("answered question",
		"model", e.modelName,
		"sources", len(sources),
		"answer_len", len(resp.Text()),
	)
	return &Answer{Text: resp.Text(), Sources: sources}, nil
}

// renderPrompt substitutes the grounding context and question into the
// configured template.
func renderPrompt(template, context, question string) string {
	return strings.NewReplacer(
		"{context}", context,
		"{question}", question,
	).Replace(template)
}

func chunkText(chunk *ai.ModelResponseChunk) string {
	var b strings.Builder
	for _, part := range chunk.Content {
		b.WriteString(part.Text)
	}
	return b.String()
}
