// Package llmclient adapts langchaingo's llms.Model and embeddings.Embedder
// to the narrow capability interfaces the Memory Extractor, Merge/Add
// Decider, and Retrospective Retriever actually need. It is grounded on
// adapter/llm_adapter.go's OpenAIAdapter for text generation and
// llms/qwen/embedder.go's style for the embedding side.
package llmclient

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
)

// Generator is the LLM collaborator interface the Memory Extractor and
// Merge/Add Decider depend on (spec §4.3/§4.4): a single free-text
// generation call, optionally with a system prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateWithSystem(ctx context.Context, system, prompt string) (string, error)
}

// Embedder is the embedding capability the Retrospective Retriever and
// vectorstore package depend on.
type Embedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatAdapter wraps a langchaingo llms.Model, following
// adapter/llm_adapter.go's OpenAIAdapter.
type ChatAdapter struct {
	llm llms.Model
}

// NewChatAdapter wraps llm for use as a Generator.
func NewChatAdapter(llm llms.Model) *ChatAdapter {
	return &ChatAdapter{llm: llm}
}

// Generate sends a single prompt and returns the model's text response.
func (a *ChatAdapter) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, a.llm, prompt)
	if err != nil {
		return "", fmt.Errorf("llmclient: generate: %w", err)
	}
	return out, nil
}

// GenerateWithSystem sends a system + human message pair, supplying
// instructions separately from the payload. The Memory Extractor and
// Merge/Add Decider do not call it: they prepend their instructions to
// the prompt and use Generate.
func (a *ChatAdapter) GenerateWithSystem(ctx context.Context, system, prompt string) (string, error) {
	resp, err := a.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
	if err != nil {
		return "", fmt.Errorf("llmclient: generate with system: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Content, nil
}

var _ Generator = (*ChatAdapter)(nil)

// EmbedderAdapter wraps a langchaingo embeddings.Embedder, following
// llms/qwen/embedder.go's EmbedQuery/EmbedDocument/EmbedDocuments shape.
type EmbedderAdapter struct {
	embedder embeddings.Embedder
}

// NewEmbedderAdapter wraps e for use as an Embedder.
func NewEmbedderAdapter(e embeddings.Embedder) *EmbedderAdapter {
	return &EmbedderAdapter{embedder: e}
}

// EmbedDocument embeds a single text, used for both query and memory
// embedding by the retriever (spec §4.6 treats query and memory
// embedding symmetrically before the residual transform is applied).
func (e *EmbedderAdapter) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("llmclient: embed document: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("llmclient: embed document: empty response")
	}
	return vecs[0], nil
}

// EmbedDocuments embeds a batch of texts in one round trip.
func (e *EmbedderAdapter) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("llmclient: embed documents: %w", err)
	}
	return vecs, nil
}

var _ Embedder = (*EmbedderAdapter)(nil)
