// Package extractor implements the Memory Extractor (spec §4.3): an LLM
// collaborator that turns raw dialogue into zero or more candidate
// memories. It is grounded on memory/compression.go's injectable
// Compressor/Consolidator callback pattern — here a single injectable
// Extract function plays the same role, with a default LLM-backed
// implementation callers can override for testing.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
)

// NoTrait is the literal marker the extractor LLM returns when the
// dialogue contains no durable user facts worth remembering.
const NoTrait = "NO_TRAIT"

// Candidate is one extracted memory candidate awaiting a merge/add
// decision, per spec §4.3's {summary, reference} pair.
type Candidate struct {
	Summary   string
	Reference []int
}

// Generator is the narrow LLM capability the extractor needs: a single
// prompt in, free text out. Satisfied by llmclient.ChatAdapter.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// SpeakerFormatter renders a turn into the single-line form the
// extraction prompt expects, matching spec §4.3's "caller-provided
// extractSpeaker1 formatter".
type SpeakerFormatter func(role, content string) string

// DefaultSpeakerFormatter renders "role: content" lines.
func DefaultSpeakerFormatter(role, content string) string {
	return fmt.Sprintf("%s: %s", role, content)
}

const defaultSystemPrompt = `You extract durable facts about the user from a dialogue transcript.
Respond with the literal text NO_TRAIT if nothing durable is worth remembering.
Otherwise respond with JSON of the form:
{"extracted_memories":[{"summary":"...","reference":[0,1]}]}
Do not include any other text.`

// Extractor runs Memory Extraction over raw dialogue turns.
type Extractor struct {
	llm       Generator
	formatter SpeakerFormatter
	sanitizer *bluemonday.Policy
}

// Config configures an Extractor.
type Config struct {
	LLM       Generator
	Formatter SpeakerFormatter
}

// New builds an Extractor. Formatter defaults to DefaultSpeakerFormatter.
func New(cfg Config) (*Extractor, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("extractor: llm is required")
	}
	formatter := cfg.Formatter
	if formatter == nil {
		formatter = DefaultSpeakerFormatter
	}
	return &Extractor{
		llm:       cfg.LLM,
		formatter: formatter,
		sanitizer: bluemonday.UGCPolicy(),
	}, nil
}

// Turn is the minimal view of a dialogue turn the extractor needs.
type Turn struct {
	Role    string
	Content string
}

// Extract runs the extraction prompt over turns and returns sanitized
// candidates. Per spec §4.3, malformed JSON, transport errors, or an
// empty dialogue are all treated as "no extraction" and return an empty
// (nil, nil) result rather than an error — extraction is advisory, not
// load-bearing.
func (e *Extractor) Extract(ctx context.Context, turns []Turn) ([]Candidate, error) {
	if len(turns) == 0 {
		return nil, nil
	}

	lines := make([]string, 0, len(turns))
	for i, t := range turns {
		lines = append(lines, fmt.Sprintf("[%d] %s", i, e.formatter(t.Role, t.Content)))
	}
	prompt := strings.Join(lines, "\n")

	raw, err := e.llm.Generate(ctx, defaultSystemPrompt+"\n\n"+prompt)
	if err != nil {
		return nil, nil
	}

	raw = strings.TrimSpace(raw)
	if raw == "" || raw == NoTrait {
		return nil, nil
	}

	var payload struct {
		ExtractedMemories []struct {
			Summary   string `json:"summary"`
			Reference []int  `json:"reference"`
		} `json:"extracted_memories"`
	}
	if err := json.Unmarshal([]byte(stripJSONFence(raw)), &payload); err != nil {
		return nil, nil
	}

	candidates := make([]Candidate, 0, len(payload.ExtractedMemories))
	for _, m := range payload.ExtractedMemories {
		summary := e.sanitizeSummary(m.Summary)
		if summary == "" {
			continue
		}
		candidates = append(candidates, Candidate{Summary: summary, Reference: m.Reference})
	}
	return candidates, nil
}

// sanitizeSummary renders any markdown the LLM produced to HTML, then
// strips it back down with bluemonday's UGC policy, so a candidate
// summary can never smuggle markup into a memory that is later
// rendered verbatim in a UI, following the render step in
// showcases/deerflow/nodes.go's ReporterNode.
func (e *Extractor) sanitizeSummary(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse([]byte(s))

	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags})
	rendered := markdown.Render(doc, renderer)

	sanitized := e.sanitizer.Sanitize(string(rendered))
	return strings.TrimSpace(sanitized)
}

func stripJSONFence(s string) string {
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
