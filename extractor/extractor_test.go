package extractor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/smallnest/rmm/extractor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGenerator struct {
	response string
	err      error
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return s.response, s.err
}

func TestExtractor_NoTraitReturnsEmpty(t *testing.T) {
	t.Parallel()

	ex, err := extractor.New(extractor.Config{LLM: &stubGenerator{response: extractor.NoTrait}})
	require.NoError(t, err)

	cands, err := ex.Extract(context.Background(), []extractor.Turn{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestExtractor_EmptyDialogueReturnsEmpty(t *testing.T) {
	t.Parallel()

	ex, err := extractor.New(extractor.Config{LLM: &stubGenerator{response: extractor.NoTrait}})
	require.NoError(t, err)

	cands, err := ex.Extract(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestExtractor_ParsesExtractedMemories(t *testing.T) {
	t.Parallel()

	resp := `{"extracted_memories":[{"summary":"user enjoys hiking","reference":[0,2]}]}`
	ex, err := extractor.New(extractor.Config{LLM: &stubGenerator{response: resp}})
	require.NoError(t, err)

	cands, err := ex.Extract(context.Background(), []extractor.Turn{
		{Role: "user", Content: "I went hiking this weekend"},
		{Role: "assistant", Content: "Nice!"},
		{Role: "user", Content: "It was great exercise"},
	})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Contains(t, cands[0].Summary, "hiking")
	assert.Equal(t, []int{0, 2}, cands[0].Reference)
}

func TestExtractor_MalformedJSONReturnsEmpty(t *testing.T) {
	t.Parallel()

	ex, err := extractor.New(extractor.Config{LLM: &stubGenerator{response: "not json at all"}})
	require.NoError(t, err)

	cands, err := ex.Extract(context.Background(), []extractor.Turn{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestExtractor_TransportErrorReturnsEmpty(t *testing.T) {
	t.Parallel()

	ex, err := extractor.New(extractor.Config{LLM: &stubGenerator{err: errors.New("connection reset")}})
	require.NoError(t, err)

	cands, err := ex.Extract(context.Background(), []extractor.Turn{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestExtractor_SanitizesMarkupInSummary(t *testing.T) {
	t.Parallel()

	resp := `{"extracted_memories":[{"summary":"user likes <script>alert(1)</script> cats","reference":[0]}]}`
	ex, err := extractor.New(extractor.Config{LLM: &stubGenerator{response: resp}})
	require.NoError(t, err)

	cands, err := ex.Extract(context.Background(), []extractor.Turn{{Role: "user", Content: "I like cats"}})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.NotContains(t, cands[0].Summary, "<script>")
	assert.Contains(t, cands[0].Summary, "cats")
}

func TestExtractor_FencedJSONIsUnwrapped(t *testing.T) {
	t.Parallel()

	resp := "```json\n{\"extracted_memories\":[{\"summary\":\"user owns a dog\",\"reference\":[1]}]}\n```"
	ex, err := extractor.New(extractor.Config{LLM: &stubGenerator{response: resp}})
	require.NoError(t, err)

	cands, err := ex.Extract(context.Background(), []extractor.Turn{{Role: "user", Content: "my dog"}})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Contains(t, cands[0].Summary, "dog")
}
