// Package citation implements the Citation Scorer (spec §4.7): after
// the LLM's response is available, decide for each surfaced memory
// whether the response cited it, and convert that into a reward.
// Deliberately simple and replaceable — callers may inject a more
// sophisticated Scorer.
package citation

import (
	"strings"

	"github.com/smallnest/rmm/rmmtypes"
)

// Scorer decides whether responseText cites memory, given the
// caller's configured similarity threshold for summary substring
// matching.
type Scorer interface {
	IsCited(responseText string, memory rmmtypes.RetrievedMemory) bool
}

// DefaultScorer matches on memory id, an explicit citation marker of
// the form "[[memory:<id>]]", or a substring overlap between the
// response and the memory's summary.
type DefaultScorer struct {
	// MinSummaryOverlapWords is the minimum number of consecutive
	// words from the memory summary that must appear verbatim in the
	// response for a substring match to count as a citation.
	MinSummaryOverlapWords int
}

// NewDefaultScorer builds a DefaultScorer with spec-reasonable
// defaults (a 3-word run is enough to call a summary "referenced").
func NewDefaultScorer() *DefaultScorer {
	return &DefaultScorer{MinSummaryOverlapWords: 3}
}

// IsCited implements Scorer.
func (s *DefaultScorer) IsCited(responseText string, memory rmmtypes.RetrievedMemory) bool {
	if responseText == "" {
		return false
	}
	lower := strings.ToLower(responseText)

	if memory.ID != "" && strings.Contains(lower, strings.ToLower(memory.ID)) {
		return true
	}
	if strings.Contains(responseText, "[[memory:"+memory.ID+"]]") {
		return true
	}
	return s.summaryOverlap(lower, strings.ToLower(memory.TopicSummary))
}

func (s *DefaultScorer) summaryOverlap(response, summary string) bool {
	words := strings.Fields(summary)
	n := s.MinSummaryOverlapWords
	if n <= 0 {
		n = 3
	}
	if len(words) < n {
		return len(words) > 0 && strings.Contains(response, strings.Join(words, " "))
	}
	for i := 0; i+n <= len(words); i++ {
		run := strings.Join(words[i:i+n], " ")
		if strings.Contains(response, run) {
			return true
		}
	}
	return false
}

var _ Scorer = (*DefaultScorer)(nil)

// RewardFor maps cited to the default ±1 reward spec §3 CitationRecord
// describes (+1 cited, -1 uncited).
func RewardFor(cited bool) float64 {
	if cited {
		return 1
	}
	return -1
}

// Score produces one CitationRecord per memory in selected, using
// scorer to decide citation and RewardFor to convert to a reward
// (spec §4.7). turnIndex is the session-local turn counter at which
// these memories were surfaced.
func Score(scorer Scorer, responseText string, selected []rmmtypes.RetrievedMemory, turnIndex int) []rmmtypes.CitationRecord {
	records := make([]rmmtypes.CitationRecord, len(selected))
	for i, m := range selected {
		cited := scorer.IsCited(responseText, m)
		records[i] = rmmtypes.CitationRecord{
			MemoryID:  m.ID,
			TurnIndex: turnIndex,
			Cited:     cited,
			Reward:    RewardFor(cited),
		}
	}
	return records
}
