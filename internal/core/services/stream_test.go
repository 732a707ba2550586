package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// feedAll drives an extractor with the given chunks and returns everything
// the sink received concatenated, plus the individual emissions.
func feedAll(chunks []string) (string, []string) {
	var parts []string
	e := NewStreamExtractor(func(chunk string) {
		parts = append(parts, chunk)
	})
	for _, c := range chunks {
		e.Feed(c)
	}
	e.Finish()
	return strings.Join(parts, ""), parts
}

func TestStreamExtractor_MarkerSplitAcrossChunks(t *testing.T) {
	got, _ := feedAll([]string{
		"ACTION: respond\nRESP",
		"ONSE: hi\nREAS",
		"ONING: because greeting",
	})
	assert.Equal(t, "hi", got)
}

func TestStreamExtractor_NoReasoningSubstringEverEmitted(t *testing.T) {
	cases := [][]string{
		{"ACTION: respond\nRESPONSE: hello there\nREASONING: x"},
		{"ACTION: respond\nRESPONSE: hello there\nR", "EASONING: x"},
		{"ACTION: respond\nRESPONSE: hello there", "\nREASONIN", "G: x"},
		{"ACTION:respond\nRESPONSE:hello there\nreasoning: lowercase still suppressed"},
		{"A", "C", "T", "I", "O", "N", ":", " ", "r", "e", "s", "p", "o", "n", "d", "\n",
			"R", "E", "S", "P", "O", "N", "S", "E", ":", " ", "h", "e", "l", "l", "o",
			" ", "t", "h", "e", "r", "e", "\n", "R", "E", "A", "S", "O", "N", "I", "N", "G", ":", " ", "x"},
	}
	for _, chunks := range cases {
		got, _ := feedAll(chunks)
		assert.Equal(t, "hello there", got, "chunks: %q", chunks)
		assert.NotContains(t, strings.ToUpper(got), "REASONING")
	}
}

func TestStreamExtractor_ThinkCompletionSuppressed(t *testing.T) {
	got, _ := feedAll([]string{
		"ACTION: think\nREASONING: the user asked two things, split them",
	})
	assert.Empty(t, got)
}

func TestStreamExtractor_ToolCompletionSuppressed(t *testing.T) {
	got, _ := feedAll([]string{
		"ACTION: use_tool\nTOOL: web_fetch\n",
		"PARAMETERS: {\"url\": \"https://example.com\"}\n",
		"REASONING: need the page",
	})
	assert.Empty(t, got)
}

func TestStreamExtractor_MultilineResponse(t *testing.T) {
	got, _ := feedAll([]string{
		"ACTION: respond\nRESPONSE: first line\n",
		"second line\n",
		"REASONING: done",
	})
	assert.Equal(t, "first line\nsecond line", got)
}

func TestStreamExtractor_NoTrailingMarkerFlushesOnFinish(t *testing.T) {
	// Stream ends without REASONING; Finish must release the held-back tail.
	got, _ := feedAll([]string{
		"ACTION: respond\nRESPONSE: complete answer",
	})
	assert.Equal(t, "complete answer", got)
}

func TestStreamExtractor_TrailingWhitespaceTrimmed(t *testing.T) {
	got, _ := feedAll([]string{
		"ACTION: respond\nRESPONSE:   padded   \n\nREASONING: x",
	})
	assert.Equal(t, "padded", got)
}

func TestStreamExtractor_IncrementalEmission(t *testing.T) {
	// Text must flow before the stream ends, not all at once at Finish.
	var parts []string
	e := NewStreamExtractor(func(chunk string) { parts = append(parts, chunk) })
	e.Feed("ACTION: respond\nRESPONSE: the answer is ")
	midway := len(parts) > 0
	e.Feed("forty-two.\nREASONING: computed")
	e.Finish()

	assert.True(t, midway, "nothing emitted before second chunk")
	assert.Equal(t, "the answer is forty-two.", strings.Join(parts, ""))
}

func TestStreamExtractor_TextKeepsEverything(t *testing.T) {
	raw := "ACTION: think\nREASONING: private chain of thought"
	e := NewStreamExtractor(nil)
	e.Feed(raw[:10])
	e.Feed(raw[10:])
	e.Finish()
	assert.Equal(t, raw, e.Text())
}

func TestStreamExtractor_SuppressionIsAbsorbing(t *testing.T) {
	got, _ := feedAll([]string{
		"ACTION: think\nREASONING: hmm\n",
		// Even if a respond-shaped tail follows the reasoning of a think
		// completion, nothing may leak from this call.
		"ACTION: respond\nRESPONSE: should not appear",
	})
	assert.Empty(t, got)
}
