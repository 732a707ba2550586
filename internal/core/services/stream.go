package services

import (
	"strings"

	"github.com/switchboardhq/switchboard/internal/core/ports"
)

// extractorState is the phase of one streaming extraction.
type extractorState int

const (
	// stateBuffering: chunks accumulate until a respond action is visible.
	stateBuffering extractorState = iota
	// stateEmitting: the response span is being forwarded to the sink.
	stateEmitting
	// stateSuppressed: a REASONING marker appeared; nothing further is
	// emitted for this model call. Absorbing.
	stateSuppressed
)

// respondTriggers are the buffer substrings that prove the model chose the
// respond action. Verb matching here is exact: the model is instructed to
// emit these forms verbatim.
var respondTriggers = []string{
	MarkerAction + " " + verbRespond,
	MarkerAction + verbRespond,
}

// terminatingMarkers end the emittable response span. REASONING detection is
// case-insensitive; the others are exact.
var terminatingMarkers = []string{MarkerAction, MarkerTool, MarkerParameters, MarkerReasoning}

// StreamExtractor forwards only the final-answer portion of one streaming
// model call to a sink, suppressing the reasoning tail in real time. One
// instance per model call; instances own all their state and are never
// shared across concurrent executions.
//
// The extractor guarantees the sink never receives any substring of the
// REASONING marker, even when chunk boundaries split it, at the cost of a
// few characters of latency while partial marker prefixes are held back.
// The full unfiltered accumulation stays available via Text() for decoding.
type StreamExtractor struct {
	sink      ports.ChunkSink
	buf       strings.Builder
	state     extractorState
	respStart int // byte offset just past RESPONSE: (plus skipped whitespace)
	emitted   int // bytes of the response span already sent
}

// NewStreamExtractor creates an extractor writing safe text to sink.
// A nil sink makes the extractor a pure accumulator.
func NewStreamExtractor(sink ports.ChunkSink) *StreamExtractor {
	if sink == nil {
		sink = func(string) {}
	}
	return &StreamExtractor{sink: sink}
}

// Feed appends one raw chunk and forwards whatever new response text has
// become provably safe.
func (e *StreamExtractor) Feed(chunk string) {
	e.buf.WriteString(chunk)
	if e.state == stateSuppressed {
		return
	}

	buf := e.buf.String()

	if e.state == stateBuffering {
		if start, ok := responseSpanStart(buf); ok {
			e.state = stateEmitting
			e.respStart = start
		} else {
			// A reasoning marker without a visible respond action means a
			// think or tool completion: nothing from it may ever leak.
			if reasoningIndex(buf) >= 0 {
				e.state = stateSuppressed
			}
			return
		}
	}

	e.emitSafe(buf, false)
}

// Finish flushes text held back for a partial marker that the ended stream
// can no longer complete. Call once after the final chunk.
func (e *StreamExtractor) Finish() {
	if e.state != stateEmitting {
		return
	}
	e.emitSafe(e.buf.String(), true)
}

// Text returns the complete, unfiltered model output. Suppression only
// affects the live sink; the action decoder always sees everything.
func (e *StreamExtractor) Text() string {
	return e.buf.String()
}

// emitSafe recomputes the safe response span and sends the newly-safe
// suffix. With eof set, partial marker prefixes no longer hold anything
// back since they can never complete.
func (e *StreamExtractor) emitSafe(buf string, eof bool) {
	// Leading whitespace after RESPONSE: is skipped, never emitted.
	for e.emitted == 0 && e.respStart < len(buf) && isSpace(buf[e.respStart]) {
		e.respStart++
	}
	span := buf[e.respStart:]

	end := len(span)
	terminated := false
	for _, marker := range terminatingMarkers {
		var idx int
		if marker == MarkerReasoning {
			idx = indexCaseInsensitive(span, marker)
		} else {
			idx = strings.Index(span, marker)
		}
		if idx >= 0 && idx < end {
			end = idx
			terminated = true
		}
	}

	if terminated || eof {
		// The span is final: trailing whitespace before the marker (or at
		// end of stream) is not part of the answer.
		end = len(strings.TrimRight(span[:end], " \t\r\n"))
	} else {
		end -= holdbackLen(span[:end])
	}

	if end > e.emitted {
		e.sink(span[e.emitted:end])
		e.emitted = end
	}

	if terminated {
		e.state = stateSuppressed
	}
}

// responseSpanStart reports where emittable text begins: just past the
// RESPONSE: marker, provided a respond action is already visible.
func responseSpanStart(buf string) (int, bool) {
	triggered := false
	for _, t := range respondTriggers {
		if strings.Contains(buf, t) {
			triggered = true
			break
		}
	}
	if !triggered {
		return 0, false
	}
	idx := strings.Index(buf, MarkerResponse)
	if idx < 0 {
		return 0, false
	}
	return idx + len(MarkerResponse), true
}

// holdbackLen returns how many trailing bytes of s must be withheld because
// they could still become a terminating marker: optional whitespace followed
// by a prefix of one, or bare trailing whitespace.
func holdbackLen(s string) int {
	for j := 0; j < len(s); j++ {
		if holdable(s[j:]) {
			return len(s) - j
		}
	}
	return 0
}

// holdable reports whether tail is whitespace optionally followed by a
// marker prefix (case-insensitive for REASONING).
func holdable(tail string) bool {
	i := 0
	for i < len(tail) && isSpace(tail[i]) {
		i++
	}
	rest := tail[i:]
	if rest == "" {
		return true
	}
	for _, marker := range terminatingMarkers {
		if len(rest) > len(marker) {
			continue
		}
		if marker == MarkerReasoning {
			if strings.EqualFold(rest, marker[:len(rest)]) {
				return true
			}
		} else if rest == marker[:len(rest)] {
			return true
		}
	}
	return false
}

// reasoningIndex finds the REASONING marker case-insensitively.
func reasoningIndex(s string) int {
	return indexCaseInsensitive(s, MarkerReasoning)
}

func indexCaseInsensitive(s, substr string) int {
	return strings.Index(strings.ToUpper(s), strings.ToUpper(substr))
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}
