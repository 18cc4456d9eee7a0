package segments

import (
	"errors"
	"math"
	"unicode"
)

// Options controls segmentation.
type Options struct {
	// Length is the nominal segment length in runes.
	Length int
	// Overlap is the fraction of Length shared by consecutive segments.
	Overlap float64
	// SnapWindow is how far, in runes, a boundary may move to land on a
	// sentence end.
	SnapWindow int
}

// Validate checks that the options produce a forward-moving walk.
func (o Options) Validate() error {
	if o.Length <= 0 {
		return errors.New("segment length must be positive")
	}
	if o.Overlap < 0 || o.Overlap >= 1 {
		return errors.New("overlap must be in [0, 1)")
	}
	if o.SnapWindow < 0 {
		return errors.New("snap window must not be negative")
	}
	if o.step() < 1 {
		return errors.New("segment length and overlap leave no forward step")
	}
	return nil
}

func (o Options) step() float64 {
	return float64(o.Length) * (1 - o.Overlap)
}

// Span is one segment boundary pair over normalized text.
type Span struct {
	Ordinal int
	Start   int
	End     int
	Text    string
}

// TokenEstimate is the language-agnostic rune count heuristic.
func (s Span) TokenEstimate() int {
	return EstimateTokens(s.End - s.Start)
}

// EstimateTokens approximates tokens for a run of n runes.
func EstimateTokens(n int) int {
	return n / 4
}

// Split walks normalized text in steps of Length*(1-Overlap) and returns the
// overlapping spans. Interior boundaries snap to the nearest sentence end
// within SnapWindow. The first span starts at 0, the last ends at the end of
// the text, and no span starts after its predecessor ends.
func Split(text string, opts Options) ([]Span, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}

	step := opts.step()
	window := opts.SnapWindow
	var spans []Span
	prevStart, prevEnd := -1, 0
	for i := 0; ; i++ {
		nominalStart := int(math.Round(float64(i) * step))
		if nominalStart >= n {
			break
		}
		nominalEnd := min(nominalStart+opts.Length, n)

		start := 0
		if i > 0 {
			start = snapStart(runes, nominalStart, window)
			if start > prevEnd {
				start = prevEnd
			}
			if start <= prevStart {
				start = min(nominalStart, prevEnd)
			}
		}
		end := nominalEnd
		if end < n {
			end = snapEnd(runes, nominalEnd, window)
		}
		if end <= start {
			end = max(nominalEnd, start+1)
		}

		spans = append(spans, Span{
			Ordinal: i,
			Start:   start,
			End:     end,
			Text:    string(runes[start:end]),
		})
		prevStart, prevEnd = start, end
	}
	return spans, nil
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。':
		return true
	}
	return false
}

// isSentenceEnd reports whether pos (exclusive end offset) closes a sentence.
func isSentenceEnd(runes []rune, pos int) bool {
	if pos <= 0 || pos > len(runes) || !isTerminator(runes[pos-1]) {
		return false
	}
	return pos == len(runes) || unicode.IsSpace(runes[pos])
}

func snapEnd(runes []rune, target, window int) int {
	for d := 0; d <= window; d++ {
		if isSentenceEnd(runes, target-d) {
			return target - d
		}
		if target+d <= len(runes) && isSentenceEnd(runes, target+d) {
			return target + d
		}
	}
	return target
}

// snapStart moves a start offset onto the first rune of a sentence.
func snapStart(runes []rune, target, window int) int {
	isSentenceStart := func(pos int) bool {
		if pos <= 0 || pos >= len(runes) {
			return false
		}
		if unicode.IsSpace(runes[pos]) {
			return false
		}
		end := pos
		if unicode.IsSpace(runes[pos-1]) {
			end = pos - 1
		}
		return isSentenceEnd(runes, end)
	}
	for d := 0; d <= window; d++ {
		if isSentenceStart(target - d) {
			return target - d
		}
		if isSentenceStart(target + d) {
			return target + d
		}
	}
	return target
}
