package segments_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castline/internal/segments"
)

func plainText(n int) string {
	var b strings.Builder
	for b.Len() < n {
		b.WriteString("word ")
	}
	out := []rune(b.String())[:n]
	out[n-1] = 'x'
	return string(out)
}

func TestSplitExampleFourSegments(t *testing.T) {
	text := plainText(4000)
	spans, err := segments.Split(text, segments.Options{Length: 1500, Overlap: 0.15, SnapWindow: 80})
	require.NoError(t, err)
	require.Len(t, spans, 4)

	expected := [][2]int{{0, 1500}, {1275, 2775}, {2550, 4000}, {3825, 4000}}
	for i, span := range spans {
		assert.Equal(t, i, span.Ordinal)
		assert.Equal(t, expected[i][0], span.Start, "start of segment %d", i)
		assert.Equal(t, expected[i][1], span.End, "end of segment %d", i)
	}
	assert.Equal(t, 375, spans[0].TokenEstimate())
}

func TestSplitCoversTextWithoutGaps(t *testing.T) {
	sentence := "The river carried silt to the delta every spring. "
	text := strings.TrimSpace(strings.Repeat(sentence, 120))
	n := len([]rune(text))

	for _, opts := range []segments.Options{
		{Length: 500, Overlap: 0.15, SnapWindow: 40},
		{Length: 300, Overlap: 0, SnapWindow: 60},
		{Length: 1000, Overlap: 0.5, SnapWindow: 10},
	} {
		spans, err := segments.Split(text, opts)
		require.NoError(t, err)
		require.NotEmpty(t, spans)
		assert.Equal(t, 0, spans[0].Start)
		assert.Equal(t, n, spans[len(spans)-1].End)
		for i := 1; i < len(spans); i++ {
			prev, cur := spans[i-1], spans[i]
			assert.LessOrEqual(t, cur.Start, prev.End, "gap before segment %d", i)
			assert.Greater(t, cur.Start, prev.Start, "segment %d does not advance", i)
			assert.Less(t, cur.Start, cur.End)
			if prev.End == n {
				// the text end clamps the tail, so its overlap is shorter
				continue
			}
			want := float64(opts.Length) * opts.Overlap
			assert.InDelta(t, want, float64(prev.End-cur.Start), float64(2*opts.SnapWindow+1),
				"overlap between segments %d and %d", i-1, i)
		}
	}
}

func TestSplitSnapsToSentenceEnds(t *testing.T) {
	sentence := "Bees visit clover at dawn. "
	text := strings.TrimSpace(strings.Repeat(sentence, 60))
	spans, err := segments.Split(text, segments.Options{Length: 400, Overlap: 0.2, SnapWindow: 30})
	require.NoError(t, err)
	for i, span := range spans[:len(spans)-1] {
		assert.True(t, strings.HasSuffix(span.Text, "."), "segment %d should end on a sentence: %q", i, span.Text[len(span.Text)-10:])
		if i > 0 {
			assert.True(t, strings.HasPrefix(span.Text, "Bees"), "segment %d should start a sentence", i)
		}
	}
}

func TestSplitEmptyAndInvalid(t *testing.T) {
	spans, err := segments.Split("", segments.Options{Length: 100, Overlap: 0.1})
	require.NoError(t, err)
	assert.Empty(t, spans)

	_, err = segments.Split("text", segments.Options{Length: 0})
	assert.Error(t, err)
	_, err = segments.Split("text", segments.Options{Length: 100, Overlap: 1})
	assert.Error(t, err)
}

func TestShortTextIsOneSegment(t *testing.T) {
	spans, err := segments.Split("Short episode.", segments.Options{Length: 1500, Overlap: 0.15, SnapWindow: 80})
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "Short episode.", spans[0].Text)
}
