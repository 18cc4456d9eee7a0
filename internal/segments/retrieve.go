package segments

import (
	"context"
	"fmt"
	"strings"

	"castline/internal/logging"
	"castline/internal/store"
	"castline/internal/textutil"
)

// Retrieval is the grounding context selected for one generation call.
type Retrieval struct {
	Query    string
	Segments []store.Segment
	Hits     int
	Fallback bool
}

// BuildQuery turns free text into an FTS5 expression: keywords minus
// stopwords, each quoted, joined with OR. It returns "" when nothing usable
// remains.
func BuildQuery(text string) string {
	keywords := textutil.Keywords(text)
	if len(keywords) == 0 {
		return ""
	}
	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		quoted[i] = `"` + strings.ReplaceAll(kw, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// Retrieve selects up to k segments for the unit using its title and topic.
// When search returns fewer than k/2 hits the first k segments by ordinal
// are used instead. k <= 0 uses the configured default.
func (ix *Index) Retrieve(ctx context.Context, unit *store.Unit, k int) (Retrieval, error) {
	if unit == nil {
		return Retrieval{}, fmt.Errorf("retrieve segments: unit is nil")
	}
	if k <= 0 {
		k = ix.topK
	}
	result := Retrieval{Query: BuildQuery(unit.Title + " " + unit.Topic)}
	if result.Query != "" {
		hits, err := ix.store.SearchSegments(ctx, unit.ID, result.Query, k)
		if err != nil {
			return Retrieval{}, err
		}
		result.Hits = len(hits)
		if 2*len(hits) >= k {
			result.Segments = make([]store.Segment, len(hits))
			for i, hit := range hits {
				result.Segments[i] = hit.Segment
			}
			return result, nil
		}
	}

	first, err := ix.store.FirstSegments(ctx, unit.ID, k)
	if err != nil {
		return Retrieval{}, err
	}
	result.Segments = first
	result.Fallback = true
	ix.logger.Debug("retrieval fell back to leading segments",
		logging.Int64(logging.FieldUnitID, unit.ID),
		logging.Int("hits", result.Hits),
		logging.Int("k", k),
	)
	return result, nil
}

// Context joins retrieved segments into prompt text, one block per segment.
func (r Retrieval) Context() string {
	var b strings.Builder
	for i, seg := range r.Segments {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[segment %d, chars %d-%d]\n%s", seg.Ordinal, seg.Start, seg.End, seg.Text)
	}
	return b.String()
}
