package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chongzixuan-ai/logminer-qa/internal/detector"
)

func span(category string, start, end, sensitivity int) detector.Match {
	return detector.Match{Category: category, Start: start, End: end, Sensitivity: sensitivity}
}

func TestResolveSpans(t *testing.T) {
	tests := []struct {
		name string
		in   []detector.Match
		want []detector.Match
	}{
		{
			name: "empty",
			in:   nil,
			want: nil,
		},
		{
			name: "longest wins at same start",
			in: []detector.Match{
				span("ACCOUNT", 0, 10, 2),
				span("CREDIT_CARD", 0, 16, 3),
			},
			want: []detector.Match{span("CREDIT_CARD", 0, 16, 3)},
		},
		{
			name: "higher sensitivity wins equal spans",
			in: []detector.Match{
				span("ACCOUNT", 0, 16, 2),
				span("CREDIT_CARD", 0, 16, 3),
			},
			want: []detector.Match{span("CREDIT_CARD", 0, 16, 3)},
		},
		{
			name: "overlapping later span discarded",
			in: []detector.Match{
				span("CREDIT_CARD", 0, 16, 3),
				span("PHONE", 5, 20, 1),
				span("EMAIL", 16, 30, 1),
			},
			want: []detector.Match{
				span("CREDIT_CARD", 0, 16, 3),
				span("EMAIL", 16, 30, 1),
			},
		},
		{
			name: "leftmost accepted even when a longer span overlaps it",
			in: []detector.Match{
				span("PHONE", 2, 20, 1),
				span("SSN", 0, 5, 3),
			},
			want: []detector.Match{span("SSN", 0, 5, 3)},
		},
		{
			name: "disjoint spans all survive in order",
			in: []detector.Match{
				span("EMAIL", 20, 30, 1),
				span("SSN", 0, 11, 3),
			},
			want: []detector.Match{
				span("SSN", 0, 11, 3),
				span("EMAIL", 20, 30, 1),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveSpans(tt.in)
			assert.Equal(t, tt.want, got)

			// Pairwise non-overlap is an invariant of the output.
			for i := 1; i < len(got); i++ {
				require.GreaterOrEqual(t, got[i].Start, got[i-1].End)
			}
		})
	}
}
