package sanitize

import (
	"sort"

	"github.com/chongzixuan-ai/logminer-qa/internal/detector"
)

// resolveSpans reduces an unordered raw match list to a deterministic,
// non-overlapping, leftmost-longest cover. Matches are sorted by start
// ascending, then length descending (a 16-digit card number beats a 10-digit
// account sub-match at the same offset), then sensitivity descending so equal
// spans from different recognizers resolve the same way every run. A span is
// accepted when it starts at or after the end of the last accepted span.
func resolveSpans(matches []detector.Match) []detector.Match {
	if len(matches) == 0 {
		return nil
	}

	sorted := make([]detector.Match, len(matches))
	copy(sorted, matches)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		if sorted[i].Len() != sorted[j].Len() {
			return sorted[i].Len() > sorted[j].Len()
		}
		return sorted[i].Sensitivity > sorted[j].Sensitivity
	})

	var accepted []detector.Match
	for _, m := range sorted {
		if len(accepted) == 0 || m.Start >= accepted[len(accepted)-1].End {
			accepted = append(accepted, m)
		}
	}
	return accepted
}
