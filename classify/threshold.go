package classify

// BySign classifies each cell from its composite z-score sum: strictly
// positive is Tumor, anything else is Normal. Deterministic: identical
// scores always yield identical labels.
func BySign(scores []float64) []Label {
	return ByCutoff(scores, 0)
}

// ByCutoff classifies each cell by comparing its score against a scalar
// cutoff: strictly greater is Tumor, else Normal.
func ByCutoff(scores []float64, cutoff float64) []Label {
	labels := make([]Label, len(scores))
	for i, s := range scores {
		if s > cutoff {
			labels[i] = Tumor
		} else {
			labels[i] = Normal
		}
	}
	return labels
}

// Sentinel returns a NotApplicable label for every one of n cells. Used
// when classification is skipped for the whole sample.
func Sentinel(n int) []Label {
	labels := make([]Label, n)
	for i := range labels {
		labels[i] = NotApplicable
	}
	return labels
}

// Count tallies labels into stats.
func Count(labels []Label, stats *Stats) {
	if stats == nil {
		return
	}
	for _, l := range labels {
		switch l {
		case Tumor:
			stats.TumorCalls++
		case Normal:
			stats.NormalCalls++
		case Ambiguous:
			stats.AmbiguousCalls++
		case NotApplicable:
			stats.SentinelCalls++
		default:
			stats.MissingCalls++
		}
	}
}
