package classify

import (
	"testing"

	"github.com/grailbio/testutil/expect"
)

func TestBySign(t *testing.T) {
	labels := BySign([]float64{-1.5, 0, 1e-9, 3})
	expect.EQ(t, labels, []Label{Normal, Normal, Tumor, Tumor})
}

func TestByCutoff(t *testing.T) {
	scores := []float64{1, 2, 3, 4}
	expect.EQ(t, ByCutoff(scores, 2.5), []Label{Normal, Normal, Tumor, Tumor})
	// Strictly greater: a score equal to the cutoff is Normal.
	expect.EQ(t, ByCutoff(scores, 3), []Label{Normal, Normal, Normal, Tumor})
}

func TestSentinel(t *testing.T) {
	labels := Sentinel(3)
	expect.EQ(t, labels, []Label{NotApplicable, NotApplicable, NotApplicable})
}

func TestCount(t *testing.T) {
	stats := Stats{}
	Count([]Label{Tumor, Tumor, Normal, Ambiguous, NotApplicable, NA}, &stats)
	expect.EQ(t, stats.TumorCalls, 2)
	expect.EQ(t, stats.NormalCalls, 1)
	expect.EQ(t, stats.AmbiguousCalls, 1)
	expect.EQ(t, stats.SentinelCalls, 1)
	expect.EQ(t, stats.MissingCalls, 1)

	merged := stats.Merge(stats)
	expect.EQ(t, merged.TumorCalls, 4)
	expect.EQ(t, merged.MissingCalls, 2)
}
