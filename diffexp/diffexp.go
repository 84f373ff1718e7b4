// Package diffexp checks manual classifications against the data: given
// the two cell groups produced by a classification, it ranks genes by
// differential expression (Wilcoxon rank-sum with Benjamini-Hochberg
// FDR correction), filters to significance thresholds, and reports the
// overlap with a curated marker list.
package diffexp

import (
	"math"
	"sort"

	"github.com/grailbio/base/traverse"
	"github.com/grailbio/singlecell/encoding/exprmat"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Result is the differential-expression outcome for one gene between
// group A and group B.
type Result struct {
	Gene exprmat.Gene
	// MeanA and MeanB are group mean expressions (log scale preserved
	// from the input matrix).
	MeanA, MeanB float64
	// Log2FC is the group-mean difference. Inputs are log-normalized, so
	// a difference of means is a log fold-change.
	Log2FC float64
	// P is the two-sided Wilcoxon rank-sum p-value (normal approximation
	// with tie and continuity correction).
	P float64
	// FDR is the Benjamini-Hochberg adjusted p-value.
	FDR float64
}

// Thresholds are the fixed significance cutoffs applied by Filter.
type Thresholds struct {
	MaxFDR       float64
	MinAbsLog2FC float64
}

// DefaultThresholds mirror the workflow's fixed cutoffs.
var DefaultThresholds = Thresholds{MaxFDR: 0.05, MinAbsLog2FC: 1.5}

// RankSum tests every gene of m for a location shift between the cells
// indexed by groupA and groupB. Both groups must be nonempty and
// disjoint index sets into m's rows. Results come back in gene order
// with FDR already filled in.
func RankSum(m *exprmat.Matrix, groupA, groupB []int) ([]Result, error) {
	if len(groupA) == 0 || len(groupB) == 0 {
		return nil, errors.Errorf("both groups must be nonempty (got %d and %d cells)", len(groupA), len(groupB))
	}
	seen := make(map[int]bool, len(groupA))
	for _, i := range groupA {
		seen[i] = true
	}
	for _, i := range groupB {
		if seen[i] {
			return nil, errors.Errorf("cell %d is in both groups", i)
		}
	}

	results := make([]Result, m.NGenes())
	err := traverse.Each(m.NGenes(), func(j int) error {
		a := make([]float64, len(groupA))
		b := make([]float64, len(groupB))
		for k, i := range groupA {
			a[k] = m.At(i, j)
		}
		for k, i := range groupB {
			b[k] = m.At(i, j)
		}
		meanA := stat.Mean(a, nil)
		meanB := stat.Mean(b, nil)
		results[j] = Result{
			Gene:   m.Genes[j],
			MeanA:  meanA,
			MeanB:  meanB,
			Log2FC: meanA - meanB,
			P:      wilcoxonP(a, b),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	BenjaminiHochberg(results)
	return results, nil
}

// wilcoxonP computes the two-sided Mann-Whitney/Wilcoxon rank-sum
// p-value using the normal approximation, with midranks for ties, a
// tie-corrected variance, and a 0.5 continuity correction.
func wilcoxonP(a, b []float64) float64 {
	n1, n2 := float64(len(a)), float64(len(b))
	n := len(a) + len(b)
	type obs struct {
		v    float64
		inA  bool
		rank float64
	}
	all := make([]obs, 0, n)
	for _, v := range a {
		all = append(all, obs{v: v, inA: true})
	}
	for _, v := range b {
		all = append(all, obs{v: v})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].v < all[j].v })

	// Midranks and the tie-correction term sum(t^3 - t).
	tieTerm := 0.0
	for i := 0; i < n; {
		j := i
		for j < n && all[j].v == all[i].v {
			j++
		}
		mid := float64(i+j+1) / 2 // average of 1-based ranks i+1..j
		for k := i; k < j; k++ {
			all[k].rank = mid
		}
		t := float64(j - i)
		tieTerm += t*t*t - t
		i = j
	}

	rankSumA := 0.0
	for _, o := range all {
		if o.inA {
			rankSumA += o.rank
		}
	}
	u := rankSumA - n1*(n1+1)/2
	mu := n1 * n2 / 2
	nf := float64(n)
	variance := n1 * n2 / 12 * ((nf + 1) - tieTerm/(nf*(nf-1)))
	if variance <= 0 {
		return 1 // every value tied; no evidence of a shift
	}
	z := u - mu
	switch {
	case z > 0:
		z -= 0.5
	case z < 0:
		z += 0.5
	}
	z /= math.Sqrt(variance)
	p := 2 * distuv.UnitNormal.CDF(-math.Abs(z))
	if p > 1 {
		p = 1
	}
	return p
}

// BenjaminiHochberg fills the FDR field of every result from the P
// fields: p*n/rank with the running minimum enforced from the least
// significant p downward.
func BenjaminiHochberg(results []Result) {
	n := len(results)
	if n == 0 {
		return
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return results[order[a]].P < results[order[b]].P })
	minSoFar := 1.0
	for k := n - 1; k >= 0; k-- {
		idx := order[k]
		q := results[idx].P * float64(n) / float64(k+1)
		if q < minSoFar {
			minSoFar = q
		}
		results[idx].FDR = minSoFar
	}
}

// Filter returns the results passing the thresholds, sorted by
// ascending FDR then descending |Log2FC|.
func Filter(results []Result, th Thresholds) []Result {
	var out []Result
	for _, r := range results {
		if r.FDR < th.MaxFDR && math.Abs(r.Log2FC) > th.MinAbsLog2FC {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FDR != out[j].FDR {
			return out[i].FDR < out[j].FDR
		}
		return math.Abs(out[i].Log2FC) > math.Abs(out[j].Log2FC)
	})
	return out
}

// Overlap summarizes how a filtered differential-expression result set
// intersects a curated marker panel.
type Overlap struct {
	// InBoth are significant genes that are also curated markers.
	InBoth []exprmat.Gene
	// OnlySignificant are significant genes absent from the panel.
	OnlySignificant []exprmat.Gene
	// OnlyMarkers are panel genes that did not reach significance.
	OnlyMarkers []exprmat.Gene
}

// MarkerOverlap intersects the filtered results with the marker genes
// of the given cell type.
func MarkerOverlap(filtered []Result, markers *exprmat.MarkerSet, cellType string) Overlap {
	panel := markers.Genes(cellType)
	inPanel := make(map[string]bool, len(panel))
	for _, g := range panel {
		inPanel[g.ID] = true
	}
	hit := make(map[string]bool)
	var o Overlap
	for _, r := range filtered {
		if inPanel[r.Gene.ID] {
			o.InBoth = append(o.InBoth, r.Gene)
			hit[r.Gene.ID] = true
		} else {
			o.OnlySignificant = append(o.OnlySignificant, r.Gene)
		}
	}
	for _, g := range panel {
		if !hit[g.ID] {
			o.OnlyMarkers = append(o.OnlyMarkers, g)
		}
	}
	return o
}
