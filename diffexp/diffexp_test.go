package diffexp

import (
	"math"
	"testing"

	"github.com/grailbio/singlecell/encoding/exprmat"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

// buildMatrix lays out one gene per column with explicit per-cell
// values; rows 0..4 are group A, rows 5..9 group B in the tests below.
func buildMatrix(genes []string, cols [][]float64) *exprmat.Matrix {
	gs := make([]exprmat.Gene, len(genes))
	for i, g := range genes {
		gs[i] = exprmat.Gene{ID: g, Symbol: g}
	}
	nCells := len(cols[0])
	barcodes := make([]string, nCells)
	for i := range barcodes {
		barcodes[i] = string(rune('a' + i))
	}
	m := exprmat.NewMatrix(barcodes, gs)
	for j, col := range cols {
		for i, v := range col {
			m.Set(i, j, v)
		}
	}
	return m
}

func TestRankSum(t *testing.T) {
	m := buildMatrix(
		[]string{"shifted", "flat"},
		[][]float64{
			// Clean separation between the groups.
			{5, 6, 7, 8, 9, 0, 1, 2, 3, 4},
			// Identical distribution in both groups.
			{1, 2, 3, 4, 5, 1, 2, 3, 4, 5},
		})
	groupA := []int{0, 1, 2, 3, 4}
	groupB := []int{5, 6, 7, 8, 9}
	results, err := RankSum(m, groupA, groupB)
	require.NoError(t, err)
	require.Len(t, results, 2)

	shifted, flat := results[0], results[1]
	expect.EQ(t, shifted.Log2FC, 5.0)
	expect.True(t, shifted.P < 0.05, "p=%v", shifted.P)
	expect.EQ(t, flat.Log2FC, 0.0)
	expect.True(t, flat.P > 0.5, "p=%v", flat.P)
	expect.True(t, shifted.FDR <= flat.FDR)

	for _, r := range results {
		expect.True(t, r.P > 0 && r.P <= 1, "%s: p=%v", r.Gene.ID, r.P)
		expect.True(t, r.FDR > 0 && r.FDR <= 1, "%s: fdr=%v", r.Gene.ID, r.FDR)
	}
}

func TestRankSumAllTied(t *testing.T) {
	m := buildMatrix([]string{"constant"}, [][]float64{{3, 3, 3, 3, 3, 3}})
	results, err := RankSum(m, []int{0, 1, 2}, []int{3, 4, 5})
	require.NoError(t, err)
	expect.EQ(t, results[0].P, 1.0)
}

func TestRankSumValidation(t *testing.T) {
	m := buildMatrix([]string{"g"}, [][]float64{{1, 2, 3}})
	_, err := RankSum(m, nil, []int{0})
	require.Error(t, err)
	_, err = RankSum(m, []int{0, 1}, []int{1, 2})
	require.Error(t, err) // overlapping groups
}

func TestBenjaminiHochberg(t *testing.T) {
	results := []Result{
		{P: 0.01},
		{P: 0.04},
		{P: 0.03},
		{P: 0.8},
	}
	BenjaminiHochberg(results)
	// q_i = p_i * n / rank with the running minimum enforced from the
	// bottom: sorted p = .01 .03 .04 .8 -> raw q = .04 .06 .0533 .8 ->
	// adjusted q = .04 .0533 .0533 .8.
	expect.EQ(t, results[0].FDR, 0.04)
	expect.EQ(t, results[1].FDR, 0.16/3)
	expect.EQ(t, results[2].FDR, 0.16/3)
	expect.EQ(t, results[3].FDR, 0.8)

	// FDR is never below its p-value and never above 1.
	for _, r := range results {
		expect.GE(t, r.FDR, r.P)
		expect.LE(t, r.FDR, 1.0)
	}
}

func TestFilter(t *testing.T) {
	results := []Result{
		{Gene: exprmat.Gene{ID: "up"}, Log2FC: 2.5, FDR: 0.001},
		{Gene: exprmat.Gene{ID: "down"}, Log2FC: -3, FDR: 0.01},
		{Gene: exprmat.Gene{ID: "weak_fc"}, Log2FC: 1.0, FDR: 0.001},
		{Gene: exprmat.Gene{ID: "not_sig"}, Log2FC: 4, FDR: 0.2},
	}
	out := Filter(results, DefaultThresholds)
	require.Len(t, out, 2)
	expect.EQ(t, out[0].Gene.ID, "up")
	expect.EQ(t, out[1].Gene.ID, "down")
	expect.True(t, math.Abs(out[0].Log2FC) > DefaultThresholds.MinAbsLog2FC)
}

func TestMarkerOverlap(t *testing.T) {
	markers := exprmat.NewMarkerSet()
	markers.Add(exprmat.Marker{CellType: "tumor", Gene: exprmat.Gene{ID: "m1"}})
	markers.Add(exprmat.Marker{CellType: "tumor", Gene: exprmat.Gene{ID: "m2"}})
	markers.Add(exprmat.Marker{CellType: "other", Gene: exprmat.Gene{ID: "m3"}})

	filtered := []Result{
		{Gene: exprmat.Gene{ID: "m1"}},
		{Gene: exprmat.Gene{ID: "novel"}},
	}
	o := MarkerOverlap(filtered, markers, "tumor")
	require.Len(t, o.InBoth, 1)
	expect.EQ(t, o.InBoth[0].ID, "m1")
	require.Len(t, o.OnlySignificant, 1)
	expect.EQ(t, o.OnlySignificant[0].ID, "novel")
	require.Len(t, o.OnlyMarkers, 1)
	expect.EQ(t, o.OnlyMarkers[0].ID, "m2")
}
