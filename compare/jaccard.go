// Package compare measures agreement between two categorical label
// assignments over the same cell population: Jaccard contingency
// matrices and raw confusion counts.
package compare

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Contingency is a rows-by-columns matrix of float64 similarity values
// with named axes. Rows are the categories of assignment A, columns the
// categories of assignment B.
type Contingency struct {
	RowLabels []string
	ColLabels []string
	data      []float64 // row-major
}

func newContingency(rows, cols []string) *Contingency {
	return &Contingency{
		RowLabels: rows,
		ColLabels: cols,
		data:      make([]float64, len(rows)*len(cols)),
	}
}

// At returns the value at row i, column j.
func (c *Contingency) At(i, j int) float64 { return c.data[i*len(c.ColLabels)+j] }

func (c *Contingency) set(i, j int, v float64) { c.data[i*len(c.ColLabels)+j] = v }

// String renders the matrix with aligned columns for log output.
func (c *Contingency) String() string {
	width := 0
	for _, l := range append(append([]string{}, c.RowLabels...), c.ColLabels...) {
		if len(l) > width {
			width = len(l)
		}
	}
	format := func(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }
	for _, v := range c.data {
		if l := len(format(v)); l > width {
			width = l
		}
	}

	var lines []string
	parts := []string{fmt.Sprintf("%*s", width, "")}
	for _, l := range c.ColLabels {
		parts = append(parts, fmt.Sprintf("%*s", width, l))
	}
	lines = append(lines, strings.Join(parts, " | "))
	for i, rl := range c.RowLabels {
		parts = []string{fmt.Sprintf("%*s", width, rl)}
		for j := range c.ColLabels {
			parts = append(parts, fmt.Sprintf("%*s", width, format(c.At(i, j))))
		}
		lines = append(lines, strings.Join(parts, " | "))
	}
	return strings.Join(lines, "\n")
}

// categories collects the label sets of an assignment, sorted, plus the
// per-category cell sets.
func categories(a map[string]string) ([]string, map[string]map[string]bool) {
	sets := make(map[string]map[string]bool)
	for cell, label := range a {
		s, ok := sets[label]
		if !ok {
			s = make(map[string]bool)
			sets[label] = s
		}
		s[cell] = true
	}
	labels := make([]string, 0, len(sets))
	for l := range sets {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels, sets
}

// Jaccard builds the contingency matrix whose (i, j) entry is the
// Jaccard index |A_i ∩ B_j| / |A_i ∪ B_j| between the set of cells
// labeled i under a and the set labeled j under b. Values lie in
// [0, 1]; an empty union (a category absent from both) is defined as 0.
// Cells present in only one assignment still count toward the union of
// their category, so J is computed over the full population.
func Jaccard(a, b map[string]string) *Contingency {
	rowLabels, aSets := categories(a)
	colLabels, bSets := categories(b)
	c := newContingency(rowLabels, colLabels)
	for i, rl := range rowLabels {
		for j, cl := range colLabels {
			c.set(i, j, jaccardIndex(aSets[rl], bSets[cl]))
		}
	}
	return c
}

func jaccardIndex(a, b map[string]bool) float64 {
	inter := 0
	for cell := range a {
		if b[cell] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0 // 0/0 by convention
	}
	return float64(inter) / float64(union)
}

// Confusion cross-tabulates two assignments: entry (i, j) is the number
// of cells labeled i under a and j under b. Cells missing from either
// side are not counted.
func Confusion(a, b map[string]string) *Contingency {
	rowLabels, _ := categories(a)
	colLabels, _ := categories(b)
	rowIdx := make(map[string]int, len(rowLabels))
	for i, l := range rowLabels {
		rowIdx[l] = i
	}
	colIdx := make(map[string]int, len(colLabels))
	for j, l := range colLabels {
		colIdx[l] = j
	}
	c := newContingency(rowLabels, colLabels)
	for cell, la := range a {
		lb, ok := b[cell]
		if !ok {
			continue
		}
		i, j := rowIdx[la], colIdx[lb]
		c.set(i, j, c.At(i, j)+1)
	}
	return c
}
