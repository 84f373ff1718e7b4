package compare

import (
	"strings"
	"testing"

	"github.com/grailbio/testutil/expect"
)

func labelCells(label string, cells ...string) map[string]string {
	out := make(map[string]string)
	for _, c := range cells {
		out[c] = label
	}
	return out
}

func merge(ms ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range ms {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

func TestJaccardSelf(t *testing.T) {
	a := merge(
		labelCells("Tumor", "c1", "c2", "c3"),
		labelCells("Normal", "c4", "c5"),
	)
	c := Jaccard(a, a)
	expect.EQ(t, c.RowLabels, []string{"Normal", "Tumor"})
	expect.EQ(t, c.ColLabels, []string{"Normal", "Tumor"})
	// J(X, X) = 1 on the diagonal, 0 off it (disjoint categories).
	expect.EQ(t, c.At(0, 0), 1.0)
	expect.EQ(t, c.At(1, 1), 1.0)
	expect.EQ(t, c.At(0, 1), 0.0)
	expect.EQ(t, c.At(1, 0), 0.0)
}

func TestJaccardSymmetricInValue(t *testing.T) {
	a := merge(
		labelCells("Tumor", "c1", "c2", "c3", "c4"),
		labelCells("Normal", "c5", "c6"),
	)
	b := merge(
		labelCells("malignant", "c1", "c2", "c7"),
		labelCells("benign", "c3", "c4", "c5", "c6"),
	)
	ab := Jaccard(a, b)
	ba := Jaccard(b, a)
	for i, rl := range ab.RowLabels {
		for j, cl := range ab.ColLabels {
			// Find the transposed position in ba.
			var bi, bj int
			for k, l := range ba.RowLabels {
				if l == cl {
					bi = k
				}
			}
			for k, l := range ba.ColLabels {
				if l == rl {
					bj = k
				}
			}
			expect.EQ(t, ab.At(i, j), ba.At(bi, bj), "J(%s,%s)", rl, cl)
		}
	}
}

func TestJaccardRangeAndValues(t *testing.T) {
	a := merge(
		labelCells("Tumor", "c1", "c2", "c3"),
		labelCells("Normal", "c4"),
	)
	b := merge(
		labelCells("Tumor", "c1", "c2"),
		labelCells("Normal", "c3", "c4"),
	)
	c := Jaccard(a, b)
	for i := range c.RowLabels {
		for j := range c.ColLabels {
			v := c.At(i, j)
			expect.GE(t, v, 0.0)
			expect.LE(t, v, 1.0)
		}
	}
	// Tumor∩Tumor = {c1,c2}, union {c1,c2,c3}.
	ti, tj := 1, 1 // sorted labels: [Normal, Tumor]
	expect.EQ(t, c.At(ti, tj), 2.0/3.0)
	// Normal∩Normal = {c4}, union {c3,c4}.
	expect.EQ(t, c.At(0, 0), 0.5)
}

func TestJaccardDisjointPopulations(t *testing.T) {
	// Cells present in only one assignment still count toward unions,
	// so fully disjoint populations give 0 everywhere.
	a := labelCells("Tumor", "c1", "c2")
	b := labelCells("Tumor", "c3", "c4")
	c := Jaccard(a, b)
	expect.EQ(t, c.At(0, 0), 0.0)
}

func TestConfusionCounts(t *testing.T) {
	a := merge(
		labelCells("Tumor", "c1", "c2", "c3"),
		labelCells("Normal", "c4", "c5"),
	)
	b := merge(
		labelCells("Tumor", "c1", "c2"),
		labelCells("Normal", "c3", "c4", "c5"),
		labelCells("Tumor", "c9"), // not in a: ignored
	)
	c := Confusion(a, b)
	// Rows/cols sorted: [Normal, Tumor].
	expect.EQ(t, c.At(1, 1), 2.0) // Tumor/Tumor
	expect.EQ(t, c.At(1, 0), 1.0) // Tumor/Normal (c3)
	expect.EQ(t, c.At(0, 0), 2.0) // Normal/Normal
	expect.EQ(t, c.At(0, 1), 0.0)
}

func TestContingencyString(t *testing.T) {
	a := labelCells("Tumor", "c1")
	s := Jaccard(a, a).String()
	expect.True(t, strings.Contains(s, "Tumor"))
	expect.True(t, strings.Contains(s, "1.000"))
}
