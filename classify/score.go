package classify

import (
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/singlecell/encoding/exprmat"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// ErrNoExpression is returned when no marker gene has any nonzero
// expression across all cells. Classifying such a sample would call
// every cell Normal; callers must emit the NotApplicable sentinel
// instead.
var ErrNoExpression = errors.New("no marker gene is expressed in any cell")

// Scores holds the per-cell composite score for one sample along with
// everything needed to interpret it.
type Scores struct {
	// Composite[i] is the sum over used marker genes of the per-gene
	// z-score of cell i.
	Composite []float64
	// RawSums[i] is the sum of raw expression of cell i over used marker
	// genes. TransferCutoff and ByCutoff operate on this scale.
	RawSums []float64
	// Used are the marker genes that entered the composite.
	Used []exprmat.Gene
	// Constant are marker genes whose expression is identical in every
	// cell. Their z-scores are undefined (zero standard deviation), so
	// they are excluded from the composite and must be reported.
	Constant []exprmat.Gene
}

// Standardize z-scores each column of m in place of a copy: for every
// gene, subtract the column mean and divide by the column sample
// standard deviation. Columns with zero standard deviation are left
// unstandardized and returned separately; they are never silently
// zeroed.
func Standardize(m *exprmat.Matrix) (*exprmat.Matrix, []exprmat.Gene, error) {
	nCells, nGenes := m.NCells(), m.NGenes()
	if nCells == 0 || nGenes == 0 {
		return nil, nil, errors.New("empty matrix")
	}
	z := exprmat.NewMatrix(m.Barcodes, m.Genes)
	constant := make([]bool, nGenes)
	err := traverse.Each(nGenes, func(j int) error {
		col := make([]float64, nCells)
		m.Col(j, col)
		mean := stat.Mean(col, nil)
		sd := stat.StdDev(col, nil)
		if sd == 0 || nCells < 2 {
			// Keep the raw values so the column never looks like a
			// legitimate all-zero z-score.
			constant[j] = true
			for i, v := range col {
				z.Set(i, j, v)
			}
			return nil
		}
		for i, v := range col {
			z.Set(i, j, (v-mean)/sd)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	var constGenes []exprmat.Gene
	for j, c := range constant {
		if c {
			constGenes = append(constGenes, m.Genes[j])
		}
	}
	return z, constGenes, nil
}

// Score computes the composite marker score of every cell: per-gene
// z-scores summed per cell, skipping constant genes. m must already be
// restricted to the marker genes of interest (see exprmat.Matrix.Subset).
// If nothing is expressed, ErrNoExpression is returned and the caller
// emits NotApplicable for every cell.
func Score(m *exprmat.Matrix, stats *Stats) (*Scores, error) {
	allZero := true
	for i := 0; i < m.NCells() && allZero; i++ {
		for _, v := range m.Row(i) {
			if v != 0 {
				allZero = false
				break
			}
		}
	}
	if allZero {
		return nil, ErrNoExpression
	}

	z, constGenes, err := Standardize(m)
	if err != nil {
		return nil, err
	}
	constSet := make(map[string]bool, len(constGenes))
	for _, g := range constGenes {
		constSet[g.ID] = true
	}

	s := &Scores{
		Composite: make([]float64, m.NCells()),
		RawSums:   make([]float64, m.NCells()),
		Constant:  constGenes,
	}
	for _, g := range m.Genes {
		if !constSet[g.ID] {
			s.Used = append(s.Used, g)
		}
	}
	if len(s.Used) == 0 {
		// Nonzero but constant everywhere; no gene carries signal.
		return nil, ErrNoExpression
	}
	for i := range m.Barcodes {
		var comp, raw float64
		zRow, mRow := z.Row(i), m.Row(i)
		for j, g := range m.Genes {
			if constSet[g.ID] {
				continue
			}
			comp += zRow[j]
			raw += mRow[j]
		}
		s.Composite[i] = comp
		s.RawSums[i] = raw
	}
	if stats != nil {
		stats.Cells += m.NCells()
		stats.MarkerGenes += len(s.Used)
		stats.ConstantGenes += len(constGenes)
	}
	return s, nil
}

// SetScore computes the per-cell mean expression over a gene set: the
// gene-set score used alongside (but independent of) the binary
// classification. Genes absent from m are ignored; if none are present
// the result is all NaN-free zeros and ok is false.
func SetScore(m *exprmat.Matrix, genes []exprmat.Gene) (scores []float64, ok bool) {
	var cols []int
	for _, g := range genes {
		if j := m.GeneIndex(g.ID); j >= 0 {
			cols = append(cols, j)
		}
	}
	scores = make([]float64, m.NCells())
	if len(cols) == 0 {
		return scores, false
	}
	for i := range m.Barcodes {
		row := m.Row(i)
		s := 0.0
		for _, j := range cols {
			s += row[j]
		}
		scores[i] = s / float64(len(cols))
	}
	return scores, true
}
