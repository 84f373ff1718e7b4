// Package exprmat contains code for loading single-cell expression
// matrices and their companion tables (cell barcodes, gene features,
// marker-gene references, per-cell label assignments).
//
// Two matrix encodings are supported:
//
//   - The MatrixMarket triple produced by common quantification
//     pipelines: a sparse coordinate matrix.mtx[.gz] whose rows are
//     genes and whose columns are cells, plus a one-column
//     barcodes.tsv[.gz] and a features TSV with (gene_id, gene_symbol)
//     columns.
//
//   - A dense TSV with a header row of gene identifiers and one row per
//     cell, first column being the cell barcode.
//
// All loaders accept gzip-compressed files transparently, keyed off the
// file name.
package exprmat

import (
	"fmt"
	"sort"

	"github.com/minio/highwayhash"
)

// Gene identifies one gene: a stable identifier (e.g. an Ensembl ID)
// and a human-readable display symbol.
type Gene struct {
	ID     string
	Symbol string
}

func (g Gene) String() string {
	if g.Symbol == "" || g.Symbol == g.ID {
		return g.ID
	}
	return g.ID + "(" + g.Symbol + ")"
}

// Matrix is a dense cells-by-genes expression matrix. Row i holds the
// expression vector of cell Barcodes[i]; column j holds gene Genes[j].
type Matrix struct {
	Barcodes []string
	Genes    []Gene
	data     []float64 // row-major, len(Barcodes)*len(Genes)
}

// NewMatrix returns a zero-filled matrix with the given axes.
func NewMatrix(barcodes []string, genes []Gene) *Matrix {
	return &Matrix{
		Barcodes: barcodes,
		Genes:    genes,
		data:     make([]float64, len(barcodes)*len(genes)),
	}
}

// NCells returns the number of rows (cells).
func (m *Matrix) NCells() int { return len(m.Barcodes) }

// NGenes returns the number of columns (genes).
func (m *Matrix) NGenes() int { return len(m.Genes) }

// At returns the expression of gene j in cell i.
func (m *Matrix) At(i, j int) float64 { return m.data[i*len(m.Genes)+j] }

// Set assigns the expression of gene j in cell i.
func (m *Matrix) Set(i, j int, v float64) { m.data[i*len(m.Genes)+j] = v }

// Row returns the expression vector of cell i. The returned slice
// aliases the matrix storage.
func (m *Matrix) Row(i int) []float64 {
	n := len(m.Genes)
	return m.data[i*n : (i+1)*n]
}

// Col copies the expression of gene j across all cells into dst, which
// must have length NCells().
func (m *Matrix) Col(j int, dst []float64) {
	n := len(m.Genes)
	for i := range m.Barcodes {
		dst[i] = m.data[i*n+j]
	}
}

// GeneIndex returns the column of the gene with the given ID, or -1.
func (m *Matrix) GeneIndex(id string) int {
	for j, g := range m.Genes {
		if g.ID == id {
			return j
		}
	}
	return -1
}

// Subset returns a new matrix restricted to the given genes, in the
// given order, along with the subset of genes that are absent from m.
// Absent genes are skipped, not zero-filled; the caller decides whether
// a partial marker panel is acceptable.
func (m *Matrix) Subset(genes []Gene) (*Matrix, []Gene) {
	var (
		cols    []int
		kept    []Gene
		missing []Gene
	)
	for _, g := range genes {
		j := m.GeneIndex(g.ID)
		if j < 0 {
			missing = append(missing, g)
			continue
		}
		cols = append(cols, j)
		kept = append(kept, g)
	}
	sub := NewMatrix(m.Barcodes, kept)
	for i := range m.Barcodes {
		src := m.Row(i)
		dst := sub.Row(i)
		for k, j := range cols {
			dst[k] = src[j]
		}
	}
	return sub, missing
}

// RowSums returns the per-cell sum of raw expression across all columns.
func (m *Matrix) RowSums() []float64 {
	sums := make([]float64, len(m.Barcodes))
	n := len(m.Genes)
	for i := range m.Barcodes {
		row := m.data[i*n : (i+1)*n]
		s := 0.0
		for _, v := range row {
			s += v
		}
		sums[i] = s
	}
	return sums
}

var zeroDigestKey [32]byte

// AxisDigest returns a hash of the matrix axes (barcodes and gene IDs,
// in order). Derived per-cell scores are only meaningful relative to
// the matrix they were computed from, so score checkpoints store this
// digest and refuse to load against a different matrix.
func (m *Matrix) AxisDigest() uint64 {
	var buf []byte
	for _, bc := range m.Barcodes {
		buf = append(buf, bc...)
		buf = append(buf, 0)
	}
	for _, g := range m.Genes {
		buf = append(buf, g.ID...)
		buf = append(buf, 0)
	}
	return highwayhash.Sum64(buf, zeroDigestKey[:])
}

// BarcodeIndex returns a map from barcode to row position. Duplicate
// barcodes are an input error.
func (m *Matrix) BarcodeIndex() (map[string]int, error) {
	idx := make(map[string]int, len(m.Barcodes))
	for i, bc := range m.Barcodes {
		if _, ok := idx[bc]; ok {
			return nil, fmt.Errorf("duplicate cell barcode %q", bc)
		}
		idx[bc] = i
	}
	return idx, nil
}

// SortedGeneIDs returns the gene IDs in sorted order. Mostly useful in
// tests and log output.
func (m *Matrix) SortedGeneIDs() []string {
	ids := make([]string, len(m.Genes))
	for j, g := range m.Genes {
		ids[j] = g.ID
	}
	sort.Strings(ids)
	return ids
}
