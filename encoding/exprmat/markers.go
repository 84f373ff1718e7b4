package exprmat

import (
	"context"
	"io"
	"sort"

	"github.com/grailbio/base/tsv"
	"github.com/pkg/errors"
)

// Marker tags one gene as a classification signal for one cell type.
type Marker struct {
	CellType   string
	Gene       Gene
	SourceLine int // 1-based data row in the marker table, for diagnostics
}

// MarkerSet holds a curated marker-gene reference table, deduplicated
// by (cell type, gene ID). The first occurrence of a pair wins.
type MarkerSet struct {
	markers []Marker
	seen    map[[2]string]bool
}

// NewMarkerSet returns an empty marker set.
func NewMarkerSet() *MarkerSet {
	return &MarkerSet{seen: make(map[[2]string]bool)}
}

// Add inserts a marker, dropping (cell type, gene ID) duplicates. It
// reports whether the marker was kept.
func (s *MarkerSet) Add(m Marker) bool {
	key := [2]string{m.CellType, m.Gene.ID}
	if s.seen[key] {
		return false
	}
	s.seen[key] = true
	s.markers = append(s.markers, m)
	return true
}

// Len returns the number of distinct markers.
func (s *MarkerSet) Len() int { return len(s.markers) }

// Genes returns the marker genes for the given cell type, in table
// order.
func (s *MarkerSet) Genes(cellType string) []Gene {
	var out []Gene
	for _, m := range s.markers {
		if m.CellType == cellType {
			out = append(out, m.Gene)
		}
	}
	return out
}

// CellTypes returns the distinct cell types present, sorted.
func (s *MarkerSet) CellTypes() []string {
	set := make(map[string]bool)
	for _, m := range s.markers {
		set[m.CellType] = true
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// markerRow mirrors the marker reference table columns.
type markerRow struct {
	CellType   string `tsv:"cell_type"`
	GeneID     string `tsv:"gene_id"`
	GeneSymbol string `tsv:"gene_symbol"`
}

// ReadMarkers loads a tab-separated marker reference with header
// columns (cell_type, gene_id, gene_symbol). Duplicate (cell_type,
// gene_id) rows are dropped; the duplicate count is returned so callers
// can log it.
func ReadMarkers(ctx context.Context, path string) (*MarkerSet, int, error) {
	r, closer, err := openMaybeCompressed(ctx, path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "open %s", path)
	}
	set, nDup, err := parseMarkers(r)
	if err != nil {
		closer() // nolint: errcheck
		return nil, 0, errors.Wrapf(err, "parse %s", path)
	}
	return set, nDup, closer()
}

func parseMarkers(r io.Reader) (*MarkerSet, int, error) {
	tr := tsv.NewReader(r)
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true

	set := NewMarkerSet()
	nDup := 0
	line := 0
	for {
		var row markerRow
		if err := tr.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, 0, err
		}
		line++
		if row.GeneID == "" {
			return nil, 0, errors.Errorf("marker row %d: empty gene_id", line)
		}
		m := Marker{
			CellType:   row.CellType,
			Gene:       Gene{ID: row.GeneID, Symbol: row.GeneSymbol},
			SourceLine: line,
		}
		if m.Gene.Symbol == "" {
			m.Gene.Symbol = m.Gene.ID
		}
		if !set.Add(m) {
			nDup++
		}
	}
	return set, nDup, nil
}
