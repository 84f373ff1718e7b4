package exprmat

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// NA is the missing-value marker in label tables. A cell absent from a
// method's table gets NA for that method, never an error.
const NA = "NA"

// LabelTable assigns one categorical label per method to each cell.
// Methods are ordered; cells are ordered by first appearance.
type LabelTable struct {
	Methods  []string
	barcodes []string
	rows     map[string]map[string]string // barcode -> method -> label
}

// NewLabelTable returns an empty table with the given method columns.
func NewLabelTable(methods ...string) *LabelTable {
	return &LabelTable{
		Methods: methods,
		rows:    make(map[string]map[string]string),
	}
}

// Barcodes returns the cell barcodes in insertion order.
func (t *LabelTable) Barcodes() []string { return t.barcodes }

// Len returns the number of cells.
func (t *LabelTable) Len() int { return len(t.barcodes) }

// Set assigns method's label for barcode, inserting the cell if new.
func (t *LabelTable) Set(barcode, method, label string) {
	row, ok := t.rows[barcode]
	if !ok {
		row = make(map[string]string)
		t.rows[barcode] = row
		t.barcodes = append(t.barcodes, barcode)
	}
	row[method] = label
}

// Get returns method's label for barcode, or NA when the cell or the
// value is missing.
func (t *LabelTable) Get(barcode, method string) string {
	if row, ok := t.rows[barcode]; ok {
		if v, ok := row[method]; ok && v != "" {
			return v
		}
	}
	return NA
}

// Column returns barcode -> label for one method, with NA entries
// omitted. The result is the natural input to compare.Jaccard.
func (t *LabelTable) Column(method string) map[string]string {
	out := make(map[string]string, len(t.barcodes))
	for _, bc := range t.barcodes {
		if v := t.Get(bc, method); v != NA {
			out[bc] = v
		}
	}
	return out
}

// LeftJoin merges other's method columns into t. Cells present only in
// other are not added; cells present only in t keep NA for other's
// methods. Method name collisions overwrite t's values for cells that
// other knows about.
func (t *LabelTable) LeftJoin(other *LabelTable) {
	for _, m := range other.Methods {
		found := false
		for _, existing := range t.Methods {
			if existing == m {
				found = true
				break
			}
		}
		if !found {
			t.Methods = append(t.Methods, m)
		}
	}
	for _, bc := range t.barcodes {
		if row, ok := other.rows[bc]; ok {
			for _, m := range other.Methods {
				if v, ok := row[m]; ok && v != "" {
					t.rows[bc][m] = v
				}
			}
		}
	}
}

// referenceRow mirrors the reference label table columns.
type referenceRow struct {
	Barcode   string `tsv:"barcode"`
	CellClass string `tsv:"reference_cell_class"`
}

// ReadReferenceLabels loads a tab-separated table with header columns
// (barcode, reference_cell_class) into a single-method LabelTable whose
// method name is given by method.
func ReadReferenceLabels(ctx context.Context, path, method string) (*LabelTable, error) {
	// The open error keeps its kind (file.Open already names the path)
	// so callers can detect a missing optional file.
	r, closer, err := openMaybeCompressed(ctx, path)
	if err != nil {
		return nil, err
	}
	t, err := parseReferenceLabels(r, method)
	if err != nil {
		closer() // nolint: errcheck
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return t, closer()
}

func parseReferenceLabels(r io.Reader, method string) (*LabelTable, error) {
	tr := tsv.NewReader(r)
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true

	t := NewLabelTable(method)
	for {
		var row referenceRow
		if err := tr.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if row.Barcode == "" {
			continue
		}
		t.Set(row.Barcode, method, row.CellClass)
	}
	return t, nil
}

// ReadAnnotations loads a tab-separated table whose first header column
// is the barcode and whose remaining header columns are method names
// (e.g. cluster assignments and automated cell-type annotations). Empty
// fields become NA.
func ReadAnnotations(ctx context.Context, path string) (*LabelTable, error) {
	r, closer, err := openMaybeCompressed(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	t, err := parseAnnotations(r)
	if err != nil {
		closer() // nolint: errcheck
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return t, closer()
}

func parseAnnotations(r io.Reader) (*LabelTable, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, 1<<24)
	if !sc.Scan() {
		return nil, errors.New("empty file")
	}
	header := strings.Split(sc.Text(), "\t")
	if len(header) < 2 {
		return nil, errors.New("header must contain a barcode column plus at least one method")
	}
	t := NewLabelTable(header[1:]...)
	lineNo := 1
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) != len(header) {
			return nil, errors.Errorf("line %d: %d columns, header has %d", lineNo, len(cols), len(header))
		}
		for j, m := range t.Methods {
			if v := cols[j+1]; v != "" {
				t.Set(cols[0], m, v)
			} else {
				t.Set(cols[0], m, NA)
			}
		}
	}
	return t, sc.Err()
}

// WriteLabelTable writes the per-cell classification table as TSV with
// a (barcode, method...) header. A path ending in ".gz" is
// gzip-compressed.
func WriteLabelTable(ctx context.Context, path string, t *LabelTable) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer file.CloseAndReport(ctx, out, &err)

	var w *tsv.Writer
	if strings.HasSuffix(path, ".gz") {
		gz := gzip.NewWriter(out.Writer(ctx))
		defer func() {
			if e := gz.Close(); e != nil && err == nil {
				err = e
			}
		}()
		w = tsv.NewWriter(gz)
	} else {
		w = tsv.NewWriter(out.Writer(ctx))
	}

	w.WriteString("barcode")
	for _, m := range t.Methods {
		w.WriteString(m)
	}
	if err = w.EndLine(); err != nil {
		return err
	}
	for _, bc := range t.barcodes {
		w.WriteString(bc)
		for _, m := range t.Methods {
			w.WriteString(t.Get(bc, m))
		}
		if err = w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}
