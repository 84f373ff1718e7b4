package exprmat

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ReadDenseTSV loads a dense cells-by-genes TSV: a header row whose
// first column names the barcode column (the name itself is ignored)
// followed by gene identifiers, then one row per cell with the barcode
// and one expression value per gene.
func ReadDenseTSV(ctx context.Context, path string) (*Matrix, error) {
	r, closer, err := openMaybeCompressed(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	m, err := parseDenseTSV(r)
	if err != nil {
		closer() // nolint: errcheck
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if err := closer(); err != nil {
		return nil, errors.Wrapf(err, "close %s", path)
	}
	return m, nil
}

func parseDenseTSV(r io.Reader) (*Matrix, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, 1<<26)
	if !sc.Scan() {
		return nil, errors.New("empty file")
	}
	header := strings.Split(sc.Text(), "\t")
	if len(header) < 2 {
		return nil, errors.New("header must contain a barcode column plus at least one gene")
	}
	genes := make([]Gene, len(header)-1)
	for j, id := range header[1:] {
		genes[j] = Gene{ID: id, Symbol: id}
	}

	var (
		barcodes []string
		rows     [][]float64
	)
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
		vals := make([]float64, len(genes))
		for j, s := range cols[1:] {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", lineNo)
			}
			vals[j] = v
		}
		barcodes = append(barcodes, cols[0])
		rows = append(rows, vals)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	m := NewMatrix(barcodes, genes)
	for i, vals := range rows {
		copy(m.Row(i), vals)
	}
	return m, nil
}
