package exprmat

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/pkg/errors"
)

// MatrixMarket coordinate files start with a banner line of this form,
// followed by '%' comment lines, a "nrows ncols nnz" size line, and one
// "row col value" entry per line (1-based indices). Quantification
// pipelines emit genes as rows and cells as columns; the loader
// transposes into the cells-by-genes orientation used everywhere else.
const mtxBanner = "%%MatrixMarket"

// openMaybeCompressed opens path and transparently decompresses it if
// the name indicates compression. The returned cleanup must be called
// once reading is done.
func openMaybeCompressed(ctx context.Context, path string) (io.Reader, func() error, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	var r io.Reader = in.Reader(ctx)
	if u := compress.NewReaderPath(r, in.Name()); u != nil {
		r = u
	}
	return r, func() error { return in.Close(ctx) }, nil
}

// ReadMatrixMarket loads a sparse genes-by-cells MatrixMarket file plus
// its companion barcode and feature tables into a dense cells-by-genes
// Matrix.
func ReadMatrixMarket(ctx context.Context, mtxPath, barcodePath, featurePath string) (*Matrix, error) {
	barcodes, err := readColumn(ctx, barcodePath)
	if err != nil {
		return nil, errors.Wrapf(err, "read barcodes %s", barcodePath)
	}
	genes, err := readFeatures(ctx, featurePath)
	if err != nil {
		return nil, errors.Wrapf(err, "read features %s", featurePath)
	}
	r, closer, err := openMaybeCompressed(ctx, mtxPath)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", mtxPath)
	}
	m, err := parseMatrixMarket(r, barcodes, genes)
	if err != nil {
		closer() // nolint: errcheck
		return nil, errors.Wrapf(err, "parse %s", mtxPath)
	}
	if err := closer(); err != nil {
		return nil, errors.Wrapf(err, "close %s", mtxPath)
	}
	return m, nil
}

// parseMatrixMarket reads the coordinate entries from r. The matrix
// dimensions must match len(genes) rows by len(barcodes) columns.
func parseMatrixMarket(r io.Reader, barcodes []string, genes []Gene) (*Matrix, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, 1<<26)
	if !sc.Scan() {
		return nil, errors.New("empty matrix file")
	}
	banner := sc.Text()
	if !strings.HasPrefix(banner, mtxBanner) {
		return nil, errors.Errorf("missing MatrixMarket banner, got %q", banner)
	}
	fields := strings.Fields(banner)
	if len(fields) < 4 || fields[1] != "matrix" || fields[2] != "coordinate" {
		return nil, errors.Errorf("unsupported MatrixMarket header %q, want coordinate format", banner)
	}
	pattern := fields[3] == "pattern"

	// Skip comments, then read the size line.
	var sizeLine string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "%") {
			continue
		}
		sizeLine = line
		break
	}
	if sizeLine == "" {
		return nil, errors.New("missing size line")
	}
	dims := strings.Fields(sizeLine)
	if len(dims) != 3 {
		return nil, errors.Errorf("malformed size line %q", sizeLine)
	}
	nGenes, err := strconv.Atoi(dims[0])
	if err != nil {
		return nil, errors.Wrapf(err, "size line %q", sizeLine)
	}
	nCells, err := strconv.Atoi(dims[1])
	if err != nil {
		return nil, errors.Wrapf(err, "size line %q", sizeLine)
	}
	nnz, err := strconv.Atoi(dims[2])
	if err != nil {
		return nil, errors.Wrapf(err, "size line %q", sizeLine)
	}
	if nGenes != len(genes) {
		return nil, errors.Errorf("matrix has %d rows but features table has %d genes", nGenes, len(genes))
	}
	if nCells != len(barcodes) {
		return nil, errors.Errorf("matrix has %d columns but barcodes table has %d cells", nCells, len(barcodes))
	}

	m := NewMatrix(barcodes, genes)
	nRead := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		f := strings.Fields(line)
		want := 3
		if pattern {
			want = 2
		}
		if len(f) != want {
			return nil, errors.Errorf("malformed entry %q", line)
		}
		gi, err := strconv.Atoi(f[0])
		if err != nil {
			return nil, errors.Wrapf(err, "entry %q", line)
		}
		ci, err := strconv.Atoi(f[1])
		if err != nil {
			return nil, errors.Wrapf(err, "entry %q", line)
		}
		v := 1.0
		if !pattern {
			if v, err = strconv.ParseFloat(f[2], 64); err != nil {
				return nil, errors.Wrapf(err, "entry %q", line)
			}
		}
		if gi < 1 || gi > nGenes || ci < 1 || ci > nCells {
			return nil, errors.Errorf("entry %q out of range (%d genes, %d cells)", line, nGenes, nCells)
		}
		m.Set(ci-1, gi-1, v)
		nRead++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if nRead != nnz {
		return nil, errors.Errorf("size line promised %d entries, found %d", nnz, nRead)
	}
	return m, nil
}

// readColumn reads a one-column text file (e.g. barcodes.tsv), skipping
// blank lines.
func readColumn(ctx context.Context, path string) ([]string, error) {
	r, closer, err := openMaybeCompressed(ctx, path)
	if err != nil {
		return nil, err
	}
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		closer() // nolint: errcheck
		return nil, err
	}
	return out, closer()
}

// readFeatures reads a features/genes table: tab-separated, no header,
// gene_id in the first column and gene_symbol in the second. Extra
// columns (e.g. the feature type emitted by some pipelines) are
// ignored. A one-column file uses the ID as the symbol.
func readFeatures(ctx context.Context, path string) ([]Gene, error) {
	r, closer, err := openMaybeCompressed(ctx, path)
	if err != nil {
		return nil, err
	}
	var genes []Gene
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		g := Gene{ID: cols[0], Symbol: cols[0]}
		if len(cols) > 1 && cols[1] != "" {
			g.Symbol = cols[1]
		}
		genes = append(genes, g)
	}
	if err := sc.Err(); err != nil {
		closer() // nolint: errcheck
		return nil, err
	}
	return genes, closer()
}
