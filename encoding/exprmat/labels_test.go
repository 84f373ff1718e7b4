package exprmat

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func TestLabelTableSetGet(t *testing.T) {
	tbl := NewLabelTable("manual")
	tbl.Set("c1", "manual", "Tumor")
	tbl.Set("c2", "manual", "Normal")
	expect.EQ(t, tbl.Len(), 2)
	expect.EQ(t, tbl.Get("c1", "manual"), "Tumor")
	expect.EQ(t, tbl.Get("c3", "manual"), NA)
	expect.EQ(t, tbl.Get("c1", "unknown_method"), NA)
	expect.EQ(t, tbl.Barcodes(), []string{"c1", "c2"})
}

func TestLeftJoin(t *testing.T) {
	left := NewLabelTable("manual")
	left.Set("c1", "manual", "Tumor")
	left.Set("c2", "manual", "Normal")
	left.Set("c3", "manual", "Tumor")

	right := NewLabelTable("singler")
	right.Set("c1", "singler", "Tumor")
	right.Set("c3", "singler", "Normal")
	right.Set("c9", "singler", "Tumor") // only in right: not added

	left.LeftJoin(right)
	expect.EQ(t, left.Methods, []string{"manual", "singler"})
	expect.EQ(t, left.Len(), 3)
	expect.EQ(t, left.Get("c1", "singler"), "Tumor")
	// Left-join semantics: c2 keeps its other columns with the joined
	// column missing, and c9 is not pulled in.
	expect.EQ(t, left.Get("c2", "singler"), NA)
	expect.EQ(t, left.Get("c2", "manual"), "Normal")
	expect.EQ(t, left.Get("c9", "singler"), NA)
}

func TestColumnSkipsNA(t *testing.T) {
	tbl := NewLabelTable("m")
	tbl.Set("c1", "m", "Tumor")
	tbl.Set("c2", "m", NA)
	col := tbl.Column("m")
	expect.EQ(t, col, map[string]string{"c1": "Tumor"})
}

const testReference = `barcode	reference_cell_class
AAAC	Tumor
TTTG	Normal
`

func TestParseReferenceLabels(t *testing.T) {
	tbl, err := parseReferenceLabels(strings.NewReader(testReference), "reference_cell_class")
	require.NoError(t, err)
	expect.EQ(t, tbl.Len(), 2)
	expect.EQ(t, tbl.Get("AAAC", "reference_cell_class"), "Tumor")
	expect.EQ(t, tbl.Get("TTTG", "reference_cell_class"), "Normal")
}

const testAnnotations = `barcode	cluster	singler	cellassign
AAAC	1	Tumor
TTTG	2	Normal	Normal
`

func TestParseAnnotations(t *testing.T) {
	tbl, err := parseAnnotations(strings.NewReader(testAnnotations))
	require.NoError(t, err)
	expect.EQ(t, tbl.Methods, []string{"cluster", "singler", "cellassign"})
	expect.EQ(t, tbl.Get("AAAC", "cluster"), "1")
	expect.EQ(t, tbl.Get("AAAC", "cellassign"), NA) // empty field is missing
	expect.EQ(t, tbl.Get("TTTG", "cellassign"), "Normal")
}

func TestWriteLabelTableRoundTrip(t *testing.T) {
	for _, name := range []string{"labels.tsv", "labels.tsv.gz"} {
		dir, err := ioutil.TempDir("", "exprmat")
		require.NoError(t, err)
		defer os.RemoveAll(dir)

		tbl := NewLabelTable("marker_class", "consensus_class")
		tbl.Set("AAAC", "marker_class", "Tumor")
		tbl.Set("AAAC", "consensus_class", "Tumor")
		tbl.Set("TTTG", "marker_class", "Normal")

		ctx := context.Background()
		path := filepath.Join(dir, name)
		require.NoError(t, WriteLabelTable(ctx, path, tbl))

		// The written table reads back as a generic annotation table,
		// gzip-compressed or not.
		got, err := ReadAnnotations(ctx, path)
		require.NoError(t, err, name)
		expect.EQ(t, got.Methods, []string{"marker_class", "consensus_class"})
		expect.EQ(t, got.Get("AAAC", "marker_class"), "Tumor")
		expect.EQ(t, got.Get("TTTG", "marker_class"), "Normal")
		expect.EQ(t, got.Get("TTTG", "consensus_class"), NA)
	}
}

func TestReadReferenceLabelsMissingFile(t *testing.T) {
	ctx := context.Background()
	_, err := ReadReferenceLabels(ctx, "/nonexistent/ref-labels.tsv", "reference_cell_class")
	require.Error(t, err)
	// The kind survives so callers can skip a missing optional file
	// instead of aborting.
	expect.True(t, errors.Is(errors.NotExist, err))
}
