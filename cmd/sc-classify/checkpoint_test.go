package main

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/singlecell/classify"
	"github.com/grailbio/singlecell/diffexp"
	"github.com/grailbio/singlecell/encoding/exprmat"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func TestScoresCheckpointRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "scclassify")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	ctx := context.Background()
	path := filepath.Join(dir, "scores.rio")

	header := scoresFileHeader{
		Opts:       classify.DefaultOpts,
		Sample:     "SCPCS01",
		Library:    "SCPCL01",
		AxisDigest: 0xdeadbeef,
		Used:       []exprmat.Gene{{ID: "ENSG01", Symbol: "FLI1"}},
		Constant:   []exprmat.Gene{{ID: "ENSG02", Symbol: "NKX2-2"}},
	}
	w := newScoresWriter(ctx, path, header)
	w.Write(cellScore{Barcode: "AAAC", Composite: 1.5, RawSum: 3})
	w.Write(cellScore{Barcode: "TTTG", Composite: -0.25, RawSum: 0.5})
	w.Close(ctx)

	h, cells := readScores(ctx, path)
	expect.EQ(t, h.Sample, "SCPCS01")
	expect.EQ(t, h.Library, "SCPCL01")
	expect.EQ(t, h.AxisDigest, uint64(0xdeadbeef))
	expect.EQ(t, h.Opts, classify.DefaultOpts)
	expect.EQ(t, h.Used, header.Used)
	expect.EQ(t, h.Constant, header.Constant)
	require.Len(t, cells, 2)
	expect.EQ(t, cells[0], cellScore{Barcode: "AAAC", Composite: 1.5, RawSum: 3})
	expect.EQ(t, cells[1], cellScore{Barcode: "TTTG", Composite: -0.25, RawSum: 0.5})
}

func TestWriteDEResults(t *testing.T) {
	dir, err := ioutil.TempDir("", "scclassify")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	ctx := context.Background()
	path := filepath.Join(dir, "de.tsv")

	results := []diffexp.Result{
		{Gene: exprmat.Gene{ID: "ENSG01", Symbol: "FLI1"}, MeanA: 2, MeanB: 0.5, Log2FC: 1.5, P: 0.001, FDR: 0.002},
	}
	require.NoError(t, writeDEResults(ctx, path, results))
	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	expect.EQ(t, lines[0], "gene_id\tgene_symbol\tmean_tumor\tmean_normal\tlog2_fc\tp_value\tfdr")
	expect.True(t, strings.HasPrefix(lines[1], "ENSG01\tFLI1\t"))
}
