package main

// This file defines scoresWriter and scoresReader. Type scoresWriter
// dumps per-cell composite scores (plus the options and matrix axis
// digest they were computed under) into a recordio file; scoresReader
// reads them back. The recordio file can be used to re-run the
// thresholding, consensus, and comparison phases without rescoring the
// expression matrix.

import (
	"bytes"
	"context"
	"encoding/gob"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/singlecell/classify"
	"github.com/grailbio/singlecell/encoding/exprmat"
)

const (
	// <fileVersionHeader, fileVersion> is stored in a recordio header.
	fileVersionHeader = "scclassifyversion"
	fileVersion       = "SCCLASSIFY_V1"
)

// cellScore is one recordio record: the per-cell scores for one barcode.
type cellScore struct {
	Barcode   string
	Composite float64
	RawSum    float64
}

// scoresFileHeader is stored in the trailer section of the recordio
// file.
type scoresFileHeader struct {
	// Opts is the options the scores were computed under.
	Opts classify.Opts
	// Sample and Library identify the input.
	Sample, Library string
	// AxisDigest ties the scores to the matrix they came from. Composite
	// scores are never meaningful independent of their source matrix.
	AxisDigest uint64
	// Used and Constant are the marker genes that did and did not enter
	// the composite.
	Used, Constant []exprmat.Gene
}

func encodeGOB(gw *gob.Encoder, v interface{}) {
	if err := gw.Encode(v); err != nil {
		panic(err)
	}
}

func decodeGOB(gr *gob.Decoder, v interface{}) {
	if err := gr.Decode(v); err != nil {
		panic(err)
	}
}

type scoresWriter struct {
	out    file.File
	w      recordio.Writer
	header scoresFileHeader
}

func newScoresWriter(ctx context.Context, outPath string, header scoresFileHeader) *scoresWriter {
	recordiozstd.Init()
	out, err := file.Create(ctx, outPath)
	if err != nil {
		log.Panicf("rio create %v: %v", outPath, err)
	}
	w := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(fileVersionHeader, fileVersion)
	w.AddHeader(recordio.KeyTrailer, true)
	return &scoresWriter{out: out, w: w, header: header}
}

// Write adds one cell's scores. Any error will crash the process.
func (w *scoresWriter) Write(c cellScore) {
	b := bytes.NewBuffer(nil)
	gw := gob.NewEncoder(b)
	encodeGOB(gw, c)
	w.w.Append(b.Bytes())
}

// Close closes the writer. It must be called exactly once, after
// writing all the cells.
func (w *scoresWriter) Close(ctx context.Context) {
	b := bytes.NewBuffer(nil)
	gw := gob.NewEncoder(b)
	encodeGOB(gw, w.header)
	w.w.SetTrailer(b.Bytes())
	if err := w.w.Finish(); err != nil {
		log.Panicf("rio close: %v", err)
	}
	if err := w.out.Close(ctx); err != nil {
		log.Panicf("rio close: %v", err)
	}
}

type scoresReader struct {
	in     file.File
	r      recordio.Scanner
	header scoresFileHeader

	c cellScore // last record read by Scan
}

func newScoresReader(ctx context.Context, inPath string) *scoresReader {
	in, err := file.Open(ctx, inPath)
	if err != nil {
		log.Panicf("rio open %s: %v", inPath, err)
	}
	recordiozstd.Init()
	r := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{})
	versionFound := false
	for _, kv := range r.Header() {
		if kv.Key == fileVersionHeader {
			if kv.Value.(string) != fileVersion {
				log.Panicf("scores file version mismatch, got %v, expect %v",
					kv.Value.(string), fileVersion)
			}
			versionFound = true
			break
		}
	}
	if !versionFound {
		log.Panic(fileVersionHeader + " not found")
	}
	gr := gob.NewDecoder(bytes.NewReader(r.Trailer()))
	h := scoresFileHeader{}
	decodeGOB(gr, &h)
	return &scoresReader{in: in, r: r, header: h}
}

// Header returns the trailer header written with the scores. It can be
// called any time.
func (r *scoresReader) Header() scoresFileHeader { return r.header }

// Scan reads the next cell. It returns false at the end of the file.
func (r *scoresReader) Scan() bool {
	if !r.r.Scan() {
		return false
	}
	gr := gob.NewDecoder(bytes.NewReader(r.r.Get().([]byte)))
	decodeGOB(gr, &r.c)
	return true
}

// Get returns the cell read by the last Scan call.
func (r *scoresReader) Get() cellScore { return r.c }

func (r *scoresReader) Close(ctx context.Context) {
	if err := r.r.Err(); err != nil {
		log.Panicf("rio read: %v", err)
	}
	if err := r.in.Close(ctx); err != nil {
		log.Panicf("rio close: %v", err)
	}
}

// readScores loads a whole checkpoint into memory.
func readScores(ctx context.Context, path string) (scoresFileHeader, []cellScore) {
	r := newScoresReader(ctx, path)
	var cells []cellScore
	for r.Scan() {
		cells = append(cells, r.Get())
	}
	h := r.Header()
	r.Close(ctx)
	return h, cells
}
