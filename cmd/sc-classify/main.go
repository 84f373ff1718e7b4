package main

// sc-classify assigns tumor/normal labels to cells of a single-cell
// RNA-seq sample from the expression of curated marker genes.
//
// The pipeline has two phases:
//
//   1. scoring: load the expression matrix, restrict it to the marker
//      genes of the requested cell type, z-score each gene across
//      cells, and sum per cell. The per-cell scores can be checkpointed
//      with -scores-output.
//
//   2. calling: threshold the scores into Tumor/Normal labels, vote
//      them against reference classifications, compare against
//      automated annotation columns (Jaccard and confusion matrices),
//      and export the per-cell label table. With -scores-input this
//      phase runs alone, from a checkpoint.
//
// Example 1: classify by z-score sign and compare against a SingleR
// reference:
//
//    sc-classify -sample SCPCS01 -library SCPCL01 \
//      -mtx matrix.mtx.gz -barcodes barcodes.tsv.gz -features features.tsv.gz \
//      -markers tumor-markers.tsv -ref-labels singler.tsv -out results/
//
// Example 2: transfer a cutoff learned on a bimodal reference sample:
//
//    sc-classify ... -mode transfer -transfer-scores ref-sample.rio

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/singlecell/classify"
	"github.com/grailbio/singlecell/compare"
	"github.com/grailbio/singlecell/diffexp"
	"github.com/grailbio/singlecell/encoding/exprmat"
	"github.com/klauspost/compress/gzip"
)

// Collection of options set via cmdline flags.
type classifyFlags struct {
	sample, library    string
	mtxPath            string
	barcodePath        string
	featurePath        string
	densePath          string
	markerPath         string
	annotationsPath    string
	refLabelsPath      string
	outDir             string
	gzipOutput         bool
	mode               string
	transferScoresPath string
	scoresInputPath    string
	scoresOutputPath   string
	consensusRule      string
	consensusMethods   string
	deCheck            bool
	deMaxFDR           float64
	deMinLFC           float64
}

const (
	markerMethod    = "marker_class"
	consensusMethod = "consensus_class"
	referenceMethod = "reference_cell_class"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s -sample S -library L -markers markers.tsv \
    (-mtx matrix.mtx -barcodes barcodes.tsv -features features.tsv | -dense expr.tsv) \
    [flags]

Classifies each cell as Tumor or Normal from marker-gene expression and
writes <out>/<sample>_<library>_classifications.tsv[.gz].

Flags:
`, os.Args[0])
	flag.PrintDefaults()
}

func registerFlags(fs *flag.FlagSet, flags *classifyFlags, opts *classify.Opts) {
	fs.StringVar(&flags.sample, "sample", "", "Sample identifier (required)")
	fs.StringVar(&flags.library, "library", "", "Library identifier (required)")
	fs.StringVar(&flags.mtxPath, "mtx", "", "MatrixMarket expression matrix (genes x cells)")
	fs.StringVar(&flags.barcodePath, "barcodes", "", "One-column cell barcode file accompanying -mtx")
	fs.StringVar(&flags.featurePath, "features", "", "Feature table (gene_id, gene_symbol) accompanying -mtx")
	fs.StringVar(&flags.densePath, "dense", "", "Dense cells-x-genes TSV; alternative to the -mtx triple")
	fs.StringVar(&flags.markerPath, "markers", "", "Marker-gene reference TSV with columns (cell_type, gene_id, gene_symbol) (required)")
	fs.StringVar(&opts.CellType, "cell-type", classify.DefaultOpts.CellType, "Marker cell type driving the classification")
	fs.StringVar(&flags.annotationsPath, "annotations", "", "Optional per-cell annotation TSV (barcode plus one column per automated method)")
	fs.StringVar(&flags.refLabelsPath, "ref-labels", "", "Optional reference label TSV with columns (barcode, reference_cell_class). Missing file skips the comparison phase.")
	fs.StringVar(&flags.outDir, "out", ".", "Output directory")
	fs.BoolVar(&flags.gzipOutput, "gzip-output", false, "gzip-compress output tables")
	fs.StringVar(&flags.mode, "mode", "sign", "Thresholding mode: 'sign' (composite z-score > 0), 'cutoff' (raw sum > -cutoff), or 'transfer' (cutoff derived from -transfer-scores)")
	fs.Float64Var(&opts.Cutoff, "cutoff", classify.DefaultOpts.Cutoff, "Raw-sum cutoff for -mode cutoff")
	fs.StringVar(&flags.transferScoresPath, "transfer-scores", "", "Scores checkpoint (.rio) of the bimodal reference sample, for -mode transfer")
	fs.StringVar(&flags.scoresInputPath, "scores-input", "", "If set, skip scoring and run the calling phase from this checkpoint")
	fs.StringVar(&flags.scoresOutputPath, "scores-output", "", "If set, write the per-cell scores checkpoint here")
	fs.StringVar(&flags.consensusRule, "consensus-rule", classify.DefaultOpts.Rule.String(), "Tie-break for multi-method consensus: 'unanimous' or 'majority'")
	fs.StringVar(&flags.consensusMethods, "consensus-methods", "", "Comma-separated annotation columns holding Tumor/Normal labels to vote alongside the marker classification")
	fs.BoolVar(&flags.deCheck, "de-check", false, "Run the differential-expression marker check between the Tumor and Normal groups")
	fs.Float64Var(&flags.deMaxFDR, "de-max-fdr", diffexp.DefaultThresholds.MaxFDR, "FDR cutoff for the marker check")
	fs.Float64Var(&flags.deMinLFC, "de-min-lfc", diffexp.DefaultThresholds.MinAbsLog2FC, "Absolute log2 fold-change cutoff for the marker check")
	fs.Float64Var(&opts.Bandwidth, "bandwidth", classify.DefaultOpts.Bandwidth, "KDE bandwidth for -mode transfer; 0 selects Silverman's rule")
	fs.IntVar(&opts.GridPoints, "grid-points", classify.DefaultOpts.GridPoints, "Density evaluation grid size for -mode transfer")
	fs.Float64Var(&opts.SearchLow, "search-low", classify.DefaultOpts.SearchLow, "Lower quantile bound of the transfer cutoff search interval")
	fs.Float64Var(&opts.SearchHigh, "search-high", classify.DefaultOpts.SearchHigh, "Upper quantile bound of the transfer cutoff search interval")
	fs.Int64Var(&opts.Seed, "seed", classify.DefaultOpts.Seed, "Random seed for reproducible subsampling")
	fs.IntVar(&opts.MaxCells, "max-cells", classify.DefaultOpts.MaxCells, "Subsample the transfer reference to at most this many cells (0 = no cap)")
}

func main() {
	flags := classifyFlags{}
	opts := classify.DefaultOpts

	flag.Usage = usage
	registerFlags(flag.CommandLine, &flags, &opts)

	cleanup := grail.Init()
	defer cleanup()

	if flags.sample == "" || flags.library == "" || flags.markerPath == "" {
		log.Fatal("-sample, -library, and -markers are required")
	}
	if flags.densePath == "" && (flags.mtxPath == "" || flags.barcodePath == "" || flags.featurePath == "") {
		log.Fatal("either -dense or the full -mtx/-barcodes/-features triple is required")
	}
	rule, err := classify.ParseRule(flags.consensusRule)
	if err != nil {
		log.Fatalf("%v", err)
	}
	opts.Rule = rule

	ctx := vcontext.Background()
	run(ctx, flags, opts)
	log.Printf("All done")
}

func run(ctx context.Context, flags classifyFlags, opts classify.Opts) {
	stats := classify.Stats{}

	markers, nDup, err := exprmat.ReadMarkers(ctx, flags.markerPath)
	if err != nil {
		log.Fatalf("read markers: %v", err)
	}
	if nDup > 0 {
		log.Printf("Dropped %d duplicate (cell_type, gene_id) marker rows", nDup)
	}
	panel := markers.Genes(opts.CellType)
	if len(panel) == 0 {
		log.Fatalf("marker table has no genes for cell type %q (types present: %v)",
			opts.CellType, markers.CellTypes())
	}
	log.Printf("Loaded %d marker genes for cell type %q", len(panel), opts.CellType)

	m := loadMatrix(ctx, flags)
	log.Printf("Loaded %d cells x %d genes", m.NCells(), m.NGenes())
	sub, missing := m.Subset(panel)
	for _, g := range missing {
		log.Printf("Marker gene %s is absent from the matrix", g)
	}
	if sub.NGenes() == 0 {
		log.Fatalf("none of the %d marker genes are present in the matrix", len(panel))
	}

	scores, sentinel := computeScores(ctx, flags, opts, sub, &stats)

	var labels []classify.Label
	if sentinel {
		// No marker expression anywhere: emit Not applicable for every
		// cell instead of misclassifying the whole sample as Normal.
		log.Printf("No marker-gene expression in any cell; skipping classification and emitting sentinel labels")
		labels = classify.Sentinel(m.NCells())
	} else {
		labels = threshold(ctx, flags, opts, scores, &stats)
	}
	classify.Count(labels, &stats)

	table := exprmat.NewLabelTable(markerMethod)
	for i, bc := range m.Barcodes {
		table.Set(bc, markerMethod, labels[i].String())
	}

	joinReference(ctx, flags, opts, m.Barcodes, labels, table, sentinel)

	outPath := outputPath(flags, "classifications.tsv")
	if err := exprmat.WriteLabelTable(ctx, outPath, table); err != nil {
		log.Fatalf("write %s: %v", outPath, err)
	}
	log.Printf("Wrote %d cells to %s", table.Len(), outPath)

	if flags.deCheck && !sentinel {
		markerCheck(ctx, flags, m, markers, opts.CellType, labels)
	}
	log.Printf("Stats: %+v", stats)
}

func loadMatrix(ctx context.Context, flags classifyFlags) *exprmat.Matrix {
	var (
		m   *exprmat.Matrix
		err error
	)
	if flags.densePath != "" {
		m, err = exprmat.ReadDenseTSV(ctx, flags.densePath)
	} else {
		m, err = exprmat.ReadMatrixMarket(ctx, flags.mtxPath, flags.barcodePath, flags.featurePath)
	}
	if err != nil {
		log.Fatalf("load matrix: %v", err)
	}
	if _, err := m.BarcodeIndex(); err != nil {
		log.Fatalf("load matrix: %v", err)
	}
	return m
}

// computeScores either scores the marker submatrix or replays a
// checkpoint. sentinel reports the no-expression edge case.
func computeScores(ctx context.Context, flags classifyFlags, opts classify.Opts, sub *exprmat.Matrix, stats *classify.Stats) (*classify.Scores, bool) {
	if flags.scoresInputPath != "" {
		h, cells := readScores(ctx, flags.scoresInputPath)
		if h.AxisDigest != sub.AxisDigest() {
			log.Fatalf("checkpoint %s was computed from a different matrix (axis digest mismatch)", flags.scoresInputPath)
		}
		log.Printf("Replaying %d cell scores from %s (sample %s, library %s)",
			len(cells), flags.scoresInputPath, h.Sample, h.Library)
		idx := make(map[string]int, len(sub.Barcodes))
		for i, bc := range sub.Barcodes {
			idx[bc] = i
		}
		s := &classify.Scores{
			Composite: make([]float64, sub.NCells()),
			RawSums:   make([]float64, sub.NCells()),
			Used:      h.Used,
			Constant:  h.Constant,
		}
		for _, c := range cells {
			i, ok := idx[c.Barcode]
			if !ok {
				log.Fatalf("checkpoint barcode %q not present in the matrix", c.Barcode)
			}
			s.Composite[i] = c.Composite
			s.RawSums[i] = c.RawSum
		}
		stats.Cells += sub.NCells()
		stats.MarkerGenes += len(h.Used)
		stats.ConstantGenes += len(h.Constant)
		return s, false
	}

	s, err := classify.Score(sub, stats)
	if err == classify.ErrNoExpression {
		return nil, true
	}
	if err != nil {
		log.Fatalf("score: %v", err)
	}
	for _, g := range s.Constant {
		log.Printf("Marker gene %s has constant expression; z-score undefined, excluded from the composite", g)
	}
	if flags.scoresOutputPath != "" {
		w := newScoresWriter(ctx, flags.scoresOutputPath, scoresFileHeader{
			Opts:       opts,
			Sample:     flags.sample,
			Library:    flags.library,
			AxisDigest: sub.AxisDigest(),
			Used:       s.Used,
			Constant:   s.Constant,
		})
		for i, bc := range sub.Barcodes {
			w.Write(cellScore{Barcode: bc, Composite: s.Composite[i], RawSum: s.RawSums[i]})
		}
		w.Close(ctx)
		log.Printf("Wrote scores checkpoint to %s", flags.scoresOutputPath)
	}
	return s, false
}

func threshold(ctx context.Context, flags classifyFlags, opts classify.Opts, s *classify.Scores, stats *classify.Stats) []classify.Label {
	switch flags.mode {
	case "sign":
		return classify.BySign(s.Composite)
	case "cutoff":
		log.Printf("Applying fixed raw-sum cutoff %v", opts.Cutoff)
		return classify.ByCutoff(s.RawSums, opts.Cutoff)
	case "transfer":
		if flags.transferScoresPath == "" {
			log.Fatal("-mode transfer requires -transfer-scores")
		}
		h, cells := readScores(ctx, flags.transferScoresPath)
		refSums := make([]float64, len(cells))
		for i, c := range cells {
			refSums[i] = c.RawSum
		}
		cutoff, err := classify.TransferCutoff(refSums, opts, stats)
		if err != nil {
			log.Fatalf("transfer cutoff from %s (sample %s): %v", flags.transferScoresPath, h.Sample, err)
		}
		log.Printf("Transferred cutoff %v from reference sample %s (%d cells)", cutoff, h.Sample, len(cells))
		return classify.ByCutoff(s.RawSums, cutoff)
	}
	log.Fatalf("unknown -mode %q (want sign, cutoff, or transfer)", flags.mode)
	return nil
}

// joinReference merges reference and annotation label tables into the
// output, votes the consensus column, and logs agreement matrices.
func joinReference(ctx context.Context, flags classifyFlags, opts classify.Opts, barcodes []string, labels []classify.Label, table *exprmat.LabelTable, sentinel bool) {
	var compareMethods []string
	hasRef := false

	if flags.refLabelsPath == "" {
		log.Printf("No -ref-labels given; skipping the comparison phase")
	} else {
		ref, err := exprmat.ReadReferenceLabels(ctx, flags.refLabelsPath, referenceMethod)
		switch {
		case err == nil:
			table.LeftJoin(ref)
			compareMethods = append(compareMethods, referenceMethod)
			hasRef = true
		case errors.Is(errors.NotExist, err):
			// The reference file is optional: a missing file skips the
			// comparison phase, only malformed content is fatal.
			log.Printf("Reference label file %s does not exist; skipping the comparison phase", flags.refLabelsPath)
		default:
			log.Fatalf("read reference labels: %v", err)
		}
	}

	if flags.annotationsPath != "" {
		ann, err := exprmat.ReadAnnotations(ctx, flags.annotationsPath)
		if err != nil {
			log.Fatalf("read annotations: %v", err)
		}
		table.LeftJoin(ann)
		compareMethods = append(compareMethods, ann.Methods...)
	}

	// Consensus: two-way against the reference class, or N-way across
	// the explicitly listed methods.
	voteMethods := []string{referenceMethod}
	if flags.consensusMethods != "" {
		voteMethods = strings.Split(flags.consensusMethods, ",")
	} else if !hasRef {
		voteMethods = nil
	}
	if len(voteMethods) > 0 && !sentinel {
		table.Methods = append(table.Methods, consensusMethod)
		for i, bc := range barcodes {
			votes := []classify.Label{labels[i]}
			for _, m := range voteMethods {
				votes = append(votes, classify.ParseLabel(table.Get(bc, m)))
			}
			var c classify.Label
			if len(votes) == 2 {
				c = classify.Consensus(votes[0], votes[1])
			} else {
				c = classify.ConsensusN(votes, opts.Rule)
			}
			table.Set(bc, consensusMethod, c.String())
		}
	}

	if sentinel || len(compareMethods) == 0 {
		return
	}
	manual := table.Column(markerMethod)
	for _, method := range compareMethods {
		other := table.Column(method)
		if len(other) == 0 {
			log.Printf("Method %s has no labels for this sample; skipping comparison", method)
			continue
		}
		log.Printf("Jaccard (%s vs %s):\n%s", markerMethod, method, compare.Jaccard(manual, other))
		log.Printf("Confusion (%s vs %s):\n%s", markerMethod, method, compare.Confusion(manual, other))
	}
}

// markerCheck runs the differential-expression validation of the manual
// classification and writes the filtered gene table.
func markerCheck(ctx context.Context, flags classifyFlags, m *exprmat.Matrix, markers *exprmat.MarkerSet, cellType string, labels []classify.Label) {
	var tumorIdx, normalIdx []int
	for i, l := range labels {
		switch l {
		case classify.Tumor:
			tumorIdx = append(tumorIdx, i)
		case classify.Normal:
			normalIdx = append(normalIdx, i)
		}
	}
	results, err := diffexp.RankSum(m, tumorIdx, normalIdx)
	if err != nil {
		log.Printf("Marker check skipped: %v", err)
		return
	}
	th := diffexp.Thresholds{MaxFDR: flags.deMaxFDR, MinAbsLog2FC: flags.deMinLFC}
	filtered := diffexp.Filter(results, th)
	overlap := diffexp.MarkerOverlap(filtered, markers, cellType)
	log.Printf("Marker check: %d/%d genes pass FDR<%v, |log2FC|>%v; %d curated markers recovered, %d missed",
		len(filtered), len(results), th.MaxFDR, th.MinAbsLog2FC, len(overlap.InBoth), len(overlap.OnlyMarkers))

	outPath := outputPath(flags, "marker_check.tsv")
	if err := writeDEResults(ctx, outPath, filtered); err != nil {
		log.Fatalf("write %s: %v", outPath, err)
	}
	log.Printf("Wrote %d differential-expression rows to %s", len(filtered), outPath)
}

func writeDEResults(ctx context.Context, path string, results []diffexp.Result) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
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

	er := errors.Once{}
	writeFloat := func(v float64) { w.WriteString(strconv.FormatFloat(v, 'g', 6, 64)) }
	w.WriteString("gene_id")
	w.WriteString("gene_symbol")
	w.WriteString("mean_tumor")
	w.WriteString("mean_normal")
	w.WriteString("log2_fc")
	w.WriteString("p_value")
	w.WriteString("fdr")
	er.Set(w.EndLine())
	for _, r := range results {
		w.WriteString(r.Gene.ID)
		w.WriteString(r.Gene.Symbol)
		writeFloat(r.MeanA)
		writeFloat(r.MeanB)
		writeFloat(r.Log2FC)
		writeFloat(r.P)
		writeFloat(r.FDR)
		er.Set(w.EndLine())
	}
	er.Set(w.Flush())
	return er.Err()
}

func outputPath(flags classifyFlags, suffix string) string {
	name := fmt.Sprintf("%s_%s_%s", flags.sample, flags.library, suffix)
	if flags.gzipOutput {
		name += ".gz"
	}
	return filepath.Join(flags.outDir, name)
}
