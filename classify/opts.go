// Package classify implements marker-gene-based tumor/normal cell
// classification for single-cell expression matrices: per-gene z-score
// standardization, composite scoring, threshold rules, cross-sample
// threshold transfer via density estimation, and consensus voting
// across classification methods.
package classify

type Opts struct {
	// CellType selects which marker cell type drives classification.
	CellType string

	// Cutoff is the composite-score threshold for ByCutoff. Scores
	// strictly greater than Cutoff are called Tumor.
	Cutoff float64

	// Bandwidth is the kernel bandwidth for the density estimate used by
	// TransferCutoff. Zero or negative selects Silverman's rule of thumb.
	Bandwidth float64

	// GridPoints is the number of evaluation points used to locate the
	// density modes in TransferCutoff.
	GridPoints int

	// SearchLow and SearchHigh bound the cutoff search as quantiles of
	// the reference distribution. Modes outside the bounds are ignored.
	SearchLow  float64
	SearchHigh float64

	// Rule picks the N-way consensus tie-break.
	Rule Rule

	// Seed makes stochastic steps (cell subsampling) reproducible.
	Seed int64

	// MaxCells caps the number of cells fed to TransferCutoff; larger
	// inputs are subsampled with Seed. Zero means no cap.
	MaxCells int
}

// DefaultOpts sets the default values to Opts.
var DefaultOpts = Opts{
	CellType:   "tumor",
	Cutoff:     0,
	Bandwidth:  0, // Silverman
	GridPoints: 512,
	SearchLow:  0.01,
	SearchHigh: 0.99,
	Rule:       RuleUnanimous,
	Seed:       1,
	MaxCells:   0,
}
