package classify

// Stats represents high-level statistics from one classification run.
type Stats struct {
	// Cells is the number of cells scored.
	Cells int
	// MarkerGenes is the number of marker genes that entered the
	// composite score.
	MarkerGenes int
	// ConstantGenes is the number of marker genes excluded for zero
	// variance.
	ConstantGenes int
	// TumorCalls, NormalCalls, AmbiguousCalls count final labels.
	TumorCalls     int
	NormalCalls    int
	AmbiguousCalls int
	// SentinelCalls counts NotApplicable labels (classification skipped).
	SentinelCalls int
	// MissingCalls counts NA labels.
	MissingCalls int
	// Subsampled is the number of cells dropped by MaxCells subsampling
	// before density estimation.
	Subsampled int
}

// Merge adds the field values of the two Stats objects and creates new
// Stats.
func (s Stats) Merge(o Stats) Stats {
	s.Cells += o.Cells
	s.MarkerGenes += o.MarkerGenes
	s.ConstantGenes += o.ConstantGenes
	s.TumorCalls += o.TumorCalls
	s.NormalCalls += o.NormalCalls
	s.AmbiguousCalls += o.AmbiguousCalls
	s.SentinelCalls += o.SentinelCalls
	s.MissingCalls += o.MissingCalls
	s.Subsampled += o.Subsampled
	return s
}
