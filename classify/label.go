package classify

import "fmt"

// Label is a per-cell, per-method classification value.
type Label uint8

const (
	// NA marks a cell with no value for a method. Missing data, not an
	// error.
	NA Label = iota
	// Tumor and Normal are the binary calls.
	Tumor
	Normal
	// Ambiguous is the consensus value when methods disagree.
	Ambiguous
	// NotApplicable is the sentinel emitted when classification was
	// skipped for the whole sample (e.g. no marker expression at all).
	NotApplicable
)

var labelNames = [...]string{"NA", "Tumor", "Normal", "Ambiguous", "Not applicable"}

func (l Label) String() string {
	if int(l) >= len(labelNames) {
		return fmt.Sprintf("Label(%d)", l)
	}
	return labelNames[l]
}

// ParseLabel is the inverse of String. Unknown strings map to NA.
func ParseLabel(s string) Label {
	for i, name := range labelNames {
		if s == name {
			return Label(i)
		}
	}
	return NA
}

// Rule selects how ConsensusN breaks disagreement between more than two
// methods.
type Rule uint8

const (
	// RuleUnanimous calls a cell only when every voting method agrees.
	RuleUnanimous Rule = iota
	// RuleMajority calls a cell when a strict majority of voting methods
	// agrees.
	RuleMajority
)

func (r Rule) String() string {
	switch r {
	case RuleUnanimous:
		return "unanimous"
	case RuleMajority:
		return "majority"
	}
	return fmt.Sprintf("Rule(%d)", r)
}

// ParseRule maps a flag value to a Rule.
func ParseRule(s string) (Rule, error) {
	switch s {
	case "unanimous":
		return RuleUnanimous, nil
	case "majority":
		return RuleMajority, nil
	}
	return RuleUnanimous, fmt.Errorf("unknown consensus rule %q (want unanimous or majority)", s)
}

// Consensus combines two independent binary classifications of the same
// cell: Tumor iff both say Tumor, Normal iff both say Normal, otherwise
// Ambiguous. Two missing values stay missing; a vote paired with a
// missing or sentinel value cannot be confirmed and is Ambiguous.
func Consensus(a, b Label) Label {
	if a == b && (a == Tumor || a == Normal) {
		return a
	}
	if (a == NA || a == NotApplicable) && (b == NA || b == NotApplicable) {
		return NA
	}
	return Ambiguous
}

// ConsensusN generalizes Consensus to any number of methods with an
// explicit tie-break rule. NA and NotApplicable entries do not vote; a
// cell with no votes is NA. Under RuleUnanimous all votes must agree;
// under RuleMajority a strict majority wins; anything else is
// Ambiguous.
func ConsensusN(labels []Label, rule Rule) Label {
	// A prior Ambiguous is a recorded disagreement, not an abstention:
	// it blocks unanimity and dilutes majorities.
	var nTumor, nNormal, nAmbiguous int
	for _, l := range labels {
		switch l {
		case Tumor:
			nTumor++
		case Normal:
			nNormal++
		case Ambiguous:
			nAmbiguous++
		}
	}
	votes := nTumor + nNormal
	if votes+nAmbiguous == 0 {
		return NA
	}
	switch rule {
	case RuleUnanimous:
		if nAmbiguous == 0 && nTumor == votes && votes > 0 {
			return Tumor
		}
		if nAmbiguous == 0 && nNormal == votes && votes > 0 {
			return Normal
		}
	case RuleMajority:
		total := votes + nAmbiguous
		if nTumor*2 > total {
			return Tumor
		}
		if nNormal*2 > total {
			return Normal
		}
	}
	return Ambiguous
}
