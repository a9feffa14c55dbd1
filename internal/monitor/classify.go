package monitor

// Classification is the outcome of comparing a fetch against the stored snapshot.
type Classification struct {
	ChangeDetected bool
	Status         ChangeStatus
}

// Classify compares the current content with the previous snapshot. Equality
// is byte-exact; no normalization is applied, so markup or whitespace churn
// counts as a change.
func Classify(previous string, hasPrevious bool, current string) Classification {
	switch {
	case !hasPrevious:
		return Classification{Status: StatusBaselineScan}
	case previous == current:
		return Classification{Status: StatusNoChange}
	default:
		return Classification{ChangeDetected: true, Status: StatusPermanentRollout}
	}
}
