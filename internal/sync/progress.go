package sync

// ProgressFunc receives sync progress as a fraction in [0,1] plus a
// human-readable phase label. Reported fractions are monotonic within a pass.
type ProgressFunc func(fraction float64, phase string)

// Phase progress windows. Each phase reports its sub-progress scaled into its
// assigned fraction of the whole pass.
const (
	progressChangeLogStart = 0.0
	progressChangeLogEnd   = 0.10
	progressFetchStart     = 0.30
	progressFetchEnd       = 0.70
	progressLabelsStart    = 0.70
	progressLabelsEnd      = 0.80
	progressReconcileStart = 0.80
	progressReconcileEnd   = 0.85
	progressRollupStart    = 0.85
	progressRollupEnd      = 0.95
)

// phaseReporter scales a phase's own done/total progress into the phase's
// window of overall pass progress.
type phaseReporter struct {
	report     ProgressFunc
	start, end float64
	label      string
}

func newPhaseReporter(report ProgressFunc, start, end float64, label string) phaseReporter {
	return phaseReporter{report: report, start: start, end: end, label: label}
}

// begin reports the phase's starting fraction.
func (p phaseReporter) begin() {
	if p.report != nil {
		p.report(p.start, p.label)
	}
}

// sub reports done-of-total progress within the phase window.
func (p phaseReporter) sub(done, total int) {
	if p.report == nil || total <= 0 {
		return
	}
	frac := float64(done) / float64(total)
	if frac > 1 {
		frac = 1
	}
	p.report(p.start+(p.end-p.start)*frac, p.label)
}

// done reports the phase's final fraction.
func (p phaseReporter) done() {
	if p.report != nil {
		p.report(p.end, p.label)
	}
}
