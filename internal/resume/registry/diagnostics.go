package registry

import "sync/atomic"

// Diagnostics holds lightweight counters for conditions that are tolerated
// at runtime but worth surfacing. Counters are safe for concurrent use.
type Diagnostics struct {
	sequenceRegressions atomic.Uint64
}

// SequenceRegressions reports how many acknowledgements arrived below an
// already-recorded watermark. Regressions indicate duplicate or reordered
// delivery on the client side; the watermark itself never moves backward.
func (d *Diagnostics) SequenceRegressions() uint64 {
	return d.sequenceRegressions.Load()
}

func (d *Diagnostics) recordSequenceRegression() {
	d.sequenceRegressions.Add(1)
}
