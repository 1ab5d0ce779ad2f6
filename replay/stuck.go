package replay

import "time"

// stuckSlack is the grace period added to a recording's own idle gaps
// before wall-clock wait time is reported as divergent. It absorbs
// recordings that themselves contain long idle periods.
const stuckSlack = 2 * time.Second

// isStuck is the pure decision function behind the stuck detector: true
// once wall-clock wait time exceeds the recording's own gap between the
// last matched record and the pending one, plus slack. Isolated as a pure
// function of (now, waitingSince, recordDelta) so tests can exercise it
// without a real clock.
func isStuck(now, waitingSince time.Time, recordDelta time.Duration) bool {
	if recordDelta < 0 {
		recordDelta = 0
	}
	return now.Sub(waitingSince) > recordDelta+stuckSlack
}
