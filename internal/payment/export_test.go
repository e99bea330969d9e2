package payment

import "time"

func (r *Reconciler) SetClock(now func() time.Time) {
	r.timeNow = now
}
