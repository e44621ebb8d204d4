package domain

import "time"

type State string

const (
	StateTemplate  State = "template"
	StateStarted   State = "started"
	StateExpires   State = "expires"
	StateCancelled State = "cancelled"
)

// DeriveState computes the lifecycle state from the contract timestamps.
//
//	started_at unset                       -> template
//	cancelled_at and cancelled_to set:
//	    cancelled_to after now             -> expires
//	    otherwise                          -> cancelled
//	otherwise                              -> started
func DeriveState(c Contract, now time.Time) State {
	if c.StartedAt == nil {
		return StateTemplate
	}
	if c.CancelledAt != nil && c.CancelledTo != nil {
		if c.CancelledTo.After(now) {
			return StateExpires
		}
		return StateCancelled
	}
	return StateStarted
}

// NextBoundary returns the first anchor + k*period strictly after now.
func NextBoundary(anchor, now time.Time, period int) time.Time {
	if period <= 0 {
		return now
	}
	k := 1
	if now.After(anchor) {
		k = int(now.Sub(anchor).Hours()/24)/period + 1
	}
	b := anchor.AddDate(0, 0, k*period)
	for !b.After(now) {
		k++
		b = anchor.AddDate(0, 0, k*period)
	}
	return b
}
