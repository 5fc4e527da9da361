package cadence

import "errors"

var (
	// ErrAlreadyClaimed means another worker claimed the event first, or it is no longer due.
	ErrAlreadyClaimed = errors.New("cadence event already claimed")
	// ErrLeaseLost means the claim token no longer matches: the lease expired and another worker took over.
	ErrLeaseLost = errors.New("cadence event lease lost")
)
