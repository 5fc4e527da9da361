package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/pitchtrail/pitchtrail-backend/pkg/db/models"
)

// Delivery is one cadence event resolved to its proposal and recipient.
type Delivery struct {
	Event    models.CadenceEvent
	Proposal models.Proposal
	Contact  models.Contact
}

// Transport performs the side effect of a cadence step.
// Errors should be *TransientError or *PermanentError; anything else is treated as transient.
type Transport interface {
	Send(ctx context.Context, delivery Delivery) error
}

// TransientError is a failure worth retrying on a later claim.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient transport error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a failure no retry can fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent transport error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
