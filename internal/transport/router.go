package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
)

// Router picks the transport by step kind: email steps go to Email, call steps to Call.
type Router struct {
	Email Transport
	Call  Transport
}

func NewRouter(email, call Transport) (*Router, error) {
	if email == nil {
		return nil, errors.New("email transport required")
	}
	if call == nil {
		return nil, errors.New("call transport required")
	}
	return &Router{Email: email, Call: call}, nil
}

func (r *Router) Send(ctx context.Context, delivery Delivery) error {
	kind := delivery.Event.Kind
	switch {
	case kind.IsEmail():
		return r.Email.Send(ctx, delivery)
	case kind == enums.CadenceKindCallD7:
		return r.Call.Send(ctx, delivery)
	default:
		return Permanent(fmt.Errorf("no transport for kind %q", kind))
	}
}
