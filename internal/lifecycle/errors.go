package lifecycle

import (
	"errors"
	"fmt"

	"github.com/example/order-engine/internal/models"
)

var (
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrForbiddenTransition = errors.New("forbidden transition")
)

// TransitionError describes a rejected transition. It unwraps to
// ErrInvalidTransition or ErrForbiddenTransition.
type TransitionError struct {
	From   models.OrderStatus
	To     models.OrderStatus
	Role   models.ActorRole
	Reason string
	Err    error
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s: %s -> %s", e.Err, e.From, e.To)
	if e.From == "" {
		// rejected before the order was loaded
		msg = fmt.Sprintf("%s: %q", e.Err, e.To)
	}
	if e.Err == ErrForbiddenTransition {
		msg += fmt.Sprintf(" for role %q", e.Role)
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return e.Err }
