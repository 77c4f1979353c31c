package repair

import (
	"errors"
	"fmt"

	"bobchad/internal/history"
)

var (
	// ErrControllerExhausted is wrapped by ExhaustedError.
	ErrControllerExhausted = errors.New("repair attempts exhausted")
	// ErrReplayRejected is returned when a corrective plan would repeat an
	// external-effect invocation verbatim.
	ErrReplayRejected = errors.New("corrective plan replays an external-effect tool")
	// ErrNotRepairable is returned for tickets outside repair_pending and failed.
	ErrNotRepairable = errors.New("ticket is not awaiting repair")
)

// ExhaustedError reports an abandoned ticket: its last allowed attempt
// failed, or Cause says why no new plan could be drafted.
type ExhaustedError struct {
	TicketID string
	Attempts int
	Last     *history.Failure
	Cause    error
}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("ticket %s abandoned after %d attempt(s)", e.TicketID, e.Attempts)
	if e.Last != nil {
		msg += ": last failure " + e.Last.Kind
		if e.Last.Code != "" {
			msg += "/" + e.Last.Code
		}
	}
	if e.Cause != nil {
		msg += ": no corrective plan: " + e.Cause.Error()
	}
	return msg
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrControllerExhausted}
	}
	return []error{ErrControllerExhausted, e.Cause}
}
