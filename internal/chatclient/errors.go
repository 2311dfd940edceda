package chatclient

import (
	"errors"
	"net/http"

	"github.com/tullo/chats/internal/models"
)

// Kind classifies a failure so callers can decide between retrying,
// showing a banner or fixing their input.
type Kind string

const (
	// TransportFailure covers network errors, timeouts and unexpected
	// backend answers. Recoverable by retrying.
	TransportFailure Kind = "TRANSPORT_FAILURE"

	// PolicyRejection is a refusal caused by a block between the users.
	PolicyRejection Kind = "POLICY_REJECTION"

	// ValidationFailure is raised before any network call.
	ValidationFailure Kind = "VALIDATION_FAILURE"

	// NotFound means the target no longer exists.
	NotFound Kind = "NOT_FOUND"
)

// ErrStale is returned when a result arrives for a conversation that is no
// longer the active one. It is not a failure and must not be displayed.
var ErrStale = errors.New("result belongs to a conversation that is no longer active")

// Error is a failed backend call or a rejected input, classified by Kind
type Error struct {
	Kind      Kind
	Direction models.Direction // set for PolicyRejection
	Message   string
	Status    int   // HTTP status, zero when no response arrived
	Err       error // Original error that caused this error, if any
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func validationError(message string) *Error {
	return &Error{Kind: ValidationFailure, Message: message}
}

// IsKind reports whether err is a chat client error of the given kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// DirectionOf returns the block direction carried by a PolicyRejection
func DirectionOf(err error) models.Direction {
	var e *Error
	if errors.As(err, &e) && e.Kind == PolicyRejection {
		return e.Direction
	}
	return models.NotBlocked
}

// kindForStatus maps a non-2xx HTTP status onto the taxonomy
func kindForStatus(status int) Kind {
	switch status {
	case http.StatusForbidden:
		return PolicyRejection
	case http.StatusNotFound:
		return NotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ValidationFailure
	default:
		return TransportFailure
	}
}
