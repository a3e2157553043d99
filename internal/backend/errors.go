package backend

import (
	"errors"
	"fmt"
)

// Kind classifies a backend failure.
type Kind int

const (
	// KindNetwork covers transport errors and non-2xx responses.
	KindNetwork Kind = iota + 1
	// KindMalformed covers bodies of unexpected shape or record count.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is a failed backend call. Message is short and user-facing; Detail
// carries the raw diagnostic text.
type Error struct {
	Kind    Kind
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

func networkError(op string, err error) *Error {
	return &Error{
		Kind:    KindNetwork,
		Message: fmt.Sprintf("Failed to reach the %s service", op),
		Detail:  err.Error(),
		Err:     err,
	}
}

func statusError(op string, status int, body []byte) *Error {
	detail := string(body)
	if len(detail) > 2048 {
		detail = detail[:2048]
	}
	return &Error{
		Kind:    KindNetwork,
		Message: fmt.Sprintf("The %s service returned HTTP %d", op, status),
		Detail:  detail,
	}
}

func malformedError(op string, err error) *Error {
	return &Error{
		Kind:    KindMalformed,
		Message: fmt.Sprintf("Unexpected response from the %s service", op),
		Detail:  err.Error(),
		Err:     err,
	}
}

// AsError extracts a backend error from err. Errors of other types are
// wrapped as KindNetwork so callers can always show a message and detail.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return &Error{Kind: KindNetwork, Message: "Request failed", Detail: err.Error(), Err: err}
}
