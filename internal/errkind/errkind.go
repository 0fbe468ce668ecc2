// Package errkind defines the stable error-category taxonomy shared by every
// driver and controller, so the orchestration bridge can surface category
// tags to the UI layer without parsing error strings.
package errkind

import "errors"

// Kind is a stable error category. Drivers and controllers wrap underlying
// errors with a Kind via Wrap so callers can classify failures with
// errors.Is/As without depending on driver-internal error values.
type Kind string

const (
	ConfigError   Kind = "config_error"
	ConnectError  Kind = "connect_error"
	TlsError      Kind = "tls_error"
	ProtocolError Kind = "protocol_error"
	Timeout       Kind = "timeout"
	DeviceBusy    Kind = "device_busy"
	TrackNotFound Kind = "track_not_found"
	StateError    Kind = "state_error"
	ConnLost      Kind = "connection_lost"
)

// Error wraps an underlying error with a stable category tag.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap tags err with kind. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
