package errcode

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	// Network / remote API
	TransientNetwork Code = "transient_network" // timeout, 5xx, refused — retry next cycle
	Unauthorized     Code = "unauthorized"      // 401 on a resource call
	InvalidPayload   Code = "invalid_payload"   // malformed response body

	// Auth lifecycle
	AuthRejected Code = "auth_rejected" // explicit grant rejection — forces re-auth
	AuthPending  Code = "auth_pending"  // device-code flow still waiting on the user
	AuthExpired  Code = "auth_expired"  // device code outlived its expires_in

	// Device / local
	NoCredentials Code = "no_credentials"
	StoreFailed   Code = "store_failed"
	LinkDown      Code = "link_down"
	InvalidConfig Code = "invalid_config"
	Unsupported   Code = "unsupported"
	PayloadTooBig Code = "payload_too_big"
	Timeout       Code = "timeout"

	Fatal Code = "fatal"
	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Wrap builds an E in one line.
func Wrap(c Code, op, msg string, err error) *E {
	return &E{C: c, Op: op, Msg: msg, Err: err}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		if inner := u.Unwrap(); inner != nil {
			if c := Of(inner); c != Error {
				return c
			}
		}
	}
	return Error
}

// IsTransient reports whether the error should be retried on the next cycle
// without any state change.
func IsTransient(err error) bool {
	switch Of(err) {
	case TransientNetwork, Timeout:
		return true
	}
	return false
}

// IsAuthPending reports the expected "user has not finished signing in yet"
// condition of the device-code flow. Never counts toward a failure budget.
func IsAuthPending(err error) bool { return Of(err) == AuthPending }
