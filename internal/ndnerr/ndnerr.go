// Package ndnerr defines the stable error codes carried across the NDN
// chunk-transfer wire protocol, so a remote-reported failure can be
// reconstructed locally as the same sentinel a local caller would see.
package ndnerr

import "fmt"

// Code is the numeric error kind carried on RespInterest.ErrCode, shared
// end-to-end between peers.
type Code uint8

const (
	// Ok is the success sentinel on RespInterest only; a Channel never
	// sends a RespInterest carrying it.
	Ok Code = iota
	InvalidData
	InvalidParam
	ErrorState
	Timeout
	Interrupted
	UserCanceled
	NotFound
	ConnectFailed
	Unknown
)

func (c Code) String() string {
	switch c {
	case Ok:
		return "Ok"
	case InvalidData:
		return "InvalidData"
	case InvalidParam:
		return "InvalidParam"
	case ErrorState:
		return "ErrorState"
	case Timeout:
		return "Timeout"
	case Interrupted:
		return "Interrupted"
	case UserCanceled:
		return "UserCanceled"
	case NotFound:
		return "NotFound"
	case ConnectFailed:
		return "ConnectFailed"
	default:
		return "Unknown"
	}
}

// Error is a Code wrapped as a Go error, so codes compare with errors.Is
// and round-trip through the wire without losing identity.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is lets errors.Is(err, ndnerr.New(Timeout)) match any *Error with the
// same Code, regardless of Msg.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New constructs a sentinel error for a code with no extra context.
func New(code Code) *Error { return &Error{Code: code} }

// Wrap constructs a code carrying additional local context.
func Wrap(code Code, msg string) *Error { return &Error{Code: code, Msg: msg} }

// FromCode reconstructs the error a peer observed from the numeric code
// received on the wire (RespInterest.ErrCode).
func FromCode(code Code) error {
	if code == Ok {
		return nil
	}
	return New(code)
}

// CodeOf extracts the wire code from any error produced by this package,
// defaulting to Unknown for errors from elsewhere (e.g. transport I/O).
func CodeOf(err error) Code {
	if err == nil {
		return Ok
	}
	var e *Error
	if as(err, &e) {
		return e.Code
	}
	return Unknown
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
