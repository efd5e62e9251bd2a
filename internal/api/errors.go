package api

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failed API call.
type Kind int

const (
	// KindNetwork means no response arrived (DNS, refused, timeout, cancel).
	KindNetwork Kind = iota + 1
	// KindUnauthorized is a 401: the bearer token is missing or expired.
	KindUnauthorized
	// KindValidation is a 4xx carrying per-field errors (usually 422).
	KindValidation
	// KindRequest is any other 4xx (forbidden, not found, conflict).
	KindRequest
	// KindServer is a 5xx.
	KindServer
	// KindDecode is a 2xx whose body could not be understood.
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindUnauthorized:
		return "unauthorized"
	case KindValidation:
		return "validation"
	case KindRequest:
		return "request"
	case KindServer:
		return "server"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is the typed rejection returned for every failed API call.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Fields  map[string][]string
	Method  string
	Path    string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "api %s error", e.Kind)
	if e.Status > 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Method != "" {
		fmt.Fprintf(&b, " on %s %s", e.Method, e.Path)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// FieldError returns the first message for field, or "".
func (e *Error) FieldError(field string) string {
	if msgs := e.Fields[field]; len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return 0
}

// IsUnauthorized reports whether err (or any error in its chain) is a 401.
func IsUnauthorized(err error) bool {
	return KindOf(err) == KindUnauthorized
}

// IsValidation reports whether err carries field validation errors.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// IsNetwork reports whether err means the server was never reached.
func IsNetwork(err error) bool {
	return KindOf(err) == KindNetwork
}

// kindForStatus maps a non-2xx status to a Kind.
func kindForStatus(status int, hasFields bool) Kind {
	switch {
	case status == 401:
		return KindUnauthorized
	case status >= 500:
		return KindServer
	case hasFields:
		return KindValidation
	case status == 422:
		return KindValidation
	default:
		return KindRequest
	}
}
