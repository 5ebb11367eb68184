package adapter

import (
	"errors"
	"fmt"
)

var (
	// ErrReadTimeout means no byte arrived before the read timeout.
	ErrReadTimeout = errors.New("read timed out")
	// ErrWriteTimeout means the data was not flushed before the write timeout.
	ErrWriteTimeout = errors.New("write timed out")
	ErrNotOpen      = errors.New("device not open")
	ErrAlreadyOpen  = errors.New("device already open")
	// ErrInvalidTimeout rejects an I/O call whose timeout is not positive.
	ErrInvalidTimeout = errors.New("timeout must be positive")

	errEmptyEndpoint = errors.New("endpoint is empty")
)

// ErrorKind categorizes transport acquisition and I/O failures.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindAccessDenied
	KindInvalidEndpoint
)

func (k ErrorKind) String() string {
	switch k {
	case KindAccessDenied:
		return "access denied"
	case KindInvalidEndpoint:
		return "invalid endpoint"
	default:
		return "transport error"
	}
}

// TransportError wraps a failure of the underlying device.
type TransportError struct {
	Kind     ErrorKind
	Op       string
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Endpoint, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind carried by err, or KindOther.
func KindOf(err error) ErrorKind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindOther
}

// IsTimeout reports whether err is an expected read timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrReadTimeout)
}
