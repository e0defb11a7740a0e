// Package sink owns the broker-facing half of the pipeline: the driver
// abstraction over a concrete broker client, and the Publisher that
// feeds it from a bounded queue with retry and delivery accounting.
package sink

import (
	"errors"
	"fmt"
)

// Driver is the common behaviour every broker driver exposes. Send is
// synchronous: a nil return means the broker acknowledged the message.
// Errors must be wrapped Transient or Permanent so the Publisher can
// pick between retrying and dropping.
type Driver interface {
	Configure(any) error // driver-specific config struct
	Send(key, value []byte) error
	Close() error // idempotent
}

/*──────── error classes ───────*/

// TransientError marks a send failure worth retrying (network hiccup,
// broker unavailable). The Publisher retries these with backoff,
// forever, without reordering.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a send failure that retrying cannot fix
// (message too large, malformed). The frame is dropped and recorded;
// the session continues.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is classified permanent. Unclassified
// errors count as transient: retrying a permanent failure wastes time,
// dropping on a transient one loses signal.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

/*──────── registry ───────*/

type factory = func() Driver

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewDriver(name string) (Driver, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink driver %q", name)
}
