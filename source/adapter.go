// Package source defines the acquisition-side adapter interface: a
// pull-based view over an EEG device, driver SDK, or recording.
package source

import (
	"context"
	"errors"
	"fmt"
)

// Reading is one multi-channel device sample before the streaming loop
// has assigned a sequence number. Timestamps are monotonic microseconds
// with the session epoch chosen by the driver.
type Reading struct {
	TimestampMicros int64
	Values          []float64
}

// Config is the device-facing part of the session configuration.
// Driver holds the driver-specific YAML block, decoded by Configure.
type Config struct {
	DeviceID     string
	Channels     int
	SamplingRate int
	Driver       map[string]any
}

// Adapter is the common behaviour every device driver exposes.
// Next blocks until a sample is available, the stream ends
// (ErrEndOfStream), or the device fails (DeviceError).
type Adapter interface {
	Configure(Config) error
	Next(ctx context.Context) (Reading, error)
	Close() error
}

// ErrEndOfStream is returned by Next when a finite source (e.g. a
// non-looping recording) is exhausted. Not a device failure.
var ErrEndOfStream = errors.New("source: end of stream")

/*──────── device errors ───────*/

type ErrorKind string

const (
	KindDisconnected ErrorKind = "disconnected"
	KindTimeout      ErrorKind = "timeout"
	KindMalformed    ErrorKind = "malformed"
	KindOutOfOrder   ErrorKind = "out_of_order"
)

// DeviceError is fatal for the session: the device is assumed not to
// self-heal, so the loop drains and stops when it sees one.
type DeviceError struct {
	Kind ErrorKind
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("device error (%s)", e.Kind)
	}
	return fmt.Sprintf("device error (%s): %v", e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

func Errf(kind ErrorKind, format string, args ...any) *DeviceError {
	return &DeviceError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

/*──────── registry ───────*/

// Factory builds an Adapter ("replay", "synth", …).
type Factory func() Adapter

var registry = map[string]Factory{}

// Register is called from each driver's init() or from main().
func Register(name string, f Factory) {
	registry[name] = f
}

// NewAdapter returns a driver by name.
func NewAdapter(name string) (Adapter, error) {
	if f, ok := registry[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("source: unsupported driver %q", name)
}

/*──────── timestamp guard ───────*/

// MonotonicGuard rejects readings whose timestamps do not strictly
// increase. Drivers run every reading through one guard per session so
// out-of-order or duplicate device timestamps surface as a DeviceError
// instead of slipping downstream.
type MonotonicGuard struct {
	last int64
	seen bool
}

func (g *MonotonicGuard) Check(r Reading) error {
	if g.seen && r.TimestampMicros <= g.last {
		return Errf(KindOutOfOrder, "timestamp %dµs not after %dµs", r.TimestampMicros, g.last)
	}
	g.last = r.TimestampMicros
	g.seen = true
	return nil
}
