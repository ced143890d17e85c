package serial

import (
	"context"
	"errors"
	"fmt"
)

// DefaultBaud is the line rate the matrix controller firmware listens at.
const DefaultBaud = 115200

// ErrNoDeviceSelected is returned by RequestDevice when no port was chosen.
var ErrNoDeviceSelected = errors.New("serial: no device selected")

// Transport hands out device handles. It is the seam between the session
// and a physical (or test) byte channel.
type Transport interface {
	RequestDevice(ctx context.Context) (Handle, error)
}

// Handle is a selected, possibly not yet opened, device.
type Handle interface {
	// Name identifies the device for logs and the UI (e.g. "/dev/ttyACM0").
	Name() string
	Open(ctx context.Context, baud int) error
	Reader() (ReadHandle, error)
	Writer() (WriteHandle, error)
	Close() error
}

// ReadHandle yields raw chunks from the device.
type ReadHandle interface {
	// Read blocks until data arrives, the stream ends or Cancel is called.
	// After Cancel, Read reports end-of-stream.
	Read() (chunk []byte, eos bool, err error)
	Cancel() error
}

// WriteHandle sends text to the device.
type WriteHandle interface {
	Write(text string) error
	Close() error
}

// OpenError reports that the transport refused to open.
type OpenError struct {
	Port string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("serial: open %s: %v", e.Port, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// ReadError reports a failed read on an open port.
type ReadError struct {
	Port string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("serial: read %s: %v", e.Port, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError reports a failed write on an open port.
type WriteError struct {
	Port string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("serial: write %s: %v", e.Port, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ErrClosed is returned by handles used after release.
var ErrClosed = errors.New("serial: handle closed")
