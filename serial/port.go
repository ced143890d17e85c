package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goserial "github.com/tarm/serial"
)

// DefaultReadTimeout is how long a single port read waits before the reader
// re-checks for cancellation.
const DefaultReadTimeout = 100 * time.Millisecond

// openPort is swapped by tests to run without hardware.
var openPort = func(c *goserial.Config) (io.ReadWriteCloser, error) {
	return goserial.OpenPort(c)
}

// PortTransport opens physical serial ports through github.com/tarm/serial.
type PortTransport struct {
	// Port is the device name to use. When empty, Select is asked.
	Port string

	// ReadTimeout bounds each blocking read; zero means DefaultReadTimeout.
	ReadTimeout time.Duration

	// Select chooses a port when Port is empty. Returning "" (or nil Select)
	// yields ErrNoDeviceSelected.
	Select func(ctx context.Context) (string, error)
}

// RequestDevice resolves the port name. It does not touch the device.
func (t *PortTransport) RequestDevice(ctx context.Context) (Handle, error) {
	name := strings.TrimSpace(t.Port)
	if name == "" && t.Select != nil {
		picked, err := t.Select(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoDeviceSelected, err)
		}
		name = strings.TrimSpace(picked)
	}
	if name == "" {
		return nil, ErrNoDeviceSelected
	}
	rt := t.ReadTimeout
	if rt <= 0 {
		rt = DefaultReadTimeout
	}
	return &portHandle{name: name, readTimeout: rt}, nil
}

type portHandle struct {
	name        string
	readTimeout time.Duration

	mu   sync.Mutex
	port io.ReadWriteCloser
}

func (h *portHandle) Name() string { return h.name }

func (h *portHandle) Open(ctx context.Context, baud int) error {
	if err := ctx.Err(); err != nil {
		return &OpenError{Port: h.name, Err: err}
	}
	cfg := &goserial.Config{
		Name:        h.name,
		Baud:        baud,
		Parity:      goserial.ParityNone,
		Size:        8,
		StopBits:    goserial.Stop1,
		ReadTimeout: h.readTimeout,
	}
	port, err := openPort(cfg)
	if err != nil {
		return &OpenError{Port: h.name, Err: err}
	}
	h.mu.Lock()
	h.port = port
	h.mu.Unlock()
	return nil
}

func (h *portHandle) current() io.ReadWriteCloser {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.port
}

func (h *portHandle) Reader() (ReadHandle, error) {
	p := h.current()
	if p == nil {
		return nil, ErrClosed
	}
	return &portReader{name: h.name, port: p, buf: make([]byte, 512)}, nil
}

func (h *portHandle) Writer() (WriteHandle, error) {
	p := h.current()
	if p == nil {
		return nil, ErrClosed
	}
	return &portWriter{name: h.name, port: p}, nil
}

func (h *portHandle) Close() error {
	h.mu.Lock()
	p := h.port
	h.port = nil
	h.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Close()
}

// portReader polls the port. The tarm driver returns (0, io.EOF) when a
// read times out on posix and (0, nil) on windows; both mean "no data yet".
type portReader struct {
	name      string
	port      io.Reader
	buf       []byte
	cancelled atomic.Bool
}

func (r *portReader) Read() ([]byte, bool, error) {
	for {
		if r.cancelled.Load() {
			return nil, true, nil
		}
		n, err := r.port.Read(r.buf)
		if n > 0 {
			return append([]byte(nil), r.buf[:n]...), false, nil
		}
		if err == nil || errors.Is(err, io.EOF) {
			continue
		}
		if r.cancelled.Load() {
			return nil, true, nil
		}
		return nil, false, &ReadError{Port: r.name, Err: err}
	}
}

func (r *portReader) Cancel() error {
	r.cancelled.Store(true)
	return nil
}

type portWriter struct {
	name   string
	port   io.Writer
	closed atomic.Bool
}

func (w *portWriter) Write(text string) error {
	if w.closed.Load() {
		return &WriteError{Port: w.name, Err: ErrClosed}
	}
	n, err := w.port.Write([]byte(text))
	if err != nil {
		return &WriteError{Port: w.name, Err: err}
	}
	if n != len(text) {
		return &WriteError{Port: w.name, Err: io.ErrShortWrite}
	}
	return nil
}

func (w *portWriter) Close() error {
	w.closed.Store(true)
	return nil
}
