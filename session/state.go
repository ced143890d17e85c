// Package session owns the connection to the matrix controller and the
// configuration being edited.
//
// A Session runs a single control goroutine (Run). Edits, outbound
// commands, inbound chunks, simulated replies and state transitions all
// execute there, in the order they were posted. Blocking work (opening the
// port, waiting for serial data) happens off that goroutine and posts its
// results back.
package session

import (
	"errors"
	"fmt"

	"github.com/CK6170/routematrix-web/models"
	"github.com/CK6170/routematrix-web/protocol"
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for st := Disconnected; st <= Disconnecting; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", b)
}

// Listener receives every session notification. All calls are made from the
// session goroutine and must not call back into the Session synchronously.
type Listener interface {
	protocol.Events
	OnConnectionStateChanged(state State)
}

var (
	// ErrBusy is returned by Connect while a connection exists or is being
	// set up.
	ErrBusy = errors.New("connection already active or in progress")

	// ErrStopped is returned once Run has exited.
	ErrStopped = errors.New("session stopped")

	// ErrConnectAborted is reported when Disconnect lands while the port
	// is still being opened.
	ErrConnectAborted = errors.New("connect aborted")
)

// ConnectionError reports a failed lifecycle step. Op is "connect", "read"
// or "write".
type ConnectionError struct {
	Op   string
	Port string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Port == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type nopListener struct{}

func (nopListener) OnConfigApplied(*models.Config) {}
func (nopListener) OnDeviceAcknowledged()          {}
func (nopListener) OnDeviceMessage(string)         {}
func (nopListener) OnTransportLog(string, string)  {}
func (nopListener) OnError(error)                  {}
func (nopListener) OnConnectionStateChanged(State) {}
