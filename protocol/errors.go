package protocol

import (
	"errors"
	"fmt"
)

// ErrNotConnected is wrapped by TransportWriteError when no writer is
// attached.
var ErrNotConnected = errors.New("not connected")

// maxDiagnosticPayload caps how much of a rejected payload Error() prints.
// The full text stays in Payload.
const maxDiagnosticPayload = 96

// ConfigParseError reports a CFG: payload that is not JSON.
type ConfigParseError struct {
	Payload string
	Err     error
}

func (e *ConfigParseError) Error() string {
	return fmt.Sprintf("config parse error: %v (payload %q)", e.Err, clip(e.Payload))
}

func (e *ConfigParseError) Unwrap() error { return e.Err }

// ConfigValidationError reports a CFG: payload that parsed but breaks the
// configuration invariants.
type ConfigValidationError struct {
	Payload string
	Err     error
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation error: %v (payload %q)", e.Err, clip(e.Payload))
}

func (e *ConfigValidationError) Unwrap() error { return e.Err }

// TransportWriteError reports an outbound command that could not be sent.
type TransportWriteError struct {
	Line string
	Err  error
}

func (e *TransportWriteError) Error() string {
	cmd := e.Line
	if i := len(CmdSetConfig); len(cmd) > i && cmd[:i] == CmdSetConfig {
		cmd = CmdSetConfig + "…"
	}
	return fmt.Sprintf("send %s: %v", cmd, e.Err)
}

func (e *TransportWriteError) Unwrap() error { return e.Err }

func clip(s string) string {
	if len(s) <= maxDiagnosticPayload {
		return s
	}
	return s[:maxDiagnosticPayload] + "..."
}
