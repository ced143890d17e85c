// Package protocol implements the line protocol spoken with the matrix
// controller.
//
// Host to device:
//
//	GETCFG               request the current configuration
//	SETCFG:<json>        replace the device configuration
//
// Device to host:
//
//	CFG:<json>           configuration payload
//	OK[...]              acknowledges a SETCFG
//	anything else        informational, passed through
//
// Acknowledgements are not correlated with requests: an OK is reported
// whenever one arrives.
package protocol

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/CK6170/routematrix-web/models"
)

// Wire vocabulary.
const (
	CmdGetConfig    = "GETCFG"
	CmdSetConfig    = "SETCFG:"
	PrefixConfig    = "CFG:"
	PrefixAck       = "OK"
	LineTerminator  = "\n"
	DirectionTx     = "tx"
	DirectionRx     = "rx"
	DirectionStatus = "info"
)

// LineWriter is the outbound half of a connection. serial.WriteHandle and
// *Simulator satisfy it.
type LineWriter interface {
	Write(text string) error
}

// Events receives everything the dispatcher observes. Calls happen on the
// goroutine that calls the Dispatcher.
type Events interface {
	OnConfigApplied(cfg *models.Config)
	OnDeviceAcknowledged()
	OnDeviceMessage(text string)
	OnTransportLog(direction, text string)
	OnError(err error)
}

// Dispatcher classifies inbound lines, issues outbound commands and owns the
// current configuration. It is not safe for concurrent use; the session
// serializes every call.
type Dispatcher struct {
	cfg    *models.Config
	writer LineWriter
	events Events
	log    *zap.Logger
}

// NewDispatcher returns a dispatcher holding the default configuration.
func NewDispatcher(events Events, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{cfg: models.Default(), events: events, log: log}
}

// Config returns the live configuration. Edits made through it are what the
// next PushConfig sends.
func (d *Dispatcher) Config() *models.Config { return d.cfg }

// Replace installs cfg after validating it. The previous configuration is
// kept when cfg is invalid.
func (d *Dispatcher) Replace(cfg *models.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.cfg = cfg
	d.events.OnConfigApplied(cfg)
	return nil
}

// Reset restores the default configuration.
func (d *Dispatcher) Reset() {
	d.cfg = models.Default()
	d.events.OnConfigApplied(d.cfg)
}

// Attach routes outbound commands to w; nil detaches.
func (d *Dispatcher) Attach(w LineWriter) { d.writer = w }

// Attached reports whether a writer is attached.
func (d *Dispatcher) Attached() bool { return d.writer != nil }

// HandleLine acts on one framed line from the device. The returned error is
// also reported through Events.OnError; it is never fatal to the session.
func (d *Dispatcher) HandleLine(line string) error {
	d.events.OnTransportLog(DirectionRx, line)
	d.log.Debug("serial rx", zap.String("line", line))

	switch {
	case strings.HasPrefix(line, PrefixConfig):
		return d.applyPayload(line[len(PrefixConfig):])
	case strings.HasPrefix(line, PrefixAck):
		d.log.Info("device acknowledged configuration")
		d.events.OnDeviceAcknowledged()
	default:
		d.events.OnDeviceMessage(line)
	}
	return nil
}

func (d *Dispatcher) applyPayload(payload string) error {
	cfg, err := models.Parse([]byte(payload))
	if err != nil {
		var ve *models.ValidationError
		if errors.As(err, &ve) {
			err = &ConfigValidationError{Payload: payload, Err: err}
		} else {
			err = &ConfigParseError{Payload: payload, Err: err}
		}
		d.log.Warn("rejected device configuration", zap.Error(err))
		d.events.OnError(err)
		return err
	}
	d.cfg = cfg
	d.log.Info("applied device configuration")
	d.events.OnConfigApplied(cfg)
	return nil
}

// RequestConfig asks the device for its configuration.
func (d *Dispatcher) RequestConfig() error {
	return d.send(CmdGetConfig)
}

// PushConfig sends the current configuration to the device.
func (d *Dispatcher) PushConfig() error {
	raw, err := models.Marshal(d.cfg)
	if err != nil {
		return err
	}
	return d.send(CmdSetConfig + string(raw))
}

func (d *Dispatcher) send(line string) error {
	if d.writer == nil {
		err := &TransportWriteError{Line: line, Err: ErrNotConnected}
		d.events.OnError(err)
		return err
	}
	d.events.OnTransportLog(DirectionTx, line)
	d.log.Debug("serial tx", zap.String("line", line))
	if err := d.writer.Write(line + LineTerminator); err != nil {
		werr := &TransportWriteError{Line: line, Err: err}
		d.log.Warn("serial write failed", zap.Error(err))
		d.events.OnError(werr)
		return werr
	}
	return nil
}
