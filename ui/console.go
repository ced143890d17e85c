package ui

import (
	"fmt"
	"time"

	"github.com/CK6170/routematrix-web/models"
	"github.com/CK6170/routematrix-web/protocol"
	"github.com/CK6170/routematrix-web/session"
)

// Console prints session events to Out. Capture, when set, receives every
// transport line with a timestamp.
type Console struct {
	Capture func(line string)
	Debug   bool

	applied func(cfg *models.Config)
}

var _ session.Listener = (*Console)(nil)

// OnApplied registers a hook run after a configuration replaces the model.
func (c *Console) OnApplied(fn func(cfg *models.Config)) { c.applied = fn }

func (c *Console) OnConfigApplied(cfg *models.Config) {
	Greenf("configuration applied (normal=%d shift1=%d shift2=%d shift3=%d active cells)\n",
		cfg.Normal.Active(), cfg.Shift1.Active(), cfg.Shift2.Active(), cfg.Shift3.Active())
	if c.applied != nil {
		c.applied(cfg)
	}
}

func (c *Console) OnDeviceAcknowledged() { Greenf("device: OK\n") }

func (c *Console) OnDeviceMessage(text string) { colorf(purple, "device: %s\n", text) }

func (c *Console) OnConnectionStateChanged(state session.State) {
	colorf(blue, "[%s]\n", state)
}

func (c *Console) OnTransportLog(direction, text string) {
	if c.Capture != nil {
		c.Capture(fmt.Sprintf("%s %-4s %s", time.Now().Format(time.RFC3339Nano), direction, text))
	}
	if !c.Debug && direction != protocol.DirectionStatus {
		return
	}
	switch direction {
	case protocol.DirectionTx:
		colorf(cyan, "> %s\n", abbreviate(text))
	case protocol.DirectionRx:
		colorf(yellow, "< %s\n", abbreviate(text))
	default:
		fmt.Fprintf(Out, "* %s\n", text)
	}
}

func (c *Console) OnError(err error) { Errorf("error: %v\n", err) }

func abbreviate(s string) string {
	const limit = 120
	if len(s) <= limit {
		return s
	}
	return s[:limit] + fmt.Sprintf("... (%d bytes)", len(s))
}
