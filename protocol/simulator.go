package protocol

import (
	"strings"
	"sync"
	"time"

	"github.com/CK6170/routematrix-web/models"
	"github.com/CK6170/routematrix-web/serial"
)

// DefaultSimulatorDelay models the controller's response latency.
const DefaultSimulatorDelay = 200 * time.Millisecond

// Simulator is a software stand-in for the matrix controller. It is used as
// the write handle of a simulated connection: every command written to it is
// answered, after Delay, by calling deliver with the reply line.
type Simulator struct {
	delay   time.Duration
	deliver func(line string)

	mu     sync.Mutex
	cfg    *models.Config
	framer *serial.Framer
	closed bool
}

var _ serial.WriteHandle = (*Simulator)(nil)

// NewSimulator returns a simulator holding the default configuration.
func NewSimulator(delay time.Duration, deliver func(line string)) *Simulator {
	return &Simulator{
		delay:   delay,
		deliver: deliver,
		cfg:     models.Default(),
		framer:  serial.NewFramer(serial.DefaultMaxPending),
	}
}

// Write accepts one or more newline-terminated commands.
func (s *Simulator) Write(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &serial.WriteError{Port: "simulator", Err: serial.ErrClosed}
	}
	lines, err := s.framer.Feed([]byte(text))
	if err != nil {
		return &serial.WriteError{Port: "simulator", Err: err}
	}
	for line := range lines {
		s.replyLocked(s.answer(line))
	}
	return nil
}

func (s *Simulator) answer(line string) string {
	switch {
	case line == CmdGetConfig:
		raw, _ := models.Marshal(s.cfg)
		return PrefixConfig + string(raw)
	case strings.HasPrefix(line, CmdSetConfig):
		cfg, err := models.Parse([]byte(line[len(CmdSetConfig):]))
		if err != nil {
			return "ERR:" + err.Error()
		}
		s.cfg = cfg
		return PrefixAck
	default:
		return "ERR:unknown command " + line
	}
}

func (s *Simulator) replyLocked(line string) {
	time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			s.deliver(line)
		}
	})
}

// Close drops pending replies; later writes fail.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// DeviceConfig returns a copy of the configuration the simulated device holds.
func (s *Simulator) DeviceConfig() *models.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clone()
}
