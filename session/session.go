package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/CK6170/routematrix-web/models"
	"github.com/CK6170/routematrix-web/protocol"
	"github.com/CK6170/routematrix-web/serial"
)

// Options tunes a Session. Zero values select the defaults.
type Options struct {
	Baud           int
	MaxLineBytes   int
	SimulatorDelay time.Duration
}

func (o *Options) setDefaults() {
	if o.Baud <= 0 {
		o.Baud = serial.DefaultBaud
	}
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = serial.DefaultMaxPending
	}
	if o.SimulatorDelay <= 0 {
		o.SimulatorDelay = protocol.DefaultSimulatorDelay
	}
}

// SimulatedPort is the port name reported for simulated connections.
const SimulatedPort = "simulator"

// connection is what a live link holds. Exactly one of port/sim is set.
type connection struct {
	gen    uint64
	name   string
	port   serial.Handle
	reader serial.ReadHandle
	writer serial.WriteHandle
	sim    *protocol.Simulator
}

// Status describes the link and the editing context.
type Status struct {
	State     State        `json:"state"`
	Port      string       `json:"port"`
	Simulated bool         `json:"simulated"`
	Level     models.Level `json:"level"`
}

// Snapshot is a consistent copy of the session taken on the session
// goroutine.
type Snapshot struct {
	Status
	Config *models.Config `json:"config"`
}

// Session serializes every operation on one goroutine. Create it with New
// and start it with Run before calling any other method.
type Session struct {
	opts     Options
	log      *zap.Logger
	listener Listener
	events   chan func()
	done     chan struct{}

	// Owned by the session goroutine.
	state  State
	conn   *connection
	gen    uint64
	abort  bool
	disp   *protocol.Dispatcher
	framer *serial.Framer
	level  models.Level
}

// New returns a stopped session holding the default configuration.
func New(opts Options, listener Listener, log *zap.Logger) *Session {
	opts.setDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	if listener == nil {
		listener = nopListener{}
	}
	return &Session{
		opts:     opts,
		log:      log,
		listener: listener,
		events:   make(chan func(), 64),
		done:     make(chan struct{}),
		disp:     protocol.NewDispatcher(listener, log.Named("protocol")),
		framer:   serial.NewFramer(opts.MaxLineBytes),
	}
}

// Run executes posted work until ctx is done. A live connection is torn down
// before Run returns.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	s.log.Debug("session started")
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-ctx.Done():
			s.drain()
			s.disconnect()
			s.log.Debug("session stopped")
			return ctx.Err()
		}
	}
}

func (s *Session) drain() {
	for {
		select {
		case fn := <-s.events:
			fn()
		default:
			return
		}
	}
}

// post queues fn for the session goroutine. It reports false once Run has
// exited.
func (s *Session) post(fn func()) bool {
	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the session goroutine and waits for its result.
func (s *Session) call(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	select {
	case s.events <- func() { res <- fn() }:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-res:
		return err
	case <-s.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrStopped
		}
	}
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.log.Info("connection state", zap.Stringer("from", s.state), zap.Stringer("to", st))
	s.state = st
	s.listener.OnConnectionStateChanged(st)
}

func (s *Session) report(err error) {
	s.log.Warn("session error", zap.Error(err))
	s.listener.OnError(err)
}

func (s *Session) current(gen uint64) bool {
	return s.conn != nil && s.conn.gen == gen && s.state == Connected
}

// Connect acquires a device from tr, opens it and starts reading. It blocks
// until the connection is up or has been rolled back, even when Run stops in
// the meantime. Errors other than ErrBusy and ErrStopped are
// *ConnectionError.
func (s *Session) Connect(ctx context.Context, tr serial.Transport) error {
	var gen uint64
	err := s.call(ctx, func() error {
		if s.state != Disconnected {
			return ErrBusy
		}
		s.gen++
		gen = s.gen
		s.abort = false
		s.setState(Connecting)
		return nil
	})
	if err != nil {
		return err
	}

	c, err := s.acquire(ctx, tr, gen)
	result := make(chan error, 1)
	if s.post(func() { result <- s.finishConnect(c, err) }) {
		select {
		case err := <-result:
			return err
		case <-s.done:
		}
		// Run drains the queue before closing done, so an empty result
		// means finishConnect will never run.
		select {
		case err := <-result:
			return err
		default:
		}
	}
	if c != nil {
		s.release(c)
	}
	return ErrStopped
}

// acquire runs on the caller's goroutine and rolls back whatever it obtained
// when a later step fails.
func (s *Session) acquire(ctx context.Context, tr serial.Transport, gen uint64) (*connection, error) {
	h, err := tr.RequestDevice(ctx)
	if err != nil {
		return nil, &ConnectionError{Op: "connect", Err: err}
	}
	c := &connection{gen: gen, name: h.Name(), port: h}
	fail := func(err error) (*connection, error) {
		s.release(c)
		return nil, &ConnectionError{Op: "connect", Port: c.name, Err: err}
	}
	if err := h.Open(ctx, s.opts.Baud); err != nil {
		return fail(err)
	}
	if c.reader, err = h.Reader(); err != nil {
		return fail(err)
	}
	if c.writer, err = h.Writer(); err != nil {
		return fail(err)
	}
	return c, nil
}

func (s *Session) finishConnect(c *connection, err error) error {
	if err == nil && s.abort {
		s.release(c)
		err = &ConnectionError{Op: "connect", Port: c.name, Err: ErrConnectAborted}
	}
	if err != nil {
		s.setState(Disconnected)
		s.report(err)
		return err
	}
	s.attach(c)
	go s.readLoop(c.gen, c.reader)
	return nil
}

func (s *Session) attach(c *connection) {
	s.conn = c
	s.framer.Reset()
	s.disp.Attach(c.writer)
	s.log.Info("connected", zap.String("port", c.name), zap.Bool("simulated", c.sim != nil))
	s.listener.OnTransportLog(protocol.DirectionStatus, "connected to "+c.name)
	s.setState(Connected)
}

// ConnectSimulated connects to an in-process simulator. There is no read
// loop; replies are posted to the session goroutine by the simulator.
func (s *Session) ConnectSimulated(ctx context.Context) error {
	return s.call(ctx, func() error {
		if s.state != Disconnected {
			return ErrBusy
		}
		s.gen++
		gen := s.gen
		s.setState(Connecting)
		sim := protocol.NewSimulator(s.opts.SimulatorDelay, func(line string) {
			s.post(func() {
				if s.current(gen) {
					_ = s.disp.HandleLine(line)
				}
			})
		})
		s.attach(&connection{gen: gen, name: SimulatedPort, writer: sim, sim: sim})
		return nil
	})
}

func (s *Session) readLoop(gen uint64, r serial.ReadHandle) {
	for {
		chunk, eos, err := r.Read()
		if err != nil || eos {
			s.post(func() { s.readEnded(gen, err) })
			return
		}
		if len(chunk) == 0 {
			continue
		}
		if !s.post(func() { s.receive(gen, chunk) }) {
			return
		}
	}
}

func (s *Session) receive(gen uint64, chunk []byte) {
	if !s.current(gen) {
		return
	}
	lines, err := s.framer.Feed(chunk)
	if err != nil {
		s.report(&ConnectionError{Op: "read", Port: s.conn.name, Err: err})
		s.disconnect()
		return
	}
	for line := range lines {
		_ = s.disp.HandleLine(line)
		if !s.current(gen) {
			return
		}
	}
}

func (s *Session) readEnded(gen uint64, err error) {
	if !s.current(gen) {
		return
	}
	if err != nil {
		s.report(&ConnectionError{Op: "read", Port: s.conn.name, Err: err})
	} else {
		s.log.Info("device closed the stream", zap.String("port", s.conn.name))
	}
	s.disconnect()
}

// Disconnect tears down the connection. While a connect is in flight it
// aborts it instead; with no connection it does nothing.
func (s *Session) Disconnect(ctx context.Context) error {
	return s.call(ctx, func() error {
		switch s.state {
		case Connecting:
			s.abort = true
		case Connected:
			s.disconnect()
		}
		return nil
	})
}

// disconnect is the single teardown path. It always ends Disconnected.
func (s *Session) disconnect() {
	if s.state != Connected || s.conn == nil {
		return
	}
	c := s.conn
	s.setState(Disconnecting)
	s.disp.Attach(nil)
	s.conn = nil
	s.release(c)
	s.framer.Reset()
	s.listener.OnTransportLog(protocol.DirectionStatus, "disconnected from "+c.name)
	s.setState(Disconnected)
}

// release frees the reader, then the writer, then the port. Failures are
// logged and do not stop the remaining steps.
func (s *Session) release(c *connection) {
	if c.reader != nil {
		if err := c.reader.Cancel(); err != nil {
			s.log.Debug("cancel reader", zap.String("port", c.name), zap.Error(err))
		}
	}
	if c.writer != nil {
		if err := c.writer.Close(); err != nil {
			s.log.Debug("close writer", zap.String("port", c.name), zap.Error(err))
		}
	}
	if c.port != nil {
		if err := c.port.Close(); err != nil {
			s.log.Debug("close port", zap.String("port", c.name), zap.Error(err))
		}
	}
}

// RequestConfig sends GETCFG. The reply arrives through the listener.
func (s *Session) RequestConfig(ctx context.Context) error {
	return s.call(ctx, func() error { return s.sent(s.disp.RequestConfig()) })
}

// PushConfig sends SETCFG with the current configuration.
func (s *Session) PushConfig(ctx context.Context) error {
	return s.call(ctx, func() error { return s.sent(s.disp.PushConfig()) })
}

// sent drops the connection when the port refused a write.
func (s *Session) sent(err error) error {
	if err != nil && !errors.Is(err, protocol.ErrNotConnected) && s.state == Connected {
		s.disconnect()
	}
	return err
}

// Toggle flips one cell and returns its new value.
func (s *Session) Toggle(ctx context.Context, level models.Level, row, col int) (bool, error) {
	var on bool
	err := s.call(ctx, func() (err error) {
		on, err = s.disp.Config().Toggle(level, row, col)
		return err
	})
	return on, err
}

// Set assigns one cell.
func (s *Session) Set(ctx context.Context, level models.Level, row, col int, on bool) error {
	return s.call(ctx, func() error { return s.disp.Config().Set(level, row, col, on) })
}

// Fill sets every cell of level to on.
func (s *Session) Fill(ctx context.Context, level models.Level, on bool) error {
	return s.call(ctx, func() error { return s.disp.Config().Fill(level, on) })
}

// RandomFill turns each cell of level on with probability density.
func (s *Session) RandomFill(ctx context.Context, level models.Level, density float64) error {
	return s.call(ctx, func() error { return s.disp.Config().RandomFill(level, density, nil) })
}

// SetShiftFunction binds input to fn.
func (s *Session) SetShiftFunction(ctx context.Context, input int, fn models.Level) error {
	return s.call(ctx, func() error { return s.disp.Config().SetShiftFunction(input, fn) })
}

// SetActiveLevel selects the level being viewed and edited. It never
// touches the configuration.
func (s *Session) SetActiveLevel(ctx context.Context, level models.Level) error {
	return s.call(ctx, func() error {
		if !level.Valid() {
			return &models.ValidationError{Field: "level", Reason: level.String() + " is not a shift level"}
		}
		s.level = level
		return nil
	})
}

// ActiveLevel returns the level being viewed.
func (s *Session) ActiveLevel(ctx context.Context) (models.Level, error) {
	var l models.Level
	err := s.call(ctx, func() error {
		l = s.level
		return nil
	})
	return l, err
}

// ResetConfig restores the default configuration locally.
func (s *Session) ResetConfig(ctx context.Context) error {
	return s.call(ctx, func() error {
		s.disp.Reset()
		return nil
	})
}

// ApplyConfig replaces the local configuration with a copy of cfg.
func (s *Session) ApplyConfig(ctx context.Context, cfg *models.Config) error {
	return s.call(ctx, func() error { return s.disp.Replace(cfg.Clone()) })
}

// Snapshot copies the configuration and status.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.call(ctx, func() error {
		snap = Snapshot{Status: s.status(), Config: s.disp.Config().Clone()}
		return nil
	})
	return snap, err
}

// Status reports the connection state without copying the configuration.
func (s *Session) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.call(ctx, func() error {
		st = s.status()
		return nil
	})
	return st, err
}

func (s *Session) status() Status {
	st := Status{State: s.state, Level: s.level}
	if s.conn != nil {
		st.Port = s.conn.name
		st.Simulated = s.conn.sim != nil
	}
	return st
}
