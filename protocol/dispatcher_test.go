package protocol

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/CK6170/routematrix-web/models"
	"github.com/CK6170/routematrix-web/serial"
)

type recorder struct {
	applied  []*models.Config
	acks     int
	messages []string
	logs     []string
	errs     []error
}

func (r *recorder) OnConfigApplied(cfg *models.Config) { r.applied = append(r.applied, cfg) }
func (r *recorder) OnDeviceAcknowledged()              { r.acks++ }
func (r *recorder) OnDeviceMessage(text string)        { r.messages = append(r.messages, text) }
func (r *recorder) OnTransportLog(dir, text string)    { r.logs = append(r.logs, dir+" "+text) }
func (r *recorder) OnError(err error)                  { r.errs = append(r.errs, err) }

type bufWriter struct {
	strings.Builder
	err error
}

func (w *bufWriter) Write(text string) error {
	if w.err != nil {
		return w.err
	}
	w.WriteString(text)
	return nil
}

func cfgLine(t *testing.T, c *models.Config) string {
	t.Helper()
	raw, err := models.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	return PrefixConfig + string(raw)
}

func TestConfigSplitAcrossChunks(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, zaptest.NewLogger(t))
	_, _ = d.Config().Toggle(models.Normal, 1, 1)

	stream := cfgLine(t, models.Default()) + "\n"
	half := len(stream) / 2
	f := serial.NewFramer(serial.DefaultMaxPending)

	feed := func(chunk string) int {
		lines, err := f.Feed([]byte(chunk))
		if err != nil {
			t.Fatal(err)
		}
		n := 0
		for line := range lines {
			n++
			_ = d.HandleLine(line)
		}
		return n
	}
	if n := feed(stream[:half]); n != 0 {
		t.Fatalf("%d lines dispatched before the terminator", n)
	}
	if len(rec.applied) != 0 {
		t.Fatal("config applied from a partial line")
	}
	if n := feed(stream[half:]); n != 1 {
		t.Fatalf("dispatched %d lines, want 1", n)
	}
	if len(rec.applied) != 1 || !rec.applied[0].Equal(models.Default()) {
		t.Fatalf("applied = %d configs, want the default once", len(rec.applied))
	}
	if !d.Config().Equal(models.Default()) {
		t.Error("model not replaced")
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	c := models.Default()
	_ = c.Fill(models.Shift3, true)
	_ = c.SetShiftFunction(2, models.Shift2)
	line := cfgLine(t, c)

	once := NewDispatcher(&recorder{}, nil)
	_ = once.HandleLine(line)
	twice := NewDispatcher(&recorder{}, nil)
	_ = twice.HandleLine(line)
	_ = twice.HandleLine(line)

	if !once.Config().Equal(twice.Config()) || !once.Config().Equal(c) {
		t.Error("applying the same payload twice changed the outcome")
	}
}

func TestRejectedPayloadKeepsModel(t *testing.T) {
	good := models.Default()
	_ = good.Fill(models.Shift1, true)
	goodLine := cfgLine(t, good)

	tests := []struct {
		name    string
		line    string
		wantErr interface{}
	}{
		{
			name:    "size 15",
			line:    strings.Replace(goodLine, `"size":16`, `"size":15`, 1),
			wantErr: &ConfigValidationError{},
		},
		{
			name:    "short row",
			line:    strings.Replace(goodLine, `[true,true,true,true,true,true,true,true,true,true,true,true,true,true,true,true]`, `[true]`, 1),
			wantErr: &ConfigValidationError{},
		},
		{
			name:    "integral float version",
			line:    strings.Replace(goodLine, `"version":1,`, `"version":1.0,`, 1),
			wantErr: &ConfigValidationError{},
		},
		{
			name:    "truncated json",
			line:    goodLine[:len(goodLine)/2],
			wantErr: &ConfigParseError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			d := NewDispatcher(rec, zaptest.NewLogger(t))
			if err := d.HandleLine(goodLine); err != nil {
				t.Fatal(err)
			}
			before := d.Config().Clone()

			err := d.HandleLine(tt.line)
			switch tt.wantErr.(type) {
			case *ConfigValidationError:
				var ve *ConfigValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("err = %v, want *ConfigValidationError", err)
				}
				if !errors.Is(err, models.ErrInvalidConfig) {
					t.Error("validation error does not wrap models.ErrInvalidConfig")
				}
				if ve.Payload != strings.TrimPrefix(tt.line, PrefixConfig) {
					t.Error("payload not retained for diagnostics")
				}
			case *ConfigParseError:
				var pe *ConfigParseError
				if !errors.As(err, &pe) {
					t.Fatalf("err = %v, want *ConfigParseError", err)
				}
			}
			if len(rec.errs) != 1 {
				t.Errorf("OnError fired %d times, want 1", len(rec.errs))
			}
			if len(rec.applied) != 1 {
				t.Errorf("OnConfigApplied fired %d times, want 1", len(rec.applied))
			}
			if !d.Config().Equal(before) {
				t.Error("rejected payload modified the model")
			}
		})
	}
}

func TestAckAndPassthrough(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, nil)
	w := &bufWriter{}
	d.Attach(w)

	if err := d.RequestConfig(); err != nil {
		t.Fatal(err)
	}
	_ = d.HandleLine("OK")
	_ = d.HandleLine("OK stored 1234 bytes")
	_ = d.HandleLine("boot v1.3")

	if rec.acks != 2 {
		t.Errorf("acks = %d, want 2", rec.acks)
	}
	if len(rec.messages) != 1 || rec.messages[0] != "boot v1.3" {
		t.Errorf("messages = %q", rec.messages)
	}
	if !d.Config().Equal(models.Default()) {
		t.Error("ack mutated the model")
	}
	want := []string{"tx GETCFG", "rx OK", "rx OK stored 1234 bytes", "rx boot v1.3"}
	if strings.Join(rec.logs, "|") != strings.Join(want, "|") {
		t.Errorf("logs = %q, want %q", rec.logs, want)
	}
}

func TestOutboundCommands(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, nil)
	w := &bufWriter{}
	d.Attach(w)

	if err := d.RequestConfig(); err != nil {
		t.Fatal(err)
	}
	_, _ = d.Config().Toggle(models.Shift2, 3, 7)
	if err := d.PushConfig(); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSuffix(w.String(), "\n"), "\n")
	if len(lines) != 2 || lines[0] != "GETCFG" {
		t.Fatalf("written = %q", w.String())
	}
	if !strings.HasPrefix(lines[1], CmdSetConfig) {
		t.Fatalf("second line = %q", lines[1])
	}
	sent, err := models.Parse([]byte(strings.TrimPrefix(lines[1], CmdSetConfig)))
	if err != nil {
		t.Fatal(err)
	}
	if !sent.Shift2[3][7] {
		t.Error("pushed config lost the edit")
	}
}

func TestOutboundWithoutWriter(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, nil)

	err := d.PushConfig()
	var we *TransportWriteError
	if !errors.As(err, &we) || !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want TransportWriteError(ErrNotConnected)", err)
	}
	if len(rec.errs) != 1 {
		t.Error("missing diagnostic for write without writer")
	}

	d.Attach(&bufWriter{err: errors.New("port gone")})
	if err := d.RequestConfig(); !errors.As(err, &we) || errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want TransportWriteError from writer", err)
	}
}

func TestSimulatorAnswers(t *testing.T) {
	var mu sync.Mutex
	var got []string
	replies := make(chan struct{}, 8)
	sim := NewSimulator(time.Millisecond, func(line string) {
		mu.Lock()
		got = append(got, line)
		mu.Unlock()
		replies <- struct{}{}
	})
	wait := func(n int) {
		t.Helper()
		for i := 0; i < n; i++ {
			select {
			case <-replies:
			case <-time.After(time.Second):
				t.Fatal("simulator did not answer")
			}
		}
	}

	pushed := models.Default()
	_ = pushed.Fill(models.Normal, true)
	raw, _ := models.Marshal(pushed)

	if err := sim.Write(CmdSetConfig + string(raw) + "\n"); err != nil {
		t.Fatal(err)
	}
	wait(1)
	if err := sim.Write("GETCFG\n"); err != nil {
		t.Fatal(err)
	}
	wait(1)
	if err := sim.Write("BOGUS\n"); err != nil {
		t.Fatal(err)
	}
	wait(1)

	mu.Lock()
	defer mu.Unlock()
	if got[0] != "OK" {
		t.Errorf("SETCFG reply = %q", got[0])
	}
	if got[1] != cfgLine(t, pushed) {
		t.Errorf("GETCFG reply = %q", got[1])
	}
	if !strings.HasPrefix(got[2], "ERR:") {
		t.Errorf("unknown command reply = %q", got[2])
	}
	if !sim.DeviceConfig().Equal(pushed) {
		t.Error("simulator did not store the pushed config")
	}

	_ = sim.Close()
	if err := sim.Write("GETCFG\n"); !errors.Is(err, serial.ErrClosed) {
		t.Errorf("write after close = %v", err)
	}
}
