// Command routematrix is the keyboard-driven console editor for the routing
// matrix controller. It shares the session, config and profile code with
// routematrix-server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/CK6170/routematrix-web/file"
	"github.com/CK6170/routematrix-web/internal/config"
	"github.com/CK6170/routematrix-web/internal/logging"
	"github.com/CK6170/routematrix-web/internal/version"
	"github.com/CK6170/routematrix-web/matrix"
	"github.com/CK6170/routematrix-web/models"
	"github.com/CK6170/routematrix-web/protocol"
	"github.com/CK6170/routematrix-web/serial"
	"github.com/CK6170/routematrix-web/session"
	"github.com/CK6170/routematrix-web/ui"
)

const helpText = `keys: C connect  D disconnect  L load  S send  0-3 level  arrows move  SPACE toggle
      F fill  X clear  R random  I shift function  P print  W save  O open  H help  ESC quit`

var (
	configPath  string
	capturePath string
	profileName string
	simulate    bool
	debug       bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "routematrix",
	Short:   "Console editor for the 16x16 routing matrix controller",
	Version: version.Version,
	Args:    cobra.NoArgs,
	RunE:    run,
}

// consoleFlags maps flags onto config keys.
var consoleFlags = map[string]string{
	"port":        "serial.port",
	"baud":        "serial.baud",
	"profile-dir": "storage.profile_dir",
	"log-level":   "log.level",
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&configPath, "config", "", "Path to a YAML config file")
	f.StringVar(&capturePath, "capture", "", "Append every transport line to this file")
	f.StringVar(&profileName, "profile", "console", "Profile name used by W and O")
	f.BoolVar(&simulate, "simulate", false, "Connect to the built-in simulator instead of a serial port")
	f.BoolVar(&debug, "debug", false, "Echo every line sent and received")
	f.String("port", "", "Serial port of the controller (empty = auto-select)")
	f.Int("baud", serial.DefaultBaud, "Serial baud rate")
	f.String("profile-dir", "./profiles", "Directory for saved profiles")
	f.String("log-level", "", "Log level (debug, info, warn, error)")
}

// editor is the console state owned by the key loop. level is also read by
// the session goroutine when a configuration arrives.
type editor struct {
	cfg      *config.Config
	sess     *session.Session
	level    atomic.Int32
	row, col int
}

func run(cmd *cobra.Command, args []string) error {
	v := config.New()
	for flag, key := range consoleFlags {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return err
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("stdin is not a terminal; use routematrix-server for non-interactive use")
	}
	if err := logging.Initialize(cfg.Log.Level); err != nil {
		return err
	}
	defer logging.Sync()

	// Route the standard logger output through the red writer.
	log.SetFlags(0)
	log.SetOutput(ui.NewRedWriter(os.Stderr))

	console := &ui.Console{Debug: debug}
	if capturePath != "" {
		console.Capture = func(line string) {
			if err := file.AppendToFile(capturePath, line); err != nil {
				log.Printf("capture: %v", err)
			}
		}
	}
	ed := &editor{cfg: cfg}
	console.OnApplied(func(c *models.Config) {
		fmt.Fprintln(ui.Out, matrix.Render(c.Matrix(ed.active()), ed.active().String()))
	})

	ed.sess = session.New(session.Options{
		Baud:           cfg.Serial.Baud,
		MaxLineBytes:   cfg.Serial.MaxLineBytes,
		SimulatorDelay: cfg.Simulator.Delay,
	}, console, logging.Named("session"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ed.sess.Run(ctx)
	}()

	ui.ClearScreen()
	ui.Greenf("routematrix %s\n", version.Full())
	ui.Greenf("--------------------------------------------\n")
	fmt.Fprintln(ui.Out, helpText)

	ed.loop(ctx, ui.StartKeyEvents())
	if err := ed.sess.Disconnect(ctx); err != nil {
		log.Printf("disconnect: %v", err)
	}
	cancel()
	<-done
	return nil
}

func (e *editor) active() models.Level { return models.Level(e.level.Load()) }

func (e *editor) loop(ctx context.Context, keys <-chan rune) {
	for k := range keys {
		if k == ui.KeyEsc {
			st, err := e.sess.Status(ctx)
			if err != nil || st.State == session.Disconnected {
				return
			}
			if ui.Choose(keys, "Disconnect and quit? (Y/N)", 'Y', 'N') != 'N' {
				return
			}
			continue
		}
		if err := e.handle(ctx, k); err != nil {
			ui.Errorf("%v\n", err)
		}
	}
}

func (e *editor) handle(ctx context.Context, k rune) error {
	switch k {
	case ui.KeyUp:
		e.row = (e.row + models.Size - 1) % models.Size
		return e.cursor()
	case ui.KeyDown:
		e.row = (e.row + 1) % models.Size
		return e.cursor()
	case ui.KeyLeft:
		e.col = (e.col + models.Size - 1) % models.Size
		return e.cursor()
	case ui.KeyRight:
		e.col = (e.col + 1) % models.Size
		return e.cursor()
	case ui.KeySpace, ui.KeyEnter:
		on, err := e.sess.Toggle(ctx, e.active(), e.row, e.col)
		if err != nil {
			return err
		}
		fmt.Fprintf(ui.Out, "%s out %d <- in %d: %v\n", e.active(), e.row, e.col, on)
		return nil
	case '0', '1', '2', '3':
		l := models.Level(k - '0')
		if err := e.sess.SetActiveLevel(ctx, l); err != nil {
			return err
		}
		e.level.Store(int32(l))
		return e.print(ctx)
	}

	switch upperKey(k) {
	case 'C':
		return e.connect(ctx)
	case 'D':
		return e.sess.Disconnect(ctx)
	case 'L':
		return e.sess.RequestConfig(ctx)
	case 'S':
		return e.sess.PushConfig(ctx)
	case 'F', 'X':
		if err := e.sess.Fill(ctx, e.active(), upperKey(k) == 'F'); err != nil {
			return err
		}
		return e.print(ctx)
	case 'R':
		if err := e.sess.RandomFill(ctx, e.active(), 0.5); err != nil {
			return err
		}
		return e.print(ctx)
	case 'I':
		// bind the cursor's input to the active level
		if err := e.sess.SetShiftFunction(ctx, e.col, e.active()); err != nil {
			return err
		}
		fmt.Fprintf(ui.Out, "input %d -> %s\n", e.col, e.active())
		return nil
	case 'P':
		return e.print(ctx)
	case 'W':
		snap, err := e.sess.Snapshot(ctx)
		if err != nil {
			return err
		}
		path, err := file.SaveProfile(e.cfg.Storage.ProfileDir, profileName, snap.Config)
		if err != nil {
			return err
		}
		ui.Greenf("saved %s\n", path)
		return nil
	case 'O':
		c, err := file.LoadProfile(e.cfg.Storage.ProfileDir, profileName)
		if err != nil {
			return err
		}
		if err := e.sess.ApplyConfig(ctx, c); err != nil {
			return err
		}
		return e.print(ctx)
	case 'H':
		fmt.Fprintln(ui.Out, helpText)
		return nil
	}
	return nil
}

func (e *editor) connect(ctx context.Context) error {
	if simulate {
		return e.sess.ConnectSimulated(ctx)
	}
	tr := &serial.PortTransport{
		Port:        e.cfg.Serial.Port,
		ReadTimeout: e.cfg.Serial.ReadTimeout,
		Select:      e.selectPort,
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return e.sess.Connect(ctx, tr)
}

// selectPort takes the only port present, otherwise the one answering GETCFG.
func (e *editor) selectPort(ctx context.Context) (string, error) {
	ports := serial.ListPortDetails()
	switch len(ports) {
	case 0:
		return "", serial.ErrNoDeviceSelected
	case 1:
		return ports[0].Name, nil
	}
	found, trace := serial.AutoDetectPort(e.cfg.Serial.Baud, protocol.CmdGetConfig+protocol.LineTerminator, protocol.PrefixConfig, 500*time.Millisecond)
	for _, line := range trace {
		ui.Debugf(debug, "%s\n", line)
	}
	if found == "" {
		return "", errors.New("no port answered " + protocol.CmdGetConfig)
	}
	return found, nil
}

func (e *editor) cursor() error {
	fmt.Fprintf(ui.Out, "cursor: out %d in %d\n", e.row, e.col)
	return nil
}

func (e *editor) print(ctx context.Context) error {
	snap, err := e.sess.Snapshot(ctx)
	if err != nil {
		return err
	}
	level := e.active()
	fmt.Fprintln(ui.Out, matrix.Render(snap.Config.Matrix(level), level.String()))
	sum, err := matrix.Summarize(snap.Config, level)
	if err != nil {
		return err
	}
	fmt.Fprintf(ui.Out, "%d routes, rank %d, silent outputs %v, unused inputs %v\n", sum.Active, sum.Rank, sum.Silent, sum.Unused)
	fmt.Fprintf(ui.Out, "state %s on %q, cursor out %d in %d\n", snap.State, snap.Port, e.row, e.col)
	return nil
}

func upperKey(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - 'a' + 'A'
	}
	return r
}
