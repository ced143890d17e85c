// Command `routematrix-server` runs the routing matrix web UI + HTTP API locally.
//
// It serves static assets from --web (defaults to ./web) and exposes JSON APIs
// and a WebSocket event stream used by the frontend to connect to the
// controller, edit the four routing levels and push them to the device.
//
// Usage:
//
//	routematrix-server serve [flags]
//	routematrix-server ports
//	routematrix-server version
//
// Settings come from --config (YAML), then ROUTEMATRIX_* environment
// variables, then flags. ROUTEMATRIX_NO_OPEN=1 disables browser auto-open even
// when --open is set.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CK6170/routematrix-web/internal/config"
	"github.com/CK6170/routematrix-web/internal/logging"
	"github.com/CK6170/routematrix-web/internal/server"
	"github.com/CK6170/routematrix-web/internal/version"
	"github.com/CK6170/routematrix-web/serial"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "routematrix-server",
	Short:   "Routing matrix web editor",
	Version: version.Version,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(versionCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web UI and HTTP API",
	Example: `  # Serve ./web on the default address
  routematrix-server serve

  # Fixed port, open the browser, verbose logs
  routematrix-server serve --port /dev/ttyACM0 --open --log-level debug

  # Try the UI without hardware: POST /api/connect {"simulate":true}
  routematrix-server serve --simulator-delay 50ms`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("addr", "127.0.0.1:8080", "HTTP listen address")
	f.String("web", "./web", "Path to web root (index.html); empty serves the API only")
	f.Bool("open", false, "Open the web UI in your default browser on startup")
	f.String("port", "", "Serial port of the controller (empty = auto-select)")
	f.Int("baud", serial.DefaultBaud, "Serial baud rate")
	f.Duration("simulator-delay", 200*time.Millisecond, "Reply delay of the built-in simulator")
	f.String("log-level", "", "Log level (debug, info, warn, error)")
}

// serveFlags maps serve flags onto config keys.
var serveFlags = map[string]string{
	"addr":            "server.addr",
	"web":             "server.web_dir",
	"open":            "server.open",
	"port":            "serial.port",
	"baud":            "serial.baud",
	"simulator-delay": "simulator.delay",
	"log-level":       "log.level",
}

func runServe(cmd *cobra.Command, args []string) error {
	v := config.New()
	for flag, key := range serveFlags {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return err
	}
	if err := logging.Initialize(cfg.Log.Level); err != nil {
		return err
	}
	defer logging.Sync()
	log := logging.Named("server")

	// Resolve the web directory so FileServer behavior does not depend on
	// the working directory.
	if cfg.Server.WebDir != "" {
		webDir, err := filepath.Abs(cfg.Server.WebDir)
		if err != nil {
			return fmt.Errorf("failed to resolve web directory: %w", err)
		}
		if st, err := os.Stat(webDir); err != nil || !st.IsDir() {
			return fmt.Errorf("web directory does not exist: %s", webDir)
		}
		cfg.Server.WebDir = webDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := server.New(cfg, log)
	sessDone := make(chan struct{})
	go func() {
		defer close(sessDone)
		if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("session stopped", zap.Error(err))
		}
	}()

	// Bind early so we fail fast if the address is in use.
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
	}

	uiURL := makeUIURL(cfg.Server.Addr)
	fmt.Printf("Serving on http://%s\n", cfg.Server.Addr)
	fmt.Printf("UI:        %s\n", uiURL)
	log.Info("listening", zap.String("addr", cfg.Server.Addr), zap.String("web", cfg.Server.WebDir))

	if cfg.Server.Open && os.Getenv("ROUTEMATRIX_NO_OPEN") == "" {
		if err := openBrowser(uiURL); err != nil {
			fmt.Fprintf(os.Stderr, "WARN: failed to open browser: %v\n", err)
		}
	}

	srv := &http.Server{Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-sessDone
	return nil
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Run: func(cmd *cobra.Command, args []string) {
		ports := serial.ListPortDetails()
		if len(ports) == 0 {
			fmt.Println("no serial ports found")
			return
		}
		for _, p := range ports {
			if p.IsUSB {
				fmt.Printf("%-20s usb %s:%s %s %s\n", p.Name, p.VID, p.PID, p.SerialNumber, p.Product)
			} else {
				fmt.Println(p.Name)
			}
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("routematrix-server %s\n", version.Full())
	},
}

// makeUIURL turns a listen address (host:port) into a browser-friendly URL.
//
// If the server is bound to 0.0.0.0 / ::, the returned URL uses 127.0.0.1
// because wildcard addresses are not reachable targets in browsers.
func makeUIURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("http://%s/", strings.TrimSpace(addr))
	}
	if host == "" || host == "0.0.0.0" || host == "::" || host == "[::]" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%s/", host, port)
}

// openBrowser opens url in the OS default browser without waiting for it.
func openBrowser(url string) error {
	switch runtime.GOOS {
	case "windows":
		// `start` is a cmd.exe built-in. The empty title argument prevents quoting issues.
		return exec.Command("cmd", "/c", "start", "", url).Start()
	case "darwin":
		return exec.Command("open", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
