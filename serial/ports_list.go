package serial

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	goserial "github.com/tarm/serial"
	"go.bug.st/serial/enumerator"
)

// PortInfo describes an enumerated serial port.
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"isUsb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Product      string `json:"product,omitempty"`
}

// Key identifies the physical adapter behind a port independently of the
// name the OS gave it this time. It is empty for non-USB ports.
func (p PortInfo) Key() string {
	if !p.IsUSB || p.VID == "" {
		return ""
	}
	return strings.ToUpper(p.VID + ":" + p.PID + ":" + p.SerialNumber)
}

// listDetailed is swapped by tests.
var listDetailed = enumerator.GetDetailedPortsList

// ListPortDetails returns the available serial ports sorted by name.
//
// When the enumerator returns nothing, it falls back to globbing the usual
// device paths (see ListPorts); those entries carry only a Name.
func ListPortDetails() []PortInfo {
	if ports, err := listDetailed(); err == nil && len(ports) > 0 {
		out := make([]PortInfo, 0, len(ports))
		seen := make(map[string]struct{}, len(ports))
		for _, p := range ports {
			if p == nil || p.Name == "" {
				continue
			}
			if _, ok := seen[p.Name]; ok {
				continue
			}
			seen[p.Name] = struct{}{}
			out = append(out, PortInfo{
				Name:         p.Name,
				IsUSB:        p.IsUSB,
				VID:          p.VID,
				PID:          p.PID,
				SerialNumber: p.SerialNumber,
				Product:      p.Product,
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out
	}
	names := fallbackPorts()
	out := make([]PortInfo, 0, len(names))
	for _, n := range names {
		out = append(out, PortInfo{Name: n})
	}
	return out
}

// ListPorts returns a best-effort, sorted and de-duplicated list of serial
// port device names.
func ListPorts() []string {
	details := ListPortDetails()
	out := make([]string, 0, len(details))
	for _, p := range details {
		out = append(out, p.Name)
	}
	return out
}

func fallbackPorts() []string {
	switch runtime.GOOS {
	case "windows":
		return nil
	case "darwin":
		// Prefer "cu" devices on macOS for outgoing connections.
		return listByGlob("/dev/cu.usbmodem*", "/dev/cu.usbserial*")
	default:
		return listByGlob("/dev/ttyUSB*", "/dev/ttyACM*")
	}
}

// listByGlob expands filesystem glob patterns into a stable, de-duplicated list.
func listByGlob(patterns ...string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 16)
	for _, pat := range patterns {
		matches, _ := filepath.Glob(pat)
		for _, m := range matches {
			if m == "" {
				continue
			}
			// Skip entries that vanished between glob and stat.
			if _, err := os.Stat(m); err != nil {
				continue
			}
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// ProbePort opens name, writes probe and reports whether a line starting
// with expect arrives within timeout. The port is always closed again.
func ProbePort(name string, baud int, probe, expect string, timeout time.Duration) bool {
	cfg := &goserial.Config{
		Name:        name,
		Baud:        baud,
		Parity:      goserial.ParityNone,
		Size:        8,
		StopBits:    goserial.Stop1,
		ReadTimeout: DefaultReadTimeout,
	}
	sp, err := openPort(cfg)
	if err != nil {
		return false
	}
	defer func() { _ = sp.Close() }()

	// Boards that reset on open need a moment before they listen.
	time.Sleep(40 * time.Millisecond)
	if _, err := io.WriteString(sp, probe); err != nil {
		return false
	}

	deadline := time.Now().Add(timeout)
	framer := NewFramer(DefaultMaxPending)
	tmp := make([]byte, 256)
	for time.Now().Before(deadline) {
		n, err := sp.Read(tmp)
		if n > 0 {
			lines, ferr := framer.Feed(tmp[:n])
			if ferr != nil {
				return false
			}
			for line := range lines {
				if strings.HasPrefix(line, expect) {
					return true
				}
			}
		}
		if err != nil && err != io.EOF {
			return false
		}
		if n == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	return false
}

// AutoDetectPort probes every enumerated port and returns the first one that
// answers, along with a trace of what was tried.
func AutoDetectPort(baud int, probe, expect string, timeout time.Duration) (string, []string) {
	trace := make([]string, 0, 8)
	ports := ListPorts()
	trace = append(trace, "enumerated ports: "+strings.Join(ports, ", "))
	for _, name := range ports {
		if ProbePort(name, baud, probe, expect, timeout) {
			trace = append(trace, "device answered on "+name)
			return name, trace
		}
		trace = append(trace, "no answer on "+name)
	}
	return "", trace
}

