package server

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/CK6170/routematrix-web/serial"
)

// PortCache remembers which USB serial adapters reached the controller,
// keyed by "VID:PID:SERIAL". The device can come back under another port
// name after a replug; the key still finds it.
type PortCache struct {
	mu   sync.Mutex
	path string
	m    map[string]string
}

func NewPortCache(path string) *PortCache {
	pc := &PortCache{
		path: path,
		m:    map[string]string{},
	}
	pc.load()
	return pc
}

func (pc *PortCache) Get(key string) string {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return strings.TrimSpace(pc.m[key])
}

// Remember records that port reached the device. Non-USB ports have no
// stable key and are not cached.
func (pc *PortCache) Remember(port serial.PortInfo) {
	key := port.Key()
	name := strings.TrimSpace(port.Name)
	if key == "" || name == "" {
		return
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.m[key] == name {
		return
	}
	pc.m[key] = name
	_ = pc.saveLocked()
}

// Find returns the current name of the first enumerated port whose USB key
// has worked before.
func (pc *PortCache) Find(ports []serial.PortInfo) (string, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for _, p := range ports {
		if k := p.Key(); k != "" {
			if _, ok := pc.m[k]; ok {
				return p.Name, true
			}
		}
	}
	return "", false
}

func (pc *PortCache) load() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	b, err := os.ReadFile(pc.path)
	if err != nil {
		return
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil || m == nil {
		return
	}
	pc.m = m
}

func (pc *PortCache) saveLocked() error {
	if pc.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(pc.path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(pc.m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(pc.path, b, 0o644)
}
