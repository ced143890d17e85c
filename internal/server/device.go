package server

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/CK6170/routematrix-web/protocol"
	"github.com/CK6170/routematrix-web/serial"
)

// probeTimeout bounds the GETCFG probe on each candidate port.
const probeTimeout = 500 * time.Millisecond

// Swapped by tests.
var (
	listPorts  = serial.ListPortDetails
	autoDetect = serial.AutoDetectPort
)

// transportFor builds the transport for a connect request. An explicit port
// is used as is; otherwise selectPort runs when the session asks for a
// device.
func (s *Server) transportFor(port string, trace *[]string) *serial.PortTransport {
	return &serial.PortTransport{
		Port:        port,
		ReadTimeout: s.cfg.Serial.ReadTimeout,
		Select: func(ctx context.Context) (string, error) {
			return s.selectPort(ctx, trace)
		},
	}
}

// selectPort picks a port when the request named none: the configured port,
// then a USB adapter that worked before, then the only port present, then
// whichever port answers GETCFG.
func (s *Server) selectPort(ctx context.Context, trace *[]string) (string, error) {
	if p := s.cfg.Serial.Port; p != "" {
		*trace = append(*trace, "using configured port "+p)
		return p, nil
	}
	ports := listPorts()
	if p, ok := s.ports.Find(ports); ok {
		*trace = append(*trace, "using cached port "+p)
		return p, nil
	}
	switch len(ports) {
	case 0:
		*trace = append(*trace, "no serial ports found")
		return "", serial.ErrNoDeviceSelected
	case 1:
		*trace = append(*trace, "using only port "+ports[0].Name)
		return ports[0].Name, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	found, log := autoDetect(s.cfg.Serial.Baud, protocol.CmdGetConfig+protocol.LineTerminator, protocol.PrefixConfig, probeTimeout)
	*trace = append(*trace, log...)
	if found == "" {
		return "", fmt.Errorf("%d ports, none answered %s", len(ports), protocol.CmdGetConfig)
	}
	s.log.Info("auto-detected controller", zap.String("port", found))
	return found, nil
}

// rememberPort caches the USB identity of a port that connected.
func (s *Server) rememberPort(name string) {
	for _, p := range listPorts() {
		if p.Name == name {
			s.ports.Remember(p)
			return
		}
	}
}
