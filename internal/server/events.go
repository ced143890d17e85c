package server

import (
	"go.uber.org/zap"

	"github.com/CK6170/routematrix-web/models"
	"github.com/CK6170/routematrix-web/session"
)

// DirectionError marks journal entries produced by OnError.
const DirectionError = "error"

// hubListener forwards session events to the journal and every websocket
// client. It runs on the session goroutine.
type hubListener struct {
	hub     *WSHub
	journal *Journal
	log     *zap.Logger
}

var _ session.Listener = (*hubListener)(nil)

func (l *hubListener) OnConfigApplied(cfg *models.Config) {
	l.hub.Broadcast(WSMessage{Type: EventConfig, Data: cfg})
}

func (l *hubListener) OnDeviceAcknowledged() {
	l.hub.Broadcast(WSMessage{Type: EventAck})
}

func (l *hubListener) OnDeviceMessage(text string) {
	l.hub.Broadcast(WSMessage{Type: EventMessage, Data: text})
}

func (l *hubListener) OnTransportLog(direction, text string) {
	l.hub.Broadcast(WSMessage{Type: EventLog, Data: l.journal.Add(direction, text)})
}

func (l *hubListener) OnError(err error) {
	e := l.journal.Add(DirectionError, err.Error())
	l.hub.Broadcast(WSMessage{Type: EventError, Data: e})
}

func (l *hubListener) OnConnectionStateChanged(state session.State) {
	l.log.Debug("broadcast state", zap.Stringer("state", state))
	l.hub.Broadcast(WSMessage{Type: EventState, Data: state})
}
