package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/CK6170/routematrix-web/file"
	"github.com/CK6170/routematrix-web/internal/config"
	"github.com/CK6170/routematrix-web/matrix"
	"github.com/CK6170/routematrix-web/models"
	"github.com/CK6170/routematrix-web/protocol"
	"github.com/CK6170/routematrix-web/serial"
	"github.com/CK6170/routematrix-web/session"
)

type Server struct {
	mux *http.ServeMux
	cfg *config.Config
	log *zap.Logger

	sess    *session.Session
	store   *SnapshotStore
	ports   *PortCache
	journal *Journal
	events  *WSHub
}

// New wires the session, its listener and the HTTP routes. Call Run before
// serving requests.
func New(cfg *config.Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		mux:     http.NewServeMux(),
		cfg:     cfg,
		log:     log,
		store:   NewSnapshotStore(),
		ports:   NewPortCache(cfg.Storage.PortCache),
		journal: NewJournal(DefaultJournalSize),
		events:  NewWSHub(),
	}
	listener := &hubListener{hub: s.events, journal: s.journal, log: log.Named("events")}
	s.sess = session.New(session.Options{
		Baud:           cfg.Serial.Baud,
		MaxLineBytes:   cfg.Serial.MaxLineBytes,
		SimulatorDelay: cfg.Simulator.Delay,
	}, listener, log.Named("session"))

	// API
	s.handle(http.MethodGet, "/api/health", s.handleHealth)
	s.handle(http.MethodGet, "/api/status", s.handleStatus)
	s.handle(http.MethodGet, "/api/ports", s.handlePorts)
	s.handle(http.MethodPost, "/api/connect", s.handleConnect)
	s.handle(http.MethodPost, "/api/disconnect", s.handleDisconnect)

	s.handle(http.MethodGet, "/api/config", s.handleConfig)
	s.handle(http.MethodPost, "/api/config/load", s.handleConfigLoad)
	s.handle(http.MethodPost, "/api/config/send", s.handleConfigSend)
	s.handle(http.MethodPost, "/api/config/reset", s.handleConfigReset)

	s.handle(http.MethodPost, "/api/matrix/toggle", s.handleToggle)
	s.handle(http.MethodPost, "/api/matrix/fill", s.handleFill)
	s.handle(http.MethodPost, "/api/matrix/random", s.handleRandom)
	s.handle(http.MethodGet, "/api/matrix/summary", s.handleSummary)
	s.handle(http.MethodPost, "/api/shift/function", s.handleShiftFunction)
	s.handle(http.MethodPost, "/api/level", s.handleLevel)

	s.handle(http.MethodPost, "/api/snapshots/upload", s.handleSnapshotUpload)
	s.handle(http.MethodPost, "/api/snapshots/apply", s.handleSnapshotApply)
	s.handle(http.MethodGet, "/api/snapshots/download", s.handleSnapshotDownload)
	s.handle(http.MethodGet, "/api/snapshots", s.handleSnapshotList)

	s.handle(http.MethodGet, "/api/profiles", s.handleProfileList)
	s.handle(http.MethodPost, "/api/profiles/save", s.handleProfileSave)
	s.handle(http.MethodPost, "/api/profiles/load", s.handleProfileLoad)

	s.handle(http.MethodGet, "/api/log", s.handleLog)
	s.handle(http.MethodPost, "/api/log/clear", s.handleLogClear)

	// WS
	s.mux.HandleFunc("/ws/events", s.handleWSEvents)

	// Static frontend
	if cfg.Server.WebDir != "" {
		fs := http.FileServer(http.Dir(cfg.Server.WebDir))
		s.mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Avoid stale UI/assets after updates.
			p := r.URL.Path
			if p == "/" || strings.HasSuffix(p, ".html") || strings.HasSuffix(p, ".js") || strings.HasSuffix(p, ".css") {
				w.Header().Set("Cache-Control", "no-store")
			}
			fs.ServeHTTP(w, r)
		}))
	}

	return s
}

// Run drives the session until ctx is done.
func (s *Server) Run(ctx context.Context) error { return s.sess.Run(ctx) }

func (s *Server) Handler() http.Handler { return s.mux }

// Session exposes the session for in-process callers.
func (s *Server) Session() *session.Session { return s.sess }

func (s *Server) handle(method, path string, h http.HandlerFunc) {
	s.mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, 2<<20))
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrBusy),
		errors.Is(err, protocol.ErrNotConnected):
		status = http.StatusConflict
	case errors.Is(err, session.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ErrSnapshotNotFound),
		errors.Is(err, serial.ErrNoDeviceSelected):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidConfig),
		errors.Is(err, file.ErrInvalidName):
		status = http.StatusBadRequest
	}
	var ce *session.ConnectionError
	var we *protocol.TransportWriteError
	if status == http.StatusInternalServerError && (errors.As(err, &ce) || errors.As(err, &we)) {
		status = http.StatusBadGateway
	}
	if status >= 500 {
		s.log.Warn("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, APIError{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, 200, HealthResponse{OK: true, Timestamp: time.Now()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.sess.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, StatusResponse{Status: st, LogEntries: s.journal.Len(), Clients: s.events.Count()})
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, 200, PortsResponse{Ports: listPorts(), Configured: s.cfg.Serial.Port})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	ctx := r.Context()

	var trace []string
	var err error
	if req.Simulate {
		err = s.sess.ConnectSimulated(ctx)
	} else {
		err = s.sess.Connect(ctx, s.transportFor(strings.TrimSpace(req.Port), &trace))
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	st, err := s.sess.Status(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !st.Simulated {
		s.rememberPort(st.Port)
	}
	s.writeJSON(w, 200, ConnectResponse{
		Connected:     st.State == session.Connected,
		Port:          st.Port,
		Simulated:     st.Simulated,
		AutoDetectLog: trace,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Disconnect(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, OKResponse{OK: true})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sess.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, ConfigResponse{Snapshot: snap})
}

func (s *Server) handleConfigLoad(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.RequestConfig(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, OKResponse{OK: true})
}

func (s *Server) handleConfigSend(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.PushConfig(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, OKResponse{OK: true})
}

func (s *Server) handleConfigReset(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.ResetConfig(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.respondConfig(w, r)
}

// respondConfig answers with the current model. Replacements made through
// the dispatcher (reset, snapshot apply, profile load) already reach the
// other browser tabs via OnConfigApplied.
func (s *Server) respondConfig(w http.ResponseWriter, r *http.Request) {
	s.respondSnapshot(w, r, false)
}

// respondEdit answers a local edit and pushes the new model to the other
// browser tabs.
func (s *Server) respondEdit(w http.ResponseWriter, r *http.Request) {
	s.respondSnapshot(w, r, true)
}

func (s *Server) respondSnapshot(w http.ResponseWriter, r *http.Request, broadcast bool) {
	snap, err := s.sess.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if broadcast {
		s.events.Broadcast(WSMessage{Type: EventConfig, Data: snap.Config})
	}
	s.writeJSON(w, 200, ConfigResponse{Snapshot: snap})
}

// levelOr resolves an optional level to the active one.
func (s *Server) levelOr(ctx context.Context, l *models.Level) (models.Level, error) {
	if l != nil {
		return *l, nil
	}
	return s.sess.ActiveLevel(ctx)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req CellRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	level, err := s.levelOr(r.Context(), req.Level)
	if err != nil {
		s.writeError(w, err)
		return
	}
	on, err := s.sess.Toggle(r.Context(), level, req.Row, req.Col)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if snap, err := s.sess.Snapshot(r.Context()); err == nil {
		s.events.Broadcast(WSMessage{Type: EventConfig, Data: snap.Config})
	}
	s.writeJSON(w, 200, CellResponse{Level: level, Row: req.Row, Col: req.Col, Value: on})
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	var req FillRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	level, err := s.levelOr(r.Context(), req.Level)
	if err == nil {
		err = s.sess.Fill(r.Context(), level, req.Value)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respondEdit(w, r)
}

func (s *Server) handleRandom(w http.ResponseWriter, r *http.Request) {
	var req RandomRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	density := 0.5
	if req.Density != nil {
		density = *req.Density
	}
	level, err := s.levelOr(r.Context(), req.Level)
	if err == nil {
		err = s.sess.RandomFill(r.Context(), level, density)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respondEdit(w, r)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sess.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	level := snap.Level
	if q := r.URL.Query().Get("level"); q != "" {
		if level, err = models.ParseLevel(q); err != nil {
			s.writeJSON(w, 400, APIError{Error: err.Error()})
			return
		}
	}
	sum, err := matrix.Summarize(snap.Config, level)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, SummaryResponse{
		Summary:           sum,
		OverlapWithNormal: matrix.Overlap(snap.Config.Matrix(level), snap.Config.Normal),
	})
}

func (s *Server) handleShiftFunction(w http.ResponseWriter, r *http.Request) {
	var req ShiftFunctionRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	if err := s.sess.SetShiftFunction(r.Context(), req.Input, req.Function); err != nil {
		s.writeError(w, err)
		return
	}
	s.respondEdit(w, r)
}

func (s *Server) handleLevel(w http.ResponseWriter, r *http.Request) {
	var req LevelRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	if err := s.sess.SetActiveLevel(r.Context(), req.Level); err != nil {
		s.writeError(w, err)
		return
	}
	st, err := s.sess.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, st)
}

func (s *Server) handleSnapshotUpload(w http.ResponseWriter, r *http.Request) {
	f, hdr, err := fileFromMultipart(r, "file")
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, 4<<20))
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	cfg, err := file.Decode(raw)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	name := ""
	if hdr != nil {
		name = filepath.Base(hdr.Filename)
	}
	rec := s.store.Put(cfg, name)
	s.log.Info("stored snapshot", zap.String("id", rec.ID), zap.String("filename", name))
	s.writeJSON(w, 200, UploadResponse{SnapshotID: rec.ID, Filename: name})
}

func fileFromMultipart(r *http.Request, field string) (multipart.File, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		return nil, nil, err
	}
	return r.FormFile(field)
}

func (s *Server) handleSnapshotApply(w http.ResponseWriter, r *http.Request) {
	var req SnapshotRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	rec, err := s.store.Get(req.ID)
	if err == nil {
		err = s.sess.ApplyConfig(r.Context(), rec.Config)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respondConfig(w, r)
}

func (s *Server) handleSnapshotDownload(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		s.writeJSON(w, 400, APIError{Error: "missing id"})
		return
	}
	rec, err := s.store.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	raw, err := file.Encode(rec.Config, file.FormatJSON)
	if err != nil {
		s.writeError(w, err)
		return
	}
	name := strings.TrimSuffix(rec.Filename, filepath.Ext(rec.Filename))
	if strings.TrimSpace(name) == "" {
		name = "routing"
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".json"))
	w.WriteHeader(200)
	_, _ = w.Write(raw)
}

func (s *Server) handleSnapshotList(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, 200, s.store.List())
}

func (s *Server) handleProfileList(w http.ResponseWriter, r *http.Request) {
	names, err := file.ListProfiles(s.cfg.Storage.ProfileDir)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, ProfilesResponse{Profiles: names})
}

func (s *Server) handleProfileSave(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	snap, err := s.sess.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	path, err := file.SaveProfile(s.cfg.Storage.ProfileDir, req.Name, snap.Config)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("saved profile", zap.String("path", path))
	s.writeJSON(w, 200, ProfileResponse{OK: true, Name: filepath.Base(path), Path: path})
}

func (s *Server) handleProfileLoad(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	cfg, err := file.LoadProfile(s.cfg.Storage.ProfileDir, req.Name)
	if errors.Is(err, os.ErrNotExist) {
		s.writeJSON(w, 404, APIError{Error: err.Error()})
		return
	}
	if err == nil {
		err = s.sess.ApplyConfig(r.Context(), cfg)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respondConfig(w, r)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, 200, LogResponse{Entries: s.journal.Entries()})
}

func (s *Server) handleLogClear(w http.ResponseWriter, r *http.Request) {
	s.journal.Clear()
	s.events.Broadcast(WSMessage{Type: EventLogCleared})
	s.writeJSON(w, 200, OKResponse{OK: true})
}
