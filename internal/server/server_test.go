package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/CK6170/routematrix-web/file"
	"github.com/CK6170/routematrix-web/internal/config"
	"github.com/CK6170/routematrix-web/models"
	"github.com/CK6170/routematrix-web/serial"
	"github.com/CK6170/routematrix-web/session"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Server:    config.ServerConfig{Addr: "127.0.0.1:0"},
		Serial:    config.SerialConfig{Baud: 115200, ReadTimeout: 20 * time.Millisecond, MaxLineBytes: 64 * 1024},
		Simulator: config.SimulatorConfig{Delay: time.Millisecond},
		Storage: config.StorageConfig{
			PortCache:  filepath.Join(dir, "ports.json"),
			ProfileDir: filepath.Join(dir, "profiles"),
		},
	}
}

func startServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(testConfig(t), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
	})
	return s, ts
}

func call(t *testing.T, ts *httptest.Server, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type configBody struct {
	State  string         `json:"state"`
	Level  string         `json:"level"`
	Config *models.Config `json:"config"`
}

func TestHealthAndMethods(t *testing.T) {
	_, ts := startServer(t)
	var h HealthResponse
	if code := call(t, ts, http.MethodGet, "/api/health", nil, &h); code != 200 || !h.OK {
		t.Fatalf("health = %d %+v", code, h)
	}
	if code := call(t, ts, http.MethodPost, "/api/health", nil, nil); code != 404 {
		t.Errorf("POST /api/health = %d, want 404", code)
	}
	if code := call(t, ts, http.MethodGet, "/api/connect", nil, nil); code != 404 {
		t.Errorf("GET /api/connect = %d, want 404", code)
	}
}

func TestSimulatedSession(t *testing.T) {
	_, ts := startServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	var hello WSMessage
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != EventHello {
		t.Fatalf("first event = %+v, %v", hello, err)
	}

	var cr ConnectResponse
	if code := call(t, ts, http.MethodPost, "/api/connect", ConnectRequest{Simulate: true}, &cr); code != 200 {
		t.Fatalf("connect = %d", code)
	}
	if !cr.Connected || !cr.Simulated || cr.Port != session.SimulatedPort {
		t.Fatalf("connect response = %+v", cr)
	}
	if code := call(t, ts, http.MethodPost, "/api/connect", ConnectRequest{Simulate: true}, nil); code != 409 {
		t.Errorf("second connect = %d, want 409", code)
	}

	level := models.Shift2
	var cell CellResponse
	if code := call(t, ts, http.MethodPost, "/api/matrix/toggle", CellRequest{Level: &level, Row: 3, Col: 7}, &cell); code != 200 || !cell.Value {
		t.Fatalf("toggle = %d %+v", code, cell)
	}
	if code := call(t, ts, http.MethodPost, "/api/config/send", nil, nil); code != 200 {
		t.Fatalf("send = %d", code)
	}

	seen := map[string]bool{}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for !seen[EventAck] {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for ack, saw %v: %v", seen, err)
		}
		seen[msg.Type] = true
	}
	for _, typ := range []string{EventState, EventLog, EventConfig} {
		if !seen[typ] {
			t.Errorf("no %q event before ack", typ)
		}
	}

	if code := call(t, ts, http.MethodPost, "/api/config/reset", nil, nil); code != 200 {
		t.Fatalf("reset = %d", code)
	}
	if code := call(t, ts, http.MethodPost, "/api/config/load", nil, nil); code != 200 {
		t.Fatalf("load = %d", code)
	}
	eventually(t, "device config", func() bool {
		var body configBody
		call(t, ts, http.MethodGet, "/api/config", nil, &body)
		return body.Config != nil && body.Config.Shift2[3][7]
	})

	var lr LogResponse
	call(t, ts, http.MethodGet, "/api/log", nil, &lr)
	var sawGet bool
	for _, e := range lr.Entries {
		if e.Direction == "tx" && e.Text == "GETCFG" {
			sawGet = true
		}
	}
	if !sawGet {
		t.Errorf("journal lacks GETCFG: %+v", lr.Entries)
	}
	call(t, ts, http.MethodPost, "/api/log/clear", nil, nil)
	call(t, ts, http.MethodGet, "/api/log", nil, &lr)
	if len(lr.Entries) != 0 {
		t.Errorf("journal not cleared: %d entries", len(lr.Entries))
	}

	if code := call(t, ts, http.MethodPost, "/api/disconnect", nil, nil); code != 200 {
		t.Fatalf("disconnect = %d", code)
	}
	var st StatusResponse
	call(t, ts, http.MethodGet, "/api/status", nil, &st)
	if st.State != session.Disconnected {
		t.Errorf("state after disconnect = %v", st.State)
	}
}

func TestConfigBroadcastOncePerChange(t *testing.T) {
	_, ts := startServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	var hello WSMessage
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != EventHello {
		t.Fatalf("first event = %+v, %v", hello, err)
	}

	steps := []struct {
		name string
		path string
		body interface{}
	}{
		{"reset", "/api/config/reset", nil},
		{"fill", "/api/matrix/fill", map[string]interface{}{"level": "normal", "value": true}},
		{"reset again", "/api/config/reset", nil},
	}
	for _, st := range steps {
		if code := call(t, ts, http.MethodPost, st.path, st.body, nil); code != 200 {
			t.Fatalf("%s = %d", st.name, code)
		}
	}

	configs := 0
	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		if msg.Type == EventConfig {
			configs++
		}
	}
	if configs != len(steps) {
		t.Errorf("config events = %d, want %d", configs, len(steps))
	}
}

func TestEditsAfterSessionStopped(t *testing.T) {
	s := New(testConfig(t), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	cancel()
	<-done

	tests := []struct {
		path string
		body interface{}
	}{
		{"/api/matrix/random", map[string]interface{}{"level": "normal", "density": 0.5}},
		{"/api/matrix/random", map[string]float64{"density": 0.5}},
		{"/api/matrix/fill", map[string]interface{}{"level": "normal", "value": true}},
	}
	for _, tt := range tests {
		if code := call(t, ts, http.MethodPost, tt.path, tt.body, nil); code != http.StatusServiceUnavailable {
			t.Errorf("POST %s %v = %d, want 503", tt.path, tt.body, code)
		}
	}
}

func TestEditEndpoints(t *testing.T) {
	_, ts := startServer(t)

	var st session.Status
	if code := call(t, ts, http.MethodPost, "/api/level", map[string]string{"level": "shift1"}, &st); code != 200 || st.Level != models.Shift1 {
		t.Fatalf("level = %d %+v", code, st)
	}
	if code := call(t, ts, http.MethodPost, "/api/level", map[string]string{"level": "shift9"}, nil); code != 400 {
		t.Errorf("bad level = %d, want 400", code)
	}

	// no level: the active one (shift1)
	if code := call(t, ts, http.MethodPost, "/api/matrix/fill", map[string]bool{"value": true}, nil); code != 200 {
		t.Fatalf("fill = %d", code)
	}
	var sum SummaryResponse
	if code := call(t, ts, http.MethodGet, "/api/matrix/summary", nil, &sum); code != 200 {
		t.Fatalf("summary = %d", code)
	}
	if sum.Level != models.Shift1 || sum.Active != 256 || sum.OverlapWithNormal != 0 {
		t.Errorf("summary = %+v", sum.Summary)
	}

	if code := call(t, ts, http.MethodPost, "/api/shift/function", map[string]interface{}{"input": 4, "function": "shift3"}, nil); code != 200 {
		t.Fatalf("shift function = %d", code)
	}
	if code := call(t, ts, http.MethodPost, "/api/matrix/random", map[string]interface{}{"level": "normal", "density": 0}, nil); code != 200 {
		t.Fatalf("random = %d", code)
	}

	var body configBody
	call(t, ts, http.MethodGet, "/api/config", nil, &body)
	if body.Level != "shift1" || body.Config.ShiftFunctionID[4] != 3 || body.Config.Normal.Active() != 0 {
		t.Errorf("config = level %s shift %v normal %d", body.Level, body.Config.ShiftFunctionID, body.Config.Normal.Active())
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"toggle out of range", http.MethodPost, "/api/matrix/toggle", map[string]int{"row": 16, "col": 0}, 400},
		{"density out of range", http.MethodPost, "/api/matrix/random", map[string]float64{"density": 2}, 400},
		{"shift function out of range", http.MethodPost, "/api/shift/function", map[string]interface{}{"input": 16, "function": "normal"}, 400},
		{"send while disconnected", http.MethodPost, "/api/config/send", nil, 409},
		{"load while disconnected", http.MethodPost, "/api/config/load", nil, 409},
		{"unknown snapshot", http.MethodPost, "/api/snapshots/apply", SnapshotRequest{ID: "nope"}, 404},
		{"bad json", http.MethodPost, "/api/matrix/toggle", "{", 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e APIError
			if code := call(t, ts, tt.method, tt.path, tt.body, &e); code != tt.want || e.Error == "" {
				t.Errorf("%s %s = %d %q, want %d", tt.method, tt.path, code, e.Error, tt.want)
			}
		})
	}
}

func TestSnapshots(t *testing.T) {
	_, ts := startServer(t)

	cfg := models.Default()
	_ = cfg.Fill(models.Shift3, true)
	raw, _ := file.Encode(cfg, file.FormatYAML)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "live-show.yaml")
	_, _ = fw.Write(raw)
	_ = mw.Close()
	resp, err := ts.Client().Post(ts.URL+"/api/snapshots/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	var up UploadResponse
	_ = json.NewDecoder(resp.Body).Decode(&up)
	resp.Body.Close()
	if resp.StatusCode != 200 || up.SnapshotID == "" || up.Filename != "live-show.yaml" {
		t.Fatalf("upload = %d %+v", resp.StatusCode, up)
	}

	var body configBody
	if code := call(t, ts, http.MethodPost, "/api/snapshots/apply", SnapshotRequest{ID: up.SnapshotID}, &body); code != 200 {
		t.Fatalf("apply = %d", code)
	}
	if !body.Config.Equal(cfg) {
		t.Error("applied snapshot differs from upload")
	}

	resp, err = ts.Client().Get(ts.URL + "/api/snapshots/download?id=" + up.SnapshotID)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, `"live-show.json"`) {
		t.Errorf("Content-Disposition = %q", cd)
	}
	got, err := models.Parse(data)
	if err != nil || !got.Equal(cfg) {
		t.Errorf("download = %v", err)
	}

	bad := bytes.Buffer{}
	mw = multipart.NewWriter(&bad)
	fw, _ = mw.CreateFormFile("file", "bad.json")
	_, _ = fw.Write([]byte(`{"version":1,"size":15}`))
	_ = mw.Close()
	resp, err = ts.Client().Post(ts.URL+"/api/snapshots/upload", mw.FormDataContentType(), &bad)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("invalid upload = %d, want 400", resp.StatusCode)
	}
}

func TestProfiles(t *testing.T) {
	_, ts := startServer(t)

	level := models.Normal
	call(t, ts, http.MethodPost, "/api/matrix/toggle", CellRequest{Level: &level, Row: 0, Col: 15}, nil)

	var pr ProfileResponse
	if code := call(t, ts, http.MethodPost, "/api/profiles/save", ProfileRequest{Name: "rehearsal"}, &pr); code != 200 || pr.Name != "rehearsal.yaml" {
		t.Fatalf("save = %d %+v", code, pr)
	}
	call(t, ts, http.MethodPost, "/api/config/reset", nil, nil)

	var body configBody
	if code := call(t, ts, http.MethodPost, "/api/profiles/load", ProfileRequest{Name: "rehearsal"}, &body); code != 200 {
		t.Fatalf("load = %d", code)
	}
	if !body.Config.Normal[0][15] {
		t.Error("profile did not restore the edit")
	}

	var list ProfilesResponse
	call(t, ts, http.MethodGet, "/api/profiles", nil, &list)
	if len(list.Profiles) != 1 || list.Profiles[0] != "rehearsal.yaml" {
		t.Errorf("profiles = %v", list.Profiles)
	}

	if code := call(t, ts, http.MethodPost, "/api/profiles/save", ProfileRequest{Name: "../x"}, nil); code != 400 {
		t.Errorf("traversal = %d, want 400", code)
	}
	if code := call(t, ts, http.MethodPost, "/api/profiles/load", ProfileRequest{Name: "missing"}, nil); code != 404 {
		t.Errorf("missing profile = %d, want 404", code)
	}
}

func TestSelectPort(t *testing.T) {
	origList, origDetect := listPorts, autoDetect
	t.Cleanup(func() { listPorts, autoDetect = origList, origDetect })

	usb := serial.PortInfo{Name: "/dev/ttyACM1", IsUSB: true, VID: "2E8A", PID: "000A", SerialNumber: "E66"}
	other := serial.PortInfo{Name: "/dev/ttyS0"}
	var detected bool
	autoDetect = func(int, string, string, time.Duration) (string, []string) {
		detected = true
		return "/dev/ttyS0", []string{"device answered on /dev/ttyS0"}
	}

	tests := []struct {
		name       string
		configured string
		ports      []serial.PortInfo
		cached     bool
		want       string
		wantDetect bool
		wantErr    bool
	}{
		{name: "configured", configured: "COM7", ports: []serial.PortInfo{usb, other}, want: "COM7"},
		{name: "cached usb", ports: []serial.PortInfo{other, usb}, cached: true, want: "/dev/ttyACM1"},
		{name: "only port", ports: []serial.PortInfo{other}, want: "/dev/ttyS0"},
		{name: "getcfg answer", ports: []serial.PortInfo{usb, other}, want: "/dev/ttyS0", wantDetect: true},
		{name: "none", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Serial.Port = tt.configured
			s := New(cfg, zaptest.NewLogger(t))
			if tt.cached {
				// same adapter, previously enumerated under another name
				s.ports.Remember(serial.PortInfo{Name: "/dev/ttyACM0", IsUSB: true, VID: "2e8a", PID: "000a", SerialNumber: "E66"})
			}
			listPorts = func() []serial.PortInfo { return tt.ports }
			detected = false

			var trace []string
			got, err := s.selectPort(context.Background(), &trace)
			if tt.wantErr {
				if err == nil {
					t.Errorf("selectPort = %q, want error", got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("selectPort = %q, %v, want %q", got, err, tt.want)
			}
			if detected != tt.wantDetect {
				t.Errorf("detected = %v", detected)
			}
			if len(trace) == 0 {
				t.Error("empty trace")
			}
		})
	}
}

func TestConnectWithoutDevice(t *testing.T) {
	orig := listPorts
	t.Cleanup(func() { listPorts = orig })
	listPorts = func() []serial.PortInfo { return nil }

	_, ts := startServer(t)
	var e APIError
	if code := call(t, ts, http.MethodPost, "/api/connect", ConnectRequest{}, &e); code != 404 {
		t.Fatalf("connect = %d %q, want 404", code, e.Error)
	}
	var st StatusResponse
	call(t, ts, http.MethodGet, "/api/status", nil, &st)
	if st.State != session.Disconnected || st.LogEntries == 0 {
		t.Errorf("status = %+v", st)
	}
}

func TestPortCachePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "ports.json")
	pc := NewPortCache(path)
	pc.Remember(serial.PortInfo{Name: "/dev/ttyS1"})
	pc.Remember(serial.PortInfo{Name: "COM5", IsUSB: true, VID: "0403", PID: "6001", SerialNumber: "A1"})

	again := NewPortCache(path)
	if got := again.Get("0403:6001:A1"); got != "COM5" {
		t.Errorf("Get = %q", got)
	}
	if got := again.Get(""); got != "" {
		t.Errorf("non-USB port cached as %q", got)
	}
}

func TestJournalIsBounded(t *testing.T) {
	j := NewJournal(3)
	for _, s := range []string{"a", "b", "c", "d"} {
		j.Add("rx", s)
	}
	got := j.Entries()
	if len(got) != 3 || got[0].Text != "b" || got[2].Text != "d" || got[2].Seq != 4 {
		t.Errorf("entries = %+v", got)
	}
	j.Clear()
	if j.Len() != 0 || j.Add("tx", "e").Seq != 5 {
		t.Error("clear reset the sequence or kept entries")
	}
}
