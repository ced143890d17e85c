package server

import (
	"time"

	"github.com/CK6170/routematrix-web/matrix"
	"github.com/CK6170/routematrix-web/models"
	"github.com/CK6170/routematrix-web/serial"
	"github.com/CK6170/routematrix-web/session"
)

// APIError is the canonical error envelope returned by JSON endpoints.
// The frontend surfaces the `error` field to the user.
type APIError struct {
	Error string `json:"error"`
}

// OKResponse acknowledges endpoints with nothing else to report.
type OKResponse struct {
	OK bool `json:"ok"`
}

// HealthResponse is returned by /api/health to confirm the server is running.
type HealthResponse struct {
	OK        bool      `json:"ok"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse is returned by /api/status.
type StatusResponse struct {
	session.Status
	LogEntries int `json:"logEntries"`
	Clients    int `json:"clients"`
}

// PortsResponse lists the serial ports found on this machine.
type PortsResponse struct {
	Ports      []serial.PortInfo `json:"ports"`
	Configured string            `json:"configured,omitempty"`
}

// ConnectRequest picks the port to open. An empty Port lets the server
// choose; Simulate connects to the built-in simulator instead.
type ConnectRequest struct {
	Port     string `json:"port"`
	Simulate bool   `json:"simulate"`
}

// ConnectResponse is returned by /api/connect.
type ConnectResponse struct {
	Connected     bool     `json:"connected"`
	Port          string   `json:"port"`
	Simulated     bool     `json:"simulated"`
	AutoDetectLog []string `json:"autoDetectLog,omitempty"`
}

// ConfigResponse carries the model with the current editing context.
type ConfigResponse struct {
	session.Snapshot
}

// CellRequest addresses one cell. An empty Level means the active level.
type CellRequest struct {
	Level *models.Level `json:"level,omitempty"`
	Row   int           `json:"row"`
	Col   int           `json:"col"`
}

// CellResponse reports the cell value after a toggle.
type CellResponse struct {
	Level models.Level `json:"level"`
	Row   int          `json:"row"`
	Col   int          `json:"col"`
	Value bool         `json:"value"`
}

// FillRequest sets a whole level.
type FillRequest struct {
	Level *models.Level `json:"level,omitempty"`
	Value bool          `json:"value"`
}

// RandomRequest fills a level at random. Density defaults to 0.5.
type RandomRequest struct {
	Level   *models.Level `json:"level,omitempty"`
	Density *float64      `json:"density,omitempty"`
}

// ShiftFunctionRequest binds a physical input to a shift function.
type ShiftFunctionRequest struct {
	Input    int          `json:"input"`
	Function models.Level `json:"function"`
}

// LevelRequest selects the active level.
type LevelRequest struct {
	Level models.Level `json:"level"`
}

// SummaryResponse is returned by /api/matrix/summary.
type SummaryResponse struct {
	*matrix.Summary
	OverlapWithNormal int `json:"overlapWithNormal"`
}

// UploadResponse is returned by the snapshot upload endpoint.
// SnapshotID is the opaque ID used for apply/download.
type UploadResponse struct {
	SnapshotID string `json:"snapshotId"`
	Filename   string `json:"filename,omitempty"`
}

// SnapshotRequest identifies a stored snapshot.
type SnapshotRequest struct {
	ID string `json:"id"`
}

// ProfileRequest names a profile under the profile directory.
type ProfileRequest struct {
	Name string `json:"name"`
}

// ProfileResponse reports where a profile was written or read.
type ProfileResponse struct {
	OK   bool   `json:"ok"`
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

// ProfilesResponse lists saved profiles.
type ProfilesResponse struct {
	Profiles []string `json:"profiles"`
}

// LogResponse returns the transport journal.
type LogResponse struct {
	Entries []Entry `json:"entries"`
}
