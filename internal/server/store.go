package server

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CK6170/routematrix-web/models"
)

// ErrSnapshotNotFound is returned for unknown snapshot IDs.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotRecord is an uploaded configuration kept in memory until the
// server exits.
type SnapshotRecord struct {
	ID       string         `json:"id"`
	Filename string         `json:"filename,omitempty"`
	Uploaded time.Time      `json:"uploaded"`
	Config   *models.Config `json:"-"`
}

type SnapshotStore struct {
	mu sync.RWMutex
	m  map[string]*SnapshotRecord
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{m: make(map[string]*SnapshotRecord)}
}

// Put stores a copy of cfg under a fresh ID.
func (s *SnapshotStore) Put(cfg *models.Config, filename string) *SnapshotRecord {
	rec := &SnapshotRecord{
		ID:       uuid.NewString(),
		Filename: filename,
		Uploaded: time.Now(),
		Config:   cfg.Clone(),
	}
	s.mu.Lock()
	s.m[rec.ID] = rec
	s.mu.Unlock()
	return rec
}

func (s *SnapshotStore) Get(id string) (*SnapshotRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSnapshotNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.m[id]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return r, nil
}

// List returns the records, oldest first.
func (s *SnapshotStore) List() []*SnapshotRecord {
	s.mu.RLock()
	out := make([]*SnapshotRecord, 0, len(s.m))
	for _, r := range s.m {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Uploaded.Before(out[j].Uploaded) })
	return out
}
