package mlengine

import (
	"sync"
	"time"
)

// Status is the process-wide record of ML engine reachability. It is
// written only through Record* calls after each attempt and read by the
// health and status endpoints.
type Status struct {
	mu          sync.RWMutex
	target      string
	connected   bool
	lastSuccess time.Time
}

// NewStatus creates a status cell for the given target address
func NewStatus(target string) *Status {
	return &Status{target: target}
}

// RecordSuccess marks the engine reachable as of now
func (s *Status) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.lastSuccess = time.Now()
}

// RecordFailure marks the engine unreachable
func (s *Status) RecordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

// StatusSnapshot is a point-in-time copy of the status cell
type StatusSnapshot struct {
	Connected   bool       `json:"connected"`
	Target      string     `json:"target"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
}

// Snapshot returns a copy safe to serialize
func (s *Status) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := StatusSnapshot{
		Connected: s.connected,
		Target:    s.target,
	}
	if !s.lastSuccess.IsZero() {
		t := s.lastSuccess
		snap.LastSuccess = &t
	}
	return snap
}
