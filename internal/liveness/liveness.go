package liveness

import (
	"sync"
	"time"
)

type Status string

const (
	Online  Status = "Online"
	Offline Status = "Offline"
)

type deviceState struct {
	lastSeen time.Time
	lastInit time.Time
}

// Tracker keeps per-device last-seen and last-init timestamps. Any successful
// contact (heartbeat, event post, init) counts as seen. State is in-memory
// only; a restart loses it and devices repopulate it within one heartbeat
// interval.
type Tracker struct {
	mu    sync.Mutex
	store map[string]*deviceState
}

func New() *Tracker {
	return &Tracker{store: make(map[string]*deviceState)}
}

func (t *Tracker) Touch(id string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state(id).lastSeen = at
}

// TouchInit records an init call, which counts as contact too.
func (t *Tracker) TouchInit(id string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(id)
	s.lastSeen = at
	s.lastInit = at
}

func (t *Tracker) state(id string) *deviceState {
	s, ok := t.store[id]
	if !ok {
		s = &deviceState{}
		t.store[id] = s
	}
	return s
}

// Status classifies id as Online iff it has been seen and now-lastSeen is
// within threshold. The boundary counts as Online.
func (t *Tracker) Status(id string, now time.Time, threshold time.Duration) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.store[id]
	if !ok || s.lastSeen.IsZero() {
		return Offline
	}
	if now.Sub(s.lastSeen) <= threshold {
		return Online
	}
	return Offline
}

// LastSeen returns the recorded timestamps for id; zero values when unseen.
func (t *Tracker) LastSeen(id string) (seen, init time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.store[id]
	if !ok {
		return time.Time{}, time.Time{}
	}
	return s.lastSeen, s.lastInit
}
