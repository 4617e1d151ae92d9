package memory

import (
	"context"
	"sync"
	"time"

	"github.com/canmetro/turnstiled/internal/turnstile/telemetry"
)

// Sink is an in-memory telemetry sink. Tests use it to inspect what the
// controller reported; it also serves deployments that run without a
// database.
type Sink struct {
	mu       sync.RWMutex
	accesses []telemetry.AccessEvent
	logins   []telemetry.LoginEvent
	statuses []telemetry.StatusSample
}

func New() *Sink {
	return &Sink{}
}

func (s *Sink) AccessGranted(_ context.Context, ev telemetry.AccessEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.Granted = true
	s.accesses = append(s.accesses, ev)
	return nil
}

func (s *Sink) AccessDenied(_ context.Context, ev telemetry.AccessEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.Granted = false
	s.accesses = append(s.accesses, ev)
	return nil
}

func (s *Sink) Login(_ context.Context, ev telemetry.LoginEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins = append(s.logins, ev)
	return nil
}

func (s *Sink) DoorStatus(_ context.Context, sample telemetry.StatusSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, sample)
	return nil
}

// Accesses returns a copy of all recorded access events in order.
func (s *Sink) Accesses() []telemetry.AccessEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]telemetry.AccessEvent, len(s.accesses))
	copy(out, s.accesses)
	return out
}

// Logins returns a copy of all recorded login events in order.
func (s *Sink) Logins() []telemetry.LoginEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]telemetry.LoginEvent, len(s.logins))
	copy(out, s.logins)
	return out
}

// Statuses returns a copy of all recorded door-status samples in order.
func (s *Sink) Statuses() []telemetry.StatusSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]telemetry.StatusSample, len(s.statuses))
	copy(out, s.statuses)
	return out
}

func (s *Sink) RecentAccess(_ context.Context, since time.Time) ([]telemetry.AccessEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []telemetry.AccessEvent
	for _, ev := range s.accesses {
		if !ev.OccurredAt.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *Sink) Stats(_ context.Context, since time.Time) (telemetry.AccessStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st telemetry.AccessStats
	for _, ev := range s.accesses {
		if ev.OccurredAt.Before(since) {
			continue
		}
		st.Total++
		if ev.Granted {
			st.Granted++
		} else {
			st.Denied++
		}
	}
	return st, nil
}
