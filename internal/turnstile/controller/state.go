package controller

import (
	"sync"
	"time"

	"github.com/canmetro/turnstiled/internal/turnstile/types"
)

// StateStore is the single shared mutable record of the system. The
// controller goroutine is the only writer of the door position and the
// crossing flag; access gating and counter resets come in from the web
// layer through the exported mutators, which never touch door motion
// fields. Readers always get a full consistent copy via Snapshot.
type StateStore struct {
	mu sync.RWMutex

	doorPosition       types.DoorPosition
	accessEnabled      bool
	boundUser          string
	crossingInProgress bool
	accessCounter      int64
	occupancyCounter   int64
	timeoutCounter     int64
	sensorABlocked     bool
	sensorBBlocked     bool
	actuatorFault      bool
	lastAccess         *types.AccessRecord
}

// NewStateStore returns the startup state: closed, access disabled,
// counters at zero.
func NewStateStore() *StateStore {
	return &StateStore{doorPosition: types.DoorClosed}
}

// Snapshot returns an atomic copy of every field. A reader never sees a
// half-updated combination.
func (s *StateStore) Snapshot() types.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := types.Snapshot{
		DoorPosition:       s.doorPosition,
		AccessEnabled:      s.accessEnabled,
		BoundUser:          s.boundUser,
		CrossingInProgress: s.crossingInProgress,
		AccessCounter:      s.accessCounter,
		OccupancyCounter:   s.occupancyCounter,
		TimeoutCounter:     s.timeoutCounter,
		SensorABlocked:     s.sensorABlocked,
		SensorBBlocked:     s.sensorBBlocked,
		ActuatorFault:      s.actuatorFault,
		Taken:              time.Now().UTC(),
	}
	if s.lastAccess != nil {
		rec := *s.lastAccess
		snap.LastAccess = &rec
	}
	return snap
}

// EnableAccess binds a user session so the next trigger is honored.
func (s *StateStore) EnableAccess(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessEnabled = true
	s.boundUser = user
}

// DisableAccess clears the session binding immediately. A crossing
// already committed keeps running; the controller works from the user
// it captured when the sequence started.
func (s *StateStore) DisableAccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessEnabled = false
	s.boundUser = ""
}

// ResetCounters zeroes the access and occupancy counters. Admin only;
// the timeout anomaly counter is diagnostic and is left alone.
func (s *StateStore) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessCounter = 0
	s.occupancyCounter = 0
}

func (s *StateStore) setDoorPosition(p types.DoorPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doorPosition = p
}

// openComplete marks the transition into the crossing wait: the door is
// physically open, the access is counted and recorded.
func (s *StateStore) openComplete(user string, at time.Time) (accessCount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doorPosition = types.DoorOpen
	s.crossingInProgress = true
	s.accessCounter++
	s.occupancyCounter++
	s.lastAccess = &types.AccessRecord{User: user, At: at}
	return s.accessCounter
}

// closeComplete returns the machine to its resting state and clears the
// session binding in the same critical section as the Closed transition.
func (s *StateStore) closeComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doorPosition = types.DoorClosed
	s.crossingInProgress = false
	s.accessEnabled = false
	s.boundUser = ""
}

func (s *StateStore) setSensor(sensor types.Sensor, blocked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch sensor {
	case types.SensorA:
		s.sensorABlocked = blocked
	case types.SensorB:
		s.sensorBBlocked = blocked
	}
}

func (s *StateStore) setFault(fault bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actuatorFault = fault
}

func (s *StateStore) incTimeouts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeoutCounter++
}
