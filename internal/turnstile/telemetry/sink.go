package telemetry

import (
	"context"
	"time"

	"github.com/canmetro/turnstiled/internal/turnstile/types"
)

// AccessEvent captures one granted or denied access for the event log.
type AccessEvent struct {
	User       string
	DoorID     string
	Granted    bool
	AccessSeq  int64 // access_counter value at grant time; 0 for denials
	OccurredAt time.Time
}

// LoginEvent captures one authentication attempt.
type LoginEvent struct {
	Username   string
	Success    bool
	OccurredAt time.Time
}

// StatusSample captures the door state at a point in time.
type StatusSample struct {
	Position           types.DoorPosition
	CrossingInProgress bool
	SensorABlocked     bool
	SensorBBlocked     bool
	OccurredAt         time.Time
}

// AccessStats aggregates the access log over a window.
type AccessStats struct {
	Total   int64
	Granted int64
	Denied  int64
}

// Sink receives fire-and-forget notifications from the door controller
// and the web layer. Implementations must never block for long; callers
// log returned errors and otherwise ignore them.
type Sink interface {
	AccessGranted(ctx context.Context, ev AccessEvent) error
	AccessDenied(ctx context.Context, ev AccessEvent) error
	Login(ctx context.Context, ev LoginEvent) error
	DoorStatus(ctx context.Context, s StatusSample) error
}

// Reader answers the history queries behind the statistics endpoints.
type Reader interface {
	RecentAccess(ctx context.Context, since time.Time) ([]AccessEvent, error)
	Stats(ctx context.Context, since time.Time) (AccessStats, error)
}
