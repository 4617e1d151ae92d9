// Package controller implements the door-control state machine: the
// sole authority over gate actuation. It consumes trigger events from a
// single queue, one at a time, which is the mechanism that rules out
// overlapping open sequences and races between triggers and timeouts.
package controller

import (
	"context"
	"log"
	"time"

	"github.com/canmetro/turnstiled/internal/turnstile/actuator"
	"github.com/canmetro/turnstiled/internal/turnstile/telemetry"
	"github.com/canmetro/turnstiled/internal/turnstile/types"
)

// Config tunes the controller. Zero values fall back to defaults.
type Config struct {
	// DoorID names this gate in telemetry events.
	DoorID string

	// CrossingTimeout bounds the wait for a person to pass after the
	// door opens. Elapsing without a full blocked-then-clear pattern
	// on sensor B closes the door anyway (fail-closed). Default 15s.
	CrossingTimeout time.Duration

	// QueueSize is the trigger buffer. Submissions beyond it are
	// dropped with a log entry rather than blocking producers.
	// Default 64.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.DoorID == "" {
		c.DoorID = "gate-1"
	}
	if c.CrossingTimeout <= 0 {
		c.CrossingTimeout = 15 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

// Controller runs the state machine. Exactly one Run loop consumes the
// event queue; any number of goroutines may Submit events or read
// snapshots concurrently.
type Controller struct {
	cfg    Config
	state  *StateStore
	driver actuator.Driver
	sink   telemetry.Sink
	logger *log.Logger

	events chan types.TriggerEvent
	done   chan struct{}
}

func New(cfg Config, state *StateStore, driver actuator.Driver, sink telemetry.Sink, logger *log.Logger) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{
		cfg:    cfg,
		state:  state,
		driver: driver,
		sink:   sink,
		logger: logger,
		events: make(chan types.TriggerEvent, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// Snapshot returns the current consistent system state.
func (c *Controller) Snapshot() types.Snapshot {
	return c.state.Snapshot()
}

// Submit enqueues a trigger event without blocking. Under extreme
// backpressure the event is dropped and logged; the caller never fails.
func (c *Controller) Submit(ev types.TriggerEvent) {
	select {
	case c.events <- ev:
	default:
		c.logger.Printf("controller: queue full, dropping %s event", ev.Kind)
	}
}

// EnableAccess binds an authenticated user so the next trigger opens
// the gate. Called by the web layer on login and by the card gateway on
// a granted scan.
func (c *Controller) EnableAccess(user string) {
	c.state.EnableAccess(user)
	_ = c.driver.Display("Welcome", user)
}

// DisableAccess clears the session binding. A crossing wait already in
// progress is not interrupted; crossing safety outranks session expiry.
func (c *Controller) DisableAccess() {
	c.state.DisableAccess()
	_ = c.driver.Display("Session closed", "")
}

// ResetCounters zeroes the access and occupancy counters (admin only).
func (c *Controller) ResetCounters() {
	c.state.ResetCounters()
}

// Run consumes trigger events until ctx is cancelled. It finishes the
// unit of work in progress before exiting and never terminates on
// actuator or telemetry failures.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)
	c.logger.Printf("controller: loop started (door=%s, crossing timeout=%s)",
		c.cfg.DoorID, c.cfg.CrossingTimeout)

	for {
		select {
		case <-ctx.Done():
			c.logger.Printf("controller: loop stopped")
			return
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

// Done is closed once the Run loop has exited.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) handle(ctx context.Context, ev types.TriggerEvent) {
	switch ev.Kind {
	case types.KindSensorEdge:
		// Pure observation; valid in every state.
		c.state.setSensor(ev.Sensor, ev.Blocked)

	case types.KindButtonPressed, types.KindCardScanned:
		snap := c.state.Snapshot()
		if snap.DoorPosition != types.DoorClosed {
			c.logger.Printf("controller: busy, dropping %s from %s", ev.Kind, ev.Source)
			return
		}
		if !snap.AccessEnabled {
			c.deny(ctx, ev)
			return
		}
		c.runSequence(ctx, snap.BoundUser)

	case types.KindPassCompleted:
		// Meaningful only inside a crossing wait, where it is consumed
		// by waitForCrossing. Out here it is stale.
		c.logger.Printf("controller: ignoring pass-completed outside crossing wait")

	default:
		c.logger.Printf("controller: dropping malformed trigger event %q", ev.Kind)
	}
}

// deny rejects a trigger received while access is disabled: display
// message, telemetry, no state change.
func (c *Controller) deny(ctx context.Context, ev types.TriggerEvent) {
	who := ev.CardID
	if who == "" {
		who = "unknown"
	}
	c.logger.Printf("controller: access denied (%s from %s)", ev.Kind, ev.Source)
	_ = c.driver.Display("ACCESS DENIED", "Login first")
	c.notify("access_denied", func() error {
		return c.sink.AccessDenied(ctx, telemetry.AccessEvent{
			User:       who,
			DoorID:     c.cfg.DoorID,
			OccurredAt: time.Now().UTC(),
		})
	})
}

// runSequence drives one full Opening -> AwaitingCrossing -> Closing ->
// Closed pass. It blocks the consumer loop for its whole duration; that
// is the at-most-one-sequence guarantee.
func (c *Controller) runSequence(ctx context.Context, user string) {
	now := time.Now().UTC()

	c.state.setDoorPosition(types.DoorOpening)
	c.publishStatus(ctx)

	c.actuate("open", func() error { return c.driver.Open(ctx, user) })

	count := c.state.openComplete(user, now)
	c.publishStatus(ctx)
	c.logger.Printf("controller: access #%d granted to %q", count, user)
	c.notify("access_granted", func() error {
		return c.sink.AccessGranted(ctx, telemetry.AccessEvent{
			User:       user,
			DoorID:     c.cfg.DoorID,
			AccessSeq:  count,
			OccurredAt: now,
		})
	})

	c.waitForCrossing(ctx)

	c.state.setDoorPosition(types.DoorClosing)
	c.publishStatus(ctx)

	// Close even if shutdown arrived mid-crossing: fail-closed.
	c.actuate("close", func() error { return c.driver.Close(context.WithoutCancel(ctx)) })

	c.state.closeComplete()
	c.publishStatus(ctx)
	_ = c.driver.Display("Login on web", "to enter")
}

// waitForCrossing consumes events inline until sensor B completes a
// blocked-then-clear pattern, a PassCompleted trigger arrives, the
// timeout elapses, or shutdown is requested. Triggers other than sensor
// edges are dropped here: the system is busy.
func (c *Controller) waitForCrossing(ctx context.Context) {
	timer := time.NewTimer(c.cfg.CrossingTimeout)
	defer timer.Stop()

	seenBlocked := false
	for {
		select {
		case <-ctx.Done():
			c.logger.Printf("controller: shutdown during crossing wait, closing")
			return
		case <-timer.C:
			c.state.incTimeouts()
			c.logger.Printf("controller: crossing not detected within %s, closing anyway", c.cfg.CrossingTimeout)
			return
		case ev := <-c.events:
			switch ev.Kind {
			case types.KindSensorEdge:
				c.state.setSensor(ev.Sensor, ev.Blocked)
				if ev.Sensor != types.SensorB {
					continue
				}
				if ev.Blocked {
					seenBlocked = true
				} else if seenBlocked {
					c.logger.Printf("controller: crossing complete")
					return
				}
			case types.KindPassCompleted:
				c.logger.Printf("controller: crossing reported complete")
				return
			default:
				c.logger.Printf("controller: busy, dropping %s during crossing wait", ev.Kind)
			}
		}
	}
}

// actuate invokes a driver operation and maintains the persistent fault
// flag: set on failure, cleared by the next success. The state machine
// proceeds either way.
func (c *Controller) actuate(op string, fn func() error) {
	if err := fn(); err != nil {
		c.logger.Printf("controller: actuator %s failed, proceeding: %v", op, err)
		c.state.setFault(true)
		return
	}
	c.state.setFault(false)
}

func (c *Controller) publishStatus(ctx context.Context) {
	snap := c.state.Snapshot()
	c.notify("door_status", func() error {
		return c.sink.DoorStatus(ctx, telemetry.StatusSample{
			Position:           snap.DoorPosition,
			CrossingInProgress: snap.CrossingInProgress,
			SensorABlocked:     snap.SensorABlocked,
			SensorBBlocked:     snap.SensorBBlocked,
			OccurredAt:         time.Now().UTC(),
		})
	})
}

// notify delivers a telemetry event best-effort. Sink failures are
// logged and swallowed; they never reach the state machine.
func (c *Controller) notify(name string, fn func() error) {
	if err := fn(); err != nil {
		c.logger.Printf("controller: telemetry %s failed: %v", name, err)
	}
}
