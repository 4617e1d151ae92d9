package controller_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/canmetro/turnstiled/internal/turnstile/actuator"
	"github.com/canmetro/turnstiled/internal/turnstile/controller"
	"github.com/canmetro/turnstiled/internal/turnstile/telemetry/memory"
	"github.com/canmetro/turnstiled/internal/turnstile/types"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// newTestController starts a controller with a zero-delay simulated
// actuator and an in-memory sink. The loop is stopped and drained on
// test cleanup.
func newTestController(t *testing.T, crossingTimeout time.Duration) (*controller.Controller, *actuator.Sim, *memory.Sink) {
	t.Helper()

	sim := actuator.NewSim(0, 0, testLogger())
	sink := memory.New()
	ctl := controller.New(controller.Config{
		DoorID:          "gate-test",
		CrossingTimeout: crossingTimeout,
	}, controller.NewStateStore(), sim, sink, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go ctl.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-ctl.Done()
	})
	return ctl, sim, sink
}

// waitFor polls the controller snapshot until cond holds or the
// deadline expires.
func waitFor(t *testing.T, ctl *controller.Controller, what string, cond func(types.Snapshot) bool) types.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := ctl.Snapshot()
		if cond(snap) {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; last snapshot: %+v", what, ctl.Snapshot())
	return types.Snapshot{}
}

func TestFullCrossing_OpensCountsAndCloses(t *testing.T) {
	ctl, _, sink := newTestController(t, 5*time.Second)

	ctl.EnableAccess("Ana")
	ctl.Submit(types.ButtonPressed(types.SourcePhysical))

	snap := waitFor(t, ctl, "door open", func(s types.Snapshot) bool {
		return s.DoorPosition == types.DoorOpen && s.CrossingInProgress
	})
	if snap.AccessCounter != 1 {
		t.Errorf("expected access_counter=1, got %d", snap.AccessCounter)
	}
	if snap.BoundUser != "Ana" {
		t.Errorf("expected bound_user=Ana, got %q", snap.BoundUser)
	}

	ctl.Submit(types.SensorEdge(types.SensorB, true))
	ctl.Submit(types.SensorEdge(types.SensorB, false))

	snap = waitFor(t, ctl, "door closed", func(s types.Snapshot) bool {
		return s.DoorPosition == types.DoorClosed
	})
	if snap.BoundUser != "" {
		t.Errorf("expected bound_user cleared after close, got %q", snap.BoundUser)
	}
	if snap.AccessEnabled {
		t.Error("expected access_enabled=false after close")
	}
	if snap.CrossingInProgress {
		t.Error("expected crossing_in_progress=false after close")
	}
	if snap.OccupancyCounter != 1 {
		t.Errorf("expected occupancy_counter=1, got %d", snap.OccupancyCounter)
	}
	if snap.TimeoutCounter != 0 {
		t.Errorf("expected no timeout anomaly, got %d", snap.TimeoutCounter)
	}

	var granted int
	for _, ev := range sink.Accesses() {
		if ev.Granted {
			granted++
			if ev.User != "Ana" {
				t.Errorf("expected granted event for Ana, got %q", ev.User)
			}
		}
	}
	if granted != 1 {
		t.Errorf("expected 1 granted telemetry event, got %d", granted)
	}
}

func TestTriggerWithoutAccess_DeniedAndDoorStaysClosed(t *testing.T) {
	ctl, sim, sink := newTestController(t, 5*time.Second)

	ctl.Submit(types.ButtonPressed(types.SourceWeb))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(sink.Accesses()) == 0 {
		time.Sleep(2 * time.Millisecond)
	}

	events := sink.Accesses()
	if len(events) != 1 {
		t.Fatalf("expected 1 denied telemetry event, got %d", len(events))
	}
	if events[0].Granted {
		t.Error("expected granted=false")
	}

	snap := ctl.Snapshot()
	if snap.DoorPosition != types.DoorClosed {
		t.Errorf("expected door to stay closed, got %s", snap.DoorPosition)
	}
	if snap.AccessCounter != 0 {
		t.Errorf("expected access_counter unchanged, got %d", snap.AccessCounter)
	}

	line1, _ := sim.LastDisplay()
	if line1 != "ACCESS DENIED" {
		t.Errorf("expected denied message on display, got %q", line1)
	}
}

func TestCrossingTimeout_FailsClosed(t *testing.T) {
	ctl, _, _ := newTestController(t, 30*time.Millisecond)

	ctl.EnableAccess("Ana")
	ctl.Submit(types.ButtonPressed(types.SourcePhysical))

	snap := waitFor(t, ctl, "door closed after timeout", func(s types.Snapshot) bool {
		return s.DoorPosition == types.DoorClosed && s.AccessCounter == 1
	})
	if snap.TimeoutCounter != 1 {
		t.Errorf("expected 1 timeout anomaly, got %d", snap.TimeoutCounter)
	}
	if snap.CrossingInProgress {
		t.Error("expected crossing_in_progress=false after timeout close")
	}
}

func TestSecondTriggerDuringCrossing_DroppedNotQueued(t *testing.T) {
	ctl, _, sink := newTestController(t, 5*time.Second)

	ctl.EnableAccess("Ana")
	ctl.Submit(types.ButtonPressed(types.SourcePhysical))
	waitFor(t, ctl, "crossing wait", func(s types.Snapshot) bool {
		return s.CrossingInProgress
	})

	// A second press while awaiting the crossing must be dropped, not
	// deferred into a second open sequence.
	ctl.Submit(types.ButtonPressed(types.SourcePhysical))
	ctl.Submit(types.SensorEdge(types.SensorB, true))
	ctl.Submit(types.SensorEdge(types.SensorB, false))

	waitFor(t, ctl, "door closed", func(s types.Snapshot) bool {
		return s.DoorPosition == types.DoorClosed
	})

	// Give a queued duplicate every chance to (wrongly) fire.
	time.Sleep(50 * time.Millisecond)

	snap := ctl.Snapshot()
	if snap.DoorPosition != types.DoorClosed {
		t.Errorf("expected door to remain closed, got %s", snap.DoorPosition)
	}
	if snap.AccessCounter != 1 {
		t.Errorf("expected exactly 1 access, got %d", snap.AccessCounter)
	}

	var granted int
	for _, ev := range sink.Accesses() {
		if ev.Granted {
			granted++
		}
	}
	if granted != 1 {
		t.Errorf("expected exactly 1 granted event, got %d", granted)
	}
}

func TestDisableAccessDuringCrossing_DoesNotAbortWait(t *testing.T) {
	ctl, _, _ := newTestController(t, 5*time.Second)

	ctl.EnableAccess("Ana")
	ctl.Submit(types.ButtonPressed(types.SourcePhysical))
	waitFor(t, ctl, "crossing wait", func(s types.Snapshot) bool {
		return s.CrossingInProgress
	})

	ctl.DisableAccess()

	// The committed crossing keeps running.
	time.Sleep(50 * time.Millisecond)
	snap := ctl.Snapshot()
	if snap.DoorPosition != types.DoorOpen || !snap.CrossingInProgress {
		t.Fatalf("expected crossing to continue after logout, got %+v", snap)
	}

	ctl.Submit(types.SensorEdge(types.SensorB, true))
	ctl.Submit(types.SensorEdge(types.SensorB, false))
	waitFor(t, ctl, "door closed", func(s types.Snapshot) bool {
		return s.DoorPosition == types.DoorClosed
	})
}

func TestPassCompleted_EndsCrossingWait(t *testing.T) {
	ctl, _, _ := newTestController(t, 5*time.Second)

	ctl.EnableAccess("Ana")
	ctl.Submit(types.ButtonPressed(types.SourcePhysical))
	waitFor(t, ctl, "crossing wait", func(s types.Snapshot) bool {
		return s.CrossingInProgress
	})

	ctl.Submit(types.PassCompleted())

	snap := waitFor(t, ctl, "door closed", func(s types.Snapshot) bool {
		return s.DoorPosition == types.DoorClosed
	})
	if snap.TimeoutCounter != 0 {
		t.Errorf("expected no timeout anomaly, got %d", snap.TimeoutCounter)
	}
}

func TestSensorEdges_ObservedInEveryState(t *testing.T) {
	ctl, _, _ := newTestController(t, 5*time.Second)

	ctl.Submit(types.SensorEdge(types.SensorA, true))
	snap := waitFor(t, ctl, "sensor A blocked", func(s types.Snapshot) bool {
		return s.SensorABlocked
	})
	if snap.DoorPosition != types.DoorClosed {
		t.Errorf("sensor edge must not move the door, got %s", snap.DoorPosition)
	}

	ctl.Submit(types.SensorEdge(types.SensorA, false))
	waitFor(t, ctl, "sensor A clear", func(s types.Snapshot) bool {
		return !s.SensorABlocked
	})
}

func TestResetCounters_CountsFreshAfterReset(t *testing.T) {
	ctl, _, _ := newTestController(t, 5*time.Second)

	runAccess := func(user string) {
		ctl.EnableAccess(user)
		ctl.Submit(types.ButtonPressed(types.SourceWeb))
		waitFor(t, ctl, "crossing wait", func(s types.Snapshot) bool {
			return s.CrossingInProgress
		})
		ctl.Submit(types.PassCompleted())
		waitFor(t, ctl, "door closed", func(s types.Snapshot) bool {
			return s.DoorPosition == types.DoorClosed && !s.CrossingInProgress
		})
	}

	runAccess("Ana")
	runAccess("Ana")

	ctl.ResetCounters()
	if got := ctl.Snapshot().AccessCounter; got != 0 {
		t.Fatalf("expected counter reset to 0, got %d", got)
	}

	for i := 0; i < 3; i++ {
		runAccess("Ana")
	}
	snap := ctl.Snapshot()
	if snap.AccessCounter != 3 {
		t.Errorf("expected access_counter=3 after reset, got %d", snap.AccessCounter)
	}
	if snap.OccupancyCounter != 3 {
		t.Errorf("expected occupancy_counter=3 after reset, got %d", snap.OccupancyCounter)
	}
}

// failingDriver fails every operation until healed.
type failingDriver struct {
	actuator.Sim
	healed bool
}

func (d *failingDriver) Open(ctx context.Context, user string) error {
	if !d.healed {
		return errors.New("motor fault")
	}
	return d.Sim.Open(ctx, user)
}

func (d *failingDriver) Close(ctx context.Context) error {
	if !d.healed {
		return errors.New("motor fault")
	}
	return d.Sim.Close(ctx)
}

func TestActuatorFault_SurfacedThenClearedOnSuccess(t *testing.T) {
	drv := &failingDriver{}
	sink := memory.New()
	ctl := controller.New(controller.Config{
		CrossingTimeout: 20 * time.Millisecond,
	}, controller.NewStateStore(), drv, sink, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go ctl.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-ctl.Done()
	})

	ctl.EnableAccess("Ana")
	ctl.Submit(types.ButtonPressed(types.SourcePhysical))

	// The machine proceeds optimistically through the fault and still
	// counts the access and ends closed.
	snap := waitFor(t, ctl, "door closed with fault", func(s types.Snapshot) bool {
		return s.DoorPosition == types.DoorClosed && s.AccessCounter == 1
	})
	if !snap.ActuatorFault {
		t.Error("expected persistent actuator fault flag after failed close")
	}

	drv.healed = true
	ctl.EnableAccess("Ana")
	ctl.Submit(types.ButtonPressed(types.SourcePhysical))
	snap = waitFor(t, ctl, "door closed healthy", func(s types.Snapshot) bool {
		return s.DoorPosition == types.DoorClosed && s.AccessCounter == 2
	})
	if snap.ActuatorFault {
		t.Error("expected fault flag cleared by successful actuator call")
	}
}
