package sensor_test

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/canmetro/turnstiled/internal/turnstile/sensor"
	"github.com/canmetro/turnstiled/internal/turnstile/types"
)

// fakeInput is a settable hardware stand-in.
type fakeInput struct {
	mu      sync.Mutex
	button  bool
	blocked map[types.Sensor]bool
}

func newFakeInput() *fakeInput {
	return &fakeInput{blocked: map[types.Sensor]bool{}}
}

func (f *fakeInput) setButton(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.button = v
}

func (f *fakeInput) setBlocked(s types.Sensor, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked[s] = v
}

func (f *fakeInput) ButtonPressed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.button
}

func (f *fakeInput) SensorBlocked(s types.Sensor) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked[s]
}

// captureQueue records submitted events.
type captureQueue struct {
	mu     sync.Mutex
	events []types.TriggerEvent
}

func (q *captureQueue) Submit(ev types.TriggerEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
}

func (q *captureQueue) all() []types.TriggerEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]types.TriggerEvent, len(q.events))
	copy(out, q.events)
	return out
}

func (q *captureQueue) count(kind types.TriggerKind) int {
	n := 0
	for _, ev := range q.all() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func startMonitor(t *testing.T, cfg sensor.Config, in sensor.Input) *captureQueue {
	t.Helper()
	q := &captureQueue{}
	m := sensor.NewMonitor(cfg, in, q, log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-m.Done()
	})
	return q
}

func TestMonitor_EmitsEdgesOnlyOnChange(t *testing.T) {
	in := newFakeInput()
	q := startMonitor(t, sensor.Config{
		PollInterval: time.Millisecond,
		SensorDwell:  time.Millisecond,
		ButtonQuiet:  time.Millisecond,
	}, in)

	// Steady level: many polls, no events.
	time.Sleep(20 * time.Millisecond)
	if n := q.count(types.KindSensorEdge); n != 0 {
		t.Fatalf("expected no edges while level is steady, got %d", n)
	}

	in.setBlocked(types.SensorB, true)
	time.Sleep(20 * time.Millisecond)
	in.setBlocked(types.SensorB, false)
	time.Sleep(20 * time.Millisecond)

	edges := 0
	for _, ev := range q.all() {
		if ev.Kind != types.KindSensorEdge {
			continue
		}
		if ev.Sensor != types.SensorB {
			t.Errorf("unexpected edge from sensor %s", ev.Sensor)
		}
		edges++
	}
	if edges != 2 {
		t.Errorf("expected exactly 2 edges (blocked, clear), got %d", edges)
	}
}

func TestMonitor_DwellSuppressesChatter(t *testing.T) {
	in := newFakeInput()
	q := startMonitor(t, sensor.Config{
		PollInterval: time.Millisecond,
		SensorDwell:  200 * time.Millisecond,
		ButtonQuiet:  time.Millisecond,
	}, in)

	// First edge is accepted.
	in.setBlocked(types.SensorA, true)
	time.Sleep(20 * time.Millisecond)
	if n := q.count(types.KindSensorEdge); n != 1 {
		t.Fatalf("expected first edge accepted, got %d", n)
	}

	// Rapid flips inside the dwell window stay suppressed.
	for i := 0; i < 5; i++ {
		in.setBlocked(types.SensorA, i%2 == 0)
		time.Sleep(5 * time.Millisecond)
	}
	if n := q.count(types.KindSensorEdge); n != 1 {
		t.Errorf("expected chatter suppressed within dwell, got %d edges", n)
	}
}

func TestMonitor_SustainedChangeSurvivesDwell(t *testing.T) {
	in := newFakeInput()
	q := startMonitor(t, sensor.Config{
		PollInterval: time.Millisecond,
		SensorDwell:  30 * time.Millisecond,
		ButtonQuiet:  time.Millisecond,
	}, in)

	in.setBlocked(types.SensorB, true)
	time.Sleep(10 * time.Millisecond)
	// Clear arrives inside the dwell window but the level holds, so
	// the edge is emitted once the window passes.
	in.setBlocked(types.SensorB, false)
	time.Sleep(80 * time.Millisecond)

	if n := q.count(types.KindSensorEdge); n != 2 {
		t.Errorf("expected delayed second edge after dwell, got %d", n)
	}
}

func TestMonitor_ButtonQuietPeriod(t *testing.T) {
	in := newFakeInput()
	q := startMonitor(t, sensor.Config{
		PollInterval: time.Millisecond,
		SensorDwell:  time.Millisecond,
		ButtonQuiet:  100 * time.Millisecond,
	}, in)

	press := func() {
		in.setButton(true)
		time.Sleep(10 * time.Millisecond)
		in.setButton(false)
		time.Sleep(10 * time.Millisecond)
	}

	press()
	press() // inside the quiet window
	if n := q.count(types.KindButtonPressed); n != 1 {
		t.Fatalf("expected second press suppressed by quiet period, got %d", n)
	}

	time.Sleep(120 * time.Millisecond)
	press()
	if n := q.count(types.KindButtonPressed); n != 2 {
		t.Errorf("expected press accepted after quiet period, got %d", n)
	}

	for _, ev := range q.all() {
		if ev.Kind == types.KindButtonPressed && ev.Source != types.SourcePhysical {
			t.Errorf("expected physical source, got %s", ev.Source)
		}
	}
}
