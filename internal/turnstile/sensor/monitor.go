// Package sensor polls the trigger button and the two crossing beams
// and turns level changes into edge events for the door controller.
// Debounce lives here, in one place: a minimum dwell time per beam and
// a quiet period after each button press.
package sensor

import (
	"context"
	"log"
	"time"

	"github.com/canmetro/turnstiled/internal/turnstile/types"
)

// Input reads the raw hardware levels. Implementations exist for
// Raspberry Pi GPIO and for tests; the monitor never touches pins
// directly so it runs unchanged on a desktop machine.
type Input interface {
	ButtonPressed() bool
	SensorBlocked(s types.Sensor) bool
}

// Submitter accepts trigger events; satisfied by the door controller.
type Submitter interface {
	Submit(ev types.TriggerEvent)
}

// Config tunes the poll cadence and debounce windows. Zero values fall
// back to defaults.
type Config struct {
	PollInterval time.Duration // default 100ms
	SensorDwell  time.Duration // minimum time between accepted edges from one beam; default 300ms
	ButtonQuiet  time.Duration // suppression window after an emitted press; default 500ms
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.SensorDwell <= 0 {
		c.SensorDwell = 300 * time.Millisecond
	}
	if c.ButtonQuiet <= 0 {
		c.ButtonQuiet = 500 * time.Millisecond
	}
	return c
}

// Monitor is the polling loop. It keeps no state beyond the previous
// samples needed for edge detection.
type Monitor struct {
	cfg    Config
	in     Input
	out    Submitter
	logger *log.Logger
	done   chan struct{}
}

func NewMonitor(cfg Config, in Input, out Submitter, logger *log.Logger) *Monitor {
	return &Monitor{
		cfg:    cfg.withDefaults(),
		in:     in,
		out:    out,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Run polls until ctx is cancelled, finishing the sample in progress.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.done)
	m.logger.Printf("sensor: monitor started (poll=%s, dwell=%s)", m.cfg.PollInterval, m.cfg.SensorDwell)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	var (
		prevButton bool
		quietUntil time.Time

		beams = map[types.Sensor]*beamState{
			types.SensorA: {},
			types.SensorB: {},
		}
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Printf("sensor: monitor stopped")
			return
		case now := <-ticker.C:
			pressed := m.in.ButtonPressed()
			if pressed && !prevButton && now.After(quietUntil) {
				m.out.Submit(types.ButtonPressed(types.SourcePhysical))
				quietUntil = now.Add(m.cfg.ButtonQuiet)
			}
			prevButton = pressed

			for _, s := range []types.Sensor{types.SensorA, types.SensorB} {
				m.sampleBeam(beams[s], s, now)
			}
		}
	}
}

// Done is closed once the Run loop has exited.
func (m *Monitor) Done() <-chan struct{} { return m.done }

type beamState struct {
	blocked  bool
	lastEdge time.Time
}

// sampleBeam emits an edge only on a level change, and only when the
// previous accepted edge is at least a dwell period old. A flip inside
// the dwell window is contact chatter and is left for a later sample,
// so a real sustained change still gets through.
func (m *Monitor) sampleBeam(b *beamState, s types.Sensor, now time.Time) {
	cur := m.in.SensorBlocked(s)
	if cur == b.blocked {
		return
	}
	if now.Sub(b.lastEdge) < m.cfg.SensorDwell {
		return
	}
	b.blocked = cur
	b.lastEdge = now
	m.out.Submit(types.SensorEdge(s, cur))
}
