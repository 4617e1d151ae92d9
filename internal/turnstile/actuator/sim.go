package actuator

import (
	"context"
	"log"
	"sync"
	"time"
)

// Sim is the no-hardware backend. It logs transitions and sleeps the
// configured travel/settle times so the control flow behaves like the
// real gate. Tests run it with zero durations.
type Sim struct {
	Travel time.Duration
	Settle time.Duration
	Logger *log.Logger

	mu    sync.Mutex
	open  bool
	line1 string
	line2 string
}

func NewSim(travel, settle time.Duration, logger *log.Logger) *Sim {
	return &Sim{Travel: travel, Settle: settle, Logger: logger}
}

func (s *Sim) Open(_ context.Context, user string) error {
	_ = s.Display("ACCESS OK", user)
	time.Sleep(s.Travel)
	s.mu.Lock()
	s.open = true
	s.mu.Unlock()
	s.logf("sim: door open for %q", user)
	time.Sleep(s.Settle)
	return nil
}

func (s *Sim) Close(_ context.Context) error {
	_ = s.Display("Closing...", "")
	time.Sleep(s.Travel)
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	s.logf("sim: door closed")
	time.Sleep(s.Settle)
	return nil
}

func (s *Sim) Display(line1, line2 string) error {
	s.mu.Lock()
	s.line1, s.line2 = line1, line2
	s.mu.Unlock()
	s.logf("sim: lcd %q / %q", line1, line2)
	return nil
}

func (s *Sim) Shutdown() {
	s.mu.Lock()
	s.open = false
	s.line1, s.line2 = "", ""
	s.mu.Unlock()
	s.logf("sim: shutdown, door forced closed")
}

// IsOpen reports the simulated leaf position.
func (s *Sim) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// LastDisplay returns the two lines currently shown.
func (s *Sim) LastDisplay() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.line1, s.line2
}

func (s *Sim) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}
