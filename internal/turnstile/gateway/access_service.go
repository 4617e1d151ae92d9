// Package gateway adapts external trigger sources — the web dashboard
// and the card reader — into controller inputs. It authenticates cards
// against the configured policy; whether the door actually opens stays
// the controller's decision.
package gateway

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/canmetro/turnstiled/internal/turnstile/telemetry"
	"github.com/canmetro/turnstiled/internal/turnstile/types"
)

var (
	ErrInvalidCardID  = errors.New("card_id is required")
	ErrAccessDisabled = errors.New("access not enabled")
	ErrBusy           = errors.New("door sequence in progress")
)

// Gate is the controller surface the gateway needs.
type Gate interface {
	Submit(ev types.TriggerEvent)
	EnableAccess(user string)
	Snapshot() types.Snapshot
}

// Policy maps cards to identities. AllowAll grants any card and binds a
// synthetic identity from the card ID; otherwise only cards present in
// Cards are granted.
type Policy struct {
	AllowAll bool
	Cards    map[string]string // card ID -> display name
}

// Decision is the outcome of a card scan.
type Decision struct {
	Granted bool   `json:"granted"`
	User    string `json:"user,omitempty"`
	Reason  string `json:"reason"`
}

type AccessService struct {
	policy Policy
	gate   Gate
	sink   telemetry.Sink
	logger *log.Logger
}

func NewAccessService(policy Policy, gate Gate, sink telemetry.Sink, logger *log.Logger) *AccessService {
	return &AccessService{policy: policy, gate: gate, sink: sink, logger: logger}
}

// HandleCardScan authenticates a card. A granted scan binds the card's
// identity and submits the trigger; a denied scan is recorded without
// touching the controller, so a web session's enablement can never be
// hijacked by a rejected card.
func (s *AccessService) HandleCardScan(ctx context.Context, cardID string) (Decision, error) {
	cardID = strings.TrimSpace(cardID)
	if cardID == "" {
		return Decision{}, ErrInvalidCardID
	}

	d := s.decide(cardID)
	if !d.Granted {
		s.logger.Printf("gateway: card %q denied (%s)", cardID, d.Reason)
		// Best effort; a failed audit write must not change the answer
		// the reader gets.
		if err := s.sink.AccessDenied(ctx, telemetry.AccessEvent{
			User:       "card:" + cardID,
			OccurredAt: time.Now().UTC(),
		}); err != nil {
			s.logger.Printf("gateway: telemetry access_denied failed: %v", err)
		}
		return d, nil
	}

	s.gate.EnableAccess(d.User)
	s.gate.Submit(types.CardScanned(cardID))
	return d, nil
}

func (s *AccessService) decide(cardID string) Decision {
	if s.policy.AllowAll {
		return Decision{Granted: true, User: "card:" + cardID, Reason: "allow_all"}
	}
	if name, ok := s.policy.Cards[cardID]; ok {
		return Decision{Granted: true, User: name, Reason: "card_allowed"}
	}
	return Decision{Granted: false, Reason: "card_not_allowed"}
}

// SimulateAccess forwards a logged-in user's manual trigger. Mirrors
// the physical button: rejected while access is disabled or while a
// sequence is already running.
func (s *AccessService) SimulateAccess(user string) error {
	snap := s.gate.Snapshot()
	if !snap.AccessEnabled {
		return ErrAccessDisabled
	}
	if snap.DoorPosition != types.DoorClosed || snap.CrossingInProgress {
		return ErrBusy
	}
	s.logger.Printf("gateway: simulated access by %q", user)
	s.gate.Submit(types.ButtonPressed(types.SourceWeb))
	return nil
}
