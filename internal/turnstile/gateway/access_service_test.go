package gateway_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/canmetro/turnstiled/internal/turnstile/gateway"
	"github.com/canmetro/turnstiled/internal/turnstile/telemetry/memory"
	"github.com/canmetro/turnstiled/internal/turnstile/types"
)

// fakeGate records what the gateway asked the controller to do.
type fakeGate struct {
	snapshot  types.Snapshot
	submitted []types.TriggerEvent
	enabled   []string
}

func (g *fakeGate) Submit(ev types.TriggerEvent) { g.submitted = append(g.submitted, ev) }
func (g *fakeGate) EnableAccess(user string)     { g.enabled = append(g.enabled, user) }
func (g *fakeGate) Snapshot() types.Snapshot     { return g.snapshot }

func newService(policy gateway.Policy, gate *fakeGate) (*gateway.AccessService, *memory.Sink) {
	sink := memory.New()
	svc := gateway.NewAccessService(policy, gate, sink, log.New(io.Discard, "", 0))
	return svc, sink
}

func TestHandleCardScan_AllowedCard_EnablesAndSubmits(t *testing.T) {
	gate := &fakeGate{}
	svc, _ := newService(gateway.Policy{Cards: map[string]string{"AABBCCDD": "Ana"}}, gate)

	d, err := svc.HandleCardScan(context.Background(), "AABBCCDD")
	if err != nil {
		t.Fatalf("HandleCardScan: %v", err)
	}
	if !d.Granted {
		t.Error("expected granted=true")
	}
	if d.Reason != "card_allowed" {
		t.Errorf("expected reason=card_allowed, got %q", d.Reason)
	}
	if len(gate.enabled) != 1 || gate.enabled[0] != "Ana" {
		t.Errorf("expected access enabled for Ana, got %v", gate.enabled)
	}
	if len(gate.submitted) != 1 || gate.submitted[0].Kind != types.KindCardScanned {
		t.Errorf("expected one card-scanned trigger, got %v", gate.submitted)
	}
}

func TestHandleCardScan_UnknownCard_NoTriggerSubmitted(t *testing.T) {
	gate := &fakeGate{}
	svc, sink := newService(gateway.Policy{Cards: map[string]string{"AABBCCDD": "Ana"}}, gate)

	d, err := svc.HandleCardScan(context.Background(), "DEADBEEF")
	if err != nil {
		t.Fatalf("HandleCardScan: %v", err)
	}
	if d.Granted {
		t.Error("expected granted=false")
	}
	if d.Reason != "card_not_allowed" {
		t.Errorf("expected reason=card_not_allowed, got %q", d.Reason)
	}
	if len(gate.submitted) != 0 || len(gate.enabled) != 0 {
		t.Error("denied scan must not reach the controller")
	}

	events := sink.Accesses()
	if len(events) != 1 || events[0].Granted {
		t.Fatalf("expected one denied telemetry event, got %v", events)
	}
	if events[0].User != "card:DEADBEEF" {
		t.Errorf("expected card identity in denied event, got %q", events[0].User)
	}
}

func TestHandleCardScan_AllowAll(t *testing.T) {
	gate := &fakeGate{}
	svc, _ := newService(gateway.Policy{AllowAll: true}, gate)

	d, err := svc.HandleCardScan(context.Background(), "0042")
	if err != nil {
		t.Fatalf("HandleCardScan: %v", err)
	}
	if !d.Granted || d.Reason != "allow_all" {
		t.Errorf("expected allow_all grant, got %+v", d)
	}
}

func TestHandleCardScan_EmptyCardID(t *testing.T) {
	svc, _ := newService(gateway.Policy{AllowAll: true}, &fakeGate{})

	_, err := svc.HandleCardScan(context.Background(), "   ")
	if !errors.Is(err, gateway.ErrInvalidCardID) {
		t.Fatalf("expected ErrInvalidCardID, got %v", err)
	}
}

func TestSimulateAccess_RequiresEnabledAccess(t *testing.T) {
	gate := &fakeGate{snapshot: types.Snapshot{DoorPosition: types.DoorClosed}}
	svc, _ := newService(gateway.Policy{}, gate)

	if err := svc.SimulateAccess("ana"); !errors.Is(err, gateway.ErrAccessDisabled) {
		t.Fatalf("expected ErrAccessDisabled, got %v", err)
	}
	if len(gate.submitted) != 0 {
		t.Error("no trigger should be submitted when access is disabled")
	}
}

func TestSimulateAccess_BusyWhileSequenceRuns(t *testing.T) {
	gate := &fakeGate{snapshot: types.Snapshot{
		DoorPosition:       types.DoorOpen,
		AccessEnabled:      true,
		CrossingInProgress: true,
	}}
	svc, _ := newService(gateway.Policy{}, gate)

	if err := svc.SimulateAccess("ana"); !errors.Is(err, gateway.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestSimulateAccess_SubmitsWebButton(t *testing.T) {
	gate := &fakeGate{snapshot: types.Snapshot{
		DoorPosition:  types.DoorClosed,
		AccessEnabled: true,
		BoundUser:     "Ana",
	}}
	svc, _ := newService(gateway.Policy{}, gate)

	if err := svc.SimulateAccess("ana"); err != nil {
		t.Fatalf("SimulateAccess: %v", err)
	}
	if len(gate.submitted) != 1 {
		t.Fatalf("expected one trigger, got %d", len(gate.submitted))
	}
	ev := gate.submitted[0]
	if ev.Kind != types.KindButtonPressed || ev.Source != types.SourceWeb {
		t.Errorf("expected web button press, got %+v", ev)
	}
}
