package types

import "time"

// DoorPosition is the physical state of the gate leaves. Only the
// controller goroutine moves it, and only on actuator completion.
type DoorPosition string

const (
	DoorClosed  DoorPosition = "closed"
	DoorOpening DoorPosition = "opening"
	DoorOpen    DoorPosition = "open"
	DoorClosing DoorPosition = "closing"
)

// Sensor identifies one of the two crossing-detection beams.
// A is the entry-side beam, B the exit-side beam; a completed crossing
// is a blocked-then-clear pattern on B.
type Sensor string

const (
	SensorA Sensor = "A"
	SensorB Sensor = "B"
)

// TriggerSource tells where a button-style trigger originated.
type TriggerSource string

const (
	SourcePhysical TriggerSource = "physical"
	SourceWeb      TriggerSource = "web"
	SourceCard     TriggerSource = "card"
)

// TriggerKind tags the TriggerEvent variant.
type TriggerKind string

const (
	KindButtonPressed TriggerKind = "button_pressed"
	KindCardScanned   TriggerKind = "card_scanned"
	KindSensorEdge    TriggerKind = "sensor_edge"
	KindPassCompleted TriggerKind = "pass_completed"
)

// TriggerEvent is a single input to the door controller. Immutable once
// enqueued; consumed exactly once.
type TriggerEvent struct {
	Kind   TriggerKind
	Source TriggerSource // ButtonPressed only
	CardID string        // CardScanned only
	Sensor Sensor        // SensorEdge only
	Blocked bool         // SensorEdge only
	At     time.Time
}

func ButtonPressed(src TriggerSource) TriggerEvent {
	return TriggerEvent{Kind: KindButtonPressed, Source: src, At: time.Now().UTC()}
}

func CardScanned(cardID string) TriggerEvent {
	return TriggerEvent{Kind: KindCardScanned, Source: SourceCard, CardID: cardID, At: time.Now().UTC()}
}

func SensorEdge(s Sensor, blocked bool) TriggerEvent {
	return TriggerEvent{Kind: KindSensorEdge, Sensor: s, Blocked: blocked, At: time.Now().UTC()}
}

func PassCompleted() TriggerEvent {
	return TriggerEvent{Kind: KindPassCompleted, At: time.Now().UTC()}
}

// AccessRecord describes the most recent granted access.
type AccessRecord struct {
	User string    `json:"user"`
	At   time.Time `json:"at"`
}

// Snapshot is a consistent copy of the whole system state. Readers get
// the full record in one piece; there is no field-by-field access.
type Snapshot struct {
	DoorPosition       DoorPosition  `json:"door_position"`
	AccessEnabled      bool          `json:"access_enabled"`
	BoundUser          string        `json:"bound_user,omitempty"`
	CrossingInProgress bool          `json:"crossing_in_progress"`
	AccessCounter      int64         `json:"access_counter"`
	OccupancyCounter   int64         `json:"occupancy_counter"`
	TimeoutCounter     int64         `json:"timeout_counter"`
	SensorABlocked     bool          `json:"sensor_a_blocked"`
	SensorBBlocked     bool          `json:"sensor_b_blocked"`
	ActuatorFault      bool          `json:"actuator_fault"`
	LastAccess         *AccessRecord `json:"last_access,omitempty"`
	Taken              time.Time     `json:"taken"`
}
