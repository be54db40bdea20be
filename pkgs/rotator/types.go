// Package rotator implements the UDP command/response client to the azimuth/
// elevation rotator controller (Client), the asynchronous position-event
// listener (EventReceiver), and the serialized command dispatcher
// (Service) that owns calibration state and online/offline status.
//
// The wire dialect, timeouts and state machine follow the rotator
// sub-system of the hamlib bridge this package implements.
package rotator

import "fmt"

// Status is the RotatorService state machine's current state.
type Status int

const (
	StatusOffline Status = iota
	StatusPending
	StatusStartingCal
	StatusCalFailed
	StatusCalManual
	StatusOnline
)

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusPending:
		return "pending"
	case StatusStartingCal:
		return "starting-cal"
	case StatusCalFailed:
		return "cal-failed"
	case StatusCalManual:
		return "cal-manual"
	case StatusOnline:
		return "online"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Unknown is the sentinel used for calibration pulse counts and last-known
// degree positions before they are established.
const Unknown = -1

// State is RotatorState: the status/calibration/position data owned by
// Service. Invariant: Status == StatusOnline implies CalAz >= 0 && CalEl >= 0.
// Invariant: once known, DegAz is in [0,360) and DegEl is in [0,90].
type State struct {
	Status Status
	CalAz  int
	CalEl  int
	DegAz  int
	DegEl  int
}

// NewState returns the zero/uncalibrated/unknown starting state.
func NewState() State {
	return State{
		Status: StatusOffline,
		CalAz:  Unknown,
		CalEl:  Unknown,
		DegAz:  Unknown,
		DegEl:  Unknown,
	}
}

// Axis identifies an azimuth or elevation motor.
type Axis int

const (
	AxisAz Axis = iota
	AxisEl
)

func (a Axis) String() string {
	if a == AxisEl {
		return "el"
	}
	return "az"
}

// PositionEvent is an unsolicited position report from the controller, as
// decoded by EventReceiver from an "<axis>:<int>" UDP datagram.
type PositionEvent struct {
	Axis    Axis
	Degrees int
}

// CalibrationRecord is the persisted {az_pulses, el_pulses} pair, loaded at
// startup if present and saved at clean shutdown when both values are
// non-sentinel.
type CalibrationRecord struct {
	AzPulses int `yaml:"az_pulses"`
	ElPulses int `yaml:"el_pulses"`
}

// Valid reports whether both pulse counts have been measured.
func (c CalibrationRecord) Valid() bool {
	return c.AzPulses >= 0 && c.ElPulses >= 0
}
