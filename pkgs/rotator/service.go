package rotator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/keskad/satbridge/pkgs/bus"
)

// ErrColdStartFailed is returned (via Command.Done) when any step of cold
// start fails against the controller.
var ErrColdStartFailed = errors.New("rotator: cold start failed")

// ErrHomeFailed is returned when establishing a known reference position via
// home fails, aborting a requested move.
var ErrHomeFailed = errors.New("rotator: home request failed")

// TransitionFunc is invoked by Service whenever Status changes, so the
// Coordinator can surface the new state without polling it.
type TransitionFunc func(Status)

// controller is the subset of Client's behavior Service depends on. It
// exists so tests can dispatch commands against a fake controller instead
// of a real UDP socket; *Client satisfies it directly.
type controller interface {
	Poll() bool
	PresetCalAz(pulses int) bool
	PresetCalEl(pulses int) bool
	SetAzSpeed(percent int) bool
	SetElSpeed(percent int) bool
	CalibrateAz() (int, bool)
	CalibrateEl() (int, bool)
	HomeAz() bool
	HomeEl() bool
	SetPosAz(degrees int) bool
	SetPosEl(degrees int) bool
	NudgeAzFwd() bool
	NudgeAzRev() bool
	NudgeElFwd() bool
	NudgeElRev() bool
}

// Service consumes Command values from a FIFO queue in arrival order,
// dispatches each to Client under the rotator mutex, applies the result to
// State, and invokes onTransition on status changes. It runs single-
// threaded on its command queue; direct method invocation from the operator
// surface is not supported; such requests must flow through Enqueue to keep
// the total ordering guarantee over controller access.
type Service struct {
	client controller

	queue *bus.Queue[*Command]

	mu    sync.Mutex
	state State

	onTransition TransitionFunc

	azSpeedPercent int
	elSpeedPercent int
}

// NewService builds a Service around client. initial is typically the
// result of loading a persisted CalibrationRecord into a fresh State (see
// StateFromCalibration).
func NewService(client controller, queueCapacity int, initial State, azSpeedPercent, elSpeedPercent int, onTransition TransitionFunc) *Service {
	return &Service{
		client:         client,
		queue:          bus.New[*Command](queueCapacity),
		state:          initial,
		onTransition:   onTransition,
		azSpeedPercent: azSpeedPercent,
		elSpeedPercent: elSpeedPercent,
	}
}

// StateFromCalibration seeds a fresh, offline State from a persisted
// CalibrationRecord (or the uncalibrated sentinel if none was found).
func StateFromCalibration(rec CalibrationRecord) State {
	s := NewState()
	s.CalAz = rec.AzPulses
	s.CalEl = rec.ElPulses
	return s
}

// State returns a snapshot of the current RotatorState.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Calibration extracts the current calibration as a record suitable for
// persistence.
func (s *Service) Calibration() CalibrationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CalibrationRecord{AzPulses: s.state.CalAz, ElPulses: s.state.CalEl}
}

// Enqueue appends cmd to the command queue. It returns immediately; use
// cmd.Done (if set) to wait for completion.
func (s *Service) Enqueue(cmd *Command) {
	s.queue.PushBack(cmd)
}

// Run drains the command queue until ctx is canceled.
func (s *Service) Run(ctx context.Context) {
	for {
		cmd, ok := s.queue.WaitPopFront(ctx)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		s.dispatch(cmd)
	}
}

func (s *Service) setStatus(status Status) {
	s.mu.Lock()
	changed := s.state.Status != status
	s.state.Status = status
	s.mu.Unlock()
	if changed && s.onTransition != nil {
		s.onTransition(status)
	}
}

// dispatch is the exhaustive switch over Command.Kind called for by the
// design notes: every branch is handled, and the default branch logs
// instead of silently dropping an unrecognized command.
func (s *Service) dispatch(cmd *Command) {
	switch cmd.Kind {
	case KindPoll:
		s.doPoll(cmd)
	case KindIsOnline:
		s.doIsOnline(cmd)
	case KindColdStart:
		s.coldStart(cmd)
	case KindGetPos:
		s.getPos(cmd)
	case KindSetCalAz:
		s.setCal(cmd, AxisAz)
	case KindSetCalEl:
		s.setCal(cmd, AxisEl)
	case KindSetAzSpeed:
		cmd.done(boolErr(s.client.SetAzSpeed(cmd.IntArg)))
	case KindSetElSpeed:
		cmd.done(boolErr(s.client.SetElSpeed(cmd.IntArg)))
	case KindCalibrateAz:
		s.calibrate(cmd, AxisAz)
	case KindCalibrateEl:
		s.calibrate(cmd, AxisEl)
	case KindHomeAz:
		s.home(cmd, AxisAz)
	case KindHomeEl:
		s.home(cmd, AxisEl)
	case KindSetPosAz:
		s.setPos(cmd, AxisAz)
	case KindSetPosEl:
		s.setPos(cmd, AxisEl)
	case KindNudgeAzFwd:
		cmd.done(boolErr(s.client.NudgeAzFwd()))
	case KindNudgeAzRev:
		cmd.done(boolErr(s.client.NudgeAzRev()))
	case KindNudgeElFwd:
		cmd.done(boolErr(s.client.NudgeElFwd()))
	case KindNudgeElRev:
		cmd.done(boolErr(s.client.NudgeElRev()))
	default:
		logrus.Errorf("rotator.Service: unhandled command kind %v", cmd.Kind)
		cmd.done(fmt.Errorf("rotator: unhandled command kind %v", cmd.Kind))
	}
}

func boolErr(ok bool) error {
	if ok {
		return nil
	}
	return ErrNak
}

func (s *Service) doPoll(cmd *Command) {
	ok := s.client.Poll()
	if ok {
		s.mu.Lock()
		offline := s.state.Status == StatusOffline
		s.mu.Unlock()
		if offline {
			s.setStatus(StatusPending)
		}
		cmd.done(nil)
		return
	}
	cmd.done(ErrNak)
}

func (s *Service) doIsOnline(cmd *Command) {
	ok := s.client.Poll()
	if !ok {
		s.setStatus(StatusOffline)
		cmd.done(ErrNak)
		return
	}
	cmd.done(nil)
}

// coldStart implements the cold-start algorithm from the component design:
// offline is a no-op, speed presets must both succeed, and calibration is
// either run fresh or preset from a saved record.
func (s *Service) coldStart(cmd *Command) {
	s.mu.Lock()
	offline := s.state.Status == StatusOffline
	s.mu.Unlock()
	if offline {
		cmd.done(nil)
		return
	}

	s.setStatus(StatusStartingCal)

	if !s.client.SetAzSpeed(s.azSpeedPercent) || !s.client.SetElSpeed(s.elSpeedPercent) {
		s.setStatus(StatusCalFailed)
		cmd.done(ErrColdStartFailed)
		return
	}

	s.mu.Lock()
	calPresent := s.state.CalAz >= 0 && s.state.CalEl >= 0
	s.mu.Unlock()

	if !calPresent {
		azPulses, ok := s.client.CalibrateAz()
		if !ok {
			s.setStatus(StatusCalFailed)
			cmd.done(ErrColdStartFailed)
			return
		}
		elPulses, ok := s.client.CalibrateEl()
		if !ok {
			s.setStatus(StatusCalFailed)
			cmd.done(ErrColdStartFailed)
			return
		}
		s.mu.Lock()
		s.state.CalAz = azPulses
		s.state.CalEl = elPulses
		s.state.DegAz = 0
		s.state.DegEl = 0
		s.mu.Unlock()
	} else {
		okAz := s.client.PresetCalAz(s.state.CalAz)
		okEl := s.client.PresetCalEl(s.state.CalEl)
		if !okAz || !okEl {
			s.setStatus(StatusCalFailed)
			cmd.done(ErrColdStartFailed)
			return
		}
	}

	s.setStatus(StatusOnline)
	cmd.done(nil)
}

// EvaluateTick implements the periodic state-machine step the Coordinator
// drives: offline polls for presence, pending runs cold start, cal-failed
// is transient and snaps back to offline, online re-checks presence.
// cal-manual and starting-cal take no automatic action; they are exited by
// operator action or by the in-flight command itself.
func (s *Service) EvaluateTick() {
	switch s.State().Status {
	case StatusOffline:
		s.Enqueue(&Command{Kind: KindPoll})
	case StatusPending:
		s.Enqueue(&Command{Kind: KindColdStart})
	case StatusCalFailed:
		s.setStatus(StatusOffline)
	case StatusOnline:
		s.Enqueue(&Command{Kind: KindIsOnline})
	}
}

// ApplyPositionEvent records an unsolicited position report from
// EventReceiver directly into State, without a round trip through the
// controller. It does not change Status: an async report only updates where
// the rotator is known to be, not whether it is online.
func (s *Service) ApplyPositionEvent(ev PositionEvent) {
	s.mu.Lock()
	if ev.Axis == AxisAz {
		s.state.DegAz = ev.Degrees
	} else {
		s.state.DegEl = ev.Degrees
	}
	s.mu.Unlock()
}

// EnterCalManual is invoked by the Coordinator at startup when no persisted
// calibration was found, per the design: this is not an error, it invites
// the operator to calibrate via the (out-of-scope) modal.
func (s *Service) EnterCalManual() {
	s.setStatus(StatusCalManual)
}

func (s *Service) setCal(cmd *Command, axis Axis) {
	var ok bool
	if axis == AxisAz {
		ok = s.client.PresetCalAz(cmd.IntArg)
	} else {
		ok = s.client.PresetCalEl(cmd.IntArg)
	}
	if !ok {
		cmd.done(ErrNak)
		return
	}
	s.mu.Lock()
	if axis == AxisAz {
		s.state.CalAz = cmd.IntArg
	} else {
		s.state.CalEl = cmd.IntArg
	}
	s.mu.Unlock()
	cmd.done(nil)
}

// calibrate runs a blocking end-to-end calibration for one axis. When both
// axes have now been calibrated and the service was waiting on the operator
// (cal-manual), it exits into pending, per the design.
func (s *Service) calibrate(cmd *Command, axis Axis) {
	var pulses int
	var ok bool
	if axis == AxisAz {
		pulses, ok = s.client.CalibrateAz()
	} else {
		pulses, ok = s.client.CalibrateEl()
	}
	if !ok {
		cmd.done(ErrNak)
		return
	}

	s.mu.Lock()
	if axis == AxisAz {
		s.state.CalAz = pulses
		s.state.DegAz = 0
	} else {
		s.state.CalEl = pulses
		s.state.DegEl = 0
	}
	bothCalibrated := s.state.CalAz >= 0 && s.state.CalEl >= 0
	wasCalManual := s.state.Status == StatusCalManual
	s.mu.Unlock()

	if wasCalManual && bothCalibrated {
		s.setStatus(StatusPending)
	}
	cmd.done(nil)
}

func (s *Service) home(cmd *Command, axis Axis) {
	var ok bool
	if axis == AxisAz {
		ok = s.client.HomeAz()
	} else {
		ok = s.client.HomeEl()
	}
	if !ok {
		cmd.done(ErrNak)
		return
	}
	s.mu.Lock()
	if axis == AxisAz {
		s.state.DegAz = 0
	} else {
		s.state.DegEl = 0
	}
	s.mu.Unlock()
	cmd.done(nil)
}

// setPos implements setPosAz/setPosEl: if the current degree position is
// unknown, home first to establish a known reference before moving.
func (s *Service) setPos(cmd *Command, axis Axis) {
	s.mu.Lock()
	unknown := (axis == AxisAz && s.state.DegAz == Unknown) || (axis == AxisEl && s.state.DegEl == Unknown)
	s.mu.Unlock()

	if unknown {
		var homed bool
		if axis == AxisAz {
			homed = s.client.HomeAz()
		} else {
			homed = s.client.HomeEl()
		}
		if !homed {
			cmd.done(ErrHomeFailed)
			return
		}
		s.mu.Lock()
		if axis == AxisAz {
			s.state.DegAz = 0
		} else {
			s.state.DegEl = 0
		}
		s.mu.Unlock()
	}

	var moved bool
	if axis == AxisAz {
		moved = s.client.SetPosAz(cmd.DegArg)
	} else {
		moved = s.client.SetPosEl(cmd.DegArg)
	}
	if !moved {
		cmd.done(ErrNak)
		return
	}

	s.mu.Lock()
	if axis == AxisAz {
		s.state.DegAz = cmd.DegArg
	} else {
		s.state.DegEl = cmd.DegArg
	}
	s.mu.Unlock()
	cmd.done(nil)
}

// getPos replies on cmd.Reply with "<az>\n<el>\n" — the current position
// when online and known, otherwise the hint values the tracker itself
// expected, so its own loop stays stable while the hardware is
// disconnected or uncalibrated.
func (s *Service) getPos(cmd *Command) {
	s.mu.Lock()
	online := s.state.Status == StatusOnline && s.state.DegAz != Unknown && s.state.DegEl != Unknown
	az, el := s.state.DegAz, s.state.DegEl
	s.mu.Unlock()

	azOut, elOut := cmd.AzHint, cmd.ElHint
	if online {
		azOut, elOut = az, el
	}

	if cmd.Reply != nil {
		cmd.Reply.PushBack(fmt.Sprintf("%f\n%f\n", float64(azOut), float64(elOut)))
	}
	cmd.done(nil)
}
