package rotator

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeWire is an in-memory controller stub for driving Service without a
// real UDP socket. Each field controls the canned outcome of the
// corresponding wire operation, and calls records every invocation in order
// for assertions like "no calaz/calel on the wire".
type fakeWire struct {
	mu    sync.Mutex
	calls []string

	pollOK     bool
	speedOK    bool
	presetOK   bool
	homeOK     bool
	moveOK     bool
	calAzPulse int
	calElPulse int
	calOK      bool
}

func (f *fakeWire) record(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeWire) Poll() bool                { f.record("poll"); return f.pollOK }
func (f *fakeWire) PresetCalAz(int) bool      { f.record("preset_az"); return f.presetOK }
func (f *fakeWire) PresetCalEl(int) bool      { f.record("preset_el"); return f.presetOK }
func (f *fakeWire) SetAzSpeed(int) bool       { f.record("speed_az"); return f.speedOK }
func (f *fakeWire) SetElSpeed(int) bool       { f.record("speed_el"); return f.speedOK }
func (f *fakeWire) CalibrateAz() (int, bool)  { f.record("calaz"); return f.calAzPulse, f.calOK }
func (f *fakeWire) CalibrateEl() (int, bool)  { f.record("calel"); return f.calElPulse, f.calOK }
func (f *fakeWire) HomeAz() bool              { f.record("homeaz"); return f.homeOK }
func (f *fakeWire) HomeEl() bool              { f.record("homeel"); return f.homeOK }
func (f *fakeWire) SetPosAz(int) bool         { f.record("setposaz"); return f.moveOK }
func (f *fakeWire) SetPosEl(int) bool         { f.record("setposel"); return f.moveOK }
func (f *fakeWire) NudgeAzFwd() bool          { f.record("ngazfwd"); return true }
func (f *fakeWire) NudgeAzRev() bool          { f.record("ngazrev"); return true }
func (f *fakeWire) NudgeElFwd() bool          { f.record("ngelfwd"); return true }
func (f *fakeWire) NudgeElRev() bool          { f.record("ngelrev"); return true }

func (f *fakeWire) hasCall(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == name {
			return true
		}
	}
	return false
}

type replyRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *replyRecorder) PushBack(s string) {
	r.mu.Lock()
	r.lines = append(r.lines, s)
	r.mu.Unlock()
}

func (r *replyRecorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lines) == 0 {
		return ""
	}
	return r.lines[len(r.lines)-1]
}

func runCmd(s *Service, cmd *Command) error {
	cmd.Done = make(chan error, 1)
	s.dispatch(cmd)
	return <-cmd.Done
}

// Scenario 1: cold connect with saved calibration — no calaz/calel on the
// wire, offline -> pending -> online.
func TestColdStart_WithSavedCalibration(t *testing.T) {
	wire := &fakeWire{pollOK: true, speedOK: true, presetOK: true}
	initial := State{Status: StatusOffline, CalAz: 12345, CalEl: 6789, DegAz: Unknown, DegEl: Unknown}

	var transitions []Status
	svc := NewService(wire, 16, initial, 30, 20, func(st Status) { transitions = append(transitions, st) })

	if err := runCmd(svc, &Command{Kind: KindPoll}); err != nil {
		t.Fatalf("poll failed: %s", err)
	}
	if svc.State().Status != StatusPending {
		t.Fatalf("expected pending after successful poll, got %v", svc.State().Status)
	}

	if err := runCmd(svc, &Command{Kind: KindColdStart}); err != nil {
		t.Fatalf("cold start failed: %s", err)
	}
	if svc.State().Status != StatusOnline {
		t.Fatalf("expected online after cold start, got %v", svc.State().Status)
	}
	if wire.hasCall("calaz") || wire.hasCall("calel") {
		t.Fatal("cold start with saved calibration must not calibrate on the wire")
	}
	if !wire.hasCall("preset_az") || !wire.hasCall("preset_el") {
		t.Fatal("cold start with saved calibration must preset both axes")
	}
}

// Scenario 2: cold connect without saved calibration — operator-triggered
// calibration on both axes exits cal-manual into pending, and the resulting
// position is zeroed.
func TestColdStart_NoSavedCalibration_EntersCalManual(t *testing.T) {
	wire := &fakeWire{pollOK: true, speedOK: true, presetOK: true, calOK: true, calAzPulse: 12000, calElPulse: 6500}
	initial := NewState()
	initial.Status = StatusPending

	svc := NewService(wire, 16, initial, 30, 20, nil)
	svc.EnterCalManual()
	if svc.State().Status != StatusCalManual {
		t.Fatalf("expected cal-manual, got %v", svc.State().Status)
	}

	if err := runCmd(svc, &Command{Kind: KindCalibrateAz}); err != nil {
		t.Fatalf("calibrate az failed: %s", err)
	}
	if svc.State().Status != StatusCalManual {
		t.Fatalf("expected to remain in cal-manual after only one axis calibrated, got %v", svc.State().Status)
	}

	if err := runCmd(svc, &Command{Kind: KindCalibrateEl}); err != nil {
		t.Fatalf("calibrate el failed: %s", err)
	}
	if svc.State().Status != StatusPending {
		t.Fatalf("expected pending once both axes are calibrated, got %v", svc.State().Status)
	}

	st := svc.State()
	if st.CalAz != 12000 || st.CalEl != 6500 {
		t.Fatalf("expected measured pulse counts recorded, got %+v", st)
	}
	if st.DegAz != 0 || st.DegEl != 0 {
		t.Fatalf("expected position zeroed after calibration, got az=%d el=%d", st.DegAz, st.DegEl)
	}

	reply := &replyRecorder{}
	if err := runCmd(svc, &Command{Kind: KindColdStart}); err != nil {
		t.Fatalf("cold start failed: %s", err)
	}
	if err := runCmd(svc, &Command{Kind: KindGetPos, Reply: reply}); err != nil {
		t.Fatalf("get pos failed: %s", err)
	}
	if got := reply.last(); got != "0.000000\n0.000000\n" {
		t.Fatalf("expected zeroed position payload, got %q", got)
	}
}

func TestColdStart_SpeedFailureTransitionsToCalFailed(t *testing.T) {
	wire := &fakeWire{speedOK: false}
	initial := State{Status: StatusPending, CalAz: 1, CalEl: 1, DegAz: Unknown, DegEl: Unknown}
	svc := NewService(wire, 16, initial, 30, 20, nil)

	if err := runCmd(svc, &Command{Kind: KindColdStart}); err == nil {
		t.Fatal("expected cold start to fail")
	}
	if svc.State().Status != StatusCalFailed {
		t.Fatalf("expected cal-failed, got %v", svc.State().Status)
	}

	// cal-failed is transient: the next tick returns to offline without a
	// wire command.
	svc.EvaluateTick()
	if svc.State().Status != StatusOffline {
		t.Fatalf("expected offline after tick from cal-failed, got %v", svc.State().Status)
	}
}

func TestIsOnlinePollFailure_TransitionsOffline(t *testing.T) {
	wire := &fakeWire{pollOK: false}
	initial := State{Status: StatusOnline, CalAz: 1, CalEl: 1, DegAz: 10, DegEl: 20}
	svc := NewService(wire, 16, initial, 30, 20, nil)

	if err := runCmd(svc, &Command{Kind: KindIsOnline}); err == nil {
		t.Fatal("expected failed poll to report an error")
	}
	if svc.State().Status != StatusOffline {
		t.Fatalf("expected offline after failed is_online poll, got %v", svc.State().Status)
	}
}

func TestSetPosAz_HomesFirstWhenPositionUnknown(t *testing.T) {
	wire := &fakeWire{homeOK: true, moveOK: true}
	initial := State{Status: StatusOnline, CalAz: 1, CalEl: 1, DegAz: Unknown, DegEl: Unknown}
	svc := NewService(wire, 16, initial, 30, 20, nil)

	if err := runCmd(svc, &Command{Kind: KindSetPosAz, DegArg: 123}); err != nil {
		t.Fatalf("set pos az failed: %s", err)
	}
	if !wire.hasCall("homeaz") {
		t.Fatal("expected a home request before the first move when position is unknown")
	}
	if svc.State().DegAz != 123 {
		t.Fatalf("expected DegAz=123, got %d", svc.State().DegAz)
	}
}

func TestSetPosAz_SkipsHomeWhenPositionKnown(t *testing.T) {
	wire := &fakeWire{homeOK: true, moveOK: true}
	initial := State{Status: StatusOnline, CalAz: 1, CalEl: 1, DegAz: 10, DegEl: 10}
	svc := NewService(wire, 16, initial, 30, 20, nil)

	if err := runCmd(svc, &Command{Kind: KindSetPosAz, DegArg: 123}); err != nil {
		t.Fatalf("set pos az failed: %s", err)
	}
	if wire.hasCall("homeaz") {
		t.Fatal("expected no home request when position is already known")
	}
}

func TestGetPos_EchoesHintsWhenOffline(t *testing.T) {
	wire := &fakeWire{}
	initial := NewState()
	svc := NewService(wire, 16, initial, 30, 20, nil)

	reply := &replyRecorder{}
	cmd := &Command{Kind: KindGetPos, AzHint: 90, ElHint: 45, Reply: reply}
	if err := runCmd(svc, cmd); err != nil {
		t.Fatalf("get pos failed: %s", err)
	}
	if got := reply.last(); got != "90.000000\n45.000000\n" {
		t.Fatalf("expected echoed hints, got %q", got)
	}
}

// Idempotence: calibrate_az followed by set_cal_az(prev_value) is
// observationally equivalent to calibrate_az alone.
func TestCalibrateThenPresetSameValue_IsIdempotent(t *testing.T) {
	wire := &fakeWire{calOK: true, calAzPulse: 12000, presetOK: true}
	initial := NewState()
	svc := NewService(wire, 16, initial, 30, 20, nil)

	if err := runCmd(svc, &Command{Kind: KindCalibrateAz}); err != nil {
		t.Fatalf("calibrate failed: %s", err)
	}
	after1 := svc.State()

	if err := runCmd(svc, &Command{Kind: KindSetCalAz, IntArg: after1.CalAz}); err != nil {
		t.Fatalf("preset failed: %s", err)
	}
	after2 := svc.State()

	if after1 != after2 {
		t.Fatalf("expected equivalent state, got %+v vs %+v", after1, after2)
	}
}

func TestApplyPositionEvent_UpdatesOnlyTheReportedAxis(t *testing.T) {
	wire := &fakeWire{}
	initial := State{Status: StatusOnline, CalAz: 1, CalEl: 1, DegAz: 10, DegEl: 20}
	svc := NewService(wire, 16, initial, 30, 20, nil)

	svc.ApplyPositionEvent(PositionEvent{Axis: AxisAz, Degrees: 77})

	st := svc.State()
	if st.DegAz != 77 {
		t.Fatalf("expected DegAz updated to 77, got %d", st.DegAz)
	}
	if st.DegEl != 20 {
		t.Fatalf("expected DegEl untouched, got %d", st.DegEl)
	}
	if st.Status != StatusOnline {
		t.Fatalf("expected status unchanged by a position event, got %v", st.Status)
	}
}

func TestRun_ProcessesQueuedCommandsInOrder(t *testing.T) {
	wire := &fakeWire{pollOK: true}
	svc := NewService(wire, 16, NewState(), 30, 20, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	c1 := &Command{Kind: KindPoll, Done: make(chan error, 1)}
	svc.Enqueue(c1)
	select {
	case <-c1.Done:
	case <-time.After(time.Second):
		t.Fatal("command was not processed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after cancellation")
	}
}
