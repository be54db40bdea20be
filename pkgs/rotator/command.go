package rotator

// Kind enumerates the commands that can be queued against Service. The
// switch in Service.dispatch has a case for every Kind; its default branch
// logs an error and fails the command, so an unhandled Kind is visible
// rather than silently dropped. The compiler does not check that the switch
// is exhaustive.
type Kind int

const (
	KindPoll Kind = iota
	KindIsOnline
	KindColdStart
	KindGetPos
	KindSetCalAz
	KindSetCalEl
	KindSetAzSpeed
	KindSetElSpeed
	KindCalibrateAz
	KindCalibrateEl
	KindHomeAz
	KindHomeEl
	KindSetPosAz
	KindSetPosEl
	KindNudgeAzFwd
	KindNudgeAzRev
	KindNudgeElFwd
	KindNudgeElRev
)

// ReplySink receives the two-line getPos payload ("<az>\n<el>\n"). It is
// satisfied by *bus.Queue[string] in production and by a plain slice-backed
// stub in tests.
type ReplySink interface {
	PushBack(string)
}

// Command is one entry in the rotator command queue. Only the fields
// relevant to Kind are populated; see the Client method of the same name for
// the wire command each Kind maps to.
type Command struct {
	Kind Kind

	// IntArg carries the calibration pulse count (SetCalAz/SetCalEl) or the
	// motor speed percentage (SetAzSpeed/SetElSpeed).
	IntArg int

	// DegArg carries the target degrees for SetPosAz/SetPosEl.
	DegArg int

	// AzHint/ElHint carry the tracker's expected position for GetPos, echoed
	// back verbatim while the rotator is not online.
	AzHint int
	ElHint int

	// Reply receives the getPos response line pair. Only used by KindGetPos.
	Reply ReplySink

	// Done, if non-nil, is closed once the command has been fully applied to
	// State (after Service processes it), for callers (the operator surface,
	// or tests) that need to wait for completion.
	Done chan error
}

func (k Kind) String() string {
	switch k {
	case KindPoll:
		return "poll"
	case KindIsOnline:
		return "is_online"
	case KindColdStart:
		return "cold_start"
	case KindGetPos:
		return "get_pos"
	case KindSetCalAz:
		return "set_cal_az"
	case KindSetCalEl:
		return "set_cal_el"
	case KindSetAzSpeed:
		return "set_az_speed"
	case KindSetElSpeed:
		return "set_el_speed"
	case KindCalibrateAz:
		return "calibrate_az"
	case KindCalibrateEl:
		return "calibrate_el"
	case KindHomeAz:
		return "home_az"
	case KindHomeEl:
		return "home_el"
	case KindSetPosAz:
		return "set_pos_az"
	case KindSetPosEl:
		return "set_pos_el"
	case KindNudgeAzFwd:
		return "nudge_az_fwd"
	case KindNudgeAzRev:
		return "nudge_az_rev"
	case KindNudgeElFwd:
		return "nudge_el_fwd"
	case KindNudgeElRev:
		return "nudge_el_rev"
	default:
		return "unknown"
	}
}

// done closes c.Done with err, if a waiter registered one. Safe to call at
// most once per command.
func (c *Command) done(err error) {
	if c.Done != nil {
		c.Done <- err
		close(c.Done)
	}
}
