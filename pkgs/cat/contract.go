// Package cat defines the contract between the rig protocol server and a
// transceiver's CAT (Computer Aided Transceiver) link. The contract is
// intentionally narrow: callers enqueue an operation and read matching
// replies off a channel, the way the rotator command queue decouples
// RotProtocolServer from the motor controller.
package cat

import (
	"context"
	"fmt"
)

// Op identifies one CAT operation.
type Op int

const (
	OpLock Op = iota
	OpPTTSet
	OpPTTGet
	OpFreqSet
	OpFreqGet
	OpModeSet
	OpModeGet
	OpTXStatus
)

func (o Op) String() string {
	switch o {
	case OpLock:
		return "lock"
	case OpPTTSet:
		return "ptt_set"
	case OpPTTGet:
		return "ptt_get"
	case OpFreqSet:
		return "freq_set"
	case OpFreqGet:
		return "freq_get"
	case OpModeSet:
		return "mode_set"
	case OpModeGet:
		return "mode_get"
	case OpTXStatus:
		return "tx_status"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Request is one queued CAT command. Arg is command-specific: a bool for
// OpPTTSet, a string Hz value for OpFreqSet, a canonical mode name for
// OpModeSet, unused otherwise.
type Request struct {
	Op  Op
	Arg any
}

// Response is one reply off the CAT response queue: (ok, which op it
// answers, payload). RigProtocolServer's rendezvous logic skips responses
// whose Op doesn't match what it is waiting for.
type Response struct {
	OK   bool
	Op   Op
	Data string
}

// Service is the contract a CAT backend must satisfy. DoCommand is
// fire-and-forget; the result, if any, arrives later on Responses().
type Service interface {
	// DoCommand enqueues a CAT operation for the worker goroutine. It does
	// not block on a reply.
	DoCommand(req Request) error

	// Responses returns the channel CAT replies are published on.
	Responses() <-chan Response

	// ModeForID translates a transceiver-native mode code into one of the
	// canonical mode names (lsb, usb, cw, cwr, am, fm, dig, pkt, rtty,
	// rttyr, wfm, dv).
	ModeForID(raw string) string

	// BandwidthForMode returns the passband, in Hz as a string, associated
	// with a canonical mode name.
	BandwidthForMode(mode string) string

	// Run opens the underlying transport and starts the CAT worker. It
	// blocks until ctx is canceled or an unrecoverable error occurs.
	Run(ctx context.Context) error
}

// CanonicalModes lists the mode names ModeForID may return.
var CanonicalModes = []string{"lsb", "usb", "cw", "cwr", "am", "fm", "dig", "pkt", "rtty", "rttyr", "wfm", "dv"}
