// Package rigctld implements the hamlib rigctld TCP dialect and the PTT
// crossover state machine used when a transceiver cannot be polled over CAT
// while transmitting.
package rigctld

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/keskad/satbridge/pkgs/cat"
	"github.com/keskad/satbridge/pkgs/protoserver"
)

// DefaultAddr is the bind address this server listens on by default.
const DefaultAddr = "localhost:4532"

const readTimeout = time.Second

// pttCrossoverThresholdHz is the frequency-jump heuristic for "operator
// moved from the RX sub-band to the TX sub-band" under split-frequency
// satellite operation. Whether this should be configurable per band plan is
// an open question left unresolved upstream; kept as a constant so the
// strict-inequality boundary stays exact.
const pttCrossoverThresholdHz = 100_000

// catResponseTimeout bounds the f/m rendezvous wait for a matching CAT
// reply. A var, not a const, so tests can shrink it instead of waiting out
// the real deadline.
var catResponseTimeout = 5 * time.Second

// catSink is the subset of cat.Service the server depends on.
type catSink interface {
	DoCommand(req cat.Request) error
	Responses() <-chan cat.Response
	ModeForID(raw string) string
	BandwidthForMode(mode string) string
}

// metricsSink is the subset of metrics.Registry the rendezvous logic reports
// to; narrowed to an interface the same way catSink is, so tests can supply a
// fake instead of a real Prometheus registry.
type metricsSink interface {
	ObserveCATResponse(op cat.Op, ok bool)
	ObserveRendezvousTimeout()
}

type noopMetrics struct{}

func (noopMetrics) ObserveCATResponse(cat.Op, bool) {}
func (noopMetrics) ObserveRendezvousTimeout()       {}

// State is the operator-visible PTT/frequency state RigProtocolServer owns.
type State struct {
	PTTIntent  bool
	RigPTT     bool
	LastFreqHz int64
}

// Server is a single-client rigctld listener.
type Server struct {
	Addr    string
	CAT     catSink
	Metrics metricsSink

	mu    sync.Mutex
	state State
}

// New builds a Server bound to addr (DefaultAddr if empty) against cs.
// Metrics defaults to a no-op sink; Coordinator wires a real
// metrics.Registry onto the field once one is constructed.
func New(addr string, cs catSink) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{Addr: addr, CAT: cs, Metrics: noopMetrics{}}
}

// State returns a snapshot of the current RigState.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ManualSetPTT is the operator-surface entry point: setting intent false
// immediately releases PTT on the CAT link regardless of the current
// band.
func (s *Server) ManualSetPTT(intent bool) {
	s.mu.Lock()
	s.state.PTTIntent = intent
	if !intent {
		s.state.RigPTT = false
	}
	s.mu.Unlock()
	if !intent {
		s.CAT.DoCommand(cat.Request{Op: cat.OpPTTSet, Arg: false})
	}
}

// Run binds the listener (with retry) and accepts sessions until ctx is
// canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := protoserver.Bind(s.Addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if tl, ok := ln.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now().Add(protoserver.AcceptTimeout))
		}
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			logrus.Errorf("rigctld: accept failed: %s", err)
			continue
		}
		sess := protoserver.NewSession(conn)
		logrus.Debugf("rigctld: session %s connected from %s", sess.ID, conn.RemoteAddr())
		s.handleSession(ctx, sess)
	}
}

func (s *Server) handleSession(ctx context.Context, sess *protoserver.Session) {
	defer sess.Close()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := sess.DrainToConn(); err != nil {
			logrus.Debugf("rigctld: session %s write failed, disconnecting: %s", sess.ID, err)
			return
		}

		sess.Conn.SetReadDeadline(time.Now().Add(readTimeout))
		buf := make([]byte, 256)
		n, err := sess.Conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			// Peer disconnect: ptt_intent/rig_ptt are left unchanged — the
			// operator owns PTT, not the link.
			logrus.Debugf("rigctld: session %s disconnected: %s", sess.ID, err)
			return
		}

		for _, line := range sess.Feed(buf[:n]) {
			if quit := s.handleLine(ctx, sess, line); quit {
				sess.DrainToConn()
				return
			}
		}
	}
}

func (s *Server) handleLine(ctx context.Context, sess *protoserver.Session, line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "F":
		if len(fields) < 2 {
			logrus.Warnf("rigctld: malformed F command %q", line)
			sess.SendQueue.PushBack("RPRT 0\n")
			return false
		}
		s.setFrequency(fields[1])
		sess.SendQueue.PushBack("RPRT 0\n")

	case "f":
		if err := s.CAT.DoCommand(cat.Request{Op: cat.OpFreqGet}); err != nil {
			logrus.Errorf("rigctld: freq get enqueue failed: %s", err)
			return false
		}
		resp, ok := s.awaitResponse(ctx, cat.OpFreqGet)
		if !ok {
			logrus.Warnf("rigctld: timed out waiting for a frequency reply")
			return false
		}
		sess.SendQueue.PushBack(fmt.Sprintf("%s\n", resp.Data))

	case "M":
		if len(fields) < 2 {
			logrus.Warnf("rigctld: malformed M command %q", line)
			sess.SendQueue.PushBack("RPRT 0\n")
			return false
		}
		// Passband (fields[2], if present) is ignored: usually set by the
		// radio itself.
		s.CAT.DoCommand(cat.Request{Op: cat.OpModeSet, Arg: fields[1]})
		sess.SendQueue.PushBack("RPRT 0\n")

	case "m":
		if err := s.CAT.DoCommand(cat.Request{Op: cat.OpModeGet}); err != nil {
			logrus.Errorf("rigctld: mode get enqueue failed: %s", err)
			return false
		}
		resp, ok := s.awaitResponse(ctx, cat.OpModeGet)
		if !ok {
			logrus.Warnf("rigctld: timed out waiting for a mode reply")
			return false
		}
		mode := s.CAT.ModeForID(resp.Data)
		bandwidth := s.CAT.BandwidthForMode(mode)
		sess.SendQueue.PushBack(fmt.Sprintf("%s %s\n", mode, bandwidth))

	case "t":
		// The transceiver may refuse CAT while transmitting, so operator
		// intent is reported here rather than the rig's actual state.
		s.mu.Lock()
		intent := s.state.PTTIntent
		s.mu.Unlock()
		if intent {
			sess.SendQueue.PushBack("1\n")
		} else {
			sess.SendQueue.PushBack("0\n")
		}

	case "q":
		sess.SendQueue.PushBack("RPRT 0\n")
		return true

	default:
		logrus.Warnf("rigctld: unknown command %q", line)
		sess.SendQueue.PushBack("RPRT 0\n")
	}
	return false
}

// setFrequency implements the F handler's CAT dispatch and PTT crossover
// check, strict inequality on the threshold.
func (s *Server) setFrequency(hzStr string) {
	hz, err := strconv.ParseInt(hzStr, 10, 64)
	if err != nil {
		logrus.Warnf("rigctld: malformed frequency %q", hzStr)
		return
	}
	s.CAT.DoCommand(cat.Request{Op: cat.OpFreqSet, Arg: hzStr})

	s.mu.Lock()
	intent := s.state.PTTIntent
	last := s.state.LastFreqHz
	gap := hz - last
	if gap < 0 {
		gap = -gap
	}
	crossing := intent && gap > pttCrossoverThresholdHz
	if crossing {
		s.state.RigPTT = true
	}
	s.state.LastFreqHz = hz
	s.mu.Unlock()

	if crossing {
		s.CAT.DoCommand(cat.Request{Op: cat.OpPTTSet, Arg: true})
	}
}

// awaitResponse implements the CAT response rendezvous: discard
// non-matching head-of-queue replies (logged) until op matches or the
// timeout elapses.
func (s *Server) awaitResponse(ctx context.Context, op cat.Op) (cat.Response, bool) {
	deadline := time.NewTimer(catResponseTimeout)
	defer deadline.Stop()
	for {
		select {
		case resp := <-s.CAT.Responses():
			s.Metrics.ObserveCATResponse(resp.Op, resp.OK)
			if resp.Op == op {
				return resp, resp.OK
			}
			logrus.Warnf("rigctld: expected CAT response to %s, got %s, trying again", op, resp.Op)
		case <-deadline.C:
			s.Metrics.ObserveRendezvousTimeout()
			return cat.Response{}, false
		case <-ctx.Done():
			return cat.Response{}, false
		}
	}
}
