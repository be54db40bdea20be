// Package rotctld implements the hamlib rotctld TCP dialect: a single
// tracking-application client drives the rotator via `p`/`P`/`S`/`q`.
package rotctld

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/keskad/satbridge/pkgs/protoserver"
	"github.com/keskad/satbridge/pkgs/rotator"
)

// DefaultAddr is the bind address this server listens on by default.
const DefaultAddr = "localhost:4533"

// readTimeout bounds each per-session read so the session loop observes
// context cancellation and drains the send queue regularly.
const readTimeout = time.Second

// commandSink is the subset of rotator.Service the server depends on,
// carved out for the same reason rotator.controller exists: tests drive it
// against a fake instead of a running Service.
type commandSink interface {
	Enqueue(cmd *rotator.Command)
}

// Server is a single-client rotctld listener. It owns no rotator state
// itself; every command is translated into a rotator.Command and handed to
// the command queue.
type Server struct {
	Addr     string
	Rotator  commandSink
	listener net.Listener
}

// New builds a Server bound to addr (DefaultAddr if empty) against rot.
func New(addr string, rot commandSink) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{Addr: addr, Rotator: rot}
}

// Run binds the listener (with retry) and accepts sessions until ctx is
// canceled. It returns after the listener is closed.
func (s *Server) Run(ctx context.Context) error {
	ln, err := protoserver.Bind(s.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
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
			logrus.Errorf("rotctld: accept failed: %s", err)
			continue
		}
		sess := protoserver.NewSession(conn)
		logrus.Debugf("rotctld: session %s connected from %s", sess.ID, conn.RemoteAddr())
		s.handleSession(ctx, sess)
	}
}

// session tracks the az/el hints the tracker last sent via P, echoed back
// by a get-position request while the rotator is not online.
type session struct {
	*protoserver.Session
	azHint, elHint int
}

func (s *Server) handleSession(ctx context.Context, base *protoserver.Session) {
	sess := &session{Session: base}
	defer sess.Close()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := sess.DrainToConn(); err != nil {
			logrus.Debugf("rotctld: session %s write failed, disconnecting: %s", sess.ID, err)
			return
		}

		sess.Conn.SetReadDeadline(time.Now().Add(readTimeout))
		buf := make([]byte, 256)
		n, err := sess.Conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			logrus.Debugf("rotctld: session %s disconnected: %s", sess.ID, err)
			return
		}

		for _, line := range sess.Feed(buf[:n]) {
			if quit := s.handleLine(sess, line); quit {
				sess.DrainToConn()
				return
			}
		}
	}
}

// handleLine processes one command line, returning true if the session
// should be torn down afterward (the `q` command).
func (s *Server) handleLine(sess *session, line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "p":
		s.Rotator.Enqueue(&rotator.Command{
			Kind:   rotator.KindGetPos,
			AzHint: sess.azHint,
			ElHint: sess.elHint,
			Reply:  sess.SendQueue,
		})

	case "P":
		if len(fields) < 3 {
			logrus.Warnf("rotctld: malformed P command %q", line)
			sess.SendQueue.PushBack("RPRT 0\n")
			return false
		}
		az, azOk := parseDegrees(fields[1])
		el, elOk := parseDegrees(fields[2])
		if !azOk || !elOk {
			logrus.Warnf("rotctld: malformed P command %q", line)
			sess.SendQueue.PushBack("RPRT 0\n")
			return false
		}
		sess.azHint, sess.elHint = az, el
		s.Rotator.Enqueue(&rotator.Command{Kind: rotator.KindSetPosAz, DegArg: az})
		s.Rotator.Enqueue(&rotator.Command{Kind: rotator.KindSetPosEl, DegArg: el})
		sess.SendQueue.PushBack("RPRT 0\n")

	case "S":
		// Stop request: accepted, no physical effect. The UDP rotator dialect
		// this server talks has no stop command, so there is nothing to
		// forward to controller firmware.
		sess.SendQueue.PushBack("RPRT 0\n")

	case "q":
		sess.SendQueue.PushBack("RPRT 0\n")
		return true

	default:
		logrus.Warnf("rotctld: unknown command %q", line)
		sess.SendQueue.PushBack("RPRT 0\n")
	}
	return false
}

// parseDegrees parses a floating-point degree string and truncates to int.
func parseDegrees(s string) (int, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int(f), true
}
