// Package protoserver holds the pieces shared by the two single-client
// hamlib TCP servers (rotctld and rigctld): the accepted connection, its
// outbound line queue, and the bind-with-retry accept loop.
package protoserver

import (
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/keskad/satbridge/pkgs/bus"
)

// AcceptTimeout bounds each accept() call so the listen loop observes
// context cancellation promptly instead of blocking indefinitely.
const AcceptTimeout = time.Second

// BindRetries and BindRetryDelay implement the port-conflict retry policy:
// one initial attempt plus up to 5 retries, 1 s apart.
const (
	BindRetries    = 5
	BindRetryDelay = time.Second
)

// Bind opens a TCP listener on addr, retrying on bind failure per
// BindRetries/BindRetryDelay.
func Bind(addr string) (net.Listener, error) {
	var lastErr error
	for attempt := 0; attempt <= BindRetries; attempt++ {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		lastErr = err
		logrus.Warnf("protoserver: bind %s failed (attempt %d/%d): %s", addr, attempt+1, BindRetries+1, err)
		if attempt < BindRetries {
			time.Sleep(BindRetryDelay)
		}
	}
	return nil, lastErr
}

// Session is the per-connection state a protocol server owns: the accepted
// socket, an outbound line queue, and a partial-line accumulator. A fresh
// Session is created on each accept.
type Session struct {
	ID        uuid.UUID
	Conn      net.Conn
	SendQueue *bus.Queue[string]
	recvBuf   []byte
}

// NewSession wraps an accepted connection.
func NewSession(conn net.Conn) *Session {
	return &Session{
		ID:        uuid.New(),
		Conn:      conn,
		SendQueue: bus.New[string](64),
	}
}

// Close releases the underlying connection.
func (s *Session) Close() error {
	return s.Conn.Close()
}

// Feed appends newly read bytes to the accumulator and extracts any
// complete newline-terminated lines.
func (s *Session) Feed(data []byte) []string {
	s.recvBuf = append(s.recvBuf, data...)
	var lines []string
	for {
		idx := indexByte(s.recvBuf, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(s.recvBuf[:idx]))
		s.recvBuf = s.recvBuf[idx+1:]
	}
	return lines
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// DrainToConn pops every queued line, most recently queued first, and writes
// it to the connection.
func (s *Session) DrainToConn() error {
	for {
		line, ok := s.SendQueue.PopBack()
		if !ok {
			return nil
		}
		if _, err := s.Conn.Write([]byte(line)); err != nil {
			return err
		}
	}
}
