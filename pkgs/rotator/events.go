package rotator

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// readTimeout bounds each recv so the receive loop observes ctx.Done()
// regularly instead of blocking indefinitely, per the termination-
// responsiveness requirement placed on every suspension point.
const readTimeout = time.Second

// EventReceiver is a UDP server bound to the controller's event port. Each
// received datagram is an ASCII "<axis>:<integer>" position report; it is
// parsed and forwarded on Events. Malformed payloads are logged and
// discarded.
type EventReceiver struct {
	conn   *net.UDPConn
	Events chan PositionEvent
}

// NewEventReceiver binds UDP on (any interface, eventPort).
func NewEventReceiver(eventPort uint16) (*EventReceiver, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(eventPort)})
	if err != nil {
		return nil, err
	}
	return &EventReceiver{
		conn:   conn,
		Events: make(chan PositionEvent, bufferedEvents),
	}, nil
}

// bufferedEvents sizes the Events channel so a burst of position reports
// doesn't block the socket read loop while the Coordinator's position-event
// worker drains it.
const bufferedEvents = 64

// Close releases the event socket.
func (r *EventReceiver) Close() error {
	return r.conn.Close()
}

// Run reads datagrams until ctx is canceled. It is meant to be run as its
// own goroutine (the dedicated task called for by the design).
func (r *EventReceiver) Run(ctx context.Context) {
	buf := make([]byte, 128)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := r.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			logrus.Errorf("rotator.EventReceiver: cannot set read deadline: %s", err)
			return
		}
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			logrus.Errorf("rotator.EventReceiver: read error: %s", err)
			continue
		}

		ev, ok := parsePositionEvent(string(buf[:n]))
		if !ok {
			logrus.Warnf("rotator.EventReceiver: malformed position datagram %q", string(buf[:n]))
			continue
		}

		select {
		case r.Events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// parsePositionEvent decodes "az:<int>" or "el:<int>".
func parsePositionEvent(payload string) (PositionEvent, bool) {
	axisStr, numStr, found := strings.Cut(payload, ":")
	if !found {
		return PositionEvent{}, false
	}
	degrees, err := strconv.Atoi(strings.TrimSpace(numStr))
	if err != nil {
		return PositionEvent{}, false
	}
	switch strings.TrimSpace(axisStr) {
	case "az":
		return PositionEvent{Axis: AxisAz, Degrees: degrees}, true
	case "el":
		return PositionEvent{Axis: AxisEl, Degrees: degrees}, true
	default:
		return PositionEvent{}, false
	}
}
