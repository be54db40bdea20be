package rotator

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Reply strings the controller uses to indicate success/failure of a
// command that has no numeric payload.
const (
	replyAck = "ack"
	replyNak = "nak"
)

// ErrNak is what Service reports on Command.Done when a controller command
// fails. Do itself returns no error: it reports a "nak" reply, a timeout and
// a transport error alike as (false, "nak").
var ErrNak = errors.New("rotator: controller rejected command (nak)")

// ErrTimeout names a controller that did not reply before the timeout. Do
// reports a timeout as (false, "nak"), and nothing in this package returns
// ErrTimeout.
var ErrTimeout = errors.New("rotator: controller did not reply before timeout")

// Default timeouts, per the design: short for presence/preset/speed
// commands, long for calibration and movement which are blocking on the
// controller side.
const (
	ShortTimeout = 3 * time.Second
	LongTimeout  = 30 * time.Second
)

// Client is a UDP command/response client to the rotator motor controller.
// One command is sent per datagram and exactly one reply datagram is
// awaited; there is no pipelining or retransmission, matching the assumption
// that the controller is reliable on a LAN. All access is serialized by mu,
// held for the full span of a request.
type Client struct {
	conn net.Conn
	mu   sync.Mutex
}

// NewClient dials the controller's command UDP port. The dial itself never
// touches the network for a connectionless protocol (no handshake), so a
// successful return does not imply the controller is reachable — that is
// what the first "poll" command is for.
func NewClient(host string, requestPort uint16) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", host, requestPort)
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("rotator: UDP dial error connecting to controller: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the command socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Do sends cmdStr as a single datagram and waits up to timeout for exactly
// one reply datagram. A reply of "ack" is reported as (true, "ack"); "nak"
// as (false, "nak"); any other payload (e.g. a measured pulse count after
// calibration) is reported as (true, payload). On timeout it returns
// (false, "nak"), matching the boundary behavior in the testable properties.
func (c *Client) Do(cmdStr string, timeout time.Duration) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	logrus.Debugf("rotator.Do: -> %q", cmdStr)

	if err := c.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		logrus.Errorf("rotator.Do: cannot set deadline: %s", err)
		return false, replyNak
	}
	if _, err := c.conn.Write([]byte(cmdStr)); err != nil {
		logrus.Errorf("rotator.Do: write error for %q: %s", cmdStr, err)
		return false, replyNak
	}

	buf := make([]byte, 128)
	n, err := c.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			logrus.Debugf("rotator.Do: %q timed out after %s", cmdStr, timeout)
			return false, replyNak
		}
		logrus.Errorf("rotator.Do: read error for %q: %s", cmdStr, err)
		return false, replyNak
	}

	payload := string(buf[:n])
	logrus.Debugf("rotator.Do: <- %q", payload)

	switch payload {
	case replyAck:
		return true, payload
	case replyNak:
		return false, payload
	default:
		return true, payload
	}
}

// doBool is a convenience for commands whose only expected success reply is
// "ack" (poll, preset, speed, home, move, nudge).
func (c *Client) doBool(cmdStr string, timeout time.Duration) bool {
	ok, _ := c.Do(cmdStr, timeout)
	return ok
}

// Poll sends the presence probe.
func (c *Client) Poll() bool {
	return c.doBool("poll", ShortTimeout)
}

// PresetCalAz presets the AZ calibration pulse count on the controller.
func (c *Client) PresetCalAz(pulses int) bool {
	return c.doBool(fmt.Sprintf("%da", pulses), ShortTimeout)
}

// PresetCalEl presets the EL calibration pulse count on the controller.
func (c *Client) PresetCalEl(pulses int) bool {
	return c.doBool(fmt.Sprintf("%db", pulses), ShortTimeout)
}

// SetAzSpeed sets the AZ motor speed, as a percentage.
func (c *Client) SetAzSpeed(percent int) bool {
	return c.doBool(fmt.Sprintf("%dn", percent), ShortTimeout)
}

// SetElSpeed sets the EL motor speed, as a percentage.
func (c *Client) SetElSpeed(percent int) bool {
	return c.doBool(fmt.Sprintf("%dm", percent), ShortTimeout)
}

// CalibrateAz runs a blocking end-to-end AZ calibration and returns the
// measured pulse count.
func (c *Client) CalibrateAz() (int, bool) {
	return c.calibrate("calaz")
}

// CalibrateEl runs a blocking end-to-end EL calibration and returns the
// measured pulse count.
func (c *Client) CalibrateEl() (int, bool) {
	return c.calibrate("calel")
}

func (c *Client) calibrate(cmdStr string) (int, bool) {
	ok, payload := c.Do(cmdStr, LongTimeout)
	if !ok {
		return 0, false
	}
	pulses, err := parsePulses(payload)
	if err != nil {
		logrus.Errorf("rotator: calibration reply %q did not parse: %s", payload, err)
		return 0, false
	}
	return pulses, true
}

// HomeAz drives the AZ axis to its limit-switch home.
func (c *Client) HomeAz() bool {
	return c.doBool("homeaz", LongTimeout)
}

// HomeEl drives the EL axis to its limit-switch home.
func (c *Client) HomeEl() bool {
	return c.doBool("homeel", LongTimeout)
}

// SetPosAz moves the AZ axis to degrees.
func (c *Client) SetPosAz(degrees int) bool {
	return c.doBool(fmt.Sprintf("%dz", degrees), LongTimeout)
}

// SetPosEl moves the EL axis to degrees.
func (c *Client) SetPosEl(degrees int) bool {
	return c.doBool(fmt.Sprintf("%de", degrees), LongTimeout)
}

// NudgeAzFwd/NudgeAzRev/NudgeElFwd/NudgeElRev perform a small manual jog.
func (c *Client) NudgeAzFwd() bool { return c.doBool("ngazfwd", ShortTimeout) }
func (c *Client) NudgeAzRev() bool { return c.doBool("ngazrev", ShortTimeout) }
func (c *Client) NudgeElFwd() bool { return c.doBool("ngelfwd", ShortTimeout) }
func (c *Client) NudgeElRev() bool { return c.doBool("ngelrev", ShortTimeout) }

func parsePulses(payload string) (int, error) {
	var pulses int
	if _, err := fmt.Sscanf(payload, "%d", &pulses); err != nil {
		return 0, fmt.Errorf("not an integer pulse count: %w", err)
	}
	return pulses, nil
}
