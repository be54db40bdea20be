package rotator

import (
	"net"
	"testing"
	"time"
)

// fakeController runs a minimal UDP echo server implementing enough of the
// wire dialect to exercise Client against a real socket.
func fakeController(t *testing.T, handler func(cmd string) string) (host string, port uint16) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen: %s", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 128)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			reply := handler(string(buf[:n]))
			if reply != "" {
				_, _ = conn.WriteToUDP([]byte(reply), addr)
			}
		}
	}()

	addr := conn.LocalAddr().(*net.UDPAddr)
	return "127.0.0.1", uint16(addr.Port)
}

func TestClient_PollAck(t *testing.T) {
	host, port := fakeController(t, func(cmd string) string {
		if cmd == "poll" {
			return "ack"
		}
		return "nak"
	})

	c, err := NewClient(host, port)
	if err != nil {
		t.Fatalf("NewClient: %s", err)
	}
	defer c.Close()

	if !c.Poll() {
		t.Fatal("expected poll to succeed")
	}
}

func TestClient_Do_TimeoutReturnsNak(t *testing.T) {
	// Bind a socket but never reply, to force a timeout.
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen: %s", err)
	}
	defer conn.Close()
	addr := conn.LocalAddr().(*net.UDPAddr)

	c, err := NewClient("127.0.0.1", uint16(addr.Port))
	if err != nil {
		t.Fatalf("NewClient: %s", err)
	}
	defer c.Close()

	start := time.Now()
	ok, payload := c.Do("poll", 200*time.Millisecond)
	elapsed := time.Since(start)

	if ok {
		t.Fatal("expected timeout to report failure")
	}
	if payload != replyNak {
		t.Fatalf("expected nak payload on timeout, got %q", payload)
	}
	if elapsed < 200*time.Millisecond {
		t.Fatalf("returned before the configured timeout elapsed: %s", elapsed)
	}
}

func TestClient_CalibrateAz_ParsesPulseCount(t *testing.T) {
	host, port := fakeController(t, func(cmd string) string {
		if cmd == "calaz" {
			return "12000"
		}
		return "nak"
	})

	c, err := NewClient(host, port)
	if err != nil {
		t.Fatalf("NewClient: %s", err)
	}
	defer c.Close()

	pulses, ok := c.CalibrateAz()
	if !ok {
		t.Fatal("expected calibration to succeed")
	}
	if pulses != 12000 {
		t.Fatalf("expected 12000 pulses, got %d", pulses)
	}
}

func TestClient_SetPosAz_SendsTruncatedDegreeCommand(t *testing.T) {
	received := make(chan string, 1)
	host, port := fakeController(t, func(cmd string) string {
		received <- cmd
		return "ack"
	})

	c, err := NewClient(host, port)
	if err != nil {
		t.Fatalf("NewClient: %s", err)
	}
	defer c.Close()

	if !c.SetPosAz(123) {
		t.Fatal("expected move to succeed")
	}
	select {
	case cmd := <-received:
		if cmd != "123z" {
			t.Fatalf("expected wire command %q, got %q", "123z", cmd)
		}
	case <-time.After(time.Second):
		t.Fatal("controller never received a command")
	}
}

func TestClient_PresetCalibration_UsesAxisSuffix(t *testing.T) {
	var gotAz, gotEl string
	host, port := fakeController(t, func(cmd string) string {
		switch {
		case len(cmd) > 0 && cmd[len(cmd)-1] == 'a':
			gotAz = cmd
		case len(cmd) > 0 && cmd[len(cmd)-1] == 'b':
			gotEl = cmd
		}
		return "ack"
	})
	c, err := NewClient(host, port)
	if err != nil {
		t.Fatalf("NewClient: %s", err)
	}
	defer c.Close()

	if !c.PresetCalAz(12345) || !c.PresetCalEl(6789) {
		t.Fatal("expected both presets to succeed")
	}

	time.Sleep(50 * time.Millisecond)
	if gotAz != "12345a" {
		t.Fatalf("expected az preset %q, got %q", "12345a", gotAz)
	}
	if gotEl != "6789b" {
		t.Fatalf("expected el preset %q, got %q", "6789b", gotEl)
	}
}

func TestParsePositionEvent(t *testing.T) {
	cases := []struct {
		in      string
		wantOk  bool
		wantAx  Axis
		wantDeg int
	}{
		{"az:123", true, AxisAz, 123},
		{"el:45", true, AxisEl, 45},
		{"az:-1", true, AxisAz, -1},
		{"garbage", false, 0, 0},
		{"xy:10", false, 0, 0},
		{"az:notanumber", false, 0, 0},
	}
	for _, c := range cases {
		ev, ok := parsePositionEvent(c.in)
		if ok != c.wantOk {
			t.Errorf("parsePositionEvent(%q) ok = %v, want %v", c.in, ok, c.wantOk)
			continue
		}
		if !ok {
			continue
		}
		if ev.Axis != c.wantAx || ev.Degrees != c.wantDeg {
			t.Errorf("parsePositionEvent(%q) = %+v, want axis=%v degrees=%d", c.in, ev, c.wantAx, c.wantDeg)
		}
	}
}
