package serialcat

import (
	"io"
	"testing"
	"time"

	"github.com/keskad/satbridge/pkgs/cat"
)

type fakePort struct {
	written [][]byte
	toRead  []byte
	closed  bool
}

func (f *fakePort) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	f.written = append(f.written, cp)
	return len(p), nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	if len(f.toRead) == 0 {
		return 0, io.EOF
	}
	n := copy(p, f.toRead)
	f.toRead = f.toRead[n:]
	return n, nil
}

func (f *fakePort) Close() error                        { f.closed = true; return nil }
func (f *fakePort) SetReadTimeout(time.Duration) error { return nil }

func newTestService(t *testing.T, dialectName string) *Service {
	t.Helper()
	s, err := New("/dev/fake", 9600, dialectName)
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	return s
}

func TestNew_UnknownDialect(t *testing.T) {
	if _, err := New("/dev/fake", 9600, "not-a-rig"); err == nil {
		t.Fatal("expected an error for an unrecognized dialect")
	}
}

func TestFT817_FreqRoundTrip(t *testing.T) {
	d := ft817Dialect{}
	encoded := d.encodeFreqSet(145825000)
	// last byte is the command byte, not data; emulate a freq-get reply by
	// appending a mode byte after the same 4 BCD bytes.
	reply := append(append([]byte{}, encoded[:4]...), 0x01)
	hz, ok := d.decodeFreq(reply)
	if !ok || hz != 145825000 {
		t.Fatalf("decodeFreq = (%d, %v), want (145825000, true)", hz, ok)
	}
}

func TestFT817_ModeIDRoundTrip(t *testing.T) {
	d := ft817Dialect{}
	for mode, id := range ft817ModeToID {
		if got := d.modeForID(id); got != mode {
			t.Errorf("modeForID(%#x) = %q, want %q", id, got, mode)
		}
	}
}

func TestIC7100_FreqRoundTrip(t *testing.T) {
	d := ic7100Dialect{civAddress: 0x88}
	frame := d.encodeFreqSet(435850000)
	// Build a plausible freq-get reply frame carrying the same data.
	reply := d.frame(cmdFreqRead, frame[5:10]...)
	hz, ok := d.decodeFreq(reply)
	if !ok || hz != 435850000 {
		t.Fatalf("decodeFreq = (%d, %v), want (435850000, true)", hz, ok)
	}
}

func TestIC7100_ModeRoundTrip(t *testing.T) {
	d := ic7100Dialect{civAddress: 0x88}
	reply := d.frame(cmdModeRead, ic7100ModeToID["usb"], 0x01)
	id, ok := d.decodeModeID(reply)
	if !ok || d.modeForID(id) != "usb" {
		t.Fatalf("decodeModeID/modeForID round trip failed, got id=%#x ok=%v", id, ok)
	}
}

func TestIC7100_DecodeFreq_RejectsWrongCommand(t *testing.T) {
	d := ic7100Dialect{civAddress: 0x88}
	reply := d.frame(cmdModeRead, 0x01, 0x01)
	if _, ok := d.decodeFreq(reply); ok {
		t.Fatal("expected decodeFreq to reject a reply answering a different command")
	}
}

func TestService_FreqSet_WritesEncodedFrame(t *testing.T) {
	s := newTestService(t, "ft817nd")
	p := &fakePort{}
	s.handle(p, cat.Request{Op: cat.OpFreqSet, Arg: "145825000"})

	select {
	case resp := <-s.Responses():
		if !resp.OK || resp.Op != cat.OpFreqSet {
			t.Fatalf("unexpected response: %+v", resp)
		}
	default:
		t.Fatal("expected a response to be published")
	}
	if len(p.written) != 1 {
		t.Fatalf("expected exactly one write, got %d", len(p.written))
	}
	want := ft817Dialect{}.encodeFreqSet(145825000)
	if string(p.written[0]) != string(want) {
		t.Fatalf("wrote %x, want %x", p.written[0], want)
	}
}

func TestService_FreqGet_DecodesFromFakePort(t *testing.T) {
	s := newTestService(t, "ft817nd")
	p := &fakePort{}
	d := ft817Dialect{}
	encoded := d.encodeFreqSet(145825000)
	p.toRead = append(append([]byte{}, encoded[:4]...), 0x01)

	s.handle(p, cat.Request{Op: cat.OpFreqGet})

	resp := <-s.Responses()
	if !resp.OK || resp.Data != "145825000" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestService_PTTGet_AcksWithoutWire(t *testing.T) {
	s := newTestService(t, "ft817nd")
	p := &fakePort{}
	s.handle(p, cat.Request{Op: cat.OpPTTGet})

	resp := <-s.Responses()
	if !resp.OK || resp.Op != cat.OpPTTGet {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(p.written) != 0 {
		t.Fatal("expected PTTGet not to write to the wire")
	}
}

func TestService_ModeForID_DelegatesToDialect(t *testing.T) {
	s := newTestService(t, "ic7100")
	if got := s.ModeForID("1"); got != "usb" {
		t.Fatalf("ModeForID(1) = %q, want usb", got)
	}
	if got := s.BandwidthForMode("cw"); got != "500" {
		t.Fatalf("BandwidthForMode(cw) = %q, want 500", got)
	}
}
