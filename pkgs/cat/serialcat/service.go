package serialcat

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/keskad/satbridge/pkgs/bus"
	"github.com/keskad/satbridge/pkgs/cat"
)

// port is the subset of go.bug.st/serial.Port that Service depends on, so
// tests can drive it against an in-memory fake instead of a real device,
// the same isolation rotator.Service gets from its controller interface.
type port interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadTimeout(t time.Duration) error
}

// Option configures a Service at construction time (functional options
// passed to New).
type Option func(*Service)

// WithQueueCapacity overrides the default command queue capacity.
func WithQueueCapacity(n int) Option {
	return func(s *Service) { s.queue = bus.New[cat.Request](n) }
}

// WithReadTimeout overrides the default per-response serial read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Service) { s.readTimeout = d }
}

const defaultReadTimeout = 2 * time.Second
const maxFrameLen = 64

// Service implements cat.Service against a serial port, framing commands
// per the selected rig dialect (FT-817ND fixed-length, IC-7100 CI-V).
type Service struct {
	devicePath string
	baudRate   int
	dlct       dialect

	openPort func() (port, error)

	queue       *bus.Queue[cat.Request]
	responses   chan cat.Response
	readTimeout time.Duration
}

// New builds a Service for devicePath at baudRate speaking rigDialect
// ("ft817nd" or "ic7100").
func New(devicePath string, baudRate int, rigDialect string, options ...Option) (*Service, error) {
	d, err := dialectByName(rigDialect)
	if err != nil {
		return nil, err
	}
	s := &Service{
		devicePath:  devicePath,
		baudRate:    baudRate,
		dlct:        d,
		queue:       bus.New[cat.Request](32),
		responses:   make(chan cat.Response, 32),
		readTimeout: defaultReadTimeout,
	}
	s.openPort = func() (port, error) { return openSerialPort(devicePath, baudRate) }
	for _, o := range options {
		o(s)
	}
	return s, nil
}

func openSerialPort(devicePath string, baudRate int) (port, error) {
	p, err := serial.Open(devicePath, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("serialcat: cannot open %q: %w", devicePath, err)
	}
	return p, nil
}

// DoCommand enqueues req for the worker started by Run. It never blocks on
// a reply; callers read Responses() for the result.
func (s *Service) DoCommand(req cat.Request) error {
	s.queue.PushBack(req)
	return nil
}

// Responses returns the channel CAT replies are published on.
func (s *Service) Responses() <-chan cat.Response {
	return s.responses
}

func (s *Service) ModeForID(raw string) string {
	v, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		return "usb"
	}
	return s.dlct.modeForID(byte(v))
}

func (s *Service) BandwidthForMode(mode string) string {
	return s.dlct.bandwidthForMode(mode)
}

// Run opens the serial port and drains the command queue until ctx is
// canceled.
func (s *Service) Run(ctx context.Context) error {
	p, err := s.openPort()
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.SetReadTimeout(s.readTimeout); err != nil {
		return fmt.Errorf("serialcat: cannot set read timeout: %w", err)
	}

	for {
		req, ok := s.queue.WaitPopFront(ctx)
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		s.handle(p, req)
	}
}

func (s *Service) publish(resp cat.Response) {
	select {
	case s.responses <- resp:
	default:
		logrus.Warnf("serialcat: response queue full, dropping reply to %s", resp.Op)
	}
}

func (s *Service) handle(p port, req cat.Request) {
	switch req.Op {
	case cat.OpFreqSet:
		hzStr, _ := req.Arg.(string)
		hz, err := strconv.ParseUint(hzStr, 10, 64)
		if err != nil {
			logrus.Errorf("serialcat: invalid frequency %q: %s", hzStr, err)
			s.publish(cat.Response{OK: false, Op: cat.OpFreqSet})
			return
		}
		if _, err := p.Write(s.dlct.encodeFreqSet(hz)); err != nil {
			logrus.Errorf("serialcat: freq set write failed: %s", err)
			s.publish(cat.Response{OK: false, Op: cat.OpFreqSet})
			return
		}
		s.publish(cat.Response{OK: true, Op: cat.OpFreqSet, Data: hzStr})

	case cat.OpFreqGet:
		if _, err := p.Write(s.dlct.encodeFreqGet()); err != nil {
			logrus.Errorf("serialcat: freq get write failed: %s", err)
			s.publish(cat.Response{OK: false, Op: cat.OpFreqGet})
			return
		}
		resp, err := s.readReply(p, opFreqGet)
		if err != nil {
			logrus.Errorf("serialcat: freq get read failed: %s", err)
			s.publish(cat.Response{OK: false, Op: cat.OpFreqGet})
			return
		}
		hz, ok := s.dlct.decodeFreq(resp)
		if !ok {
			s.publish(cat.Response{OK: false, Op: cat.OpFreqGet})
			return
		}
		s.publish(cat.Response{OK: true, Op: cat.OpFreqGet, Data: strconv.FormatUint(hz, 10)})

	case cat.OpModeSet:
		mode, _ := req.Arg.(string)
		if _, err := p.Write(s.dlct.encodeModeSet(mode)); err != nil {
			logrus.Errorf("serialcat: mode set write failed: %s", err)
			s.publish(cat.Response{OK: false, Op: cat.OpModeSet})
			return
		}
		s.publish(cat.Response{OK: true, Op: cat.OpModeSet, Data: mode})

	case cat.OpModeGet:
		if _, err := p.Write(s.dlct.encodeModeGet()); err != nil {
			logrus.Errorf("serialcat: mode get write failed: %s", err)
			s.publish(cat.Response{OK: false, Op: cat.OpModeGet})
			return
		}
		resp, err := s.readReply(p, opModeGet)
		if err != nil {
			logrus.Errorf("serialcat: mode get read failed: %s", err)
			s.publish(cat.Response{OK: false, Op: cat.OpModeGet})
			return
		}
		id, ok := s.dlct.decodeModeID(resp)
		if !ok {
			s.publish(cat.Response{OK: false, Op: cat.OpModeGet})
			return
		}
		// Data is the raw transceiver-native mode code; callers translate
		// it via ModeForID, matching the contract's two-step shape.
		s.publish(cat.Response{OK: true, Op: cat.OpModeGet, Data: strconv.Itoa(int(id))})

	case cat.OpPTTSet:
		on, _ := req.Arg.(bool)
		if _, err := p.Write(s.dlct.encodePTT(on)); err != nil {
			logrus.Errorf("serialcat: ptt set write failed: %s", err)
			s.publish(cat.Response{OK: false, Op: cat.OpPTTSet})
			return
		}
		s.publish(cat.Response{OK: true, Op: cat.OpPTTSet})

	case cat.OpLock, cat.OpPTTGet, cat.OpTXStatus:
		// Not meaningfully implemented by either dialect: some rigs (the
		// FT-817ND among them) do not reliably answer CAT while
		// transmitting, so the protocol layer reports operator intent
		// instead of polling this. Acknowledge so callers waiting on the
		// response queue don't stall.
		s.publish(cat.Response{OK: true, Op: req.Op})

	default:
		logrus.Errorf("serialcat: unhandled CAT op %s", req.Op)
		s.publish(cat.Response{OK: false, Op: req.Op})
	}
}

// readReply reads one dialect-framed response: a fixed number of bytes for
// FT-817ND, or bytes up to and including the CI-V terminator for IC-7100.
func (s *Service) readReply(p port, op opKind) ([]byte, error) {
	n := s.dlct.responseLen(op)
	if n > 0 {
		buf := make([]byte, n)
		if _, err := io.ReadFull(p, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}

	buf := make([]byte, 0, maxFrameLen)
	one := make([]byte, 1)
	for len(buf) < maxFrameLen {
		nr, err := p.Read(one)
		if nr == 0 && err != nil {
			return nil, err
		}
		if nr > 0 {
			buf = append(buf, one[0])
			if one[0] == civTerminator {
				return buf, nil
			}
		}
	}
	return nil, fmt.Errorf("serialcat: reply exceeded %d bytes without a terminator", maxFrameLen)
}
