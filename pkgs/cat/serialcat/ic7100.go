package serialcat

// ic7100Dialect implements a CI-V style frame protocol as used by the Icom
// IC-7100: 0xFE 0xFE <to> <from> <cmd> [<data>...] 0xFD. Frequency is
// transmitted as 5-byte little-endian BCD, in Hz.
type ic7100Dialect struct {
	civAddress byte
}

const (
	civPreamble    = 0xFE
	civTerminator  = 0xFD
	civController  = 0xE0
	cmdFreqSetGet  = 0x05
	cmdFreqRead    = 0x03
	cmdModeSetGet  = 0x06
	cmdModeRead    = 0x04
	cmdTransceiver = 0x1c
	subCmdPTT      = 0x00
)

func (d ic7100Dialect) name() string { return "ic7100" }

func (d ic7100Dialect) frame(cmd byte, data ...byte) []byte {
	out := []byte{civPreamble, civPreamble, d.civAddress, civController, cmd}
	out = append(out, data...)
	out = append(out, civTerminator)
	return out
}

func (d ic7100Dialect) encodeFreqSet(hz uint64) []byte {
	return d.frame(cmdFreqSetGet, bcdPack5LE(hz)...)
}

func (d ic7100Dialect) encodeFreqGet() []byte {
	return d.frame(cmdFreqRead)
}

func (d ic7100Dialect) decodeFreq(resp []byte) (uint64, bool) {
	data, ok := civPayload(resp, cmdFreqRead)
	if !ok || len(data) < 5 {
		return 0, false
	}
	return bcdUnpack5LE(data[:5])
}

var ic7100ModeToID = map[string]byte{
	"lsb": 0x00, "usb": 0x01, "am": 0x02, "cw": 0x03,
	"rtty": 0x04, "fm": 0x05, "wfm": 0x06, "cwr": 0x07, "rttyr": 0x08,
}

var ic7100IDToMode = func() map[byte]string {
	m := make(map[byte]string, len(ic7100ModeToID))
	for name, id := range ic7100ModeToID {
		m[id] = name
	}
	return m
}()

func (d ic7100Dialect) encodeModeSet(mode string) []byte {
	id, ok := ic7100ModeToID[mode]
	if !ok {
		id = ic7100ModeToID["usb"]
	}
	return d.frame(cmdModeSetGet, id, 0x01)
}

func (d ic7100Dialect) encodeModeGet() []byte {
	return d.frame(cmdModeRead)
}

func (d ic7100Dialect) decodeModeID(resp []byte) (byte, bool) {
	data, ok := civPayload(resp, cmdModeRead)
	if !ok || len(data) < 1 {
		return 0, false
	}
	return data[0], true
}

func (d ic7100Dialect) encodePTT(on bool) []byte {
	var v byte
	if on {
		v = 0x01
	}
	return d.frame(cmdTransceiver, subCmdPTT, v)
}

func (d ic7100Dialect) modeForID(raw byte) string {
	if m, ok := ic7100IDToMode[raw]; ok {
		return m
	}
	return "usb"
}

func (d ic7100Dialect) bandwidthForMode(mode string) string {
	if bw, ok := bandwidthTable[mode]; ok {
		return bw
	}
	return bandwidthTable["usb"]
}

func (d ic7100Dialect) responseLen(op opKind) int {
	switch op {
	case opFreqGet, opModeGet:
		return -1 // variable length, scan for civTerminator
	default:
		return 0
	}
}

// civPayload strips the CI-V preamble/address/terminator from resp and
// verifies it answers cmd, returning the data bytes that follow it.
func civPayload(resp []byte, cmd byte) ([]byte, bool) {
	if len(resp) < 6 || resp[0] != civPreamble || resp[1] != civPreamble {
		return nil, false
	}
	if resp[4] != cmd {
		return nil, false
	}
	end := len(resp) - 1
	for end > 4 && resp[end] != civTerminator {
		end--
	}
	if end <= 4 {
		return nil, false
	}
	return resp[5:end], true
}

// bcdPack5LE encodes hz as 5 BCD bytes, least-significant-digit-pair first,
// the wire order CI-V radios use for frequency.
func bcdPack5LE(hz uint64) []byte {
	out := make([]byte, 5)
	v := hz
	for i := 0; i < 5; i++ {
		lo := byte(v % 10)
		v /= 10
		hi := byte(v % 10)
		v /= 10
		out[i] = hi<<4 | lo
	}
	return out
}

func bcdUnpack5LE(b []byte) (uint64, bool) {
	var v uint64
	mul := uint64(1)
	for i := 0; i < 5; i++ {
		hi := b[i] >> 4
		lo := b[i] & 0x0f
		if hi > 9 || lo > 9 {
			return 0, false
		}
		v += uint64(lo) * mul
		mul *= 10
		v += uint64(hi) * mul
		mul *= 10
	}
	return v, true
}
