package serialcat

import "fmt"

// ft817Dialect implements the Yaesu FT-817ND fixed-length (5 byte)
// command/response CAT protocol: four data bytes followed by a command
// byte, frequency encoded as 8-digit BCD at 10 Hz resolution.
type ft817Dialect struct{}

func (ft817Dialect) name() string { return "ft817nd" }

var ft817ModeToID = map[string]byte{
	"lsb": 0x00, "usb": 0x01, "cw": 0x02, "cwr": 0x03,
	"am": 0x04, "fm": 0x08, "dig": 0x0a, "pkt": 0x0c,
}

var ft817IDToMode = func() map[byte]string {
	m := make(map[byte]string, len(ft817ModeToID))
	for name, id := range ft817ModeToID {
		m[id] = name
	}
	return m
}()

func (ft817Dialect) encodeFreqSet(hz uint64) []byte {
	tens := hz / 10
	out := make([]byte, 5)
	bcdPack8(tens, out[:4])
	out[4] = 0x01
	return out
}

func (ft817Dialect) encodeFreqGet() []byte {
	return []byte{0x00, 0x00, 0x00, 0x00, 0x03}
}

func (ft817Dialect) decodeFreq(resp []byte) (uint64, bool) {
	if len(resp) < 4 {
		return 0, false
	}
	tens, ok := bcdUnpack8(resp[:4])
	if !ok {
		return 0, false
	}
	return tens * 10, true
}

func (d ft817Dialect) encodeModeSet(mode string) []byte {
	id, ok := ft817ModeToID[mode]
	if !ok {
		id = 0x00
	}
	return []byte{id, 0x00, 0x00, 0x00, 0x07}
}

func (ft817Dialect) encodeModeGet() []byte {
	return []byte{0x00, 0x00, 0x00, 0x00, 0x03}
}

func (ft817Dialect) decodeModeID(resp []byte) (byte, bool) {
	if len(resp) < 5 {
		return 0, false
	}
	return resp[4], true
}

func (ft817Dialect) encodePTT(on bool) []byte {
	if on {
		return []byte{0x00, 0x00, 0x00, 0x00, 0x08}
	}
	return []byte{0x00, 0x00, 0x00, 0x00, 0x88}
}

func (ft817Dialect) modeForID(raw byte) string {
	if m, ok := ft817IDToMode[raw]; ok {
		return m
	}
	return "usb"
}

func (ft817Dialect) bandwidthForMode(mode string) string {
	if bw, ok := bandwidthTable[mode]; ok {
		return bw
	}
	return bandwidthTable["usb"]
}

func (ft817Dialect) responseLen(op opKind) int {
	switch op {
	case opFreqGet, opModeGet:
		return 5
	default:
		return 0
	}
}

// bcdPack8 packs an 8-digit decimal value (tens of Hz) into 4 BCD bytes,
// most significant digit pair first.
func bcdPack8(v uint64, out []byte) {
	digits := fmt.Sprintf("%08d", v%100000000)
	for i := 0; i < 4; i++ {
		hi := digits[i*2] - '0'
		lo := digits[i*2+1] - '0'
		out[i] = hi<<4 | lo
	}
}

func bcdUnpack8(b []byte) (uint64, bool) {
	var v uint64
	for _, bb := range b {
		hi := bb >> 4
		lo := bb & 0x0f
		if hi > 9 || lo > 9 {
			return 0, false
		}
		v = v*100 + uint64(hi)*10 + uint64(lo)
	}
	return v, true
}
