// Package serialcat implements cat.Service against a serial CAT link, with
// swappable dialects for the two transceiver families named for this
// bridge: a Yaesu FT-817ND style fixed 5-byte command/response protocol,
// and an Icom IC-7100 style CI-V frame protocol.
package serialcat

import "fmt"

// dialect encodes/decodes one transceiver family's CAT commands. Each
// method returns the exact bytes to write; decode methods parse the bytes
// read back in response.
type dialect interface {
	name() string
	encodeFreqSet(hz uint64) []byte
	encodeFreqGet() []byte
	decodeFreq(resp []byte) (hz uint64, ok bool)
	encodeModeSet(mode string) []byte
	encodeModeGet() []byte
	decodeModeID(resp []byte) (rawID byte, ok bool)
	encodePTT(on bool) []byte
	modeForID(raw byte) string
	bandwidthForMode(mode string) string
	// responseLen is how many bytes to read for a reply to a command that
	// expects one (0 if the command has no reply, e.g. PTT/freq/mode set).
	responseLen(op opKind) int
}

// opKind distinguishes get/set framing independent of cat.Op, since a
// dialect needs to know how many reply bytes to expect.
type opKind int

const (
	opFreqSet opKind = iota
	opFreqGet
	opModeSet
	opModeGet
	opPTTSet
)

func dialectByName(name string) (dialect, error) {
	switch name {
	case "ft817", "ft-817", "ft817nd", "ft-817nd":
		return ft817Dialect{}, nil
	case "ic7100", "ic-7100":
		return ic7100Dialect{civAddress: 0x88}, nil
	default:
		return nil, fmt.Errorf("serialcat: unknown rig dialect %q", name)
	}
}

// bandwidthTable is shared by both dialects; real transceivers differ mainly
// in the numeric mode IDs (each dialect's own ModeToID table), not in the
// canonical name set itself.
var bandwidthTable = map[string]string{
	"lsb":   "2400",
	"usb":   "2400",
	"cw":    "500",
	"cwr":   "500",
	"am":    "6000",
	"fm":    "15000",
	"dig":   "3000",
	"pkt":   "3000",
	"rtty":  "500",
	"rttyr": "500",
	"wfm":   "15000",
	"dv":    "7000",
}
