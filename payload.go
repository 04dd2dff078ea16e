package amb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/thoas/go-funk"
)

// ErrShortPayload is returned when a payload is shorter than the value
// being unpacked.
var ErrShortPayload = errors.New("amb: payload too short")

// FEMCStatus is the trailing status byte the FEMC firmware appends to the
// echo of a control point.
type FEMCStatus int8

const (
	FEMCNoError           FEMCStatus = 0
	FEMCError             FEMCStatus = -1
	FEMCHardwRangeError   FEMCStatus = -2
	FEMCHardwBlocked      FEMCStatus = -3
	FEMCHardwUpdateWarn   FEMCStatus = -4
	FEMCHardwConError     FEMCStatus = -5
	FEMCHardwRetryWarn    FEMCStatus = -6
	FEMCControlRange      FEMCStatus = -7
	FEMCMonitorRange      FEMCStatus = -8
	FEMCMonitorAction     FEMCStatus = -9
	FEMCMonitorCANRange   FEMCStatus = -10
	FEMCHardwTimeout      FEMCStatus = -11
	FEMCHardwNotPowered   FEMCStatus = -12
	FEMCHardwNotInstalled FEMCStatus = -13
)

var femcStatusNames = map[FEMCStatus]string{
	FEMCNoError:           "no error",
	FEMCError:             "error",
	FEMCHardwRangeError:   "hardware range error",
	FEMCHardwBlocked:      "hardware blocked",
	FEMCHardwUpdateWarn:   "hardware update warning",
	FEMCHardwConError:     "hardware conversion error",
	FEMCHardwRetryWarn:    "hardware retry warning",
	FEMCControlRange:      "control out of range",
	FEMCMonitorRange:      "monitor out of range",
	FEMCMonitorAction:     "monitor action error",
	FEMCMonitorCANRange:   "monitor CAN range error",
	FEMCHardwTimeout:      "hardware timeout",
	FEMCHardwNotPowered:   "hardware not powered",
	FEMCHardwNotInstalled: "hardware not installed",
}

// reservedStatus is the negative range a single returned byte must fall in
// to be read as a status rather than data.
var reservedStatus = []int8{-1, -2, -3, -4, -5, -6, -7, -8, -9, -10, -11, -12, -13}

func (s FEMCStatus) String() string {
	if name, ok := femcStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("femc status(%d)", int8(s))
}

// LikelyStatus reports whether b falls in the reserved negative status range.
func LikelyStatus(b byte) bool {
	return funk.Contains(reservedStatus, int8(b))
}

// SplitStatus separates a monitor reply into its value bytes and the
// trailing status byte. A byte past the natural length is always the status.
//
// When natural is zero and exactly one byte came back the reply is
// ambiguous: it is taken as a status only when LikelyStatus holds.
func SplitStatus(data []byte, natural int) (value []byte, status FEMCStatus, ok bool) {
	if natural < 0 {
		natural = 0
	}
	if natural == 0 && len(data) == 1 {
		if LikelyStatus(data[0]) {
			return nil, FEMCStatus(int8(data[0])), true
		}
		return data, FEMCNoError, false
	}
	if len(data) > natural {
		return data[:natural], FEMCStatus(int8(data[natural])), true
	}
	return data, FEMCNoError, false
}

// PackU8 encodes v as one byte.
func PackU8(v uint8) []byte { return []byte{v} }

// PackU16 encodes v big-endian.
func PackU16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

// PackU32 encodes v big-endian.
func PackU32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// PackS16 encodes v as big-endian two's complement.
func PackS16(v int16) []byte { return PackU16(uint16(v)) }

// PackFloat encodes an IEEE-754 single with the least significant byte first.
func PackFloat(v float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return b
}

// PackBool encodes v as 1 or 0.
func PackBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// UnpackU8 decodes the first byte of b.
func UnpackU8(b []byte) (uint8, error) {
	if len(b) < 1 {
		return 0, ErrShortPayload
	}
	return b[0], nil
}

// UnpackU16 decodes a big-endian uint16.
func UnpackU16(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, ErrShortPayload
	}
	return binary.BigEndian.Uint16(b), nil
}

// UnpackU32 decodes a big-endian uint32.
func UnpackU32(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, ErrShortPayload
	}
	return binary.BigEndian.Uint32(b), nil
}

// UnpackS16 decodes a big-endian two's complement int16.
func UnpackS16(b []byte) (int16, error) {
	v, err := UnpackU16(b)
	return int16(v), err
}

// UnpackFloat decodes an IEEE-754 single sent least significant byte first.
func UnpackFloat(b []byte) (float32, error) {
	if len(b) < 4 {
		return 0, ErrShortPayload
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

// UnpackBool reports whether the first byte of b is non-zero.
func UnpackBool(b []byte) (bool, error) {
	if len(b) < 1 {
		return false, ErrShortPayload
	}
	return b[0] != 0, nil
}
