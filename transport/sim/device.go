package sim

import (
	"sync"

	"github.com/angelodlfrtr/go-can/frame"

	amb "github.com/jaster-prj/go-amb"
)

// Device is one simulated node. A command stores its payload; a monitor of
// the same RCA echoes the stored payload followed by a status byte, the way
// FEMC firmware reports the last commanded value. Monitor points set with
// SetMonitor reply with their fixed value.
type Device struct {
	Address uint16
	Serial  [8]byte

	mu        sync.Mutex
	silent    bool
	status    amb.FEMCStatus
	registers map[uint32][]byte
	monitors  map[uint32][]byte
	commands  int
}

// SetMonitor fixes the reply of a monitor point.
func (d *Device) SetMonitor(rca uint32, value []byte) {
	d.mu.Lock()
	d.monitors[rca] = append([]byte(nil), value...)
	d.mu.Unlock()
}

// SetStatus sets the status byte appended to command echoes.
func (d *Device) SetStatus(st amb.FEMCStatus) {
	d.mu.Lock()
	d.status = st
	d.mu.Unlock()
}

// SetSilent stops the device from replying.
func (d *Device) SetSilent(silent bool) {
	d.mu.Lock()
	d.silent = silent
	d.mu.Unlock()
}

// Silent reports whether the device ignores frames.
func (d *Device) Silent() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.silent
}

// Register returns the last payload commanded to rca.
func (d *Device) Register(rca uint32) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.registers[rca]
	return append([]byte(nil), v...), ok
}

// Commands returns the number of commands received.
func (d *Device) Commands() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commands
}

func (d *Device) handle(rca uint32, frm *frame.Frame) (*frame.Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.silent {
		return nil, false
	}
	if frm.DLC > 0 {
		n := int(frm.DLC)
		if n > len(frm.Data) {
			n = len(frm.Data)
		}
		d.registers[rca] = append([]byte(nil), frm.Data[:n]...)
		d.commands++
		return nil, false
	}

	reply := &frame.Frame{}
	if v, ok := d.monitors[rca]; ok {
		reply.DLC = uint8(copy(reply.Data[:], v))
		return reply, true
	}
	v, ok := d.registers[rca]
	if !ok {
		return nil, false
	}
	n := copy(reply.Data[:], v)
	if n < len(reply.Data) {
		reply.Data[n] = byte(d.status)
		n++
	}
	reply.DLC = uint8(n)
	return reply, true
}
