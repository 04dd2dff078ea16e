//go:build linux

package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/angelodlfrtr/go-can/frame"
	"golang.org/x/sys/unix"

	amb "github.com/jaster-prj/go-amb"
)

const (
	canRaw          = 1
	solCanRaw       = 101
	canRawErrFilter = 2

	canEffFlag = 0x80000000
	canRtrFlag = 0x40000000
	canErrFlag = 0x20000000
	canEffMask = 0x1FFFFFFF

	canErrCrtl           = 0x00000004
	canErrCrtlRxOverflow = 0x01
)

type socket struct {
	fd     int
	ifname string
}

// OpenChannel opens a raw CAN socket bound to the channel's interface.
// Controller error frames are enabled so receive overruns are reported.
func (t *Transport) OpenChannel(channel int) (amb.Handle, error) {
	ifname := t.InterfaceName(channel)

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, canRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to create CAN socket: %w", err)
	}

	ifreq, err := unix.NewIfreq(ifname)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to create ifreq: %w", err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFINDEX, ifreq); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to get interface index of %s: %w", ifname, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: int(ifreq.Uint32())}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind socket to %s: %w", ifname, err)
	}
	if err := unix.SetsockoptInt(fd, solCanRaw, canRawErrFilter, canErrCrtl); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set error filter: %w", err)
	}

	return &socket{fd: fd, ifname: ifname}, nil
}

func (t *Transport) CloseChannel(channel int, h amb.Handle) error {
	s, ok := h.(*socket)
	if !ok {
		return errBadHandle
	}
	return unix.Close(s.fd)
}

// WriteFrame sends frm as an extended-format frame.
func (t *Transport) WriteFrame(h amb.Handle, frm *frame.Frame) error {
	s, ok := h.(*socket)
	if !ok {
		return errBadHandle
	}
	return s.write(frm)
}

func (t *Transport) ReadFrame(h amb.Handle, timeout time.Duration) (*frame.Frame, error) {
	s, ok := h.(*socket)
	if !ok {
		return nil, errBadHandle
	}
	return s.read(timeout)
}

// DiscoverNodes broadcasts a zero-length frame to identifier 0 and collects
// the serial number replies sent to each node's base address.
func (t *Transport) DiscoverNodes(h amb.Handle, channel int, window time.Duration) ([]amb.NodeInfo, error) {
	s, ok := h.(*socket)
	if !ok {
		return nil, errBadHandle
	}
	if err := s.write(&frame.Frame{ArbitrationID: 0}); err != nil {
		return nil, err
	}

	seen := make(map[uint16]bool)
	var nodes []amb.NodeInfo
	deadline := time.Now().Add(window)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nodes, nil
		}
		frm, err := s.read(remaining)
		if errors.Is(err, amb.ErrReadTimeout) {
			return nodes, nil
		}
		if errors.Is(err, amb.ErrRxOverrun) {
			continue
		}
		if err != nil {
			return nodes, err
		}
		if frm.ArbitrationID < amb.NodeStride || frm.DLC != 8 {
			continue
		}
		node, rca := amb.BusAddress(frm.ArbitrationID).Split()
		if rca != 0 || seen[node] {
			continue
		}
		seen[node] = true
		nodes = append(nodes, amb.NodeInfo{Address: node, Serial: frm.Data})
	}
}

func (s *socket) write(frm *frame.Frame) error {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], (frm.ArbitrationID&canEffMask)|canEffFlag)
	buf[4] = frm.DLC
	copy(buf[8:16], frm.Data[:])

	n, err := unix.Write(s.fd, buf)
	if err != nil {
		return fmt.Errorf("write to %s: %w", s.ifname, err)
	}
	if n != len(buf) {
		return fmt.Errorf("short write to %s: %d bytes", s.ifname, n)
	}
	return nil
}

// read returns the next data frame, skipping remote frames and error frames
// other than receive overflows.
func (s *socket) read(timeout time.Duration) (*frame.Frame, error) {
	buf := make([]byte, 16)
	deadline := time.Now().Add(timeout)

	for first := true; ; first = false {
		remaining := time.Until(deadline)
		if remaining <= 0 && !first {
			return nil, amb.ErrReadTimeout
		}
		ms := 0
		if remaining > 0 {
			ms = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}
		fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("poll %s: %w", s.ifname, err)
		}
		if n == 0 {
			return nil, amb.ErrReadTimeout
		}

		nr, err := unix.Read(s.fd, buf)
		if err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		if nr < 16 {
			return nil, fmt.Errorf("incomplete CAN frame received: %d bytes", nr)
		}

		id := binary.LittleEndian.Uint32(buf[0:4])
		if id&canErrFlag != 0 {
			if id&canErrCrtl != 0 && buf[8+1]&canErrCrtlRxOverflow != 0 {
				return nil, amb.ErrRxOverrun
			}
			continue
		}
		if id&canRtrFlag != 0 {
			continue
		}

		frm := &frame.Frame{ArbitrationID: id & canEffMask, DLC: buf[4]}
		copy(frm.Data[:], buf[8:16])
		return frm, nil
	}
}
