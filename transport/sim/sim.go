// Package sim is an in-memory AMB bus populated with simulated FEMC-like
// devices. It implements amb.Transport and amb.NodeDiscoverer for tests and
// for running without hardware.
package sim

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/angelodlfrtr/go-can/frame"

	amb "github.com/jaster-prj/go-amb"
)

// ErrClosed is returned by operations on a closed channel.
var ErrClosed = errors.New("sim: channel closed")

// Bus holds the simulated devices of every channel.
type Bus struct {
	// Latency delays every reply.
	Latency time.Duration

	// OnWrite, when set, is called with every written frame before it is
	// processed. Tests use it to hold the worker.
	OnWrite func(channel int, frm frame.Frame)

	mu       sync.Mutex
	devices  map[int]map[uint16]*Device
	failOpen map[int]bool
	opens    map[int]int
	closes   map[int]int
	written  []frame.Frame
	reads    int
}

// NewBus returns an empty simulated bus.
func NewBus() *Bus {
	return &Bus{
		devices:  make(map[int]map[uint16]*Device),
		failOpen: make(map[int]bool),
		opens:    make(map[int]int),
		closes:   make(map[int]int),
	}
}

// AddDevice attaches a device at address on channel.
func (b *Bus) AddDevice(channel int, address uint16, serial [8]byte) *Device {
	d := &Device{
		Address:   address,
		Serial:    serial,
		registers: make(map[uint32][]byte),
		monitors:  make(map[uint32][]byte),
	}
	b.mu.Lock()
	if b.devices[channel] == nil {
		b.devices[channel] = make(map[uint16]*Device)
	}
	b.devices[channel][address] = d
	b.mu.Unlock()
	return d
}

// FailOpen makes OpenChannel fail for channel.
func (b *Bus) FailOpen(channel int) {
	b.mu.Lock()
	b.failOpen[channel] = true
	b.mu.Unlock()
}

// Opens returns how many times channel was opened.
func (b *Bus) Opens(channel int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens[channel]
}

// Closes returns how many times channel was closed.
func (b *Bus) Closes(channel int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes[channel]
}

// Written returns every frame written so far, in order.
func (b *Bus) Written() []frame.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]frame.Frame(nil), b.written...)
}

// Reads returns how many times ReadFrame was called.
func (b *Bus) Reads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

type port struct {
	channel int
	rx      chan *frame.Frame
	done    chan struct{}
	once    sync.Once
}

// OpenChannel returns a fresh port unless FailOpen was set for channel.
func (b *Bus) OpenChannel(channel int) (amb.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failOpen[channel] {
		return nil, fmt.Errorf("sim: cannot open channel %d", channel)
	}
	b.opens[channel]++
	return &port{
		channel: channel,
		rx:      make(chan *frame.Frame, 64),
		done:    make(chan struct{}),
	}, nil
}

// CloseChannel closes the port; pending replies are dropped.
func (b *Bus) CloseChannel(channel int, h amb.Handle) error {
	p, ok := h.(*port)
	if !ok {
		return fmt.Errorf("sim: bad handle for channel %d", channel)
	}
	p.once.Do(func() { close(p.done) })
	b.mu.Lock()
	b.closes[channel]++
	b.mu.Unlock()
	return nil
}

// WriteFrame records frm and lets the addressed device reply to it.
func (b *Bus) WriteFrame(h amb.Handle, frm *frame.Frame) error {
	p, ok := h.(*port)
	if !ok {
		return errors.New("sim: bad handle")
	}
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	if b.OnWrite != nil {
		b.OnWrite(p.channel, *frm)
	}

	b.mu.Lock()
	b.written = append(b.written, *frm)
	node, rca := amb.BusAddress(frm.ArbitrationID).Split()
	d := b.devices[p.channel][node]
	b.mu.Unlock()

	if d == nil {
		return nil
	}
	reply, ok := d.handle(rca, frm)
	if !ok {
		return nil
	}
	reply.ArbitrationID = frm.ArbitrationID

	if b.Latency <= 0 {
		p.deliver(reply)
		return nil
	}
	go func() {
		time.Sleep(b.Latency)
		p.deliver(reply)
	}()
	return nil
}

func (p *port) deliver(frm *frame.Frame) {
	select {
	case p.rx <- frm:
	case <-p.done:
	default:
	}
}

// ReadFrame returns the next reply queued on the port.
func (b *Bus) ReadFrame(h amb.Handle, timeout time.Duration) (*frame.Frame, error) {
	p, ok := h.(*port)
	if !ok {
		return nil, errors.New("sim: bad handle")
	}
	b.mu.Lock()
	b.reads++
	b.mu.Unlock()

	select {
	case frm := <-p.rx:
		return frm, nil
	case <-p.done:
		return nil, ErrClosed
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case frm := <-p.rx:
		return frm, nil
	case <-p.done:
		return nil, ErrClosed
	case <-timer.C:
		return nil, amb.ErrReadTimeout
	}
}

// DiscoverNodes returns every responding device on channel in address order.
func (b *Bus) DiscoverNodes(h amb.Handle, channel int, window time.Duration) ([]amb.NodeInfo, error) {
	if _, ok := h.(*port); !ok {
		return nil, errors.New("sim: bad handle")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var nodes []amb.NodeInfo
	for _, d := range b.devices[channel] {
		if d.Silent() {
			continue
		}
		nodes = append(nodes, amb.NodeInfo{Address: d.Address, Serial: d.Serial})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Address < nodes[j].Address })
	return nodes, nil
}
