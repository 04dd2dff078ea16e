// Package gocan adapts go-can transports (USB analysers, SocketCAN, ...) to
// amb.Transport, one go-can bus per channel.
package gocan

import (
	"errors"
	"fmt"
	"time"

	"github.com/angelodlfrtr/go-can"
	"github.com/angelodlfrtr/go-can/frame"

	amb "github.com/jaster-prj/go-amb"
)

var errBadHandle = errors.New("gocan: bad handle")

// DefaultPollInterval is the pause between empty reads of a go-can bus.
const DefaultPollInterval = time.Millisecond

// Factory returns the go-can transport serving a channel.
type Factory func(channel int) (can.Transport, error)

// Transport opens a go-can bus per channel on demand.
type Transport struct {
	factory Factory

	// PollInterval is how long ReadFrame sleeps after an empty read. go-can
	// transports report "no frame" instead of blocking.
	PollInterval time.Duration
}

// New returns a transport building channel buses with factory.
func New(factory Factory) *Transport {
	return &Transport{factory: factory, PollInterval: DefaultPollInterval}
}

func (t *Transport) OpenChannel(channel int) (amb.Handle, error) {
	if t.factory == nil {
		return nil, errors.New("gocan: no transport factory")
	}
	tr, err := t.factory(channel)
	if err != nil {
		return nil, fmt.Errorf("gocan: channel %d: %w", channel, err)
	}
	bus := can.NewBus(tr)
	if err := bus.Open(); err != nil {
		return nil, fmt.Errorf("gocan: open channel %d: %w", channel, err)
	}
	return bus, nil
}

func (t *Transport) CloseChannel(channel int, h amb.Handle) error {
	bus, ok := h.(*can.Bus)
	if !ok {
		return errBadHandle
	}
	return bus.Close()
}

func (t *Transport) WriteFrame(h amb.Handle, frm *frame.Frame) error {
	bus, ok := h.(*can.Bus)
	if !ok {
		return errBadHandle
	}
	return bus.Write(frm)
}

// ReadFrame polls the bus until a frame arrives or timeout elapses.
func (t *Transport) ReadFrame(h amb.Handle, timeout time.Duration) (*frame.Frame, error) {
	bus, ok := h.(*can.Bus)
	if !ok {
		return nil, errBadHandle
	}

	interval := t.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	deadline := time.Now().Add(timeout)
	for {
		frm := &frame.Frame{}
		got, err := bus.Read(frm)
		if err != nil {
			return nil, fmt.Errorf("gocan: read: %w", err)
		}
		if got {
			return frm, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, amb.ErrReadTimeout
		}
		if remaining < interval {
			time.Sleep(remaining)
		} else {
			time.Sleep(interval)
		}
	}
}
