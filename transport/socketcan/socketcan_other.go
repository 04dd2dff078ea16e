//go:build !linux

package socketcan

import (
	"errors"
	"time"

	"github.com/angelodlfrtr/go-can/frame"

	amb "github.com/jaster-prj/go-amb"
)

var errUnsupported = errors.New("socketcan: only supported on linux")

func (t *Transport) OpenChannel(channel int) (amb.Handle, error) {
	return nil, errUnsupported
}

func (t *Transport) CloseChannel(channel int, h amb.Handle) error {
	return errUnsupported
}

func (t *Transport) WriteFrame(h amb.Handle, frm *frame.Frame) error {
	return errUnsupported
}

func (t *Transport) ReadFrame(h amb.Handle, timeout time.Duration) (*frame.Frame, error) {
	return nil, errUnsupported
}

func (t *Transport) DiscoverNodes(h amb.Handle, channel int, window time.Duration) ([]amb.NodeInfo, error) {
	return nil, errUnsupported
}
