package amb

import (
	"errors"
	"time"

	"github.com/angelodlfrtr/go-can/frame"
)

var (
	// ErrReadTimeout is returned by Transport.ReadFrame when no frame arrived
	// within the timeout.
	ErrReadTimeout = errors.New("amb: read timeout")

	// ErrRxOverrun is returned by Transport.ReadFrame when the adapter's
	// receive FIFO overflowed and frames were lost.
	ErrRxOverrun = errors.New("amb: receive fifo overrun")
)

// Handle is the opaque per-channel value a Transport returns from OpenChannel.
type Handle any

// Transport is the capability a physical CAN adapter provides to the
// Interface. Only the worker goroutine calls it, so implementations need not
// be safe for concurrent use.
type Transport interface {
	OpenChannel(channel int) (Handle, error)
	CloseChannel(channel int, h Handle) error
	WriteFrame(h Handle, frm *frame.Frame) error
	// ReadFrame blocks up to timeout for the next frame. It returns
	// ErrReadTimeout when nothing arrived. A zero timeout returns a frame
	// already received without waiting.
	ReadFrame(h Handle, timeout time.Duration) (*frame.Frame, error)
}

// NodeDiscoverer is implemented by transports able to run the AMB node
// broadcast. Discovery invalidates in-flight traffic and is only run from
// the worker.
type NodeDiscoverer interface {
	DiscoverNodes(h Handle, channel int, window time.Duration) ([]NodeInfo, error)
}

// Recorder receives every completed transaction. Record must not block.
type Recorder interface {
	Record(rec Record)
}
