// Package socketcan is an amb.Transport over Linux SocketCAN raw sockets.
// Channel N maps to the network interface named by InterfaceFormat, can0
// for channel 0 by default.
package socketcan

import (
	"errors"
	"fmt"
)

var errBadHandle = errors.New("socketcan: bad handle")

// DefaultInterfaceFormat names the interface of a channel.
const DefaultInterfaceFormat = "can%d"

// Transport opens one raw socket per channel.
type Transport struct {
	InterfaceFormat string

	// Interfaces overrides the name of individual channels.
	Interfaces map[int]string
}

// New returns a transport naming interfaces with format.
func New(format string) *Transport {
	if format == "" {
		format = DefaultInterfaceFormat
	}
	return &Transport{
		InterfaceFormat: format,
		Interfaces:      make(map[int]string),
	}
}

// InterfaceName returns the interface a channel is bound to.
func (t *Transport) InterfaceName(channel int) string {
	if name, ok := t.Interfaces[channel]; ok {
		return name
	}
	format := t.InterfaceFormat
	if format == "" {
		format = DefaultInterfaceFormat
	}
	return fmt.Sprintf(format, channel)
}
