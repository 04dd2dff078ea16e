package amb

import (
	"context"
	"fmt"
)

// NodeInfo is a device found by node discovery.
type NodeInfo struct {
	Address uint16
	Serial  [8]byte
}

func (n NodeInfo) String() string {
	return fmt.Sprintf("node 0x%X serial %X", n.Address, n.Serial[:])
}

// Node is one device on a channel, bound to the interface that reaches it.
type Node struct {
	Channel   int
	Address   uint16
	Interface *Interface
}

// NewNode binds a node address on channel to iface.
func NewNode(iface *Interface, channel int, address uint16) *Node {
	return &Node{
		Channel:   channel,
		Address:   address,
		Interface: iface,
	}
}

// GetId returns the node address
func (node *Node) GetId() uint16 {
	return node.Address
}

// Command writes data to rca
func (node *Node) Command(ctx context.Context, rca uint32, data []byte) error {
	return node.Interface.Command(ctx, node.Channel, node.Address, rca, data)
}

// Monitor reads rca
func (node *Node) Monitor(ctx context.Context, rca uint32) ([]byte, error) {
	return node.Interface.Monitor(ctx, node.Channel, node.Address, rca)
}

// MonitorWithStatus reads rca and splits off the FEMC status byte that
// follows a value of natural length.
func (node *Node) MonitorWithStatus(ctx context.Context, rca uint32, natural int) ([]byte, FEMCStatus, error) {
	data, err := node.Monitor(ctx, rca)
	if err != nil {
		return nil, FEMCNoError, err
	}
	value, st, _ := SplitStatus(data, natural)
	return value, st, nil
}

// MonitorU8 reads rca as a uint8
func (node *Node) MonitorU8(ctx context.Context, rca uint32) (uint8, error) {
	data, err := node.Monitor(ctx, rca)
	if err != nil {
		return 0, err
	}
	return UnpackU8(data)
}

// MonitorU16 reads rca as a big-endian uint16
func (node *Node) MonitorU16(ctx context.Context, rca uint32) (uint16, error) {
	data, err := node.Monitor(ctx, rca)
	if err != nil {
		return 0, err
	}
	return UnpackU16(data)
}

// MonitorU32 reads rca as a big-endian uint32
func (node *Node) MonitorU32(ctx context.Context, rca uint32) (uint32, error) {
	data, err := node.Monitor(ctx, rca)
	if err != nil {
		return 0, err
	}
	return UnpackU32(data)
}

// MonitorS16 reads rca as a big-endian int16
func (node *Node) MonitorS16(ctx context.Context, rca uint32) (int16, error) {
	data, err := node.Monitor(ctx, rca)
	if err != nil {
		return 0, err
	}
	return UnpackS16(data)
}

// MonitorFloat reads rca as a float32
func (node *Node) MonitorFloat(ctx context.Context, rca uint32) (float32, error) {
	data, err := node.Monitor(ctx, rca)
	if err != nil {
		return 0, err
	}
	return UnpackFloat(data)
}

// MonitorBool reads rca as a boolean byte
func (node *Node) MonitorBool(ctx context.Context, rca uint32) (bool, error) {
	data, err := node.Monitor(ctx, rca)
	if err != nil {
		return false, err
	}
	return UnpackBool(data)
}

// CommandU8 writes v to rca
func (node *Node) CommandU8(ctx context.Context, rca uint32, v uint8) error {
	return node.Command(ctx, rca, PackU8(v))
}

// CommandU16 writes v to rca big-endian
func (node *Node) CommandU16(ctx context.Context, rca uint32, v uint16) error {
	return node.Command(ctx, rca, PackU16(v))
}

// CommandU32 writes v to rca big-endian
func (node *Node) CommandU32(ctx context.Context, rca uint32, v uint32) error {
	return node.Command(ctx, rca, PackU32(v))
}

// CommandS16 writes v to rca big-endian
func (node *Node) CommandS16(ctx context.Context, rca uint32, v int16) error {
	return node.Command(ctx, rca, PackS16(v))
}

// CommandFloat writes v to rca least significant byte first
func (node *Node) CommandFloat(ctx context.Context, rca uint32, v float32) error {
	return node.Command(ctx, rca, PackFloat(v))
}

// CommandBool writes v to rca as 1 or 0
func (node *Node) CommandBool(ctx context.Context, rca uint32, v bool) error {
	return node.Command(ctx, rca, PackBool(v))
}
