package amb

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/thoas/go-funk"
)

// ErrBadChannel is returned by registry operations on a channel outside
// [0, MaxChannels).
var ErrBadChannel = errors.New("amb: channel out of range")

type channelState struct {
	open   atomic.Bool
	handle Handle
	nodes  []NodeInfo
}

// Registry tracks which channels are open, their transport handles and the
// nodes last discovered on them.
type Registry struct {
	mu       sync.Mutex
	channels []channelState
	logger   *slog.Logger
}

// NewRegistry creates a registry with maxChannels closed channels.
func NewRegistry(maxChannels int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		channels: make([]channelState, maxChannels),
		logger:   logger,
	}
}

// MaxChannels returns the number of channel slots.
func (r *Registry) MaxChannels() int {
	return len(r.channels)
}

func (r *Registry) check(op string, channel int) error {
	if channel < 0 || channel >= len(r.channels) {
		r.logger.Error("amb: channel out of range",
			"op", op,
			"channel", channel,
			"max_channels", len(r.channels),
		)
		return fmt.Errorf("%s channel %d: %w", op, channel, ErrBadChannel)
	}
	return nil
}

// IsOpen reports whether channel is open. It does not take the lock.
func (r *Registry) IsOpen(channel int) bool {
	if channel < 0 || channel >= len(r.channels) {
		return false
	}
	return r.channels[channel].open.Load()
}

// Open marks channel open.
func (r *Registry) Open(channel int) error {
	if err := r.check("open", channel); err != nil {
		return err
	}
	r.mu.Lock()
	r.channels[channel].open.Store(true)
	r.mu.Unlock()
	return nil
}

// Close marks channel closed and forgets its handle and nodes.
func (r *Registry) Close(channel int) error {
	if err := r.check("close", channel); err != nil {
		return err
	}
	r.mu.Lock()
	c := &r.channels[channel]
	c.open.Store(false)
	c.handle = nil
	c.nodes = nil
	r.mu.Unlock()
	return nil
}

// FirstOpen returns the lowest open channel.
func (r *Registry) FirstOpen() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.channels {
		if r.channels[i].open.Load() {
			return i, true
		}
	}
	return 0, false
}

// OpenChannels returns every open channel in ascending order.
func (r *Registry) OpenChannels() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]int, len(r.channels))
	for i := range all {
		all[i] = i
	}
	return funk.Filter(all, func(ch int) bool {
		return r.channels[ch].open.Load()
	}).([]int)
}

// Handle returns the transport handle of an open channel.
func (r *Registry) Handle(channel int) (Handle, error) {
	if err := r.check("get handle", channel); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channels[channel].handle, nil
}

// SetHandle associates a transport handle with channel.
func (r *Registry) SetHandle(channel int, h Handle) error {
	if err := r.check("set handle", channel); err != nil {
		return err
	}
	r.mu.Lock()
	r.channels[channel].handle = h
	r.mu.Unlock()
	return nil
}

// AddNode appends a discovered node. Exact duplicates are ignored.
func (r *Registry) AddNode(channel int, n NodeInfo) error {
	if err := r.check("add node", channel); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &r.channels[channel]
	if !funk.Contains(c.nodes, n) {
		c.nodes = append(c.nodes, n)
	}
	return nil
}

// SetNodes replaces the node list of channel.
func (r *Registry) SetNodes(channel int, nodes []NodeInfo) error {
	if err := r.check("set nodes", channel); err != nil {
		return err
	}
	r.mu.Lock()
	r.channels[channel].nodes = append([]NodeInfo(nil), nodes...)
	r.mu.Unlock()
	return nil
}

// ClearNodes empties the node list of channel.
func (r *Registry) ClearNodes(channel int) error {
	if err := r.check("clear nodes", channel); err != nil {
		return err
	}
	r.mu.Lock()
	r.channels[channel].nodes = nil
	r.mu.Unlock()
	return nil
}

// Nodes returns a copy of the node list of channel.
func (r *Registry) Nodes(channel int) ([]NodeInfo, error) {
	if err := r.check("get nodes", channel); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]NodeInfo(nil), r.channels[channel].nodes...), nil
}
