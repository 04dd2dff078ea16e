package amb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angelodlfrtr/go-can/frame"
	"github.com/google/uuid"
)

const canIDMask = 0x1FFFFFFF

const statusCount = int(StatusAddressError) + 1

// Option configures an Interface.
type Option func(*Interface)

// WithLogger sets the logger used by the worker and the registry.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Interface) {
		i.logger = logger
	}
}

// WithRecorder hands every completed transaction to rec.
func WithRecorder(rec Recorder) Option {
	return func(i *Interface) {
		i.recorder = rec
	}
}

// Stats is a snapshot of the interface counters.
type Stats struct {
	Submitted  uint64
	Dispatched uint64
	Pending    int
	Completed  map[Status]uint64
}

// Interface owns the transaction queue, the channel registry and the single
// worker goroutine that serialises all traffic onto the transport.
type Interface struct {
	cfg       Config
	transport Transport
	queue     *Queue
	registry  *Registry
	logger    *slog.Logger
	recorder  Recorder

	timeout    atomic.Int64
	noTransmit atomic.Bool

	stop      chan struct{}
	dead      chan struct{}
	closeOnce sync.Once
	closeErr  error

	submitted  atomic.Uint64
	dispatched atomic.Uint64
	completed  [statusCount]atomic.Uint64
}

// New validates cfg and starts the worker. A nil transport is only accepted
// in no-transmit mode.
func New(cfg Config, tr Transport, opts ...Option) (*Interface, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tr == nil && !cfg.NoTransmit {
		return nil, errors.New("amb: transport required")
	}

	i := &Interface{
		cfg:   cfg,
		queue: NewQueue(cfg.QueueDepth),
		stop:  make(chan struct{}),
		dead:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.logger == nil {
		i.logger = slog.Default()
	}
	i.registry = NewRegistry(cfg.MaxChannels, i.logger)
	i.timeout.Store(int64(cfg.MonitorTimeout))
	i.noTransmit.Store(cfg.NoTransmit)

	if tr != nil && cfg.DebugLogFrames {
		tr = NewLoggedTransport(tr, i.logger, slog.LevelDebug)
	}
	i.transport = tr

	go i.run()

	i.logger.Info("amb: interface started",
		"max_channels", cfg.MaxChannels,
		"monitor_timeout", cfg.MonitorTimeout,
		"no_transmit", cfg.NoTransmit,
		"queue_depth", cfg.QueueDepth,
	)
	return i, nil
}

// SetTimeout changes the monitor reply timeout for transactions dispatched
// from now on.
func (i *Interface) SetTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("amb: invalid timeout %s", d)
	}
	i.timeout.Store(int64(d))
	return nil
}

// Timeout returns the monitor reply timeout.
func (i *Interface) Timeout() time.Duration {
	return time.Duration(i.timeout.Load())
}

// SetNoTransmit toggles no-transmit mode.
func (i *Interface) SetNoTransmit(on bool) {
	i.noTransmit.Store(on)
}

// IsOpen reports whether channel has been opened on the transport.
func (i *Interface) IsOpen(channel int) bool {
	return i.registry.IsOpen(channel)
}

// Nodes returns the nodes found by the last discovery on channel.
func (i *Interface) Nodes(channel int) ([]NodeInfo, error) {
	return i.registry.Nodes(channel)
}

// Node returns a handle on one device.
func (i *Interface) Node(channel int, address uint16) *Node {
	return NewNode(i, channel, address)
}

// Stats returns a snapshot of the counters.
func (i *Interface) Stats() Stats {
	s := Stats{
		Submitted:  i.submitted.Load(),
		Dispatched: i.dispatched.Load(),
		Pending:    i.queue.Len(),
		Completed:  make(map[Status]uint64),
	}
	for st := range i.completed {
		if n := i.completed[st].Load(); n > 0 {
			s.Completed[Status(st)] = n
		}
	}
	return s
}

// Submit queues tx for the worker. tx is always completed eventually, also
// when Submit returns an error.
func (i *Interface) Submit(tx *Transaction) error {
	if tx.done == nil {
		tx.done = make(chan struct{})
	}
	if tx.ctx == nil {
		tx.ctx = context.Background()
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	tx.submitted = time.Now()
	i.submitted.Add(1)

	if err := tx.validate(); err != nil {
		i.logger.Warn("amb: rejected transaction", "id", tx.ID, "kind", tx.Kind, "error", err)
		i.finish(tx, err.(Status), nil)
		return err
	}
	if err := i.queue.Enqueue(tx); err != nil {
		st, _ := err.(Status)
		i.finish(tx, st, nil)
		return err
	}
	return nil
}

// Command writes data to rca on node and waits for the write to complete.
func (i *Interface) Command(ctx context.Context, channel int, node uint16, rca uint32, data []byte) error {
	_, err := i.do(ctx, KindCommand, channel, node, rca, data)
	return err
}

// CommandNextTE is Command executed at the next timing event.
func (i *Interface) CommandNextTE(ctx context.Context, channel int, node uint16, rca uint32, data []byte) error {
	_, err := i.do(ctx, KindCommandNextTE, channel, node, rca, data)
	return err
}

// Monitor reads rca on node.
func (i *Interface) Monitor(ctx context.Context, channel int, node uint16, rca uint32) ([]byte, error) {
	res, err := i.do(ctx, KindMonitor, channel, node, rca, nil)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), res.Bytes()...), nil
}

// MonitorNextTE is Monitor executed at the next timing event.
func (i *Interface) MonitorNextTE(ctx context.Context, channel int, node uint16, rca uint32) ([]byte, error) {
	res, err := i.do(ctx, KindMonitorNextTE, channel, node, rca, nil)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), res.Bytes()...), nil
}

func (i *Interface) do(ctx context.Context, kind Kind, channel int, node uint16, rca uint32, data []byte) (Result, error) {
	tx, err := NewTransaction(ctx, kind, channel, node, rca, data)
	if err != nil {
		return Result{}, err
	}
	if err := i.Submit(tx); err != nil {
		return tx.Result(), err
	}
	return tx.Wait(ctx)
}

// FindNodes runs node discovery on channel and returns the nodes found. The
// discovery is queued like any other transaction so it never overlaps normal
// traffic.
func (i *Interface) FindNodes(ctx context.Context, channel int) ([]NodeInfo, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	tx := newDiscoverTransaction(ctx, channel)
	if err := i.Submit(tx); err != nil {
		return nil, err
	}
	if _, err := tx.Wait(ctx); err != nil {
		return nil, err
	}
	return append([]NodeInfo(nil), tx.nodes...), nil
}

// Close stops the worker, fails every pending transaction with
// StatusFlushed and closes all open channels, in that order.
func (i *Interface) Close() error {
	i.closeOnce.Do(func() {
		close(i.stop)
		<-i.dead

		flushed := i.queue.drain()
		for _, tx := range flushed {
			i.finish(tx, StatusFlushed, nil)
		}

		for _, ch := range i.registry.OpenChannels() {
			h, _ := i.registry.Handle(ch)
			if err := i.transport.CloseChannel(ch, h); err != nil {
				i.closeErr = errors.Join(i.closeErr, fmt.Errorf("close channel %d: %w", ch, err))
			}
			i.registry.Close(ch)
		}

		i.logger.Info("amb: interface stopped", "flushed", len(flushed))
	})
	return i.closeErr
}

func (i *Interface) run() {
	defer close(i.dead)

	for {
		select {
		case <-i.stop:
			return
		default:
		}

		tx := i.queue.Dequeue()
		if tx == nil {
			select {
			case <-i.stop:
				return
			case <-i.queue.Ready():
			}
			continue
		}
		i.dispatch(tx)
	}
}

// dispatch executes one transaction. Every path reaches finish exactly once
// through the deferred call.
func (i *Interface) dispatch(tx *Transaction) {
	st := StatusReadError
	var data []byte
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("amb: transport panic", "id", tx.ID, "kind", tx.Kind, "panic", r)
			if tx.Kind.IsCommand() {
				st = StatusWriteError
			} else {
				st = StatusReadError
			}
			data = nil
		}
		i.finish(tx, st, data)
	}()
	i.dispatched.Add(1)

	if tx.ctx.Err() != nil {
		st = StatusFlushed
		return
	}
	if !tx.ExecAt.IsZero() && !i.sleepUntil(tx.ExecAt) {
		st = StatusFlushed
		return
	}
	if i.noTransmit.Load() {
		st = StatusTimeout
		return
	}
	if i.transport == nil {
		st = StatusInitFailed
		return
	}

	h, hst := i.channelHandle(tx.Channel)
	if hst != StatusNoError {
		st = hst
		return
	}

	switch {
	case tx.Kind == kindDiscover:
		st = i.discover(tx, h)
	case tx.Kind.IsCommand():
		st = i.write(tx, h)
	default:
		st, data = i.read(tx, h)
	}
}

func (i *Interface) finish(tx *Transaction, st Status, data []byte) {
	tx.complete(st, data, func(tx *Transaction) {
		if int(st) >= 0 && int(st) < statusCount {
			i.completed[st].Add(1)
		}
		if i.recorder != nil {
			i.recorder.Record(tx.record())
		}
	})
}

// sleepUntil waits for t. It returns false if shutdown was requested first.
func (i *Interface) sleepUntil(t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-i.stop:
		return false
	}
}

// channelHandle returns the handle of channel, opening it on first use.
func (i *Interface) channelHandle(channel int) (Handle, Status) {
	if channel < 0 || channel >= i.registry.MaxChannels() {
		i.logger.Error("amb: transaction on bad channel", "channel", channel)
		return nil, StatusBadChannel
	}
	if i.registry.IsOpen(channel) {
		h, _ := i.registry.Handle(channel)
		return h, StatusNoError
	}

	h, err := i.transport.OpenChannel(channel)
	if err != nil {
		i.logger.Error("amb: open channel failed", "channel", channel, "error", err)
		return nil, StatusInitFailed
	}
	i.registry.SetHandle(channel, h)
	i.registry.Open(channel)
	i.logger.Debug("amb: channel opened", "channel", channel)
	return h, StatusNoError
}

func (i *Interface) write(tx *Transaction, h Handle) Status {
	id, ok := tx.Address.CANID()
	if !ok {
		return StatusAddressError
	}
	frm := &frame.Frame{
		ArbitrationID: id,
		DLC:           uint8(tx.Length),
		Data:          tx.Data,
	}
	if err := i.transport.WriteFrame(h, frm); err != nil {
		i.logger.Warn("amb: command write failed", "id", tx.ID, "address", id, "error", err)
		return StatusWriteError
	}
	return StatusNoError
}

// read sends a zero-length monitor request and waits for the reply carrying
// the same identifier. Frames for other identifiers are discarded.
func (i *Interface) read(tx *Transaction, h Handle) (Status, []byte) {
	id, ok := tx.Address.CANID()
	if !ok {
		return StatusAddressError, nil
	}
	i.discardStale(h, id)
	if err := i.transport.WriteFrame(h, &frame.Frame{ArbitrationID: id}); err != nil {
		i.logger.Warn("amb: monitor request failed", "id", tx.ID, "address", id, "error", err)
		return StatusWriteError, nil
	}

	deadline := time.Now().Add(i.Timeout())
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return StatusTimeout, nil
		}
		reply, err := i.transport.ReadFrame(h, remaining)
		switch {
		case errors.Is(err, ErrReadTimeout):
			return StatusTimeout, nil
		case errors.Is(err, ErrRxOverrun):
			return StatusResponseFIFOError, nil
		case err != nil:
			i.logger.Warn("amb: monitor read failed", "id", tx.ID, "address", id, "error", err)
			return StatusReadError, nil
		}
		if reply == nil || reply.ArbitrationID&canIDMask != id {
			continue
		}
		return StatusNoError, frameData(reply)
	}
}

// maxStale bounds how many queued frames discardStale drops per monitor.
const maxStale = 64

// discardStale drops frames already received before a monitor request is
// sent, so a late reply to an earlier monitor is not taken as this one's.
func (i *Interface) discardStale(h Handle, id uint32) {
	for n := 0; n < maxStale; n++ {
		frm, err := i.transport.ReadFrame(h, 0)
		if err != nil || frm == nil {
			return
		}
		i.logger.Debug("amb: discarded stale frame", "id", frm.ArbitrationID, "monitor", id)
	}
}

func (i *Interface) discover(tx *Transaction, h Handle) Status {
	d, ok := i.transport.(NodeDiscoverer)
	if !ok {
		return StatusBadCommand
	}
	nodes, err := d.DiscoverNodes(h, tx.Channel, i.cfg.DiscoveryWindow)
	if err != nil {
		i.logger.Warn("amb: node discovery failed", "channel", tx.Channel, "error", err)
		return StatusReadError
	}
	i.registry.SetNodes(tx.Channel, nodes)
	tx.nodes = nodes
	return StatusNoError
}

func frameData(frm *frame.Frame) []byte {
	n := int(frm.DLC)
	if n > len(frm.Data) {
		n = len(frm.Data)
	}
	return frm.Data[:n]
}
