package amb

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind selects the read or write semantics of a transaction.
type Kind int

const (
	KindMonitor Kind = iota
	KindCommand
	KindMonitorNextTE
	KindCommandNextTE
	kindDiscover
)

func (k Kind) String() string {
	switch k {
	case KindMonitor:
		return "monitor"
	case KindCommand:
		return "command"
	case KindMonitorNextTE:
		return "monitor_next_te"
	case KindCommandNextTE:
		return "command_next_te"
	case kindDiscover:
		return "discover"
	}
	return "unknown"
}

// IsCommand reports whether the kind writes a payload to the bus.
func (k Kind) IsCommand() bool {
	return k == KindCommand || k == KindCommandNextTE
}

// TimingEventPeriod is the AMB timing event (TE) interval.
const TimingEventPeriod = 48 * time.Millisecond

// NextTimingEvent returns the first TE boundary strictly after t. Boundaries
// are aligned to the Unix epoch.
func NextTimingEvent(t time.Time) time.Time {
	since := time.Duration(t.UnixNano() % int64(TimingEventPeriod))
	return t.Add(TimingEventPeriod - since)
}

// Result is the completion of a transaction.
type Result struct {
	Status    Status
	Length    int
	Data      [8]byte
	Timestamp time.Time
}

// Bytes returns the received payload.
func (r Result) Bytes() []byte {
	return r.Data[:r.Length]
}

// Transaction is one request to the bus plus its completion. The caller
// owns it for the whole submit-to-done window; the worker writes the result
// and closing Done is the last thing it does with the transaction.
type Transaction struct {
	ID      uuid.UUID
	Kind    Kind
	Channel int
	Address BusAddress
	Length  int
	Data    [8]byte
	ExecAt  time.Time

	ctx       context.Context
	submitted time.Time

	result Result
	nodes  []NodeInfo
	once   sync.Once
	done   chan struct{}
}

// NewTransaction validates and builds a transaction. Validation failures are
// returned as a Status.
func NewTransaction(ctx context.Context, kind Kind, channel int, node uint16, rca uint32, data []byte) (*Transaction, error) {
	if err := checkPayload(kind, len(data)); err != nil {
		return nil, err
	}
	if !validAddress(node, rca) {
		return nil, StatusAddressError
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx := &Transaction{
		ID:      uuid.New(),
		Kind:    kind,
		Channel: channel,
		Address: FlatAddress(node, rca),
		Length:  len(data),
		ctx:     ctx,
		done:    make(chan struct{}),
	}
	copy(tx.Data[:], data)

	if kind == KindMonitorNextTE || kind == KindCommandNextTE {
		tx.ExecAt = NextTimingEvent(time.Now())
	}
	return tx, nil
}

// checkPayload enforces the payload length rules of kind.
func checkPayload(kind Kind, length int) error {
	switch {
	case length < 0 || length > 8:
		return StatusBadCommand
	case kind.IsCommand() && length == 0:
		return StatusBadCommand
	case !kind.IsCommand() && length != 0:
		return StatusBadCommand
	}
	return nil
}

// validate checks a transaction that may not have come from NewTransaction.
func (tx *Transaction) validate() error {
	switch tx.Kind {
	case KindMonitor, KindCommand, KindMonitorNextTE, KindCommandNextTE:
	case kindDiscover:
		return checkPayload(tx.Kind, tx.Length)
	default:
		return StatusBadCommand
	}
	if err := checkPayload(tx.Kind, tx.Length); err != nil {
		return err
	}
	// Identifiers below the first node are the broadcast range.
	if _, ok := tx.Address.CANID(); !ok || tx.Address < NodeStride {
		return StatusAddressError
	}
	return nil
}

func newDiscoverTransaction(ctx context.Context, channel int) *Transaction {
	return &Transaction{
		ID:      uuid.New(),
		Kind:    kindDiscover,
		Channel: channel,
		ctx:     ctx,
		done:    make(chan struct{}),
	}
}

// Done is closed once the transaction has completed.
func (tx *Transaction) Done() <-chan struct{} {
	return tx.done
}

// Result returns the completion, or StatusPending while still in flight.
func (tx *Transaction) Result() Result {
	select {
	case <-tx.done:
		return tx.result
	default:
		return Result{Status: StatusPending}
	}
}

// Wait blocks until the transaction completes or ctx is done.
func (tx *Transaction) Wait(ctx context.Context) (Result, error) {
	select {
	case <-tx.done:
		return tx.result, tx.result.Status.Err()
	case <-ctx.Done():
		return Result{Status: StatusPending}, ctx.Err()
	}
}

// complete fills the result and releases the caller. Only the first call
// has any effect; before runs after the result is set and before release.
func (tx *Transaction) complete(st Status, data []byte, before func(*Transaction)) bool {
	fired := false
	tx.once.Do(func() {
		tx.result.Status = st
		tx.result.Length = copy(tx.result.Data[:], data)
		tx.result.Timestamp = time.Now()
		if before != nil {
			before(tx)
		}
		fired = true
		close(tx.done)
	})
	return fired
}

func (tx *Transaction) record() Record {
	rec := Record{
		ID:        tx.ID,
		Kind:      tx.Kind,
		Channel:   tx.Channel,
		Address:   tx.Address,
		Request:   append([]byte(nil), tx.Data[:min(max(tx.Length, 0), len(tx.Data))]...),
		Response:  append([]byte(nil), tx.result.Bytes()...),
		Status:    tx.result.Status,
		Submitted: tx.submitted,
		Completed: tx.result.Timestamp,
	}
	return rec
}

// Record is the audit view of a completed transaction handed to a Recorder.
type Record struct {
	ID        uuid.UUID
	Kind      Kind
	Channel   int
	Address   BusAddress
	Request   []byte
	Response  []byte
	Status    Status
	Submitted time.Time
	Completed time.Time
}
