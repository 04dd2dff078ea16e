package amb_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/angelodlfrtr/go-can/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amb "github.com/jaster-prj/go-amb"
	"github.com/jaster-prj/go-amb/transport/sim"
)

var lo2Serial = [8]byte{0x10, 0x00, 0x00, 0x00, 0x13, 0x37, 0x00, 0x01}

func newSimInterface(t *testing.T, bus *sim.Bus) *amb.Interface {
	t.Helper()
	cfg := amb.DefaultConfig()
	cfg.MonitorTimeout = 100 * time.Millisecond
	iface, err := amb.New(cfg, bus)
	require.NoError(t, err)
	t.Cleanup(func() { iface.Close() })
	return iface
}

func TestNode_CommandThenMonitor(t *testing.T) {
	bus := sim.NewBus()
	dev := bus.AddDevice(0, 0x13, lo2Serial)
	node := newSimInterface(t, bus).Node(0, 0x13)
	ctx := context.Background()

	require.NoError(t, node.CommandFloat(ctx, 0x10801, 3.14159))
	stored, ok := dev.Register(0x10801)
	require.True(t, ok)
	assert.Equal(t, amb.PackFloat(3.14159), stored)

	value, st, err := node.MonitorWithStatus(ctx, 0x10801, 4)
	require.NoError(t, err)
	assert.Equal(t, amb.FEMCNoError, st)
	f, err := amb.UnpackFloat(value)
	require.NoError(t, err)
	assert.Equal(t, float32(3.14159), f)

	dev.SetStatus(amb.FEMCHardwBlocked)
	require.NoError(t, node.CommandU16(ctx, 0x10802, 0x1234))
	value, st, err = node.MonitorWithStatus(ctx, 0x10802, 2)
	require.NoError(t, err)
	assert.Equal(t, amb.FEMCHardwBlocked, st)
	assert.Equal(t, []byte{0x12, 0x34}, value)
	assert.Equal(t, 2, dev.Commands())
}

func TestNode_TypedMonitors(t *testing.T) {
	bus := sim.NewBus()
	dev := bus.AddDevice(1, 0x20, lo2Serial)
	dev.SetMonitor(0x1, amb.PackU32(0xDEADBEEF))
	dev.SetMonitor(0x2, amb.PackS16(-1234))
	dev.SetMonitor(0x3, amb.PackBool(true))
	dev.SetMonitor(0x4, amb.PackU8(0x7F))
	node := newSimInterface(t, bus).Node(1, 0x20)
	ctx := context.Background()

	u32, err := node.MonitorU32(ctx, 0x1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), u32)

	s16, err := node.MonitorS16(ctx, 0x2)
	require.NoError(t, err)
	assert.Equal(t, int16(-1234), s16)

	b, err := node.MonitorBool(ctx, 0x3)
	require.NoError(t, err)
	assert.True(t, b)

	u8, err := node.MonitorU8(ctx, 0x4)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x7F), u8)

	_, err = node.MonitorU16(ctx, 0x4)
	assert.ErrorIs(t, err, amb.ErrShortPayload)
	assert.Equal(t, uint16(0x20), node.GetId())
}

func TestInterface_FIFOOrder(t *testing.T) {
	bus := sim.NewBus()
	bus.AddDevice(0, 0x13, lo2Serial)
	iface := newSimInterface(t, bus)

	var txs []*amb.Transaction
	for i := 0; i < 20; i++ {
		tx, err := amb.NewTransaction(context.Background(), amb.KindCommand, 0, 0x13, uint32(i), []byte{byte(i)})
		require.NoError(t, err)
		require.NoError(t, iface.Submit(tx))
		txs = append(txs, tx)
	}
	for _, tx := range txs {
		_, err := tx.Wait(context.Background())
		require.NoError(t, err)
	}

	written := bus.Written()
	require.Len(t, written, 20)
	for i, frm := range written {
		assert.Equal(t, uint32(amb.FlatAddress(0x13, uint32(i))), frm.ArbitrationID)
		assert.Equal(t, byte(i), frm.Data[0])
	}
}

func TestInterface_SilentNodeTimesOut(t *testing.T) {
	bus := sim.NewBus()
	bus.AddDevice(0, 0x13, lo2Serial).SetSilent(true)
	iface := newSimInterface(t, bus)
	require.NoError(t, iface.SetTimeout(50*time.Millisecond))

	start := time.Now()
	data, err := iface.Monitor(context.Background(), 0, 0x13, 0x1)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, amb.StatusTimeout)
	assert.Empty(t, data)
	assert.Less(t, elapsed, 100*time.Millisecond)
}

func TestInterface_OpenFailureInitFailed(t *testing.T) {
	bus := sim.NewBus()
	bus.FailOpen(3)
	iface := newSimInterface(t, bus)

	_, err := iface.Monitor(context.Background(), 3, 0x13, 0x1)
	assert.ErrorIs(t, err, amb.StatusInitFailed)
	assert.False(t, iface.IsOpen(3))
	assert.Equal(t, 0, bus.Opens(3))
}

func TestInterface_NoTransmitLeavesBusUntouched(t *testing.T) {
	bus := sim.NewBus()
	bus.AddDevice(0, 0x13, lo2Serial)
	cfg := amb.DefaultConfig()
	cfg.NoTransmit = true
	iface, err := amb.New(cfg, bus)
	require.NoError(t, err)

	data, err := iface.Monitor(context.Background(), 0, 0x13, 0x1)
	assert.ErrorIs(t, err, amb.StatusTimeout)
	assert.Empty(t, data)
	require.NoError(t, iface.Close())

	assert.Equal(t, 0, bus.Opens(0))
	assert.Empty(t, bus.Written())
}

func TestInterface_FindNodes(t *testing.T) {
	bus := sim.NewBus()
	bus.AddDevice(2, 0x30, [8]byte{3})
	bus.AddDevice(2, 0x13, [8]byte{1})
	bus.AddDevice(2, 0x21, [8]byte{2}).SetSilent(true)
	bus.AddDevice(0, 0x44, [8]byte{4})
	iface := newSimInterface(t, bus)

	nodes, err := iface.FindNodes(context.Background(), 2)
	require.NoError(t, err)
	want := []amb.NodeInfo{
		{Address: 0x13, Serial: [8]byte{1}},
		{Address: 0x30, Serial: [8]byte{3}},
	}
	assert.Equal(t, want, nodes)

	cached, err := iface.Nodes(2)
	require.NoError(t, err)
	assert.Equal(t, want, cached)

	_, err = iface.Nodes(9)
	assert.ErrorIs(t, err, amb.ErrBadChannel)
}

func TestInterface_NextTE(t *testing.T) {
	bus := sim.NewBus()
	dev := bus.AddDevice(0, 0x13, lo2Serial)
	dev.SetMonitor(0x5, []byte{0xAA})
	iface := newSimInterface(t, bus)
	ctx := context.Background()

	var executed time.Time
	bus.OnWrite = func(channel int, _ frame.Frame) { executed = time.Now() }

	before := time.Now()
	require.NoError(t, iface.CommandNextTE(ctx, 0, 0x13, 0x6, []byte{0x01}))
	boundary := amb.NextTimingEvent(before)
	assert.False(t, executed.Before(boundary))

	data, err := iface.MonitorNextTE(ctx, 0, 0x13, 0x5)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA}, data)
}

func TestInterface_CloseClosesChannels(t *testing.T) {
	bus := sim.NewBus()
	bus.AddDevice(0, 0x13, lo2Serial)
	bus.AddDevice(4, 0x13, lo2Serial)
	cfg := amb.DefaultConfig()
	iface, err := amb.New(cfg, bus)
	require.NoError(t, err)

	require.NoError(t, iface.Command(context.Background(), 0, 0x13, 0x1, []byte{1}))
	require.NoError(t, iface.Command(context.Background(), 4, 0x13, 0x1, []byte{1}))
	require.NoError(t, iface.Close())
	require.NoError(t, iface.Close())

	assert.Equal(t, 1, bus.Closes(0))
	assert.Equal(t, 1, bus.Closes(4))
	assert.False(t, iface.IsOpen(0))
	assert.False(t, iface.IsOpen(4))

	err = iface.Command(context.Background(), 0, 0x13, 0x1, []byte{1})
	assert.ErrorIs(t, err, amb.StatusFlushed)
}

func TestInterface_FIFOAcrossGoroutines(t *testing.T) {
	bus := sim.NewBus()
	bus.AddDevice(0, 0x13, lo2Serial)
	iface := newSimInterface(t, bus)

	const workers, perWorker = 16, 20
	var (
		mu  sync.Mutex
		seq uint32
		wg  sync.WaitGroup
	)
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < perWorker; n++ {
				mu.Lock()
				tx, err := amb.NewTransaction(context.Background(), amb.KindCommand, 0, 0x13, seq, []byte{0x01})
				if err == nil {
					seq++
					err = iface.Submit(tx)
				}
				mu.Unlock()
				if err != nil {
					errs <- err
					continue
				}
				_, err = tx.Wait(context.Background())
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	written := bus.Written()
	require.Len(t, written, workers*perWorker)
	for i, frm := range written {
		_, rca := amb.BusAddress(frm.ArbitrationID).Split()
		assert.Equal(t, uint32(i), rca, "frame %d", i)
	}
}
