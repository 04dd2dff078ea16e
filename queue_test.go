package amb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransaction(t *testing.T, rca uint32) *Transaction {
	t.Helper()
	tx, err := NewTransaction(context.Background(), KindMonitor, 0, 0x13, rca, nil)
	require.NoError(t, err)
	return tx
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(0)
	assert.Nil(t, q.Dequeue())

	var want []*Transaction
	for rca := uint32(0); rca < 5; rca++ {
		tx := newTestTransaction(t, rca)
		require.NoError(t, q.Enqueue(tx))
		want = append(want, tx)
	}
	assert.Equal(t, 5, q.Len())

	select {
	case <-q.Ready():
	default:
		t.Fatal("ready not signalled")
	}

	for _, tx := range want {
		assert.Same(t, tx, q.Dequeue())
	}
	assert.Nil(t, q.Dequeue())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_Depth(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Enqueue(newTestTransaction(t, 1)))
	require.NoError(t, q.Enqueue(newTestTransaction(t, 2)))
	assert.ErrorIs(t, q.Enqueue(newTestTransaction(t, 3)), StatusNoMemory)

	q.Dequeue()
	assert.NoError(t, q.Enqueue(newTestTransaction(t, 4)))
}

func TestQueue_DrainAndFail(t *testing.T) {
	q := NewQueue(0)
	txs := []*Transaction{newTestTransaction(t, 1), newTestTransaction(t, 2), newTestTransaction(t, 3)}
	for _, tx := range txs {
		require.NoError(t, q.Enqueue(tx))
	}

	assert.Equal(t, 3, q.DrainAndFail(StatusFlushed))
	for _, tx := range txs {
		assert.Equal(t, StatusFlushed, tx.Result().Status)
	}
	assert.Equal(t, 0, q.Len())

	late := newTestTransaction(t, 4)
	assert.ErrorIs(t, q.Enqueue(late), StatusFlushed)
	assert.Equal(t, StatusPending, late.Result().Status)
	assert.Equal(t, 0, q.DrainAndFail(StatusFlushed))
}
