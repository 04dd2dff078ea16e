package amb

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/angelodlfrtr/go-can/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordSink struct {
	mu      sync.Mutex
	records []slog.Record
}

func (s *recordSink) Enabled(context.Context, slog.Level) bool { return true }

func (s *recordSink) Handle(_ context.Context, r slog.Record) error {
	s.mu.Lock()
	s.records = append(s.records, r.Clone())
	s.mu.Unlock()
	return nil
}

func (s *recordSink) WithAttrs([]slog.Attr) slog.Handler { return s }
func (s *recordSink) WithGroup(string) slog.Handler      { return s }

func (s *recordSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.records {
		out = append(out, r.Message)
	}
	return out
}

type discoverMock struct {
	*transportMock
}

func (d discoverMock) DiscoverNodes(h Handle, channel int, window time.Duration) ([]NodeInfo, error) {
	return []NodeInfo{{Address: 1}}, nil
}

func TestLoggedTransport(t *testing.T) {
	sink := &recordSink{}
	tr := newTransportMock()
	tr.On("OpenChannel", 0).Return("h0", nil)
	tr.On("WriteFrame", uint32(0x40001), []byte{0x01, 0x02}).Return(nil, nil)
	tr.On("WriteFrame", uint32(0x40002), []byte{}).Return(errors.New("bus off"), nil)

	lt := NewLoggedTransport(tr, slog.New(sink), slog.LevelDebug)
	_, isDiscoverer := lt.(NodeDiscoverer)
	assert.False(t, isDiscoverer)

	h, err := lt.OpenChannel(0)
	require.NoError(t, err)
	require.NoError(t, lt.WriteFrame(h, &frame.Frame{ArbitrationID: 0x40001, DLC: 2, Data: [8]byte{1, 2}}))
	assert.Error(t, lt.WriteFrame(h, &frame.Frame{ArbitrationID: 0x40002}))

	_, err = lt.ReadFrame(h, time.Millisecond)
	assert.ErrorIs(t, err, ErrReadTimeout)

	tr.rx <- &frame.Frame{ArbitrationID: 0x40001, DLC: 12}
	frm, err := lt.ReadFrame(h, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x40001), frm.ArbitrationID)

	assert.Equal(t, []string{
		"amb: channel opened",
		"amb: frame write",
		"amb: frame write",
		"amb: frame write error",
		"amb: frame read",
	}, sink.messages())
}

func TestLoggedTransport_Discoverer(t *testing.T) {
	sink := &recordSink{}
	lt := NewLoggedTransport(discoverMock{newTransportMock()}, slog.New(sink), slog.LevelInfo)

	d, ok := lt.(NodeDiscoverer)
	require.True(t, ok)
	nodes, err := d.DiscoverNodes("h", 0, time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
	assert.Equal(t, []string{"amb: node discovery"}, sink.messages())
}

func TestFrameData(t *testing.T) {
	frm := &frame.Frame{DLC: 3, Data: [8]byte{1, 2, 3, 4}}
	assert.Equal(t, []byte{1, 2, 3}, frameData(frm))
	frm.DLC = 15
	assert.Len(t, frameData(frm), 8)
}
