package amb

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/angelodlfrtr/go-can/frame"
)

// NewLoggedTransport wraps inner and logs every frame written and read at
// the given level. Read timeouts are not logged.
func NewLoggedTransport(inner Transport, logger *slog.Logger, level slog.Level) Transport {
	lt := &loggedTransport{
		inner:  inner,
		logger: logger,
		level:  level,
	}
	if d, ok := inner.(NodeDiscoverer); ok {
		return &loggedDiscoverer{loggedTransport: lt, discoverer: d}
	}
	return lt
}

type loggedTransport struct {
	inner  Transport
	logger *slog.Logger
	level  slog.Level
}

func (l *loggedTransport) OpenChannel(channel int) (Handle, error) {
	h, err := l.inner.OpenChannel(channel)
	if err != nil {
		l.logger.Error("amb: open channel failed", "channel", channel, "error", err)
	} else {
		l.logger.Log(context.Background(), l.level, "amb: channel opened", "channel", channel)
	}
	return h, err
}

func (l *loggedTransport) CloseChannel(channel int, h Handle) error {
	err := l.inner.CloseChannel(channel, h)
	l.logger.Log(context.Background(), l.level, "amb: channel closed", "channel", channel, "error", err)
	return err
}

func (l *loggedTransport) WriteFrame(h Handle, frm *frame.Frame) error {
	l.logger.Log(context.Background(), l.level, "amb: frame write",
		"id", frm.ArbitrationID,
		"len", int(frm.DLC),
		"data", frameData(frm),
	)
	err := l.inner.WriteFrame(h, frm)
	if err != nil {
		l.logger.Error("amb: frame write error", "id", frm.ArbitrationID, "error", err)
	}
	return err
}

func (l *loggedTransport) ReadFrame(h Handle, timeout time.Duration) (*frame.Frame, error) {
	frm, err := l.inner.ReadFrame(h, timeout)
	switch {
	case errors.Is(err, ErrReadTimeout):
	case err != nil:
		l.logger.Error("amb: frame read error", "error", err)
	default:
		l.logger.Log(context.Background(), l.level, "amb: frame read",
			"id", frm.ArbitrationID,
			"len", int(frm.DLC),
			"data", frameData(frm),
		)
	}
	return frm, err
}

type loggedDiscoverer struct {
	*loggedTransport
	discoverer NodeDiscoverer
}

func (l *loggedDiscoverer) DiscoverNodes(h Handle, channel int, window time.Duration) ([]NodeInfo, error) {
	nodes, err := l.discoverer.DiscoverNodes(h, channel, window)
	l.logger.Log(context.Background(), l.level, "amb: node discovery",
		"channel", channel,
		"nodes", len(nodes),
		"error", err,
	)
	return nodes, err
}
