// Package influxdb records completed AMB transactions as InfluxDB points.
package influxdb

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"

	amb "github.com/jaster-prj/go-amb"
)

// Measurement is the measurement name of transaction points.
const Measurement = "amb_transactions"

// Config holds InfluxDB connection configuration
type Config struct {
	URL      string
	Token    string
	Database string
}

// Writer batches transaction records and writes them as points.
type Writer struct {
	client     *influxdb3.Client
	batchSize  int
	batch      []amb.Record
	batchChan  chan amb.Record
	ctx        context.Context
	cancel     context.CancelFunc
	flushTimer *time.Ticker
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// New creates a new InfluxDB writer
func New(config Config, batchSize int, logger *slog.Logger) (*Writer, error) {
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     config.URL,
		Token:    config.Token,
		Database: config.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create InfluxDB client: %w", err)
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Writer{
		client:     client,
		batchSize:  batchSize,
		batch:      make([]amb.Record, 0, batchSize),
		batchChan:  make(chan amb.Record, batchSize*2),
		ctx:        ctx,
		cancel:     cancel,
		flushTimer: time.NewTicker(time.Second),
		logger:     logger,
	}, nil
}

// Start begins processing and writing records
func (w *Writer) Start() {
	w.wg.Add(1)
	go w.writeLoop()
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			for {
				select {
				case rec := <-w.batchChan:
					w.batch = append(w.batch, rec)
				default:
					w.flush(context.Background())
					return
				}
			}

		case rec := <-w.batchChan:
			w.batch = append(w.batch, rec)
			if len(w.batch) >= w.batchSize {
				w.flush(w.ctx)
			}

		case <-w.flushTimer.C:
			w.flush(w.ctx)
		}
	}
}

func (w *Writer) flush(ctx context.Context) {
	if len(w.batch) == 0 {
		return
	}
	points := make([]*influxdb3.Point, 0, len(w.batch))
	for _, rec := range w.batch {
		points = append(points, influxdb3.NewPoint(Measurement, tags(rec), fields(rec), rec.Completed))
	}
	if err := w.client.WritePoints(ctx, points); err != nil {
		w.logger.Error("amb: influxdb write failed", "records", len(w.batch), "error", err)
	}
	w.batch = w.batch[:0]
}

func tags(rec amb.Record) map[string]string {
	node, _ := rec.Address.Split()
	return map[string]string{
		"kind":    rec.Kind.String(),
		"channel": strconv.Itoa(rec.Channel),
		"node":    fmt.Sprintf("0x%X", node),
		"status":  rec.Status.String(),
	}
}

func fields(rec amb.Record) map[string]any {
	_, rca := rec.Address.Split()
	return map[string]any{
		"id":         rec.ID.String(),
		"rca":        int64(rca),
		"request":    hex.EncodeToString(rec.Request),
		"response":   hex.EncodeToString(rec.Response),
		"latency_us": rec.Completed.Sub(rec.Submitted).Microseconds(),
	}
}

// Record queues rec, dropping it when the queue is full.
func (w *Writer) Record(rec amb.Record) {
	select {
	case w.batchChan <- rec:
	default:
		w.logger.Warn("amb: influxdb queue full, dropping record", "id", rec.ID)
	}
}

// Close flushes pending records and closes the client.
func (w *Writer) Close() error {
	w.cancel()
	w.wg.Wait()
	w.flushTimer.Stop()
	return w.client.Close()
}
