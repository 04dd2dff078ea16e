// Package clickhouse records completed AMB transactions into a ClickHouse
// table in batches.
package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	amb "github.com/jaster-prj/go-amb"
)

// Config holds ClickHouse connection configuration
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Table    string
}

// Writer batches transaction records and inserts them periodically.
type Writer struct {
	conn       driver.Conn
	table      string
	batchSize  int
	batch      []amb.Record
	batchChan  chan amb.Record
	ctx        context.Context
	cancel     context.CancelFunc
	flushTimer *time.Ticker
	wg         sync.WaitGroup
	logger     *slog.Logger
	dropped    atomic.Uint64
}

// New connects to ClickHouse, creates the table if needed and returns a
// writer. Call Start before recording.
func New(config Config, batchSize int, logger *slog.Logger) (*Writer, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", config.Host, config.Port)},
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	if err := createTable(conn, config.Table); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return NewWithConn(conn, config.Table, batchSize, logger), nil
}

// NewWithConn returns a writer on an existing connection.
func NewWithConn(conn driver.Conn, table string, batchSize int, logger *slog.Logger) *Writer {
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Writer{
		conn:       conn,
		table:      table,
		batchSize:  batchSize,
		batch:      make([]amb.Record, 0, batchSize),
		batchChan:  make(chan amb.Record, batchSize*2),
		ctx:        ctx,
		cancel:     cancel,
		flushTimer: time.NewTicker(time.Second),
		logger:     logger,
	}
}

func createTable(conn driver.Conn, tableName string) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			completed DateTime64(6),
			submitted DateTime64(6),
			id UUID,
			kind LowCardinality(String),
			channel UInt8,
			node UInt16,
			rca UInt32,
			request Array(UInt8),
			response Array(UInt8),
			status LowCardinality(String)
		) ENGINE = MergeTree()
		ORDER BY (completed, node, rca)
		PARTITION BY toYYYYMMDD(completed)
		TTL toDateTime(completed) + INTERVAL 1 MONTH
	`, tableName)

	return conn.Exec(context.Background(), query)
}

// Start begins the batching loop.
func (w *Writer) Start() {
	w.wg.Add(1)
	go w.writeLoop()
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			// drain what was queued before Close
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
	if err := w.insert(ctx, w.batch); err != nil {
		w.logger.Error("amb: clickhouse flush failed", "records", len(w.batch), "error", err)
	} else {
		w.logger.Debug("amb: clickhouse flushed", "records", len(w.batch))
	}
	w.batch = w.batch[:0]
}

func (w *Writer) insert(ctx context.Context, records []amb.Record) error {
	batch, err := w.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", w.table))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, rec := range records {
		if err := batch.Append(row(rec)...); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}
	return batch.Send()
}

// row returns the column values of rec in table order.
func row(rec amb.Record) []any {
	node, rca := rec.Address.Split()
	return []any{
		rec.Completed,
		rec.Submitted,
		rec.ID,
		rec.Kind.String(),
		uint8(rec.Channel),
		node,
		rca,
		rec.Request,
		rec.Response,
		rec.Status.String(),
	}
}

// Record queues rec. It drops the record when the queue is full.
func (w *Writer) Record(rec amb.Record) {
	select {
	case w.batchChan <- rec:
	default:
		if w.dropped.Add(1) == 1 {
			w.logger.Warn("amb: clickhouse queue full, dropping records")
		}
	}
}

// Dropped returns the number of records discarded because the queue was full.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Close flushes pending records and closes the connection.
func (w *Writer) Close() error {
	w.cancel()
	w.wg.Wait()
	w.flushTimer.Stop()
	return w.conn.Close()
}
