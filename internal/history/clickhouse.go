package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/assetpulse/assetpulse/internal/config"
	"github.com/assetpulse/assetpulse/internal/engine"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	insertTimeout     = 10 * time.Second
	defaultBufferSize = 1000
)

const reportsDDL = `
CREATE TABLE IF NOT EXISTS assessment_reports (
	id             String,
	received_at    DateTime64(3, 'UTC'),
	completed_at   DateTime64(3, 'UTC'),
	overall_status LowCardinality(String),
	reading_count  UInt32,
	report         String
) ENGINE = MergeTree()
ORDER BY (received_at, id)
TTL toDateTime(received_at) + INTERVAL 90 DAY`

// Sink persists completed reports to ClickHouse.
// Save() is non-blocking: reports are placed in an in-memory buffer (capacity
// 1000). When the buffer is full the oldest entry is evicted so the latest
// report is always preserved. Run() drains the buffer, reconnecting with
// truncated exponential backoff on connection or insert errors.
type Sink struct {
	cfg config.HistoryConfig
	buf chan *engine.Report

	// dialFn is injectable for tests.
	dialFn func(cfg config.HistoryConfig) (driver.Conn, error)
}

// Open creates a Sink for the configured backend. Returns nil when history is
// disabled — the caller simply skips Save and Run.
func Open(cfg config.HistoryConfig) (*Sink, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "clickhouse":
		return &Sink{
			cfg:    cfg,
			buf:    make(chan *engine.Report, defaultBufferSize),
			dialFn: dialClickHouse,
		}, nil
	default:
		return nil, fmt.Errorf("history: unknown backend %q", cfg.Backend)
	}
}

// Save enqueues a report for persistence. If the buffer is full the oldest
// entry is evicted to make room.
func (s *Sink) Save(rep *engine.Report) {
	select {
	case s.buf <- rep:
	default:
		// Buffer full — drop the oldest report, keep the newest.
		select {
		case <-s.buf:
			slog.Warn("history: buffer full, evicted oldest report",
				"report", rep.ID, "buffer_cap", cap(s.buf))
		default:
		}
		s.buf <- rep
	}
}

// Run drains the buffer, inserting reports into ClickHouse.
// It reconnects with exponential backoff when the connection is lost.
// Run blocks until ctx is cancelled.
func (s *Sink) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.connect(ctx)
		if err != nil {
			wait := bo.next()
			slog.Error("history: connect failed, will retry",
				"addr", s.cfg.Addr,
				"err", err,
				"retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}

		slog.Info("history: connected", "addr", s.cfg.Addr)
		bo.reset()

		if err := s.drain(ctx, conn); err != nil {
			slog.Error("history: insert failed, reconnecting", "err", err)
		}
		conn.Close() //nolint:errcheck

		if ctx.Err() != nil {
			return
		}
	}
}

// connect dials ClickHouse and ensures the reports table exists.
func (s *Sink) connect(ctx context.Context) (driver.Conn, error) {
	conn, err := s.dialFn(s.cfg)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	ddlCtx, cancel := context.WithTimeout(ctx, insertTimeout)
	defer cancel()
	if err := conn.Exec(ddlCtx, reportsDDL); err != nil {
		conn.Close() //nolint:errcheck
		return nil, fmt.Errorf("ensure table: %w", err)
	}
	return conn, nil
}

// drain inserts buffered reports until ctx is cancelled or an insert fails.
// A failed report is re-enqueued via Save so it is retried after reconnect.
func (s *Sink) drain(ctx context.Context, conn driver.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case rep := <-s.buf:
			if err := s.insert(ctx, conn, rep); err != nil {
				s.Save(rep)
				return err
			}
			slog.Debug("history: report persisted", "report", rep.ID)
		}
	}
}

func (s *Sink) insert(ctx context.Context, conn driver.Conn, rep *engine.Report) error {
	full, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	insCtx, cancel := context.WithTimeout(ctx, insertTimeout)
	defer cancel()

	return conn.Exec(insCtx,
		`INSERT INTO assessment_reports
			(id, received_at, completed_at, overall_status, reading_count, report)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rep.ID,
		rep.ReceivedAt,
		rep.CompletedAt,
		rep.OverallStatus,
		uint32(rep.ReadingCount),
		string(full),
	)
}

// dialClickHouse opens the native-protocol connection from the history config.
func dialClickHouse(cfg config.HistoryConfig) (driver.Conn, error) {
	return clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password(),
		},
		DialTimeout: 5 * time.Second,
	})
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	// Advance for next call.
	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
