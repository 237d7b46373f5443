package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HimethW/RFID-forklift/internal/adapter/metrics"
	"github.com/HimethW/RFID-forklift/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/sony/gobreaker"
)

const (
	insertScanSQL  = `INSERT INTO scans (tag_id, timestamp) VALUES ($1, NOW()) RETURNING tag_id, timestamp`
	recentScansSQL = `SELECT tag_id, timestamp FROM scans ORDER BY timestamp DESC, id DESC LIMIT $1`

	breakerFailureThreshold = 5
	breakerOpenDuration     = 30 * time.Second
)

// DBTX is the subset of pgxpool.Pool used by the repositories.
type DBTX interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var (
	_ domain.ScanRecorder = (*ScanRepo)(nil)
	_ domain.ScanHistory  = (*ScanRepo)(nil)
)

type ScanRepo struct {
	db           DBTX
	breaker      *gobreaker.CircuitBreaker
	writeTimeout time.Duration
}

// NewScanRepo creates the scan repository. Writes run under writeTimeout and
// behind a circuit breaker that opens after consecutive failures.
// m may be nil.
func NewScanRepo(db DBTX, writeTimeout time.Duration, m *metrics.DatabaseMetrics) *ScanRepo {
	return &ScanRepo{
		db:           db,
		breaker:      newWriteBreaker(m),
		writeTimeout: writeTimeout,
	}
}

func newWriteBreaker(m *metrics.DatabaseMetrics) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "postgres-writes",
		MaxRequests: 1,
		Timeout:     breakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		// A caller that went away says nothing about database health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			if m != nil {
				m.BreakerState.Set(breakerStateValue(to))
			}
		},
	})
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Record inserts one scan and returns the stored row. The timestamp is the
// database clock at insert time, normalized to UTC. The insert is detached
// from caller cancellation and bounded only by the write timeout.
func (r *ScanRepo) Record(ctx context.Context, tagID string) (domain.Scan, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()

	result, err := r.breaker.Execute(func() (any, error) {
		var scan domain.Scan
		if err := r.db.QueryRow(ctx, insertScanSQL, tagID).Scan(&scan.TagID, &scan.Timestamp); err != nil {
			return nil, err
		}
		return scan, nil
	})
	if err != nil {
		return domain.Scan{}, fmt.Errorf("failed to insert scan: %w", err)
	}

	scan := result.(domain.Scan)
	scan.Timestamp = scan.Timestamp.UTC()
	return scan, nil
}

// Recent returns up to limit scans, newest first.
func (r *ScanRepo) Recent(ctx context.Context, limit int) ([]domain.Scan, error) {
	rows, err := r.db.Query(ctx, recentScansSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent scans: %w", err)
	}

	scans, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Scan, error) {
		var scan domain.Scan
		err := row.Scan(&scan.TagID, &scan.Timestamp)
		scan.Timestamp = scan.Timestamp.UTC()
		return scan, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read recent scans: %w", err)
	}
	return scans, nil
}
