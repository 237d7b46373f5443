package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/HimethW/RFID-forklift/internal/adapter/metrics"
	"github.com/HimethW/RFID-forklift/internal/domain"
	apperrors "github.com/HimethW/RFID-forklift/internal/platform/errors"
)

const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 500

	relayTimeout = 2 * time.Second
)

var _ domain.ScanService = (*ScanService)(nil)

// ScanService records scans and fans them out. A scan is broadcast only after
// its write has been acknowledged, and never when the write fails.
type ScanService struct {
	recorder    domain.ScanRecorder
	history     domain.ScanHistory
	broadcaster domain.ScanBroadcaster
	relay       domain.ScanRelay
	metrics     *metrics.ScanMetrics
}

// NewScanService creates the ingestion service. relay may be nil when only a
// single instance is running.
func NewScanService(recorder domain.ScanRecorder, history domain.ScanHistory, broadcaster domain.ScanBroadcaster, relay domain.ScanRelay, m *metrics.ScanMetrics) *ScanService {
	return &ScanService{
		recorder:    recorder,
		history:     history,
		broadcaster: broadcaster,
		relay:       relay,
		metrics:     m,
	}
}

// Ingest validates, persists and broadcasts one scan. The tag ID is stored
// exactly as received; whitespace-only IDs count as missing.
func (s *ScanService) Ingest(ctx context.Context, rawTagID string) (domain.Scan, error) {
	if strings.TrimSpace(rawTagID) == "" {
		s.metrics.IngestedTotal.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return domain.Scan{}, apperrors.ValidationError("ID is required")
	}

	scan, err := s.recorder.Record(ctx, rawTagID)
	if err != nil {
		s.metrics.IngestedTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return domain.Scan{}, apperrors.InternalError("Failed to save scan", err).WithField("tag_id", rawTagID)
	}

	s.metrics.IngestedTotal.WithLabelValues(metrics.OutcomeSaved).Inc()
	slog.InfoContext(ctx, "Scan saved", "tag_id", scan.TagID)

	s.broadcaster.Broadcast(scan)
	s.relayScan(ctx, scan)

	return scan, nil
}

func (s *ScanService) relayScan(ctx context.Context, scan domain.Scan) {
	if s.relay == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), relayTimeout)
	defer cancel()

	if err := s.relay.Publish(ctx, scan); err != nil {
		slog.WarnContext(ctx, "Failed to relay scan", "tag_id", scan.TagID, "error", err)
	}
}

// Recent returns the latest scans, newest first. limit is clamped to
// [1, MaxRecentLimit]; zero or negative selects DefaultRecentLimit.
func (s *ScanService) Recent(ctx context.Context, limit int) ([]domain.Scan, error) {
	switch {
	case limit <= 0:
		limit = DefaultRecentLimit
	case limit > MaxRecentLimit:
		limit = MaxRecentLimit
	}

	scans, err := s.history.Recent(ctx, limit)
	if err != nil {
		return nil, apperrors.InternalError("Failed to load scans", err)
	}
	return scans, nil
}
