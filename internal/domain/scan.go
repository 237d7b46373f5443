package domain

import (
	"context"
	"time"
)

// Scan is one RFID tag read. Timestamp is assigned by the database on insert
// and reused unchanged for the broadcast payload and the HTTP response.
type Scan struct {
	TagID     string    `json:"tag_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ScanRecorder persists scans.
type ScanRecorder interface {
	Record(ctx context.Context, tagID string) (Scan, error)
}

// ScanHistory lists the most recent scans, newest first.
type ScanHistory interface {
	Recent(ctx context.Context, limit int) ([]Scan, error)
}

// ScanBroadcaster fans a scan out to the local WebSocket subscribers.
// Delivery is best-effort; it never reports per-subscriber failures.
type ScanBroadcaster interface {
	Broadcast(scan Scan)
}

// ScanRelay forwards scans to other server instances.
type ScanRelay interface {
	Publish(ctx context.Context, scan Scan) error
}

// ScanService is the ingestion use case consumed by the HTTP layer.
type ScanService interface {
	Ingest(ctx context.Context, rawTagID string) (Scan, error)
	Recent(ctx context.Context, limit int) ([]Scan, error)
}
