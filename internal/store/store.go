package store

import (
	"context"
	"time"
)

// Entry is one recorded lifecycle operation.
type Entry struct {
	ID        string
	Container string
	Op        string
	Outcome   string
	Detail    string
	Duration  time.Duration
	At        time.Time
}

// AuditLog records lifecycle operations for later inspection.
type AuditLog interface {
	Record(ctx context.Context, e Entry) error
	Close()
}
