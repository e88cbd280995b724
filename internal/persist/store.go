// Package persist writes aggregation results to durable storage in the
// background. Nothing here is on the read path's critical section.
package persist

import (
	"context"
	"time"

	"github.com/gustycube/podwatch/internal/model"
)

// Store is the durable backend.
type Store interface {
	// UpsertNodes inserts or updates records keyed by external id.
	UpsertNodes(ctx context.Context, records []model.NodeRecord) error
	// AppendHistory adds one row per point.
	AppendHistory(ctx context.Context, points []model.HistoryPoint) error
	// History returns the points for id observed at or after since, oldest
	// first.
	History(ctx context.Context, id string, since time.Time) ([]model.HistoryPoint, error)
	// ListNodes returns the last persisted record of every pod.
	ListNodes(ctx context.Context) ([]model.NodeRecord, error)
	Ping(ctx context.Context) error
	Close()
}

// Nop is the Store used when no database is configured.
type Nop struct{}

func (Nop) UpsertNodes(context.Context, []model.NodeRecord) error     { return nil }
func (Nop) AppendHistory(context.Context, []model.HistoryPoint) error { return nil }
func (Nop) History(context.Context, string, time.Time) ([]model.HistoryPoint, error) {
	return nil, nil
}
func (Nop) ListNodes(context.Context) ([]model.NodeRecord, error) { return nil, nil }
func (Nop) Ping(context.Context) error                            { return nil }
func (Nop) Close()                                                {}

// IsNop reports whether s persists nothing.
func IsNop(s Store) bool {
	_, ok := s.(Nop)
	return ok
}
