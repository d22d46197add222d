package storage

import (
	"context"

	"pudl/internal/model"
)

// Storage defines a sink for committed protocol events.
type Storage interface {
	PutEventBatch(ctx context.Context, records []model.EventRecord) error
}

// MetricsStorage receives aggregated window metrics.
type MetricsStorage interface {
	UpsertWindowMetrics(ctx context.Context, metrics []model.PoolWindowMetrics) error
}
