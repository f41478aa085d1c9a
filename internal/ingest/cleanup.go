package ingest

import (
	"context"
	"log/slog"
	"time"
)

type ObjectPruner interface {
	ListObjectsBefore(ctx context.Context, prefix string, cutoff time.Time) ([]string, error)
	DeleteObjects(ctx context.Context, keys []string) error
}

// CleanupFrames deletes uploaded frames and snapshots older than retention.
func CleanupFrames(ctx context.Context, objects ObjectPruner, retention time.Duration, now time.Time) {
	cutoff := now.Add(-retention)
	for _, prefix := range []string{"frames/", "snapshots/"} {
		keys, err := objects.ListObjectsBefore(ctx, prefix, cutoff)
		if err != nil {
			slog.Warn("cleanup: list objects", "prefix", prefix, "error", err)
			continue
		}
		if len(keys) == 0 {
			continue
		}
		if err := objects.DeleteObjects(ctx, keys); err != nil {
			slog.Warn("cleanup: delete objects", "prefix", prefix, "error", err)
			continue
		}
		slog.Info("cleanup: deleted old objects", "prefix", prefix, "deleted", len(keys))
	}
}
