package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/voyagen/stationvault/internal/cache"
)

const dequeueTimeout = 5 * time.Second

// RunWorker consumes import jobs from the Redis queue until ctx is done.
// Jobs run one after another; a job that finds another replica importing is
// dropped because that run already covers it.
func (im *Importer) RunWorker(ctx context.Context) error {
	if im.redis == nil {
		return errors.New("import worker requires redis")
	}
	im.log.Info("import worker started", zap.String("queue", im.queue))
	for {
		if ctx.Err() != nil {
			im.log.Info("import worker stopped")
			return nil
		}
		job, err := cache.Dequeue(ctx, im.redis, im.queue, dequeueTimeout)
		if err != nil {
			im.log.Warn("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}
		im.log.Info("import job received",
			zap.Time("requested_at", job.RequestedAt),
			zap.String("requested_by", job.RequestedBy))
		if _, err := im.Run(ctx); err != nil {
			if errors.Is(err, ErrImportInProgress) {
				im.log.Info("import job skipped, run in progress")
				continue
			}
			im.log.Warn("import job failed", zap.Error(err))
		}
	}
}
