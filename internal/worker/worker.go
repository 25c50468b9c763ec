// Package worker runs background jobs queued at session end.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atl-live/backend/internal/activities"
	"github.com/atl-live/backend/pkg/queue"
	"github.com/atl-live/backend/pkg/storage"
)

// ArchiveProcessor exports session archives: load from the database,
// serialize and upload to S3 so hosts can download past runs.
type ArchiveProcessor struct {
	repo   *activities.Repository
	s3     *storage.S3
	queue  *queue.Queue
	logger *zap.Logger
}

// NewArchiveProcessor creates an archive export processor.
func NewArchiveProcessor(repo *activities.Repository, s3 *storage.S3, q *queue.Queue, logger *zap.Logger) *ArchiveProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveProcessor{repo: repo, s3: s3, queue: q, logger: logger}
}

// Process executes one archive export job.
func (p *ArchiveProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeArchiveExport {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ArchiveExportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	archive, err := p.repo.GetArchive(ctx, payload.ArchiveID)
	if err != nil {
		return fmt.Errorf("load archive: %w", err)
	}

	body, err := json.Marshal(archive)
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}

	key := storage.ArchiveKey(payload.ActivityID, payload.ArchiveID)
	url, err := p.s3.Upload(ctx, p.s3.ArchiveBucket(), key, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	p.logger.Info("archive exported",
		zap.String("archive_id", payload.ArchiveID),
		zap.String("activity_id", payload.ActivityID),
		zap.String("s3_url", url))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ArchiveProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("archive worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
		}
	}
}
