// Package ingestion fans a batch of scraped records out over a bounded
// worker pool and aggregates per-record outcomes into a run report.
package ingestion

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/ingest"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// RecordProcessor ingests a single raw record.
type RecordProcessor interface {
	ProcessRecord(ctx context.Context, raw models.RawRecord) (ingest.Outcome, error)
}

// Service runs ingestion batches.
type Service struct {
	processor RecordProcessor
	logger    ectologger.Logger
	workers   int
}

// NewService creates a new ingestion service.
func NewService(processor RecordProcessor, workers int, logger ectologger.Logger) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{
		processor: processor,
		logger:    logger,
		workers:   workers,
	}
}

// IngestBatch processes every record of one scrape run. Records fail
// individually; the batch always runs to completion and the report counts
// every outcome. Workers share nothing but the feed channel, so two records
// for the same UPC serialize on the row lock, not in here.
func (s *Service) IngestBatch(ctx context.Context, records []models.RawRecord) (*models.IngestReport, error) {
	ctx, span := tracing.StartSpan(ctx, "ingestion.Service.IngestBatch")
	defer span.End()

	start := time.Now()
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"records": len(records),
		"run_id":  appctx.GetCrawlRunID(ctx),
	})
	log.Info("Starting ingestion batch")

	feed := make(chan models.RawRecord)
	var mu sync.Mutex
	report := &models.IngestReport{}

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for raw := range feed {
				outcome, err := s.processor.ProcessRecord(ctx, raw)
				mu.Lock()
				report.Processed++
				switch outcome {
				case ingest.OutcomeCreated:
					report.Created++
					report.Snapshots++
				case ingest.OutcomeUpdated:
					report.Updated++
					report.Snapshots++
				case ingest.OutcomeUnchanged:
					report.Unchanged++
				case ingest.OutcomeInvalid:
					report.Invalid++
				default:
					// Retry exhaustion or a store error; the record got no
					// terminal outcome but still counts toward the total.
					report.Failed++
				}
				mu.Unlock()
				if err != nil && outcome != ingest.OutcomeInvalid {
					s.logger.WithContext(ctx).WithError(err).Warn("Record ingestion failed")
				}
			}
		}()
	}

	for _, raw := range records {
		select {
		case feed <- raw:
		case <-ctx.Done():
			// Stop feeding; in-flight records still finish and count.
			close(feed)
			wg.Wait()
			log.WithError(ctx.Err()).Warn("Ingestion batch cancelled")
			return report, ctx.Err()
		}
	}
	close(feed)
	wg.Wait()

	elapsed := time.Since(start)
	metrics.BatchDuration.Observe(elapsed.Seconds())
	log.WithFields(map[string]any{
		"created":     report.Created,
		"updated":     report.Updated,
		"unchanged":   report.Unchanged,
		"invalid":     report.Invalid,
		"failed":      report.Failed,
		"snapshots":   report.Snapshots,
		"duration_ms": elapsed.Milliseconds(),
	}).Info("Ingestion batch complete")

	return report, nil
}
