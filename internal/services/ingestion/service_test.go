package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/ingest"
	"github.com/Ramsey-B/fern/pkg/models"
)

// fakeProcessor maps each record's upc to a scripted outcome.
type fakeProcessor struct {
	mu       sync.Mutex
	outcomes map[string]ingest.Outcome
	errs     map[string]error
	delay    time.Duration
	calls    int
}

func (f *fakeProcessor) ProcessRecord(_ context.Context, raw models.RawRecord) (ingest.Outcome, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	upc, _ := raw["upc"].(string)
	return f.outcomes[upc], f.errs[upc]
}

func record(upc string) models.RawRecord {
	return models.RawRecord{"upc": upc}
}

func newTestService(processor *fakeProcessor, workers int) *Service {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewService(processor, workers, logger)
}

func TestIngestBatch_ReportBucketsSumToProcessed(t *testing.T) {
	processor := &fakeProcessor{
		outcomes: map[string]ingest.Outcome{
			"a": ingest.OutcomeCreated,
			"b": ingest.OutcomeUpdated,
			"c": ingest.OutcomeUnchanged,
			"d": ingest.OutcomeInvalid,
		},
		errs: map[string]error{
			"d": errors.New("missing title"),
			"e": errors.New("store unavailable"),
		},
	}
	svc := newTestService(processor, 2)

	report, err := svc.IngestBatch(context.Background(), []models.RawRecord{
		record("a"), record("b"), record("c"), record("d"), record("e"),
	})

	require.NoError(t, err)
	assert.Equal(t, 5, report.Processed)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 1, report.Invalid)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Snapshots)
	assert.Equal(t, report.Processed, report.Created+report.Updated+report.Unchanged+report.Invalid+report.Failed)
}

func TestIngestBatch_EmptyBatch(t *testing.T) {
	processor := &fakeProcessor{}
	svc := newTestService(processor, 4)

	report, err := svc.IngestBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Zero(t, report.Processed)
	assert.Zero(t, processor.calls)
}

func TestIngestBatch_CancelledContextStopsFeeding(t *testing.T) {
	processor := &fakeProcessor{
		outcomes: map[string]ingest.Outcome{"a": ingest.OutcomeCreated},
		delay:    50 * time.Millisecond,
	}
	svc := newTestService(processor, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The lone worker is busy sleeping, so the feed blocks and the
	// cancellation branch wins before every record is handed out.
	_, err := svc.IngestBatch(ctx, []models.RawRecord{record("a"), record("b"), record("c")})

	require.ErrorIs(t, err, context.Canceled)
}
