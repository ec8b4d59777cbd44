package casesync

import (
	"errors"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/citygeo/case-sync/pkg/domain"
)

// WorkflowBatchLimit caps batches per workflow run; longer pulls
// continue as new.
const WorkflowBatchLimit = uint(100)

// pipelineRun is the mutable fetch/write loop state a sync workflow
// carries across continue-as-new boundaries.
type pipelineRun struct {
	BatchSize     uint
	MaxBatches    uint
	StartAt       string
	WriteAttempts int32
	Offsets       []string
	Records       int64
	Done          bool
}

// runCasePipeline drains the source into the sink one batch at a time.
// Work within a run is strictly sequential; both destination stores
// assume a single writer. Returns with Done false when the batch limit
// was hit before the source was exhausted.
func runCasePipeline[S domain.SourceConfig[domain.CaseRecord], D domain.SinkConfig[domain.CaseRecord]](
	ctx workflow.Context,
	source S,
	sink D,
	run *pipelineRun,
) error {
	l := workflow.GetLogger(ctx)

	if run.MaxBatches == 0 || run.MaxBatches > WorkflowBatchLimit {
		run.MaxBatches = WorkflowBatchLimit
	}
	if run.WriteAttempts <= 0 {
		run.WriteAttempts = 1
	}
	if run.Offsets == nil {
		run.Offsets = []string{run.StartAt}
	}

	fetchAO := DefaultActivityOptions()
	fetchAO.RetryPolicy.NonRetryableErrorTypes = []string{ERR_BUILD_SOURCE}
	fetchCtx := workflow.WithActivityOptions(ctx, fetchAO)

	// Remote edit application retries internally; a blind replay of a
	// write can double-apply adds, so the attempt budget is the caller's.
	writeAO := DefaultActivityOptions()
	writeAO.RetryPolicy.MaximumAttempts = run.WriteAttempts
	writeAO.RetryPolicy.NonRetryableErrorTypes = []string{ERR_BUILD_SINK}
	writeCtx := workflow.WithActivityOptions(ctx, writeAO)

	fetchAlias := domain.FetchActivityName(source.Name())
	writeAlias := domain.WriteActivityName(sink.Name())

	batchCount := uint(0)
	for !run.Done && batchCount < run.MaxBatches {
		var fetched domain.FetchOutput[domain.CaseRecord]
		if err := workflow.ExecuteActivity(fetchCtx, fetchAlias, &domain.FetchInput[domain.CaseRecord, S]{
			Source:    source,
			Offset:    run.Offsets[len(run.Offsets)-1],
			BatchSize: run.BatchSize,
		}).Get(ctx, &fetched); err != nil {
			return err
		}
		batchCount++

		run.Offsets = append(run.Offsets, fetched.Batch.NextOffset)
		run.Done = fetched.Batch.Done
		run.Records += int64(len(fetched.Batch.Records))

		if len(fetched.Batch.Records) == 0 {
			continue
		}

		var wrote domain.WriteOutput[domain.CaseRecord]
		if err := workflow.ExecuteActivity(writeCtx, writeAlias, &domain.WriteInput[domain.CaseRecord, D]{
			Sink:  sink,
			Batch: fetched.Batch,
		}).Get(ctx, &wrote); err != nil {
			return err
		}
	}

	l.Debug(
		"case pipeline pass finished",
		"source", source.Name(),
		"sink", sink.Name(),
		"batches", batchCount,
		"records", run.Records,
		"done", run.Done,
	)
	return nil
}

// nonRetryablePipelineError reports whether the workflow-level retry
// loop must give up on the error immediately.
func nonRetryablePipelineError(err error) bool {
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Type() {
	case ERR_BUILD_SOURCE, ERR_BUILD_SINK, ERR_WRITE_BATCH,
		ERR_MISSING_CASE_STORE, ERR_INVALID_WINDOW,
		ERR_SCHEMA_MISMATCH, ERR_CRM_AUTH, ERR_LAYER_AUTH,
		ERR_DELETE_RECONCILE:
		return true
	default:
		return false
	}
}
