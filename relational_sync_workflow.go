package casesync

import (
	"fmt"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/citygeo/case-sync/internal/sinks"
	"github.com/citygeo/case-sync/internal/sources"
)

const (
	ERR_RELATIONAL_SYNC_WKFL = "error relational case sync workflow"
)

// RelationalSyncRequest drives one relational mirror sync: resolve the
// fetch window, count the work, then stage and bulk upsert batch by
// batch.
type RelationalSyncRequest struct {
	JobID  string
	Window WindowRequest
	Source sources.SalesforceCaseSourceConfig
	Sink   sinks.CaseMirrorSinkConfig

	BatchSize  uint
	MaxBatches uint
	StartAt    string

	// carried state
	Predicate string
	Ranges    []string
	Total     int
	Offsets   []string
	Records   int64
	Done      bool
}

// RelationalSyncWorkflow pulls changed cases from the CRM into the raw
// relational mirror; re-tries transient failures, fails fast on
// configuration and fatal application errors.
func RelationalSyncWorkflow(ctx workflow.Context, req *RelationalSyncRequest) (*RelationalSyncRequest, error) {
	l := workflow.GetLogger(ctx)
	l.Debug("RelationalSyncWorkflow - started", "job-id", req.JobID)

	resp, err := relationalSync(ctx, req)
	if err != nil {
		switch err.(type) {
		case *workflow.ContinueAsNewError:
			return resp, err
		case *temporal.ServerError, *temporal.TimeoutError, *temporal.PanicError, *temporal.CanceledError:
			l.Error("RelationalSyncWorkflow - temporal error", "error", err.Error(), "type", fmt.Sprintf("%T", err))
			return resp, err
		default:
			if nonRetryablePipelineError(err) {
				l.Error("RelationalSyncWorkflow - fatal application error", "error", err.Error())
				return resp, err
			}
			l.Error("RelationalSyncWorkflow - failed", "error", err.Error())
			return resp, temporal.NewApplicationErrorWithCause(ERR_RELATIONAL_SYNC_WKFL, ERR_RELATIONAL_SYNC_WKFL, err)
		}
	}

	l.Debug("RelationalSyncWorkflow - completed", "job-id", req.JobID, "records", resp.Records, "total", resp.Total)
	return resp, nil
}

func relationalSync(ctx workflow.Context, req *RelationalSyncRequest) (*RelationalSyncRequest, error) {
	l := workflow.GetLogger(ctx)

	// Resolve the window once; a continued run carries the predicate and
	// total so every pass of one job covers the same slice.
	if req.Total == 0 {
		wr, err := ExecuteResolveMirrorWindowActivity(ctx, &req.Window)
		if err != nil {
			return req, err
		}
		req.Predicate = wr.Predicate
		req.Ranges = wr.KeyRanges
		if len(req.Ranges) > 0 {
			req.Predicate = req.Ranges[0]
		}

		// A refresh counts the whole dataset; a single key range can be
		// empty without the job being done.
		countPredicate := req.Predicate
		if len(req.Ranges) > 0 {
			countPredicate = ""
		}
		cnt, err := ExecuteCountSourceCasesActivity(ctx, &CountRequest{
			Client:    req.Source.Client,
			Predicate: countPredicate,
		})
		if err != nil {
			return req, err
		}
		req.Total = cnt.Total
		if req.Total == 0 {
			l.Info("Nothing to update!", "job-id", req.JobID)
			req.Done = true
			return req, nil
		}
		l.Info("case sync window resolved", "job-id", req.JobID, "total", req.Total, "predicate", req.Predicate, "ranges", len(req.Ranges))
	}

	req.Source.WindowPredicate = req.Predicate
	req.Source.DateColumn = req.Window.DateColumn

	run := &pipelineRun{
		BatchSize:  req.BatchSize,
		MaxBatches: req.MaxBatches,
		StartAt:    req.StartAt,
		// the bulk upsert converges under replay
		WriteAttempts: 5,
		Offsets:       req.Offsets,
		Records:       req.Records,
	}
	if err := runCasePipeline(ctx, req.Source, req.Sink, run); err != nil {
		req.Offsets = run.Offsets
		req.Records = run.Records
		return req, err
	}
	req.Offsets = run.Offsets
	req.Records = run.Records
	req.Done = run.Done

	if req.Done && len(req.Ranges) > 1 {
		req.Ranges = req.Ranges[1:]
		req.Predicate = req.Ranges[0]
		req.StartAt = ""
		req.Offsets = nil
		req.Done = false
		l.Debug("RelationalSyncWorkflow - next key range", "job-id", req.JobID, "predicate", req.Predicate)
		return nil, workflow.NewContinueAsNewError(ctx, workflow.GetInfo(ctx).WorkflowType.Name, req)
	}

	if !req.Done {
		req.StartAt = req.Offsets[len(req.Offsets)-1]
		req.Offsets = nil
		l.Debug("RelationalSyncWorkflow - continuing as new", "job-id", req.JobID, "start-at", req.StartAt)
		return nil, workflow.NewContinueAsNewError(ctx, workflow.GetInfo(ctx).WorkflowType.Name, req)
	}

	if _, err := ExecuteVerifyMirrorCountActivity(ctx, &MirrorVerifyRequest{
		Client: req.Source.Client,
		Table:  req.Sink.Store.RawTable,
	}); err != nil {
		return req, err
	}

	return req, nil
}
