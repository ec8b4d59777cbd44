package casesync

import (
	"fmt"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/citygeo/case-sync/internal/sinks"
	"github.com/citygeo/case-sync/internal/sources"
)

const (
	ERR_MAP_LAYER_SYNC_WKFL = "error map layer case sync workflow"
)

// MapLayerSyncRequest drives one public map layer sync: verify the
// layer schema still matches the mirror, resolve the window from the
// layer's own watermark, then push delete-plus-add batches.
type MapLayerSyncRequest struct {
	JobID       string
	TimeZone    string
	DateColumn  string
	DateField   string
	MirrorTable string
	Source      sources.SalesforceCaseSourceConfig
	Sink        sinks.MapLayerSinkConfig

	BatchSize  uint
	MaxBatches uint
	StartAt    string

	// carried state
	Predicate string
	Total     int
	Offsets   []string
	Records   int64
	Done      bool
}

// MapLayerSyncWorkflow refreshes the public feature layer from the CRM.
// Layer edits do not converge under replay, so batch writes run with a
// single attempt and any write failure surfaces as fatal.
func MapLayerSyncWorkflow(ctx workflow.Context, req *MapLayerSyncRequest) (*MapLayerSyncRequest, error) {
	l := workflow.GetLogger(ctx)
	l.Debug("MapLayerSyncWorkflow - started", "job-id", req.JobID)

	resp, err := mapLayerSync(ctx, req)
	if err != nil {
		switch err.(type) {
		case *workflow.ContinueAsNewError:
			return resp, err
		case *temporal.ServerError, *temporal.TimeoutError, *temporal.PanicError, *temporal.CanceledError:
			l.Error("MapLayerSyncWorkflow - temporal error", "error", err.Error(), "type", fmt.Sprintf("%T", err))
			return resp, err
		default:
			if nonRetryablePipelineError(err) {
				l.Error("MapLayerSyncWorkflow - fatal application error", "error", err.Error())
				return resp, err
			}
			l.Error("MapLayerSyncWorkflow - failed", "error", err.Error())
			return resp, temporal.NewApplicationErrorWithCause(ERR_MAP_LAYER_SYNC_WKFL, ERR_MAP_LAYER_SYNC_WKFL, err)
		}
	}

	l.Debug("MapLayerSyncWorkflow - completed", "job-id", req.JobID, "records", resp.Records, "total", resp.Total)
	return resp, nil
}

func mapLayerSync(ctx workflow.Context, req *MapLayerSyncRequest) (*MapLayerSyncRequest, error) {
	l := workflow.GetLogger(ctx)

	// Schema check and window resolution run once per job; a continued
	// run carries the predicate and total forward.
	if req.Total == 0 {
		// A drifted schema would push malformed features; refuse to run.
		if err := ExecuteCheckLayerSchemaActivity(ctx, &SchemaCheckRequest{
			Client:      req.Sink.Client,
			Layer:       req.Sink.Layer,
			MirrorTable: req.MirrorTable,
		}); err != nil {
			return req, err
		}

		wr, err := ExecuteResolveLayerWindowActivity(ctx, &LayerWindowRequest{
			Client:     req.Sink.Client,
			Layer:      req.Sink.Layer,
			TimeZone:   req.TimeZone,
			DateColumn: req.DateColumn,
			DateField:  req.DateField,
		})
		if err != nil {
			return req, err
		}
		req.Predicate = wr.Predicate

		cnt, err := ExecuteCountSourceCasesActivity(ctx, &CountRequest{
			Client:    req.Source.Client,
			Predicate: req.Predicate,
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
		l.Info("layer sync window resolved", "job-id", req.JobID, "total", req.Total, "predicate", req.Predicate)
	}

	req.Source.WindowPredicate = req.Predicate
	req.Source.DateColumn = req.DateColumn

	run := &pipelineRun{
		BatchSize:  req.BatchSize,
		MaxBatches: req.MaxBatches,
		StartAt:    req.StartAt,
		// a replayed delete-plus-add would double features
		WriteAttempts: 1,
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

	if !req.Done {
		req.StartAt = req.Offsets[len(req.Offsets)-1]
		req.Offsets = nil
		l.Debug("MapLayerSyncWorkflow - continuing as new", "job-id", req.JobID, "start-at", req.StartAt)
		return nil, workflow.NewContinueAsNewError(ctx, workflow.GetInfo(ctx).WorkflowType.Name, req)
	}

	return req, nil
}
