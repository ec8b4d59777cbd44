package casesync

import (
	"fmt"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	ERR_VIEWER_SYNC_WKFL = "error viewer mirror sync workflow"
)

// ViewerMirrorSyncRequest drives one viewer mirror refresh.
type ViewerMirrorSyncRequest struct {
	JobID string
	Rows  int64
}

// ViewerMirrorSyncWorkflow copies rows the raw mirror holds but the
// viewer mirror does not. The copy is a single set-based statement, so
// the workflow is one activity.
func ViewerMirrorSyncWorkflow(ctx workflow.Context, req *ViewerMirrorSyncRequest) (*ViewerMirrorSyncRequest, error) {
	l := workflow.GetLogger(ctx)
	l.Debug("ViewerMirrorSyncWorkflow - started", "job-id", req.JobID)

	res, err := ExecuteCopyMirrorToViewerActivity(ctx)
	if err != nil {
		switch err.(type) {
		case *temporal.ServerError, *temporal.TimeoutError, *temporal.PanicError, *temporal.CanceledError:
			l.Error("ViewerMirrorSyncWorkflow - temporal error", "error", err.Error(), "type", fmt.Sprintf("%T", err))
			return req, err
		default:
			if nonRetryablePipelineError(err) {
				l.Error("ViewerMirrorSyncWorkflow - fatal application error", "error", err.Error())
				return req, err
			}
			l.Error("ViewerMirrorSyncWorkflow - failed", "error", err.Error())
			return req, temporal.NewApplicationErrorWithCause(ERR_VIEWER_SYNC_WKFL, ERR_VIEWER_SYNC_WKFL, err)
		}
	}

	req.Rows = res.Rows
	if req.Rows == 0 {
		l.Info("Nothing to update!", "job-id", req.JobID)
		return req, nil
	}

	l.Debug("ViewerMirrorSyncWorkflow - completed", "job-id", req.JobID, "rows", req.Rows)
	return req, nil
}
