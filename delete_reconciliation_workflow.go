package casesync

import (
	"fmt"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	ERR_DELETE_RECON_WKFL = "error delete reconciliation workflow"
)

// DeleteReconciliationRequest drives one delete reconciliation pass.
type DeleteReconciliationRequest struct {
	JobID    string
	Client   DeleteReconcileRequest
	Archived int
}

// DeleteReconciliationWorkflow archives mirror cases the CRM no longer
// has and removes them from both mirrors.
func DeleteReconciliationWorkflow(ctx workflow.Context, req *DeleteReconciliationRequest) (*DeleteReconciliationRequest, error) {
	l := workflow.GetLogger(ctx)
	l.Debug("DeleteReconciliationWorkflow - started", "job-id", req.JobID)

	res, err := ExecuteReconcileDeletedCasesActivity(ctx, &req.Client)
	if err != nil {
		switch err.(type) {
		case *temporal.ServerError, *temporal.TimeoutError, *temporal.PanicError, *temporal.CanceledError:
			l.Error("DeleteReconciliationWorkflow - temporal error", "error", err.Error(), "type", fmt.Sprintf("%T", err))
			return req, err
		default:
			if nonRetryablePipelineError(err) {
				l.Error("DeleteReconciliationWorkflow - fatal application error", "error", err.Error())
				return req, err
			}
			l.Error("DeleteReconciliationWorkflow - failed", "error", err.Error())
			return req, temporal.NewApplicationErrorWithCause(ERR_DELETE_RECON_WKFL, ERR_DELETE_RECON_WKFL, err)
		}
	}

	req.Archived = res.Archived
	l.Debug("DeleteReconciliationWorkflow - completed", "job-id", req.JobID, "archived", req.Archived)
	return req, nil
}
