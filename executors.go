package casesync

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

func DefaultActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute * 10,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	}
}

func ExecuteResolveMirrorWindowActivity(ctx workflow.Context, req *WindowRequest) (*WindowResult, error) {
	// setup activity options
	ao := DefaultActivityOptions()
	ao.RetryPolicy.NonRetryableErrorTypes = []string{
		ERR_MISSING_CASE_STORE,
		ERR_INVALID_WINDOW,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var resp WindowResult
	err := workflow.ExecuteActivity(ctx, ResolveMirrorWindowActivityAlias, req).Get(ctx, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func ExecuteResolveLayerWindowActivity(ctx workflow.Context, req *LayerWindowRequest) (*WindowResult, error) {
	// setup activity options
	ao := DefaultActivityOptions()
	ao.RetryPolicy.NonRetryableErrorTypes = []string{
		ERR_LAYER_AUTH,
		ERR_INVALID_WINDOW,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var resp WindowResult
	err := workflow.ExecuteActivity(ctx, ResolveLayerWindowActivityAlias, req).Get(ctx, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func ExecuteCountSourceCasesActivity(ctx workflow.Context, req *CountRequest) (*CountResult, error) {
	// setup activity options
	ao := DefaultActivityOptions()
	ao.RetryPolicy.NonRetryableErrorTypes = []string{
		ERR_CRM_AUTH,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var resp CountResult
	err := workflow.ExecuteActivity(ctx, CountSourceCasesActivityAlias, req).Get(ctx, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func ExecuteCopyMirrorToViewerActivity(ctx workflow.Context) (*ViewerCopyResult, error) {
	// setup activity options
	ao := DefaultActivityOptions()
	ao.RetryPolicy.NonRetryableErrorTypes = []string{
		ERR_MISSING_CASE_STORE,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var resp ViewerCopyResult
	err := workflow.ExecuteActivity(ctx, CopyMirrorToViewerActivityAlias).Get(ctx, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func ExecuteVerifyMirrorCountActivity(ctx workflow.Context, req *MirrorVerifyRequest) (*MirrorVerifyResult, error) {
	// setup activity options
	ao := DefaultActivityOptions()
	ao.RetryPolicy.NonRetryableErrorTypes = []string{
		ERR_MISSING_CASE_STORE,
		ERR_CRM_AUTH,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var resp MirrorVerifyResult
	err := workflow.ExecuteActivity(ctx, VerifyMirrorCountActivityAlias, req).Get(ctx, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func ExecuteReconcileDeletedCasesActivity(ctx workflow.Context, req *DeleteReconcileRequest) (*DeleteReconcileResult, error) {
	// setup activity options
	ao := DefaultActivityOptions()
	ao.StartToCloseTimeout = time.Hour
	ao.RetryPolicy.NonRetryableErrorTypes = []string{
		ERR_MISSING_CASE_STORE,
		ERR_CRM_AUTH,
		ERR_DELETE_RECONCILE,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var resp DeleteReconcileResult
	err := workflow.ExecuteActivity(ctx, ReconcileDeletedCasesActivityAlias, req).Get(ctx, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func ExecuteCheckLayerSchemaActivity(ctx workflow.Context, req *SchemaCheckRequest) error {
	// setup activity options
	ao := DefaultActivityOptions()
	ao.RetryPolicy.NonRetryableErrorTypes = []string{
		ERR_MISSING_CASE_STORE,
		ERR_LAYER_AUTH,
		ERR_SCHEMA_MISMATCH,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	return workflow.ExecuteActivity(ctx, CheckLayerSchemaActivityAlias, req).Get(ctx, nil)
}
