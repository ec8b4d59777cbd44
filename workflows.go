package casesync

import (
	"github.com/google/uuid"

	"github.com/citygeo/case-sync/internal/sinks"
	"github.com/citygeo/case-sync/internal/sources"
	"github.com/citygeo/case-sync/pkg/domain"
)

// ApplicationName is the task queue for case sync workflows
const ApplicationName = "caseSyncTaskGroup"

// HostID identifies this worker process on the task queue.
var HostID = ApplicationName + "_" + uuid.New().String()

const (
	RelationalSyncWorkflowAlias       = "relational-case-sync-workflow-alias"
	MapLayerSyncWorkflowAlias         = "map-layer-case-sync-workflow-alias"
	ViewerMirrorSyncWorkflowAlias     = "viewer-mirror-sync-workflow-alias"
	DeleteReconciliationWorkflowAlias = "delete-reconciliation-workflow-alias"
)

// Registration aliases for the batch fetch/write activities.
var (
	FetchNextCaseSourceBatchAlias = domain.FetchActivityName(sources.SalesforceCaseSource)
	WriteNextMirrorSinkBatchAlias = domain.WriteActivityName(sinks.CaseMirrorSink)
	WriteNextLayerSinkBatchAlias  = domain.WriteActivityName(sinks.MapLayerSink)
)
