package casesync

import (
	"context"
	"time"

	"github.com/citygeo/case-sync/internal/clients/arcgis"
	"github.com/citygeo/case-sync/internal/clients/salesforce"
	"github.com/citygeo/case-sync/internal/reconcile"
	"github.com/citygeo/case-sync/pkg/domain"
)

// CaseStoreContextKey carries the worker-scoped relational mirror store.
const CaseStoreContextKey = domain.ContextKey("case-store")

// CRMClientContextKey carries a worker-scoped CRM query client. When
// present, activities use it instead of authenticating from the request
// configuration.
const CRMClientContextKey = domain.ContextKey("crm-client")

// LayerClientContextKey carries a worker-scoped feature-service client.
const LayerClientContextKey = domain.ContextKey("layer-client")

// MirrorStore is the relational mirror capability the sync activities
// need: watermark, bulk upsert, key enumeration, archive + delete,
// viewer copy, column introspection and row counts.
type MirrorStore interface {
	MaxUpdated(ctx context.Context) (time.Time, bool, error)
	UpsertCases(ctx context.Context, table string, recs []domain.CaseRecord) error
	ServiceRequestIDs(ctx context.Context) ([]string, error)
	ArchiveAndDelete(ctx context.Context, ids []string) error
	CopyNewToViewer(ctx context.Context) (int64, error)
	Columns(ctx context.Context, table string) ([]string, error)
	Count(ctx context.Context, table string) (int, error)
}

// SourceChecker counts and existence-checks cases at the CRM.
type SourceChecker interface {
	Count(ctx context.Context, soql string) (int, error)
	ExistingKeys(ctx context.Context, keyField string, keys []string) (domain.Set[string], error)
}

// WindowMode selects how a sync run bounds its fetch.
type WindowMode string

const (
	WindowIncremental WindowMode = "incremental"
	WindowDay         WindowMode = "day"
	WindowMonth       WindowMode = "month"
	WindowYear        WindowMode = "year"
	WindowRefresh     WindowMode = "refresh"
)

// CaseKeyColumn is the source-side numeric case key a full refresh
// chunks on.
const CaseKeyColumn = "CaseNumber"

// WindowRequest resolves a fetch window against the relational mirror's
// watermark, an explicit day/month/year, or a key-range-chunked full
// refresh.
type WindowRequest struct {
	Mode       WindowMode
	Day        string // YYYY-MM-DD, day mode
	Month      string // YYYY-MM, month mode
	Year       string // YYYY, year mode
	TimeZone   string // source query time zone, e.g. America/New_York
	DateColumn string // defaults to the source last-modified column
	KeyColumn  string // refresh mode, defaults to the case key
	KeyWidth   int64  // refresh mode chunk width, 0 means the default
}

// WindowResult is the resolved source query predicate. An empty
// predicate with HasWatermark false means a full pull. A refresh
// resolves to KeyRanges instead: one predicate per key chunk, run in
// order.
type WindowResult struct {
	Predicate    string
	HasWatermark bool
	Watermark    time.Time
	KeyRanges    []string
}

// CountRequest counts source cases matching a window predicate.
type CountRequest struct {
	Client    salesforce.SalesforceConfig
	Predicate string
}

// CountResult carries the source-side case count.
type CountResult struct {
	Total int
}

// ViewerCopyResult reports how many raw mirror rows the viewer copy
// picked up.
type ViewerCopyResult struct {
	Rows int64
}

// MirrorVerifyRequest compares the source count against the raw mirror
// count after a sync.
type MirrorVerifyRequest struct {
	Client salesforce.SalesforceConfig
	Table  string
}

// MirrorVerifyResult carries both counts; a divergence is reported, not
// fatal.
type MirrorVerifyResult struct {
	SourceTotal int
	MirrorTotal int
}

// DeleteReconcileRequest drives delete reconciliation: mirror keys
// absent at the CRM are archived and removed from both mirrors.
type DeleteReconcileRequest struct {
	Client   salesforce.SalesforceConfig
	KeyField string // CRM key field holding the case number
}

// DeleteReconcileResult reports how many orphaned keys were archived.
type DeleteReconcileResult struct {
	Archived int
}

// SchemaCheckRequest compares the feature layer's field set against the
// mirror table's columns before any map-layer run.
type SchemaCheckRequest struct {
	Client      arcgis.ArcGISConfig
	Layer       reconcile.MapLayerConfig
	MirrorTable string
}

// LayerWindowRequest resolves the map-layer sync window from the
// layer's own watermark.
type LayerWindowRequest struct {
	Client     arcgis.ArcGISConfig
	Layer      reconcile.MapLayerConfig
	TimeZone   string // source query time zone
	DateColumn string
	DateField  string // layer field holding the last update, epoch ms
}
