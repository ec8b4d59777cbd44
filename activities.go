package casesync

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/comfforts/logger"

	"github.com/citygeo/case-sync/internal/clients/arcgis"
	"github.com/citygeo/case-sync/internal/clients/salesforce"
	"github.com/citygeo/case-sync/internal/reconcile"
	"github.com/citygeo/case-sync/internal/sources"
	"github.com/citygeo/case-sync/pkg/domain"
	"github.com/citygeo/case-sync/pkg/window"
)

/**
 * activities used by the case sync workflows.
 */
const (
	ResolveMirrorWindowActivityAlias   = "resolve-mirror-window-activity-alias"
	ResolveLayerWindowActivityAlias    = "resolve-layer-window-activity-alias"
	CountSourceCasesActivityAlias      = "count-source-cases-activity-alias"
	CopyMirrorToViewerActivityAlias    = "copy-mirror-to-viewer-activity-alias"
	VerifyMirrorCountActivityAlias     = "verify-mirror-count-activity-alias"
	ReconcileDeletedCasesActivityAlias = "reconcile-deleted-cases-activity-alias"
	CheckLayerSchemaActivityAlias      = "check-layer-schema-activity-alias"
)

// Error messages used throughout the activities
const (
	ERR_MISSING_CASE_STORE = "error missing case store"
	ERR_BUILD_SOURCE       = "error building batch source"
	ERR_BUILD_SINK         = "error building batch sink"
	ERR_FETCH_NEXT_BATCH   = "error fetching next batch"
	ERR_WRITE_BATCH        = "error writing batch"
	ERR_INVALID_WINDOW     = "error invalid sync window"
	ERR_CRM_AUTH           = "error authenticating crm client"
	ERR_LAYER_AUTH         = "error authenticating layer client"
	ERR_SCHEMA_MISMATCH    = "error layer schema mismatch"
	ERR_DELETE_RECONCILE   = "error reconciling deleted cases"
)

// Standard Go errors for internal use
var (
	ErrMissingCaseStore = errors.New(ERR_MISSING_CASE_STORE)
	ErrInvalidWindow    = errors.New(ERR_INVALID_WINDOW)
)

// Temporal application errors for workflow activities
var (
	ErrorMissingCaseStore = temporal.NewApplicationErrorWithCause(ERR_MISSING_CASE_STORE, ERR_MISSING_CASE_STORE, ErrMissingCaseStore)
)

// FetchNextActivity pulls the batch at the request cursor from the
// configured source.
func FetchNextActivity[T any, S domain.SourceConfig[T]](
	ctx context.Context,
	in *domain.FetchInput[T, S],
) (*domain.FetchOutput[T], error) {
	l := activity.GetLogger(ctx)

	src, err := in.Source.BuildSource(ctx)
	if err != nil {
		l.Error(ERR_BUILD_SOURCE, "source", in.Source.Name(), "error", err.Error())
		return nil, temporal.NewApplicationErrorWithCause(ERR_BUILD_SOURCE, ERR_BUILD_SOURCE, err)
	}
	defer src.Close(ctx)

	b, err := src.Next(ctx, in.Offset, in.BatchSize)
	if err != nil {
		l.Error(ERR_FETCH_NEXT_BATCH, "source", in.Source.Name(), "offset", in.Offset, "error", err.Error())
		return &domain.FetchOutput[T]{Batch: b}, temporal.NewApplicationErrorWithCause(ERR_FETCH_NEXT_BATCH, ERR_FETCH_NEXT_BATCH, err)
	}
	return &domain.FetchOutput[T]{Batch: b}, nil
}

// WriteNextActivity writes one fetched batch to the configured sink.
func WriteNextActivity[T any, D domain.SinkConfig[T]](
	ctx context.Context,
	in *domain.WriteInput[T, D],
) (*domain.WriteOutput[T], error) {
	l := activity.GetLogger(ctx)

	snk, err := in.Sink.BuildSink(ctx)
	if err != nil {
		l.Error(ERR_BUILD_SINK, "sink", in.Sink.Name(), "error", err.Error())
		return nil, temporal.NewApplicationErrorWithCause(ERR_BUILD_SINK, ERR_BUILD_SINK, err)
	}

	b, err := snk.Write(ctx, in.Batch)
	if err != nil {
		snk.Close(ctx)
		l.Error(ERR_WRITE_BATCH, "sink", in.Sink.Name(), "error", err.Error())
		return &domain.WriteOutput[T]{Batch: b}, temporal.NewApplicationErrorWithCause(ERR_WRITE_BATCH, ERR_WRITE_BATCH, err)
	}
	if err := snk.Close(ctx); err != nil {
		l.Error(ERR_WRITE_BATCH, "sink", in.Sink.Name(), "error", err.Error())
		return &domain.WriteOutput[T]{Batch: b}, temporal.NewApplicationErrorWithCause(ERR_WRITE_BATCH, ERR_WRITE_BATCH, err)
	}
	return &domain.WriteOutput[T]{Batch: b}, nil
}

// ResolveMirrorWindowActivity resolves the fetch window for a relational
// sync: the mirror's watermark for incremental runs, or the explicit
// day/month/year bounds.
func ResolveMirrorWindowActivity(ctx context.Context, req *WindowRequest) (*WindowResult, error) {
	l := activity.GetLogger(ctx)

	store, _ := ctx.Value(CaseStoreContextKey).(MirrorStore)
	if store == nil && (req.Mode == "" || req.Mode == WindowIncremental || req.Mode == WindowRefresh) {
		l.Error(ERR_MISSING_CASE_STORE)
		return nil, ErrorMissingCaseStore
	}

	resolver, err := windowResolver(req.TimeZone)
	if err != nil {
		return nil, temporal.NewApplicationErrorWithCause(ERR_INVALID_WINDOW, ERR_INVALID_WINDOW, err)
	}

	switch req.Mode {
	case WindowRefresh:
		return resolveKeyRanges(ctx, store, req)
	case WindowDay:
		w, err := resolver.Day(req.Day)
		if err != nil {
			return nil, temporal.NewApplicationErrorWithCause(ERR_INVALID_WINDOW, ERR_INVALID_WINDOW, err)
		}
		return &WindowResult{Predicate: w.Predicate(req.DateColumn)}, nil
	case WindowMonth:
		w, err := resolver.Month(req.Month)
		if err != nil {
			return nil, temporal.NewApplicationErrorWithCause(ERR_INVALID_WINDOW, ERR_INVALID_WINDOW, err)
		}
		return &WindowResult{Predicate: w.Predicate(req.DateColumn)}, nil
	case WindowYear:
		w, err := resolver.Year(req.Year)
		if err != nil {
			return nil, temporal.NewApplicationErrorWithCause(ERR_INVALID_WINDOW, ERR_INVALID_WINDOW, err)
		}
		return &WindowResult{Predicate: w.Predicate(req.DateColumn)}, nil
	default:
	}

	wm, ok, err := store.MaxUpdated(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		// empty mirror, full pull
		l.Info("mirror holds no watermark, pulling all cases")
		return &WindowResult{}, nil
	}

	w := resolver.Incremental(wm)
	return &WindowResult{
		Predicate:    w.Predicate(req.DateColumn),
		HasWatermark: true,
		Watermark:    wm,
	}, nil
}

// resolveKeyRanges chunks a full refresh into key-range predicates up
// to the mirror's highest case key. Cases keyed above it are picked up
// by the next incremental run, never by the refresh.
func resolveKeyRanges(ctx context.Context, store MirrorStore, req *WindowRequest) (*WindowResult, error) {
	ids, err := store.ServiceRequestIDs(ctx)
	if err != nil {
		return nil, err
	}
	var maxKey int64
	for _, id := range ids {
		if v, err := strconv.ParseInt(id, 10, 64); err == nil && v > maxKey {
			maxKey = v
		}
	}

	width := req.KeyWidth
	if width <= 0 {
		width = window.DefaultKeyWidth
	}
	col := req.KeyColumn
	if col == "" {
		col = CaseKeyColumn
	}

	ranges, err := window.KeyRanges(maxKey, width)
	if err != nil {
		return nil, temporal.NewApplicationErrorWithCause(ERR_INVALID_WINDOW, ERR_INVALID_WINDOW, err)
	}
	preds := make([]string, 0, len(ranges))
	for _, kr := range ranges {
		preds = append(preds, kr.Predicate(col))
	}
	return &WindowResult{KeyRanges: preds}, nil
}

// ResolveLayerWindowActivity resolves the map-layer sync window from the
// layer's own max updated_datetime, corrected into the mirror zone.
func ResolveLayerWindowActivity(ctx context.Context, req *LayerWindowRequest) (*WindowResult, error) {
	l := activity.GetLogger(ctx)
	sl := slogFromContext(ctx)

	cl, err := layerClient(ctx, req.Client)
	if err != nil {
		l.Error(ERR_LAYER_AUTH, "error", err.Error())
		return nil, temporal.NewApplicationErrorWithCause(ERR_LAYER_AUTH, ERR_LAYER_AUTH, err)
	}

	rec, err := reconcile.NewMapLayerReconciler(cl, req.Layer, sl)
	if err != nil {
		return nil, temporal.NewApplicationErrorWithCause(ERR_INVALID_WINDOW, ERR_INVALID_WINDOW, err)
	}

	wm, ok, err := rec.Watermark(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		l.Info("layer holds no watermark, pulling all cases")
		return &WindowResult{}, nil
	}

	resolver, err := windowResolver(req.TimeZone)
	if err != nil {
		return nil, temporal.NewApplicationErrorWithCause(ERR_INVALID_WINDOW, ERR_INVALID_WINDOW, err)
	}
	w := resolver.Incremental(wm)
	return &WindowResult{
		Predicate:    w.Predicate(req.DateColumn),
		HasWatermark: true,
		Watermark:    wm,
	}, nil
}

// CountSourceCasesActivity counts source cases inside the resolved
// window, so a run with nothing to update can stop before staging.
func CountSourceCasesActivity(ctx context.Context, req *CountRequest) (*CountResult, error) {
	l := activity.GetLogger(ctx)

	checker, err := sourceChecker(ctx, req.Client)
	if err != nil {
		l.Error(ERR_CRM_AUTH, "error", err.Error())
		return nil, temporal.NewApplicationErrorWithCause(ERR_CRM_AUTH, ERR_CRM_AUTH, err)
	}

	total, err := checker.Count(ctx, sources.BuildCaseCountQuery(req.Predicate))
	if err != nil {
		return nil, err
	}
	return &CountResult{Total: total}, nil
}

// CopyMirrorToViewerActivity copies rows newer than the viewer's
// watermark from the raw mirror into the viewer mirror.
func CopyMirrorToViewerActivity(ctx context.Context) (*ViewerCopyResult, error) {
	l := activity.GetLogger(ctx)

	store, _ := ctx.Value(CaseStoreContextKey).(MirrorStore)
	if store == nil {
		l.Error(ERR_MISSING_CASE_STORE)
		return nil, ErrorMissingCaseStore
	}

	rows, err := store.CopyNewToViewer(ctx)
	if err != nil {
		return nil, err
	}
	return &ViewerCopyResult{Rows: rows}, nil
}

// VerifyMirrorCountActivity compares the source-side case count against
// the raw mirror after a sync. Divergence is a note for the operator,
// not a failure.
func VerifyMirrorCountActivity(ctx context.Context, req *MirrorVerifyRequest) (*MirrorVerifyResult, error) {
	l := activity.GetLogger(ctx)

	store, _ := ctx.Value(CaseStoreContextKey).(MirrorStore)
	if store == nil {
		l.Error(ERR_MISSING_CASE_STORE)
		return nil, ErrorMissingCaseStore
	}

	checker, err := sourceChecker(ctx, req.Client)
	if err != nil {
		l.Error(ERR_CRM_AUTH, "error", err.Error())
		return nil, temporal.NewApplicationErrorWithCause(ERR_CRM_AUTH, ERR_CRM_AUTH, err)
	}

	srcTotal, err := checker.Count(ctx, sources.BuildCaseCountQuery(""))
	if err != nil {
		return nil, err
	}
	mirTotal, err := store.Count(ctx, req.Table)
	if err != nil {
		return nil, err
	}

	if srcTotal != mirTotal {
		l.Warn("source and mirror counts diverge", "source", srcTotal, "mirror", mirTotal)
	}
	return &MirrorVerifyResult{SourceTotal: srcTotal, MirrorTotal: mirTotal}, nil
}

// ReconcileDeletedCasesActivity archives and removes mirror keys that no
// longer exist at the CRM.
func ReconcileDeletedCasesActivity(ctx context.Context, req *DeleteReconcileRequest) (*DeleteReconcileResult, error) {
	l := activity.GetLogger(ctx)
	sl := slogFromContext(ctx)

	store, _ := ctx.Value(CaseStoreContextKey).(MirrorStore)
	if store == nil {
		l.Error(ERR_MISSING_CASE_STORE)
		return nil, ErrorMissingCaseStore
	}

	checker, err := sourceChecker(ctx, req.Client)
	if err != nil {
		l.Error(ERR_CRM_AUTH, "error", err.Error())
		return nil, temporal.NewApplicationErrorWithCause(ERR_CRM_AUTH, ERR_CRM_AUTH, err)
	}

	rec := reconcile.NewDeleteReconciler(store, checker, req.KeyField, sl)
	archived, err := rec.Run(ctx)
	if err != nil {
		l.Error(ERR_DELETE_RECONCILE, "error", err.Error())
		return nil, temporal.NewApplicationErrorWithCause(ERR_DELETE_RECONCILE, ERR_DELETE_RECONCILE, err)
	}
	return &DeleteReconcileResult{Archived: archived}, nil
}

// CheckLayerSchemaActivity aborts a map-layer run before the first edit
// when the layer's fields and the mirror's columns have drifted apart.
func CheckLayerSchemaActivity(ctx context.Context, req *SchemaCheckRequest) error {
	l := activity.GetLogger(ctx)
	sl := slogFromContext(ctx)

	store, _ := ctx.Value(CaseStoreContextKey).(MirrorStore)
	if store == nil {
		l.Error(ERR_MISSING_CASE_STORE)
		return ErrorMissingCaseStore
	}

	cl, err := layerClient(ctx, req.Client)
	if err != nil {
		l.Error(ERR_LAYER_AUTH, "error", err.Error())
		return temporal.NewApplicationErrorWithCause(ERR_LAYER_AUTH, ERR_LAYER_AUTH, err)
	}

	rec, err := reconcile.NewMapLayerReconciler(cl, req.Layer, sl)
	if err != nil {
		return temporal.NewApplicationErrorWithCause(ERR_SCHEMA_MISMATCH, ERR_SCHEMA_MISMATCH, err)
	}

	cols, err := store.Columns(ctx, req.MirrorTable)
	if err != nil {
		return err
	}
	if err := rec.CheckSchema(ctx, cols); err != nil {
		l.Error(ERR_SCHEMA_MISMATCH, "error", err.Error())
		return temporal.NewApplicationErrorWithCause(ERR_SCHEMA_MISMATCH, ERR_SCHEMA_MISMATCH, err)
	}
	return nil
}

// sourceChecker prefers the worker-scoped CRM client, falling back to a
// fresh login with the request credentials.
func sourceChecker(ctx context.Context, cfg salesforce.SalesforceConfig) (SourceChecker, error) {
	if v, ok := ctx.Value(CRMClientContextKey).(SourceChecker); ok && v != nil {
		return v, nil
	}
	return salesforce.NewSalesforceClient(ctx, cfg, slogFromContext(ctx))
}

// layerClient prefers the worker-scoped feature-service client, falling
// back to a fresh token grant with the request credentials.
func layerClient(ctx context.Context, cfg arcgis.ArcGISConfig) (reconcile.LayerClient, error) {
	if v, ok := ctx.Value(LayerClientContextKey).(reconcile.LayerClient); ok && v != nil {
		return v, nil
	}
	return arcgis.NewArcGISClient(ctx, cfg, slogFromContext(ctx))
}

func windowResolver(tz string) (*window.Resolver, error) {
	loc := time.UTC
	if tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, err
		}
	}
	return window.NewResolver(loc), nil
}

func slogFromContext(ctx context.Context) *slog.Logger {
	ctxl, err := logger.LoggerFromContext(ctx)
	if err == nil {
		if l, ok := ctxl.(*slog.Logger); ok {
			return l
		}
	}
	return logger.GetSlogLogger()
}
