package casesync_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/comfforts/logger"

	cs "github.com/citygeo/case-sync"
	"github.com/citygeo/case-sync/internal/clients/arcgis"
	"github.com/citygeo/case-sync/internal/clients/postgres"
	"github.com/citygeo/case-sync/internal/clients/salesforce"
	"github.com/citygeo/case-sync/internal/reconcile"
	"github.com/citygeo/case-sync/internal/sinks"
	"github.com/citygeo/case-sync/internal/sources"
	"github.com/citygeo/case-sync/pkg/domain"
)

// fakeCRM serves canned query pages and key lookups, standing in for
// the CRM on both the paging and the checking interfaces.
type fakeCRM struct {
	mu       sync.Mutex
	pages    [][]domain.RawCase
	existing map[string]struct{}
	queries  []string
}

func (f *fakeCRM) page(i int) (*salesforce.QueryResult, error) {
	if i < 0 || i >= len(f.pages) {
		return nil, fmt.Errorf("no page %d", i)
	}
	total := 0
	for _, p := range f.pages {
		total += len(p)
	}
	res := &salesforce.QueryResult{
		TotalSize: total,
		Records:   f.pages[i],
	}
	if i == len(f.pages)-1 {
		res.Done = true
	} else {
		res.NextRecordsURL = fmt.Sprintf("page-%d", i+1)
	}
	return res, nil
}

func (f *fakeCRM) Query(ctx context.Context, soql string) (*salesforce.QueryResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, soql)
	f.mu.Unlock()
	return f.page(0)
}

func (f *fakeCRM) QueryMore(ctx context.Context, next string) (*salesforce.QueryResult, error) {
	i, err := strconv.Atoi(strings.TrimPrefix(next, "page-"))
	if err != nil {
		return nil, err
	}
	return f.page(i)
}

func (f *fakeCRM) Count(ctx context.Context, soql string) (int, error) {
	f.mu.Lock()
	f.queries = append(f.queries, soql)
	f.mu.Unlock()
	total := 0
	for _, p := range f.pages {
		total += len(p)
	}
	return total, nil
}

func (f *fakeCRM) ExistingKeys(ctx context.Context, keyField string, keys []string) (domain.Set[string], error) {
	out := domain.NewSet[string]()
	for _, k := range keys {
		if _, ok := f.existing[k]; ok {
			out.Add(k)
		}
	}
	return out, nil
}

// fakeMirror is an in-memory relational mirror.
type fakeMirror struct {
	mu       sync.Mutex
	cases    map[string]domain.CaseRecord
	viewer   map[string]struct{}
	archived []string
	columns  []string
}

func newFakeMirror(columns []string) *fakeMirror {
	return &fakeMirror{
		cases:   map[string]domain.CaseRecord{},
		viewer:  map[string]struct{}{},
		columns: columns,
	}
}

func (f *fakeMirror) MaxUpdated(ctx context.Context) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max time.Time
	found := false
	for _, rec := range f.cases {
		if rec.UpdatedDatetime != nil && rec.UpdatedDatetime.After(max) {
			max = *rec.UpdatedDatetime
			found = true
		}
	}
	return max, found, nil
}

func (f *fakeMirror) UpsertCases(ctx context.Context, table string, recs []domain.CaseRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range recs {
		f.cases[rec.ServiceRequestID] = rec
	}
	return nil
}

func (f *fakeMirror) ServiceRequestIDs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.cases))
	for id := range f.cases {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeMirror) ArchiveAndDelete(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.cases, id)
		delete(f.viewer, id)
		f.archived = append(f.archived, id)
	}
	return nil
}

func (f *fakeMirror) CopyNewToViewer(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var copied int64
	for id := range f.cases {
		if _, ok := f.viewer[id]; !ok {
			f.viewer[id] = struct{}{}
			copied++
		}
	}
	return copied, nil
}

func (f *fakeMirror) Columns(ctx context.Context, table string) ([]string, error) {
	return f.columns, nil
}

func (f *fakeMirror) Count(ctx context.Context, table string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cases), nil
}

// fakeLayer is an in-memory feature layer keyed on the case number.
type fakeLayer struct {
	mu       sync.Mutex
	fields   []string
	features map[string]arcgis.Feature
	maxMs    int64
	added    int
	deleted  int
}

func newFakeLayer(fields []string) *fakeLayer {
	return &fakeLayer{fields: fields, features: map[string]arcgis.Feature{}}
}

func (f *fakeLayer) MaxUpdated(ctx context.Context, dateField string) (int64, bool, error) {
	return f.maxMs, f.maxMs != 0, nil
}

func (f *fakeLayer) Count(ctx context.Context, where string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, key, ok := strings.Cut(where, " = ")
	if !ok {
		return 0, fmt.Errorf("unexpected predicate %q", where)
	}
	if _, found := f.features[key]; found {
		return 1, nil
	}
	return 0, nil
}

func (f *fakeLayer) Fields(ctx context.Context) ([]string, error) {
	return f.fields, nil
}

func (f *fakeLayer) AddFeatures(ctx context.Context, features []arcgis.Feature) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, feat := range features {
		key, _ := feat.Attributes[domain.PrimaryKey].(string)
		f.features[key] = feat
		f.added++
	}
	return nil
}

func (f *fakeLayer) DeleteFeatures(ctx context.Context, where string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, clause := range strings.Split(where, " OR ") {
		_, key, ok := strings.Cut(clause, " = ")
		if !ok {
			return fmt.Errorf("unexpected predicate %q", clause)
		}
		delete(f.features, key)
		f.deleted++
	}
	return nil
}

func rawCase(num, lastModified string) domain.RawCase {
	return domain.RawCase{
		"CaseNumber":       num,
		"Status":           "Open",
		"Subject":          "Pothole Repair",
		"Street__c":        "1234 MARKET ST",
		"ZipCode__c":       "19107",
		"Department__c":    "Streets Department",
		"LastModifiedDate": lastModified,
		"CreatedDate":      lastModified,
	}
}

// layerSchemaFields is the shared column/field set the schema check
// compares; the mirror side carries the columns the layer never
// exposes and both are excluded by the check.
func layerSchemaFields() []string {
	return []string{"service_request_id", "status", "subject", "updated_datetime"}
}

type CaseSyncWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite

	env *testsuite.TestWorkflowEnvironment
}

func TestCaseSyncWorkflowTestSuite(t *testing.T) {
	suite.Run(t, new(CaseSyncWorkflowTestSuite))
}

func (s *CaseSyncWorkflowTestSuite) SetupTest() {
	l := logger.GetSlogMultiLogger("data")
	s.SetLogger(l)
}

func (s *CaseSyncWorkflowTestSuite) TearDownTest() {
	if s.env != nil {
		s.env.AssertExpectations(s.T())
	}
}

func (s *CaseSyncWorkflowTestSuite) newEnv(ctx context.Context) {
	s.env = s.NewTestWorkflowEnvironment()
	s.env.SetWorkerOptions(worker.Options{
		BackgroundActivityContext: ctx,
		DeadlockDetectionTimeout:  24 * time.Hour,
	})
	s.env.SetTestTimeout(24 * time.Hour)
}

func (s *CaseSyncWorkflowTestSuite) registerRelationalSync() {
	s.env.RegisterWorkflowWithOptions(
		cs.RelationalSyncWorkflow,
		workflow.RegisterOptions{Name: cs.RelationalSyncWorkflowAlias},
	)
	s.env.RegisterActivityWithOptions(
		cs.FetchNextActivity[domain.CaseRecord, sources.SalesforceCaseSourceConfig],
		activity.RegisterOptions{Name: cs.FetchNextCaseSourceBatchAlias},
	)
	s.env.RegisterActivityWithOptions(
		cs.WriteNextActivity[domain.CaseRecord, sinks.CaseMirrorSinkConfig],
		activity.RegisterOptions{Name: cs.WriteNextMirrorSinkBatchAlias},
	)
	s.env.RegisterActivityWithOptions(
		cs.ResolveMirrorWindowActivity,
		activity.RegisterOptions{Name: cs.ResolveMirrorWindowActivityAlias},
	)
	s.env.RegisterActivityWithOptions(
		cs.CountSourceCasesActivity,
		activity.RegisterOptions{Name: cs.CountSourceCasesActivityAlias},
	)
	s.env.RegisterActivityWithOptions(
		cs.VerifyMirrorCountActivity,
		activity.RegisterOptions{Name: cs.VerifyMirrorCountActivityAlias},
	)
}

func (s *CaseSyncWorkflowTestSuite) Test_RelationalSyncWorkflow_HappyPath() {
	l := logger.GetSlogLogger()
	mirror := newFakeMirror(layerSchemaFields())
	crm := &fakeCRM{
		pages: [][]domain.RawCase{
			{
				rawCase("10000001", "2026-08-30T10:00:00.000-0400"),
				rawCase("10000002", "2026-08-30T10:05:00.000-0400"),
				rawCase("10000003", "2026-08-30T10:10:00.000-0400"),
			},
			{
				rawCase("10000004", "2026-08-30T10:15:00.000-0400"),
				rawCase("10000005", "2026-08-30T10:20:00.000-0400"),
			},
		},
	}

	ctx := logger.WithLogger(context.Background(), l)
	ctx = context.WithValue(ctx, cs.CaseStoreContextKey, mirror)
	ctx = context.WithValue(ctx, cs.CRMClientContextKey, crm)
	ctx = context.WithValue(ctx, sources.CaseQuerierContextKey, crm)
	ctx = context.WithValue(ctx, sinks.CaseUpserterContextKey, mirror)

	s.newEnv(ctx)
	s.registerRelationalSync()

	req := &cs.RelationalSyncRequest{
		JobID:  "relational-happy",
		Window: cs.WindowRequest{Mode: cs.WindowIncremental, TimeZone: "America/New_York", DateColumn: "LastModifiedDate"},
		Source: sources.SalesforceCaseSourceConfig{},
		Sink: sinks.CaseMirrorSinkConfig{
			Store:   postgres.StoreConfig{RawTable: "public_cases_fc", ViewerTable: "public_cases_viewer", ArchiveTable: "public_cases_archive"},
			Staging: sinks.StagingCSVSinkConfig{Dir: s.T().TempDir()},
		},
		BatchSize:  2000,
		MaxBatches: 10,
	}

	s.env.ExecuteWorkflow(cs.RelationalSyncWorkflowAlias, req)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())

	var result cs.RelationalSyncRequest
	s.NoError(s.env.GetWorkflowResult(&result))
	s.True(result.Done)
	s.Equal(int64(5), result.Records)
	s.Equal(5, result.Total)

	n, err := mirror.Count(context.Background(), "public_cases_fc")
	s.NoError(err)
	s.Equal(5, n)
	s.Contains(mirror.cases, "10000003")
}

func (s *CaseSyncWorkflowTestSuite) Test_RelationalSyncWorkflow_NothingToUpdate() {
	l := logger.GetSlogLogger()

	// mirror already holds the newest case; the source has nothing else
	mirror := newFakeMirror(layerSchemaFields())
	wm := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	mirror.cases["10000001"] = domain.CaseRecord{ServiceRequestID: "10000001", UpdatedDatetime: &wm}
	crm := &fakeCRM{}

	ctx := logger.WithLogger(context.Background(), l)
	ctx = context.WithValue(ctx, cs.CaseStoreContextKey, mirror)
	ctx = context.WithValue(ctx, cs.CRMClientContextKey, crm)
	ctx = context.WithValue(ctx, sources.CaseQuerierContextKey, crm)
	ctx = context.WithValue(ctx, sinks.CaseUpserterContextKey, mirror)

	s.newEnv(ctx)
	s.registerRelationalSync()

	req := &cs.RelationalSyncRequest{
		JobID:  "relational-empty-window",
		Window: cs.WindowRequest{Mode: cs.WindowIncremental, TimeZone: "America/New_York", DateColumn: "LastModifiedDate"},
		Sink: sinks.CaseMirrorSinkConfig{
			Store:   postgres.StoreConfig{RawTable: "public_cases_fc"},
			Staging: sinks.StagingCSVSinkConfig{Dir: s.T().TempDir()},
		},
		BatchSize: 2000,
	}

	s.env.ExecuteWorkflow(cs.RelationalSyncWorkflowAlias, req)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())

	var result cs.RelationalSyncRequest
	s.NoError(s.env.GetWorkflowResult(&result))
	s.True(result.Done)
	s.Equal(int64(0), result.Records)
	// windowed count query carries the watermark predicate
	s.Require().NotEmpty(crm.queries)
	s.Contains(crm.queries[0], "LastModifiedDate >")
}

func (s *CaseSyncWorkflowTestSuite) Test_RelationalSyncWorkflow_ContinueAsNew() {
	l := logger.GetSlogLogger()
	mirror := newFakeMirror(layerSchemaFields())
	crm := &fakeCRM{
		pages: [][]domain.RawCase{
			{rawCase("10000001", "2026-08-30T10:00:00.000-0400")},
			{rawCase("10000002", "2026-08-30T10:05:00.000-0400")},
		},
	}

	ctx := logger.WithLogger(context.Background(), l)
	ctx = context.WithValue(ctx, cs.CaseStoreContextKey, mirror)
	ctx = context.WithValue(ctx, cs.CRMClientContextKey, crm)
	ctx = context.WithValue(ctx, sources.CaseQuerierContextKey, crm)
	ctx = context.WithValue(ctx, sinks.CaseUpserterContextKey, mirror)

	s.newEnv(ctx)
	s.registerRelationalSync()

	req := &cs.RelationalSyncRequest{
		JobID:  "relational-continue",
		Window: cs.WindowRequest{Mode: cs.WindowIncremental, TimeZone: "America/New_York", DateColumn: "LastModifiedDate"},
		Sink: sinks.CaseMirrorSinkConfig{
			Store:   postgres.StoreConfig{RawTable: "public_cases_fc"},
			Staging: sinks.StagingCSVSinkConfig{Dir: s.T().TempDir()},
		},
		BatchSize:  1,
		MaxBatches: 1,
	}

	s.env.ExecuteWorkflow(cs.RelationalSyncWorkflowAlias, req)
	s.True(s.env.IsWorkflowCompleted())

	err := s.env.GetWorkflowError()
	var ca *workflow.ContinueAsNewError
	s.Require().True(errors.As(err, &ca), "expected ContinueAsNewError, got: %v", err)

	var next cs.RelationalSyncRequest
	s.Require().NoError(converter.GetDefaultDataConverter().FromPayloads(ca.Input, &next))
	s.Equal("page-1", next.StartAt)
	s.Equal(2, next.Total)
	s.Equal(int64(1), next.Records)
	s.False(next.Done)

	// the first page landed before the handoff
	s.Contains(mirror.cases, "10000001")
}

func (s *CaseSyncWorkflowTestSuite) Test_RelationalSyncWorkflow_FullRefresh() {
	l := logger.GetSlogLogger()
	mirror := newFakeMirror(layerSchemaFields())
	// highest mirror key 150000, so a width of 100000 yields two ranges
	mirror.cases["150000"] = domain.CaseRecord{ServiceRequestID: "150000"}
	crm := &fakeCRM{
		pages: [][]domain.RawCase{
			{rawCase("10000001", "2026-08-30T10:00:00.000-0400")},
		},
	}

	ctx := logger.WithLogger(context.Background(), l)
	ctx = context.WithValue(ctx, cs.CaseStoreContextKey, mirror)
	ctx = context.WithValue(ctx, cs.CRMClientContextKey, crm)
	ctx = context.WithValue(ctx, sources.CaseQuerierContextKey, crm)
	ctx = context.WithValue(ctx, sinks.CaseUpserterContextKey, mirror)

	s.newEnv(ctx)
	s.registerRelationalSync()

	req := &cs.RelationalSyncRequest{
		JobID:  "relational-refresh",
		Window: cs.WindowRequest{Mode: cs.WindowRefresh, KeyWidth: 100000, DateColumn: "LastModifiedDate"},
		Sink: sinks.CaseMirrorSinkConfig{
			Store:   postgres.StoreConfig{RawTable: "public_cases_fc"},
			Staging: sinks.StagingCSVSinkConfig{Dir: s.T().TempDir()},
		},
		BatchSize:  100,
		MaxBatches: 10,
	}

	s.env.ExecuteWorkflow(cs.RelationalSyncWorkflowAlias, req)
	s.True(s.env.IsWorkflowCompleted())

	// the first range drained, so the run hands off to the second
	err := s.env.GetWorkflowError()
	var ca *workflow.ContinueAsNewError
	s.Require().True(errors.As(err, &ca), "expected ContinueAsNewError, got: %v", err)

	var next cs.RelationalSyncRequest
	s.Require().NoError(converter.GetDefaultDataConverter().FromPayloads(ca.Input, &next))
	s.Equal([]string{"AND (CaseNumber >= 100000) AND (CaseNumber < 200000)"}, next.Ranges)
	s.Equal(next.Ranges[0], next.Predicate)
	s.Empty(next.StartAt)
	s.False(next.Done)

	// the whole-dataset count ran unchunked, the fetch inside range one
	s.Require().GreaterOrEqual(len(crm.queries), 2)
	s.Contains(crm.queries[0], "SELECT COUNT()")
	s.NotContains(crm.queries[0], "CaseNumber >=")
	s.Contains(crm.queries[1], "AND (CaseNumber >= 0) AND (CaseNumber < 100000)")
	s.Contains(crm.queries[1], "ORDER BY LastModifiedDate ASC")
	s.Contains(mirror.cases, "10000001")
}

func (s *CaseSyncWorkflowTestSuite) Test_MapLayerSyncWorkflow_HappyPath() {
	l := logger.GetSlogLogger()

	mirror := newFakeMirror(layerSchemaFields())
	layer := newFakeLayer(layerSchemaFields())
	// case 10000001 is already on the layer, so it re-syncs as a
	// delete plus an add
	layer.features["10000001"] = arcgis.Feature{Attributes: map[string]any{domain.PrimaryKey: "10000001"}}
	layer.maxMs = time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC).UnixMilli()

	crm := &fakeCRM{
		pages: [][]domain.RawCase{
			{
				rawCase("10000001", "2026-08-30T11:00:00.000-0400"),
				rawCase("10000002", "2026-08-30T11:05:00.000-0400"),
			},
		},
	}

	ctx := logger.WithLogger(context.Background(), l)
	ctx = context.WithValue(ctx, cs.CaseStoreContextKey, mirror)
	ctx = context.WithValue(ctx, cs.CRMClientContextKey, crm)
	ctx = context.WithValue(ctx, cs.LayerClientContextKey, layer)
	ctx = context.WithValue(ctx, sources.CaseQuerierContextKey, crm)
	ctx = context.WithValue(ctx, sinks.LayerClientContextKey, layer)

	s.newEnv(ctx)
	s.env.RegisterWorkflowWithOptions(
		cs.MapLayerSyncWorkflow,
		workflow.RegisterOptions{Name: cs.MapLayerSyncWorkflowAlias},
	)
	s.env.RegisterActivityWithOptions(
		cs.FetchNextActivity[domain.CaseRecord, sources.SalesforceCaseSourceConfig],
		activity.RegisterOptions{Name: cs.FetchNextCaseSourceBatchAlias},
	)
	s.env.RegisterActivityWithOptions(
		cs.WriteNextActivity[domain.CaseRecord, sinks.MapLayerSinkConfig],
		activity.RegisterOptions{Name: cs.WriteNextLayerSinkBatchAlias},
	)
	s.env.RegisterActivityWithOptions(
		cs.CheckLayerSchemaActivity,
		activity.RegisterOptions{Name: cs.CheckLayerSchemaActivityAlias},
	)
	s.env.RegisterActivityWithOptions(
		cs.ResolveLayerWindowActivity,
		activity.RegisterOptions{Name: cs.ResolveLayerWindowActivityAlias},
	)
	s.env.RegisterActivityWithOptions(
		cs.CountSourceCasesActivity,
		activity.RegisterOptions{Name: cs.CountSourceCasesActivityAlias},
	)

	req := &cs.MapLayerSyncRequest{
		JobID:       "map-layer-happy",
		TimeZone:    "America/New_York",
		DateColumn:  "LastModifiedDate",
		DateField:   "updated_datetime",
		MirrorTable: "public_cases_fc",
		Sink: sinks.MapLayerSinkConfig{
			Layer: reconcile.MapLayerConfig{
				LayerType: "esriGeometryPoint",
				InSRID:    4326,
				OutSRID:   4326,
				TimeZone:  "America/New_York",
			},
		},
		BatchSize:  2000,
		MaxBatches: 10,
	}

	s.env.ExecuteWorkflow(cs.MapLayerSyncWorkflowAlias, req)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())

	var result cs.MapLayerSyncRequest
	s.NoError(s.env.GetWorkflowResult(&result))
	s.True(result.Done)
	s.Equal(int64(2), result.Records)

	s.Equal(2, layer.added)
	s.Equal(1, layer.deleted)
	s.Len(layer.features, 2)
	s.Contains(layer.features, "10000002")
}

func (s *CaseSyncWorkflowTestSuite) Test_MapLayerSyncWorkflow_SchemaDrift() {
	l := logger.GetSlogLogger()

	mirror := newFakeMirror(append(layerSchemaFields(), "brand_new_column"))
	layer := newFakeLayer(layerSchemaFields())
	crm := &fakeCRM{}

	ctx := logger.WithLogger(context.Background(), l)
	ctx = context.WithValue(ctx, cs.CaseStoreContextKey, mirror)
	ctx = context.WithValue(ctx, cs.CRMClientContextKey, crm)
	ctx = context.WithValue(ctx, cs.LayerClientContextKey, layer)

	s.newEnv(ctx)
	s.env.RegisterWorkflowWithOptions(
		cs.MapLayerSyncWorkflow,
		workflow.RegisterOptions{Name: cs.MapLayerSyncWorkflowAlias},
	)
	s.env.RegisterActivityWithOptions(
		cs.CheckLayerSchemaActivity,
		activity.RegisterOptions{Name: cs.CheckLayerSchemaActivityAlias},
	)

	req := &cs.MapLayerSyncRequest{
		JobID:       "map-layer-drift",
		MirrorTable: "public_cases_fc",
		Sink: sinks.MapLayerSinkConfig{
			Layer: reconcile.MapLayerConfig{LayerType: "esriGeometryPoint"},
		},
	}

	s.env.ExecuteWorkflow(cs.MapLayerSyncWorkflowAlias, req)
	s.True(s.env.IsWorkflowCompleted())

	err := s.env.GetWorkflowError()
	s.Error(err)
	s.Contains(err.Error(), cs.ERR_SCHEMA_MISMATCH)

	// no edits reached the layer
	s.Equal(0, layer.added)
	s.Equal(0, layer.deleted)
}

func (s *CaseSyncWorkflowTestSuite) Test_ViewerMirrorSyncWorkflow() {
	l := logger.GetSlogLogger()

	mirror := newFakeMirror(layerSchemaFields())
	mirror.cases["10000001"] = domain.CaseRecord{ServiceRequestID: "10000001"}
	mirror.cases["10000002"] = domain.CaseRecord{ServiceRequestID: "10000002"}

	ctx := logger.WithLogger(context.Background(), l)
	ctx = context.WithValue(ctx, cs.CaseStoreContextKey, mirror)

	s.newEnv(ctx)
	s.env.RegisterWorkflowWithOptions(
		cs.ViewerMirrorSyncWorkflow,
		workflow.RegisterOptions{Name: cs.ViewerMirrorSyncWorkflowAlias},
	)
	s.env.RegisterActivityWithOptions(
		cs.CopyMirrorToViewerActivity,
		activity.RegisterOptions{Name: cs.CopyMirrorToViewerActivityAlias},
	)

	s.env.ExecuteWorkflow(cs.ViewerMirrorSyncWorkflowAlias, &cs.ViewerMirrorSyncRequest{JobID: "viewer-copy"})
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())

	var result cs.ViewerMirrorSyncRequest
	s.NoError(s.env.GetWorkflowResult(&result))
	s.Equal(int64(2), result.Rows)
	s.Len(mirror.viewer, 2)
}

func (s *CaseSyncWorkflowTestSuite) Test_DeleteReconciliationWorkflow() {
	l := logger.GetSlogLogger()

	mirror := newFakeMirror(layerSchemaFields())
	mirror.cases["10000001"] = domain.CaseRecord{ServiceRequestID: "10000001"}
	mirror.cases["10000002"] = domain.CaseRecord{ServiceRequestID: "10000002"}
	mirror.cases["10000003"] = domain.CaseRecord{ServiceRequestID: "10000003"}
	crm := &fakeCRM{existing: map[string]struct{}{
		"10000001": {},
		"10000003": {},
	}}

	ctx := logger.WithLogger(context.Background(), l)
	ctx = context.WithValue(ctx, cs.CaseStoreContextKey, mirror)
	ctx = context.WithValue(ctx, cs.CRMClientContextKey, crm)

	s.newEnv(ctx)
	s.env.RegisterWorkflowWithOptions(
		cs.DeleteReconciliationWorkflow,
		workflow.RegisterOptions{Name: cs.DeleteReconciliationWorkflowAlias},
	)
	s.env.RegisterActivityWithOptions(
		cs.ReconcileDeletedCasesActivity,
		activity.RegisterOptions{Name: cs.ReconcileDeletedCasesActivityAlias},
	)

	req := &cs.DeleteReconciliationRequest{
		JobID:  "delete-reconcile",
		Client: cs.DeleteReconcileRequest{KeyField: "CaseNumber"},
	}

	s.env.ExecuteWorkflow(cs.DeleteReconciliationWorkflowAlias, req)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())

	var result cs.DeleteReconciliationRequest
	s.NoError(s.env.GetWorkflowResult(&result))
	s.Equal(1, result.Archived)
	s.Equal([]string{"10000002"}, mirror.archived)

	n, err := mirror.Count(context.Background(), "public_cases_fc")
	s.NoError(err)
	s.Equal(2, n)
}
