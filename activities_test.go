package casesync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/worker"

	"github.com/comfforts/logger"

	cs "github.com/citygeo/case-sync"
	"github.com/citygeo/case-sync/internal/reconcile"
	"github.com/citygeo/case-sync/pkg/domain"
)

type CaseSyncActivitiesTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
}

func TestCaseSyncActivitiesTestSuite(t *testing.T) {
	suite.Run(t, new(CaseSyncActivitiesTestSuite))
}

func (s *CaseSyncActivitiesTestSuite) activityEnv(ctx context.Context) *testsuite.TestActivityEnvironment {
	l := logger.GetSlogMultiLogger("data")
	s.SetLogger(l)

	env := s.NewTestActivityEnvironment()
	env.SetWorkerOptions(worker.Options{
		BackgroundActivityContext: logger.WithLogger(ctx, logger.GetSlogLogger()),
	})
	return env
}

func (s *CaseSyncActivitiesTestSuite) Test_ResolveMirrorWindowActivity_Incremental() {
	mirror := newFakeMirror(layerSchemaFields())
	wm := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	mirror.cases["10000001"] = domain.CaseRecord{ServiceRequestID: "10000001", UpdatedDatetime: &wm}

	ctx := context.WithValue(context.Background(), cs.CaseStoreContextKey, mirror)
	env := s.activityEnv(ctx)
	env.RegisterActivityWithOptions(cs.ResolveMirrorWindowActivity, activity.RegisterOptions{Name: cs.ResolveMirrorWindowActivityAlias})

	val, err := env.ExecuteActivity(cs.ResolveMirrorWindowActivity, &cs.WindowRequest{
		Mode:       cs.WindowIncremental,
		TimeZone:   "America/New_York",
		DateColumn: "LastModifiedDate",
	})
	s.NoError(err)

	var res cs.WindowResult
	s.NoError(val.Get(&res))
	s.True(res.HasWatermark)
	s.Contains(res.Predicate, "LastModifiedDate >")
	// 14:00 UTC renders as 10:00 in the source zone
	s.Contains(res.Predicate, "2026-08-30T10:00:00-04:00")
}

func (s *CaseSyncActivitiesTestSuite) Test_ResolveMirrorWindowActivity_EmptyMirror() {
	mirror := newFakeMirror(layerSchemaFields())

	ctx := context.WithValue(context.Background(), cs.CaseStoreContextKey, mirror)
	env := s.activityEnv(ctx)
	env.RegisterActivityWithOptions(cs.ResolveMirrorWindowActivity, activity.RegisterOptions{Name: cs.ResolveMirrorWindowActivityAlias})

	val, err := env.ExecuteActivity(cs.ResolveMirrorWindowActivity, &cs.WindowRequest{Mode: cs.WindowIncremental})
	s.NoError(err)

	var res cs.WindowResult
	s.NoError(val.Get(&res))
	s.False(res.HasWatermark)
	s.Empty(res.Predicate)
}

func (s *CaseSyncActivitiesTestSuite) Test_ResolveMirrorWindowActivity_Day() {
	// explicit windows need no mirror watermark
	env := s.activityEnv(context.Background())
	env.RegisterActivityWithOptions(cs.ResolveMirrorWindowActivity, activity.RegisterOptions{Name: cs.ResolveMirrorWindowActivityAlias})

	val, err := env.ExecuteActivity(cs.ResolveMirrorWindowActivity, &cs.WindowRequest{
		Mode:       cs.WindowDay,
		Day:        "2026-08-30",
		TimeZone:   "America/New_York",
		DateColumn: "LastModifiedDate",
	})
	s.NoError(err)

	var res cs.WindowResult
	s.NoError(val.Get(&res))
	s.Contains(res.Predicate, "LastModifiedDate >=")
	s.Contains(res.Predicate, "LastModifiedDate <")
}

func (s *CaseSyncActivitiesTestSuite) Test_ResolveMirrorWindowActivity_FullRefresh() {
	mirror := newFakeMirror(layerSchemaFields())
	mirror.cases["99999"] = domain.CaseRecord{ServiceRequestID: "99999"}
	mirror.cases["150000"] = domain.CaseRecord{ServiceRequestID: "150000"}

	ctx := context.WithValue(context.Background(), cs.CaseStoreContextKey, mirror)
	env := s.activityEnv(ctx)
	env.RegisterActivityWithOptions(cs.ResolveMirrorWindowActivity, activity.RegisterOptions{Name: cs.ResolveMirrorWindowActivityAlias})

	val, err := env.ExecuteActivity(cs.ResolveMirrorWindowActivity, &cs.WindowRequest{
		Mode:     cs.WindowRefresh,
		KeyWidth: 100000,
	})
	s.NoError(err)

	var res cs.WindowResult
	s.NoError(val.Get(&res))
	s.Empty(res.Predicate)
	s.Equal([]string{
		"AND (CaseNumber >= 0) AND (CaseNumber < 100000)",
		"AND (CaseNumber >= 100000) AND (CaseNumber < 200000)",
	}, res.KeyRanges)
}

func (s *CaseSyncActivitiesTestSuite) Test_ResolveMirrorWindowActivity_MissingStore() {
	env := s.activityEnv(context.Background())
	env.RegisterActivityWithOptions(cs.ResolveMirrorWindowActivity, activity.RegisterOptions{Name: cs.ResolveMirrorWindowActivityAlias})

	_, err := env.ExecuteActivity(cs.ResolveMirrorWindowActivity, &cs.WindowRequest{Mode: cs.WindowIncremental})
	s.Error(err)
	s.Contains(err.Error(), cs.ERR_MISSING_CASE_STORE)
}

func (s *CaseSyncActivitiesTestSuite) Test_CheckLayerSchemaActivity() {
	mirror := newFakeMirror(layerSchemaFields())
	layer := newFakeLayer(layerSchemaFields())

	ctx := context.WithValue(context.Background(), cs.CaseStoreContextKey, mirror)
	ctx = context.WithValue(ctx, cs.LayerClientContextKey, layer)
	env := s.activityEnv(ctx)
	env.RegisterActivityWithOptions(cs.CheckLayerSchemaActivity, activity.RegisterOptions{Name: cs.CheckLayerSchemaActivityAlias})

	req := &cs.SchemaCheckRequest{
		Layer:       reconcile.MapLayerConfig{LayerType: "esriGeometryPoint"},
		MirrorTable: "public_cases_fc",
	}
	_, err := env.ExecuteActivity(cs.CheckLayerSchemaActivity, req)
	s.NoError(err)
}

func (s *CaseSyncActivitiesTestSuite) Test_CheckLayerSchemaActivity_Drift() {
	mirror := newFakeMirror(append(layerSchemaFields(), "brand_new_column"))
	layer := newFakeLayer(layerSchemaFields())

	ctx := context.WithValue(context.Background(), cs.CaseStoreContextKey, mirror)
	ctx = context.WithValue(ctx, cs.LayerClientContextKey, layer)
	env := s.activityEnv(ctx)
	env.RegisterActivityWithOptions(cs.CheckLayerSchemaActivity, activity.RegisterOptions{Name: cs.CheckLayerSchemaActivityAlias})

	req := &cs.SchemaCheckRequest{
		Layer:       reconcile.MapLayerConfig{LayerType: "esriGeometryPoint"},
		MirrorTable: "public_cases_fc",
	}
	_, err := env.ExecuteActivity(cs.CheckLayerSchemaActivity, req)
	s.Error(err)
	s.Contains(err.Error(), cs.ERR_SCHEMA_MISMATCH)
	s.Contains(err.Error(), "brand_new_column")
}

func (s *CaseSyncActivitiesTestSuite) Test_ReconcileDeletedCasesActivity() {
	mirror := newFakeMirror(layerSchemaFields())
	mirror.cases["10000001"] = domain.CaseRecord{ServiceRequestID: "10000001"}
	mirror.cases["10000002"] = domain.CaseRecord{ServiceRequestID: "10000002"}
	crm := &fakeCRM{existing: map[string]struct{}{"10000001": {}}}

	ctx := context.WithValue(context.Background(), cs.CaseStoreContextKey, mirror)
	ctx = context.WithValue(ctx, cs.CRMClientContextKey, crm)
	env := s.activityEnv(ctx)
	env.RegisterActivityWithOptions(cs.ReconcileDeletedCasesActivity, activity.RegisterOptions{Name: cs.ReconcileDeletedCasesActivityAlias})

	val, err := env.ExecuteActivity(cs.ReconcileDeletedCasesActivity, &cs.DeleteReconcileRequest{KeyField: "CaseNumber"})
	s.NoError(err)

	var res cs.DeleteReconcileResult
	s.NoError(val.Get(&res))
	s.Equal(1, res.Archived)
	s.Equal([]string{"10000002"}, mirror.archived)
}
