// case-sync runs the 311 case sync service: a worker process hosting
// the sync workflows, and starter commands that kick off individual
// sync jobs against a running worker.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/comfforts/logger"

	cs "github.com/citygeo/case-sync"
	"github.com/citygeo/case-sync/internal/clients/arcgis"
	"github.com/citygeo/case-sync/internal/clients/postgres"
	"github.com/citygeo/case-sync/internal/clients/salesforce"
	"github.com/citygeo/case-sync/internal/config"
	"github.com/citygeo/case-sync/internal/reconcile"
	"github.com/citygeo/case-sync/internal/sinks"
	"github.com/citygeo/case-sync/internal/sources"
	"github.com/citygeo/case-sync/pkg/domain"
	"github.com/citygeo/case-sync/pkg/normalize"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// windowFlags holds the explicit window selection shared by the sync
// starters. All empty means incremental.
type windowFlags struct {
	Day      string
	Month    string
	Year     string
	Refresh  bool
	KeyWidth int64
}

func (f *windowFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Day, "day", "", "sync one calendar day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.Month, "month", "", "sync one calendar month (YYYY-MM)")
	cmd.Flags().StringVar(&f.Year, "year", "", "sync one calendar year (YYYY)")
	cmd.Flags().BoolVar(&f.Refresh, "full-refresh", false, "refetch everything in key-range chunks instead of a time window")
	cmd.Flags().Int64Var(&f.KeyWidth, "key-width", 0, "key-range chunk width for --full-refresh (default 100000)")
}

func (f *windowFlags) request(tz, dateColumn string) (cs.WindowRequest, error) {
	set := 0
	for _, v := range []string{f.Day, f.Month, f.Year} {
		if v != "" {
			set++
		}
	}
	if f.Refresh {
		set++
	}
	if set > 1 {
		return cs.WindowRequest{}, fmt.Errorf("--day, --month, --year and --full-refresh are mutually exclusive")
	}

	req := cs.WindowRequest{Mode: cs.WindowIncremental, TimeZone: tz, DateColumn: dateColumn}
	switch {
	case f.Day != "":
		req.Mode, req.Day = cs.WindowDay, f.Day
	case f.Month != "":
		req.Mode, req.Month = cs.WindowMonth, f.Month
	case f.Year != "":
		req.Mode, req.Year = cs.WindowYear, f.Year
	case f.Refresh:
		req.Mode, req.KeyWidth = cs.WindowRefresh, f.KeyWidth
	}
	return req, nil
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "case-sync",
		Short:         "311 case sync between the CRM, the relational mirrors and the public map layer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newWorkerCommand())
	cmd.AddCommand(newSyncCommand())
	cmd.AddCommand(newMapLayerCommand())
	cmd.AddCommand(newViewerCommand())
	cmd.AddCommand(newReconcileDeletesCommand())
	return cmd
}

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the sync worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), cfg)
		},
	}
}

func runWorker(ctx context.Context, cfg *config.Config) error {
	l := logger.GetSlogLogger()

	store, err := postgres.ConnectCaseStore(ctx, cfg.Database.DSN, storeConfig(cfg), l)
	if err != nil {
		return err
	}
	defer store.Close(ctx)

	sf, err := salesforce.NewSalesforceClient(ctx, crmConfig(cfg), l)
	if err != nil {
		return err
	}
	ago, err := arcgis.NewArcGISClient(ctx, layerConfig(cfg), l)
	if err != nil {
		return err
	}

	// worker-scoped collaborators, shared by every activity run
	actCtx := logger.WithLogger(ctx, l)
	actCtx = context.WithValue(actCtx, cs.CaseStoreContextKey, store)
	actCtx = context.WithValue(actCtx, cs.CRMClientContextKey, sf)
	actCtx = context.WithValue(actCtx, cs.LayerClientContextKey, ago)
	actCtx = context.WithValue(actCtx, sources.CaseQuerierContextKey, sf)
	actCtx = context.WithValue(actCtx, sinks.CaseUpserterContextKey, store)
	actCtx = context.WithValue(actCtx, sinks.LayerClientContextKey, ago)

	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Identity:  cs.HostID,
	})
	if err != nil {
		return err
	}
	defer tc.Close()

	w := worker.New(tc, cs.ApplicationName, worker.Options{
		BackgroundActivityContext: actCtx,
	})

	w.RegisterWorkflowWithOptions(cs.RelationalSyncWorkflow, workflow.RegisterOptions{Name: cs.RelationalSyncWorkflowAlias})
	w.RegisterWorkflowWithOptions(cs.MapLayerSyncWorkflow, workflow.RegisterOptions{Name: cs.MapLayerSyncWorkflowAlias})
	w.RegisterWorkflowWithOptions(cs.ViewerMirrorSyncWorkflow, workflow.RegisterOptions{Name: cs.ViewerMirrorSyncWorkflowAlias})
	w.RegisterWorkflowWithOptions(cs.DeleteReconciliationWorkflow, workflow.RegisterOptions{Name: cs.DeleteReconciliationWorkflowAlias})

	w.RegisterActivityWithOptions(
		cs.FetchNextActivity[domain.CaseRecord, sources.SalesforceCaseSourceConfig],
		activity.RegisterOptions{Name: cs.FetchNextCaseSourceBatchAlias},
	)
	w.RegisterActivityWithOptions(
		cs.WriteNextActivity[domain.CaseRecord, sinks.CaseMirrorSinkConfig],
		activity.RegisterOptions{Name: cs.WriteNextMirrorSinkBatchAlias},
	)
	w.RegisterActivityWithOptions(
		cs.WriteNextActivity[domain.CaseRecord, sinks.MapLayerSinkConfig],
		activity.RegisterOptions{Name: cs.WriteNextLayerSinkBatchAlias},
	)
	w.RegisterActivityWithOptions(cs.ResolveMirrorWindowActivity, activity.RegisterOptions{Name: cs.ResolveMirrorWindowActivityAlias})
	w.RegisterActivityWithOptions(cs.ResolveLayerWindowActivity, activity.RegisterOptions{Name: cs.ResolveLayerWindowActivityAlias})
	w.RegisterActivityWithOptions(cs.CountSourceCasesActivity, activity.RegisterOptions{Name: cs.CountSourceCasesActivityAlias})
	w.RegisterActivityWithOptions(cs.CopyMirrorToViewerActivity, activity.RegisterOptions{Name: cs.CopyMirrorToViewerActivityAlias})
	w.RegisterActivityWithOptions(cs.VerifyMirrorCountActivity, activity.RegisterOptions{Name: cs.VerifyMirrorCountActivityAlias})
	w.RegisterActivityWithOptions(cs.ReconcileDeletedCasesActivity, activity.RegisterOptions{Name: cs.ReconcileDeletedCasesActivityAlias})
	w.RegisterActivityWithOptions(cs.CheckLayerSchemaActivity, activity.RegisterOptions{Name: cs.CheckLayerSchemaActivityAlias})

	l.Info("case sync worker starting", "task-queue", cs.ApplicationName, "host-id", cs.HostID)
	return w.Run(worker.InterruptCh())
}

func newSyncCommand() *cobra.Command {
	wf := &windowFlags{}
	var batchSize uint
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync changed cases from the CRM into the relational mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			window, err := wf.request(cfg.Sync.TimeZone, cfg.Sync.DateColumn)
			if err != nil {
				return err
			}
			if batchSize == 0 {
				batchSize = cfg.Sync.BatchSize
			}

			jobID := "relational-case-sync-" + uuid.New().String()
			req := &cs.RelationalSyncRequest{
				JobID:     jobID,
				Window:    window,
				Source:    sourceConfig(cfg),
				Sink:      mirrorSinkConfig(cfg),
				BatchSize: batchSize,
			}
			return startWorkflow(cmd.Context(), cfg, cs.RelationalSyncWorkflowAlias, jobID, req)
		},
	}
	wf.register(cmd)
	cmd.Flags().UintVar(&batchSize, "batch-size", 0, "batch size override")
	return cmd
}

func newMapLayerCommand() *cobra.Command {
	var batchSize uint
	cmd := &cobra.Command{
		Use:   "maplayer",
		Short: "Sync changed cases from the CRM onto the public map layer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if batchSize == 0 {
				batchSize = cfg.Sync.BatchSize
			}

			jobID := "map-layer-case-sync-" + uuid.New().String()
			req := &cs.MapLayerSyncRequest{
				JobID:       jobID,
				TimeZone:    cfg.Sync.TimeZone,
				DateColumn:  cfg.Sync.DateColumn,
				DateField:   "updated_datetime",
				MirrorTable: cfg.Database.RawTable,
				Source:      sourceConfig(cfg),
				Sink: sinks.MapLayerSinkConfig{
					Client: layerConfig(cfg),
					Layer: reconcile.MapLayerConfig{
						LayerType: cfg.Layer.LayerType,
						InSRID:    cfg.Layer.InSRID,
						OutSRID:   cfg.Layer.OutSRID,
						TimeZone:  cfg.Sync.TimeZone,
					},
				},
				BatchSize: batchSize,
			}
			return startWorkflow(cmd.Context(), cfg, cs.MapLayerSyncWorkflowAlias, jobID, req)
		},
	}
	cmd.Flags().UintVar(&batchSize, "batch-size", 0, "batch size override")
	return cmd
}

func newViewerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "viewer",
		Short: "Copy new raw mirror rows into the viewer mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			jobID := "viewer-mirror-sync-" + uuid.New().String()
			req := &cs.ViewerMirrorSyncRequest{JobID: jobID}
			return startWorkflow(cmd.Context(), cfg, cs.ViewerMirrorSyncWorkflowAlias, jobID, req)
		},
	}
}

func newReconcileDeletesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile-deletes",
		Short: "Archive mirror cases the CRM no longer has",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			jobID := "delete-reconciliation-" + uuid.New().String()
			req := &cs.DeleteReconciliationRequest{
				JobID: jobID,
				Client: cs.DeleteReconcileRequest{
					Client:   crmConfig(cfg),
					KeyField: "CaseNumber",
				},
			}
			return startWorkflow(cmd.Context(), cfg, cs.DeleteReconciliationWorkflowAlias, jobID, req)
		},
	}
}

// startWorkflow kicks off one workflow run and waits for it.
func startWorkflow(ctx context.Context, cfg *config.Config, alias, jobID string, req any) error {
	l := logger.GetSlogLogger()

	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return err
	}
	defer tc.Close()

	run, err := tc.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        jobID,
		TaskQueue: cs.ApplicationName,
	}, alias, req)
	if err != nil {
		return err
	}

	l.Info("workflow started", "workflow", alias, "workflow-id", run.GetID(), "run-id", run.GetRunID())
	if err := run.Get(ctx, nil); err != nil {
		return err
	}
	l.Info("workflow completed", "workflow", alias, "workflow-id", run.GetID())
	return nil
}

func storeConfig(cfg *config.Config) postgres.StoreConfig {
	return postgres.StoreConfig{
		RawTable:     cfg.Database.RawTable,
		ViewerTable:  cfg.Database.ViewerTable,
		ArchiveTable: cfg.Database.ArchiveTable,
	}
}

func crmConfig(cfg *config.Config) salesforce.SalesforceConfig {
	return salesforce.SalesforceConfig{
		LoginURL:      cfg.CRM.LoginURL,
		Username:      cfg.CRM.Username,
		Password:      cfg.CRM.Password,
		SecurityToken: cfg.CRM.SecurityToken,
		ClientID:      cfg.CRM.ClientID,
		ClientSecret:  cfg.CRM.ClientSecret,
	}
}

func layerConfig(cfg *config.Config) arcgis.ArcGISConfig {
	return arcgis.ArcGISConfig{
		PortalURL:                   cfg.Layer.PortalURL,
		LayerURL:                    cfg.Layer.LayerURL,
		Username:                    cfg.Layer.Username,
		Password:                    cfg.Layer.Password,
		TreatMissingResultAsSuccess: cfg.Layer.TreatMissingResultAsSuccess,
	}
}

func sourceConfig(cfg *config.Config) sources.SalesforceCaseSourceConfig {
	return sources.SalesforceCaseSourceConfig{
		Client: crmConfig(cfg),
		Normalizer: normalize.Config{
			TimeZone:                cfg.Sync.TimeZone,
			InSRID:                  cfg.Layer.InSRID,
			LegacyAgencyStatusNotes: cfg.Sync.LegacyAgencyStatusNotes,
		},
		DateColumn: cfg.Sync.DateColumn,
	}
}

func mirrorSinkConfig(cfg *config.Config) sinks.CaseMirrorSinkConfig {
	return sinks.CaseMirrorSinkConfig{
		DSN:   cfg.Database.DSN,
		Store: storeConfig(cfg),
		Staging: sinks.StagingCSVSinkConfig{
			Dir:    cfg.Sync.StagingDir,
			Bucket: cfg.Sync.StagingBucket,
			Object: "staging/cases",
		},
	}
}
