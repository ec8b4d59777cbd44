package sinks

import (
	"context"
	"errors"
	"log/slog"

	"github.com/comfforts/logger"
	"github.com/google/uuid"

	"github.com/citygeo/case-sync/internal/clients/postgres"
	"github.com/citygeo/case-sync/internal/reconcile"
	"github.com/citygeo/case-sync/pkg/domain"
)

const (
	ERR_MIRROR_SINK_NO_STORE = "mirror sink: no relational store configured"
)

var (
	ErrMirrorSinkNoStore = errors.New(ERR_MIRROR_SINK_NO_STORE)
)

const CaseMirrorSink = "case-mirror-sink"

// CaseUpserterContextKey carries a worker-scoped bulk upserter. When
// present it is used instead of dialing the configured DSN, so tests and
// single-process workers share one pool.
const CaseUpserterContextKey = domain.ContextKey("case-upserter")

// Case mirror sink. Stages each batch to a CSV hand-off file, then bulk
// upserts the batch into the raw mirror keyed on service_request_id.
// Replaying a batch converges to the same mirror state.
type caseMirrorSink struct {
	staging *CSVStagingSink
	rec     *reconcile.RelationalReconciler
	store   *postgres.CaseStore // owned connection, nil when injected
	l       *slog.Logger
}

// Name of the sink.
func (s *caseMirrorSink) Name() string { return CaseMirrorSink }

// Write stages the batch and applies the bulk upsert. Records already
// marked errored are neither staged nor upserted.
func (s *caseMirrorSink) Write(
	ctx context.Context,
	b *domain.BatchProcess[domain.CaseRecord],
) (*domain.BatchProcess[domain.CaseRecord], error) {
	if _, err := s.staging.Write(ctx, b); err != nil {
		return b, err
	}
	if err := s.rec.ApplyBatch(ctx, b); err != nil {
		return b, err
	}
	return b, nil
}

// Close ships the staging file and releases the owned store, if any.
func (s *caseMirrorSink) Close(ctx context.Context) error {
	err := s.staging.Close(ctx)
	if s.store != nil {
		if cerr := s.store.Close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}

// Case mirror sink config.
type CaseMirrorSinkConfig struct {
	DSN     string // relational mirror DSN, unused when a store is on the context
	Store   postgres.StoreConfig
	Staging StagingCSVSinkConfig
}

// Name of the sink.
func (c CaseMirrorSinkConfig) Name() string { return CaseMirrorSink }

// BuildSink opens the staging file and binds the bulk upserter: the
// context-injected store when present, otherwise a fresh connection to
// the configured DSN.
func (c CaseMirrorSinkConfig) BuildSink(ctx context.Context) (domain.Sink[domain.CaseRecord], error) {
	cl, err := logger.LoggerFromContext(ctx)
	l, ok := cl.(*slog.Logger)
	if err != nil || !ok {
		l = logger.GetSlogLogger()
	}

	st := c.Staging
	if st.Object != "" {
		// one staged object per batch
		st.Object = st.Object + "-" + uuid.New().String()
	}
	staging, err := st.Build(ctx)
	if err != nil {
		return nil, err
	}

	var up reconcile.BulkUpserter
	var owned *postgres.CaseStore
	if v, ok := ctx.Value(CaseUpserterContextKey).(reconcile.BulkUpserter); ok && v != nil {
		up = v
	} else if c.DSN != "" {
		owned, err = postgres.ConnectCaseStore(ctx, c.DSN, c.Store, l)
		if err != nil {
			staging.Close(ctx)
			return nil, err
		}
		up = owned
	} else {
		staging.Close(ctx)
		return nil, ErrMirrorSinkNoStore
	}

	rec, err := reconcile.NewRelationalReconciler(up, c.Store.RawTable, l)
	if err != nil {
		staging.Close(ctx)
		if owned != nil {
			owned.Close(ctx)
		}
		return nil, err
	}

	return &caseMirrorSink{
		staging: staging,
		rec:     rec,
		store:   owned,
		l:       l,
	}, nil
}
