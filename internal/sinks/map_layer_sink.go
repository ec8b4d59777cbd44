package sinks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/comfforts/logger"

	"github.com/citygeo/case-sync/internal/clients/arcgis"
	"github.com/citygeo/case-sync/internal/reconcile"
	"github.com/citygeo/case-sync/pkg/domain"
)

const MapLayerSink = "map-layer-sink"

// LayerClientContextKey carries a worker-scoped feature-service client.
// When present it is used instead of authenticating against the
// configured portal.
const LayerClientContextKey = domain.ContextKey("layer-client")

// Map layer sink. The platform has no upsert, so each record is queued
// as a delete-then-add through the layer reconciler; the reconciler
// flushes on its own caps and the sink flushes the remainder after each
// batch, keeping the write activity stateless across batches.
type mapLayerSink struct {
	rec *reconcile.MapLayerReconciler
	l   *slog.Logger
}

// Name of the sink.
func (s *mapLayerSink) Name() string { return MapLayerSink }

// Write queues every clean record and flushes the pending edits.
func (s *mapLayerSink) Write(
	ctx context.Context,
	b *domain.BatchProcess[domain.CaseRecord],
) (*domain.BatchProcess[domain.CaseRecord], error) {
	for i, rec := range b.Records {
		if rec.BatchResult.Error != "" {
			continue
		}
		if err := s.rec.Enqueue(ctx, rec.Data); err != nil {
			return b, fmt.Errorf("record %d: %w", i, err)
		}
		b.Records[i].BatchResult.Result = rec.Data.ServiceRequestID
	}
	if err := s.rec.Flush(ctx); err != nil {
		return b, err
	}
	return b, nil
}

func (s *mapLayerSink) Close(ctx context.Context) error { return nil }

// Map layer sink config.
type MapLayerSinkConfig struct {
	Client arcgis.ArcGISConfig
	Layer  reconcile.MapLayerConfig
}

// Name of the sink.
func (c MapLayerSinkConfig) Name() string { return MapLayerSink }

// BuildSink binds the layer reconciler to the context-injected feature
// service client when present, otherwise authenticates a fresh one.
func (c MapLayerSinkConfig) BuildSink(ctx context.Context) (domain.Sink[domain.CaseRecord], error) {
	ctxl, err := logger.LoggerFromContext(ctx)
	l, ok := ctxl.(*slog.Logger)
	if err != nil || !ok {
		l = logger.GetSlogLogger()
	}

	var cl reconcile.LayerClient
	if v, ok := ctx.Value(LayerClientContextKey).(reconcile.LayerClient); ok && v != nil {
		cl = v
	} else {
		ac, err := arcgis.NewArcGISClient(ctx, c.Client, l)
		if err != nil {
			return nil, err
		}
		cl = ac
	}

	rec, err := reconcile.NewMapLayerReconciler(cl, c.Layer, l)
	if err != nil {
		return nil, err
	}
	return &mapLayerSink{rec: rec, l: l}, nil
}
