package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/citygeo/case-sync/internal/clients/arcgis"
	"github.com/citygeo/case-sync/pkg/domain"
	"github.com/citygeo/case-sync/pkg/geometry"
	"github.com/citygeo/case-sync/pkg/normalize"
)

const (
	ERR_RECON_SCHEMA_MISMATCH = "error mirror and layer schemas diverged"
	ERR_RECON_NIL_LAYER       = "error nil layer client"
	ERR_RECON_UNKNOWN_TZ      = "error unknown mirror time zone"
)

var (
	ErrSchemaMismatch  = errors.New(ERR_RECON_SCHEMA_MISMATCH)
	ErrNilLayer        = errors.New(ERR_RECON_NIL_LAYER)
	ErrUnknownTimeZone = errors.New(ERR_RECON_UNKNOWN_TZ)
)

// DefaultAddBatchSize caps one edit batch. The platform silently rolls
// back overlong batches.
const DefaultAddBatchSize = 50

// DeletePredicateMaxLen caps the OR-chained delete predicate. The
// platform hard-fails predicates much past this length.
const DeletePredicateMaxLen = 350

// LayerClient is the feature layer capability set the reconciler needs.
type LayerClient interface {
	MaxUpdated(ctx context.Context, dateField string) (int64, bool, error)
	Count(ctx context.Context, where string) (int, error)
	Fields(ctx context.Context) ([]string, error)
	AddFeatures(ctx context.Context, features []arcgis.Feature) error
	DeleteFeatures(ctx context.Context, where string) error
}

type MapLayerConfig struct {
	AddBatchSize       int
	DeletePredicateMax int
	LayerType          string // esriGeometry type of the destination layer
	InSRID             int
	OutSRID            int
	// TimeZone is the relational mirror's reference zone name; the
	// layer's watermark converts into it before querying the mirror.
	TimeZone string
}

// MapLayerReconciler mirrors canonical records into the feature layer.
// The platform has no upsert, so each changed record is queued as a
// delete (when already present) plus an add, and applied in bounded
// batches.
type MapLayerReconciler struct {
	client LayerClient
	codec  *geometry.Codec
	cfg    MapLayerConfig
	tz     *time.Location

	adds    []arcgis.Feature
	delPred string
	added   int64
	deleted int64
	l       *slog.Logger
}

func NewMapLayerReconciler(client LayerClient, cfg MapLayerConfig, l *slog.Logger) (*MapLayerReconciler, error) {
	if client == nil {
		return nil, ErrNilLayer
	}
	if cfg.AddBatchSize <= 0 {
		cfg.AddBatchSize = DefaultAddBatchSize
	}
	if cfg.DeletePredicateMax <= 0 {
		cfg.DeletePredicateMax = DeletePredicateMaxLen
	}
	if cfg.LayerType == "" {
		cfg.LayerType = geometry.LayerPoint
	}
	tz := time.UTC
	if cfg.TimeZone != "" {
		loc, err := time.LoadLocation(cfg.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTimeZone, cfg.TimeZone)
		}
		tz = loc
	}

	codec, err := geometry.NewCodec(cfg.InSRID, cfg.OutSRID, cfg.LayerType)
	if err != nil {
		return nil, err
	}
	return &MapLayerReconciler{client: client, codec: codec, cfg: cfg, tz: tz, l: l}, nil
}

// Added and Deleted are the running edit counts.
func (m *MapLayerReconciler) Added() int64   { return m.added }
func (m *MapLayerReconciler) Deleted() int64 { return m.deleted }

// Watermark converts the layer's max updated_datetime into the mirror's
// reference zone, for the windowed mirror query.
func (m *MapLayerReconciler) Watermark(ctx context.Context) (time.Time, bool, error) {
	ms, ok, err := m.client.MaxUpdated(ctx, "updated_datetime")
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms).In(m.tz), true, nil
}

// CheckSchema compares the mirror's columns against the layer's fields,
// excluding the geometry and internal columns neither side exposes to
// the other. Any divergence is fatal before the first edit.
func (m *MapLayerReconciler) CheckSchema(ctx context.Context, mirrorColumns []string) error {
	layerFields, err := m.client.Fields(ctx)
	if err != nil {
		return err
	}

	excluded := domain.NewSet("shape", "gdb_geomattr_data", "objectid")
	normalizeCols := func(cols []string) domain.Set[string] {
		s := domain.NewSet[string]()
		for _, c := range cols {
			c = strings.ToLower(c)
			if !excluded.Has(c) {
				s.Add(c)
			}
		}
		return s
	}

	db := normalizeCols(mirrorColumns)
	layer := normalizeCols(layerFields)

	onlyDB := domain.Diff(db, layer)
	onlyLayer := domain.Diff(layer, db)
	if len(onlyDB) > 0 || len(onlyLayer) > 0 {
		return fmt.Errorf("%w: mirror-only %v, layer-only %v", ErrSchemaMismatch, onlyDB, onlyLayer)
	}
	return nil
}

// Enqueue queues one changed record: a delete when the layer already
// holds its key, always an add. Flushes when either accumulator hits
// its cap, so the accumulators are empty again before the next record.
func (m *MapLayerReconciler) Enqueue(ctx context.Context, rec domain.CaseRecord) error {
	where := fmt.Sprintf("%s = %s", domain.PrimaryKey, rec.ServiceRequestID)
	n, err := m.client.Count(ctx, where)
	if err != nil {
		return err
	}
	if n > 0 {
		if m.delPred == "" {
			m.delPred = where
		} else {
			m.delPred += " OR " + where
		}
	}

	feat, err := m.formatFeature(rec)
	if err != nil {
		return err
	}
	m.adds = append(m.adds, feat)

	if len(m.adds) >= m.cfg.AddBatchSize || len(m.delPred) >= m.cfg.DeletePredicateMax {
		return m.Flush(ctx)
	}
	return nil
}

// Flush applies pending deletes, then pending adds, and resets both
// accumulators. Called unconditionally at the end of a run.
func (m *MapLayerReconciler) Flush(ctx context.Context) error {
	if m.delPred != "" {
		if err := m.client.DeleteFeatures(ctx, m.delPred); err != nil {
			return err
		}
		m.deleted += int64(strings.Count(m.delPred, "="))
		m.delPred = ""
	}
	if len(m.adds) > 0 {
		if m.l != nil {
			last := m.adds[len(m.adds)-1].Attributes[domain.PrimaryKey]
			m.l.Info("applying edit batch",
				slog.Int("adds", len(m.adds)),
				slog.Any("last_key", last))
		}
		if err := m.client.AddFeatures(ctx, m.adds); err != nil {
			return err
		}
		m.added += int64(len(m.adds))
		m.adds = nil
	}
	return nil
}

// formatFeature shapes one canonical record for the edit API: free-text
// fields scrubbed a second time, dates as epoch milliseconds, absent
// geometry encoded as the layer type's explicit empty shape.
func (m *MapLayerReconciler) formatFeature(rec domain.CaseRecord) (arcgis.Feature, error) {
	attrs := map[string]any{
		"service_request_id":          rec.ServiceRequestID,
		"status":                      rec.Status,
		"status_notes":                normalize.ScrubText(rec.StatusNotes),
		"service_name":                rec.ServiceName,
		"service_code":                rec.ServiceCode,
		"description":                 normalize.ScrubText(rec.Description),
		"description_full":            normalize.ScrubText(rec.DescriptionFull),
		"agency_responsible":          rec.AgencyResponsible,
		"service_notice":              rec.ServiceNotice,
		"address":                     rec.Address,
		"zipcode":                     rec.Zipcode,
		"media_url":                   rec.MediaURL,
		"private_case":                rec.PrivateCase,
		"subject":                     normalize.ScrubText(rec.Subject),
		"type_":                       rec.CaseType,
		"requested_datetime":          epochMillis(rec.RequestedDatetime),
		"updated_datetime":            epochMillis(rec.UpdatedDatetime),
		"expected_datetime":           epochMillis(rec.ExpectedDatetime),
		"closed_datetime":             epochMillis(rec.ClosedDatetime),
		"police_district":             intAttr(rec.PoliceDistrict),
		"council_district_num":        intAttr(rec.CouncilDistrictNum),
		"pinpoint_area":               rec.PinpointArea,
		"parent_service_request_id":   intAttr(rec.ParentServiceRequestID),
		"li_district":                 rec.LIDistrict,
		"sanitation_district":         rec.SanitationDistrict,
		"service_request_origin":      rec.ServiceRequestOrigin,
		"service_type":                rec.ServiceType,
		"record_id":                   rec.RecordID,
		"vehicle_model":               normalize.ScrubText(rec.VehicleModel),
		"vehicle_make":                normalize.ScrubText(rec.VehicleMake),
		"vehicle_color":               normalize.ScrubText(rec.VehicleColor),
		"vehicle_body_style":          normalize.ScrubText(rec.VehicleBodyStyle),
		"vehicle_license_plate":       normalize.ScrubText(rec.VehicleLicensePlate),
		"vehicle_license_plate_state": normalize.ScrubText(rec.VehicleLicensePlateState),
	}

	wkt := strings.TrimSpace(rec.Shape)
	if wkt == "" || wkt == "POINT EMPTY" {
		empty, err := m.codec.EncodeEmpty()
		if err != nil {
			return arcgis.Feature{}, err
		}
		return arcgis.Feature{Attributes: attrs, Geometry: empty}, nil
	}
	geom, err := m.codec.Encode(wkt)
	if err != nil {
		return arcgis.Feature{}, fmt.Errorf("key %s: %w", rec.ServiceRequestID, err)
	}
	return arcgis.Feature{Attributes: attrs, Geometry: geom}, nil
}

// epochMillis keeps nil dates nil; the edit API needs an explicit null
// to clear a date field.
func epochMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func intAttr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
