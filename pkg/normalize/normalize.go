// Package normalize converts raw CRM rows into canonical case records.
// Every transformation failure degrades to a null/default; Normalize
// never fails a row.
package normalize

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/citygeo/case-sync/pkg/domain"
	"github.com/citygeo/case-sync/pkg/utils"
)

// Source fields consumed outside the field map.
const (
	SrcLongitude    = "Centerline__Longitude__s"
	SrcLatitude     = "Centerline__Latitude__s"
	SrcCloseReason  = "Close_Reason__c"
	SrcStatusUpdate = "Status_Update__c"
	SrcResolution   = "Resolution__c"
)

// StatusClosed selects the close-reason source field for status notes.
const StatusClosed = "Closed"

// MaxDistrictNum bounds the numeric district fields; larger values are
// free-text contamination and are nulled.
const MaxDistrictNum = 100

// LegacyStatusNotesAgencies lists the agencies that historically sourced
// status notes from the resolution field. Marked unused in 2024; kept
// behind Config.LegacyAgencyStatusNotes until reporting owners confirm.
func LegacyStatusNotesAgencies() []string {
	return []string{
		"License & Inspections",
		"Licenses & Inspections",
		"Licenses & Inspections- L&I",
		"Streets Department",
		"Water Department (PWD)",
	}
}

// Config is the immutable normalizer configuration.
type Config struct {
	FieldMap domain.FieldMap
	// TimeZone is the destination reference time zone name for all
	// temporal columns, e.g. America/New_York. Empty or unknown zones
	// fall back to UTC.
	TimeZone string
	// InSRID tags produced point geometries.
	InSRID int
	// LegacyAgencyStatusNotes restores the superseded agency-based
	// status-notes routing when true.
	LegacyAgencyStatusNotes bool
	agencies                domain.Set[string]
}

type Normalizer struct {
	cfg Config
	tz  *time.Location
	l   *slog.Logger
}

func New(cfg Config, l *slog.Logger) *Normalizer {
	if cfg.FieldMap == nil {
		cfg.FieldMap = domain.DefaultFieldMap()
	}
	cfg.agencies = domain.NewSet(LegacyStatusNotesAgencies()...)

	tz := time.UTC
	if cfg.TimeZone != "" {
		loc, err := time.LoadLocation(cfg.TimeZone)
		if err == nil {
			tz = loc
		} else if l != nil {
			l.Warn("normalize: unknown time zone, using UTC",
				slog.String("zone", cfg.TimeZone))
		}
	}
	return &Normalizer{cfg: cfg, tz: tz, l: l}
}

// Normalize converts one raw CRM row into a canonical record. It applies
// the cleaning rules in required order; later rules depend on earlier
// outputs (status notes routing reads the already-projected status).
func (n *Normalizer) Normalize(raw domain.RawCase) domain.CaseRecord {
	src := func(dest string) string {
		return stringValue(raw[n.cfg.FieldMap[dest]])
	}

	rec := domain.CaseRecord{
		ServiceRequestID:         src("service_request_id"),
		Status:                   src("status"),
		ServiceName:              src("service_name"),
		ServiceCode:              src("service_code"),
		AgencyResponsible:        src("agency_responsible"),
		ServiceNotice:            src("service_notice"),
		Address:                  src("address"),
		Zipcode:                  src("zipcode"),
		MediaURL:                 src("media_url"),
		Subject:                  src("subject"),
		CaseType:                 src("type_"),
		LIDistrict:               src("li_district"),
		SanitationDistrict:       src("sanitation_district"),
		ServiceRequestOrigin:     src("service_request_origin"),
		ServiceType:              src("service_type"),
		RecordID:                 src("record_id"),
		VehicleModel:             src("vehicle_model"),
		VehicleMake:              src("vehicle_make"),
		VehicleColor:             src("vehicle_color"),
		VehicleBodyStyle:         src("vehicle_body_style"),
		VehicleLicensePlate:      src("vehicle_license_plate"),
		VehicleLicensePlateState: src("vehicle_license_plate_state"),
	}

	rec.Shape = n.pointShape(raw)

	rec.DescriptionFull = CleanText(src("description"))
	rec.Description = Truncate(rec.DescriptionFull, MaxDescriptionLen)

	rec.PrivateCase = privateFlag(raw[n.cfg.FieldMap["private_case"]])

	rec.RequestedDatetime = n.parseTime(src("requested_datetime"))
	rec.UpdatedDatetime = n.parseTime(src("updated_datetime"))
	rec.ExpectedDatetime = n.parseTime(src("expected_datetime"))
	rec.ClosedDatetime = n.parseTime(src("closed_datetime"))

	rec.StatusNotes = CleanText(n.statusNotes(rec, raw))

	rec.PoliceDistrict = n.districtNum("police_district", src("police_district"))
	rec.CouncilDistrictNum = n.districtNum("council_district_num", src("council_district_num"))

	rec.PinpointArea = strings.ToLower(strings.TrimSpace(src("pinpoint_area")))

	rec.ParentServiceRequestID = parentID(src("parent_service_request_id"))

	capText(&rec)
	return rec
}

// pointShape builds a WKT point from the source coordinates. A zero or
// unparsable coordinate means no geometry.
func (n *Normalizer) pointShape(raw domain.RawCase) string {
	x, errX := strconv.ParseFloat(strings.TrimSpace(stringValue(raw[SrcLongitude])), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(stringValue(raw[SrcLatitude])), 64)
	if errX != nil || errY != nil || x == 0 || y == 0 {
		return ""
	}
	return fmt.Sprintf("POINT (%v %v)", x, y)
}

// statusNotes selects the source field for status notes by the current
// status. This is a business rule, not a data-entry field.
func (n *Normalizer) statusNotes(rec domain.CaseRecord, raw domain.RawCase) string {
	if n.cfg.LegacyAgencyStatusNotes && n.cfg.agencies.Has(rec.AgencyResponsible) {
		return stringValue(raw[SrcResolution])
	}
	if rec.Status == StatusClosed {
		return stringValue(raw[SrcCloseReason])
	}
	return stringValue(raw[SrcStatusUpdate])
}

func (n *Normalizer) parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	layouts := []string{
		"2006-01-02T15:04:05.000-0700",
		time.RFC3339,
		"2006-01-02T15:04:05-0700",
		"2006-01-02 15:04:05 -0700",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			local := t.In(n.tz)
			return &local
		}
	}
	return nil
}

func (n *Normalizer) districtNum(field, s string) *int64 {
	v, err := utils.FirstDigitRun(s)
	if err != nil {
		return nil
	}
	if v > MaxDistrictNum {
		if n.l != nil {
			n.l.Warn("district value out of range, nulling",
				slog.String("field", field),
				slog.String("value", s))
		}
		return nil
	}
	return &v
}

// privateFlag normalizes the private-case marker to 0/1. Only an
// explicit false clears it; everything else counts as private.
func privateFlag(v any) int {
	switch val := v.(type) {
	case bool:
		if !val {
			return 0
		}
	case string:
		if val == "false" {
			return 0
		}
	}
	return 1
}

// parentID integer-casts the parent case number; 0, "0" and unparsable
// all mean no parent.
func parentID(s string) *int64 {
	v, err := utils.ParseInt64(s)
	if err != nil || v == 0 {
		return nil
	}
	return &v
}

// capText enforces the length invariant on every designated free-text
// field after all other rules ran.
func capText(rec *domain.CaseRecord) {
	for _, f := range []*string{
		&rec.Status, &rec.StatusNotes, &rec.ServiceName, &rec.ServiceCode,
		&rec.Description, &rec.AgencyResponsible, &rec.ServiceNotice,
		&rec.Address, &rec.Zipcode, &rec.MediaURL, &rec.Subject, &rec.CaseType,
	} {
		*f = Truncate(*f, MaxTextLen)
	}
	rec.Description = Truncate(rec.Description, MaxDescriptionLen)
	rec.DescriptionFull = Truncate(rec.DescriptionFull, MaxTextLen)
}

// stringValue renders a loosely typed CRM value as a string. Nil and
// unsupported shapes become empty string.
func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		// JSON numbers decode as float64; case numbers are integral.
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprintf("%v", val)
	}
}
