package domain

import (
	"context"
	"strconv"
	"time"
)

// PrimaryKey is the sole reconciliation key across all three stores.
const PrimaryKey = "service_request_id"

// ContextKey identifies a worker-scoped collaborator carried on the
// activity context.
type ContextKey string

func (c ContextKey) String() string {
	return string(c)
}

// RawCase is one row as returned by the CRM query API: source field
// names mapped to loosely typed values.
type RawCase map[string]any

// FieldMap maps destination (canonical) field names to source field names.
// Fixed per deployment version.
type FieldMap map[string]string

// CaseRecord is the canonical, destination-shaped representation of one
// service-request case. Produced fresh on every fetch, transient for the
// duration of one staging/reconciliation pass. Text fields are empty
// string when absent, date fields are nil when absent or unparsable.
type CaseRecord struct {
	ServiceRequestID         string     `db:"service_request_id" json:"service_request_id"`
	Status                   string     `db:"status" json:"status"`
	StatusNotes              string     `db:"status_notes" json:"status_notes"`
	ServiceName              string     `db:"service_name" json:"service_name"`
	ServiceCode              string     `db:"service_code" json:"service_code"`
	Description              string     `db:"description" json:"description"`
	DescriptionFull          string     `db:"description_full" json:"description_full"`
	AgencyResponsible        string     `db:"agency_responsible" json:"agency_responsible"`
	ServiceNotice            string     `db:"service_notice" json:"service_notice"`
	Address                  string     `db:"address" json:"address"`
	Zipcode                  string     `db:"zipcode" json:"zipcode"`
	MediaURL                 string     `db:"media_url" json:"media_url"`
	PrivateCase              int        `db:"private_case" json:"private_case"`
	Subject                  string     `db:"subject" json:"subject"`
	CaseType                 string     `db:"type_" json:"type_"`
	RequestedDatetime        *time.Time `db:"requested_datetime" json:"requested_datetime"`
	UpdatedDatetime          *time.Time `db:"updated_datetime" json:"updated_datetime"`
	ExpectedDatetime         *time.Time `db:"expected_datetime" json:"expected_datetime"`
	ClosedDatetime           *time.Time `db:"closed_datetime" json:"closed_datetime"`
	Shape                    string     `db:"shape" json:"shape"`
	PoliceDistrict           *int64     `db:"police_district" json:"police_district"`
	CouncilDistrictNum       *int64     `db:"council_district_num" json:"council_district_num"`
	PinpointArea             string     `db:"pinpoint_area" json:"pinpoint_area"`
	ParentServiceRequestID   *int64     `db:"parent_service_request_id" json:"parent_service_request_id"`
	LIDistrict               string     `db:"li_district" json:"li_district"`
	SanitationDistrict       string     `db:"sanitation_district" json:"sanitation_district"`
	ServiceRequestOrigin     string     `db:"service_request_origin" json:"service_request_origin"`
	ServiceType              string     `db:"service_type" json:"service_type"`
	RecordID                 string     `db:"record_id" json:"record_id"`
	VehicleModel             string     `db:"vehicle_model" json:"vehicle_model"`
	VehicleMake              string     `db:"vehicle_make" json:"vehicle_make"`
	VehicleColor             string     `db:"vehicle_color" json:"vehicle_color"`
	VehicleBodyStyle         string     `db:"vehicle_body_style" json:"vehicle_body_style"`
	VehicleLicensePlate      string     `db:"vehicle_license_plate" json:"vehicle_license_plate"`
	VehicleLicensePlateState string     `db:"vehicle_license_plate_state" json:"vehicle_license_plate_state"`
}

// CSVTimeLayout is the layout used for temporal columns in the staging
// file and when reading mirror rows back as strings.
const CSVTimeLayout = "2006-01-02 15:04:05 -0700"

// CSVHeader returns the staging-file header row. Column order is fixed;
// the bulk-upsert collaborator matches columns by this header.
func CSVHeader() []string {
	return []string{
		"service_request_id",
		"status",
		"status_notes",
		"service_name",
		"service_code",
		"description",
		"description_full",
		"agency_responsible",
		"service_notice",
		"address",
		"zipcode",
		"media_url",
		"private_case",
		"subject",
		"type_",
		"requested_datetime",
		"updated_datetime",
		"expected_datetime",
		"closed_datetime",
		"shape",
		"police_district",
		"council_district_num",
		"pinpoint_area",
		"parent_service_request_id",
		"li_district",
		"sanitation_district",
		"service_request_origin",
		"service_type",
		"record_id",
		"vehicle_model",
		"vehicle_make",
		"vehicle_color",
		"vehicle_body_style",
		"vehicle_license_plate",
		"vehicle_license_plate_state",
	}
}

// CSVRow serializes the record in CSVHeader order. Nil dates and nil
// numerics serialize as empty cells.
func (r CaseRecord) CSVRow() []string {
	return []string{
		r.ServiceRequestID,
		r.Status,
		r.StatusNotes,
		r.ServiceName,
		r.ServiceCode,
		r.Description,
		r.DescriptionFull,
		r.AgencyResponsible,
		r.ServiceNotice,
		r.Address,
		r.Zipcode,
		r.MediaURL,
		strconv.Itoa(r.PrivateCase),
		r.Subject,
		r.CaseType,
		formatTime(r.RequestedDatetime),
		formatTime(r.UpdatedDatetime),
		formatTime(r.ExpectedDatetime),
		formatTime(r.ClosedDatetime),
		r.Shape,
		formatInt(r.PoliceDistrict),
		formatInt(r.CouncilDistrictNum),
		r.PinpointArea,
		formatInt(r.ParentServiceRequestID),
		r.LIDistrict,
		r.SanitationDistrict,
		r.ServiceRequestOrigin,
		r.ServiceType,
		r.RecordID,
		r.VehicleModel,
		r.VehicleMake,
		r.VehicleColor,
		r.VehicleBodyStyle,
		r.VehicleLicensePlate,
		r.VehicleLicensePlateState,
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(CSVTimeLayout)
}

func formatInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

// TextFields lists the canonical free-text columns subject to the 2000
// char cap and the empty-string-never-null rule.
func TextFields() []string {
	return []string{
		"status",
		"status_notes",
		"service_name",
		"service_code",
		"description",
		"agency_responsible",
		"service_notice",
		"address",
		"zipcode",
		"media_url",
		"subject",
		"type_",
	}
}

// ScrubFields lists the user-free-text columns scrubbed a second time
// before transmission to the map layer. 311 operators insert arbitrary
// text into the vehicle columns.
func ScrubFields() []string {
	return []string{
		"description",
		"description_full",
		"status_notes",
		"subject",
		"vehicle_make",
		"vehicle_model",
		"vehicle_color",
		"vehicle_body_style",
		"vehicle_license_plate",
		"vehicle_license_plate_state",
	}
}

// DefaultFieldMap maps canonical column names to CRM source field names.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		"service_request_id":          "CaseNumber",
		"status":                      "Status",
		"service_name":                "Case_Record_Type__c",
		"service_code":                "Service_Code__c",
		"description":                 "Description",
		"agency_responsible":          "Department__c",
		"service_notice":              "SLA__c",
		"requested_datetime":          "CreatedDate",
		"updated_datetime":            "LastModifiedDate",
		"expected_datetime":           "Sla_date__c",
		"closed_datetime":             "ClosedDate",
		"address":                     "Street__c",
		"zipcode":                     "ZipCode__c",
		"media_url":                   "Media_Url__c",
		"private_case":                "Private_Case__c",
		"subject":                     "Subject",
		"type_":                       "Type",
		"police_district":             "Police_District__c",
		"council_district_num":        "Council_District_No__c",
		"pinpoint_area":               "Pinpoint_Area__c",
		"parent_service_request_id":   "SAG_Parent_Case_Number__c",
		"li_district":                 "L_I_District__c",
		"sanitation_district":         "Sanitation_District__c",
		"service_request_origin":      "Origin",
		"service_type":                "Service_Request_Type__c",
		"record_id":                   "Id",
		"vehicle_model":               "Model__c",
		"vehicle_make":                "Make__c",
		"vehicle_color":               "Color__c",
		"vehicle_body_style":          "Body_Style__c",
		"vehicle_license_plate":       "License_Plate__c",
		"vehicle_license_plate_state": "License_Plate_State__c",
	}
}

type BatchResult struct {
	Result any
	Error  string
}

type BatchRecord[T any] struct {
	Data        T
	BatchResult BatchResult
}

// BatchProcess[T any] is one fetched batch. NextOffset carries the source
// cursor (next-page token); Done marks the final page.
type BatchProcess[T any] struct {
	BatchId     string
	Records     []*BatchRecord[T]
	StartOffset string
	NextOffset  string
	Error       string
	Done        bool
}

// SourceConfig[T any] is a config that *knows how to build* a Source for a specific T.
type SourceConfig[T any] interface {
	BuildSource(ctx context.Context) (Source[T], error)
	Name() string
}

// Source[T any] is a paged source of batches of T, e.g. a CRM query cursor.
// Pulls the batch at the given cursor; returns the next cursor.
type Source[T any] interface {
	Next(ctx context.Context, offset string, n uint) (*BatchProcess[T], error)
	Name() string
	Close(context.Context) error
}

// SinkConfig[T any] is a config that *knows how to build* a Sink for a specific T.
type SinkConfig[T any] interface {
	BuildSink(ctx context.Context) (Sink[T], error)
	Name() string
}

// Sink[T any] writes a batch of T to a destination and returns side info
// on each record's BatchResult.
type Sink[T any] interface {
	Write(ctx context.Context, b *BatchProcess[T]) (*BatchProcess[T], error)
	Name() string
	Close(context.Context) error
}

// FetchInput[T any, S SourceConfig[T]] is the input for the fetch activity.
type FetchInput[T any, S SourceConfig[T]] struct {
	Source    S
	Offset    string
	BatchSize uint
}

// FetchOutput[T any] is the output for the fetch activity.
type FetchOutput[T any] struct {
	Batch *BatchProcess[T]
}

// WriteInput[T any, D SinkConfig[T]] is the input for the write activity.
type WriteInput[T any, D SinkConfig[T]] struct {
	Sink  D
	Batch *BatchProcess[T]
}

// WriteOutput[T any] is the output for the write activity.
type WriteOutput[T any] struct {
	Batch *BatchProcess[T]
}

// FetchActivityName is the registration alias for the fetch activity
// bound to the named source.
func FetchActivityName(source string) string {
	return "fetch-next-" + source + "-batch-alias"
}

// WriteActivityName is the registration alias for the write activity
// bound to the named sink.
func WriteActivityName(sink string) string {
	return "write-next-" + sink + "-batch-alias"
}
