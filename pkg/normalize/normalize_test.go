package normalize_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/citygeo/case-sync/pkg/domain"
	"github.com/citygeo/case-sync/pkg/normalize"
)

func newNormalizer(t *testing.T) *normalize.Normalizer {
	t.Helper()
	return normalize.New(normalize.Config{TimeZone: "America/New_York"}, nil)
}

func TestNormalizeProjection(t *testing.T) {
	n := newNormalizer(t)

	rec := n.Normalize(domain.RawCase{
		"CaseNumber":    "12345678",
		"Status":        "Open",
		"Street__c":     "1234 MARKET ST",
		"ZipCode__c":    "19107",
		"Department__c": "Streets Department",
		"Subject":       "Pothole Repair",
	})

	require.Equal(t, "12345678", rec.ServiceRequestID)
	require.Equal(t, "Open", rec.Status)
	require.Equal(t, "1234 MARKET ST", rec.Address)
	require.Equal(t, "19107", rec.Zipcode)
	require.Equal(t, "Streets Department", rec.AgencyResponsible)
	// Absent text fields land as empty strings, never null.
	require.Equal(t, "", rec.ServiceName)
	require.Equal(t, "", rec.MediaURL)
}

func TestNormalizeNumericCaseNumber(t *testing.T) {
	n := newNormalizer(t)

	rec := n.Normalize(domain.RawCase{"CaseNumber": float64(12345678)})
	require.Equal(t, "12345678", rec.ServiceRequestID)
}

func TestPointShape(t *testing.T) {
	n := newNormalizer(t)

	rec := n.Normalize(domain.RawCase{
		"CaseNumber":               "12345678",
		"Centerline__Longitude__s": float64(-75.16),
		"Centerline__Latitude__s":  float64(39.95),
	})
	require.Equal(t, "POINT (-75.16 39.95)", rec.Shape)

	// Zero coordinates mean no geometry.
	rec = n.Normalize(domain.RawCase{
		"CaseNumber":               "12345678",
		"Centerline__Longitude__s": float64(0),
		"Centerline__Latitude__s":  float64(39.95),
	})
	require.Equal(t, "", rec.Shape)

	rec = n.Normalize(domain.RawCase{
		"CaseNumber":               "12345678",
		"Centerline__Longitude__s": "garbage",
		"Centerline__Latitude__s":  float64(39.95),
	})
	require.Equal(t, "", rec.Shape)
}

func TestDescriptionViews(t *testing.T) {
	n := newNormalizer(t)

	long := strings.Repeat("a", 3000)
	rec := n.Normalize(domain.RawCase{
		"CaseNumber":  "12345678",
		"Description": long,
	})

	require.Len(t, rec.DescriptionFull, normalize.MaxTextLen)
	require.Len(t, rec.Description, normalize.MaxDescriptionLen)
	// The short view is always a prefix of the long view.
	require.True(t, strings.HasPrefix(rec.DescriptionFull, rec.Description))
}

func TestDescriptionCleaning(t *testing.T) {
	n := newNormalizer(t)

	rec := n.Normalize(domain.RawCase{
		"CaseNumber":  "12345678",
		"Description": `"café récit"`,
	})
	require.Equal(t, "cafe recit", rec.Description)
	require.Equal(t, rec.Description, rec.DescriptionFull)
}

func TestPrivateCase(t *testing.T) {
	n := newNormalizer(t)

	tests := []struct {
		value any
		want  int
	}{
		{false, 0},
		{"false", 0},
		{true, 1},
		{"true", 1},
		{nil, 1},
		{"", 1},
		{"maybe", 1},
	}
	for _, tc := range tests {
		rec := n.Normalize(domain.RawCase{
			"CaseNumber":      "12345678",
			"Private_Case__c": tc.value,
		})
		require.Equal(t, tc.want, rec.PrivateCase, "value %v", tc.value)
	}
}

func TestDateParsing(t *testing.T) {
	n := newNormalizer(t)

	rec := n.Normalize(domain.RawCase{
		"CaseNumber":       "12345678",
		"CreatedDate":      "2026-08-30T14:00:00.000+0000",
		"LastModifiedDate": "not a date",
	})

	require.NotNil(t, rec.RequestedDatetime)
	require.Equal(t, "America/New_York", rec.RequestedDatetime.Location().String())
	require.Equal(t, 10, rec.RequestedDatetime.Hour())
	// Unparsable dates become null, not zero values.
	require.Nil(t, rec.UpdatedDatetime)
	require.Nil(t, rec.ClosedDatetime)
}

func TestStatusNotesRouting(t *testing.T) {
	n := newNormalizer(t)

	rec := n.Normalize(domain.RawCase{
		"CaseNumber":       "12345678",
		"Status":           "Closed",
		"Close_Reason__c":  "Resolved at location",
		"Status_Update__c": "Crew dispatched",
	})
	require.Equal(t, "Resolved at location", rec.StatusNotes)

	rec = n.Normalize(domain.RawCase{
		"CaseNumber":       "12345678",
		"Status":           "In Progress",
		"Close_Reason__c":  "Resolved at location",
		"Status_Update__c": "Crew dispatched",
	})
	require.Equal(t, "Crew dispatched", rec.StatusNotes)
}

func TestStatusNotesLegacyAgencyRouting(t *testing.T) {
	n := normalize.New(normalize.Config{TimeZone: "America/New_York", LegacyAgencyStatusNotes: true}, nil)

	rec := n.Normalize(domain.RawCase{
		"CaseNumber":       "12345678",
		"Status":           "Closed",
		"Department__c":    "Streets Department",
		"Resolution__c":    "Filled",
		"Close_Reason__c":  "Resolved",
		"Status_Update__c": "Crew dispatched",
	})
	require.Equal(t, "Filled", rec.StatusNotes)

	// Off by default: the close reason wins for the same row.
	def := newNormalizer(t)
	rec = def.Normalize(domain.RawCase{
		"CaseNumber":       "12345678",
		"Status":           "Closed",
		"Department__c":    "Streets Department",
		"Resolution__c":    "Filled",
		"Close_Reason__c":  "Resolved",
		"Status_Update__c": "Crew dispatched",
	})
	require.Equal(t, "Resolved", rec.StatusNotes)
}

func TestDistrictNumbers(t *testing.T) {
	n := newNormalizer(t)

	tests := []struct {
		value string
		want  *int64
	}{
		{"12", ptr(12)},
		{"D-12 district", ptr(12)},
		{"150", nil},
		{"no digits here", nil},
		{"", nil},
	}
	for _, tc := range tests {
		rec := n.Normalize(domain.RawCase{
			"CaseNumber":             "12345678",
			"Police_District__c":     tc.value,
			"Council_District_No__c": tc.value,
		})
		if tc.want == nil {
			require.Nil(t, rec.PoliceDistrict, "value %q", tc.value)
			require.Nil(t, rec.CouncilDistrictNum, "value %q", tc.value)
		} else {
			require.NotNil(t, rec.PoliceDistrict, "value %q", tc.value)
			require.Equal(t, *tc.want, *rec.PoliceDistrict)
			require.Equal(t, *tc.want, *rec.CouncilDistrictNum)
		}
	}
}

func TestPinpointArea(t *testing.T) {
	n := newNormalizer(t)

	rec := n.Normalize(domain.RawCase{
		"CaseNumber":       "12345678",
		"Pinpoint_Area__c": "  NE Corner ",
	})
	require.Equal(t, "ne corner", rec.PinpointArea)
}

func TestParentServiceRequestID(t *testing.T) {
	n := newNormalizer(t)

	rec := n.Normalize(domain.RawCase{
		"CaseNumber":                "12345678",
		"SAG_Parent_Case_Number__c": "12345600",
	})
	require.NotNil(t, rec.ParentServiceRequestID)
	require.Equal(t, int64(12345600), *rec.ParentServiceRequestID)

	for _, v := range []any{"0", float64(0), "", "abc"} {
		rec := n.Normalize(domain.RawCase{
			"CaseNumber":                "12345678",
			"SAG_Parent_Case_Number__c": v,
		})
		require.Nil(t, rec.ParentServiceRequestID, "value %v", v)
	}
}

func TestTextLengthInvariant(t *testing.T) {
	n := newNormalizer(t)

	long := strings.Repeat("x", 5000)
	rec := n.Normalize(domain.RawCase{
		"CaseNumber":       "12345678",
		"Status":           long,
		"Street__c":        long,
		"Status_Update__c": long,
		"Subject":          long,
	})

	require.Len(t, rec.Status, normalize.MaxTextLen)
	require.Len(t, rec.Address, normalize.MaxTextLen)
	require.Len(t, rec.StatusNotes, normalize.MaxTextLen)
	require.Len(t, rec.Subject, normalize.MaxTextLen)
}

func TestTextCapKeepsValidUTF8(t *testing.T) {
	n := newNormalizer(t)

	// The address never passes through the ASCII fold, so the cap must
	// not split a multibyte rune.
	long := strings.Repeat("ñ", normalize.MaxTextLen+100)
	rec := n.Normalize(domain.RawCase{
		"CaseNumber": "12345678",
		"Street__c":  long,
	})

	require.True(t, utf8.ValidString(rec.Address))
	require.Equal(t, normalize.MaxTextLen, utf8.RuneCountInString(rec.Address))
}

func ptr(v int64) *int64 { return &v }
