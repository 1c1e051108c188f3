package mapper

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npclinic/databridge/internal/cms"
	"github.com/npclinic/databridge/internal/record"
	"github.com/npclinic/databridge/internal/schema"
)

func testFields() *schema.CustomFields {
	return schema.New([]schema.CustomField{
		{ID: 1, Name: record.CMSWarrant, FieldType: "text_line"},
		{ID: 2, Name: record.CMSIncidentNumber, FieldType: "text_line"},
		{ID: 3, Name: record.CMSParcelID, FieldType: "text_line"},
		{ID: 4, Name: record.CMSCityFileNo, FieldType: "text_line"},
		{ID: 5, Name: record.CMSSubDistrict, FieldType: "text_line"},
		{ID: 6, Name: record.CMSInspectSummary, FieldType: "text_area"},
		{ID: 7, Name: record.CMSLocation, FieldType: "text_line"},
		{ID: 8, Name: record.CMSCourtStatus, FieldType: "picklist", Options: []schema.Option{
			{ID: 81, Label: "Hearing"},
			{ID: 82, Label: "Dismissed"},
			{ID: 83, Label: "Non-Compliance"},
		}},
		{ID: 9, Name: record.CMSPropertyOwner, FieldType: "text_line"},
		{ID: 10, Name: record.CMSDefendant, FieldType: "text_line"},
		{ID: 11, Name: record.CMSLongitude, FieldType: "text_line"},
		{ID: 12, Name: record.CMSLatitude, FieldType: "text_line"},
		{ID: 13, Name: record.CMSGeoObjectID, FieldType: "numeric"},
		{ID: 14, Name: record.CMSDismissStatus, FieldType: "text_line"},
		{ID: 15, Name: record.CMSDismissedCondition, FieldType: "picklist", Options: []schema.Option{
			{ID: 151, Label: "Dismissed Demolished by City"},
			{ID: 152, Label: "Other"},
		}},
	})
}

func testIncident() *record.Incident {
	return &record.Incident{
		ObjectID:       4711,
		IncidentNumber: "INC-2024-001",
		ParcelID:       "043017-00021",
		CityFileNo:     "CF-88",
		SubDistrict:    "5-Whitehaven",
		InspectSummary: "Roof collapsed, structure open to entry",
		CourtStatus:    "Hearing",
		Location:       "123 Elm St",
		PropertyOwner:  "Estate of J. Doe",
		Defendant:      "J. Doe Jr.",
		Warrant:        "CW-2024-0042",
		Geometry:       &record.Geometry{X: -90.04898, Y: 35.14953},
	}
}

func valueByFieldID(t *testing.T, values []cms.NewFieldValue, id int64) any {
	t.Helper()
	for _, v := range values {
		if v.CustomField.ID == id {
			return v.Value
		}
	}
	t.Fatalf("no value for field id %d", id)
	return nil
}

func TestCreateFieldValuesResolvesPicklist(t *testing.T) {
	values, err := CreateFieldValues(testIncident(), testFields())
	require.NoError(t, err)
	require.Len(t, values, 15)

	assert.Equal(t, "CW-2024-0042", valueByFieldID(t, values, 1))
	assert.Equal(t, int64(81), valueByFieldID(t, values, 8))
	assert.Equal(t, int64(4711), valueByFieldID(t, values, 13))
}

func TestCreateFieldValuesStringifiesCoordinates(t *testing.T) {
	values, err := CreateFieldValues(testIncident(), testFields())
	require.NoError(t, err)

	assert.Equal(t, "-90.04898", valueByFieldID(t, values, 11))
	assert.Equal(t, "35.14953", valueByFieldID(t, values, 12))
}

func TestCreateFieldValuesUnknownPositionIsAbsent(t *testing.T) {
	inc := testIncident()
	inc.Geometry = &record.Geometry{}

	values, err := CreateFieldValues(inc, testFields())
	require.NoError(t, err)

	assert.Nil(t, valueByFieldID(t, values, 11))
	assert.Nil(t, valueByFieldID(t, values, 12))
}

func TestCreateFieldValuesEmptyLabelIsAbsent(t *testing.T) {
	inc := testIncident()
	inc.CourtStatus = ""

	values, err := CreateFieldValues(inc, testFields())
	require.NoError(t, err)

	assert.Nil(t, valueByFieldID(t, values, 8))
}

func TestCreateFieldValuesUnknownLabelFails(t *testing.T) {
	inc := testIncident()
	inc.CourtStatus = "Adjourned Sine Die"

	_, err := CreateFieldValues(inc, testFields())
	require.Error(t, err)

	var mapErr *MappingError
	require.True(t, errors.As(err, &mapErr))
	assert.Equal(t, record.CMSCourtStatus, mapErr.Field)
	assert.Equal(t, "Adjourned Sine Die", mapErr.Label)
}

func TestUpdateFieldValuesOnlySummary(t *testing.T) {
	doc := &cms.CaseDoc{
		ID: 900,
		CustomFieldValues: []cms.FieldValue{
			{ID: 41, FieldName: record.CMSWarrant, Value: "CW-2024-0042"},
			{ID: 42, FieldName: record.CMSInspectSummary, Value: "old summary"},
		},
	}

	values, ok := UpdateFieldValues(testIncident(), doc)
	require.True(t, ok)
	require.Len(t, values, 1)
	assert.Equal(t, int64(42), values[0].ID)
	assert.Equal(t, "Roof collapsed, structure open to entry", values[0].Value)
}

func TestUpdateFieldValuesNoSummaryField(t *testing.T) {
	doc := &cms.CaseDoc{
		ID: 900,
		CustomFieldValues: []cms.FieldValue{
			{ID: 41, FieldName: record.CMSWarrant, Value: "CW-2024-0042"},
		},
	}

	_, ok := UpdateFieldValues(testIncident(), doc)
	assert.False(t, ok)
}

func TestSnapshotFromCaseResolvesLabels(t *testing.T) {
	doc := &cms.CaseDoc{
		ID: 900,
		CustomFieldValues: []cms.FieldValue{
			{FieldName: record.CMSWarrant, Value: "CW-2024-0042"},
			{FieldName: record.CMSCourtStatus, Value: float64(82)},
			{FieldName: record.CMSDismissedCondition, Value: float64(151)},
			{FieldName: record.CMSGeoObjectID, Value: float64(4711)},
			{FieldName: record.CMSLongitude, Value: "-90.04898"},
			{FieldName: record.CMSLatitude, Value: "35.14953"},
			{FieldName: record.CMSSubDistrict, Value: "5-Whitehaven"},
		},
	}

	snap := SnapshotFromCase(doc, testFields(), "2024-07-01T09:00:00+00:00", "continued to July")
	assert.Equal(t, int64(900), snap.CaseID)
	assert.Equal(t, "Dismissed", snap.CourtStatus)
	assert.Equal(t, "Dismissed Demolished by City", snap.DismissedCondition)
	assert.Equal(t, "2024-07-01T09:00:00+00:00", snap.NextHearing)
	assert.Equal(t, "continued to July", snap.CourtNotes)
	assert.True(t, snap.Valid())
}

func TestSnapshotFromCaseUnknownOptionDegradesToRaw(t *testing.T) {
	doc := &cms.CaseDoc{
		ID: 901,
		CustomFieldValues: []cms.FieldValue{
			{FieldName: record.CMSCourtStatus, Value: float64(9999)},
		},
	}

	snap := SnapshotFromCase(doc, testFields(), "", "")
	assert.Equal(t, "9999", snap.CourtStatus)
}

func TestHistoryFeature(t *testing.T) {
	snap := &record.CaseSnapshot{
		CaseID:      900,
		ObjectID:    4711,
		Warrant:     "CW-2024-0042",
		Address:     "123 Elm St",
		SubDistrict: "5-Whitehaven",
		CourtStatus: "Dismissed",
		GeoX:        "-90.04898",
		GeoY:        "35.14953",
		NextHearing: "2024-07-01T09:00:00+00:00",
	}

	feature, err := HistoryFeature(snap)
	require.NoError(t, err)

	assert.Equal(t, int64(5), feature.Attributes[record.HistSubDistrict])
	assert.Equal(t, "Dismissed", feature.Attributes[record.HistCourtStatus])

	wantMillis, err := ISOToEpochMillis("2024-07-01T09:00:00+00:00")
	require.NoError(t, err)
	assert.Equal(t, wantMillis, feature.Attributes[record.HistNextSetting])

	require.NotNil(t, feature.Geometry)
	assert.InDelta(t, -90.04898, feature.Geometry.X, 1e-9)
	assert.InDelta(t, 35.14953, feature.Geometry.Y, 1e-9)
}

func TestHistoryFeatureBadSubdistrict(t *testing.T) {
	snap := &record.CaseSnapshot{
		ObjectID:    4711,
		SubDistrict: "Whitehaven",
		GeoX:        "-90.0",
		GeoY:        "35.1",
	}

	_, err := HistoryFeature(snap)
	assert.Error(t, err)
}

func TestHistoryFeatureBadHearingTimestamp(t *testing.T) {
	snap := &record.CaseSnapshot{
		ObjectID:    4711,
		NextHearing: "next tuesday",
		GeoX:        "-90.0",
		GeoY:        "35.1",
	}

	_, err := HistoryFeature(snap)
	assert.Error(t, err)
}

func TestTimeConversionRoundTrip(t *testing.T) {
	iso := EpochMillisToISO(1719824400000)
	ms, err := ISOToEpochMillis(iso)
	require.NoError(t, err)
	assert.Equal(t, int64(1719824400000), ms)
}

func TestTimeConversionZeroIsEmpty(t *testing.T) {
	assert.Equal(t, "", EpochMillisToISO(0))
}

func TestISOToEpochMillisOffsetlessIsUTC(t *testing.T) {
	withOffset, err := ISOToEpochMillis("2024-07-01T09:00:00+00:00")
	require.NoError(t, err)
	without, err := ISOToEpochMillis("2024-07-01T09:00:00")
	require.NoError(t, err)
	assert.Equal(t, withOffset, without)
}
