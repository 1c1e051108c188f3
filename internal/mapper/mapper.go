// Package mapper holds the pure translation functions between the two
// systems' schemas. Field correspondence is a static table; picklist
// labels resolve through the cached custom-field schema; unknown labels
// fail the record with a MappingError rather than aborting the batch.
package mapper

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/npclinic/databridge/internal/cms"
	"github.com/npclinic/databridge/internal/geo"
	"github.com/npclinic/databridge/internal/record"
	"github.com/npclinic/databridge/internal/schema"
)

// MappingError marks a record that cannot be translated, carrying the
// offending field and label for operator visibility. It is always a
// per-record failure, never fatal.
type MappingError struct {
	Field string
	Label string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("no option %q on field %q", e.Label, e.Field)
}

// picklistValue resolves a picklist label to its destination option id.
// An empty label maps to absent (nil); an unrecognized label is a
// MappingError.
func picklistValue(cf *schema.CustomFields, fieldName, label string) (any, error) {
	if label == "" {
		return nil, nil
	}
	field, ok := cf.Field(fieldName)
	if !ok {
		return nil, &MappingError{Field: fieldName, Label: label}
	}
	id, ok := field.OptionID(label)
	if !ok {
		return nil, &MappingError{Field: fieldName, Label: label}
	}
	return id, nil
}

// picklistLabel resolves a destination option id back to its label.
// Unknown ids degrade to the raw value rather than failing: the reverse
// direction tolerates schema drift on read.
func picklistLabel(cf *schema.CustomFields, fieldName string, value any) string {
	field, ok := cf.Field(fieldName)
	if !ok {
		return stringValue(value)
	}
	switch v := value.(type) {
	case float64:
		if label, ok := field.OptionLabel(int64(v)); ok {
			return label
		}
	case int64:
		if label, ok := field.OptionLabel(v); ok {
			return label
		}
	case string:
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			if label, ok := field.OptionLabel(id); ok {
				return label
			}
		}
	}
	return stringValue(value)
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// textValue maps an empty string to absent.
func textValue(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateFieldValues maps an incident to the full custom-field value set
// for a case create. Coordinates are stringified; a zero coordinate means
// the position is unknown and maps to absent.
func CreateFieldValues(inc *record.Incident, cf *schema.CustomFields) ([]cms.NewFieldValue, error) {
	courtStatus, err := picklistValue(cf, record.CMSCourtStatus, inc.CourtStatus)
	if err != nil {
		return nil, err
	}
	dismissedCondition, err := picklistValue(cf, record.CMSDismissedCondition, inc.DismissedCondition)
	if err != nil {
		return nil, err
	}

	var lon, lat any
	if inc.Geometry.Known() {
		lon = strconv.FormatFloat(inc.Geometry.X, 'f', -1, 64)
		lat = strconv.FormatFloat(inc.Geometry.Y, 'f', -1, 64)
	}

	values := []cms.NewFieldValue{
		cms.SetFieldValue(cf.FieldID(record.CMSWarrant), textValue(inc.Warrant)),
		cms.SetFieldValue(cf.FieldID(record.CMSIncidentNumber), textValue(inc.IncidentNumber)),
		cms.SetFieldValue(cf.FieldID(record.CMSParcelID), textValue(inc.ParcelID)),
		cms.SetFieldValue(cf.FieldID(record.CMSCityFileNo), textValue(inc.CityFileNo)),
		cms.SetFieldValue(cf.FieldID(record.CMSSubDistrict), textValue(inc.SubDistrict)),
		cms.SetFieldValue(cf.FieldID(record.CMSInspectSummary), textValue(inc.InspectSummary)),
		cms.SetFieldValue(cf.FieldID(record.CMSLocation), textValue(inc.Location)),
		cms.SetFieldValue(cf.FieldID(record.CMSCourtStatus), courtStatus),
		cms.SetFieldValue(cf.FieldID(record.CMSPropertyOwner), textValue(inc.PropertyOwner)),
		cms.SetFieldValue(cf.FieldID(record.CMSDefendant), textValue(inc.Defendant)),
		cms.SetFieldValue(cf.FieldID(record.CMSLongitude), lon),
		cms.SetFieldValue(cf.FieldID(record.CMSLatitude), lat),
		cms.SetFieldValue(cf.FieldID(record.CMSGeoObjectID), inc.ObjectID),
		cms.SetFieldValue(cf.FieldID(record.CMSDismissStatus), textValue(inc.DismissStatus)),
		cms.SetFieldValue(cf.FieldID(record.CMSDismissedCondition), dismissedCondition),
	}
	return values, nil
}

// UpdateFieldValues maps an incident onto an existing case. By policy
// only the inspection summary is mutable on update, so destination-owned
// fields are never clobbered. The second return is false when the case
// has no summary field value to address.
func UpdateFieldValues(inc *record.Incident, existing *cms.CaseDoc) ([]cms.UpdatedFieldValue, bool) {
	id, ok := existing.FieldValueID(record.CMSInspectSummary)
	if !ok {
		return nil, false
	}
	return []cms.UpdatedFieldValue{{ID: id, Value: inc.InspectSummary}}, true
}

// SnapshotFromCase flattens a CMS case document into a CaseSnapshot,
// resolving picklist option ids back to their labels. nextHearing and
// notes come from the calendar join at fetch time.
func SnapshotFromCase(doc *cms.CaseDoc, cf *schema.CustomFields, nextHearing, notes string) *record.CaseSnapshot {
	fields := doc.FieldMap()
	fields[record.CMSCourtStatus] = picklistLabel(cf, record.CMSCourtStatus, fields[record.CMSCourtStatus])
	fields[record.CMSDismissedCondition] = picklistLabel(cf, record.CMSDismissedCondition, fields[record.CMSDismissedCondition])

	snap := record.CaseSnapshotFromFields(doc.ID, fields)
	snap.NextHearing = nextHearing
	snap.CourtNotes = notes
	return snap
}

// HistoryFeature maps a case snapshot to a GEO history-layer feature.
func HistoryFeature(snap *record.CaseSnapshot) (geo.Feature, error) {
	attrs := map[string]any{
		record.HistObjectID:           snap.ObjectID,
		record.HistWarrant:            snap.Warrant,
		record.HistAddress:            snap.Address,
		record.HistParcelID:           snap.ParcelID,
		record.HistIncidentNumber:     snap.IncidentNumber,
		record.HistCourtStatus:        snap.CourtStatus,
		record.HistCourtNotes:         snap.CourtNotes,
		record.HistDismissStatus:      snap.DismissStatus,
		record.HistDismissedCondition: snap.DismissedCondition,
	}

	if snap.SubDistrict != "" {
		district, err := districtNumber(snap.SubDistrict)
		if err != nil {
			return geo.Feature{}, err
		}
		attrs[record.HistSubDistrict] = district
	}

	if snap.NextHearing != "" {
		ms, err := ISOToEpochMillis(snap.NextHearing)
		if err != nil {
			return geo.Feature{}, fmt.Errorf("bad next hearing %q: %w", snap.NextHearing, err)
		}
		attrs[record.HistNextSetting] = ms
	}

	feature := geo.Feature{Attributes: attrs}
	if snap.GeoX != "" && snap.GeoY != "" {
		x, errX := strconv.ParseFloat(snap.GeoX, 64)
		y, errY := strconv.ParseFloat(snap.GeoY, 64)
		if errX != nil || errY != nil {
			return geo.Feature{}, fmt.Errorf("bad coordinates %q,%q", snap.GeoX, snap.GeoY)
		}
		feature.Geometry = &record.Geometry{X: x, Y: y}
	}
	return feature, nil
}

// districtNumber extracts the numeric council district from a
// "<number>-<name>" subdistrict label.
func districtNumber(s string) (int64, error) {
	head, _, _ := strings.Cut(s, "-")
	n, err := strconv.ParseInt(strings.TrimSpace(head), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad subdistrict %q: %w", s, err)
	}
	return n, nil
}
