// Package record defines the data model staged between the two systems:
// incident snapshots pulled from GEO, case snapshots pulled from the CMS,
// and attachment metadata. Values are immutable once staged; a requeue
// writes a fresh copy rather than mutating the original.
package record

import (
	"encoding/json"
	"strconv"
	"time"
)

// TimeLayout is the canonical timestamp format used for watermarks and
// batch file names. Rendered in UTC with an explicit +00:00 offset so
// lexical order equals chronological order.
const TimeLayout = "2006-01-02T15:04:05-07:00"

// Timestamp renders t in the canonical layout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTimestamp parses a canonical timestamp string.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// Geometry is a point location on the GEO side. A zero value means the
// position is unknown, not the coordinate origin.
type Geometry struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Known reports whether the geometry carries a usable position.
func (g *Geometry) Known() bool {
	return g != nil && (g.X != 0 || g.Y != 0)
}

// Incident is an immutable snapshot of one changed feature from the GEO
// incident layer, captured at fetch time. Warrant is the correlation key
// joining the record to its CMS case.
type Incident struct {
	ObjectID       int64     `json:"object_id"`
	Created        int64     `json:"created"`
	Updated        int64     `json:"updated"`
	IncidentNumber string    `json:"incident_number"`
	ParcelID       string    `json:"parcel_id"`
	CityFileNo     string    `json:"city_file_no"`
	SubDistrict    string    `json:"sub_district"`
	InspectSummary string    `json:"inspect_summary"`
	CourtStatus    string    `json:"court_status"`
	Location       string    `json:"location"`
	NextCourtDate  int64     `json:"next_court_date"`
	PropertyOwner  string    `json:"property_owner"`
	Defendant      string    `json:"defendant"`
	Warrant        string    `json:"civil_warrant"`
	LatestNotes    string    `json:"latest_court_notes"`
	Geometry       *Geometry `json:"geometry,omitempty"`

	// Joined from the history layer at fetch time. Absent when no
	// dismissal row matches the warrant number.
	DismissStatus      string `json:"dismiss_status,omitempty"`
	DismissedCondition string `json:"dismissed_condition,omitempty"`
}

// IncidentFromAttrs builds an Incident from a feature's attribute map.
// The map is built once per feature at parse time; missing attributes
// yield zero values, never errors.
func IncidentFromAttrs(attrs map[string]any, geom *Geometry) *Incident {
	return &Incident{
		ObjectID:       attrInt(attrs, GeoObjectID),
		Created:        attrInt(attrs, GeoCreated),
		Updated:        attrInt(attrs, GeoLastModified),
		IncidentNumber: attrString(attrs, GeoIncidentNumber),
		ParcelID:       attrString(attrs, GeoParcelID),
		CityFileNo:     attrString(attrs, GeoCityFileNo),
		SubDistrict:    attrString(attrs, GeoSubDistrict),
		InspectSummary: attrString(attrs, GeoInspectSummary),
		CourtStatus:    attrString(attrs, GeoCourtStatus),
		Location:       attrString(attrs, GeoLocation),
		NextCourtDate:  attrInt(attrs, GeoNextCourtDate),
		PropertyOwner:  attrString(attrs, GeoPropertyOwner),
		Defendant:      attrString(attrs, GeoDefendant),
		Warrant:        attrString(attrs, GeoWarrant),
		LatestNotes:    attrString(attrs, GeoLatestNotes),
		Geometry:       geom,
	}
}

// Attachment is binary-file metadata listed from the GEO side. The payload
// itself is fetched at push time, never staged on disk.
type Attachment struct {
	ID          int64  `json:"id"`
	ObjectID    int64  `json:"object_id"`
	Warrant     string `json:"civil_warrant"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Name        string `json:"name"`
}

// CaseSnapshot is an immutable snapshot of one changed CMS case, flattened
// from the case's custom-field values, staged for push to the GEO history
// layer. NextHearing and CourtNotes are joined from the CMS calendar at
// fetch time.
type CaseSnapshot struct {
	CaseID             int64  `json:"case_id"`
	ObjectID           int64  `json:"object_id"`
	Warrant            string `json:"civil_warrant"`
	IncidentNumber     string `json:"incident_number"`
	ParcelID           string `json:"parcel_id"`
	Address            string `json:"address"`
	SubDistrict        string `json:"sub_district"`
	CourtStatus        string `json:"court_status"`
	DismissStatus      string `json:"dismiss_status,omitempty"`
	DismissedCondition string `json:"dismissed_condition,omitempty"`
	GeoX               string `json:"geo_x,omitempty"`
	GeoY               string `json:"geo_y,omitempty"`
	NextHearing        string `json:"next_hearing,omitempty"`
	CourtNotes         string `json:"court_notes,omitempty"`
}

// CaseSnapshotFromFields builds a CaseSnapshot from a case's flattened
// custom-field map (field name -> value).
func CaseSnapshotFromFields(caseID int64, fields map[string]any) *CaseSnapshot {
	return &CaseSnapshot{
		CaseID:             caseID,
		ObjectID:           attrInt(fields, CMSGeoObjectID),
		Warrant:            attrString(fields, CMSWarrant),
		IncidentNumber:     attrString(fields, CMSIncidentNumber),
		ParcelID:           attrString(fields, CMSParcelID),
		Address:            attrString(fields, CMSLocation),
		SubDistrict:        attrString(fields, CMSSubDistrict),
		CourtStatus:        attrString(fields, CMSCourtStatus),
		DismissStatus:      attrString(fields, CMSDismissStatus),
		DismissedCondition: attrString(fields, CMSDismissedCondition),
		GeoX:               attrString(fields, CMSLongitude),
		GeoY:               attrString(fields, CMSLatitude),
	}
}

// Valid reports whether the snapshot can be pushed to the history layer:
// it needs the GEO object id and a known position.
func (c *CaseSnapshot) Valid() bool {
	return c.ObjectID != 0 && c.GeoX != "" && c.GeoY != ""
}

// attrString reads a string-ish attribute from a decoded JSON map.
func attrString(attrs map[string]any, key string) string {
	switch v := attrs[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// attrInt reads an integer attribute from a decoded JSON map. JSON numbers
// arrive as float64; epoch-millisecond values are well inside the exact
// integer range of a double.
func attrInt(attrs map[string]any, key string) int64 {
	switch v := attrs[key].(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}
