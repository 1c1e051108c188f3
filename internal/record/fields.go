package record

// Attribute names on the GEO incident layer (active litigations).
const (
	GeoObjectID       = "OBJECTID"
	GeoLastModified   = "LAST_MODIFIED_DATE"
	GeoCreated        = "CREATION_DATE"
	GeoIncidentNumber = "INCIDENT_NUMBER"
	GeoParcelID       = "PARCEL_ID"
	GeoCityFileNo     = "Case_Number"
	GeoSubDistrict    = "ce_name"
	GeoInspectSummary = "NPA_Inspect_Summary"
	GeoCourtStatus    = "Court_Status"
	GeoLocation       = "ADDRESS1"
	GeoNextCourtDate  = "NextCourtDate"
	GeoPropertyOwner  = "Court_Property_Owner"
	GeoDefendant      = "AntiNeglect_Plans_App_By"
	GeoWarrant        = "CivilWarrant"
	GeoLatestNotes    = "BoardUp_Notes"
)

// Attribute names on the GEO litigation-history layer.
const (
	HistObjectID           = "OBJECTID"
	HistCourtStatus        = "Status_1"
	HistSubDistrict        = "CouncilDistrict"
	HistCourtNotes         = "CourtNotes"
	HistDismissStatus      = "DismissStatus"
	HistDismissedCondition = "DismissedCondition"
	HistNextSetting        = "NextSetting"
	HistWarrant            = "CivilWarrant"
	HistAddress            = "Address"
	HistParcelID           = "ParcelID"
	HistIncidentNumber     = "Incident_Number"
)

// Custom field names on the CMS side. These are the human-readable names
// registered during bootstrap; the numeric field ids are resolved at run
// time through the cached custom-field schema.
const (
	CMSIncidentNumber     = "Incident Number"
	CMSParcelID           = "Parcel ID"
	CMSCityFileNo         = "City File Number"
	CMSSubDistrict        = "Subdistrict"
	CMSInspectSummary     = "NPA Inspection Summary"
	CMSCourtStatus        = "Court Status"
	CMSLocation           = "Location"
	CMSPropertyOwner      = "Property Owner"
	CMSDefendant          = "Defendent"
	CMSWarrant            = "Civil Warrant"
	CMSLongitude          = "GIS Latitude"
	CMSLatitude           = "GIS Longitude"
	CMSGeoObjectID        = "GIS Object ID"
	CMSDismissStatus      = "Dismiss Status"
	CMSDismissedCondition = "Dismissed Condition"

	// External-property name tagging uploaded documents with their GEO
	// attachment id. This is what makes attachment upload idempotent.
	CMSDocumentExternalID = "GIS_ID"
)
