// Package bootstrap provisions the CMS reference entities the sync
// depends on: the billing contact, the matter group, the practice area,
// the hearing calendar and the custom-field schema. Each is found by
// name or created, then cached as an entity file under the data
// directory so sync runs never repeat the lookups.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/npclinic/databridge/internal/cms"
	"github.com/npclinic/databridge/internal/record"
	"github.com/npclinic/databridge/internal/schema"
)

// Entities holds the resolved reference-entity ids. All sync commands
// require a complete set; Run produces one.
type Entities struct {
	ClientID         int64  `json:"client_id"`
	ClientName       string `json:"client_name"`
	GroupID          int64  `json:"group_id"`
	GroupName        string `json:"group_name"`
	PracticeAreaID   int64  `json:"practice_area_id"`
	PracticeAreaName string `json:"practice_area_name"`
	CalendarID       int64  `json:"calendar_id"`
	CalendarName     string `json:"calendar_name"`
}

// Complete reports whether every reference entity has been resolved.
func (e Entities) Complete() bool {
	return e.ClientID != 0 && e.GroupID != 0 && e.PracticeAreaID != 0 && e.CalendarID != 0
}

const (
	entitiesFile = "entities.json"
	fieldsFile   = "custom_fields.json"
)

// FieldsPath returns the custom-field schema cache path under dir.
func FieldsPath(dir string) string {
	return filepath.Join(dir, fieldsFile)
}

// Load reads the cached entity file. A missing file returns
// (Entities{}, false, nil): bootstrap has not run yet.
func Load(dir string) (Entities, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, entitiesFile))
	if os.IsNotExist(err) {
		return Entities{}, false, nil
	}
	if err != nil {
		return Entities{}, false, fmt.Errorf("failed to read entities: %w", err)
	}

	var e Entities
	if err := json.Unmarshal(data, &e); err != nil {
		return Entities{}, false, fmt.Errorf("failed to parse entities: %w", err)
	}
	return e, true, nil
}

// Save writes the entity file.
func Save(dir string, e Entities) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal entities: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, entitiesFile), data, 0600); err != nil {
		return fmt.Errorf("failed to write entities: %w", err)
	}
	return nil
}

// Client is the CMS capability surface bootstrap needs.
type Client interface {
	FindEntity(ctx context.Context, resource, queryParam, name string) (*cms.Entity, bool, error)
	CreateEntity(ctx context.Context, resource, name string, extra map[string]any) (*cms.Entity, error)
	ListCalendars(ctx context.Context) ([]cms.Entity, error)
	FindCustomField(ctx context.Context, name string, out any) (bool, error)
	CreateCustomField(ctx context.Context, create cms.CustomFieldCreate, out any) error
}

// Config names the reference entities to provision.
type Config struct {
	Dir              string
	ClientName       string
	GroupName        string
	PracticeAreaName string
	CalendarName     string
}

// fieldSpecs is the custom-field schema registered on the CMS. Picklist
// option ids are assigned server-side and captured into the cached
// schema after create.
var fieldSpecs = []cms.CustomFieldCreate{
	{Name: record.CMSWarrant, FieldType: "text_line"},
	{Name: record.CMSIncidentNumber, FieldType: "text_line"},
	{Name: record.CMSParcelID, FieldType: "text_line"},
	{Name: record.CMSCityFileNo, FieldType: "text_line"},
	{Name: record.CMSSubDistrict, FieldType: "text_line"},
	{Name: record.CMSInspectSummary, FieldType: "text_area"},
	{Name: record.CMSLocation, FieldType: "text_line"},
	{Name: record.CMSCourtStatus, FieldType: "picklist", Options: []string{
		"Demo",
		"Dev Plan",
		"Dismissed",
		"Hearing",
		"Initial Setting",
		"Initial Setting 2",
		"Initial Setting 3",
		"Initial Setting 4",
		"Non-Compliance",
		"Nuisance",
		"Payment",
		"Receiver",
		"Status",
		"Stay",
	}},
	{Name: record.CMSPropertyOwner, FieldType: "text_line"},
	{Name: record.CMSDefendant, FieldType: "text_line"},
	{Name: record.CMSLongitude, FieldType: "text_line"},
	{Name: record.CMSLatitude, FieldType: "text_line"},
	{Name: record.CMSGeoObjectID, FieldType: "numeric"},
	{Name: record.CMSDismissStatus, FieldType: "text_line"},
	{Name: record.CMSDismissedCondition, FieldType: "picklist", Options: []string{
		"Dismissed Rehab by Property Owner",
		"Dismissed Rehab by Property Receiver",
		"Dismissed Demolished by City",
		"Dismissed Demolished by Property Owner",
		"Dismissed Property Transferred",
		"Dismissed Property Owned by County Through Tax Sale",
		"Dismissed Refer to Condemnation",
		"Other",
	}},
}

// Run resolves every reference entity, creating whatever is missing,
// and persists both the entity file and the custom-field schema cache.
// Run is idempotent: re-running finds the entities it created before.
func Run(ctx context.Context, api Client, cfg Config, log *zap.Logger) (Entities, *schema.CustomFields, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return Entities{}, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	ents, _, err := Load(cfg.Dir)
	if err != nil {
		return Entities{}, nil, err
	}

	if ents.ClientID == 0 {
		e, err := ensureEntity(ctx, api, "contacts", "query", cfg.ClientName, map[string]any{"type": "Company"})
		if err != nil {
			return ents, nil, err
		}
		ents.ClientID, ents.ClientName = e.ID, e.Name
		log.Info("resolved client contact", zap.Int64("id", e.ID), zap.String("name", e.Name))
	}

	if ents.GroupID == 0 {
		e, err := ensureEntity(ctx, api, "groups", "name", cfg.GroupName, nil)
		if err != nil {
			return ents, nil, err
		}
		ents.GroupID, ents.GroupName = e.ID, e.Name
		log.Info("resolved group", zap.Int64("id", e.ID), zap.String("name", e.Name))
	}

	if ents.PracticeAreaID == 0 {
		e, err := ensureEntity(ctx, api, "practice_areas", "name", cfg.PracticeAreaName, nil)
		if err != nil {
			return ents, nil, err
		}
		ents.PracticeAreaID, ents.PracticeAreaName = e.ID, e.Name
		log.Info("resolved practice area", zap.Int64("id", e.ID), zap.String("name", e.Name))
	}

	if ents.CalendarID == 0 {
		e, err := ensureCalendar(ctx, api, cfg.CalendarName)
		if err != nil {
			return ents, nil, err
		}
		ents.CalendarID, ents.CalendarName = e.ID, e.Name
		log.Info("resolved calendar", zap.Int64("id", e.ID), zap.String("name", e.Name))
	}

	if err := Save(cfg.Dir, ents); err != nil {
		return ents, nil, err
	}

	fields, err := ensureFields(ctx, api, log)
	if err != nil {
		return ents, nil, err
	}
	if err := schema.Save(FieldsPath(cfg.Dir), fields); err != nil {
		return ents, nil, err
	}

	return ents, schema.New(fields), nil
}

func ensureEntity(ctx context.Context, api Client, resource, queryParam, name string, extra map[string]any) (*cms.Entity, error) {
	e, found, err := api.FindEntity(ctx, resource, queryParam, name)
	if err != nil {
		return nil, err
	}
	if found {
		return e, nil
	}
	return api.CreateEntity(ctx, resource, name, extra)
}

func ensureCalendar(ctx context.Context, api Client, name string) (*cms.Entity, error) {
	calendars, err := api.ListCalendars(ctx)
	if err != nil {
		return nil, err
	}
	for i := range calendars {
		if calendars[i].Name == name {
			return &calendars[i], nil
		}
	}
	return api.CreateEntity(ctx, "calendars", name, nil)
}

func ensureFields(ctx context.Context, api Client, log *zap.Logger) ([]schema.CustomField, error) {
	fields := make([]schema.CustomField, 0, len(fieldSpecs))
	for _, spec := range fieldSpecs {
		var field schema.CustomField
		found, err := api.FindCustomField(ctx, spec.Name, &field)
		if err != nil {
			return nil, err
		}
		if !found {
			log.Info("creating custom field", zap.String("name", spec.Name), zap.String("type", spec.FieldType))
			if err := api.CreateCustomField(ctx, spec, &field); err != nil {
				return nil, err
			}
		}
		// The search endpoint matches by query, not exact name; pin the
		// canonical name used by the mapper.
		field.Name = spec.Name
		fields = append(fields, field)
	}
	return fields, nil
}
