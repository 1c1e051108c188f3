package bootstrap

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npclinic/databridge/internal/cms"
	"github.com/npclinic/databridge/internal/record"
	"github.com/npclinic/databridge/internal/schema"
)

type fakeAPI struct {
	entities       map[string]map[string]cms.Entity // resource -> name -> entity
	calendars      []cms.Entity
	fields         map[string]schema.CustomField
	created        []string
	createdFields  []cms.CustomFieldCreate
	nextID         int64
	findFieldCalls int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		entities: map[string]map[string]cms.Entity{},
		fields:   map[string]schema.CustomField{},
		nextID:   100,
	}
}

func (f *fakeAPI) FindEntity(ctx context.Context, resource, queryParam, name string) (*cms.Entity, bool, error) {
	if e, ok := f.entities[resource][name]; ok {
		return &e, true, nil
	}
	return nil, false, nil
}

func (f *fakeAPI) CreateEntity(ctx context.Context, resource, name string, extra map[string]any) (*cms.Entity, error) {
	f.nextID++
	e := cms.Entity{ID: f.nextID, Name: name}
	if f.entities[resource] == nil {
		f.entities[resource] = map[string]cms.Entity{}
	}
	f.entities[resource][name] = e
	f.created = append(f.created, resource+"/"+name)
	if resource == "calendars" {
		f.calendars = append(f.calendars, e)
	}
	return &e, nil
}

func (f *fakeAPI) ListCalendars(ctx context.Context) ([]cms.Entity, error) {
	return f.calendars, nil
}

func (f *fakeAPI) FindCustomField(ctx context.Context, name string, out any) (bool, error) {
	f.findFieldCalls++
	field, ok := f.fields[name]
	if !ok {
		return false, nil
	}
	data, _ := json.Marshal(field)
	return true, json.Unmarshal(data, out)
}

func (f *fakeAPI) CreateCustomField(ctx context.Context, create cms.CustomFieldCreate, out any) error {
	f.nextID++
	field := schema.CustomField{ID: f.nextID, Name: create.Name, FieldType: create.FieldType}
	for _, o := range create.Options {
		f.nextID++
		field.Options = append(field.Options, schema.Option{ID: f.nextID, Label: o})
	}
	f.fields[create.Name] = field
	f.createdFields = append(f.createdFields, create)

	data, _ := json.Marshal(field)
	return json.Unmarshal(data, out)
}

func testConfig(dir string) Config {
	return Config{
		Dir:              dir,
		ClientName:       "NP Clinic Client",
		GroupName:        "NP Clinic",
		PracticeAreaName: "Neighborhood Preservation",
		CalendarName:     "NP Clinic Calendar",
	}
}

func TestRunCreatesEverythingOnce(t *testing.T) {
	api := newFakeAPI()
	dir := t.TempDir()

	ents, fields, err := Run(context.Background(), api, testConfig(dir), nil)
	require.NoError(t, err)

	assert.True(t, ents.Complete())
	assert.Equal(t, "NP Clinic", ents.GroupName)
	assert.NotZero(t, ents.CalendarID)
	assert.Len(t, api.createdFields, len(fieldSpecs))

	// The picklist schema round-trips through the cache file.
	courtStatus, ok := fields.Field(record.CMSCourtStatus)
	require.True(t, ok)
	_, ok = courtStatus.OptionID("Dismissed")
	assert.True(t, ok)

	saved, found, err := schema.Load(FieldsPath(dir))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, fields.FieldID(record.CMSWarrant), saved.FieldID(record.CMSWarrant))
}

func TestRunIsIdempotent(t *testing.T) {
	api := newFakeAPI()
	dir := t.TempDir()

	first, _, err := Run(context.Background(), api, testConfig(dir), nil)
	require.NoError(t, err)
	createdOnce := len(api.created)
	fieldsOnce := len(api.createdFields)

	second, _, err := Run(context.Background(), api, testConfig(dir), nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, createdOnce, len(api.created))
	assert.Equal(t, fieldsOnce, len(api.createdFields))
}

func TestRunFindsExistingEntities(t *testing.T) {
	api := newFakeAPI()
	api.entities["groups"] = map[string]cms.Entity{"NP Clinic": {ID: 42, Name: "NP Clinic"}}
	api.calendars = []cms.Entity{{ID: 43, Name: "NP Clinic Calendar"}}

	ents, _, err := Run(context.Background(), api, testConfig(t.TempDir()), nil)
	require.NoError(t, err)

	assert.Equal(t, int64(42), ents.GroupID)
	assert.Equal(t, int64(43), ents.CalendarID)
	assert.NotContains(t, api.created, "groups/NP Clinic")
	assert.NotContains(t, api.created, "calendars/NP Clinic Calendar")
}

func TestLoadMissingIsNotError(t *testing.T) {
	ents, found, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, ents.Complete())
}
