// Package schema holds the cached CMS custom-field schema: field ids
// keyed by name and picklist option ids keyed by label. The schema is
// created once by bootstrap, saved as an entity file under the data
// directory, and loaded read-only by every sync run.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
)

// Option is one picklist choice on a custom field.
type Option struct {
	ID    int64  `json:"id"`
	Label string `json:"option"`
}

// CustomField describes one CMS custom field.
type CustomField struct {
	ID        int64    `json:"id"`
	Etag      string   `json:"etag,omitempty"`
	Name      string   `json:"name"`
	FieldType string   `json:"field_type,omitempty"`
	Options   []Option `json:"picklist_options,omitempty"`
}

// OptionID resolves a human-readable option label to its id.
func (f *CustomField) OptionID(label string) (int64, bool) {
	for _, o := range f.Options {
		if o.Label == label {
			return o.ID, true
		}
	}
	return 0, false
}

// OptionLabel resolves an option id back to its label.
func (f *CustomField) OptionLabel(id int64) (string, bool) {
	for _, o := range f.Options {
		if o.ID == id {
			return o.Label, true
		}
	}
	return "", false
}

// CustomFields is the lookup registry over all cached custom fields.
type CustomFields struct {
	byName map[string]*CustomField
	byID   map[int64]*CustomField
	fields []CustomField
}

// New builds a registry from a slice of custom fields.
func New(fields []CustomField) *CustomFields {
	cf := &CustomFields{
		byName: make(map[string]*CustomField, len(fields)),
		byID:   make(map[int64]*CustomField, len(fields)),
		fields: fields,
	}
	for i := range fields {
		f := &fields[i]
		cf.byName[f.Name] = f
		cf.byID[f.ID] = f
	}
	return cf
}

// Field returns the custom field with the given name.
func (cf *CustomFields) Field(name string) (*CustomField, bool) {
	f, ok := cf.byName[name]
	return f, ok
}

// FieldID returns the id of the named field, or 0 when unknown.
func (cf *CustomFields) FieldID(name string) int64 {
	if f, ok := cf.byName[name]; ok {
		return f.ID
	}
	return 0
}

// FieldName returns the name of the field with the given id.
func (cf *CustomFields) FieldName(id int64) string {
	if f, ok := cf.byID[id]; ok {
		return f.Name
	}
	return ""
}

// All returns the underlying field definitions.
func (cf *CustomFields) All() []CustomField {
	return cf.fields
}

// Load reads a cached custom-field entity file. A missing file returns
// (nil, false, nil): bootstrap has not run yet, which the caller treats
// as fatal for sync commands but normal for bootstrap itself.
func Load(path string) (*CustomFields, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read custom fields %s: %w", path, err)
	}

	var fields []CustomField
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, false, fmt.Errorf("failed to parse custom fields %s: %w", path, err)
	}
	return New(fields), true, nil
}

// Save writes the custom-field definitions as an entity file.
func Save(path string, fields []CustomField) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal custom fields: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write custom fields %s: %w", path, err)
	}
	return nil
}
