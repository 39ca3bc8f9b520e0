// Package collections implements the Schema Registry: collection
// definitions, their field schemas, and the DDL that keeps each
// collection's backing table in sync with its declared fields.
package collections

import "time"

// FieldType is the declared type of a single field in a collection's
// schema. Each type has its own validation rules, applied by Validate.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldBoolean  FieldType = "boolean"
	FieldDate     FieldType = "date"
	FieldEmail    FieldType = "email"
	FieldURL      FieldType = "url"
	FieldJSON     FieldType = "json"
	FieldFile     FieldType = "file"
	FieldRelation FieldType = "relation"
)

// ValidationRules holds the subset of rules that apply to a field's
// FieldType; unused fields for a given type are simply left zero.
type ValidationRules struct {
	MinLength   *int     `json:"min_length,omitempty"`
	MaxLength   *int     `json:"max_length,omitempty"`
	MinValue    *float64 `json:"min_value,omitempty"`
	MaxValue    *float64 `json:"max_value,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
	EnumValues  []string `json:"enum_values,omitempty"`
	RelationsTo string   `json:"relation_to,omitempty"`
}

// FieldDefinition describes one field of a collection's schema.
type FieldDefinition struct {
	Name       string          `json:"name"`
	FieldType  FieldType       `json:"field_type"`
	Required   bool            `json:"required"`
	Default    interface{}     `json:"default,omitempty"`
	Validation ValidationRules `json:"validation,omitempty"`
}

// Schema is the ordered set of fields a collection's records must
// conform to.
type Schema struct {
	Fields []FieldDefinition `json:"fields"`
}

// FieldByName looks up a field definition by name, returning ok=false
// when the schema has no field with that name.
func (s Schema) FieldByName(name string) (FieldDefinition, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// Collection is a user-defined (or system) record type: a name, a
// schema, and the metadata the registry and the HTTP surface need.
type Collection struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description"`
	Schema      Schema    `json:"schema"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateRequest is the payload accepted by collection creation.
type CreateRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Schema      Schema `json:"schema"`
}

// UpdateRequest is the payload accepted by collection updates. Schema
// may only add fields; it can never drop or retype an existing one.
type UpdateRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	Description *string `json:"description,omitempty"`
	Schema      *Schema `json:"schema,omitempty"`
}

// Stats summarizes the registry for GET /collections/stats.
type Stats struct {
	TotalCollections   int            `json:"total_collections"`
	TotalRecords       int            `json:"total_records"`
	RecordsByCollection map[string]int `json:"records_by_collection"`
	FieldTypeCounts     map[string]int `json:"field_type_counts"`
}
