package collections

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("articles"))
	assert.NoError(t, ValidateName("my_collection_2"))

	for _, bad := range []string{"", "1abc", "a b", "a-b", `a"b`} {
		assert.Error(t, ValidateName(bad), bad)
	}
}

func TestValidateNameReserved(t *testing.T) {
	for _, name := range []string{"users", "auth", "admin", "api", "system"} {
		err := ValidateName(name)
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), "reserved")
	}
}

func TestEscapeIdentifier(t *testing.T) {
	assert.Equal(t, `"articles"`, EscapeIdentifier("articles"))
	assert.Equal(t, `"a""b"`, EscapeIdentifier(`a"b`))
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "records_articles", TableName("articles"))
}

func TestValidateSchemaRejectsDuplicates(t *testing.T) {
	err := ValidateSchema(Schema{Fields: []FieldDefinition{
		{Name: "title", FieldType: FieldText},
		{Name: "title", FieldType: FieldNumber},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than once")
}

func TestValidateSchemaRejectsReservedFieldNames(t *testing.T) {
	for _, name := range []string{"id", "created_at", "updated_at"} {
		err := ValidateSchema(Schema{Fields: []FieldDefinition{{Name: name, FieldType: FieldText}}})
		assert.Error(t, err, name)
	}
}

func TestValidateSchemaRejectsUnknownType(t *testing.T) {
	err := ValidateSchema(Schema{Fields: []FieldDefinition{{Name: "x", FieldType: "blob"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blob")
}

func TestValidateSchemaRejectsBadPattern(t *testing.T) {
	err := ValidateSchema(Schema{Fields: []FieldDefinition{
		{Name: "slug", FieldType: FieldText, Validation: ValidationRules{Pattern: "["}},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config error")
}

func TestValidateSchemaRelationNeedsTarget(t *testing.T) {
	err := ValidateSchema(Schema{Fields: []FieldDefinition{
		{Name: "author", FieldType: FieldRelation},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relation_to")
}

func TestIsAdditive(t *testing.T) {
	prev := Schema{Fields: []FieldDefinition{
		{Name: "title", FieldType: FieldText, Required: true},
	}}

	ok, _ := IsAdditive(prev, Schema{Fields: []FieldDefinition{
		{Name: "title", FieldType: FieldText, Required: true},
		{Name: "views", FieldType: FieldNumber},
	}})
	assert.True(t, ok)

	ok, reason := IsAdditive(prev, Schema{Fields: []FieldDefinition{
		{Name: "views", FieldType: FieldNumber},
	}})
	assert.False(t, ok)
	assert.Contains(t, reason, "removed")

	ok, reason = IsAdditive(prev, Schema{Fields: []FieldDefinition{
		{Name: "title", FieldType: FieldNumber, Required: true},
	}})
	assert.False(t, ok)
	assert.Contains(t, reason, "change type")

	ok, reason = IsAdditive(prev, Schema{Fields: []FieldDefinition{
		{Name: "title", FieldType: FieldText, Required: true},
		{Name: "slug", FieldType: FieldText, Required: true},
	}})
	assert.False(t, ok)
	assert.Contains(t, reason, "required")
}
