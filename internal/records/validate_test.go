package records

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artha-au/baasd/internal/apperrors"
	"github.com/artha-au/baasd/internal/collections"
)

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }

func articleSchema() collections.Schema {
	return collections.Schema{Fields: []collections.FieldDefinition{
		{Name: "title", FieldType: collections.FieldText, Required: true,
			Validation: collections.ValidationRules{MinLength: intPtr(1), MaxLength: intPtr(100)}},
		{Name: "views", FieldType: collections.FieldNumber,
			Validation: collections.ValidationRules{MinValue: floatPtr(0)}},
		{Name: "published", FieldType: collections.FieldBoolean},
		{Name: "published_on", FieldType: collections.FieldDate},
		{Name: "contact", FieldType: collections.FieldEmail},
		{Name: "homepage", FieldType: collections.FieldURL},
		{Name: "status", FieldType: collections.FieldText,
			Validation: collections.ValidationRules{EnumValues: []string{"draft", "live"}}},
	}}
}

func TestValidateAccepts(t *testing.T) {
	err := Validate(articleSchema(), map[string]interface{}{
		"title":        "hello",
		"views":        float64(3),
		"published":    true,
		"published_on": "2026-01-31",
		"contact":      "a@b.com",
		"homepage":     "https://example.com",
		"status":       "draft",
	})
	assert.NoError(t, err)
}

func TestValidateMissingRequired(t *testing.T) {
	err := Validate(articleSchema(), map[string]interface{}{"views": float64(3)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title is required")
}

func TestValidateRequiredWithDefaultPasses(t *testing.T) {
	schema := collections.Schema{Fields: []collections.FieldDefinition{
		{Name: "status", FieldType: collections.FieldText, Required: true, Default: "draft"},
	}}
	assert.NoError(t, Validate(schema, map[string]interface{}{}))
}

func TestValidateCollectsEveryViolation(t *testing.T) {
	err := Validate(articleSchema(), map[string]interface{}{
		"views":   float64(-1),
		"contact": "not-an-email",
	})
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindValidationError, appErr.Kind)
	assert.Len(t, appErr.Messages, 3) // title missing, views below min, bad email
}

func TestValidateTypeMismatches(t *testing.T) {
	cases := map[string]map[string]interface{}{
		"text":    {"title": 42},
		"number":  {"title": "x", "views": "many"},
		"boolean": {"title": "x", "published": "yes"},
		"date":    {"title": "x", "published_on": "31/01/2026"},
		"url":     {"title": "x", "homepage": "example.com"},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, Validate(articleSchema(), payload))
		})
	}
}

func TestValidateEnum(t *testing.T) {
	err := Validate(articleSchema(), map[string]interface{}{"title": "x", "status": "archived"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status")
}

func TestValidatePattern(t *testing.T) {
	schema := collections.Schema{Fields: []collections.FieldDefinition{
		{Name: "slug", FieldType: collections.FieldText,
			Validation: collections.ValidationRules{Pattern: `^[a-z-]+$`}},
	}}
	assert.NoError(t, Validate(schema, map[string]interface{}{"slug": "my-post"}))
	assert.Error(t, Validate(schema, map[string]interface{}{"slug": "My Post"}))
}

func TestValidateRelationAndFile(t *testing.T) {
	schema := collections.Schema{Fields: []collections.FieldDefinition{
		{Name: "author", FieldType: collections.FieldRelation, Validation: collections.ValidationRules{RelationsTo: "users"}},
		{Name: "attachment", FieldType: collections.FieldFile},
	}}
	assert.NoError(t, Validate(schema, map[string]interface{}{"author": "user-1", "attachment": "uploads/a.png"}))
	assert.NoError(t, Validate(schema, map[string]interface{}{"author": float64(7)}))
	assert.Error(t, Validate(schema, map[string]interface{}{"author": true}))

	long := make([]byte, 501)
	for i := range long {
		long[i] = 'a'
	}
	assert.Error(t, Validate(schema, map[string]interface{}{"attachment": string(long)}))
}

func TestValidateIgnoresUnknownFields(t *testing.T) {
	err := Validate(articleSchema(), map[string]interface{}{"title": "x", "mystery": "???"})
	assert.NoError(t, err)
}
