package collections

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/artha-au/baasd/internal/apperrors"
)

// identifierPattern bounds collection and field names to what SQLite
// accepts as a bare identifier once quoted, and keeps generated table
// and column names predictable.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,62}$`)

// reservedNames can never be used as field names because the record
// engine reserves them for system columns.
var reservedNames = map[string]bool{
	"id": true, "created_at": true, "updated_at": true,
}

// reservedCollectionNames are collection names that would shadow fixed
// API route segments or core tables.
var reservedCollectionNames = map[string]bool{
	"users": true, "auth": true, "admin": true, "api": true, "system": true,
}

// ValidIdentifier reports whether name is safe to use as a collection or
// field name.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// EscapeIdentifier quotes name for embedding in generated SQL as a table
// or column name, doubling any embedded double quotes. Every identifier
// that reaches generated SQL text goes through this function; no
// caller-supplied name is ever concatenated unescaped.
func EscapeIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ValidateSchema checks a schema for internal consistency: unique field
// names, valid identifiers, known field types, and well-formed
// validation rules. A malformed regex pattern is reported distinctly
// from a value-level violation, since it is a collection configuration
// mistake rather than something any record submission could trigger.
func ValidateSchema(schema Schema) error {
	var messages []string
	seen := map[string]bool{}

	for _, field := range schema.Fields {
		if !ValidIdentifier(field.Name) {
			messages = append(messages, fmt.Sprintf("field %q is not a valid identifier", field.Name))
			continue
		}
		if reservedNames[field.Name] {
			messages = append(messages, fmt.Sprintf("field %q is reserved", field.Name))
			continue
		}
		if seen[field.Name] {
			messages = append(messages, fmt.Sprintf("field %q is declared more than once", field.Name))
			continue
		}
		seen[field.Name] = true

		switch field.FieldType {
		case FieldText, FieldNumber, FieldBoolean, FieldDate, FieldEmail, FieldURL, FieldJSON, FieldFile, FieldRelation:
		default:
			messages = append(messages, fmt.Sprintf("field %q has unknown field_type %q", field.Name, field.FieldType))
			continue
		}

		if field.Validation.Pattern != "" {
			if _, err := regexp.Compile(field.Validation.Pattern); err != nil {
				messages = append(messages, fmt.Sprintf(
					"field %q config error: validation pattern %q does not compile: %v",
					field.Name, field.Validation.Pattern, err))
			}
		}

		if field.FieldType == FieldRelation && field.Validation.RelationsTo == "" {
			messages = append(messages, fmt.Sprintf("field %q is a relation but declares no relation_to target", field.Name))
		}
	}

	if len(messages) > 0 {
		return apperrors.Validation(messages...)
	}
	return nil
}

// ValidateName checks a collection name against the same identifier
// rule used for fields, since it names the backing table, and rejects
// the reserved set.
func ValidateName(name string) error {
	if !ValidIdentifier(name) {
		return apperrors.Validation(fmt.Sprintf("collection name %q is not a valid identifier", name))
	}
	if reservedCollectionNames[name] {
		return apperrors.Validation(fmt.Sprintf("collection name %q is reserved", name))
	}
	return nil
}

// IsAdditive reports whether next is a backward-compatible evolution of
// prev: every field present in prev must still be present in next with
// the same FieldType. Dropping or retyping a field is rejected per the
// schema-edit Open Question decision.
func IsAdditive(prev, next Schema) (bool, string) {
	for _, old := range prev.Fields {
		updated, ok := next.FieldByName(old.Name)
		if !ok {
			return false, fmt.Sprintf("field %q would be removed", old.Name)
		}
		if updated.FieldType != old.FieldType {
			return false, fmt.Sprintf("field %q would change type from %q to %q", old.Name, old.FieldType, updated.FieldType)
		}
	}
	for _, added := range next.Fields {
		if _, existed := prev.FieldByName(added.Name); existed {
			continue
		}
		if added.Required && added.Default == nil {
			return false, fmt.Sprintf("new field %q is required but declares no default", added.Name)
		}
	}
	return true, ""
}
