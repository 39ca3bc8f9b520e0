package records

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/artha-au/baasd/internal/apperrors"
	"github.com/artha-au/baasd/internal/collections"
)

var dateLayout = "2006-01-02"

// Validate checks payload against schema field-by-field, per the rule
// table in §4.4: declared type, and, when present, the rules for that
// type. Every violation is collected before returning so a caller sees
// the whole picture in one response rather than one field at a time.
// Fields present in payload but not declared in schema are ignored, not
// rejected.
func Validate(schema collections.Schema, payload map[string]interface{}) error {
	var messages []string

	for _, field := range schema.Fields {
		raw, present := payload[field.Name]
		if !present || raw == nil {
			if field.Required && field.Default == nil {
				messages = append(messages, fmt.Sprintf("%s is required", field.Name))
			}
			continue
		}

		if msg := validateField(field, raw); msg != "" {
			messages = append(messages, msg)
		}
	}

	if len(messages) > 0 {
		return apperrors.Validation(messages...)
	}
	return nil
}

func validateField(field collections.FieldDefinition, raw interface{}) string {
	switch field.FieldType {
	case collections.FieldText:
		s, ok := raw.(string)
		if !ok {
			return fmt.Sprintf("%s must be a string", field.Name)
		}
		return validateText(field, s)
	case collections.FieldNumber:
		n, ok := asNumber(raw)
		if !ok {
			return fmt.Sprintf("%s must be a number", field.Name)
		}
		return validateNumber(field, n)
	case collections.FieldBoolean:
		if _, ok := raw.(bool); !ok {
			return fmt.Sprintf("%s must be a boolean", field.Name)
		}
	case collections.FieldDate:
		s, ok := raw.(string)
		if !ok {
			return fmt.Sprintf("%s must be a date string", field.Name)
		}
		if _, err := time.Parse(dateLayout, s); err != nil {
			return fmt.Sprintf("%s must match YYYY-MM-DD", field.Name)
		}
	case collections.FieldEmail:
		s, ok := raw.(string)
		if !ok || !strings.Contains(s, "@") || !strings.Contains(s, ".") {
			return fmt.Sprintf("%s must be a valid email address", field.Name)
		}
	case collections.FieldURL:
		s, ok := raw.(string)
		if !ok || !(strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")) || !strings.Contains(s, ".") {
			return fmt.Sprintf("%s must be a valid URL", field.Name)
		}
	case collections.FieldJSON:
		// any JSON value decoded by the request parser is acceptable.
	case collections.FieldFile:
		s, ok := raw.(string)
		if !ok || len(s) > 500 {
			return fmt.Sprintf("%s must be a path/identifier of at most 500 characters", field.Name)
		}
	case collections.FieldRelation:
		switch v := raw.(type) {
		case string:
			if len(v) > 50 {
				return fmt.Sprintf("%s relation id must be at most 50 characters", field.Name)
			}
		case float64, int, int64:
			// numeric IDs are always acceptable.
		default:
			return fmt.Sprintf("%s must be a string or integer ID", field.Name)
		}
	}
	return ""
}

func validateText(field collections.FieldDefinition, s string) string {
	rules := field.Validation
	if rules.MinLength != nil && len(s) < *rules.MinLength {
		return fmt.Sprintf("%s must be at least %d characters", field.Name, *rules.MinLength)
	}
	if rules.MaxLength != nil && len(s) > *rules.MaxLength {
		return fmt.Sprintf("%s must be at most %d characters", field.Name, *rules.MaxLength)
	}
	if rules.Pattern != "" {
		re, err := regexp.Compile(rules.Pattern)
		if err != nil {
			// Caught at schema-registration time already; reaching here
			// means the schema was written before that check existed.
			return fmt.Sprintf("%s config error: validation pattern does not compile", field.Name)
		}
		if !re.MatchString(s) {
			return fmt.Sprintf("%s does not match the required pattern", field.Name)
		}
	}
	if len(rules.EnumValues) > 0 {
		ok := false
		for _, v := range rules.EnumValues {
			if v == s {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Sprintf("%s must be one of %v", field.Name, rules.EnumValues)
		}
	}
	return ""
}

func validateNumber(field collections.FieldDefinition, n float64) string {
	rules := field.Validation
	if rules.MinValue != nil && n < *rules.MinValue {
		return fmt.Sprintf("%s must be >= %v", field.Name, *rules.MinValue)
	}
	if rules.MaxValue != nil && n > *rules.MaxValue {
		return fmt.Sprintf("%s must be <= %v", field.Name, *rules.MaxValue)
	}
	return ""
}

func asNumber(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
