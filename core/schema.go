package core

import "fmt"

// ValidateSchema checks that params satisfies schema: every declared field
// must be present, and when the declared value is a recognized type name
// ("string", "number", "boolean", "array", "object") the param's runtime
// type must match it. An unrecognized declared type is treated as "any"
// rather than rejected, matching Schema's deliberately loose, map-shaped
// design (see Schema's doc comment).
func ValidateSchema(schema Schema, params map[string]interface{}) error {
	for field, want := range schema {
		got, present := params[field]
		if !present {
			return fmt.Errorf("missing required field: %s", field)
		}

		typeName, ok := want.(string)
		if !ok {
			continue
		}
		if !valueMatchesType(got, typeName) {
			return fmt.Errorf("field %q: expected %s, got %T", field, typeName, got)
		}
	}
	return nil
}

func valueMatchesType(v interface{}, typeName string) bool {
	switch typeName {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		default:
			return false
		}
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]interface{})
		return ok
	case "object":
		_, ok := v.(map[string]interface{})
		return ok
	default:
		return true
	}
}
