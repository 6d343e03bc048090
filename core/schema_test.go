package core

import "testing"

func TestValidateSchemaRequiredFieldMissing(t *testing.T) {
	schema := Schema{"query": "string"}
	err := ValidateSchema(schema, map[string]interface{}{})
	if err == nil {
		t.Fatal("expected error for missing required field, got nil")
	}
}

func TestValidateSchemaTypeMismatch(t *testing.T) {
	tests := []struct {
		name   string
		schema Schema
		params map[string]interface{}
		wantOK bool
	}{
		{"string ok", Schema{"query": "string"}, map[string]interface{}{"query": "x"}, true},
		{"string wrong type", Schema{"query": "string"}, map[string]interface{}{"query": 1}, false},
		{"number ok", Schema{"limit": "number"}, map[string]interface{}{"limit": float64(10)}, true},
		{"number wrong type", Schema{"limit": "number"}, map[string]interface{}{"limit": "10"}, false},
		{"boolean ok", Schema{"all": "boolean"}, map[string]interface{}{"all": true}, true},
		{"array ok", Schema{"tags": "array"}, map[string]interface{}{"tags": []interface{}{"a"}}, true},
		{"array wrong type", Schema{"tags": "array"}, map[string]interface{}{"tags": "a"}, false},
		{"object ok", Schema{"filter": "object"}, map[string]interface{}{"filter": map[string]interface{}{}}, true},
		{"unrecognized type name passes anything", Schema{"x": "whatever"}, map[string]interface{}{"x": 42}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchema(tt.schema, tt.params)
			if tt.wantOK && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
			if !tt.wantOK && err == nil {
				t.Errorf("expected error, got nil")
			}
		})
	}
}

func TestValidateSchemaNilSchemaAllowsAnyParams(t *testing.T) {
	if err := ValidateSchema(nil, map[string]interface{}{"anything": 1}); err != nil {
		t.Errorf("nil schema should place no constraint on params, got %v", err)
	}
}

func TestValidateSchemaExtraParamsNotInSchemaAreIgnored(t *testing.T) {
	schema := Schema{"query": "string"}
	params := map[string]interface{}{"query": "x", "extra": "y"}
	if err := ValidateSchema(schema, params); err != nil {
		t.Errorf("unexpected error for unconstrained extra field: %v", err)
	}
}
