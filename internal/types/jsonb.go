package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

var (
	_ sql.Scanner   = (*TemplateVariables)(nil)
	_ driver.Valuer = TemplateVariables(nil)
)

// DataBag is the schema-less key/value data a template is rendered against.
type DataBag map[string]any

// Has reports whether key is present with a non-nil, non-empty value.
func (d DataBag) Has(key string) bool {
	v, ok := d[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return s != ""
	}
	return true
}

// TemplateVariables is the JSONB list of variables declared by a template.
type TemplateVariables []TemplateVariable

// scanJSONB scans a JSONB database value into dest. It handles nil values,
// []byte, and string representations from different database drivers.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (tv *TemplateVariables) Scan(value interface{}) error {
	if value == nil {
		*tv = nil
		return nil
	}
	return scanJSONB(tv, value)
}

// Value implements the driver.Valuer interface. An empty list is stored as
// '[]' so the column stays NOT NULL.
func (tv TemplateVariables) Value() (driver.Value, error) {
	if tv == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]TemplateVariable(tv))
}
