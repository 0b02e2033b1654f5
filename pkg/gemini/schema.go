package gemini

import "sort"

// Schema mirrors the Gemini responseSchema wire format (an OpenAPI
// subset). Builders below keep the prompt packages terse.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Nullable    bool               `json:"nullable,omitempty"`
}

// String declares a string field.
func String(description string) *Schema {
	return &Schema{Type: "STRING", Description: description}
}

// NullableString declares a string field the model may set to null.
func NullableString(description string) *Schema {
	return &Schema{Type: "STRING", Description: description, Nullable: true}
}

// Enum declares a string field restricted to the given values.
func Enum(description string, values ...string) *Schema {
	return &Schema{Type: "STRING", Description: description, Enum: values}
}

// Array declares an array of items.
func Array(description string, items *Schema) *Schema {
	return &Schema{Type: "ARRAY", Description: description, Items: items}
}

// Object declares an object with the given properties, all required.
func Object(properties map[string]*Schema) *Schema {
	required := make([]string, 0, len(properties))
	for name := range properties {
		required = append(required, name)
	}
	sort.Strings(required)
	return &Schema{Type: "OBJECT", Properties: properties, Required: required}
}

// ObjectWithRequired declares an object requiring only the named fields.
func ObjectWithRequired(properties map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: "OBJECT", Properties: properties, Required: required}
}
