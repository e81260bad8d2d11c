package models

// JSONSchema declares the shape of a workflow definition's start input.
// Inputs are validated against it before the first event is written.
type JSONSchema struct {
	Type        string               `json:"type"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
	Title       string               `json:"title,omitempty"`
	Description string               `json:"description,omitempty"`
}

// Property is one field of a JSONSchema.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	MinLength   *int      `json:"minLength,omitempty"`
	MaxLength   *int      `json:"maxLength,omitempty"`
	Pattern     string    `json:"pattern,omitempty"`
	Items       *Property `json:"items,omitempty"`
}
