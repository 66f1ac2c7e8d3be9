//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

// Package tool provides tool declarations and implementations offered to
// providers during generation.
package tool

import "context"

// Tool exposes the metadata describing a tool.
type Tool interface {
	// Declaration returns the metadata describing the tool.
	Declaration() *Declaration
}

// CallableTool is a tool that can be executed with JSON-encoded arguments.
type CallableTool interface {
	Tool

	// Call executes the tool and returns its structured result. The result
	// map is sent back to session providers verbatim as a function response.
	Call(ctx context.Context, jsonArgs []byte) (map[string]any, error)
}

// ResultFormatter is implemented by tools that can render their structured
// result as plain text for chat-completion providers.
type ResultFormatter interface {
	FormatResult(resp map[string]any) string
}

// Declaration describes a tool in provider-neutral, JSON-schema-shaped form.
type Declaration struct {
	// Name is the unique identifier of the tool.
	Name string `json:"name"`

	// Description explains the tool's purpose and when to use it.
	Description string `json:"description"`

	// Parameters maps parameter names to their schemas.
	Parameters map[string]*Property `json:"parameters"`

	// Required lists the parameter names the provider must supply.
	Required []string `json:"required,omitempty"`
}

// Property is the schema of a single tool parameter.
type Property struct {
	// Type is the JSON Schema type of the parameter.
	Type string `json:"type"`

	// Description is a human-readable description of the parameter.
	Description string `json:"description,omitempty"`

	// Enum is an optional list of allowed values.
	Enum []any `json:"enum,omitempty"`
}

// NewDeclaration creates a declaration with no parameters.
func NewDeclaration(name, description string) *Declaration {
	return &Declaration{
		Name:        name,
		Description: description,
		Parameters:  make(map[string]*Property),
	}
}

// WithStringParam adds a required string parameter to the declaration.
func (d *Declaration) WithStringParam(name, description string) *Declaration {
	d.Parameters[name] = &Property{Type: "string", Description: description}
	d.Required = append(d.Required, name)
	return d
}
