// Package tools provides the tool layer for jarvisd: a fixed registry of
// callable tools (web search, weather, creator info, paper lookup) exposed
// to the completion model as its menu.
package tools

import (
	"context"
	"encoding/json"
)

// ResultKind distinguishes plain-text tool output from structured output.
type ResultKind string

const (
	KindText       ResultKind = "text"
	KindStructured ResultKind = "structured"
)

// Result is the uniform outcome every tool produces. Text results carry
// Value only; structured results additionally carry Data and a Formatted
// rendering for the model and the UI.
type Result struct {
	Kind      ResultKind  `json:"kind"`
	Value     string      `json:"value"`
	Data      interface{} `json:"data,omitempty"`
	Formatted string      `json:"formatted,omitempty"`
}

// TextResult builds a plain-text result.
func TextResult(value string) *Result {
	return &Result{Kind: KindText, Value: value}
}

// StructuredResult builds a structured result with a textual rendering.
func StructuredResult(data interface{}, formatted string) *Result {
	return &Result{Kind: KindStructured, Value: formatted, Data: data, Formatted: formatted}
}

// Text returns the model-facing textual form of the result.
func (r *Result) Text() string {
	if r.Formatted != "" {
		return r.Formatted
	}
	return r.Value
}

// Tool defines the interface for all callable tools.
type Tool interface {
	// Name returns the tool identifier.
	Name() string

	// Description is consumed by the model to decide invocation.
	Description() string

	// Parameters returns the JSON schema for the tool's arguments.
	Parameters() json.RawMessage

	// Execute runs the tool. Implementations return an error only for
	// argument problems; provider failures degrade into textual results.
	Execute(ctx context.Context, args json.RawMessage) (*Result, error)
}

// Spec is the registry's description of a tool, shaped for the model menu.
type Spec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
