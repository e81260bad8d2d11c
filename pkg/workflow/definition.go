// Package workflow implements the durable execution engine. A workflow is an
// interpreted state machine: its definition contributes a pure decider that
// maps a projection of the recorded history to the next decisions, and the
// engine turns those decisions into appended events and dispatched tasks.
// Crash recovery is a replay: folding the same history always rebuilds the
// same projection, and the decider never sees anything that is not in it.
package workflow

import (
	"github.com/sentiolabs/sentio/pkg/models"
)

// Definition describes one workflow type.
//
// Decide must be pure: no clock, no randomness, no I/O. Everything
// nondeterministic (timestamps, request IDs, activity outputs) reaches the
// decider through recorded event attributes in the projection. Given the
// same projection, Decide must return the same decisions.
type Definition interface {
	ID() string
	InputSchema() *models.JSONSchema
	Decide(view *Projection) ([]Decision, error)
}

// DefinitionSource resolves workflow definitions by ID. The registry
// implements it.
type DefinitionSource interface {
	DefinitionByID(definitionID string) (Definition, error)
}
