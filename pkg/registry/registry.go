// Package registry tracks the activity factories and workflow definitions
// available to a process.
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/sentiolabs/sentio/pkg/protocol"
	"github.com/sentiolabs/sentio/pkg/workflow"
)

type Registry struct {
	logger            *slog.Logger
	activityFactories map[string]protocol.ActivityFactory
	definitions       map[string]workflow.Definition
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:            log,
		activityFactories: make(map[string]protocol.ActivityFactory),
		definitions:       make(map[string]workflow.Definition),
	}
}

func (r *Registry) RegisterActivity(factory protocol.ActivityFactory) {
	r.activityFactories[factory.ID()] = factory

	r.logger.Debug("Registered activity", "activity_type", factory.ID())
}

func (r *Registry) RegisterDefinition(definition workflow.Definition) {
	r.definitions[definition.ID()] = definition

	r.logger.Debug("Registered workflow definition", "definition_id", definition.ID())
}

func (r *Registry) CreateActivity(activityType string, config map[string]any) (protocol.Activity, error) {
	factory, ok := r.activityFactories[activityType]
	if !ok {
		return nil, fmt.Errorf("activity type '%s' not registered", activityType)
	}

	return factory.Create(config)
}

// DefinitionByID makes the registry a workflow.DefinitionSource.
func (r *Registry) DefinitionByID(definitionID string) (workflow.Definition, error) {
	definition, ok := r.definitions[definitionID]
	if !ok {
		return nil, fmt.Errorf("workflow definition '%s' not registered", definitionID)
	}

	return definition, nil
}

func (r *Registry) ActivityTypes() []string {
	types := make([]string, 0, len(r.activityFactories))
	for activityType := range r.activityFactories {
		types = append(types, activityType)
	}

	sort.Strings(types)

	return types
}

func (r *Registry) DefinitionIDs() []string {
	ids := make([]string, 0, len(r.definitions))
	for definitionID := range r.definitions {
		ids = append(ids, definitionID)
	}

	sort.Strings(ids)

	return ids
}
