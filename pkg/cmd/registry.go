// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/sentiolabs/sentio/pkg/activities/aggregatestore"
	"github.com/sentiolabs/sentio/pkg/activities/fetchreviews"
	"github.com/sentiolabs/sentio/pkg/activities/registerproduct"
	"github.com/sentiolabs/sentio/pkg/activities/scoresentiment"
	"github.com/sentiolabs/sentio/pkg/persistence"
	"github.com/sentiolabs/sentio/pkg/pipelines"
	"github.com/sentiolabs/sentio/pkg/registry"
	"github.com/sentiolabs/sentio/pkg/reviews"
	"github.com/sentiolabs/sentio/pkg/sentiment"
)

func registerNativeActivities(reg *registry.Registry, store persistence.ProductStore, source reviews.Source, scorer sentiment.Scorer) {
	reg.RegisterActivity(registerproduct.NewFactory(store))
	reg.RegisterActivity(fetchreviews.NewFactory(source))
	reg.RegisterActivity(scoresentiment.NewFactory(scorer))
	reg.RegisterActivity(aggregatestore.NewFactory(store))
}

func registerNativeDefinitions(reg *registry.Registry) {
	reg.RegisterDefinition(pipelines.NewSentimentAnalysis())
}

// NewRegistry builds a registry with every native activity wired to its
// dependencies and every native workflow definition registered.
func NewRegistry(log *slog.Logger, store persistence.ProductStore, source reviews.Source, scorer sentiment.Scorer) *registry.Registry {
	reg := registry.NewRegistry(log)

	registerNativeActivities(reg, store, source, scorer)
	registerNativeDefinitions(reg)

	return reg
}

// NewDefinitionRegistry builds a registry that only knows the workflow
// definitions, for processes that start and query workflows but never
// execute activities.
func NewDefinitionRegistry(log *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(log)

	registerNativeDefinitions(reg)

	return reg
}
