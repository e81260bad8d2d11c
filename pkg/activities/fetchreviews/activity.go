// Package fetchreviews provides the pipeline step that pulls the review
// corpus for a product.
package fetchreviews

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sentiolabs/sentio/pkg/models"
	"github.com/sentiolabs/sentio/pkg/protocol"
	"github.com/sentiolabs/sentio/pkg/retry"
	"github.com/sentiolabs/sentio/pkg/reviews"
)

const Type = "fetchReviews"

type Input struct {
	ProductName string `json:"productName"`
}

type Output struct {
	Reviews []reviews.Review `json:"reviews"`
}

// Factory creates fetchReviews activities bound to a review source.
type Factory struct {
	source reviews.Source
}

func NewFactory(source reviews.Source) *Factory {
	return &Factory{source: source}
}

func (f *Factory) ID() string {
	return Type
}

func (f *Factory) Create(_ map[string]any) (protocol.Activity, error) {
	return &Activity{source: f.source}, nil
}

type Activity struct {
	source reviews.Source
}

func (a *Activity) Execute(ctx context.Context, invocation models.ActivityInvocation, logger *slog.Logger) (any, error) {
	var input Input

	err := json.Unmarshal(invocation.Input, &input)
	if err != nil {
		return nil, retry.Terminal(fmt.Errorf("invalid fetchReviews input: %w", err))
	}

	if input.ProductName == "" {
		return nil, retry.Terminalf("fetchReviews input is missing productName")
	}

	found, err := a.source.FetchReviews(ctx, input.ProductName)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("failed to fetch reviews: %w", err))
	}

	logger.InfoContext(ctx, "Fetched reviews",
		"product_name", input.ProductName,
		"review_count", len(found),
	)

	return Output{Reviews: found}, nil
}
