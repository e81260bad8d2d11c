// Package aggregatestore provides the final pipeline step: averaging the
// review scores and persisting the result.
package aggregatestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sentiolabs/sentio/pkg/models"
	"github.com/sentiolabs/sentio/pkg/persistence"
	"github.com/sentiolabs/sentio/pkg/protocol"
	"github.com/sentiolabs/sentio/pkg/retry"
)

const Type = "aggregateAndStore"

type Input struct {
	ProductUUID string    `json:"productUUID"`
	Scores      []float64 `json:"scores"`
}

type Output struct {
	ProductID    string  `json:"productId"`
	AverageScore float64 `json:"averageScore"`
	TotalReviews int     `json:"totalReviews"`
}

// Factory creates aggregateAndStore activities bound to a product store.
type Factory struct {
	store persistence.ProductStore
}

func NewFactory(store persistence.ProductStore) *Factory {
	return &Factory{store: store}
}

func (f *Factory) ID() string {
	return Type
}

func (f *Factory) Create(_ map[string]any) (protocol.Activity, error) {
	return &Activity{store: f.store}, nil
}

// Activity computes the arithmetic mean of the scores and writes it under
// `score:{productUUID}` as a stringified number. The write is last-writer-wins
// and the value is a pure function of the recorded scores, so a retried or
// redelivered attempt stores the identical value.
type Activity struct {
	store persistence.ProductStore
}

func (a *Activity) Execute(ctx context.Context, invocation models.ActivityInvocation, logger *slog.Logger) (any, error) {
	var input Input

	err := json.Unmarshal(invocation.Input, &input)
	if err != nil {
		return nil, retry.Terminal(fmt.Errorf("invalid aggregateAndStore input: %w", err))
	}

	if input.ProductUUID == "" {
		return nil, retry.Terminalf("aggregateAndStore input is missing productUUID")
	}

	average := 0.0
	if len(input.Scores) > 0 {
		sum := 0.0
		for _, score := range input.Scores {
			sum += score
		}

		average = sum / float64(len(input.Scores))
	}

	stored := strconv.FormatFloat(average, 'f', -1, 64)

	err = a.store.SaveScore(ctx, input.ProductUUID, stored)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("failed to save score: %w", err))
	}

	logger.InfoContext(ctx, "Stored aggregated sentiment score",
		"product_uuid", input.ProductUUID,
		"average_score", stored,
		"total_reviews", len(input.Scores),
	)

	return Output{
		ProductID:    input.ProductUUID,
		AverageScore: average,
		TotalReviews: len(input.Scores),
	}, nil
}
