// Package registerproduct provides the pipeline step that assigns a product
// its UUID and records it in the product store.
package registerproduct

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sentiolabs/sentio/pkg/models"
	"github.com/sentiolabs/sentio/pkg/persistence"
	"github.com/sentiolabs/sentio/pkg/protocol"
	"github.com/sentiolabs/sentio/pkg/retry"
)

const Type = "registerProduct"

type Input struct {
	ProductName string `json:"productName"`
}

type Output struct {
	ProductUUID string `json:"productUUID"`
	ProductName string `json:"productName"`
}

// Factory creates registerProduct activities bound to a product store.
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

// Activity writes the `{productUUID}` -> name mapping. The UUID is the
// invocation's RequestID, which the engine generated once and recorded in
// history, so every attempt of the same schedule registers the same UUID and
// a replay never mints a new one.
type Activity struct {
	store persistence.ProductStore
}

func (a *Activity) Execute(ctx context.Context, invocation models.ActivityInvocation, logger *slog.Logger) (any, error) {
	var input Input

	err := json.Unmarshal(invocation.Input, &input)
	if err != nil {
		return nil, retry.Terminal(fmt.Errorf("invalid registerProduct input: %w", err))
	}

	if input.ProductName == "" {
		return nil, retry.Terminalf("registerProduct input is missing productName")
	}

	productUUID := invocation.RequestID

	err = a.store.SaveProduct(ctx, productUUID, input.ProductName)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("failed to save product: %w", err))
	}

	logger.InfoContext(ctx, "Registered product",
		"product_uuid", productUUID,
		"product_name", input.ProductName,
	)

	return Output{ProductUUID: productUUID, ProductName: input.ProductName}, nil
}
