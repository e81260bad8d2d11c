package services

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sentiolabs/sentio/pkg/persistence"
)

// SentimentReport is the queryable aggregate for one analyzed product.
type SentimentReport struct {
	ProductUUID    string  `json:"productUUID"`
	ProductName    string  `json:"productName"`
	SentimentScore float64 `json:"sentimentScore"`
}

// Sentiment reads aggregated sentiment results from the product store.
type Sentiment struct {
	store persistence.ProductStore
}

// NewSentiment creates a new sentiment query service.
func NewSentiment(store persistence.ProductStore) *Sentiment {
	return &Sentiment{store: store}
}

// Report returns the stored aggregate for a product. The score is written
// after the product record, so a product whose pipeline has not finished yet
// reports not-found rather than a partial result.
func (s *Sentiment) Report(ctx context.Context, productUUID string) (*SentimentReport, error) {
	if productUUID == "" {
		return nil, fmt.Errorf("%w: product UUID is required", ErrInvalidRequest)
	}

	name, err := s.store.ProductName(ctx, productUUID)
	if err != nil {
		return nil, err
	}

	stored, err := s.store.Score(ctx, productUUID)
	if err != nil {
		return nil, err
	}

	score, err := strconv.ParseFloat(stored, 64)
	if err != nil {
		return nil, fmt.Errorf("stored score %q for %s is not numeric: %w", stored, productUUID, err)
	}

	return &SentimentReport{
		ProductUUID:    productUUID,
		ProductName:    name,
		SentimentScore: score,
	}, nil
}
