// Package scoresentiment provides the fan-out pipeline step that rates one
// review.
package scoresentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sentiolabs/sentio/pkg/activity"
	"github.com/sentiolabs/sentio/pkg/models"
	"github.com/sentiolabs/sentio/pkg/protocol"
	"github.com/sentiolabs/sentio/pkg/retry"
	"github.com/sentiolabs/sentio/pkg/sentiment"
)

const Type = "scoreSentiment"

type Input struct {
	ReviewID string `json:"reviewId"`
	Text     string `json:"text"`
}

type Output struct {
	ReviewID string  `json:"reviewId"`
	Score    float64 `json:"score"`
}

// Factory creates scoreSentiment activities bound to a scoring backend.
type Factory struct {
	scorer sentiment.Scorer
}

func NewFactory(scorer sentiment.Scorer) *Factory {
	return &Factory{scorer: scorer}
}

func (f *Factory) ID() string {
	return Type
}

func (f *Factory) Create(_ map[string]any) (protocol.Activity, error) {
	return &Activity{scorer: f.scorer}, nil
}

type Activity struct {
	scorer sentiment.Scorer
}

func (a *Activity) Execute(ctx context.Context, invocation models.ActivityInvocation, logger *slog.Logger) (any, error) {
	var input Input

	err := json.Unmarshal(invocation.Input, &input)
	if err != nil {
		return nil, retry.Terminal(fmt.Errorf("invalid scoreSentiment input: %w", err))
	}

	if input.Text == "" {
		return nil, retry.Terminalf("scoreSentiment input is missing text")
	}

	// The scoring call can wait on a remote model; mark liveness before it.
	activity.Heartbeat(ctx)

	score, err := a.scorer.Score(ctx, input.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to score review %s: %w", input.ReviewID, err)
	}

	logger.InfoContext(ctx, "Scored review",
		"review_id", input.ReviewID,
		"score", score,
	)

	return Output{ReviewID: input.ReviewID, Score: score}, nil
}
