// Package pipelines holds the workflow definitions this process ships.
package pipelines

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentiolabs/sentio/pkg/activities/aggregatestore"
	"github.com/sentiolabs/sentio/pkg/activities/fetchreviews"
	"github.com/sentiolabs/sentio/pkg/activities/registerproduct"
	"github.com/sentiolabs/sentio/pkg/activities/scoresentiment"
	"github.com/sentiolabs/sentio/pkg/models"
	"github.com/sentiolabs/sentio/pkg/workflow"
)

// SentimentAnalysisID is the definition ID the API starts instances under.
const SentimentAnalysisID = "sentiment-analysis"

const (
	registerScheduleID  = "register-product-1"
	fetchScheduleID     = "fetch-reviews-1"
	aggregateScheduleID = "aggregate-store-1"
)

func scoreScheduleID(n int) string {
	return fmt.Sprintf("score-sentiment-%d", n)
}

// scoreOptions bound the remote scoring call: per-attempt and cross-attempt
// deadlines plus a liveness window, so a worker dying mid-call is reaped
// instead of parking the fan-out forever.
func scoreOptions() models.ActivityOptions {
	return models.ActivityOptions{
		StartToCloseTimeout:    30 * time.Second,
		ScheduleToCloseTimeout: 5 * time.Minute,
		HeartbeatTimeout:       30 * time.Second,
	}
}

var minProductNameLength = 1

// SentimentAnalysis is the four-step analysis pipeline: register the product,
// fetch its reviews, score every review concurrently, then aggregate and
// persist the mean.
type SentimentAnalysis struct{}

func NewSentimentAnalysis() *SentimentAnalysis {
	return &SentimentAnalysis{}
}

func (d *SentimentAnalysis) ID() string {
	return SentimentAnalysisID
}

func (d *SentimentAnalysis) InputSchema() *models.JSONSchema {
	return &models.JSONSchema{
		Type: "object",
		Properties: map[string]*models.Property{
			"productName": {
				Type:        "string",
				Description: "Product whose reviews are analyzed",
				MinLength:   &minProductNameLength,
			},
		},
		Required: []string{"productName"},
	}
}

// Decide maps the recorded history to the next decisions. It reads only the
// projection: every input it composes comes from recorded outputs, so a
// replay over the same history re-derives the identical schedules.
func (d *SentimentAnalysis) Decide(view *workflow.Projection) ([]workflow.Decision, error) {
	if failure := view.FirstFailure(); failure != nil {
		return []workflow.Decision{workflow.FailWorkflow{Failure: *failure}}, nil
	}

	if !view.Scheduled(registerScheduleID) {
		return []workflow.Decision{workflow.ScheduleActivity{
			ScheduleID:   registerScheduleID,
			ActivityType: registerproduct.Type,
			Input:        view.Input,
		}}, nil
	}

	register, _ := view.Activity(registerScheduleID)
	if register.Pending() {
		return nil, nil
	}

	if !view.Scheduled(fetchScheduleID) {
		return []workflow.Decision{workflow.ScheduleActivity{
			ScheduleID:   fetchScheduleID,
			ActivityType: fetchreviews.Type,
			Input:        view.Input,
		}}, nil
	}

	fetch, _ := view.Activity(fetchScheduleID)
	if fetch.Pending() {
		return nil, nil
	}

	var registered registerproduct.Output

	err := json.Unmarshal(register.Output, &registered)
	if err != nil {
		return nil, fmt.Errorf("recorded registerProduct output is unreadable: %w", err)
	}

	var fetched fetchreviews.Output

	err = json.Unmarshal(fetch.Output, &fetched)
	if err != nil {
		return nil, fmt.Errorf("recorded fetchReviews output is unreadable: %w", err)
	}

	scoreIDs := make([]string, len(fetched.Reviews))
	for i := range fetched.Reviews {
		scoreIDs[i] = scoreScheduleID(i + 1)
	}

	decisions := make([]workflow.Decision, 0)

	for i, review := range fetched.Reviews {
		if view.Scheduled(scoreIDs[i]) {
			continue
		}

		input, err := json.Marshal(scoresentiment.Input{ReviewID: review.ID, Text: review.Text})
		if err != nil {
			return nil, fmt.Errorf("failed to encode scoreSentiment input: %w", err)
		}

		decisions = append(decisions, workflow.ScheduleActivity{
			ScheduleID:   scoreIDs[i],
			ActivityType: scoresentiment.Type,
			Input:        input,
			Options:      scoreOptions(),
		})
	}

	if len(decisions) > 0 {
		return decisions, nil
	}

	// The join barrier: nothing past this point until every scoring schedule
	// has completed. Zero reviews has no barrier to wait on.
	if barrier := view.JoinBarrier(scoreIDs); len(scoreIDs) > 0 && !barrier.Done {
		return nil, nil
	}

	if !view.Scheduled(aggregateScheduleID) {
		outputs, _ := view.Outputs(scoreIDs)

		scores := make([]float64, 0, len(outputs))

		for _, raw := range outputs {
			var scored scoresentiment.Output

			err := json.Unmarshal(raw, &scored)
			if err != nil {
				return nil, fmt.Errorf("recorded scoreSentiment output is unreadable: %w", err)
			}

			scores = append(scores, scored.Score)
		}

		input, err := json.Marshal(aggregatestore.Input{ProductUUID: registered.ProductUUID, Scores: scores})
		if err != nil {
			return nil, fmt.Errorf("failed to encode aggregateAndStore input: %w", err)
		}

		return []workflow.Decision{workflow.ScheduleActivity{
			ScheduleID:   aggregateScheduleID,
			ActivityType: aggregatestore.Type,
			Input:        input,
		}}, nil
	}

	aggregate, _ := view.Activity(aggregateScheduleID)
	if aggregate.Pending() {
		return nil, nil
	}

	return []workflow.Decision{workflow.CompleteWorkflow{Result: aggregate.Output}}, nil
}
