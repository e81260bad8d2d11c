package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sentiolabs/sentio/pkg/retry"
)

const defaultRequestTimeout = 30 * time.Second

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// HTTPScorer calls an external model service: POST {"text": ...} against the
// configured URL, expecting {"score": N} back with N in [0, 10].
//
// Errors carry their retry classification: connection failures, timeouts,
// 5xx responses, and out-of-range scores are transient; 4xx responses and
// payloads that cannot be read as a score are terminal.
type HTTPScorer struct {
	url    string
	client *http.Client
}

func NewHTTPScorer(url string) *HTTPScorer {
	return &HTTPScorer{
		url: url,
		client: &http.Client{
			Timeout: defaultRequestTimeout,
		},
	}
}

type scoreRequest struct {
	Text string `json:"text"`
}

type scoreResponse struct {
	Score *float64 `json:"score"`
}

func (s *HTTPScorer) Score(ctx context.Context, text string) (float64, error) {
	payload, err := json.Marshal(scoreRequest{Text: text})
	if err != nil {
		return 0, retry.Terminal(fmt.Errorf("failed to encode scoring request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return 0, retry.Terminal(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, retry.Transient(fmt.Errorf("scoring request failed: %w", err))
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, retry.Transient(fmt.Errorf("failed to read scoring response: %w", err))
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return 0, retry.Transient(&HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)})
	}

	// Client errors will not heal on retry.
	if resp.StatusCode >= http.StatusBadRequest {
		return 0, retry.Terminal(&HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)})
	}

	var parsed scoreResponse

	err = json.Unmarshal(respBody, &parsed)
	if err != nil || parsed.Score == nil {
		return 0, retry.Terminalf("malformed scoring response: %s", respBody)
	}

	score := *parsed.Score
	if score < 0 || score > 10 {
		return 0, retry.Transientf("score %v is outside the 0..10 range", score)
	}

	return score, nil
}
