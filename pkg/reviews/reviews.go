// Package reviews supplies the review corpus scored by the sentiment pipeline.
package reviews

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
)

// Review is one piece of customer feedback about a product.
type Review struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Source fetches the reviews for a product. Implementations return an empty
// slice, not an error, when a product simply has no reviews yet.
type Source interface {
	FetchReviews(ctx context.Context, productName string) ([]Review, error)
}

// SyntheticSource fabricates reviews deterministically from the product name
// and a seed: the same product always yields the same corpus. It backs local
// mode and tests until a real review backend is wired in.
type SyntheticSource struct {
	count int
	seed  int64
}

func NewSyntheticSource(count int, seed int64) *SyntheticSource {
	if count < 0 {
		count = 0
	}

	return &SyntheticSource{count: count, seed: seed}
}

var reviewTemplates = []string{
	"Absolutely love my %s, it exceeded every expectation.",
	"The %s works fine, nothing special though.",
	"My %s stopped working after a week, very disappointed.",
	"Best %s I have ever owned, highly recommended.",
	"The %s is okay for the price.",
	"Would not buy the %s again, the build quality is poor.",
	"The %s arrived quickly and does exactly what it promises.",
	"Mixed feelings about the %s: great hardware, flaky software.",
	"Returned the %s after two days, total waste of money.",
	"The %s replaced an older model and the upgrade was worth it.",
}

func (s *SyntheticSource) FetchReviews(_ context.Context, productName string) ([]Review, error) {
	rng := rand.New(rand.NewSource(s.seed ^ hashName(productName)))

	out := make([]Review, 0, s.count)
	for i := range s.count {
		template := reviewTemplates[rng.Intn(len(reviewTemplates))]

		out = append(out, Review{
			ID:   fmt.Sprintf("review-%d", i+1),
			Text: fmt.Sprintf(template, productName),
		})
	}

	return out, nil
}

func hashName(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))

	return int64(h.Sum64())
}
