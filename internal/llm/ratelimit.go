package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// rateLimited gates a Provider behind a token bucket shared by every
// analysis in the process.
type rateLimited struct {
	next    Provider
	limiter *rate.Limiter
}

// RateLimited wraps p so that calls wait for limiter before reaching the
// backend. A nil limiter returns p unchanged.
func RateLimited(p Provider, limiter *rate.Limiter) Provider {
	if limiter == nil {
		return p
	}
	return &rateLimited{next: p, limiter: limiter}
}

func (r *rateLimited) Complete(
	ctx context.Context,
	systemPrompt, userPrompt string,
	maxTokens int,
	temperature float64,
) (Completion, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Completion{}, fmt.Errorf("llm: rate limit: %w", err)
	}
	return r.next.Complete(ctx, systemPrompt, userPrompt, maxTokens, temperature)
}
