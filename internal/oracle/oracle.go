// Package oracle is the Tier-1 classification contract and its LLM-backed
// implementations.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/signal-pipeline/internal/config"
	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/resilience"
)

// ErrMalformedResponse is returned when the model's reply cannot be read as
// a classification.
var ErrMalformedResponse = eris.New("oracle: malformed response")

// Classification is the oracle's verdict for one text.
type Classification struct {
	Score      float64 `json:"score"`      // 0-10
	Confidence float64 `json:"confidence"` // 0-1
	Reason     string  `json:"reason,omitempty"`
}

// Classifier scores how strongly a text expresses a product or feature
// request. Errors are per-row failures for the caller.
type Classifier interface {
	Classify(ctx context.Context, text string, sourceType model.SourceType, role model.ActorRole) (Classification, error)
}

// Guard throttles and isolates calls to a remote model.
type Guard struct {
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	timeout time.Duration
}

// NewGuard builds a Guard. rps <= 0 disables rate limiting.
func NewGuard(rps float64, timeout time.Duration, breaker resilience.CircuitBreakerConfig, retry resilience.RetryConfig) *Guard {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}
	return &Guard{
		limiter: rate.NewLimiter(limit, burst),
		breaker: resilience.NewCircuitBreaker(breaker),
		retry:   retry,
		timeout: timeout,
	}
}

// GuardFrom builds a Guard from application settings. Its breaker is the
// one registered under name in breakers, so health checks can report it; a
// nil registry gives the Guard a breaker of its own.
func GuardFrom(cfg *config.Config, rps float64, breakers *resilience.ServiceBreakers, name string) *Guard {
	retry := resilience.FromRetrySettings(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs,
		cfg.Retry.MaxBackoffMs, cfg.Retry.Multiplier, cfg.Retry.JitterFraction)
	retry.OnRetry = resilience.RetryLogger(name, cfg.Oracle.Provider)
	g := NewGuard(rps,
		time.Duration(cfg.Oracle.TimeoutSecs)*time.Second,
		resilience.FromCircuitSettings(cfg.Oracle.FailureThreshold, cfg.Oracle.ResetTimeoutSecs),
		retry,
	)
	if breakers != nil {
		g.breaker = breakers.Get(name)
	}
	return g
}

// Run waits for a rate token, then calls fn through the breaker with
// retries. Each attempt gets its own timeout.
func Run[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := g.limiter.Wait(ctx); err != nil {
		return zero, eris.Wrap(err, "oracle: rate limit wait")
	}
	return resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (T, error) {
		return resilience.DoVal(ctx, g.retry, func(ctx context.Context) (T, error) {
			if g.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, g.timeout)
				defer cancel()
			}
			return fn(ctx)
		})
	})
}

const systemPrompt = `You triage customer-facing conversation snippets for a product team.
Rate how clearly the snippet expresses a product feature request, capability gap or improvement idea.

Scoring (0-10):
- 0-2: no product signal (small talk, scheduling, billing admin, spam)
- 3-5: vague frustration or a bug report with no requested capability
- 6-8: a concrete request or clearly implied missing capability
- 9-10: an explicit, specific feature request with business impact

Confidence (0-1) is how sure you are of the score.
Customers' requests weigh more than internal staff chatter.

Reply with only a JSON object: {"score": <number>, "confidence": <number>, "reason": "<one sentence>"}`

// userPrompt renders the per-text message.
func userPrompt(text string, sourceType model.SourceType, role model.ActorRole) string {
	return fmt.Sprintf("Source: %s\nSpeaker role: %s\n\n---\n%s\n---", sourceType, role, text)
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParseClassification decodes a model reply. Text around the first JSON
// object is ignored; out-of-range values are ErrMalformedResponse.
func ParseClassification(raw string) (Classification, error) {
	body := stripFences(raw)
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}

	var c Classification
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return Classification{}, eris.Wrapf(ErrMalformedResponse, "decode %q: %v", truncate(raw, 120), err)
	}
	if c.Score < 0 || c.Score > 10 {
		return Classification{}, eris.Wrapf(ErrMalformedResponse, "score %.2f outside 0-10", c.Score)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return Classification{}, eris.Wrapf(ErrMalformedResponse, "confidence %.2f outside 0-1", c.Confidence)
	}
	return c, nil
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
