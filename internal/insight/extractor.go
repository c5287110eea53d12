// Package insight performs Tier-2 extraction: turning a relevant record into
// a fixed-schema feature request description.
package insight

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/oracle"
	"github.com/sells-group/signal-pipeline/pkg/anthropic"
)

// Input is what the extractor sees of one record.
type Input struct {
	Text       string
	SourceType model.SourceType
	ActorRole  model.ActorRole
	Title      string
}

// Extractor turns text into insights. Transport failures are returned as
// errors; an unusable reply is an Err result.
type Extractor interface {
	Extract(ctx context.Context, in Input) (model.InsightsResult, error)
}

const systemPrompt = `You extract product feature requests from customer conversations.
Return only a JSON object with exactly these fields:
{
  "feature_title": "short imperative title, max 8 words",
  "summary": "one or two sentences describing the request",
  "requested_capability": "what the product should be able to do",
  "pain_points": ["problems the requester describes"],
  "product_area": "area of the product, e.g. reporting, integrations, billing, auth",
  "urgency": "low | medium | high"
}
Use the requester's own terms. Never invent details that are not in the text.`

// AnthropicExtractor extracts insights with a Claude model.
type AnthropicExtractor struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	guard     *oracle.Guard
}

// NewAnthropic returns a Claude-backed Extractor. Calls share the oracle's
// rate limiting and circuit breaking.
func NewAnthropic(client anthropic.Client, modelID string, guard *oracle.Guard) *AnthropicExtractor {
	return &AnthropicExtractor{client: client, model: modelID, maxTokens: 1024, guard: guard}
}

// Extract implements Extractor.
func (e *AnthropicExtractor) Extract(ctx context.Context, in Input) (model.InsightsResult, error) {
	req := anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt, "5m"),
		Messages:  []anthropic.Message{{Role: "user", Content: renderInput(in)}},
	}

	resp, err := oracle.Run(ctx, e.guard, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return model.InsightsResult{}, eris.Wrap(err, "insight: extract")
	}
	resp.Usage.LogCost(e.model, "extract")

	if resp.StopReason == "max_tokens" {
		return model.InsightsErr("extractor reply truncated at max tokens"), nil
	}
	return model.InsightsFromJSON([]byte(jsonObject(resp.Text()))), nil
}

func renderInput(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s\nSpeaker role: %s\n", in.SourceType, in.ActorRole)
	if in.Title != "" {
		fmt.Fprintf(&b, "Subject: %s\n", in.Title)
	}
	b.WriteString("\n---\n")
	b.WriteString(in.Text)
	b.WriteString("\n---")
	return b.String()
}

// jsonObject trims code fences and surrounding prose from a reply.
func jsonObject(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		return s[start : end+1]
	}
	return strings.TrimSpace(s)
}
