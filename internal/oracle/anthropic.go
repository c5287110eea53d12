package oracle

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/pkg/anthropic"
)

// AnthropicClassifier classifies with a Claude model.
type AnthropicClassifier struct {
	client anthropic.Client
	model  string
	guard  *Guard
}

// NewAnthropic returns a Claude-backed Classifier.
func NewAnthropic(client anthropic.Client, modelID string, guard *Guard) *AnthropicClassifier {
	return &AnthropicClassifier{client: client, model: modelID, guard: guard}
}

// Classify implements Classifier.
func (a *AnthropicClassifier) Classify(ctx context.Context, text string, sourceType model.SourceType, role model.ActorRole) (Classification, error) {
	temp := 0.0
	req := anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   256,
		System:      anthropic.BuildCachedSystemBlocks(systemPrompt, "5m"),
		Messages:    []anthropic.Message{{Role: "user", Content: userPrompt(text, sourceType, role)}},
		Temperature: &temp,
	}

	resp, err := Run(ctx, a.guard, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return a.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return Classification{}, eris.Wrap(err, "oracle: anthropic classify")
	}
	resp.Usage.LogCost(a.model, "classify")
	return ParseClassification(resp.Text())
}
