package oracle

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/sells-group/signal-pipeline/internal/model"
)

// ChatClassifier classifies with any OpenAI-compatible chat endpoint.
type ChatClassifier struct {
	llm   llms.Model
	guard *Guard
}

// NewOpenAI connects to an OpenAI-compatible endpoint. Local servers that
// need no key accept "none".
func NewOpenAI(baseURL, token, modelID string, guard *Guard) (*ChatClassifier, error) {
	if token == "" {
		token = "none"
	}
	llm, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(token),
		openai.WithModel(modelID),
	)
	if err != nil {
		return nil, eris.Wrap(err, "oracle: create openai client")
	}
	return NewChat(llm, guard), nil
}

// NewChat wraps an existing model.
func NewChat(llm llms.Model, guard *Guard) *ChatClassifier {
	return &ChatClassifier{llm: llm, guard: guard}
}

// Classify implements Classifier.
func (c *ChatClassifier) Classify(ctx context.Context, text string, sourceType model.SourceType, role model.ActorRole) (Classification, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt(text, sourceType, role)),
	}

	resp, err := Run(ctx, c.guard, func(ctx context.Context) (*llms.ContentResponse, error) {
		return c.llm.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode(), llms.WithMaxTokens(256))
	})
	if err != nil {
		return Classification{}, eris.Wrap(err, "oracle: chat classify")
	}
	if len(resp.Choices) == 0 {
		return Classification{}, eris.Wrap(ErrMalformedResponse, "no choices returned")
	}
	return ParseClassification(resp.Choices[0].Content)
}
