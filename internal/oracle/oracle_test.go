package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/sells-group/signal-pipeline/internal/config"
	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/resilience"
	"github.com/sells-group/signal-pipeline/pkg/anthropic"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(s string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: s}}}
}

func testGuard() *Guard {
	return NewGuard(0, time.Second,
		resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute},
		resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	)
}

func TestParseClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    Classification
		wantErr bool
	}{
		{name: "plain json", raw: `{"score": 7, "confidence": 0.9, "reason": "asks for SSO"}`, want: Classification{Score: 7, Confidence: 0.9, Reason: "asks for SSO"}},
		{name: "fenced", raw: "```json\n{\"score\": 6.0, \"confidence\": 0.5}\n```", want: Classification{Score: 6, Confidence: 0.5}},
		{name: "prose around object", raw: "Here you go: {\"score\": 2, \"confidence\": 1} thanks", want: Classification{Score: 2, Confidence: 1}},
		{name: "not json", raw: "I think this is a feature request", wantErr: true},
		{name: "score above range", raw: `{"score": 11, "confidence": 0.5}`, wantErr: true},
		{name: "negative confidence", raw: `{"score": 5, "confidence": -0.1}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClassification(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedResponse))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	// "é" is two bytes; cutting at 2 would split it.
	assert.Equal(t, "h...", truncate("héllo", 2))
}

func TestParseClassification_MalformedMultibyteReply(t *testing.T) {
	t.Parallel()

	_, err := ParseClassification("a" + strings.Repeat("é", 100))
	require.ErrorIs(t, err, ErrMalformedResponse)
	assert.True(t, utf8.ValidString(err.Error()))
	// %q escapes a split rune's stray lead byte.
	assert.NotContains(t, err.Error(), `\x`)
}

func TestAnthropicClassifier_Classify(t *testing.T) {
	t.Parallel()

	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" &&
			len(req.System) == 1 && req.System[0].CacheControl != nil &&
			len(req.Messages) == 1 &&
			assert.Contains(t, req.Messages[0].Content, "Speaker role: customer") &&
			assert.Contains(t, req.Messages[0].Content, "please add SSO")
	})).Return(textResponse(`{"score": 8.5, "confidence": 0.8}`), nil).Once()

	c := NewAnthropic(mc, "claude-haiku-4-5-20251001", testGuard())
	got, err := c.Classify(context.Background(), "please add SSO", model.SourceEmail, model.RoleCustomer)
	require.NoError(t, err)
	assert.InDelta(t, 8.5, got.Score, 0.0001)
	assert.InDelta(t, 0.8, got.Confidence, 0.0001)
	mc.AssertExpectations(t)
}

func TestAnthropicClassifier_RetriesTransient(t *testing.T) {
	t.Parallel()

	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("overloaded"), 529)).Once()
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"score": 3, "confidence": 0.7}`), nil).Once()

	c := NewAnthropic(mc, "m", testGuard())
	got, err := c.Classify(context.Background(), "text", model.SourceChat, model.RoleUnknown)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, got.Score, 0.0001)
	mc.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestAnthropicClassifier_MalformedIsNotRetried(t *testing.T) {
	t.Parallel()

	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("nope"), nil).Once()

	c := NewAnthropic(mc, "m", testGuard())
	_, err := c.Classify(context.Background(), "text", model.SourceChat, model.RoleUnknown)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedResponse))
	mc.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestAnthropicClassifier_CircuitOpens(t *testing.T) {
	t.Parallel()

	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("invalid request"))

	c := NewAnthropic(mc, "m", testGuard())
	for i := 0; i < 2; i++ {
		_, err := c.Classify(context.Background(), "text", model.SourceChat, model.RoleUnknown)
		require.Error(t, err)
	}
	_, err := c.Classify(context.Background(), "text", model.SourceChat, model.RoleUnknown)
	require.Error(t, err)
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.True(t, resilience.IsTransient(err))
	mc.AssertNumberOfCalls(t, "CreateMessage", 2)
}

type fakeLLM struct {
	reply string
	err   error
	calls int
	last  []llms.MessageContent
}

func (f *fakeLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	f.last = messages
	if f.err != nil {
		return nil, f.err
	}
	if f.reply == "" {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestChatClassifier_Classify(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{reply: "```\n{\"score\": 6, \"confidence\": 0.6}\n```"}
	c := NewChat(llm, testGuard())

	got, err := c.Classify(context.Background(), "export to csv please", model.SourceTranscript, model.RoleInternal)
	require.NoError(t, err)
	assert.Equal(t, Classification{Score: 6, Confidence: 0.6}, got)
	require.Len(t, llm.last, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, llm.last[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, llm.last[1].Role)
}

func TestChatClassifier_NoChoices(t *testing.T) {
	t.Parallel()

	c := NewChat(&fakeLLM{}, testGuard())
	_, err := c.Classify(context.Background(), "x", model.SourceOther, model.RoleUnknown)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedResponse))
}

func TestGuard_RateLimitHonoursContext(t *testing.T) {
	t.Parallel()

	g := NewGuard(0.001, 0, resilience.DefaultCircuitBreakerConfig(), resilience.RetryConfig{MaxAttempts: 1})
	ctx, cancel := context.WithCancel(context.Background())

	_, err := Run(ctx, g, func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)

	cancel()
	_, err = Run(ctx, g, func(context.Context) (int, error) { return 2, nil })
	require.Error(t, err)
}

func TestGuardFrom_UsesRegisteredBreaker(t *testing.T) {
	cfg := &config.Config{}
	breakers := resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())

	g := GuardFrom(cfg, 0, breakers, "oracle")
	assert.Same(t, breakers.Get("oracle"), g.breaker)
	assert.Equal(t, map[string]string{"oracle": "closed"}, breakers.States())

	private := GuardFrom(cfg, 0, nil, "oracle")
	assert.NotSame(t, breakers.Get("oracle"), private.breaker)
}

func TestNew_Providers(t *testing.T) {
	cfg := &config.Config{}
	cfg.Oracle.Provider = "anthropic"
	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key")

	cfg.Oracle.Provider = "bard"
	_, err = New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}
