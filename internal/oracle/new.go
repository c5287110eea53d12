package oracle

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-pipeline/internal/config"
	"github.com/sells-group/signal-pipeline/internal/resilience"
	"github.com/sells-group/signal-pipeline/pkg/anthropic"
)

// New builds the configured Classifier. Its circuit breaker is registered
// in breakers as "oracle".
func New(cfg *config.Config, breakers *resilience.ServiceBreakers) (Classifier, error) {
	switch cfg.Oracle.Provider {
	case "anthropic", "":
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("oracle: anthropic.key is required")
		}
		client := anthropic.NewClient(cfg.Anthropic.Key, "")
		return NewAnthropic(client, cfg.Anthropic.HaikuModel, GuardFrom(cfg, cfg.Anthropic.RequestsPerSecond, breakers, "oracle")), nil
	case "openai":
		return NewOpenAI(cfg.OpenAI.BaseURL, cfg.OpenAI.Key, cfg.OpenAI.Model, GuardFrom(cfg, 0, breakers, "oracle"))
	default:
		return nil, eris.Errorf("oracle: unknown provider %q", cfg.Oracle.Provider)
	}
}
