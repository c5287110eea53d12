package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the fields required by the given mode plus the
// mode-independent bounds. Modes: "pipeline", "worker", "serve", "roadmap".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "pipeline":
		errs = append(errs, c.requireStore()...)
		errs = append(errs, c.requireOracle()...)
	case "worker":
		errs = append(errs, c.requireStore()...)
		errs = append(errs, c.requireOracle()...)
		switch c.Worker.Transport {
		case "memory":
		case "temporal":
			if c.Temporal.HostPort == "" {
				errs = append(errs, "temporal.host_port is required")
			}
			if c.Temporal.TaskQueue == "" {
				errs = append(errs, "temporal.task_queue is required")
			}
		default:
			errs = append(errs, "worker.transport must be memory or temporal")
		}
		if c.Worker.Concurrency < 1 {
			errs = append(errs, "worker.concurrency must be >= 1")
		}
	case "serve":
		errs = append(errs, c.requireStore()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "roadmap":
		errs = append(errs, c.requireStore()...)
		if c.Notion.Token == "" {
			errs = append(errs, "notion.token is required")
		}
		if c.Notion.RoadmapDB == "" {
			errs = append(errs, "notion.roadmap_db is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	errs = append(errs, c.checkBounds()...)

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) requireStore() []string {
	switch c.Store.Driver {
	case "sqlite":
		return nil
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required"}
		}
		return nil
	default:
		return []string{"store.driver must be sqlite or postgres"}
	}
}

func (c *Config) requireOracle() []string {
	switch c.Oracle.Provider {
	case "anthropic":
		if c.Anthropic.Key == "" {
			return []string{"anthropic.key is required"}
		}
	case "openai":
		if c.OpenAI.Key == "" {
			return []string{"openai.key is required"}
		}
	default:
		return []string{"oracle.provider must be anthropic or openai"}
	}
	return nil
}

func (c *Config) checkBounds() []string {
	var errs []string
	p := c.Pipeline
	if p.BatchSize < 1 || p.BatchSize > 500 {
		errs = append(errs, "pipeline.batch_size must be between 1 and 500")
	}
	if p.MaxRetries < 1 {
		errs = append(errs, "pipeline.max_retries must be >= 1")
	}
	if p.LockTimeoutMins < 1 {
		errs = append(errs, "pipeline.lock_timeout_mins must be >= 1")
	}
	if p.ClassifyThreshold < 0 || p.ClassifyThreshold > 10 {
		errs = append(errs, "pipeline.classify_threshold must be between 0 and 10")
	}
	ml := p.MinLength
	if ml.Email < 0 || ml.Chat < 0 || ml.Transcript < 0 || ml.Other < 0 {
		errs = append(errs, "pipeline.min_length values must be >= 0")
	}

	ch := c.Chunker
	if !(ch.MinTokens > 0 && ch.MinTokens <= ch.TargetTokens && ch.TargetTokens <= ch.MaxTokens) {
		errs = append(errs, "chunker must satisfy 0 < min_tokens <= target_tokens <= max_tokens")
	}
	if ch.ChatMinMessages < 1 || ch.ChatMinMessages > ch.ChatMaxMessages {
		errs = append(errs, "chunker.chat_min_messages must be between 1 and chat_max_messages")
	}
	if ch.TranscriptMinSecs < 1 || ch.TranscriptMinSecs > ch.TranscriptMaxSecs {
		errs = append(errs, "chunker.transcript_min_secs must be between 1 and transcript_max_secs")
	}

	if c.Scorer.BaseScore < 0 || c.Scorer.BaseScore > 1 {
		errs = append(errs, "scorer.base_score must be between 0 and 1")
	}
	if c.Scorer.SkipThreshold < 0 || c.Scorer.SkipThreshold > 1 {
		errs = append(errs, "scorer.skip_threshold must be between 0 and 1")
	}
	return errs
}
