package config

import (
	"fmt"
	"net/url"

	"github.com/charmbracelet/log"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	if c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "Ollama base URL is required",
		})
	} else if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid Ollama base URL",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 4096",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.LLM.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_retries",
			Message: "max_retries cannot be negative",
		})
	}

	// Validate Fetcher config
	if c.Fetcher.Timeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "fetcher.timeout",
			Message: "timeout cannot be negative",
		})
	}

	if c.Fetcher.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "fetcher.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	if c.Fetcher.MaxContentTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "fetcher.max_content_tokens",
			Message: "max_content_tokens must be positive",
		})
	}

	if c.Fetcher.Extractor != "dom" && c.Fetcher.Extractor != "readability" {
		errors = append(errors, ValidationError{
			Field:   "fetcher.extractor",
			Message: fmt.Sprintf("unknown extractor: %s", c.Fetcher.Extractor),
		})
	}

	// Validate RAG config
	if c.RAG.MaxTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "rag.max_tokens",
			Message: "max_tokens must be positive",
		})
	}

	if c.RAG.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "rag.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.RAG.Concurrency < 1 {
		errors = append(errors, ValidationError{
			Field:   "rag.concurrency",
			Message: "concurrency must be positive",
		})
	}

	// Validate Store config
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errors = append(errors, ValidationError{
				Field:   "store.database_url",
				Message: "database URL is required for the postgres backend",
			})
		} else if _, err := url.Parse(c.Store.DatabaseURL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "store.database_url",
				Message: "invalid database URL",
			})
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			errors = append(errors, ValidationError{
				Field:   "store.redis_addr",
				Message: "redis address is required for the redis backend",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "store.backend",
			Message: fmt.Sprintf("unknown backend: %s", c.Store.Backend),
		})
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("invalid log level: %s", c.LogLevel),
		})
	}

	return errors
}
