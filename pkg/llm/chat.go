package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
	"github.com/xhad/webrag/internal/types"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model           string
	Temperature     float64
	MaxTokens       int
	SystemTemplate  string
	ContextTemplate string // must contain one %s for the retrieved context
	BaseURL         string // Ollama server URL
	ContextTokens   int    // budget handed to the context generator
	MaxRetries      int
	RetryDelay      time.Duration
	Logger          *log.Logger
}

// Reply is a model answer plus the pages its context came from.
type Reply struct {
	Content string
	Sources []string
}

// ChatEngine answers queries with an LLM, optionally grounded on web pages.
type ChatEngine struct {
	config    ChatConfig
	llm       llms.Model
	generator types.ContextGenerator
	logger    *log.Logger
}

func applyDefaults(config ChatConfig) (ChatConfig, error) {
	if config.Model == "" {
		config.Model = "mistral" // Default Ollama model
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return config, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return config, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You are a helpful assistant. When web context is provided, base your answer on it."
	}
	if config.ContextTemplate == "" {
		config.ContextTemplate = "Context from provided web sources:\n%s"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = time.Second
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	return config, nil
}

// NewWithConfig creates a ChatEngine backed by Ollama. generator may be nil,
// in which case URLs passed to Chat are ignored.
func NewWithConfig(config ChatConfig, generator types.ContextGenerator) (*ChatEngine, error) {
	config, err := applyDefaults(config)
	if err != nil {
		return nil, err
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return newEngine(config, llm, generator), nil
}

// NewWithModel creates a ChatEngine over an existing langchaingo model.
func NewWithModel(config ChatConfig, model llms.Model, generator types.ContextGenerator) (*ChatEngine, error) {
	config, err := applyDefaults(config)
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, errors.New("model is required")
	}
	return newEngine(config, model, generator), nil
}

func newEngine(config ChatConfig, model llms.Model, generator types.ContextGenerator) *ChatEngine {
	return &ChatEngine{
		config:    config,
		llm:       model,
		generator: generator,
		logger:    config.Logger,
	}
}

// Chat answers query. Context from urls is best effort: if it cannot be
// built the query is sent on its own.
func (ce *ChatEngine) Chat(ctx context.Context, query string, urls []string) (*Reply, error) {
	webContext, sources := ce.retrieve(ctx, query, urls)

	content := ce.messages(query, webContext)

	response, err := ce.generate(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("chat error: %w", err)
	}

	if len(response.Choices) == 0 || response.Choices[0] == nil {
		return nil, errors.New("chat error: no response from LLM")
	}

	return &Reply{
		Content: response.Choices[0].Content,
		Sources: sources,
	}, nil
}

func (ce *ChatEngine) retrieve(ctx context.Context, query string, urls []string) (string, []string) {
	if ce.generator == nil || len(urls) == 0 {
		return "", []string{}
	}

	rc, err := ce.generator.GenerateContext(ctx, query, urls, ce.config.ContextTokens)
	if err != nil {
		ce.logger.Warn("continuing without web context", "err", err)
		return "", []string{}
	}
	return rc.Context, rc.Sources
}

func (ce *ChatEngine) messages(query, webContext string) []llms.MessageContent {
	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, ce.config.SystemTemplate),
	}
	if webContext != "" {
		content = append(content,
			llms.TextParts(schema.ChatMessageTypeHuman, fmt.Sprintf(ce.config.ContextTemplate, webContext)))
	}
	return append(content, llms.TextParts(schema.ChatMessageTypeHuman, query))
}

// generate calls the model, retrying failed calls up to MaxRetries times.
func (ce *ChatEngine) generate(ctx context.Context, content []llms.MessageContent) (*llms.ContentResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= ce.config.MaxRetries; attempt++ {
		if attempt > 0 {
			ce.logger.Debug("retrying LLM call", "attempt", attempt, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(ce.config.RetryDelay):
			}
		}

		response, err := ce.llm.GenerateContent(ctx, content,
			llms.WithTemperature(ce.config.Temperature),
			llms.WithMaxTokens(ce.config.MaxTokens))
		if err == nil {
			return response, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// FormatSources renders sources for citation under a reply.
func FormatSources(sources []string) string {
	if len(sources) == 0 {
		return ""
	}

	return fmt.Sprintf("\nSources:\n%s", strings.Join(sources, "\n"))
}
