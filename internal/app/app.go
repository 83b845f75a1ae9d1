package app

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/xhad/webrag/pkg/config"
	"github.com/xhad/webrag/pkg/llm"
	"github.com/xhad/webrag/pkg/rag"
	"github.com/xhad/webrag/pkg/scraper"
	"github.com/xhad/webrag/pkg/store"
	"github.com/xhad/webrag/pkg/tokenizer"
)

// App holds the components built from one Config.
type App struct {
	Config    *config.Config
	Logger    *log.Logger
	Assembler *rag.Assembler
	Chat      *llm.ChatEngine
	close     func()
}

func NewLogger(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "webrag",
	})
	if lvl, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %v", errs[0])
	}
	if logger == nil {
		logger = NewLogger(cfg.LogLevel)
	}

	tok, err := tokenizer.New(cfg.RAG.Encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
	}

	fetcher, err := scraper.NewWithConfig(scraper.ScraperConfig{
		Timeout:          cfg.Fetcher.Timeout,
		RateLimit:        cfg.Fetcher.RateLimit,
		Burst:            cfg.RAG.Concurrency,
		UserAgent:        cfg.Fetcher.UserAgent,
		MaxContentTokens: cfg.Fetcher.MaxContentTokens,
		Extractor:        cfg.Fetcher.Extractor,
		Tokenizer:        tok,
		Logger:           logger.WithPrefix("fetch"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scraper: %w", err)
	}

	contentStore, closeStore, err := store.New(ctx, store.Config{
		Backend:       cfg.Store.Backend,
		DatabaseURL:   cfg.Store.DatabaseURL,
		TableName:     cfg.Store.TableName,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
		RedisPrefix:   cfg.Store.RedisPrefix,
		TTL:           cfg.Store.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize content store: %w", err)
	}

	assembler := rag.NewWithConfig(fetcher, contentStore, tok, rag.AssemblerConfig{
		ChunkSize:   cfg.RAG.ChunkSize,
		Concurrency: cfg.RAG.Concurrency,
		Timeout:     cfg.RAG.Timeout,
		Logger:      logger.WithPrefix("rag"),
	})

	chat, err := llm.NewWithConfig(llm.ChatConfig{
		Model:         cfg.LLM.Model,
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
		BaseURL:       cfg.LLM.BaseURL,
		ContextTokens: cfg.RAG.MaxTokens,
		MaxRetries:    cfg.LLM.MaxRetries,
		Logger:        logger.WithPrefix("chat"),
	}, assembler)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		Assembler: assembler,
		Chat:      chat,
		close:     closeStore,
	}, nil
}

func (a *App) Close() {
	if a.close != nil {
		a.close()
	}
}
