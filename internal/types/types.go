package types

import (
	"context"

	"github.com/xhad/webrag/internal/models"
)

// Core interfaces
type Fetcher interface {
	FetchContent(ctx context.Context, url string) (models.WebContent, error)
}

type ContentStore interface {
	Get(ctx context.Context, url string) (models.WebContent, bool, error)
	Put(ctx context.Context, content models.WebContent) error
	Clear(ctx context.Context) error
	GetAll(ctx context.Context) ([]models.WebContent, error)
}

// Tokenizer is only used for the length of what it returns.
type Tokenizer interface {
	Encode(text string) ([]int, error)
}

type ContextGenerator interface {
	GenerateContext(ctx context.Context, query string, urls []string, maxTokens int) (models.RAGContext, error)
}
