// Package rag assembles retrieval context for a chat query from web pages.
//
// Pages are fetched concurrently through a Fetcher and cached in a
// ContentStore. Their text is chunked on sentence boundaries, each chunk is
// scored by keyword overlap with the query, and the best chunks are appended
// to the context until the token budget would be exceeded.
package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/xhad/webrag/internal/models"
	"github.com/xhad/webrag/internal/types"
	"github.com/xhad/webrag/pkg/processor"
	"github.com/xhad/webrag/pkg/scraper"
	"github.com/xhad/webrag/pkg/tokenizer"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxTokens   = 2000
	DefaultConcurrency = 8
)

// GenerationError is returned when context assembly fails for a reason other
// than unreachable pages.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("failed to generate context: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

type AssemblerConfig struct {
	ChunkSize   int
	Concurrency int
	// Timeout bounds the fetch phase of one call. Zero means no deadline.
	Timeout time.Duration
	Logger  *log.Logger
}

type Assembler struct {
	config    AssemblerConfig
	fetcher   types.Fetcher
	store     types.ContentStore
	tokenizer types.Tokenizer
	processor processor.Processor
	logger    *log.Logger
}

func NewWithConfig(fetcher types.Fetcher, store types.ContentStore, tok types.Tokenizer, config AssemblerConfig) *Assembler {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Assembler{
		config:    config,
		fetcher:   fetcher,
		store:     store,
		tokenizer: tok,
		processor: processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: config.ChunkSize}),
		logger:    logger,
	}
}

func New(fetcher types.Fetcher, store types.ContentStore, tok types.Tokenizer) *Assembler {
	return NewWithConfig(fetcher, store, tok, AssemblerConfig{})
}

func (a *Assembler) Store() types.ContentStore {
	return a.store
}

func (a *Assembler) ClearCache(ctx context.Context) error {
	return a.store.Clear(ctx)
}

func (a *Assembler) CachedContent(ctx context.Context) ([]models.WebContent, error) {
	return a.store.GetAll(ctx)
}

// GenerateContext builds the context for query from urls. Pages that cannot
// be fetched are skipped; if none are usable the result is empty, not an
// error. maxTokens <= 0 selects DefaultMaxTokens.
func (a *Assembler) GenerateContext(ctx context.Context, query string, urls []string, maxTokens int) (models.RAGContext, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	urls = dedupe(urls)
	if len(urls) == 0 {
		return models.EmptyContext(), nil
	}

	a.logger.Debug("generating context", "query", query, "urls", len(urls), "max_tokens", maxTokens)

	contents, err := a.collect(ctx, urls)
	if err != nil {
		a.logger.Error("context generation failed", "err", err)
		return models.RAGContext{}, &GenerationError{Err: err}
	}
	a.logger.Debug("collected content", "urls", len(urls), "usable", len(contents))
	if len(contents) == 0 {
		a.logger.Warn("no content could be retrieved", "urls", urls)
		return models.EmptyContext(), nil
	}

	scored := a.processor.ScoreAll(query, contents)
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	result, err := a.assemble(scored, maxTokens)
	if err != nil {
		a.logger.Error("context generation failed", "err", err)
		return models.RAGContext{}, &GenerationError{Err: err}
	}

	a.logger.Debug("context generated", "length", len(result.Context), "sources", len(result.Sources))
	return result, nil
}

// collect returns the content of every usable url, in input order. Pages
// that cannot be retrieved are skipped; any other failure aborts the call.
func (a *Assembler) collect(ctx context.Context, urls []string) ([]models.WebContent, error) {
	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	results := make([]*models.WebContent, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.Concurrency)
	for i, url := range urls {
		i, url := i, url
		g.Go(func() error {
			content, err := a.load(gctx, url)
			if err != nil {
				if skippable(err) {
					a.logger.Warn("skipping url", "url", url, "err", err)
					return nil
				}
				return err
			}
			results[i] = &content
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	contents := make([]models.WebContent, 0, len(urls))
	for _, content := range results {
		if content != nil {
			contents = append(contents, *content)
		}
	}
	return contents, nil
}

func (a *Assembler) load(ctx context.Context, url string) (models.WebContent, error) {
	content, ok, err := a.store.Get(ctx, url)
	if err != nil {
		a.logger.Warn("content store lookup failed", "url", url, "err", err)
	}
	if ok {
		a.logger.Debug("content cache hit", "url", url)
		return content, nil
	}

	content, err = a.fetcher.FetchContent(ctx, url)
	if err != nil {
		return models.WebContent{}, err
	}

	if err := a.store.Put(ctx, content); err != nil {
		a.logger.Warn("failed to cache content", "url", url, "err", err)
	}
	return content, nil
}

// skippable reports whether err means the page was unreachable rather than
// that processing it went wrong.
func skippable(err error) bool {
	var fetchErr *scraper.FetchError
	return errors.As(err, &fetchErr) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// assemble walks chunks best first and stops at the first one that does not
// fit. Segments are counted on their own as they are added; the joined
// context is then measured once and trailing segments are dropped until it
// fits, so the returned context never measures more than maxTokens even when
// the tokenizer is not additive across segment boundaries.
func (a *Assembler) assemble(scored []models.ScoredChunk, maxTokens int) (models.RAGContext, error) {
	var (
		segments []string
		urls     []string
		used     int
	)

	for _, sc := range scored {
		segment := fmt.Sprintf("\n\nFrom %s (%s):\n%s", sc.Title, sc.URL, sc.Chunk)

		n, err := tokenizer.Count(a.tokenizer, segment)
		if err != nil {
			return models.RAGContext{}, fmt.Errorf("tokenize chunk from %s: %w", sc.URL, err)
		}
		if used+n > maxTokens {
			break
		}

		segments = append(segments, segment)
		urls = append(urls, sc.URL)
		used += n
	}

	for len(segments) > 0 {
		n, err := tokenizer.Count(a.tokenizer, strings.TrimSpace(strings.Join(segments, "")))
		if err != nil {
			return models.RAGContext{}, fmt.Errorf("tokenize context: %w", err)
		}
		if n <= maxTokens {
			break
		}
		segments = segments[:len(segments)-1]
		urls = urls[:len(urls)-1]
	}

	sources := []string{}
	seen := make(map[string]bool)
	for _, url := range urls {
		if !seen[url] {
			seen[url] = true
			sources = append(sources, url)
		}
	}

	return models.RAGContext{
		Context: strings.TrimSpace(strings.Join(segments, "")),
		Sources: sources,
	}, nil
}

func dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, url := range urls {
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		out = append(out, url)
	}
	return out
}
