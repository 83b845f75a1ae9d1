package rag_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/webrag/internal/models"
	"github.com/xhad/webrag/pkg/rag"
	"github.com/xhad/webrag/pkg/scraper"
	"github.com/xhad/webrag/pkg/store"
	"github.com/xhad/webrag/pkg/tokenizer"
)

type page struct {
	title   string
	content string
}

type mockFetcher struct {
	pages map[string]page
	calls atomic.Int32
}

func (m *mockFetcher) FetchContent(_ context.Context, url string) (models.WebContent, error) {
	m.calls.Add(1)
	p, ok := m.pages[url]
	if !ok {
		return models.WebContent{}, &scraper.FetchError{URL: url, StatusCode: 404}
	}
	return models.WebContent{
		URL:       url,
		Title:     p.title,
		Content:   p.content,
		Timestamp: time.Now(),
	}, nil
}

type failingTokenizer struct{}

func (failingTokenizer) Encode(string) ([]int, error) {
	return nil, errors.New("tokenizer exploded")
}

type brokenStore struct {
	*store.MemoryStore
}

func (brokenStore) Get(context.Context, string) (models.WebContent, bool, error) {
	return models.WebContent{}, false, errors.New("store unavailable")
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func newAssembler(f *mockFetcher) *rag.Assembler {
	return rag.NewWithConfig(f, store.NewMemoryStore(), tokenizer.Words{}, rag.AssemblerConfig{
		Logger: quietLogger(),
	})
}

func TestGenerateContext_Pizza(t *testing.T) {
	f := &mockFetcher{pages: map[string]page{
		"https://example.com/pizza": {
			title:   "Pizza Guide",
			content: "The best pizza recipe uses a hot oven. Cold dough never works well.",
		},
	}}
	a := newAssembler(f)

	result, err := a.GenerateContext(context.Background(), "best pizza recipe", []string{"https://example.com/pizza"}, 2000)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.com/pizza"}, result.Sources)
	assert.Contains(t, result.Context, "From Pizza Guide (https://example.com/pizza):\nThe best pizza recipe uses a hot oven")
}

func TestGenerateContext_EmptyURLs(t *testing.T) {
	f := &mockFetcher{}
	a := newAssembler(f)

	result, err := a.GenerateContext(context.Background(), "anything", nil, 0)
	require.NoError(t, err)

	assert.Equal(t, "", result.Context)
	assert.Equal(t, []string{}, result.Sources)
	assert.Zero(t, f.calls.Load())
}

func TestGenerateContext_AllFetchesFail(t *testing.T) {
	f := &mockFetcher{pages: map[string]page{}}
	a := newAssembler(f)

	result, err := a.GenerateContext(context.Background(), "pizza", []string{"https://a.example", "https://b.example"}, 0)
	require.NoError(t, err)

	assert.Equal(t, "", result.Context)
	assert.Equal(t, []string{}, result.Sources)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestGenerateContext_PartialFailure(t *testing.T) {
	f := &mockFetcher{pages: map[string]page{
		"https://ok.example": {title: "OK", content: "Pizza is here."},
	}}
	a := newAssembler(f)

	result, err := a.GenerateContext(context.Background(), "pizza", []string{"https://down.example", "https://ok.example"}, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://ok.example"}, result.Sources)
	assert.Equal(t, "From OK (https://ok.example):\nPizza is here", result.Context)
}

func TestGenerateContext_UsesCache(t *testing.T) {
	f := &mockFetcher{pages: map[string]page{
		"https://example.com/pizza": {title: "Pizza Guide", content: "Pizza dough."},
	}}
	a := newAssembler(f)
	urls := []string{"https://example.com/pizza"}

	first, err := a.GenerateContext(context.Background(), "pizza", urls, 0)
	require.NoError(t, err)
	second, err := a.GenerateContext(context.Background(), "pizza", urls, 0)
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, first, second)

	cached, err := a.CachedContent(context.Background())
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "Pizza Guide", cached[0].Title)

	require.NoError(t, a.ClearCache(context.Background()))
	_, err = a.GenerateContext(context.Background(), "pizza", urls, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestGenerateContext_DuplicateURLsFetchedOnce(t *testing.T) {
	f := &mockFetcher{pages: map[string]page{
		"https://example.com/pizza": {title: "Pizza Guide", content: "Pizza dough."},
	}}
	a := newAssembler(f)

	result, err := a.GenerateContext(context.Background(), "pizza",
		[]string{"https://example.com/pizza", "https://example.com/pizza"}, 0)
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, []string{"https://example.com/pizza"}, result.Sources)
	assert.Equal(t, 1, strings.Count(result.Context, "From Pizza Guide"))
}

// Segment sizes with the word tokenizer: header 3 words plus the chunk.
//
//	one   "alpha beta gamma"              score 1     6 tokens
//	two   "alpha beta delta epsilon"      score 0.5   7 tokens
//	three "alpha zeta eta theta iota kappa" score 1/6 9 tokens
func greedyPages() map[string]page {
	return map[string]page{
		"https://x/3": {title: "Three", content: "alpha zeta eta theta iota kappa"},
		"https://x/1": {title: "One", content: "alpha beta gamma"},
		"https://x/2": {title: "Two", content: "alpha beta delta epsilon"},
	}
}

func TestGenerateContext_GreedyWalk(t *testing.T) {
	urls := []string{"https://x/3", "https://x/1", "https://x/2"}

	tests := []struct {
		name        string
		maxTokens   int
		wantSources []string
		wantContext string
	}{
		{
			name:        "only best fits",
			maxTokens:   12,
			wantSources: []string{"https://x/1"},
			wantContext: "From One (https://x/1):\nalpha beta gamma",
		},
		{
			name:        "two best fit",
			maxTokens:   13,
			wantSources: []string{"https://x/1", "https://x/2"},
			wantContext: "From One (https://x/1):\nalpha beta gamma\n\nFrom Two (https://x/2):\nalpha beta delta epsilon",
		},
		{
			name:        "everything fits",
			maxTokens:   22,
			wantSources: []string{"https://x/1", "https://x/2", "https://x/3"},
			wantContext: "From One (https://x/1):\nalpha beta gamma\n\nFrom Two (https://x/2):\nalpha beta delta epsilon\n\nFrom Three (https://x/3):\nalpha zeta eta theta iota kappa",
		},
		{
			name:        "nothing fits",
			maxTokens:   5,
			wantSources: []string{},
			wantContext: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAssembler(&mockFetcher{pages: greedyPages()})

			result, err := a.GenerateContext(context.Background(), "alpha beta gamma", urls, tt.maxTokens)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSources, result.Sources)
			assert.Equal(t, tt.wantContext, result.Context)
		})
	}
}

func TestGenerateContext_StopsAtFirstOverflow(t *testing.T) {
	f := &mockFetcher{pages: map[string]page{
		"https://long.example":  {title: "Long", content: "alpha beta gamma delta epsilon zeta"},
		"https://short.example": {title: "Short", content: "alpha omega psi"},
	}}
	a := newAssembler(f)

	// long scores 0.5 with 9 tokens, short scores 1/3 with 6 tokens
	result, err := a.GenerateContext(context.Background(), "alpha beta gamma",
		[]string{"https://short.example", "https://long.example"}, 8)
	require.NoError(t, err)

	assert.Equal(t, "", result.Context)
	assert.Equal(t, []string{}, result.Sources)
}

func TestGenerateContext_BudgetAndSourcesInvariants(t *testing.T) {
	pages := map[string]page{}
	var urls []string
	for i := 0; i < 6; i++ {
		url := fmt.Sprintf("https://site%d.example/page", i)
		urls = append(urls, url)
		pages[url] = page{
			title:   fmt.Sprintf("Site %d", i),
			content: strings.Repeat(fmt.Sprintf("Pizza fact number %d is about ovens and dough. ", i), 20),
		}
	}
	f := &mockFetcher{pages: pages}

	for _, maxTokens := range []int{1, 10, 50, 120, 400, 2000} {
		t.Run(fmt.Sprint(maxTokens), func(t *testing.T) {
			a := rag.NewWithConfig(f, store.NewMemoryStore(), tokenizer.Words{}, rag.AssemblerConfig{
				ChunkSize: 120,
				Logger:    quietLogger(),
			})

			result, err := a.GenerateContext(context.Background(), "pizza ovens", urls, maxTokens)
			require.NoError(t, err)

			n, err := tokenizer.Count(tokenizer.Words{}, result.Context)
			require.NoError(t, err)
			assert.LessOrEqual(t, n, maxTokens)

			seen := map[string]bool{}
			for _, s := range result.Sources {
				assert.False(t, seen[s], "duplicate source %s", s)
				seen[s] = true
				assert.Contains(t, urls, s)
			}
		})
	}
}

// joinPenaltyTokenizer counts words, plus a fixed cost once a text holds more
// than one source header.
type joinPenaltyTokenizer struct{}

func (joinPenaltyTokenizer) Encode(text string) ([]int, error) {
	n := len(strings.Fields(text))
	if strings.Count(text, "From ") > 1 {
		n += 5
	}
	return make([]int, n), nil
}

func TestGenerateContext_NonAdditiveTokenizerStaysInBudget(t *testing.T) {
	f := &mockFetcher{pages: map[string]page{
		"https://a.example": {title: "A", content: "Pizza here."},
		"https://b.example": {title: "B", content: "Pizza there."},
	}}
	a := rag.NewWithConfig(f, store.NewMemoryStore(), joinPenaltyTokenizer{}, rag.AssemblerConfig{Logger: quietLogger()})

	result, err := a.GenerateContext(context.Background(), "pizza", []string{"https://a.example", "https://b.example"}, 12)
	require.NoError(t, err)

	assert.Equal(t, "From A (https://a.example):\nPizza here", result.Context)
	assert.Equal(t, []string{"https://a.example"}, result.Sources)
	n, err := tokenizer.Count(joinPenaltyTokenizer{}, result.Context)
	require.NoError(t, err)
	assert.LessOrEqual(t, n, 12)
}

func TestGenerateContext_TokenizerFailure(t *testing.T) {
	f := &mockFetcher{pages: map[string]page{
		"https://example.com": {title: "T", content: "Some text."},
	}}
	a := rag.NewWithConfig(f, store.NewMemoryStore(), failingTokenizer{}, rag.AssemblerConfig{Logger: quietLogger()})

	_, err := a.GenerateContext(context.Background(), "text", []string{"https://example.com"}, 0)
	require.Error(t, err)

	var genErr *rag.GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Contains(t, genErr.Error(), "tokenizer exploded")
}

func TestGenerateContext_FetcherTokenizerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><head><title>Pizza</title></head><body><p>Pizza text.</p></body></html>"))
	}))
	defer server.Close()

	fetcher, err := scraper.NewWithConfig(scraper.ScraperConfig{
		Tokenizer: failingTokenizer{},
		RateLimit: 100,
		Logger:    quietLogger(),
	})
	require.NoError(t, err)

	a := rag.NewWithConfig(fetcher, store.NewMemoryStore(), tokenizer.Words{}, rag.AssemblerConfig{Logger: quietLogger()})

	result, err := a.GenerateContext(context.Background(), "pizza", []string{server.URL}, 0)
	require.Error(t, err)

	var genErr *rag.GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Contains(t, genErr.Error(), "tokenizer exploded")
	assert.Equal(t, models.RAGContext{}, result)
}

func TestGenerateContext_FetchErrorIsSkippedButOtherErrorsAreNot(t *testing.T) {
	f := &erroringFetcher{errs: map[string]error{
		"https://down.example":   &scraper.FetchError{URL: "https://down.example", StatusCode: 500},
		"https://broken.example": errors.New("failed to parse page"),
	}}
	a := rag.NewWithConfig(f, store.NewMemoryStore(), tokenizer.Words{}, rag.AssemblerConfig{Logger: quietLogger()})

	result, err := a.GenerateContext(context.Background(), "pizza", []string{"https://down.example", "https://ok.example"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://ok.example"}, result.Sources)

	_, err = a.GenerateContext(context.Background(), "pizza", []string{"https://ok.example", "https://broken.example"}, 0)
	var genErr *rag.GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Contains(t, err.Error(), "failed to parse page")
}

type erroringFetcher struct {
	errs map[string]error
}

func (e *erroringFetcher) FetchContent(_ context.Context, url string) (models.WebContent, error) {
	if err, ok := e.errs[url]; ok {
		return models.WebContent{}, err
	}
	return models.WebContent{URL: url, Title: "OK", Content: "Pizza is here."}, nil
}

func TestGenerateContext_StoreErrorFallsBackToFetch(t *testing.T) {
	f := &mockFetcher{pages: map[string]page{
		"https://example.com": {title: "T", content: "Pizza text."},
	}}
	a := rag.NewWithConfig(f, brokenStore{store.NewMemoryStore()}, tokenizer.Words{}, rag.AssemblerConfig{Logger: quietLogger()})

	result, err := a.GenerateContext(context.Background(), "pizza", []string{"https://example.com"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com"}, result.Sources)
	assert.Equal(t, int32(1), f.calls.Load())
}

type blockingFetcher struct {
	started chan string
	release chan struct{}
}

func (b *blockingFetcher) FetchContent(ctx context.Context, url string) (models.WebContent, error) {
	b.started <- url
	select {
	case <-b.release:
		return models.WebContent{URL: url, Title: url, Content: "Shared pizza text."}, nil
	case <-ctx.Done():
		return models.WebContent{}, ctx.Err()
	}
}

func TestGenerateContext_FetchesConcurrently(t *testing.T) {
	b := &blockingFetcher{started: make(chan string, 3), release: make(chan struct{})}
	a := rag.NewWithConfig(b, store.NewMemoryStore(), tokenizer.Words{}, rag.AssemblerConfig{Logger: quietLogger()})
	urls := []string{"https://a.example", "https://b.example", "https://c.example"}

	var (
		wg     sync.WaitGroup
		result models.RAGContext
		err    error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		result, err = a.GenerateContext(context.Background(), "pizza", urls, 0)
	}()

	for i := 0; i < len(urls); i++ {
		select {
		case <-b.started:
		case <-time.After(2 * time.Second):
			close(b.release)
			t.Fatal("fetches were not issued concurrently")
		}
	}
	close(b.release)
	wg.Wait()

	require.NoError(t, err)
	assert.ElementsMatch(t, urls, result.Sources)
}

func TestGenerateContext_Timeout(t *testing.T) {
	b := &blockingFetcher{started: make(chan string, 1), release: make(chan struct{})}
	a := rag.NewWithConfig(b, store.NewMemoryStore(), tokenizer.Words{}, rag.AssemblerConfig{
		Timeout: 20 * time.Millisecond,
		Logger:  quietLogger(),
	})

	result, err := a.GenerateContext(context.Background(), "pizza", []string{"https://slow.example"}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.EmptyContext(), result)
}
