package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/log"
	readability "github.com/go-shiori/go-readability"
	"github.com/xhad/webrag/internal/models"
	"github.com/xhad/webrag/internal/types"
	"github.com/xhad/webrag/pkg/tokenizer"
	"golang.org/x/time/rate"
)

const (
	ExtractorDOM         = "dom"
	ExtractorReadability = "readability"

	DefaultMaxContentTokens = 4000
	DefaultBurst            = 8
	untitled                = "Untitled"
)

// removedSelectors are stripped before any text is read.
const removedSelectors = "script, style, noscript, iframe, img, svg, video, audio"

type ScraperConfig struct {
	Timeout          time.Duration
	RateLimit        float64 // requests per second
	Burst            int     // requests allowed at once before pacing applies
	UserAgent        string
	MaxContentTokens int
	Extractor        string
	Tokenizer        types.Tokenizer
	Client           *http.Client
	Logger           *log.Logger
}

// FetchError reports a URL that could not be retrieved.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *log.Logger
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10
	}
	if config.Burst <= 0 {
		config.Burst = DefaultBurst
	}
	if config.MaxContentTokens == 0 {
		config.MaxContentTokens = DefaultMaxContentTokens
	}
	if config.Extractor == "" {
		config.Extractor = ExtractorDOM
	}
	if config.Extractor != ExtractorDOM && config.Extractor != ExtractorReadability {
		return nil, fmt.Errorf("unknown extractor %q", config.Extractor)
	}
	if config.Tokenizer == nil {
		return nil, fmt.Errorf("scraper requires a tokenizer")
	}

	client := config.Client
	if client == nil {
		client = &http.Client{
			Timeout: config.Timeout,
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Scraper{
		config:  config,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
		logger:  logger,
	}, nil
}

// New returns a DOM scraper with default limits.
func New(tok types.Tokenizer) *Scraper {
	s, _ := NewWithConfig(ScraperConfig{
		Tokenizer: tok,
	})
	return s
}

// FetchContent downloads urlStr and extracts its title and readable text.
func (s *Scraper) FetchContent(ctx context.Context, urlStr string) (models.WebContent, error) {
	s.logger.Debug("fetching", "url", urlStr)

	if err := s.limiter.Wait(ctx); err != nil {
		return models.WebContent{}, &FetchError{URL: urlStr, Err: err}
	}

	html, err := s.get(ctx, urlStr)
	if err != nil {
		s.logger.Debug("fetch failed", "url", urlStr, "err", err)
		return models.WebContent{}, err
	}

	title, content, err := s.extract(urlStr, html)
	if err != nil {
		return models.WebContent{}, err
	}

	content, err = s.truncate(urlStr, content)
	if err != nil {
		return models.WebContent{}, err
	}

	s.logger.Debug("fetched", "url", urlStr, "title", title, "length", len(content))

	return models.WebContent{
		URL:       urlStr,
		Title:     title,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (s *Scraper) get(ctx context.Context, urlStr string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, &FetchError{URL: urlStr, Err: err}
	}
	if s.config.UserAgent != "" {
		req.Header.Set("User-Agent", s.config.UserAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: urlStr, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: urlStr, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: urlStr, Err: err}
	}
	return body, nil
}

func (s *Scraper) extract(urlStr string, html []byte) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse %s: %w", urlStr, err)
	}
	removeNonContent(doc)
	title := extractTitle(doc)

	if s.config.Extractor == ExtractorReadability {
		if t, text, ok := s.extractArticle(urlStr, doc); ok {
			if t != "" {
				title = t
			}
			return title, text, nil
		}
	}

	return title, extractBody(doc), nil
}

// extractArticle runs readability over the cleaned document. ok is false when
// no article text was found and the dom text should be used instead.
func (s *Scraper) extractArticle(urlStr string, doc *goquery.Document) (string, string, bool) {
	pageURL, err := url.Parse(urlStr)
	if err != nil {
		return "", "", false
	}

	cleaned, err := doc.Html()
	if err != nil {
		return "", "", false
	}

	article, err := readability.FromReader(strings.NewReader(cleaned), pageURL)
	if err != nil {
		s.logger.Debug("readability failed, using dom text", "url", urlStr, "err", err)
		return "", "", false
	}

	text := cleanContent(article.TextContent)
	if text == "" {
		return "", "", false
	}
	return strings.TrimSpace(article.Title), text, true
}

// truncate measures tokens but cuts characters. The result can still exceed
// the token limit; it only bounds the stored text.
func (s *Scraper) truncate(urlStr, content string) (string, error) {
	n, err := tokenizer.Count(s.config.Tokenizer, content)
	if err != nil {
		return "", fmt.Errorf("failed to tokenize %s: %w", urlStr, err)
	}
	if n <= s.config.MaxContentTokens {
		return content, nil
	}

	runes := []rune(content)
	if len(runes) > s.config.MaxContentTokens {
		runes = runes[:s.config.MaxContentTokens]
	}
	s.logger.Debug("content truncated", "url", urlStr, "tokens", n, "length", len(runes))
	return string(runes), nil
}

func removeNonContent(doc *goquery.Document) {
	doc.Find(removedSelectors).Remove()
	doc.Find("[style]").FilterFunction(func(_ int, sel *goquery.Selection) bool {
		style, _ := sel.Attr("style")
		return isHidden(style)
	}).Remove()
}

func isHidden(style string) bool {
	compact := strings.ToLower(strings.Join(strings.Fields(style), ""))
	return strings.Contains(compact, "display:none")
}

func extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return untitled
}

func extractBody(doc *goquery.Document) string {
	body := doc.Find("body")
	if body.Length() == 0 {
		return cleanContent(doc.Text())
	}
	return cleanContent(body.Text())
}

func cleanContent(content string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(content), " "))
}
