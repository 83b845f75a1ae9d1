package processor

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xhad/webrag/internal/models"
)

const DefaultChunkSize = 1000

var (
	sentenceEnders = regexp.MustCompile(`[.!?]+`)
	nonWord        = regexp.MustCompile(`\W+`)
)

type ProcessorConfig struct {
	ChunkSize int
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}

	return Processor{
		config: config,
	}
}

// ScoreAll chunks every content and scores each chunk against query.
// Chunks keep the order of contents and, within one content, source order.
func (p *Processor) ScoreAll(query string, contents []models.WebContent) []models.ScoredChunk {
	var scored []models.ScoredChunk

	for _, content := range contents {
		for _, chunk := range Chunk(content.Content, p.config.ChunkSize) {
			scored = append(scored, models.ScoredChunk{
				Chunk: chunk,
				URL:   content.URL,
				Title: content.Title,
				Score: Score(query, chunk),
			})
		}
	}

	return scored
}

// Chunk groups the sentences of text into chunks of at most maxChunkLength
// characters. A sentence is never split, so a sentence longer than the limit
// becomes a chunk of its own.
func Chunk(text string, maxChunkLength int) []string {
	if maxChunkLength <= 0 {
		maxChunkLength = DefaultChunkSize
	}

	chunks := []string{}
	current := strings.Builder{}
	length := 0

	for _, sentence := range splitIntoSentences(text) {
		n := utf8.RuneCountInString(sentence)
		if length > 0 && length+1+n > maxChunkLength {
			chunks = append(chunks, current.String())
			current.Reset()
			length = 0
		}

		if length > 0 {
			current.WriteByte(' ')
			length++
		}
		current.WriteString(sentence)
		length += n
	}

	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	return chunks
}

func splitIntoSentences(text string) []string {
	var sentences []string
	for _, part := range sentenceEnders.Split(text, -1) {
		if s := strings.TrimSpace(part); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// Score is the share of chunk words (longer than two characters) that also
// appear in the query. A chunk without such words scores 0.
func Score(query, chunk string) float64 {
	queryWords := make(map[string]struct{})
	for _, word := range words(query) {
		queryWords[word] = struct{}{}
	}

	chunkWords := words(chunk)
	if len(chunkWords) == 0 {
		return 0
	}

	matches := 0
	for _, word := range chunkWords {
		if _, ok := queryWords[word]; ok {
			matches++
		}
	}

	return float64(matches) / float64(len(chunkWords))
}

func words(text string) []string {
	var out []string
	for _, word := range nonWord.Split(strings.ToLower(text), -1) {
		if len(word) > 2 {
			out = append(out, word)
		}
	}
	return out
}
