package models

import "time"

// WebContent is one fetched page after extraction.
type WebContent struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ScoredChunk is a piece of a WebContent with its relevance to a query.
// It only lives for the duration of one context assembly.
type ScoredChunk struct {
	Chunk string
	URL   string
	Title string
	Score float64
}

type RAGContext struct {
	Context string   `json:"context"`
	Sources []string `json:"sources"`
}

// EmptyContext is returned when there is nothing to retrieve.
func EmptyContext() RAGContext {
	return RAGContext{Context: "", Sources: []string{}}
}
