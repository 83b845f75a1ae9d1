package store

import (
	"context"
	"sync"

	"github.com/xhad/webrag/internal/models"
)

// MemoryStore keeps fetched pages for the lifetime of the process.
// Writes are last-write-wins and nothing expires.
type MemoryStore struct {
	mu       sync.RWMutex
	contents map[string]models.WebContent
	order    []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contents: make(map[string]models.WebContent),
	}
}

func (ms *MemoryStore) Get(_ context.Context, url string) (models.WebContent, bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	content, ok := ms.contents[url]
	return content, ok, nil
}

func (ms *MemoryStore) Put(_ context.Context, content models.WebContent) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.contents[content.URL]; !ok {
		ms.order = append(ms.order, content.URL)
	}
	ms.contents[content.URL] = content
	return nil
}

func (ms *MemoryStore) Clear(_ context.Context) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.contents = make(map[string]models.WebContent)
	ms.order = nil
	return nil
}

// GetAll returns every stored page in first-insertion order.
func (ms *MemoryStore) GetAll(_ context.Context) ([]models.WebContent, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	all := make([]models.WebContent, 0, len(ms.order))
	for _, url := range ms.order {
		all = append(all, ms.contents[url])
	}
	return all, nil
}

func (ms *MemoryStore) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.contents)
}
