package audit

import (
	"context"
	"sync"

	"github.com/assentworks/assent/pkg/contracts"
)

// MemoryBackend holds entries in a slice, for dev mode and tests.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries []*contracts.AuditEntry
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make([]*contracts.AuditEntry, 0)}
}

func (b *MemoryBackend) Append(_ context.Context, entry *contracts.AuditEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	clone := *entry
	b.entries = append(b.entries, &clone)
	return nil
}

func (b *MemoryBackend) List(_ context.Context, filter Filter) ([]*contracts.AuditEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	results := make([]*contracts.AuditEntry, 0)
	for _, e := range b.entries {
		if filter.matches(e) {
			clone := *e
			results = append(results, &clone)
			if filter.MaxResults > 0 && len(results) >= filter.MaxResults {
				break
			}
		}
	}
	return results, nil
}

func (b *MemoryBackend) Last(_ context.Context) (*contracts.AuditEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.entries) == 0 {
		return nil, nil
	}
	clone := *b.entries[len(b.entries)-1]
	return &clone, nil
}
