package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store is an in-process Sink. Each module has its own slice; a single
// mutex serializes writes so entries from concurrent sessions never
// interleave inside one module.
type Store struct {
	mu      sync.RWMutex
	modules map[string][]Entry
	now     func() time.Time
}

var _ Sink = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		modules: make(map[string][]Entry),
		now:     time.Now,
	}
}

func (s *Store) AddToModule(ctx context.Context, module, role, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	module = strings.TrimSpace(module)
	if module == "" {
		return fmt.Errorf("memory: module name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[module] = append(s.modules[module], Entry{
		Module:    module,
		Role:      role,
		Text:      text,
		CreatedAt: s.now().UTC(),
	})
	return nil
}

// Entries returns a copy of the entries recorded for module, oldest first.
func (s *Store) Entries(module string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.modules[module]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Modules lists the module names that have at least one entry.
func (s *Store) Modules() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.modules))
	for name := range s.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PruneBefore drops entries created before cutoff.
func (s *Store) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for name, entries := range s.modules {
		kept := entries[:0]
		for _, e := range entries {
			if e.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(s.modules, name)
			continue
		}
		s.modules[name] = kept
	}
	return removed, nil
}
