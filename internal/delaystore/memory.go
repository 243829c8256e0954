package delaystore

import (
	"context"
	"sort"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store for tests and single-node runs
type MemoryStore struct {
	mu      sync.Mutex
	members map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{members: make(map[string]int64)}
}

func (s *MemoryStore) Add(_ context.Context, member string, score int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[member] = score
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, maxScore int64, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]string, 0)
	for _, m := range s.sortedLocked() {
		if s.members[m] > maxScore {
			break
		}
		due = append(due, m)
		if len(due) == limit {
			break
		}
	}
	for _, m := range due {
		delete(s.members, m)
	}
	return due, nil
}

func (s *MemoryStore) Range(_ context.Context, offset, limit int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := s.sortedLocked()
	if offset < 0 || offset >= int64(len(sorted)) || limit <= 0 {
		return nil, nil
	}
	end := offset + limit
	if end > int64(len(sorted)) {
		end = int64(len(sorted))
	}
	return append([]string(nil), sorted[offset:end]...), nil
}

func (s *MemoryStore) Remove(_ context.Context, members ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for _, m := range members {
		if _, ok := s.members[m]; ok {
			delete(s.members, m)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = make(map[string]int64)
	return nil
}

func (s *MemoryStore) Len(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.members)), nil
}

// Score returns the score of member, for tests
func (s *MemoryStore) Score(member string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	score, ok := s.members[member]
	return score, ok
}

// Members returns every member in score order, for tests
func (s *MemoryStore) Members() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

// sortedLocked orders by score then member, matching Redis sorted set order.
func (s *MemoryStore) sortedLocked() []string {
	out := make([]string, 0, len(s.members))
	for m := range s.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := s.members[out[i]], s.members[out[j]]
		if si != sj {
			return si < sj
		}
		return out[i] < out[j]
	})
	return out
}
