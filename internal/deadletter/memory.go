package deadletter

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps records in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64]Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64]Record), now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := s.now().UTC()
	rec.ID = s.nextID
	rec.Status = StatusFailed
	if rec.PayloadEncoding == "" {
		rec.PayloadEncoding = EncodingText
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = rec.CreatedAt
	if rec.UpdatedBy == "" {
		rec.UpdatedBy = rec.CreatedBy
	}
	s.records[rec.ID] = *rec
	return nil
}

func (s *MemoryStore) FindByIDRangeAndStatus(_ context.Context, startID, endID int64, status Status) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0)
	for _, r := range s.records {
		if r.ID >= startID && r.ID <= endID && r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) FindMessages(_ context.Context, q Query) (Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, before := q.createdFrom(), q.createdBefore()
	matched := make([]Record, 0)
	for _, r := range s.records {
		switch {
		case q.StartID != nil && r.ID < *q.StartID:
			continue
		case q.EndID != nil && r.ID > *q.EndID:
			continue
		case q.Topic != "" && r.Topic != q.Topic:
			continue
		case q.Status != "" && r.Status != q.Status:
			continue
		case from != nil && r.CreatedAt.Before(*from):
			continue
		case before != nil && !r.CreatedAt.Before(*before):
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := int64(len(matched))
	offset := q.Offset()
	if offset < 0 || offset >= len(matched) {
		return newPage(nil, total, q), nil
	}
	end := len(matched)
	if q.PageSize > 0 && q.PageSize < end-offset {
		end = offset + q.PageSize
	}
	return newPage(matched[offset:end], total, q), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id int64, status Status, updatedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	r.Status = status
	r.UpdatedAt = s.now().UTC()
	r.UpdatedBy = updatedBy
	s.records[id] = r
	return nil
}

// Get returns a record by id, for tests
func (s *MemoryStore) Get(id int64) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// All returns every record in id order, for tests
func (s *MemoryStore) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
