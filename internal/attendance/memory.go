package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type dayKey struct {
	personID string
	day      string
}

// MemoryRepository keeps records in process, keyed by (person, day).
type MemoryRepository struct {
	mu    sync.RWMutex
	byKey map[dayKey]*Record
	byID  map[string]*Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byKey: make(map[dayKey]*Record),
		byID:  make(map[string]*Record),
	}
}

func (m *MemoryRepository) Get(_ context.Context, personID, day string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byKey[dayKey{personID, day}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return clone(rec), nil
}

func (m *MemoryRepository) Insert(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := dayKey{rec.PersonID, rec.Day}
	if _, ok := m.byKey[k]; ok {
		return Record{}, ErrRaceLost
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now().UTC()
	stored := clone(&rec)
	m.byKey[k] = &stored
	m.byID[rec.ID] = &stored
	return clone(&stored), nil
}

func (m *MemoryRepository) CloseOut(_ context.Context, id string, at time.Time, by string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.CheckOut != nil {
		return Record{}, ErrRaceLost
	}
	out := at
	rec.CheckOut = &out
	rec.CheckedOutBy = by
	return clone(rec), nil
}

func (m *MemoryRepository) List(_ context.Context, f Filter) ([]Record, error) {
	m.mu.RLock()
	var out []Record
	for _, rec := range m.byID {
		if matches(rec, f) {
			out = append(out, clone(rec))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CheckIn.After(out[j].CheckIn) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(rec *Record, f Filter) bool {
	switch {
	case f.PersonID != "" && rec.PersonID != f.PersonID:
		return false
	case f.Day != "" && rec.Day != f.Day:
		return false
	case f.From != "" && rec.Day < f.From:
		return false
	case f.To != "" && rec.Day > f.To:
		return false
	case f.Role != "" && rec.PersonRole != f.Role:
		return false
	}
	return true
}

func clone(rec *Record) Record {
	c := *rec
	if rec.CheckOut != nil {
		out := *rec.CheckOut
		c.CheckOut = &out
	}
	return c
}
