package mockserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/the-dev-tools/restsync/pkg/idwrap"
	"github.com/the-dev-tools/restsync/pkg/model/mrecord"
	"github.com/the-dev-tools/restsync/pkg/patch"
)

type MemoryStore struct {
	mu        sync.RWMutex
	resources map[string]mrecord.Collection
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{resources: make(map[string]mrecord.Collection)}
}

func (m *MemoryStore) List(_ context.Context, resource string) (mrecord.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.resources[resource].Clone()
	if out == nil {
		out = mrecord.Collection{}
	}
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, resource string, id idwrap.IDWrap) (mrecord.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.resources[resource].Find(id)
	if !ok {
		return mrecord.Record{}, fmt.Errorf("%s/%s: %w", resource, id, ErrNotFound)
	}
	return rec, nil
}

func (m *MemoryStore) Insert(_ context.Context, resource string, rec mrecord.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resources[resource].Has(rec.ID) {
		return fmt.Errorf("%s/%s: %w", resource, rec.ID, ErrDuplicate)
	}
	m.resources[resource] = append(m.resources[resource], rec.Clone())
	return nil
}

func (m *MemoryStore) Replace(_ context.Context, resource string, rec mrecord.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.resources[resource]
	idx := list.Index(rec.ID)
	if idx < 0 {
		return fmt.Errorf("%s/%s: %w", resource, rec.ID, ErrNotFound)
	}
	list[idx] = rec.Clone()
	return nil
}

func (m *MemoryStore) Patch(_ context.Context, resource string, p patch.RecordPatch) (mrecord.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.resources[resource]
	idx := list.Index(p.ID)
	if idx < 0 {
		return mrecord.Record{}, fmt.Errorf("%s/%s: %w", resource, p.ID, ErrNotFound)
	}
	list[idx] = p.Apply(list[idx])
	return list[idx].Clone(), nil
}

func (m *MemoryStore) Delete(_ context.Context, resource string, ids []idwrap.IDWrap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.resources[resource]
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if !list.Has(id) {
			return fmt.Errorf("%s/%s: %w", resource, id, ErrNotFound)
		}
		drop[id.String()] = struct{}{}
	}
	kept := make(mrecord.Collection, 0, len(list))
	for _, rec := range list {
		if _, ok := drop[rec.ID.String()]; !ok {
			kept = append(kept, rec)
		}
	}
	m.resources[resource] = kept
	return nil
}

func (m *MemoryStore) Close() error { return nil }
