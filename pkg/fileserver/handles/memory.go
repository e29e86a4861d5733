package handles

import (
	"context"
	"sync"

	"github.com/marmos91/dnfs/pkg/nfs3"
)

// MemoryTable keeps the mapping in process memory. Handles do not survive a
// restart.
type MemoryTable struct {
	mu     sync.RWMutex
	nextID uint64
	paths  map[uint64]string
	ids    map[string]uint64
}

// NewMemoryTable returns an empty table. Ids start at 1.
func NewMemoryTable() *MemoryTable {
	return &MemoryTable{
		paths: make(map[uint64]string),
		ids:   make(map[string]uint64),
	}
}

// Handle implements Table.
func (t *MemoryTable) Handle(ctx context.Context, p string) (nfs3.FileHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = Clean(p)

	t.mu.RLock()
	id, ok := t.ids[p]
	t.mu.RUnlock()
	if ok {
		return Encode(id), nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.ids[p]; ok {
		return Encode(id), nil
	}
	t.nextID++
	t.ids[p] = t.nextID
	t.paths[t.nextID] = p
	return Encode(t.nextID), nil
}

// Path implements Table.
func (t *MemoryTable) Path(ctx context.Context, h nfs3.FileHandle) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	id, err := Decode(h)
	if err != nil {
		return "", false, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.paths[id]
	return p, ok, nil
}

// Rename implements Table. Bindings under to are dropped first, then every
// binding under from is moved, keeping its id.
func (t *MemoryTable) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from, to = Clean(from), Clean(to)
	if from == to {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.forgetLocked(to)

	moved := make(map[string]uint64)
	for p, id := range t.ids {
		if within(p, from) {
			moved[rebase(p, from, to)] = id
			delete(t.ids, p)
		}
	}
	for p, id := range moved {
		t.ids[p] = id
		t.paths[id] = p
	}
	return nil
}

// Forget implements Table.
func (t *MemoryTable) Forget(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.forgetLocked(Clean(p))
	return nil
}

func (t *MemoryTable) forgetLocked(p string) {
	for q, id := range t.ids {
		if within(q, p) {
			delete(t.ids, q)
			delete(t.paths, id)
		}
	}
}

// Len returns the number of bound paths.
func (t *MemoryTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ids)
}

// Close implements Table and does nothing.
func (t *MemoryTable) Close() error { return nil }
