package masterdata

import (
	"context"
	"sync"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// MemoryDirectory is an in-process Directory used with the embedded store.
type MemoryDirectory struct {
	mu        sync.RWMutex
	items     map[int64]Item
	locations map[int64]Location
}

// NewMemoryDirectory constructs an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{items: make(map[int64]Item), locations: make(map[int64]Location)}
}

var _ Directory = (*MemoryDirectory)(nil)

// PutItem inserts or replaces an item.
func (d *MemoryDirectory) PutItem(item Item) {
	if item.Tracking == "" {
		item.Tracking = TrackingNone
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items[item.ID] = item
}

// PutLocation inserts or replaces a location.
func (d *MemoryDirectory) PutLocation(loc Location) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locations[loc.ID] = loc
}

// GetItem implements Directory.
func (d *MemoryDirectory) GetItem(_ context.Context, id int64) (Item, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	it, ok := d.items[id]
	if !ok {
		return Item{}, shared.NotFound("item", id)
	}
	return it, nil
}

// GetLocation implements Directory.
func (d *MemoryDirectory) GetLocation(_ context.Context, id int64) (Location, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	loc, ok := d.locations[id]
	if !ok {
		return Location{}, shared.NotFound("location", id)
	}
	return loc, nil
}
