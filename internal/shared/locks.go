package shared

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// StockKey builds the lock key guarding a (item, location) stock balance.
func StockKey(itemID, locationID int64) string {
	return fmt.Sprintf("stock:%d:%d", itemID, locationID)
}

// AccountKey builds the lock key guarding an account balance.
func AccountKey(accountID int64) string {
	return fmt.Sprintf("account:%d", accountID)
}

// TxLocker acquires exclusive keys for the lifetime of a unit of work.
// Locking a key already held by the same unit of work is a no-op.
type TxLocker interface {
	LockKeys(ctx context.Context, keys ...string) error
}

// SortKeys returns the distinct keys in the global acquisition order.
func SortKeys(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}

// KeyLocker hands out per-key exclusive locks inside one process.
type KeyLocker struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

type keySlot struct {
	ch   chan struct{}
	refs int
}

// NewKeyLocker constructs an empty locker.
func NewKeyLocker() *KeyLocker {
	return &KeyLocker{slots: make(map[string]*keySlot)}
}

func (l *KeyLocker) slot(key string) *keySlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &keySlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *KeyLocker) unref(key string, s *keySlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// Lock blocks until key is free or ctx is done. Callers holding several keys
// must acquire them in SortKeys order.
func (l *KeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	s := l.slot(key)
	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.unref(key, s)
			})
		}, nil
	case <-ctx.Done():
		l.unref(key, s)
		return nil, &ConcurrencyConflictError{Key: key, Err: ctx.Err()}
	}
}

// LockAll acquires every key in sorted order and returns a release func that
// frees them in reverse order. On failure nothing stays held.
func (l *KeyLocker) LockAll(ctx context.Context, keys []string) (func(), error) {
	ordered := SortKeys(keys)
	releases := make([]func(), 0, len(ordered))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, key := range ordered {
		release, err := l.Lock(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

// HeldKeys tracks keys owned by a single unit of work so repeated LockKeys
// calls stay reentrant.
type HeldKeys struct {
	locker *KeyLocker
	held   map[string]func()
}

// NewHeldKeys binds a set of held keys to a locker.
func NewHeldKeys(locker *KeyLocker) *HeldKeys {
	return &HeldKeys{locker: locker, held: make(map[string]func())}
}

// LockKeys implements TxLocker.
func (h *HeldKeys) LockKeys(ctx context.Context, keys ...string) error {
	for _, key := range SortKeys(keys) {
		if _, ok := h.held[key]; ok {
			continue
		}
		release, err := h.locker.Lock(ctx, key)
		if err != nil {
			return err
		}
		h.held[key] = release
	}
	return nil
}

// ReleaseAll frees every held key.
func (h *HeldKeys) ReleaseAll() {
	for key, release := range h.held {
		release()
		delete(h.held, key)
	}
}

// DocumentKey builds the lock key guarding a document's lifecycle transition.
func DocumentKey(documentID string) string {
	return "document:" + documentID
}
