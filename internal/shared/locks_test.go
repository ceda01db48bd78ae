package shared

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSortKeysDeduplicates(t *testing.T) {
	got := SortKeys([]string{StockKey(2, 1), AccountKey(7), StockKey(1, 1), AccountKey(7)})
	require.Equal(t, []string{"account:7", "stock:1:1", "stock:2:1"}, got)
}

func TestKeyLockerSerialisesSameKey(t *testing.T) {
	locker := NewKeyLocker()
	ctx := context.Background()
	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.LockAll(ctx, []string{StockKey(1, 1), AccountKey(3)})
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
	require.Empty(t, locker.slots)
}

func TestKeyLockerTimeoutIsConcurrencyConflict(t *testing.T) {
	locker := NewKeyLocker()
	release, err := locker.Lock(context.Background(), "stock:1:1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "stock:1:1")
	require.ErrorIs(t, err, ErrConcurrencyConflict)
	var conflict *ConcurrencyConflictError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, "stock:1:1", conflict.Key)
}

func TestHeldKeysReentrant(t *testing.T) {
	locker := NewKeyLocker()
	held := NewHeldKeys(locker)
	ctx := context.Background()
	require.NoError(t, held.LockKeys(ctx, "stock:1:1", "account:1"))
	require.NoError(t, held.LockKeys(ctx, "stock:1:1"))
	held.ReleaseAll()

	release, err := locker.Lock(ctx, "stock:1:1")
	require.NoError(t, err)
	release()
}
