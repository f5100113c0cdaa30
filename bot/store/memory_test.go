package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetMissing(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), 42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryUpsertCreatesWithDefaults(t *testing.T) {
	m := NewMemory()
	cfg, err := m.Upsert(context.Background(), -100500, func(c *GroupConfig) error {
		c.NetworkID = "bsc"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-100500), cfg.GroupID)
	assert.True(t, cfg.NotificationsEnabled, "new configs start with notifications on")
	assert.False(t, cfg.CreatedAt.IsZero())
	assert.Equal(t, cfg.CreatedAt, cfg.UpdatedAt)
}

func TestMemoryUpsertMutatorErrorAbortsWrite(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Upsert(ctx, 1, func(c *GroupConfig) error {
		c.NetworkID = "eth"
		return nil
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = m.Upsert(ctx, 1, func(c *GroupConfig) error {
		c.NetworkID = "changed"
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := m.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "eth", got.NetworkID, "failed mutator must not change stored state")
}

func TestMemoryUpsertSerializesConcurrentMutators(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	const n = 32

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Upsert(ctx, 7, func(c *GroupConfig) error {
				c.Admins = append(c.Admins, int64(len(c.Admins)))
				return nil
			})
		}()
	}
	wg.Wait()

	got, err := m.Get(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, got.Admins, n, "every read-modify-write must observe the previous one")
}

func TestMemoryListWithToken(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	token := &TokenRef{Address: "0xabc", Symbol: "TKN", Decimals: 18, UpdatedAt: time.Now()}
	_, err := m.Upsert(ctx, 1, func(c *GroupConfig) error {
		c.NetworkID = "bsc"
		c.Token = token
		return nil
	})
	require.NoError(t, err)

	// configured but muted
	_, err = m.Upsert(ctx, 2, func(c *GroupConfig) error {
		c.NetworkID = "bsc"
		c.Token = token
		c.NotificationsEnabled = false
		return nil
	})
	require.NoError(t, err)

	// never finished setup
	_, err = m.Upsert(ctx, 3, func(c *GroupConfig) error {
		c.NetworkID = "eth"
		return nil
	})
	require.NoError(t, err)

	list, err := m.ListWithToken(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(1), list[0].GroupID)
}

func TestCloneIsolation(t *testing.T) {
	orig := GroupConfig{
		GroupID: 9,
		Admins:  []int64{1, 2},
		Token:   &TokenRef{Address: "0xabc"},
	}
	cp := orig.Clone()
	cp.Admins[0] = 99
	cp.Token.Address = "0xdef"

	assert.Equal(t, int64(1), orig.Admins[0])
	assert.Equal(t, "0xabc", orig.Token.Address)
}
