package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type leaderboard struct {
	Solved int `json:"solved"`
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "leaderboard", leaderboard{Solved: 3}, time.Minute))

	var got leaderboard
	found, err := m.Get(ctx, "leaderboard", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, got.Solved)

	now = now.Add(2 * time.Minute)
	found, err = m.Get(ctx, "leaderboard", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemory_DeleteAndSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "a", 1, time.Minute))
	require.NoError(t, m.Set(ctx, "b", 2, time.Hour))
	require.NoError(t, m.Delete(ctx, "a"))

	var v int
	found, _ := m.Get(ctx, "a", &v)
	assert.False(t, found)

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, m.Sweep())
}
