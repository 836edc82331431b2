package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupeStore_SeenBeforeMark(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	store := NewDedupeStore(client)
	ctx := context.Background()

	seen, err := store.Seen(ctx, "event:abc")
	require.NoError(t, err)
	assert.False(t, seen, "unmarked key should not be seen")
}

func TestDedupeStore_MarkThenSeen(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	store := NewDedupeStore(client)
	ctx := context.Background()

	require.NoError(t, store.Mark(ctx, "transfer:tr-1", 7*24*time.Hour))

	seen, err := store.Seen(ctx, "transfer:tr-1")
	require.NoError(t, err)
	assert.True(t, seen, "marked key should be seen")

	// Different key family stays independent
	seen, err = store.Seen(ctx, "event:tr-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestDedupeStore_Expiry(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	store := NewDedupeStore(client)
	ctx := context.Background()

	require.NoError(t, store.Mark(ctx, "event:expire", 1*time.Second))

	// Fast-forward past TTL
	s.FastForward(2 * time.Second)

	seen, err := store.Seen(ctx, "event:expire")
	require.NoError(t, err)
	assert.False(t, seen, "expired key should not be seen")
}
