package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kvImplementations(t *testing.T) map[string]KV {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]KV{
		"redis":  NewRedisKV(client),
		"memory": NewMemoryKV(),
	}
}

func TestKV_GetSetScan(t *testing.T) {
	for name, kv := range kvImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := kv.Get(ctx, "attendance:status:u1:2026-10-12")
			assert.ErrorIs(t, err, ErrMiss)

			require.NoError(t, kv.Set(ctx, "attendance:status:u1:2026-10-12", `{"a1":"Pending"}`, time.Minute))
			require.NoError(t, kv.Set(ctx, "attendance:status:u2:2026-10-12", `{}`, 0))
			require.NoError(t, kv.Set(ctx, "other:key", "x", 0))

			v, err := kv.Get(ctx, "attendance:status:u1:2026-10-12")
			require.NoError(t, err)
			assert.Equal(t, `{"a1":"Pending"}`, v)

			keys, err := kv.ScanKeys(ctx, "attendance:status:*")
			require.NoError(t, err)
			assert.Equal(t, []string{"attendance:status:u1:2026-10-12", "attendance:status:u2:2026-10-12"}, keys)
		})
	}
}

func TestMemoryKV_Expiry(t *testing.T) {
	kv := NewMemoryKV()
	now := time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "k", "v", time.Minute))
	now = now.Add(59 * time.Second)
	_, err := kv.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}
