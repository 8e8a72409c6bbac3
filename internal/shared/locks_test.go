package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLocalLockerIsExclusive(t *testing.T) {
	locker := NewLocalLocker(20 * time.Millisecond)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, ExportLockKey)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, ExportLockKey)
	require.ErrorIs(t, err, ErrStorageBusy)

	other, err := locker.Acquire(ctx, "another")
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := locker.Acquire(ctx, ExportLockKey)
	require.NoError(t, err)
	again()
}

func TestLocalLockerHonoursContext(t *testing.T) {
	locker := NewLocalLocker(time.Minute)
	release, err := locker.Acquire(context.Background(), ExportLockKey)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locker.Acquire(ctx, ExportLockKey)
	require.ErrorIs(t, err, ErrStorageBusy)
}

func TestRedisLocker(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewRedisLocker(client, time.Minute, 120*time.Millisecond)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, ExportLockKey)
	require.NoError(t, err)
	require.True(t, mr.Exists(ExportLockKey))

	_, err = locker.Acquire(ctx, ExportLockKey)
	require.ErrorIs(t, err, ErrStorageBusy)

	release()
	require.False(t, mr.Exists(ExportLockKey))

	release, err = locker.Acquire(ctx, ExportLockKey)
	require.NoError(t, err)
	defer release()
}

func TestRedisLockerReleaseKeepsForeignToken(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewRedisLocker(client, time.Second, 100*time.Millisecond)

	release, err := locker.Acquire(context.Background(), ExportLockKey)
	require.NoError(t, err)

	// The lock expired and another process took it.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set(ExportLockKey, "someone-else"))

	release()
	got, err := mr.Get(ExportLockKey)
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}
