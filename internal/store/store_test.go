package store

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInMemoryStore_SetGet(t *testing.T) {
	s := NewInMemoryStore(10, zap.NewNop())
	defer s.Close()
	ctx := context.Background()

	_, err := s.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)

	body := []byte(`{"node":"manager","result":[]}`)
	require.NoError(t, s.Set(ctx, "k1", &StoredResponse{StatusCode: 200, ContentType: "application/json", Body: body}, time.Minute))

	// mutating the caller's buffer must not leak into the store
	body[2] = 'X'

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 200, got.StatusCode)
	assert.Equal(t, "application/json", got.ContentType)
	assert.Equal(t, `{"node":"manager","result":[]}`, string(got.Body))
}

func TestInMemoryStore_Expiry(t *testing.T) {
	s := NewInMemoryStore(10, zap.NewNop())
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", &StoredResponse{StatusCode: 200}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, err := s.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_Eviction(t *testing.T) {
	s := NewInMemoryStore(2, zap.NewNop())
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", &StoredResponse{StatusCode: 200}, time.Minute))
	require.NoError(t, s.Set(ctx, "long", &StoredResponse{StatusCode: 200}, time.Hour))
	require.NoError(t, s.Set(ctx, "new", &StoredResponse{StatusCode: 200}, time.Hour))

	assert.Equal(t, 2, s.Size())
	_, err := s.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "long")
	assert.NoError(t, err)
}

func TestInMemoryStore_CloseIsIdempotent(t *testing.T) {
	s := NewInMemoryStore(1, zap.NewNop())
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Ping(context.Background()))
}

func TestNewRedisIdempotencyStore_Unreachable(t *testing.T) {
	// nothing listens on port 1
	_, err := NewRedisIdempotencyStore("127.0.0.1", 1, "", 0, zap.NewNop())
	assert.Error(t, err)
}

func TestRedisIdempotencyStore_KeyPrefix(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	s := NewRedisIdempotencyStoreFromClient(client, zap.NewNop())
	defer s.Close()

	_, err := s.Get(context.Background(), "k1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
