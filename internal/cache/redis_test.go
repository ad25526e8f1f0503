package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/go_cart/order-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis server and returns a RedisCache instance
func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	return NewRedisCache(client, 15*time.Minute, nil), mr
}

func TestGet_Success(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()
	userID := "user123"

	cart := &domain.Cart{
		UserID: userID,
		Items: []domain.CartItem{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 3},
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	cartJSON, _ := json.Marshal(cart)
	require.NoError(t, mr.Set(cacheKey(userID), string(cartJSON)))

	result, err := cache.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, userID, result.UserID)
	assert.Len(t, result.Items, 2)
	assert.Equal(t, domain.ProductID("p1"), result.Items[0].ProductID)
}

func TestGet_CacheMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	result, err := cache.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, result)
}

func TestGet_MissesDoNotTripBreaker(t *testing.T) {
	cache, _ := setupTestRedis(t)

	for i := 0; i < 10; i++ {
		_, err := cache.Get(context.Background(), "nonexistent")
		require.ErrorIs(t, err, ErrCacheMiss)
	}
	assert.Equal(t, "closed", cache.breaker.State())
}

func TestGet_InvalidJSON(t *testing.T) {
	cache, mr := setupTestRedis(t)
	require.NoError(t, mr.Set(cacheKey("user123"), `{"user_id":`))

	_, err := cache.Get(context.Background(), "user123")
	require.ErrorContains(t, err, "unmarshal cart failed")
}

func TestGet_ServerDownOpensBreaker(t *testing.T) {
	cache, mr := setupTestRedis(t)
	mr.Close()

	for i := 0; i < 5; i++ {
		_, err := cache.Get(context.Background(), "user")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCacheMiss)
	}
	assert.Equal(t, "open", cache.breaker.State())
}

func TestSet_WithTTL(t *testing.T) {
	cache, mr := setupTestRedis(t)
	userID := "user789"

	cart := &domain.Cart{
		UserID: userID,
		Items:  []domain.CartItem{{ProductID: "p10", Quantity: 5}},
	}
	require.NoError(t, cache.Set(context.Background(), userID, cart))

	stored, err := mr.Get(cacheKey(userID))
	require.NoError(t, err)
	var storedCart domain.Cart
	require.NoError(t, json.Unmarshal([]byte(stored), &storedCart))
	assert.Equal(t, userID, storedCart.UserID)
	assert.Len(t, storedCart.Items, 1)

	ttl := mr.TTL(cacheKey(userID))
	assert.True(t, ttl >= 15*time.Minute, "TTL should be at least base TTL")
	assert.True(t, ttl < 20*time.Minute, "TTL should be base + max jitter")
}

func TestDelete(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, mr.Set(cacheKey("user999"), `{}`))

	require.NoError(t, cache.Delete(ctx, "user999"))
	assert.False(t, mr.Exists(cacheKey("user999")))

	// deleting a missing key is not an error
	assert.NoError(t, cache.Delete(ctx, "nonexistent"))
}

func TestNoop(t *testing.T) {
	var c CartCache = Noop{}
	_, err := c.Get(context.Background(), "u")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.NoError(t, c.Set(context.Background(), "u", &domain.Cart{}))
	assert.NoError(t, c.Delete(context.Background(), "u"))
}

func TestCacheKey_Format(t *testing.T) {
	assert.Equal(t, "cart:test123", cacheKey("test123"))
}
