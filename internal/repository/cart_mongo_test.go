package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/fjod/go_cart/order-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupMongoCartRepo(t *testing.T) CartRepository {
	if testing.Short() {
		t.Skip("skipping MongoDB container test in short mode")
	}
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	repo := NewMongoCartRepository(db)
	require.NoError(t, EnsureMongoIndexes(ctx, repo))
	return repo
}

func TestMongoCart_Lifecycle(t *testing.T) {
	repo := setupMongoCartRepo(t)
	ctx := context.Background()

	_, err := repo.GetCart(ctx, "u1")
	assert.ErrorIs(t, err, ErrCartNotFound)

	require.NoError(t, repo.AddItem(ctx, "u1", domain.CartItem{ProductID: "p1", Quantity: 2}))
	require.NoError(t, repo.AddItem(ctx, "u1", domain.CartItem{ProductID: "p1", Quantity: 3}))
	require.NoError(t, repo.AddItem(ctx, "u1", domain.CartItem{ProductID: "p2", Quantity: 1}))

	cart, err := repo.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, cart.ID)
	require.Len(t, cart.Items, 2)
	assert.Equal(t, domain.ProductID("p1"), cart.Items[0].ProductID)
	assert.Equal(t, 5, cart.Items[0].Quantity)

	require.NoError(t, repo.UpdateItemQuantity(ctx, "u1", "p2", 9))
	assert.ErrorIs(t, repo.UpdateItemQuantity(ctx, "u1", "p3", 1), ErrItemNotFound)

	require.NoError(t, repo.RemoveItem(ctx, "u1", "p1"))
	assert.ErrorIs(t, repo.RemoveItem(ctx, "u1", "p1"), ErrItemNotFound)

	cart, err = repo.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 9, cart.Items[0].Quantity)

	require.NoError(t, repo.DeleteCart(ctx, "u1"))
	assert.ErrorIs(t, repo.DeleteCart(ctx, "u1"), ErrCartNotFound)
}

func TestMongoCart_ConcurrentAddsMerge(t *testing.T) {
	repo := setupMongoCartRepo(t)
	ctx := context.Background()

	const writers = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.AddItem(ctx, "racer", domain.CartItem{ProductID: "p1", Quantity: 1})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	cart, err := repo.GetCart(ctx, "racer")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, writers, cart.Items[0].Quantity)
}
