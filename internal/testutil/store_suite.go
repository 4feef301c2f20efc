package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signflow/internal/storage"
)

// RunOrderStoreSuite checks the OrderStore contract against a backend.
// newStore must return an empty store.
func RunOrderStoreSuite(t *testing.T, newStore func(t *testing.T) storage.OrderStore) {
	ctx := context.Background()

	t.Run("get missing order", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "missing")
		require.Error(t, err)
		assert.True(t, storage.IsNotFound(err))
	})

	t.Run("update creates and merges", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.UpdateFields(ctx, "order-1", map[string]string{"a": "1", "b": "2"}))
		require.NoError(t, s.UpdateFields(ctx, "order-1", map[string]string{"b": "3", "c": ""}))

		order, err := s.Get(ctx, "order-1")
		require.NoError(t, err)
		assert.Equal(t, "order-1", order.Ref)
		assert.Equal(t, "1", order.Field("a"))
		assert.Equal(t, "3", order.Field("b"))
		assert.Equal(t, "", order.Field("c"))
	})

	t.Run("get by field", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.UpdateFields(ctx, "order-1", map[string]string{"session": "s-1"}))
		require.NoError(t, s.UpdateFields(ctx, "order-2", map[string]string{"session": "s-2"}))

		order, err := s.GetByField(ctx, "session", "s-2")
		require.NoError(t, err)
		assert.Equal(t, "order-2", order.Ref)

		_, err = s.GetByField(ctx, "session", "s-3")
		assert.True(t, storage.IsNotFound(err))
	})

	t.Run("returned order is a snapshot", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.UpdateFields(ctx, "order-1", map[string]string{"a": "1"}))

		order, err := s.Get(ctx, "order-1")
		require.NoError(t, err)
		order.Fields["a"] = "changed"

		again, err := s.Get(ctx, "order-1")
		require.NoError(t, err)
		assert.Equal(t, "1", again.Field("a"))
	})

	t.Run("concurrent updates to different orders", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ref := fmt.Sprintf("order-%d", i)
				assert.NoError(t, s.UpdateFields(ctx, ref, map[string]string{"n": fmt.Sprint(i)}))
			}(i)
		}
		wg.Wait()

		for i := 0; i < 10; i++ {
			order, err := s.Get(ctx, fmt.Sprintf("order-%d", i))
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprint(i), order.Field("n"))
		}
	})

	t.Run("health", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Health(ctx))
	})
}
