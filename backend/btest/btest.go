// Package btest exercises a Backend implementation against the
// capability contract. Backend packages call Run from their own
// tests.
package btest

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poolfs/poolfs/lib/random"
	"github.com/poolfs/poolfs/store"
)

// Run exercises b against the Backend contract. The backend must be
// empty; the test leaves it empty again.
func Run(t *testing.T, b store.Backend) {
	ctx := context.Background()
	key := "btest/" + random.String(8)
	data := random.Bytes(4096)

	t.Run("MissingObject", func(t *testing.T) {
		exists, err := b.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists)

		_, err = b.Load(ctx, key)
		require.Error(t, err)
		assert.True(t, store.IsNotFound(err), "Load of a missing key must return ErrObjectNotFound, got %v", err)

		// deleting a missing key is not an error
		assert.NoError(t, b.Delete(ctx, key))
	})

	t.Run("RoundTrip", func(t *testing.T) {
		require.NoError(t, b.Save(ctx, key, bytes.NewReader(data)))

		exists, err := b.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, exists)

		in, err := b.Load(ctx, key)
		require.NoError(t, err)
		got, err := store.ReadAll(in)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("Overwrite", func(t *testing.T) {
		replacement := random.Bytes(100)
		require.NoError(t, b.Save(ctx, key, bytes.NewReader(replacement)))

		in, err := b.Load(ctx, key)
		require.NoError(t, err)
		got, err := store.ReadAll(in)
		require.NoError(t, err)
		assert.Equal(t, replacement, got)
	})

	t.Run("EmptyObject", func(t *testing.T) {
		emptyKey := key + ".empty"
		require.NoError(t, b.Save(ctx, emptyKey, bytes.NewReader(nil)))

		exists, err := b.Exists(ctx, emptyKey)
		require.NoError(t, err)
		assert.True(t, exists)

		in, err := b.Load(ctx, emptyKey)
		require.NoError(t, err)
		got, err := store.ReadAll(in)
		require.NoError(t, err)
		assert.Len(t, got, 0)

		require.NoError(t, b.Delete(ctx, emptyKey))
	})

	t.Run("ChunkKeys", func(t *testing.T) {
		// backends must accept the derived key shapes unchanged
		for _, derived := range []string{
			store.ChunkKey(key, 0),
			store.ParityKey(key, 3),
			store.ParityPKey(key, 3),
			store.ParityQKey(key, 3),
		} {
			require.NoError(t, b.Save(ctx, derived, bytes.NewReader(data[:16])))
			exists, err := b.Exists(ctx, derived)
			require.NoError(t, err)
			assert.True(t, exists, derived)
			require.NoError(t, b.Delete(ctx, derived))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, b.Delete(ctx, key))

		exists, err := b.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists)

		_, err = b.Load(ctx, key)
		assert.True(t, store.IsNotFound(err))
	})
}
