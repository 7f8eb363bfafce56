package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/storage"
)

func TestStorePutCopiesData(t *testing.T) {
	t.Parallel()

	store := NewStore()
	payload := []byte("content")
	meta := map[string]string{"sha256": "abc"}
	require.NoError(t, store.Put(context.Background(), storage.Object{Key: "p/cu/a.txt", Data: payload, Metadata: meta}))

	payload[0] = 'C'
	meta["sha256"] = "mutated"

	obj, ok := store.Get("p/cu/a.txt")
	require.True(t, ok)
	assert.Equal(t, "content", string(obj.Data))
	assert.Equal(t, "abc", obj.Metadata["sha256"])
}

func TestStoreListExistsDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	for _, k := range []string{"p/cu/b.txt", "p/cu/a.txt", "q/other.txt"} {
		require.NoError(t, store.Put(ctx, storage.Object{Key: k}))
	}

	keys, err := store.List(ctx, "p/")
	require.NoError(t, err)
	assert.Equal(t, []string{"p/cu/a.txt", "p/cu/b.txt"}, keys)

	ok, err := store.Exists(ctx, "q/other.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, "q/other.txt"))
	require.NoError(t, store.Delete(ctx, "q/other.txt"), "deleting an absent key succeeds")

	ok, err = store.Exists(ctx, "q/other.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}
