package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/storage"
)

func TestObjectKeyIsDeterministic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix, subdir, name, want string
	}{
		{"p", "cu/", "a.txt", "p/cu/a.txt"},
		{"/p/", "/cu/", "a.txt", "p/cu/a.txt"},
		{"", "cu/", "a.txt", "cu/a.txt"},
		{"/", "ap", "ap.series.txt", "ap/ap.series.txt"},
		{"mirror/bls", "ce/", "ce.data.txt", "mirror/bls/ce/ce.data.txt"},
	}
	for _, tt := range tests {
		first := storage.ObjectKey(tt.prefix, tt.subdir, tt.name)
		second := storage.ObjectKey(tt.prefix, tt.subdir, tt.name)
		assert.Equal(t, tt.want, first)
		assert.Equal(t, first, second)
	}
}

func TestPrefixes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", storage.ListPrefix(""))
	assert.Equal(t, "", storage.ListPrefix("/"))
	assert.Equal(t, "p/", storage.ListPrefix("/p/"))
	assert.Equal(t, "p/cu/", storage.SubdirPrefix("p", "cu/"))
	assert.Equal(t, "cu/", storage.SubdirPrefix("", "/cu"))
}

func TestInventoryCollectsKeys(t *testing.T) {
	t.Parallel()

	store := &storage.MockStore{}
	store.On("List", mock.Anything, "p/").Return([]string{"p/cu/a.txt", "p/cu/old.txt"}, nil)

	inv, err := storage.Inventory(context.Background(), store, "p/")
	require.NoError(t, err)
	assert.Equal(t, 2, inv.Len())
	assert.True(t, inv.Has("p/cu/old.txt"))
	store.AssertExpectations(t)
}

func TestInventoryWrapsAccessError(t *testing.T) {
	t.Parallel()

	cause := errors.New("AccessDenied")
	store := &storage.MockStore{}
	store.On("List", mock.Anything, "p/").Return(nil, cause)

	_, err := storage.Inventory(context.Background(), store, "p/")
	require.Error(t, err)

	var accessErr *storage.AccessError
	require.True(t, errors.As(err, &accessErr))
	assert.Equal(t, "p/", accessErr.Prefix)
	assert.ErrorIs(t, err, cause)
}

func TestWriteErrorMessage(t *testing.T) {
	t.Parallel()

	err := &storage.WriteError{Op: storage.OpDelete, Key: "p/cu/a.txt", Err: errors.New("denied")}
	assert.Equal(t, `delete object "p/cu/a.txt": denied`, err.Error())
}
