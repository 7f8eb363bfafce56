package storage

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of the Store interface for testing.
type MockStore struct {
	mock.Mock
}

// List is the mock implementation of the List method.
func (m *MockStore) List(ctx context.Context, prefix string) ([]string, error) {
	args := m.Called(ctx, prefix)
	keys, _ := args.Get(0).([]string)
	return keys, args.Error(1) //nolint:wrapcheck
}

// Exists is the mock implementation of the Exists method.
func (m *MockStore) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1) //nolint:wrapcheck
}

// Put is the mock implementation of the Put method.
func (m *MockStore) Put(ctx context.Context, obj Object) error {
	args := m.Called(ctx, obj)
	return args.Error(0) //nolint:wrapcheck
}

// Delete is the mock implementation of the Delete method.
func (m *MockStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0) //nolint:wrapcheck
}

// Close is the mock implementation of the Close method.
func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0) //nolint:wrapcheck
}
