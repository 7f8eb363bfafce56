// Package storage defines the object-store abstraction the mirror writes to.
// Backends live in sub-packages (s3, gcs, local, memory) so the sync logic is
// independent of a specific storage implementation.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/reconcile"
)

// Object is a whole-body write request.
type Object struct {
	Key         string
	ContentType string
	Metadata    map[string]string
	Data        []byte
}

// Store is the minimal object-storage surface needed to mirror a directory tree.
// Delete of an absent key and List of an absent prefix are not errors.
type Store interface {
	// List returns every key that starts with prefix, following pagination to the end.
	List(ctx context.Context, prefix string) ([]string, error)
	// Exists reports whether key is currently stored.
	Exists(ctx context.Context, key string) (bool, error)
	// Put writes obj, replacing any existing object with the same key.
	Put(ctx context.Context, obj Object) error
	// Delete removes key; deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error
	// Close releases backend clients.
	Close() error
}

// AccessError reports that the inventory of a prefix could not be read.
type AccessError struct {
	Prefix string
	Err    error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("list objects under %q: %v", e.Prefix, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// WriteError reports a rejected upload or delete of a single object.
type WriteError struct {
	Op  string
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s object %q: %v", e.Op, e.Key, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Write operations reported in WriteError.Op.
const (
	OpPut    = "put"
	OpDelete = "delete"
)

// CleanPrefix strips surrounding slashes so "", "/" and "/p/" normalise to "" or "p".
func CleanPrefix(prefix string) string {
	return strings.Trim(prefix, "/")
}

// ListPrefix is the listing prefix covering every key under prefix.
func ListPrefix(prefix string) string {
	p := CleanPrefix(prefix)
	if p == "" {
		return ""
	}
	return p + "/"
}

// SubdirPrefix is the listing prefix covering every key mirrored from subdir.
func SubdirPrefix(prefix, subdir string) string {
	return path.Join(CleanPrefix(prefix), strings.Trim(subdir, "/")) + "/"
}

// ObjectKey derives the stable key for a file: prefix/subdir/name.
func ObjectKey(prefix, subdir, name string) string {
	return path.Join(CleanPrefix(prefix), strings.Trim(subdir, "/"), name)
}

// Inventory reads the full key set under prefix.
func Inventory(ctx context.Context, store Store, prefix string) (reconcile.KeySet, error) {
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return nil, &AccessError{Prefix: prefix, Err: err}
	}
	return reconcile.NewKeySet(keys...), nil
}
