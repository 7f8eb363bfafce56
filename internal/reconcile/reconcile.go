// Package reconcile computes the uploads and deletions that make a stored key
// set match a desired one. It performs no I/O.
package reconcile

import (
	"sort"
	"strings"
)

// KeySet is an unordered set of object keys.
type KeySet map[string]struct{}

// NewKeySet builds a set from keys; duplicates collapse.
func NewKeySet(keys ...string) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Add inserts key.
func (s KeySet) Add(key string) {
	s[key] = struct{}{}
}

// Has reports membership.
func (s KeySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Len is the set size.
func (s KeySet) Len() int {
	return len(s)
}

// Sorted returns the keys in lexical order.
func (s KeySet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Upload pairs a missing key with the item that will populate it.
type Upload[T any] struct {
	Key  string
	Item T
}

// Plan is the reconciled diff. Uploads and Deletes are disjoint and sorted by key.
type Plan[T any] struct {
	Uploads []Upload[T]
	Deletes []string
	// Skipped lists keys present on both sides, sorted.
	Skipped []string
	// Retained lists stale keys kept back by Protect.
	Retained []string
}

// Diff returns ToUpload = desired − inventory and ToDelete = inventory − desired.
func Diff[T any](inventory KeySet, desired map[string]T) Plan[T] {
	var plan Plan[T]

	keys := make([]string, 0, len(desired))
	for k := range desired {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if inventory.Has(k) {
			plan.Skipped = append(plan.Skipped, k)
			continue
		}
		plan.Uploads = append(plan.Uploads, Upload[T]{Key: k, Item: desired[k]})
	}

	for _, k := range inventory.Sorted() {
		if _, ok := desired[k]; !ok {
			plan.Deletes = append(plan.Deletes, k)
		}
	}
	return plan
}

// Protect moves deletions under any of prefixes into Retained.
func (p Plan[T]) Protect(prefixes ...string) Plan[T] {
	if len(prefixes) == 0 || len(p.Deletes) == 0 {
		return p
	}
	out := p
	out.Deletes = nil
	out.Retained = append([]string(nil), p.Retained...)
	for _, k := range p.Deletes {
		if hasAnyPrefix(k, prefixes) {
			out.Retained = append(out.Retained, k)
			continue
		}
		out.Deletes = append(out.Deletes, k)
	}
	return out
}

// Apply returns inventory with the plan's deletions removed and uploads added.
func (p Plan[T]) Apply(inventory KeySet) KeySet {
	out := make(KeySet, len(inventory)+len(p.Uploads))
	for k := range inventory {
		out[k] = struct{}{}
	}
	for _, k := range p.Deletes {
		delete(out, k)
	}
	for _, u := range p.Uploads {
		out[u.Key] = struct{}{}
	}
	return out
}

func hasAnyPrefix(key string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}
