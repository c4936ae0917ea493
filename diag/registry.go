// Package diag provides introspection support: a concurrent registry for
// publishing live terminators and in-flight DNS lookups to monitoring
// goroutines, append-based JSON encoding of flow descriptors and TCP/UDP
// terminator state, and a small command parser for debug requests.
package diag

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// Registry publishes values keyed by K for read access from goroutines
// other than the one that owns them — the one piece of flowterm state that
// legitimately crosses goroutines, such as a metrics puller walking live
// TCP/UDP terminators or in-flight DNS lookups. It is a thin wrapper around
// xsync.MapOf: every other owner-loop-confined structure in this module
// (the flow map, terminator buffers) stays single-threaded by design.
type Registry[K comparable, V any] struct {
	m *xsync.MapOf[K, V]
}

// NewRegistry returns an empty Registry.
func NewRegistry[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{m: xsync.NewMapOf[K, V]()}
}

// Publish makes value visible under key to concurrent readers.
func (r *Registry[K, V]) Publish(key K, value V) {
	r.m.Store(key, value)
}

// Lookup returns the value published under key, if any.
func (r *Registry[K, V]) Lookup(key K) (V, bool) {
	return r.m.Load(key)
}

// Remove withdraws key, if present. Safe to call from the owner loop while
// another goroutine is mid-Range.
func (r *Registry[K, V]) Remove(key K) {
	r.m.Delete(key)
}

// Len returns the number of currently published entries.
func (r *Registry[K, V]) Len() int {
	return r.m.Size()
}

// Range calls fn for every published entry until fn returns false or every
// entry has been visited. fn may run concurrently with Publish/Remove;
// it may or may not see entries added or removed during the Range call.
func (r *Registry[K, V]) Range(fn func(key K, value V) bool) {
	r.m.Range(fn)
}
