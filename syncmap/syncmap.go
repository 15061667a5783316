// Package syncmap is a typed wrapper around sync.Map.
package syncmap

import "sync"

// SyncMap is a sync.Map with typed keys and values. The zero value is ready
// to use.
type SyncMap[K comparable, V any] struct {
	m sync.Map
}

func New[K comparable, V any]() *SyncMap[K, V] {
	return &SyncMap[K, V]{}
}

func (sm *SyncMap[K, V]) Store(key K, value V) {
	sm.m.Store(key, value)
}

// Load returns the value for key and whether it was present.
func (sm *SyncMap[K, V]) Load(key K) (V, bool) {
	if val, ok := sm.m.Load(key); ok {
		return val.(V), true
	}
	var zero V
	return zero, false
}

// LoadOrStore returns the existing value for key if present; otherwise it
// stores value. loaded reports which happened.
func (sm *SyncMap[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	v, loaded := sm.m.LoadOrStore(key, value)
	return v.(V), loaded
}

// LoadAndDelete removes key, returning its previous value if any.
func (sm *SyncMap[K, V]) LoadAndDelete(key K) (V, bool) {
	if val, ok := sm.m.LoadAndDelete(key); ok {
		return val.(V), true
	}
	var zero V
	return zero, false
}

func (sm *SyncMap[K, V]) Delete(key K) {
	sm.m.Delete(key)
}

// Range calls fn for each entry until fn returns false.
func (sm *SyncMap[K, V]) Range(fn func(key K, value V) bool) {
	sm.m.Range(func(key, value any) bool {
		return fn(key.(K), value.(V))
	})
}

// Values returns a snapshot of the values in no particular order.
func (sm *SyncMap[K, V]) Values() []V {
	var values []V
	sm.Range(func(_ K, value V) bool {
		values = append(values, value)
		return true
	})
	return values
}

// Len counts the entries. It walks the whole map.
func (sm *SyncMap[K, V]) Len() int {
	count := 0
	sm.Range(func(K, V) bool {
		count++
		return true
	})
	return count
}
