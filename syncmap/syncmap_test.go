package syncmap

import (
	"sort"
	"testing"
)

func TestSyncMapBasics(t *testing.T) {
	var m SyncMap[string, int]
	m.Store("a", 1)
	if v, ok := m.Load("a"); !ok || v != 1 {
		t.Fatalf("Load(a) = %d, %v", v, ok)
	}
	if v, loaded := m.LoadOrStore("a", 2); !loaded || v != 1 {
		t.Fatalf("LoadOrStore(a) = %d, %v", v, loaded)
	}
	if v, loaded := m.LoadOrStore("b", 2); loaded || v != 2 {
		t.Fatalf("LoadOrStore(b) = %d, %v", v, loaded)
	}
	values := m.Values()
	sort.Ints(values)
	if len(values) != 2 || values[0] != 1 || values[1] != 2 {
		t.Fatalf("Values = %v", values)
	}
	if v, ok := m.LoadAndDelete("a"); !ok || v != 1 {
		t.Fatalf("LoadAndDelete(a) = %d, %v", v, ok)
	}
	m.Delete("b")
	if m.Len() != 0 {
		t.Fatalf("expected empty map, have %d entries", m.Len())
	}
	if _, ok := m.Load("a"); ok {
		t.Fatalf("a should be gone")
	}
}
