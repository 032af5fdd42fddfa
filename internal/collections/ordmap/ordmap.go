// Package ordmap provides Map, a hash table keyed by 32-bit ordinals that
// keeps entries in parallel arrays instead of per-entry allocations.
//
// Slot 0 of every array is a sentinel: a bucket head or next pointer of 0
// means "end of chain". Free slots are threaded into a singly linked list
// starting at firstEmpty.
//
// A Map is not safe for concurrent use; owners must synchronize access.
package ordmap

import "iter"

const defaultCapacity = 16

// Map associates int32 keys with values of type V.
type Map[V any] struct {
	keys     []int32
	values   []V
	next     []int
	baseHash []int

	capacity   int
	firstEmpty int
	hashFactor int
	size       int
}

// New returns a map able to hold at least capacity entries before growing.
// The capacity is rounded up to a power of two, minimum 16.
func New[V any](capacity int) *Map[V] {
	c := defaultCapacity
	for c < capacity {
		c <<= 1
	}
	m := &Map[V]{
		capacity:   c,
		keys:       make([]int32, c+1),
		values:     make([]V, c+1),
		next:       make([]int, c+1),
		baseHash:   make([]int, 2*c),
		hashFactor: 2*c - 1,
	}
	m.Clear()
	return m
}

func (m *Map[V]) bucket(key int32) int {
	return int(key) & m.hashFactor
}

// Clear removes every entry without releasing the backing arrays.
func (m *Map[V]) Clear() {
	clear(m.baseHash)
	clear(m.values)
	m.size = 0
	m.firstEmpty = 1
	for i := 1; i < m.capacity; i++ {
		m.next[i] = i + 1
	}
	m.next[m.capacity] = 0
}

// Len returns the number of live entries.
func (m *Map[V]) Len() int { return m.size }

// Capacity returns the number of entries the map holds before growing.
func (m *Map[V]) Capacity() int { return m.capacity }

func (m *Map[V]) find(key int32) int {
	for idx := m.baseHash[m.bucket(key)]; idx != 0; idx = m.next[idx] {
		if m.keys[idx] == key {
			return idx
		}
	}
	return 0
}

// Get returns the value stored for key. The zero value and false are
// returned when key is absent.
func (m *Map[V]) Get(key int32) (V, bool) {
	idx := m.find(key)
	return m.values[idx], idx != 0
}

// ContainsKey reports whether key is present.
func (m *Map[V]) ContainsKey(key int32) bool {
	return m.find(key) != 0
}

// Put stores value under key and returns the previous value, if any.
func (m *Map[V]) Put(key int32, value V) (V, bool) {
	if idx := m.find(key); idx != 0 {
		old := m.values[idx]
		m.values[idx] = value
		return old, true
	}
	if m.size == m.capacity {
		m.grow()
	}
	m.insert(key, value)
	var zero V
	return zero, false
}

// insert takes the head of the free list and pushes it onto key's bucket.
func (m *Map[V]) insert(key int32, value V) {
	h := m.bucket(key)
	idx := m.firstEmpty
	m.firstEmpty = m.next[idx]
	m.keys[idx] = key
	m.values[idx] = value
	m.next[idx] = m.baseHash[h]
	m.baseHash[h] = idx
	m.size++
}

// Remove deletes key and returns the value it held.
func (m *Map[V]) Remove(key int32) (V, bool) {
	h := m.bucket(key)
	prev := 0
	idx := m.baseHash[h]
	for idx != 0 && m.keys[idx] != key {
		prev = idx
		idx = m.next[idx]
	}
	var zero V
	if idx == 0 {
		return zero, false
	}
	if prev == 0 {
		m.baseHash[h] = m.next[idx]
	}
	// When prev is 0 this writes the sentinel slot, which is never read
	// as part of a chain.
	m.next[prev] = m.next[idx]
	m.next[idx] = m.firstEmpty
	m.firstEmpty = idx
	m.size--

	old := m.values[idx]
	m.values[idx] = zero
	return old, true
}

// grow doubles the capacity by rebuilding every live entry into a fresh map
// and adopting its arrays.
func (m *Map[V]) grow() {
	that := New[V](m.capacity * 2)
	for k, v := range m.All() {
		that.insert(k, v)
	}
	*m = *that
}

// All iterates over live entries bucket by bucket. The map must not be
// modified during iteration.
func (m *Map[V]) All() iter.Seq2[int32, V] {
	return func(yield func(int32, V) bool) {
		for _, head := range m.baseHash {
			for idx := head; idx != 0; idx = m.next[idx] {
				if !yield(m.keys[idx], m.values[idx]) {
					return
				}
			}
		}
	}
}

// Keys iterates over live keys.
func (m *Map[V]) Keys() iter.Seq[int32] {
	return func(yield func(int32) bool) {
		for k := range m.All() {
			if !yield(k) {
				return
			}
		}
	}
}

// Values iterates over live values.
func (m *Map[V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		for _, v := range m.All() {
			if !yield(v) {
				return
			}
		}
	}
}
