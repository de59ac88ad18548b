// Package mutex blokady per klucz; wpis znika z tablicy, gdy nikt go nie trzyma.
package mutex

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

type KeyedMutex[K comparable] struct {
	mu    sync.Mutex
	table map[K]*entry
}

func (m *KeyedMutex[K]) acquire(key K) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.table == nil {
		m.table = make(map[K]*entry)
	}
	e, ok := m.table[key]
	if !ok {
		e = &entry{}
		m.table[key] = e
	}
	e.refs++
	return e
}

func (m *KeyedMutex[K]) release(key K) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.table[key]
	if !ok {
		panic("mutex: unlock of unlocked key")
	}
	e.refs--
	if e.refs == 0 {
		delete(m.table, key)
	}
	return e
}

// TryLock nie czeka; false gdy klucz jest już zablokowany.
func (m *KeyedMutex[K]) TryLock(key K) bool {
	e := m.acquire(key)
	if e.mu.TryLock() {
		return true
	}
	m.release(key)
	return false
}

func (m *KeyedMutex[K]) Unlock(key K) { m.release(key).mu.Unlock() }

// Len liczba kluczy aktualnie trzymanych.
func (m *KeyedMutex[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.table)
}
