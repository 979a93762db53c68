package storage

import (
	"sync"

	"github.com/rain168/paxoskv"
)

// Memory is an in-process, map-backed Storage. It has no durability
// across restarts: Load walks only what this process has stored, and a
// new Memory starts empty. It exists for tests and
// for the transport.Sim harness, mirroring original_source's MemStorage
// (a HashMap-backed Storage used by its in-process simulator runs).
type Memory struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) Get(key paxoskv.Key) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[string(key)], nil
}

func (m *Memory) CAS(key paxoskv.Key, old, new Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := string(key)
	if !m.records[k].Equal(old) {
		return false, nil
	}
	m.records[k] = new
	return true, nil
}

func (m *Memory) Load(fn func(key paxoskv.Key, rec Record)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, rec := range m.records {
		fn(paxoskv.Key(k), rec)
	}
	return nil
}

func (m *Memory) Close() error { return nil }
