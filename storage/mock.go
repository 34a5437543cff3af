package storage

import (
	"sync"

	"github.com/colorfulnotion/statetree/common"
	"github.com/colorfulnotion/statetree/trie"
)

// MemoryNodeStore is a map-backed NodeStore for tests and short-lived trees.
type MemoryNodeStore struct {
	mu      sync.RWMutex
	nodes   map[trie.NodeKey]*trie.Node
	stale   map[trie.StaleNodeIndex]struct{}
	staleOf map[trie.NodeKey]map[common.Hash]struct{} // reverse of stale
}

func NewMemoryNodeStore() *MemoryNodeStore {
	return &MemoryNodeStore{
		nodes:   make(map[trie.NodeKey]*trie.Node),
		stale:   make(map[trie.StaleNodeIndex]struct{}),
		staleOf: make(map[trie.NodeKey]map[common.Hash]struct{}),
	}
}

func (m *MemoryNodeStore) GetNode(key trie.NodeKey) (*trie.Node, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[key]
	return n, ok, nil
}

func (m *MemoryNodeStore) WriteNodes(batch *trie.TreeUpdateBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, node := range batch.NodeBatch {
		m.nodes[key] = node
		for version := range m.staleOf[key] {
			delete(m.stale, trie.StaleNodeIndex{StaleSinceVersion: version, NodeKey: key})
		}
		delete(m.staleOf, key)
	}
	for idx := range batch.StaleNodeIndexBatch {
		m.stale[idx] = struct{}{}
		versions, ok := m.staleOf[idx.NodeKey]
		if !ok {
			versions = make(map[common.Hash]struct{})
			m.staleOf[idx.NodeKey] = versions
		}
		versions[idx.StaleSinceVersion] = struct{}{}
	}
	return nil
}

func (m *MemoryNodeStore) StaleNodeIndices() ([]trie.StaleNodeIndex, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]trie.StaleNodeIndex, 0, len(m.stale))
	for idx := range m.stale {
		out = append(out, idx)
	}
	trie.SortStaleNodeIndices(out)
	return out, nil
}

func (m *MemoryNodeStore) PruneStaleSince(version common.Hash) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pruned := 0
	for idx := range m.stale {
		if idx.StaleSinceVersion != version {
			continue
		}
		if _, ok := m.nodes[idx.NodeKey]; ok {
			delete(m.nodes, idx.NodeKey)
			pruned++
		}
		delete(m.stale, idx)
		delete(m.staleOf[idx.NodeKey], version)
		if len(m.staleOf[idx.NodeKey]) == 0 {
			delete(m.staleOf, idx.NodeKey)
		}
	}
	return pruned, nil
}

// Len returns the number of stored nodes.
func (m *MemoryNodeStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}
