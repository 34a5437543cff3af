package storage

import (
	"fmt"
	"sync"

	"github.com/colorfulnotion/statetree/common"
	"github.com/colorfulnotion/statetree/jmterrors"
	"github.com/colorfulnotion/statetree/log"
	"github.com/colorfulnotion/statetree/trie"
	gethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/xlab/treeprint"
)

// StateTree is a versioned key/value view over a NodeStore. Writes are staged
// until Commit, and committed nodes stay in memory until Flush hands them to
// the store. One writer at a time; readers may overlap each other.
type StateTree struct {
	mu    sync.RWMutex
	store NodeStore
	cache *stateCache
	tree  *trie.JellyfishMerkleTree
}

// NewStateTree opens a view at root, or at the empty tree when root is nil.
func NewStateTree(store NodeStore, root *common.Hash) *StateTree {
	start := trie.SparseMerklePlaceholderHash
	if root != nil {
		start = *root
	}
	cache := newStateCache(store, start)
	return &StateTree{
		store: store,
		cache: cache,
		tree:  trie.NewJellyfishMerkleTree(cache),
	}
}

// Put stages key = value. A nil value is stored as an empty value.
func (s *StateTree) Put(key common.Hash, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.put(key, value)
}

// Remove stages the deletion of key.
func (s *StateTree) Remove(key common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.remove(key)
}

// Get returns the staged value of key if there is one, else the committed one.
func (s *StateTree) Get(key common.Hash) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if value, found, staged := s.cache.lookup(key); staged {
		return value, found, nil
	}
	return s.tree.Get(s.cache.root, key)
}

// GetWithProof reads key at the committed root. Staged writes are not
// visible since no root binds them yet.
func (s *StateTree) GetWithProof(key common.Hash) ([]byte, bool, *trie.SparseMerkleProof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.GetWithProof(s.cache.root, key)
}

// Commit applies the staged writes as one batch and returns the new root.
// Without staged writes it returns the current root.
func (s *StateTree) Commit() (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cache.pending) == 0 {
		return s.cache.root, nil
	}
	prev := s.cache.root
	newRoot, cs, err := s.tree.PutBlobSet(prev, s.cache.updates())
	if err != nil {
		log.Warn(log.StateTreeMonitoring, "Commit failed", "root", prev, "err", err)
		return common.Hash{}, err
	}
	s.cache.absorb(newRoot, cs)
	log.Debug(log.StateTreeMonitoring, "Commit", "prev", prev, "root", newRoot, "changes", cs, "unflushed", s.cache.changeSet)
	return newRoot, nil
}

// Rollback drops the staged writes.
func (s *StateTree) Rollback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.pending = make(map[common.Hash][]byte)
}

// ChangeSets returns the current root and a copy of everything committed
// since the last flush.
func (s *StateTree) ChangeSets() (common.Hash, *trie.TreeUpdateBatch) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.root, s.cache.changeSet.Copy()
}

// LastChangeSets returns the change set of the most recent commit.
func (s *StateTree) LastChangeSets() (common.Hash, *trie.TreeUpdateBatch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache.lastChangeSet == nil {
		return common.Hash{}, nil, false
	}
	return s.cache.lastRoot, s.cache.lastChangeSet.Copy(), true
}

// Flush writes the unflushed change set to the store. On failure the change
// set is kept, so Flush can be retried.
func (s *StateTree) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := s.cache.changeSet
	if cs.IsEmpty() {
		return nil
	}
	if err := s.store.WriteNodes(cs); err != nil {
		log.Error(log.StateTreeMonitoring, "Flush failed", "root", s.cache.root, "changes", cs, "err", err)
		return fmt.Errorf("%w: %w", jmterrors.ErrStoreWrite, err)
	}
	log.Debug(log.StateTreeMonitoring, "Flush", "root", s.cache.root, "changes", cs)
	s.cache.flushed()
	return nil
}

// RootHash returns the committed root. Staged writes do not move it.
func (s *StateTree) RootHash() common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.root
}

// IsGenesis reports whether the committed root is the empty tree.
func (s *StateTree) IsGenesis() bool {
	return s.RootHash() == trie.SparseMerklePlaceholderHash
}

func (s *StateTree) HasPendingWrites() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache.pending) > 0
}

// Dump returns every key/value pair of the committed root.
func (s *StateTree) Dump() (map[common.Hash][]byte, error) {
	it, err := s.DumpIter()
	if err != nil {
		return nil, err
	}
	defer it.Release()

	out := make(map[common.Hash][]byte)
	for it.Next() {
		out[it.Key()] = gethCommon.CopyBytes(it.Value())
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// DumpIter returns a lazy iterator over the committed root. It keeps working
// after later commits on s, but fails with ErrMissingNode if nodes it still
// needs are pruned from the store.
func (s *StateTree) DumpIter() (*trie.LeafIterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reader := s.cache.snapshot()
	root := s.cache.root
	if root != trie.SparseMerklePlaceholderHash {
		_, ok, err := reader.GetNode(root)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", jmterrors.ErrMissingNode, root.Hex())
		}
	}
	return trie.NewJellyfishMerkleTree(reader).Iter(root), nil
}

// ToTree renders the committed root, including unflushed nodes.
func (s *StateTree) ToTree() (treeprint.Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.ToTree(s.cache.root)
}
