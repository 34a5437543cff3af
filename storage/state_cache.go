package storage

import (
	"github.com/colorfulnotion/statetree/common"
	"github.com/colorfulnotion/statetree/trie"
	gethCommon "github.com/ethereum/go-ethereum/common"
)

// stateCache holds everything a StateTree has not handed to its store yet:
// staged writes on top of the committed root, and the change sets of the
// commits since the last flush.
type stateCache struct {
	store NodeStore

	root    common.Hash
	pending map[common.Hash][]byte // nil value is a tombstone

	changeSet *trie.TreeUpdateBatch
	// nodes of changeSet that are already in the store; their stale entry
	// was withdrawn when a commit created them again
	revived map[trie.NodeKey]struct{}

	lastRoot      common.Hash
	lastChangeSet *trie.TreeUpdateBatch
}

func newStateCache(store NodeStore, root common.Hash) *stateCache {
	return &stateCache{
		store:     store,
		root:      root,
		pending:   make(map[common.Hash][]byte),
		changeSet: trie.NewTreeUpdateBatch(),
		revived:   make(map[trie.NodeKey]struct{}),
	}
}

// flushed starts a new unflushed change set after a successful flush.
func (c *stateCache) flushed() {
	c.changeSet = trie.NewTreeUpdateBatch()
	c.revived = make(map[trie.NodeKey]struct{})
}

func (c *stateCache) put(key common.Hash, value []byte) {
	if value == nil {
		value = []byte{}
	}
	c.pending[key] = value
}

func (c *stateCache) remove(key common.Hash) {
	c.pending[key] = nil
}

// lookup reports the staged value of key, if any. A staged removal returns
// found == false with staged == true.
func (c *stateCache) lookup(key common.Hash) (value []byte, found bool, staged bool) {
	v, ok := c.pending[key]
	if !ok {
		return nil, false, false
	}
	if v == nil {
		return nil, false, true
	}
	return gethCommon.CopyBytes(v), true, true
}

func (c *stateCache) updates() []trie.BlobUpdate {
	out := make([]trie.BlobUpdate, 0, len(c.pending))
	for k, v := range c.pending {
		out = append(out, trie.BlobUpdate{Key: k, Value: v})
	}
	return out
}

// GetNode resolves nodes committed since the last flush before asking the store.
func (c *stateCache) GetNode(key trie.NodeKey) (*trie.Node, bool, error) {
	if n, ok := c.changeSet.NodeBatch[key]; ok {
		return n, true, nil
	}
	return c.store.GetNode(key)
}

// absorb folds the change set of one commit into the unflushed one. A node
// created and superseded before any flush never reaches the store, and a
// node created again after being marked stale is no longer stale. A revived
// node that is superseded again is stale once more, since the store has it.
func (c *stateCache) absorb(newRoot common.Hash, cs *trie.TreeUpdateBatch) {
	acc := c.changeSet

	staleLeaves := cs.NumStaleLeaves
	for idx := range cs.StaleNodeIndexBatch {
		if n, ok := acc.NodeBatch[idx.NodeKey]; ok {
			delete(acc.NodeBatch, idx.NodeKey)
			if _, stored := c.revived[idx.NodeKey]; stored {
				delete(c.revived, idx.NodeKey)
				acc.StaleNodeIndexBatch[idx] = struct{}{}
				continue
			}
			if n.IsLeaf() {
				acc.NumNewLeaves--
				staleLeaves--
			}
			continue
		}
		acc.StaleNodeIndexBatch[idx] = struct{}{}
	}

	newLeaves := cs.NumNewLeaves
	for idx := range acc.StaleNodeIndexBatch {
		n, revived := cs.NodeBatch[idx.NodeKey]
		if !revived {
			continue
		}
		delete(acc.StaleNodeIndexBatch, idx)
		c.revived[idx.NodeKey] = struct{}{}
		if n.IsLeaf() {
			acc.NumStaleLeaves--
			newLeaves--
		}
	}
	for key, n := range cs.NodeBatch {
		acc.NodeBatch[key] = n
	}
	acc.NumNewLeaves += newLeaves
	acc.NumStaleLeaves += staleLeaves

	c.root = newRoot
	c.pending = make(map[common.Hash][]byte)
	c.lastRoot = newRoot
	c.lastChangeSet = cs
}

// snapshotReader resolves nodes against a frozen copy of the unflushed nodes,
// so a reader can outlive later commits on the same StateTree.
type snapshotReader struct {
	nodes map[trie.NodeKey]*trie.Node
	store NodeStore
}

func (c *stateCache) snapshot() *snapshotReader {
	nodes := make(map[trie.NodeKey]*trie.Node, len(c.changeSet.NodeBatch))
	for k, n := range c.changeSet.NodeBatch {
		nodes[k] = n
	}
	return &snapshotReader{nodes: nodes, store: c.store}
}

func (r *snapshotReader) GetNode(key trie.NodeKey) (*trie.Node, bool, error) {
	if n, ok := r.nodes[key]; ok {
		return n, true, nil
	}
	return r.store.GetNode(key)
}
