package storage

import (
	"fmt"

	"github.com/colorfulnotion/statetree/common"
	"github.com/colorfulnotion/statetree/jmterrors"
	"github.com/colorfulnotion/statetree/log"
	"github.com/colorfulnotion/statetree/trie"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/syndtr/goleveldb/leveldb"
)

// NodeStore is the backing store of a StateTree. WriteNodes must apply the
// whole change set or none of it.
type NodeStore interface {
	trie.TreeReader
	WriteNodes(batch *trie.TreeUpdateBatch) error
}

// StaleIndexStore exposes the stale node index a store has accumulated.
// Deciding which versions to prune is left to the caller.
type StaleIndexStore interface {
	StaleNodeIndices() ([]trie.StaleNodeIndex, error)
	PruneStaleSince(version common.Hash) (int, error)
}

// Key layout:
//
//	n ‖ nodeKey              -> encoded node
//	s ‖ staleSince ‖ nodeKey -> empty
//	r ‖ nodeKey ‖ staleSince -> empty, reverse of the s record
//	m/head                   -> last root recorded with SetHeadRoot
var (
	nodePrefix         = []byte("n")
	stalePrefix        = []byte("s")
	staleReversePrefix = []byte("r")
	headRootKey        = []byte("m/head")
)

func nodeDBKey(key trie.NodeKey) []byte {
	return append(append([]byte{}, nodePrefix...), key.Bytes()...)
}

func staleDBKey(idx trie.StaleNodeIndex) []byte {
	out := append(append([]byte{}, stalePrefix...), idx.StaleSinceVersion.Bytes()...)
	return append(out, idx.NodeKey.Bytes()...)
}

func staleReverseDBKey(idx trie.StaleNodeIndex) []byte {
	out := append(append([]byte{}, staleReversePrefix...), idx.NodeKey.Bytes()...)
	return append(out, idx.StaleSinceVersion.Bytes()...)
}

// LevelDBNodeStore keeps nodes in LevelDB behind a decoded-node LRU cache.
type LevelDBNodeStore struct {
	ps    *PersistenceStore
	cache *lru.Cache[trie.NodeKey, *trie.Node]
}

// NewLevelDBNodeStore opens the database named by cfg.Path.
func NewLevelDBNodeStore(cfg Config) (*LevelDBNodeStore, error) {
	ps, err := NewPersistenceStore(cfg.Path)
	if err != nil {
		return nil, err
	}
	store, err := NewLevelDBNodeStoreWith(ps, cfg.NodeCacheSize)
	if err != nil {
		ps.Close()
		return nil, err
	}
	log.Info(log.StorageMonitoring, "NewLevelDBNodeStore", "path", cfg.Path, "cache", cfg.NodeCacheSize)
	return store, nil
}

// NewLevelDBNodeStoreWith builds a node store over an open PersistenceStore.
func NewLevelDBNodeStoreWith(ps *PersistenceStore, cacheSize int) (*LevelDBNodeStore, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultNodeCacheSize
	}
	cache, err := lru.New[trie.NodeKey, *trie.Node](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &LevelDBNodeStore{ps: ps, cache: cache}, nil
}

func (s *LevelDBNodeStore) GetNode(key trie.NodeKey) (*trie.Node, bool, error) {
	if node, ok := s.cache.Get(key); ok {
		return node, true, nil
	}
	data, ok, err := s.ps.Get(nodeDBKey(key))
	if err != nil || !ok {
		return nil, false, err
	}
	node, err := trie.DecodeNode(data)
	if err != nil {
		return nil, false, fmt.Errorf("node %s: %w", key.Hex(), err)
	}
	if node.Hash() != key {
		return nil, false, fmt.Errorf("%w: node %s hashes to %s", jmterrors.ErrCorruptedNode, key.Hex(), node.Hash().Hex())
	}
	s.cache.Add(key, node)
	return node, true, nil
}

// WriteNodes persists the new nodes and the stale index of batch in one
// LevelDB batch. A node written again is dropped from the stale index, since
// it is reachable from the new root.
func (s *LevelDBNodeStore) WriteNodes(batch *trie.TreeUpdateBatch) error {
	b := new(leveldb.Batch)
	for key, node := range batch.NodeBatch {
		data, err := node.EncodeBytes()
		if err != nil {
			return fmt.Errorf("encode node %s: %w", key.Hex(), err)
		}
		b.Put(nodeDBKey(key), data)

		revived, err := s.staleRecordsOf(key)
		if err != nil {
			return err
		}
		for _, idx := range revived {
			b.Delete(staleDBKey(idx))
			b.Delete(staleReverseDBKey(idx))
		}
	}
	for idx := range batch.StaleNodeIndexBatch {
		b.Put(staleDBKey(idx), nil)
		b.Put(staleReverseDBKey(idx), nil)
	}
	if err := s.ps.Write(b); err != nil {
		return err
	}
	for key, node := range batch.NodeBatch {
		s.cache.Add(key, node)
	}
	log.Debug(log.StorageMonitoring, "WriteNodes", "batch", batch, "records", b.Len())
	return nil
}

func (s *LevelDBNodeStore) staleRecordsOf(key trie.NodeKey) ([]trie.StaleNodeIndex, error) {
	var out []trie.StaleNodeIndex
	prefix := append(append([]byte{}, staleReversePrefix...), key.Bytes()...)
	err := s.ps.ForEachWithPrefix(prefix, func(k, _ []byte) error {
		if len(k) != len(prefix)+common.HashLength {
			return fmt.Errorf("%w: stale record %x", jmterrors.ErrCorruptedNode, k)
		}
		out = append(out, trie.StaleNodeIndex{StaleSinceVersion: common.BytesToHash(k[len(prefix):]), NodeKey: key})
		return nil
	})
	return out, err
}

// StaleNodeIndices lists the stale index ordered by version then node key.
func (s *LevelDBNodeStore) StaleNodeIndices() ([]trie.StaleNodeIndex, error) {
	var out []trie.StaleNodeIndex
	width := len(stalePrefix) + 2*common.HashLength
	err := s.ps.ForEachWithPrefix(stalePrefix, func(k, _ []byte) error {
		if len(k) != width {
			return fmt.Errorf("%w: stale record %x", jmterrors.ErrCorruptedNode, k)
		}
		out = append(out, trie.StaleNodeIndex{
			StaleSinceVersion: common.BytesToHash(k[1 : 1+common.HashLength]),
			NodeKey:           common.BytesToHash(k[1+common.HashLength:]),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PruneStaleSince deletes every node that became stale at version, together
// with its index records, and returns the number of nodes removed.
func (s *LevelDBNodeStore) PruneStaleSince(version common.Hash) (int, error) {
	prefix := append(append([]byte{}, stalePrefix...), version.Bytes()...)
	b := new(leveldb.Batch)
	var pruned []trie.NodeKey
	err := s.ps.ForEachWithPrefix(prefix, func(k, _ []byte) error {
		if len(k) != len(prefix)+common.HashLength {
			return fmt.Errorf("%w: stale record %x", jmterrors.ErrCorruptedNode, k)
		}
		idx := trie.StaleNodeIndex{StaleSinceVersion: version, NodeKey: common.BytesToHash(k[len(prefix):])}
		b.Delete(staleDBKey(idx))
		b.Delete(staleReverseDBKey(idx))
		_, exists, err := s.ps.Get(nodeDBKey(idx.NodeKey))
		if err != nil {
			return err
		}
		if exists {
			b.Delete(nodeDBKey(idx.NodeKey))
			pruned = append(pruned, idx.NodeKey)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := s.ps.Write(b); err != nil {
		return 0, err
	}
	for _, key := range pruned {
		s.cache.Remove(key)
	}
	log.Info(log.StorageMonitoring, "PruneStaleSince", "version", version, "nodes", len(pruned))
	return len(pruned), nil
}

// HeadRoot returns the root last recorded with SetHeadRoot.
func (s *LevelDBNodeStore) HeadRoot() (common.Hash, bool, error) {
	data, ok, err := s.ps.Get(headRootKey)
	if err != nil || !ok {
		return common.Hash{}, false, err
	}
	if len(data) != common.HashLength {
		return common.Hash{}, false, fmt.Errorf("%w: head root record %x", jmterrors.ErrCorruptedNode, data)
	}
	return common.BytesToHash(data), true, nil
}

// SetHeadRoot records root as the version a later session should open.
func (s *LevelDBNodeStore) SetHeadRoot(root common.Hash) error {
	return s.ps.Put(headRootKey, root.Bytes())
}

// NumNodes counts the stored node records.
func (s *LevelDBNodeStore) NumNodes() (int, error) {
	count := 0
	err := s.ps.ForEachWithPrefix(nodePrefix, func(_, _ []byte) error {
		count++
		return nil
	})
	return count, err
}

func (s *LevelDBNodeStore) Close() error {
	s.cache.Purge()
	return s.ps.Close()
}
