package trie

import (
	"testing"

	"github.com/colorfulnotion/statetree/common"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

// memReader is a TreeReader that applies change sets in place.
type memReader struct {
	nodes map[NodeKey]*Node
}

func newMemReader() *memReader {
	return &memReader{nodes: make(map[NodeKey]*Node)}
}

func (m *memReader) GetNode(key NodeKey) (*Node, bool, error) {
	n, ok := m.nodes[key]
	return n, ok, nil
}

func (m *memReader) apply(batch *TreeUpdateBatch) {
	for k, n := range batch.NodeBatch {
		m.nodes[k] = n
	}
}

type testTree struct {
	t      *testing.T
	reader *memReader
	jmt    *JellyfishMerkleTree
	root   common.Hash
}

func newTestTree(t *testing.T) *testTree {
	reader := newMemReader()
	return &testTree{t: t, reader: reader, jmt: NewJellyfishMerkleTree(reader), root: SparseMerklePlaceholderHash}
}

func (tt *testTree) put(updates ...BlobUpdate) *TreeUpdateBatch {
	root, batch, err := tt.jmt.PutBlobSet(tt.root, updates)
	require.NoError(tt.t, err)
	tt.reader.apply(batch)
	tt.root = root
	return batch
}

func randomKV(r *rand.Rand, n int) map[common.Hash][]byte {
	kvs := make(map[common.Hash][]byte, n)
	for len(kvs) < n {
		var key common.Hash
		r.Read(key[:])
		value := make([]byte, 1+r.Intn(64))
		r.Read(value)
		kvs[key] = value
	}
	return kvs
}

func toUpdates(kvs map[common.Hash][]byte) []BlobUpdate {
	updates := make([]BlobUpdate, 0, len(kvs))
	for k, v := range kvs {
		updates = append(updates, BlobUpdate{Key: k, Value: v})
	}
	return updates
}
