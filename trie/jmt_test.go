package trie

import (
	"testing"

	"github.com/colorfulnotion/statetree/common"
	"github.com/colorfulnotion/statetree/jmterrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func TestEmptyTree(t *testing.T) {
	tt := newTestTree(t)
	key := common.RandomHash()

	value, found, err := tt.jmt.Get(SparseMerklePlaceholderHash, key)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, value)

	root, batch, err := tt.jmt.PutBlobSet(SparseMerklePlaceholderHash, nil)
	require.NoError(t, err)
	assert.Equal(t, SparseMerklePlaceholderHash, root)
	assert.True(t, batch.IsEmpty())
}

func TestInsertAndGet(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	kvs := randomKV(r, 500)

	tt := newTestTree(t)
	batch := tt.put(toUpdates(kvs)...)
	assert.Equal(t, 500, batch.NumNewLeaves)
	assert.Equal(t, 0, batch.NumStaleLeaves)
	assert.Len(t, batch.StaleNodeIndexBatch, 1)

	for k, v := range kvs {
		got, found, err := tt.jmt.Get(tt.root, k)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, v, got)
	}
	for i := 0; i < 50; i++ {
		_, found, err := tt.jmt.Get(tt.root, common.RandomHash())
		require.NoError(t, err)
		require.False(t, found)
	}
}

func TestSingleLeafIsRoot(t *testing.T) {
	tt := newTestTree(t)
	key := common.RandomHash()
	batch := tt.put(BlobUpdate{Key: key, Value: []byte("v")})

	assert.Equal(t, NewLeafNode(key, []byte("v")).Hash(), tt.root)
	assert.Equal(t, 1, batch.NumNewLeaves)
	assert.Len(t, batch.NodeBatch, 1)
	_, staleRoot := batch.StaleNodeIndexBatch[StaleNodeIndex{StaleSinceVersion: tt.root, NodeKey: SparseMerklePlaceholderHash}]
	assert.True(t, staleRoot)
}

func TestSharedPrefixExtendsDownward(t *testing.T) {
	tt := newTestTree(t)
	k1 := common.RandomHash()
	k2 := k1.WithNibble(5, k1.Nibble(5)^0x8)

	batch := tt.put(BlobUpdate{Key: k1, Value: []byte("a")}, BlobUpdate{Key: k2, Value: []byte("b")})
	// one internal node per shared nibble plus the one where the keys diverge
	assert.Len(t, batch.NodeBatch, 6+2)
	assert.Equal(t, 2, batch.NumNewLeaves)

	for key, want := range map[common.Hash]string{k1: "a", k2: "b"} {
		got, found, err := tt.jmt.Get(tt.root, key)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, want, string(got))
	}

	// Deleting one key collapses the chain back into the remaining leaf.
	batch = tt.put(BlobUpdate{Key: k2, Value: nil})
	assert.Equal(t, NewLeafNode(k1, []byte("a")).Hash(), tt.root)
	assert.Empty(t, batch.NodeBatch)
	assert.Len(t, batch.StaleNodeIndexBatch, 6+1)
	assert.Equal(t, 1, batch.NumStaleLeaves)

	batch = tt.put(BlobUpdate{Key: k1, Value: nil})
	assert.Equal(t, SparseMerklePlaceholderHash, tt.root)
	assert.Equal(t, 1, batch.NumStaleLeaves)
}

func TestRootIsFunctionOfContent(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	kvs := randomKV(r, 200)
	updates := toUpdates(kvs)

	oneShot := newTestTree(t)
	oneShot.put(updates...)

	incremental := newTestTree(t)
	for i := len(updates) - 1; i >= 0; i -= 10 {
		lo := i - 9
		if lo < 0 {
			lo = 0
		}
		incremental.put(updates[lo : i+1]...)
	}
	assert.Equal(t, oneShot.root, incremental.root)

	// Adding then removing extra keys returns to the same root.
	extra := randomKV(r, 30)
	incremental.put(toUpdates(extra)...)
	assert.NotEqual(t, oneShot.root, incremental.root)
	deletes := make([]BlobUpdate, 0, len(extra))
	for k := range extra {
		deletes = append(deletes, BlobUpdate{Key: k})
	}
	incremental.put(deletes...)
	assert.Equal(t, oneShot.root, incremental.root)
}

func TestNoOpUpdates(t *testing.T) {
	tt := newTestTree(t)
	k1, k2 := common.RandomHash(), common.RandomHash()
	tt.put(BlobUpdate{Key: k1, Value: []byte("one")}, BlobUpdate{Key: k2, Value: []byte("two")})
	before := tt.root

	batch := tt.put(BlobUpdate{Key: k1, Value: []byte("one")})
	assert.Equal(t, before, tt.root)
	assert.True(t, batch.IsEmpty())

	batch = tt.put(BlobUpdate{Key: common.RandomHash(), Value: nil})
	assert.Equal(t, before, tt.root)
	assert.True(t, batch.IsEmpty())
}

func TestUpdateExistingKey(t *testing.T) {
	tt := newTestTree(t)
	keys := make([]common.Hash, 16)
	updates := make([]BlobUpdate, 16)
	for i := range keys {
		keys[i] = common.RandomHash().WithNibble(0, uint8(i))
		updates[i] = BlobUpdate{Key: keys[i], Value: []byte{byte(i)}}
	}
	batch := tt.put(updates...)
	assert.Equal(t, 16, batch.NumNewLeaves)

	batch = tt.put(BlobUpdate{Key: keys[3], Value: []byte("new")})
	assert.Equal(t, 1, batch.NumNewLeaves)
	assert.Equal(t, 1, batch.NumStaleLeaves)
	// the old leaf and the old root
	assert.Len(t, batch.StaleNodeIndexBatch, 2)
	assert.Len(t, batch.NodeBatch, 2)
}

func TestLastWriteWins(t *testing.T) {
	tt := newTestTree(t)
	key := common.RandomHash()
	tt.put(
		BlobUpdate{Key: key, Value: []byte("first")},
		BlobUpdate{Key: key, Value: nil},
		BlobUpdate{Key: key, Value: []byte("last")},
	)
	got, found, err := tt.jmt.Get(tt.root, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "last", string(got))
}

func TestEmptyValueIsPresent(t *testing.T) {
	tt := newTestTree(t)
	key := common.RandomHash()
	tt.put(BlobUpdate{Key: key, Value: []byte{}})

	got, found, err := tt.jmt.Get(tt.root, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, got)
	assert.NotEqual(t, SparseMerklePlaceholderHash, tt.root)
}

func TestPriorSnapshotsSurvive(t *testing.T) {
	tt := newTestTree(t)
	a := common.RandomHash().WithNibble(0, 0x1)
	b := common.RandomHash().WithNibble(0, 0x2)
	tt.put(BlobUpdate{Key: a, Value: []byte("a")}, BlobUpdate{Key: b, Value: []byte("b")})
	r1 := tt.root

	tt.put(BlobUpdate{Key: a})
	r2 := tt.root
	require.NotEqual(t, r1, r2)

	_, found, err := tt.jmt.Get(r2, a)
	require.NoError(t, err)
	assert.False(t, found)

	got, found, err := tt.jmt.Get(r1, a)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "a", string(got))
}

func TestMissingNode(t *testing.T) {
	jmt := NewJellyfishMerkleTree(newMemReader())
	root := common.RandomHash()

	_, _, err := jmt.Get(root, common.RandomHash())
	assert.ErrorIs(t, err, jmterrors.ErrMissingNode)

	_, _, _, err = jmt.GetWithProof(root, common.RandomHash())
	assert.ErrorIs(t, err, jmterrors.ErrMissingNode)

	_, _, err = jmt.PutBlobSet(root, []BlobUpdate{{Key: common.RandomHash(), Value: []byte("x")}})
	assert.ErrorIs(t, err, jmterrors.ErrMissingNode)
}

func TestGetReturnsCopy(t *testing.T) {
	tt := newTestTree(t)
	key := common.RandomHash()
	tt.put(BlobUpdate{Key: key, Value: []byte("value")})

	got, _, err := tt.jmt.Get(tt.root, key)
	require.NoError(t, err)
	got[0] = 'X'

	again, _, err := tt.jmt.Get(tt.root, key)
	require.NoError(t, err)
	assert.Equal(t, "value", string(again))
}

func TestInternalChainDeeperThanKey(t *testing.T) {
	reader := newMemReader()
	var children [16]*Child
	children[0] = NewLeafNode(common.Hash{}, []byte("a")).Ref()
	children[1] = NewLeafNode(common.RandomHash(), []byte("b")).Ref()
	node := NewInternalNode(children)
	reader.nodes[node.Hash()] = node
	// one internal node per nibble above the bottom one
	for i := 0; i < common.NibblesPerKey; i++ {
		var wrap [16]*Child
		wrap[0] = node.Ref()
		node = NewInternalNode(wrap)
		reader.nodes[node.Hash()] = node
	}
	jmt := NewJellyfishMerkleTree(reader)

	_, _, err := jmt.Get(node.Hash(), common.Hash{})
	assert.ErrorIs(t, err, jmterrors.ErrCorruptedNode)
	_, _, _, err = jmt.GetWithProof(node.Hash(), common.Hash{})
	assert.ErrorIs(t, err, jmterrors.ErrCorruptedNode)
	_, _, err = jmt.PutBlobSet(node.Hash(), []BlobUpdate{{Key: common.Hash{}, Value: []byte("c")}})
	assert.ErrorIs(t, err, jmterrors.ErrCorruptedNode)
}
