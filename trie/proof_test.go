package trie

import (
	"encoding/json"
	"testing"

	"github.com/colorfulnotion/statetree/common"
	"github.com/colorfulnotion/statetree/jmterrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func TestProofRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	kvs := randomKV(r, 300)
	tt := newTestTree(t)
	tt.put(toUpdates(kvs)...)

	for k, v := range kvs {
		got, found, proof, err := tt.jmt.GetWithProof(tt.root, k)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, v, got)
		require.NoError(t, proof.Verify(tt.root, k, v))

		tampered := append([]byte(nil), v...)
		tampered[r.Intn(len(tampered))] ^= 0x01
		require.ErrorIs(t, proof.Verify(tt.root, k, tampered), jmterrors.ErrInvalidProof)
	}

	for i := 0; i < 300; i++ {
		key := common.RandomHash()
		_, found, proof, err := tt.jmt.GetWithProof(tt.root, key)
		require.NoError(t, err)
		require.False(t, found)
		require.NoError(t, proof.Verify(tt.root, key, nil))
		require.ErrorIs(t, proof.Verify(tt.root, key, []byte("claimed")), jmterrors.ErrInvalidProof)
	}
}

func TestProofSharedPrefix(t *testing.T) {
	tt := newTestTree(t)
	k1 := common.RandomHash()
	k2 := k1.WithNibble(9, k1.Nibble(9)^0x1)
	tt.put(BlobUpdate{Key: k1, Value: []byte("a")}, BlobUpdate{Key: k2, Value: []byte("b")})

	_, found, proof, err := tt.jmt.GetWithProof(tt.root, k1)
	require.NoError(t, err)
	require.True(t, found)
	// k1 and k2 first differ at the last bit of nibble 9
	assert.Len(t, proof.Siblings, 40)
	require.NoError(t, proof.Verify(tt.root, k1, []byte("a")))

	// A key that leaves the shared path early ends at an empty slot.
	k3 := k1.WithNibble(2, k1.Nibble(2)^0x8)
	_, found, proof, err = tt.jmt.GetWithProof(tt.root, k3)
	require.NoError(t, err)
	require.False(t, found)
	assert.Nil(t, proof.Leaf)
	require.NoError(t, proof.Verify(tt.root, k3, nil))
}

func TestProofEmptyAndSingleLeaf(t *testing.T) {
	tt := newTestTree(t)
	key := common.RandomHash()

	_, _, proof, err := tt.jmt.GetWithProof(tt.root, key)
	require.NoError(t, err)
	require.NoError(t, proof.Verify(SparseMerklePlaceholderHash, key, nil))

	tt.put(BlobUpdate{Key: key, Value: []byte("only")})
	other := common.RandomHash()
	_, found, proof, err := tt.jmt.GetWithProof(tt.root, other)
	require.NoError(t, err)
	require.False(t, found)
	require.NotNil(t, proof.Leaf)
	assert.Empty(t, proof.Siblings)
	require.NoError(t, proof.Verify(tt.root, other, nil))
	// The leaf in the proof is the key itself, so absence cannot be claimed.
	require.ErrorIs(t, proof.Verify(tt.root, key, nil), jmterrors.ErrInvalidProof)
}

func TestProofRejectsTampering(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	kvs := randomKV(r, 64)
	tt := newTestTree(t)
	tt.put(toUpdates(kvs)...)

	var key common.Hash
	for k := range kvs {
		key = k
		break
	}
	value := kvs[key]
	_, _, proof, err := tt.jmt.GetWithProof(tt.root, key)
	require.NoError(t, err)
	require.NotEmpty(t, proof.Siblings)

	bad := *proof
	bad.Siblings = append([]common.Hash(nil), proof.Siblings...)
	bad.Siblings[0][0] ^= 0xff
	assert.ErrorIs(t, bad.Verify(tt.root, key, value), jmterrors.ErrInvalidProof)

	assert.ErrorIs(t, proof.Verify(common.RandomHash(), key, value), jmterrors.ErrInvalidProof)

	long := &SparseMerkleProof{Leaf: proof.Leaf, Siblings: make([]common.Hash, common.BitsPerKey+1)}
	assert.ErrorIs(t, long.Verify(tt.root, key, value), jmterrors.ErrProofLengthMismatch)
}

func TestProofEncoding(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	kvs := randomKV(r, 40)
	tt := newTestTree(t)
	tt.put(toUpdates(kvs)...)

	key := common.RandomHash()
	_, _, exclusion, err := tt.jmt.GetWithProof(tt.root, key)
	require.NoError(t, err)

	encoded, err := exclusion.Hex()
	require.NoError(t, err)
	decoded, err := DecodeProofHex(encoded)
	require.NoError(t, err)
	require.NoError(t, decoded.Verify(tt.root, key, nil))

	data, err := json.Marshal(exclusion)
	require.NoError(t, err)
	var fromJSON SparseMerkleProof
	require.NoError(t, json.Unmarshal(data, &fromJSON))
	require.NoError(t, fromJSON.Verify(tt.root, key, nil))

	_, err = DecodeProofHex("0xzz")
	assert.ErrorIs(t, err, jmterrors.ErrInvalidProof)
}
