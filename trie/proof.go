package trie

import (
	"fmt"

	"github.com/colorfulnotion/statetree/common"
	"github.com/colorfulnotion/statetree/jmterrors"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"
)

// SparseMerkleLeafNode is the leaf a proof terminates at.
type SparseMerkleLeafNode struct {
	Key       common.Hash `json:"key"`
	ValueHash common.Hash `json:"value_hash"`
}

func (l *SparseMerkleLeafNode) Hash() common.Hash {
	return computeLeaf(l.Key, l.ValueHash)
}

// SparseMerkleProof proves the value, or the absence, of a key. Siblings are
// ordered from the leaf level up to the root.
type SparseMerkleProof struct {
	Leaf     *SparseMerkleLeafNode `json:"leaf" rlp:"nil"`
	Siblings []common.Hash         `json:"siblings"`
}

// Verify checks that the proof binds key to value under expectedRoot. A nil
// value claims that key is absent.
func (p *SparseMerkleProof) Verify(expectedRoot common.Hash, key common.Hash, value []byte) error {
	if len(p.Siblings) > common.BitsPerKey {
		return fmt.Errorf("%w: %d siblings", jmterrors.ErrProofLengthMismatch, len(p.Siblings))
	}

	switch {
	case value != nil && p.Leaf != nil:
		if p.Leaf.Key != key {
			return fmt.Errorf("%w: proof leaf key %s does not match %s", jmterrors.ErrInvalidProof, p.Leaf.Key.Hex(), key.Hex())
		}
		if computeValueHash(value) != p.Leaf.ValueHash {
			return fmt.Errorf("%w: value hash mismatch", jmterrors.ErrInvalidProof)
		}
	case value != nil:
		return fmt.Errorf("%w: expected inclusion proof, found exclusion proof", jmterrors.ErrInvalidProof)
	case p.Leaf != nil:
		if p.Leaf.Key == key {
			return fmt.Errorf("%w: expected exclusion proof, key %s exists", jmterrors.ErrInvalidProof, key.Hex())
		}
		if common.CommonPrefixBits(key, p.Leaf.Key) < len(p.Siblings) {
			return fmt.Errorf("%w: proof leaf is not on the path of %s", jmterrors.ErrInvalidProof, key.Hex())
		}
	}

	current := SparseMerklePlaceholderHash
	if p.Leaf != nil {
		current = p.Leaf.Hash()
	}
	for i, sibling := range p.Siblings {
		if key.Bit(len(p.Siblings) - 1 - i) {
			current = computeNode(sibling, current)
		} else {
			current = computeNode(current, sibling)
		}
	}
	if current != expectedRoot {
		return fmt.Errorf("%w: root %s, expected %s", jmterrors.ErrInvalidProof, current.Hex(), expectedRoot.Hex())
	}
	return nil
}

// Bytes returns the RLP encoding of the proof.
func (p *SparseMerkleProof) Bytes() ([]byte, error) {
	return rlp.EncodeToBytes(p)
}

// Hex returns the 0x-prefixed RLP encoding of the proof.
func (p *SparseMerkleProof) Hex() (string, error) {
	data, err := p.Bytes()
	if err != nil {
		return "", err
	}
	return hexutil.Encode(data), nil
}

func DecodeProof(data []byte) (*SparseMerkleProof, error) {
	var p SparseMerkleProof
	if err := rlp.DecodeBytes(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", jmterrors.ErrInvalidProof, err)
	}
	return &p, nil
}

func DecodeProofHex(s string) (*SparseMerkleProof, error) {
	data, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jmterrors.ErrInvalidProof, err)
	}
	return DecodeProof(data)
}
