package trie

import (
	"fmt"

	"github.com/colorfulnotion/statetree/common"
	"github.com/colorfulnotion/statetree/jmterrors"
	"github.com/colorfulnotion/statetree/log"
	gethCommon "github.com/ethereum/go-ethereum/common"
)

// TreeReader resolves nodes by key. A node that is not stored is reported
// with ok == false and a nil error.
type TreeReader interface {
	GetNode(key NodeKey) (node *Node, ok bool, err error)
}

// JellyfishMerkleTree runs reads and batch updates against immutable
// snapshots identified by their root hash. It holds no mutable state, so a
// single instance may serve concurrent readers.
type JellyfishMerkleTree struct {
	reader TreeReader
}

func NewJellyfishMerkleTree(reader TreeReader) *JellyfishMerkleTree {
	return &JellyfishMerkleTree{reader: reader}
}

func (t *JellyfishMerkleTree) getNode(key NodeKey) (*Node, error) {
	if key == SparseMerklePlaceholderHash {
		return nullNode, nil
	}
	node, ok, err := t.reader.GetNode(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", jmterrors.ErrMissingNode, key.Hex())
	}
	return node, nil
}

// Get returns the value stored under key in the snapshot root.
func (t *JellyfishMerkleTree) Get(root common.Hash, key common.Hash) ([]byte, bool, error) {
	next := root
	for depth := 0; depth <= common.NibblesPerKey; depth++ {
		node, err := t.getNode(next)
		if err != nil {
			return nil, false, err
		}
		switch node.Kind {
		case NullNode:
			return nil, false, nil
		case LeafNode:
			if node.Key != key {
				return nil, false, nil
			}
			return gethCommon.CopyBytes(node.Value), true, nil
		case InternalNode:
			if depth == common.NibblesPerKey {
				return nil, false, errTooDeep(key)
			}
			child := node.Children[key.Nibble(depth)]
			if child == nil {
				return nil, false, nil
			}
			next = child.Hash
		}
	}
	return nil, false, errTooDeep(key)
}

func errTooDeep(key common.Hash) error {
	return fmt.Errorf("%w: path for %s exceeds key depth", jmterrors.ErrCorruptedNode, key.Hex())
}

// GetWithProof is Get plus a proof binding the answer to root.
func (t *JellyfishMerkleTree) GetWithProof(root common.Hash, key common.Hash) ([]byte, bool, *SparseMerkleProof, error) {
	var siblings []common.Hash
	next := root
	for depth := 0; depth <= common.NibblesPerKey; depth++ {
		node, err := t.getNode(next)
		if err != nil {
			return nil, false, nil, err
		}
		switch node.Kind {
		case NullNode:
			if depth != 0 {
				return nil, false, nil, fmt.Errorf("%w: null node below the root", jmterrors.ErrCorruptedNode)
			}
			return nil, false, &SparseMerkleProof{}, nil
		case LeafNode:
			proof := &SparseMerkleProof{
				Leaf:     &SparseMerkleLeafNode{Key: node.Key, ValueHash: node.ValueHash},
				Siblings: reverseHashes(siblings),
			}
			if node.Key != key {
				return nil, false, proof, nil
			}
			return gethCommon.CopyBytes(node.Value), true, proof, nil
		case InternalNode:
			if depth == common.NibblesPerKey {
				return nil, false, nil, errTooDeep(key)
			}
			child, inNode := node.childWithSiblings(key.Nibble(depth))
			siblings = append(siblings, inNode...)
			if child == nil {
				return nil, false, &SparseMerkleProof{Siblings: reverseHashes(siblings)}, nil
			}
			next = child.Hash
		}
	}
	return nil, false, nil, errTooDeep(key)
}

// Iter enumerates the leaves of root in key order.
func (t *JellyfishMerkleTree) Iter(root common.Hash) *LeafIterator {
	log.Trace(log.TrieMonitoring, "Iter", "root", root)
	return &LeafIterator{tree: t, stack: []common.Hash{root}}
}

func reverseHashes(in []common.Hash) []common.Hash {
	out := make([]common.Hash, len(in))
	for i, h := range in {
		out[len(in)-1-i] = h
	}
	return out
}
