package trie

import (
	"github.com/colorfulnotion/statetree/common"
)

// SparseMerklePlaceholderHash is the hash of every empty subtree.
var SparseMerklePlaceholderHash = common.BytesToHash([]byte("SPARSE_MERKLE_PLACEHOLDER_HASH__"))

// computeValueHash hashes a leaf blob using Blake2b-256
func computeValueHash(value []byte) common.Hash {
	return common.Blake2Hash(value)
}

// computeLeaf hashes key ‖ valueHash with $leaf using Blake2b-256
func computeLeaf(key common.Hash, valueHash common.Hash) common.Hash {
	return common.Blake2HashWithPrefix("leaf", key.Bytes(), valueHash.Bytes())
}

// computeNode hashes left ‖ right with $node using Blake2b-256
func computeNode(left common.Hash, right common.Hash) common.Hash {
	return common.Blake2HashWithPrefix("node", left.Bytes(), right.Bytes())
}

// ValueHash is the hash committed to by a leaf holding value.
func ValueHash(value []byte) common.Hash {
	return computeValueHash(value)
}
