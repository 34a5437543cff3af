package trie

import (
	"github.com/colorfulnotion/statetree/common"
)

// LeafIterator walks the leaves of one snapshot in ascending key order,
// loading nodes on demand. After Next returns false the iterator stays
// exhausted; Error reports why it stopped early.
type LeafIterator struct {
	tree  *JellyfishMerkleTree
	stack []common.Hash
	key   common.Hash
	value []byte
	err   error
}

func (it *LeafIterator) Next() bool {
	it.key, it.value = common.Hash{}, nil
	if it.err != nil {
		return false
	}
	for len(it.stack) > 0 {
		next := it.stack[len(it.stack)-1]
		it.stack = it.stack[:len(it.stack)-1]

		node, err := it.tree.getNode(next)
		if err != nil {
			it.err = err
			it.stack = nil
			return false
		}
		switch node.Kind {
		case LeafNode:
			it.key, it.value = node.Key, node.Value
			return true
		case InternalNode:
			for i := len(node.Children) - 1; i >= 0; i-- {
				if c := node.Children[i]; c != nil {
					it.stack = append(it.stack, c.Hash)
				}
			}
		}
	}
	return false
}

func (it *LeafIterator) Key() common.Hash { return it.key }

// Value returns the current value. The slice must not be modified.
func (it *LeafIterator) Value() []byte { return it.value }

func (it *LeafIterator) Error() error { return it.err }

// Release drops the remaining traversal state.
func (it *LeafIterator) Release() {
	it.stack = nil
	it.key, it.value = common.Hash{}, nil
}
