package trie

import (
	"bytes"

	"github.com/colorfulnotion/statetree/common"
	"github.com/colorfulnotion/statetree/log"
	"golang.org/x/exp/slices"
)

// BlobUpdate sets Key to Value. A nil Value deletes Key.
type BlobUpdate struct {
	Key   common.Hash
	Value []byte
}

type staleNode struct {
	key    NodeKey
	isLeaf bool
}

// treeUpdater carries the bookkeeping of one PutBlobSet call.
type treeUpdater struct {
	tree  *JellyfishMerkleTree
	batch *TreeUpdateBatch
	stale []staleNode
}

// PutBlobSet applies updates to the snapshot root and returns the new root
// with the change set that produced it. Later entries for the same key win.
func (t *JellyfishMerkleTree) PutBlobSet(root common.Hash, updates []BlobUpdate) (common.Hash, *TreeUpdateBatch, error) {
	ops := dedupSorted(updates)
	u := &treeUpdater{tree: t, batch: NewTreeUpdateBatch()}
	if len(ops) == 0 {
		return root, u.batch, nil
	}

	rootNode, err := t.getNode(root)
	if err != nil {
		return common.Hash{}, nil, err
	}
	ref, err := u.update(rootNode, 0, ops)
	if err != nil {
		return common.Hash{}, nil, err
	}
	newRoot := SparseMerklePlaceholderHash
	if ref != nil {
		newRoot = ref.Hash
	}
	if newRoot != root && root == SparseMerklePlaceholderHash {
		u.stale = append(u.stale, staleNode{key: root})
	}

	for _, s := range u.stale {
		if _, recreated := u.batch.NodeBatch[s.key]; recreated {
			continue
		}
		u.batch.StaleNodeIndexBatch[StaleNodeIndex{StaleSinceVersion: newRoot, NodeKey: s.key}] = struct{}{}
		if s.isLeaf {
			u.batch.NumStaleLeaves++
		}
	}
	log.Debug(log.TrieMonitoring, "PutBlobSet", "root", root, "newRoot", newRoot, "updates", len(ops), "batch", u.batch)
	return newRoot, u.batch, nil
}

// Delete removes key from the snapshot root.
func (t *JellyfishMerkleTree) Delete(root common.Hash, key common.Hash) (common.Hash, *TreeUpdateBatch, error) {
	return t.PutBlobSet(root, []BlobUpdate{{Key: key, Value: nil}})
}

func dedupSorted(updates []BlobUpdate) []BlobUpdate {
	last := make(map[common.Hash]int, len(updates))
	for i, u := range updates {
		last[u.Key] = i
	}
	ops := make([]BlobUpdate, 0, len(last))
	for i, u := range updates {
		if last[u.Key] == i {
			ops = append(ops, u)
		}
	}
	slices.SortFunc(ops, func(a, b BlobUpdate) int {
		return bytes.Compare(a.Key[:], b.Key[:])
	})
	return ops
}

func (u *treeUpdater) markStale(n *Node) {
	u.stale = append(u.stale, staleNode{key: n.Hash(), isLeaf: n.IsLeaf()})
}

func (u *treeUpdater) newLeaf(key common.Hash, value []byte) *Node {
	leaf := NewLeafNode(key, value)
	u.batch.putNode(leaf)
	return leaf
}

// update rewrites the subtree node at nibble depth with ops, all of which
// fall under that subtree. It returns the reference to the rebuilt subtree,
// or nil when the subtree is now empty.
func (u *treeUpdater) update(node *Node, depth int, ops []BlobUpdate) (*Child, error) {
	switch node.Kind {
	case LeafNode:
		return u.updateLeaf(node, depth, ops), nil
	case InternalNode:
		if depth == common.NibblesPerKey {
			return nil, errTooDeep(ops[0].Key)
		}
		return u.updateInternal(node, depth, ops)
	default:
		return u.build(depth, u.newLeaves(ops, nil)), nil
	}
}

// newLeaves creates leaves for the non-delete ops whose key differs from skip.
func (u *treeUpdater) newLeaves(ops []BlobUpdate, skip *common.Hash) []*Node {
	leaves := make([]*Node, 0, len(ops))
	for _, op := range ops {
		if op.Value == nil || (skip != nil && op.Key == *skip) {
			continue
		}
		leaves = append(leaves, u.newLeaf(op.Key, op.Value))
	}
	return leaves
}

func (u *treeUpdater) updateLeaf(leaf *Node, depth int, ops []BlobUpdate) *Child {
	live := u.newLeaves(ops, &leaf.Key)
	kept := leaf
	for _, op := range ops {
		if op.Key != leaf.Key {
			continue
		}
		switch {
		case op.Value == nil:
			u.markStale(leaf)
			kept = nil
		case computeValueHash(op.Value) != leaf.ValueHash:
			u.markStale(leaf)
			kept = u.newLeaf(op.Key, op.Value)
		}
	}
	if kept == leaf && len(live) == 0 {
		return leaf.Ref()
	}
	if kept != nil {
		live = append(live, kept)
		slices.SortFunc(live, func(a, b *Node) int {
			return bytes.Compare(a.Key[:], b.Key[:])
		})
	}
	return u.build(depth, live)
}

// build creates the canonical subtree holding leaves, which are sorted by key
// and share their first depth nibbles. Leaves sharing a nibble at depth get
// an internal node one level deeper until their keys diverge.
func (u *treeUpdater) build(depth int, leaves []*Node) *Child {
	switch len(leaves) {
	case 0:
		return nil
	case 1:
		return leaves[0].Ref()
	}
	var children [16]*Child
	for start := 0; start < len(leaves); {
		nibble := leaves[start].Key.Nibble(depth)
		end := start + 1
		for end < len(leaves) && leaves[end].Key.Nibble(depth) == nibble {
			end++
		}
		children[nibble] = u.build(depth+1, leaves[start:end])
		start = end
	}
	internal := NewInternalNode(children)
	u.batch.putNode(internal)
	return internal.Ref()
}

func (u *treeUpdater) updateInternal(node *Node, depth int, ops []BlobUpdate) (*Child, error) {
	children := node.Children
	changed := false
	for start := 0; start < len(ops); {
		nibble := ops[start].Key.Nibble(depth)
		end := start + 1
		for end < len(ops) && ops[end].Key.Nibble(depth) == nibble {
			end++
		}
		group := ops[start:end]
		start = end

		old := children[nibble]
		var ref *Child
		if old == nil {
			ref = u.build(depth+1, u.newLeaves(group, nil))
		} else {
			child, err := u.tree.getNode(old.Hash)
			if err != nil {
				return nil, err
			}
			if ref, err = u.update(child, depth+1, group); err != nil {
				return nil, err
			}
		}
		if !sameRef(old, ref) {
			children[nibble] = ref
			changed = true
		}
	}
	if !changed {
		return node.Ref(), nil
	}
	u.markStale(node)

	var only *Child
	count := 0
	for _, c := range children {
		if c != nil {
			only = c
			count++
		}
	}
	switch {
	case count == 0:
		return nil, nil
	case count == 1 && only.IsLeaf:
		return only, nil
	}
	internal := NewInternalNode(children)
	u.batch.putNode(internal)
	return internal.Ref(), nil
}

func sameRef(a, b *Child) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
