package trie

import (
	"bytes"
	"fmt"

	"github.com/colorfulnotion/statetree/common"
	"golang.org/x/exp/slices"
)

// StaleNodeIndex records that NodeKey is no longer reachable from the root
// committed as StaleSinceVersion.
type StaleNodeIndex struct {
	StaleSinceVersion common.Hash `json:"stale_since_version"`
	NodeKey           NodeKey     `json:"node_key"`
}

// TreeUpdateBatch is the change set of one or more commits.
type TreeUpdateBatch struct {
	NodeBatch           map[NodeKey]*Node
	StaleNodeIndexBatch map[StaleNodeIndex]struct{}
	NumNewLeaves        int
	NumStaleLeaves      int
}

func NewTreeUpdateBatch() *TreeUpdateBatch {
	return &TreeUpdateBatch{
		NodeBatch:           make(map[NodeKey]*Node),
		StaleNodeIndexBatch: make(map[StaleNodeIndex]struct{}),
	}
}

// Copy returns a copy that shares the immutable nodes but none of the maps.
func (b *TreeUpdateBatch) Copy() *TreeUpdateBatch {
	c := &TreeUpdateBatch{
		NodeBatch:           make(map[NodeKey]*Node, len(b.NodeBatch)),
		StaleNodeIndexBatch: make(map[StaleNodeIndex]struct{}, len(b.StaleNodeIndexBatch)),
		NumNewLeaves:        b.NumNewLeaves,
		NumStaleLeaves:      b.NumStaleLeaves,
	}
	for k, n := range b.NodeBatch {
		c.NodeBatch[k] = n
	}
	for idx := range b.StaleNodeIndexBatch {
		c.StaleNodeIndexBatch[idx] = struct{}{}
	}
	return c
}

func (b *TreeUpdateBatch) IsEmpty() bool {
	return len(b.NodeBatch) == 0 && len(b.StaleNodeIndexBatch) == 0
}

func (b *TreeUpdateBatch) putNode(n *Node) {
	b.NodeBatch[n.Hash()] = n
	if n.IsLeaf() {
		b.NumNewLeaves++
	}
}

// StaleIndices returns the stale entries ordered by version then node key.
func (b *TreeUpdateBatch) StaleIndices() []StaleNodeIndex {
	out := make([]StaleNodeIndex, 0, len(b.StaleNodeIndexBatch))
	for idx := range b.StaleNodeIndexBatch {
		out = append(out, idx)
	}
	SortStaleNodeIndices(out)
	return out
}

// SortStaleNodeIndices orders indices by version then node key.
func SortStaleNodeIndices(indices []StaleNodeIndex) {
	slices.SortFunc(indices, func(a, b StaleNodeIndex) int {
		if c := bytes.Compare(a.StaleSinceVersion[:], b.StaleSinceVersion[:]); c != 0 {
			return c
		}
		return bytes.Compare(a.NodeKey[:], b.NodeKey[:])
	})
}

func (b *TreeUpdateBatch) String() string {
	return fmt.Sprintf("nodes=%d stale=%d new_leaves=%d stale_leaves=%d",
		len(b.NodeBatch), len(b.StaleNodeIndexBatch), b.NumNewLeaves, b.NumStaleLeaves)
}
