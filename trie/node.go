package trie

import (
	"fmt"
	"math/bits"

	"github.com/colorfulnotion/statetree/common"
	"github.com/colorfulnotion/statetree/jmterrors"
	"github.com/ethereum/go-ethereum/rlp"
)

// NodeKey addresses a node in the node store. Nodes are content addressed,
// so a node's key is its hash.
type NodeKey = common.Hash

type NodeKind uint8

const (
	NullNode NodeKind = iota
	InternalNode
	LeafNode
)

func (k NodeKind) String() string {
	switch k {
	case NullNode:
		return "null"
	case InternalNode:
		return "internal"
	case LeafNode:
		return "leaf"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Child references one slot of an internal node.
type Child struct {
	Hash   common.Hash
	IsLeaf bool
}

// Node is the tagged union of the three node variants. Nodes are immutable
// once built: the constructors compute the hash up front.
type Node struct {
	Kind NodeKind

	// internal
	Children [16]*Child

	// leaf
	Key       common.Hash
	ValueHash common.Hash
	Value     []byte

	hash common.Hash
}

var nullNode = &Node{Kind: NullNode, hash: SparseMerklePlaceholderHash}

// NewNullNode returns the empty subtree.
func NewNullNode() *Node {
	return nullNode
}

func NewLeafNode(key common.Hash, value []byte) *Node {
	valueHash := computeValueHash(value)
	stored := make([]byte, len(value))
	copy(stored, value)
	return &Node{
		Kind:      LeafNode,
		Key:       key,
		ValueHash: valueHash,
		Value:     stored,
		hash:      computeLeaf(key, valueHash),
	}
}

// NewInternalNode builds an internal node. A canonical internal node has at
// least two children, or a single internal child.
func NewInternalNode(children [16]*Child) *Node {
	n := &Node{Kind: InternalNode, Children: children}
	n.hash = n.merkleHash(0, 16)
	return n
}

func (n *Node) Hash() common.Hash { return n.hash }

func (n *Node) IsLeaf() bool { return n.Kind == LeafNode }

// NumChildren returns the number of occupied slots of an internal node.
func (n *Node) NumChildren() int {
	return bits.OnesCount16(n.existenceBitmap())
}

// Ref returns the reference a parent keeps for n.
func (n *Node) Ref() *Child {
	return &Child{Hash: n.hash, IsLeaf: n.Kind == LeafNode}
}

func (n *Node) existenceBitmap() uint16 {
	var bitmap uint16
	for i, c := range n.Children {
		if c != nil {
			bitmap |= 1 << i
		}
	}
	return bitmap
}

func (n *Node) leafBitmap() uint16 {
	var bitmap uint16
	for i, c := range n.Children {
		if c != nil && c.IsLeaf {
			bitmap |= 1 << i
		}
	}
	return bitmap
}

func rangeMask(start, width int) uint16 {
	return uint16(((1 << width) - 1) << start)
}

// merkleHash folds the children in [start, start+width) as a binary Merkle
// tree. Empty ranges hash to the placeholder and a range holding exactly one
// leaf takes that leaf's hash.
func (n *Node) merkleHash(start, width int) common.Hash {
	mask := rangeMask(start, width)
	existence := n.existenceBitmap() & mask
	if existence == 0 {
		return SparseMerklePlaceholderHash
	}
	if width == 1 || (bits.OnesCount16(existence) == 1 && n.leafBitmap()&mask != 0) {
		return n.Children[bits.TrailingZeros16(existence)].Hash
	}
	half := width / 2
	return computeNode(n.merkleHash(start, half), n.merkleHash(start+half, half))
}

// childWithSiblings descends from n towards nibble and returns the child to
// continue with, plus the sibling hashes collected top-down. A nil child means
// the queried slot is empty. A leaf child found before the lowest level may
// hold another key and then proves the absence of nibble's subtree.
func (n *Node) childWithSiblings(nibble uint8) (*Child, []common.Hash) {
	siblings := make([]common.Hash, 0, 4)
	existence := n.existenceBitmap()
	leaves := n.leafBitmap()
	for height := 3; height >= 0; height-- {
		width := 1 << height
		childStart := int(nibble) &^ (width - 1)
		siblingStart := childStart ^ width
		siblings = append(siblings, n.merkleHash(siblingStart, width))

		mask := rangeMask(childStart, width)
		inRange := existence & mask
		if inRange == 0 {
			return nil, siblings
		}
		if width == 1 || (bits.OnesCount16(inRange) == 1 && leaves&mask != 0) {
			return n.Children[bits.TrailingZeros16(inRange)], siblings
		}
	}
	panic("unreachable")
}

type leafRLP struct {
	Key   common.Hash
	Value []byte
}

type childRLP struct {
	Index  uint8
	Hash   common.Hash
	IsLeaf bool
}

type internalRLP struct {
	Children []childRLP
}

// EncodeBytes returns the store record of n: one kind byte followed by the
// RLP encoding of the variant.
func (n *Node) EncodeBytes() ([]byte, error) {
	var (
		body []byte
		err  error
	)
	switch n.Kind {
	case NullNode:
	case LeafNode:
		body, err = rlp.EncodeToBytes(&leafRLP{Key: n.Key, Value: n.Value})
	case InternalNode:
		enc := internalRLP{Children: make([]childRLP, 0, 16)}
		for i, c := range n.Children {
			if c != nil {
				enc.Children = append(enc.Children, childRLP{Index: uint8(i), Hash: c.Hash, IsLeaf: c.IsLeaf})
			}
		}
		body, err = rlp.EncodeToBytes(&enc)
	default:
		return nil, fmt.Errorf("unknown node kind %d", n.Kind)
	}
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(n.Kind)}, body...), nil
}

// DecodeNode parses a store record produced by EncodeBytes.
func DecodeNode(data []byte) (*Node, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty record", jmterrors.ErrCorruptedNode)
	}
	switch NodeKind(data[0]) {
	case NullNode:
		if len(data) != 1 {
			return nil, fmt.Errorf("%w: trailing bytes after null node", jmterrors.ErrCorruptedNode)
		}
		return nullNode, nil
	case LeafNode:
		var dec leafRLP
		if err := rlp.DecodeBytes(data[1:], &dec); err != nil {
			return nil, fmt.Errorf("%w: leaf: %v", jmterrors.ErrCorruptedNode, err)
		}
		return NewLeafNode(dec.Key, dec.Value), nil
	case InternalNode:
		var dec internalRLP
		if err := rlp.DecodeBytes(data[1:], &dec); err != nil {
			return nil, fmt.Errorf("%w: internal: %v", jmterrors.ErrCorruptedNode, err)
		}
		var children [16]*Child
		for _, c := range dec.Children {
			if c.Index > 15 || children[c.Index] != nil {
				return nil, fmt.Errorf("%w: bad child index %d", jmterrors.ErrCorruptedNode, c.Index)
			}
			children[c.Index] = &Child{Hash: c.Hash, IsLeaf: c.IsLeaf}
		}
		return NewInternalNode(children), nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", jmterrors.ErrCorruptedNode, data[0])
	}
}

func (n *Node) String() string {
	switch n.Kind {
	case LeafNode:
		return fmt.Sprintf("leaf(%s key=%s value=%d bytes)", n.hash.String_short(), n.Key.String_short(), len(n.Value))
	case InternalNode:
		return fmt.Sprintf("internal(%s children=%d)", n.hash.String_short(), n.NumChildren())
	default:
		return "null"
	}
}
