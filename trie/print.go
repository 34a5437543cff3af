package trie

import (
	"fmt"

	"github.com/colorfulnotion/statetree/common"
	"github.com/xlab/treeprint"
)

// ToTree renders the snapshot root for debugging.
func (t *JellyfishMerkleTree) ToTree(root common.Hash) (treeprint.Tree, error) {
	tree := treeprint.New()
	node, err := t.getNode(root)
	if err != nil {
		return nil, err
	}
	tree.SetValue(fmt.Sprintf("root %s", root.String_short()))
	if err := t.addToTree(tree, node); err != nil {
		return nil, err
	}
	return tree, nil
}

func (t *JellyfishMerkleTree) addToTree(branch treeprint.Tree, node *Node) error {
	switch node.Kind {
	case NullNode:
		branch.AddNode("<empty>")
	case LeafNode:
		branch.AddNode(leafLabel(node))
	case InternalNode:
		for i, c := range node.Children {
			if c == nil {
				continue
			}
			child, err := t.getNode(c.Hash)
			if err != nil {
				return err
			}
			if child.IsLeaf() {
				branch.AddNode(fmt.Sprintf("[%x] %s", i, leafLabel(child)))
				continue
			}
			sub := branch.AddBranch(fmt.Sprintf("[%x] internal %s", i, child.Hash().String_short()))
			if err := t.addToTree(sub, child); err != nil {
				return err
			}
		}
	}
	return nil
}

func leafLabel(n *Node) string {
	value := common.Bytes2Hex(n.Value)
	if len(value) > 18 {
		value = value[:18] + ".."
	}
	return fmt.Sprintf("leaf %s key=%s value=%s", n.Hash().String_short(), n.Key.String_short(), value)
}
