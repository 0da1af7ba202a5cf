package taptree

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/uncomputable/tappy/descriptor"
	"github.com/uncomputable/tappy/miniscript"
)

var (
	// ErrTreeTooDeep is returned if splitting alternatives pushes a leaf
	// below the deepest level a control block can prove.
	ErrTreeTooDeep = errors.New("script tree too deep")
)

// Leaf is a single tapscript of a compiled tree.
type Leaf struct {
	// Script is the Miniscript expression the leaf was compiled from.
	Script miniscript.Node

	// TapLeaf is the leaf version and encoded script.
	TapLeaf txscript.TapLeaf

	// Depth is the number of branches between the leaf and the root.
	Depth int

	// InclusionProof is the concatenation of the sibling hashes from the
	// leaf up to the root.
	InclusionProof []byte
}

// TapTree is the Taproot commitment of a descriptor.
type TapTree struct {
	InternalKey *btcec.PublicKey

	// Leaves are ordered left to right as they appear in the tree.
	Leaves []*Leaf

	// MerkleRoot is None for outputs without a script tree.
	MerkleRoot fn.Option[chainhash.Hash]

	OutputKey       *btcec.PublicKey
	OutputKeyYIsOdd bool
}

type treeNode struct {
	tapNode     txscript.TapNode
	leaf        *Leaf
	left, right *treeNode
}

// Compile builds the Taproot tree of a descriptor. Every leaf whose top level
// fragment is or_d or or_i is split into one leaf per alternative, which
// keeps the unused alternative off-chain. Compilation is deterministic: the
// leaf order follows the descriptor and branch hashes sort their children.
func Compile(d *descriptor.Descriptor) (*TapTree, error) {
	internalKey, err := schnorr.ParsePubKey(d.InternalKey[:])
	if err != nil {
		return nil, fmt.Errorf("invalid internal key: %w", err)
	}

	tree := &TapTree{
		InternalKey: internalKey,
		MerkleRoot:  fn.None[chainhash.Hash](),
	}

	if d.Tree == nil {
		tree.OutputKey = txscript.ComputeTaprootKeyNoScript(internalKey)
	} else {
		root, err := build(d.Tree)
		if err != nil {
			return nil, err
		}
		collectLeaves(root, 0, nil, &tree.Leaves)
		if err := checkDepth(tree.Leaves); err != nil {
			return nil, err
		}

		rootHash := root.tapNode.TapHash()
		tree.MerkleRoot = fn.Some(rootHash)
		tree.OutputKey = txscript.ComputeTaprootOutputKey(
			internalKey, rootHash[:],
		)
	}

	compressed := tree.OutputKey.SerializeCompressed()
	tree.OutputKeyYIsOdd = compressed[0] == 0x03

	log.Debugf("Compiled %s: %d leaves, output key %x", d,
		len(tree.Leaves), schnorr.SerializePubKey(tree.OutputKey))

	return tree, nil
}

func build(t *descriptor.Tree) (*treeNode, error) {
	if t.IsLeaf() {
		return buildScript(t.Script)
	}

	left, err := build(t.Left)
	if err != nil {
		return nil, err
	}
	right, err := build(t.Right)
	if err != nil {
		return nil, err
	}

	return branch(left, right), nil
}

func buildScript(n miniscript.Node) (*treeNode, error) {
	if or, ok := n.(*miniscript.Or); ok &&
		(or.Kind == miniscript.OrD || or.Kind == miniscript.OrI) {

		left, err := buildScript(or.X)
		if err != nil {
			return nil, err
		}
		right, err := buildScript(or.Z)
		if err != nil {
			return nil, err
		}

		return branch(left, right), nil
	}

	script, err := miniscript.Script(n)
	if err != nil {
		return nil, err
	}
	leaf := &Leaf{
		Script:  n,
		TapLeaf: txscript.NewBaseTapLeaf(script),
	}

	return &treeNode{tapNode: leaf.TapLeaf, leaf: leaf}, nil
}

func branch(left, right *treeNode) *treeNode {
	return &treeNode{
		tapNode: txscript.NewTapBranch(left.tapNode, right.tapNode),
		left:    left,
		right:   right,
	}
}

// collectLeaves appends all leaves below n in left to right order. siblings
// holds the hashes on the path to the root, nearest first.
func collectLeaves(n *treeNode, depth int, siblings []chainhash.Hash,
	leaves *[]*Leaf) {

	if n.leaf != nil {
		proof := make([]byte, 0, len(siblings)*chainhash.HashSize)
		for _, s := range siblings {
			proof = append(proof, s[:]...)
		}
		n.leaf.Depth = depth
		n.leaf.InclusionProof = proof
		*leaves = append(*leaves, n.leaf)

		return
	}

	withSibling := func(sibling *treeNode) []chainhash.Hash {
		path := make([]chainhash.Hash, 0, len(siblings)+1)
		path = append(path, sibling.tapNode.TapHash())
		return append(path, siblings...)
	}
	collectLeaves(n.left, depth+1, withSibling(n.right), leaves)
	collectLeaves(n.right, depth+1, withSibling(n.left), leaves)
}

// checkDepth rejects trees with leaves that can't be spent because their
// inclusion proof exceeds the consensus limit.
func checkDepth(leaves []*Leaf) error {
	for i, leaf := range leaves {
		if leaf.Depth > txscript.ControlBlockMaxNodeCount {
			return fmt.Errorf("%w: %w: leaf %d %v has depth %d, at "+
				"most %d is spendable", miniscript.ErrSyntax,
				ErrTreeTooDeep, i, leaf.Script, leaf.Depth,
				txscript.ControlBlockMaxNodeCount)
		}
	}

	return nil
}

// MerkleRootBytes returns the Merkle root, or an empty slice for outputs
// without a script tree, which is the form the key path tweak expects.
func (t *TapTree) MerkleRootBytes() []byte {
	root := []byte{}
	t.MerkleRoot.WhenSome(func(h chainhash.Hash) {
		root = h[:]
	})

	return root
}

// PkScript returns the P2TR output script.
func (t *TapTree) PkScript() ([]byte, error) {
	return txscript.PayToTaprootScript(t.OutputKey)
}

// Address returns the P2TR address of the output key.
func (t *TapTree) Address(params *chaincfg.Params) (*btcutil.AddressTaproot,
	error) {

	return btcutil.NewAddressTaproot(
		schnorr.SerializePubKey(t.OutputKey), params,
	)
}

// Leaf returns the leaf with the given index.
func (t *TapTree) Leaf(i int) (*Leaf, error) {
	if i < 0 || i >= len(t.Leaves) {
		return nil, fmt.Errorf("leaf %d out of range, tree has %d "+
			"leaves", i, len(t.Leaves))
	}

	return t.Leaves[i], nil
}

// InclusionProof returns the Merkle path of leaf i, nearest sibling first.
func (t *TapTree) InclusionProof(i int) ([]byte, error) {
	leaf, err := t.Leaf(i)
	if err != nil {
		return nil, err
	}

	return leaf.InclusionProof, nil
}

// ControlBlock returns the control block that proves the membership of leaf
// i in the tree.
func (t *TapTree) ControlBlock(i int) (*txscript.ControlBlock, error) {
	leaf, err := t.Leaf(i)
	if err != nil {
		return nil, err
	}

	return &txscript.ControlBlock{
		InternalKey:     t.InternalKey,
		OutputKeyYIsOdd: t.OutputKeyYIsOdd,
		LeafVersion:     leaf.TapLeaf.LeafVersion,
		InclusionProof:  leaf.InclusionProof,
	}, nil
}
