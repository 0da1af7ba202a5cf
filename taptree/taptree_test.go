package taptree

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
	"github.com/uncomputable/tappy/descriptor"
	"github.com/uncomputable/tappy/miniscript"
)

type testResolver struct{}

func (testResolver) HasKey([32]byte) bool {
	return true
}

func (testResolver) HasImage([32]byte) bool {
	return true
}

func testKey(i byte) (string, *btcec.PublicKey) {
	var secret [32]byte
	secret[31] = i
	_, pubKey := btcec.PrivKeyFromBytes(secret[:])

	return hex.EncodeToString(schnorr.SerializePubKey(pubKey)), pubKey
}

func compile(t *testing.T, s string) *TapTree {
	t.Helper()

	d, err := descriptor.Parse(s, testResolver{})
	require.NoError(t, err)

	tree, err := Compile(d)
	require.NoError(t, err)

	return tree
}

func TestCompileKeyOnly(t *testing.T) {
	k, pubKey := testKey(1)
	tree := compile(t, "tr("+k+")")

	require.Empty(t, tree.Leaves)
	require.True(t, tree.MerkleRoot.IsNone())
	require.Empty(t, tree.MerkleRootBytes())
	require.Equal(
		t, schnorr.SerializePubKey(
			txscript.ComputeTaprootKeyNoScript(pubKey),
		), schnorr.SerializePubKey(tree.OutputKey),
	)

	pkScript, err := tree.PkScript()
	require.NoError(t, err)
	require.Len(t, pkScript, 34)

	addr, err := tree.Address(&chaincfg.RegressionNetParams)
	require.NoError(t, err)
	require.Equal(t, "bcrt1p", addr.String()[:6])

	_, err = tree.ControlBlock(0)
	require.Error(t, err)
}

func TestCompileSingleLeaf(t *testing.T) {
	k, _ := testKey(1)
	a, _ := testKey(2)
	b, _ := testKey(3)
	tree := compile(t, "tr("+k+",multi_a(1,"+a+","+b+"))")

	require.Len(t, tree.Leaves, 1)
	require.Equal(t, 0, tree.Leaves[0].Depth)
	require.Empty(t, tree.Leaves[0].InclusionProof)

	root := tree.Leaves[0].TapLeaf.TapHash()
	require.Equal(t, root[:], tree.MerkleRootBytes())

	block, err := tree.ControlBlock(0)
	require.NoError(t, err)

	blockBytes, err := block.ToBytes()
	require.NoError(t, err)
	require.Len(t, blockBytes, 33)
}

func TestCompileCommitments(t *testing.T) {
	k, _ := testKey(1)
	a, _ := testKey(2)
	b, _ := testKey(3)
	c, _ := testKey(4)
	desc := "tr(" + k + ",{pk(" + a + "),{pk(" + b + "),and_v(v:pk(" + c +
		"),older(10))}})"

	tree := compile(t, desc)
	require.Len(t, tree.Leaves, 3)
	require.Equal(t, []int{1, 2, 2}, []int{
		tree.Leaves[0].Depth, tree.Leaves[1].Depth,
		tree.Leaves[2].Depth,
	})

	outputKey := schnorr.SerializePubKey(tree.OutputKey)
	for i, leaf := range tree.Leaves {
		block, err := tree.ControlBlock(i)
		require.NoError(t, err)
		require.Len(t, block.InclusionProof, 32*leaf.Depth)

		err = txscript.VerifyTaprootLeafCommitment(
			block, outputKey, leaf.TapLeaf.Script,
		)
		require.NoError(t, err, "leaf %d", i)
	}

	// Compiling the same descriptor again gives the same output key.
	again := compile(t, desc)
	require.Equal(t, outputKey, schnorr.SerializePubKey(again.OutputKey))
	require.Equal(t, tree.MerkleRootBytes(), again.MerkleRootBytes())
}

func TestCompileSplitsAlternatives(t *testing.T) {
	k, _ := testKey(1)
	a, _ := testKey(2)
	b, _ := testKey(3)
	tree := compile(t, "tr("+k+",or_d(pk("+a+"),and_v(v:pk("+b+
		"),older(144))))")

	require.Len(t, tree.Leaves, 2)
	require.Equal(t, "pk("+a+")", tree.Leaves[0].Script.String())
	require.Equal(
		t, "and_v(v:pk("+b+"),older(144))",
		tree.Leaves[1].Script.String(),
	)

	for i, leaf := range tree.Leaves {
		script, err := miniscript.Script(leaf.Script)
		require.NoError(t, err)
		require.Equal(t, script, leaf.TapLeaf.Script)

		block, err := tree.ControlBlock(i)
		require.NoError(t, err)
		require.NoError(t, txscript.VerifyTaprootLeafCommitment(
			block, schnorr.SerializePubKey(tree.OutputKey),
			leaf.TapLeaf.Script,
		))
	}
}

func TestInclusionProofRange(t *testing.T) {
	k, _ := testKey(1)
	a, _ := testKey(2)
	b, _ := testKey(3)
	tree := compile(t, "tr("+k+",{pk("+a+"),pk("+b+")})")

	proof, err := tree.InclusionProof(1)
	require.NoError(t, err)

	sibling := tree.Leaves[0].TapLeaf.TapHash()
	require.Equal(t, sibling[:], proof)

	_, err = tree.InclusionProof(2)
	require.Error(t, err)

	_, err = tree.Leaf(-1)
	require.Error(t, err)
}

// nestedTree returns a descriptor whose braces nest braceDepth levels deep
// with a leaf of orDepth nested or_i alternatives at the bottom.
func nestedTree(k, a, b string, braceDepth, orDepth int) string {
	leaf := "pk(" + b + ")"
	for i := 0; i < orDepth; i++ {
		leaf = "or_i(pk(" + a + ")," + leaf + ")"
	}

	tree := leaf
	for i := 0; i < braceDepth; i++ {
		tree = "{pk(" + a + ")," + tree + "}"
	}

	return "tr(" + k + "," + tree + ")"
}

func TestCompileDepthLimit(t *testing.T) {
	k, _ := testKey(1)
	a, _ := testKey(2)
	b, _ := testKey(3)

	// The deepest leaf ends up exactly at the limit.
	tree := compile(t, nestedTree(k, a, b, 100, 28))
	last := tree.Leaves[len(tree.Leaves)-1]
	require.Equal(t, txscript.ControlBlockMaxNodeCount, last.Depth)

	block, err := tree.ControlBlock(len(tree.Leaves) - 1)
	require.NoError(t, err)
	require.NoError(t, txscript.VerifyTaprootLeafCommitment(
		block, schnorr.SerializePubKey(tree.OutputKey),
		last.TapLeaf.Script,
	))

	// Both the brace nesting and each or_i are below the parser limits,
	// only the split leaves are too deep.
	d, err := descriptor.Parse(nestedTree(k, a, b, 100, 29), testResolver{})
	require.NoError(t, err)

	_, err = Compile(d)
	require.ErrorIs(t, err, ErrTreeTooDeep)
	require.ErrorIs(t, err, miniscript.ErrSyntax)
}
