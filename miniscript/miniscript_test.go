package miniscript

import (
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

type testAssets struct {
	keys     map[[32]byte]bool
	images   map[[32]byte]bool
	sequence uint16
	locktime uint32
}

func (a *testAssets) CanSign(pubKey [32]byte) bool {
	return a.keys[pubKey]
}

func (a *testAssets) CanReveal(image [32]byte) bool {
	return a.images[image]
}

func (a *testAssets) CheckOlder(height uint16) error {
	if a.sequence < height {
		return fmt.Errorf("sequence %d < %d", a.sequence, height)
	}
	return nil
}

func (a *testAssets) CheckAfter(height uint32) error {
	if a.locktime < height {
		return fmt.Errorf("locktime %d < %d", a.locktime, height)
	}
	return nil
}

func (a *testAssets) HasKey(pubKey [32]byte) bool {
	_, ok := a.keys[pubKey]
	return ok
}

func (a *testAssets) HasImage(image [32]byte) bool {
	_, ok := a.images[image]
	return ok
}

func testKey(i byte) [32]byte {
	var secret [32]byte
	secret[31] = i
	_, pubKey := btcec.PrivKeyFromBytes(secret[:])

	var key [32]byte
	copy(key[:], schnorr.SerializePubKey(pubKey))

	return key
}

func testImage(i byte) [32]byte {
	var image [32]byte
	image[0] = i
	return image
}

func h(b [32]byte) string {
	return hex.EncodeToString(b[:])
}

var (
	keyA = testKey(1)
	keyB = testKey(2)
	keyC = testKey(3)
	img1 = testImage(1)
)

func newTestAssets() *testAssets {
	return &testAssets{
		keys: map[[32]byte]bool{
			keyA: true, keyB: true, keyC: false,
		},
		images: map[[32]byte]bool{img1: true},
	}
}

func TestParseCanonical(t *testing.T) {
	a := newTestAssets()
	testCases := []struct {
		input    string
		expected string
		typ      string
	}{{
		input:    "pk(" + h(keyA) + ")",
		expected: "pk(" + h(keyA) + ")",
		typ:      "Bondu",
	}, {
		input: "and_v(v:pk(" + h(keyA) + "), older(144))",
		expected: "and_v(v:pk(" + h(keyA) + "),older(144))",
		typ:      "Bon",
	}, {
		input: "multi_a(2, " + h(keyA) + ", " + h(keyB) + ", " +
			h(keyC) + ")",
		expected: "multi_a(2," + h(keyA) + "," + h(keyB) + "," +
			h(keyC) + ")",
		typ: "Bdu",
	}, {
		input: "thresh(2,pk(" + h(keyA) + "),s:pk(" + h(keyB) +
			"),s:pk(" + h(keyC) + "))",
		expected: "thresh(2,pk(" + h(keyA) + "),s:pk(" + h(keyB) +
			"),s:pk(" + h(keyC) + "))",
		typ: "Bdu",
	}, {
		input:    "t:or_c(pk(" + h(keyA) + "),v:sha256(" + h(img1) + "))",
		expected: "and_v(or_c(pk(" + h(keyA) + "),v:sha256(" + h(img1) + ")),1)",
		typ:      "Bu",
	}, {
		input:    "sha256_preimage(" + h(img1) + ")",
		expected: "sha256(" + h(img1) + ")",
		typ:      "Bondu",
	}, {
		input:    "or_d(pkh(" + h(keyA) + "),and_v(v:pk(" + h(keyB) + "),after(100)))",
		expected: "or_d(pkh(" + h(keyA) + "),and_v(v:pk(" + h(keyB) + "),after(100)))",
		typ:      "B",
	}}

	for _, tc := range testCases {
		node, err := Parse(tc.input, a)
		require.NoError(t, err, tc.input)
		require.Equal(t, tc.expected, node.String())
		require.Equal(t, tc.typ, node.Type().String(), tc.input)

		// The canonical form parses to the same expression.
		again, err := Parse(node.String(), a)
		require.NoError(t, err)
		require.Equal(t, node.String(), again.String())
	}
}

func TestParseErrors(t *testing.T) {
	a := newTestAssets()
	unknown := testKey(9)
	testCases := []struct {
		input string
		token string
	}{
		{input: "foo(" + h(keyA) + ")", token: "foo"},
		{input: "multi(1," + h(keyA) + ")", token: "multi"},
		{input: "hash160(" + h(img1) + ")", token: "hash160"},
		{input: "pk(+++" + h(keyA) + ")", token: "+++" + h(keyA)},
		{input: "pk(abcd)", token: "abcd"},
		{input: "older(0)", token: "older"},
		{input: "older(65536)", token: "older"},
		{input: "after(500000000)", token: "after"},
		{input: "and_v(pk(" + h(keyA) + "),pk(" + h(keyB) + "))", token: "and_v"},
		{input: "x:pk(" + h(keyA) + ")", token: "x"},
		{input: "pk(" + h(keyA) + ") trailing", token: "trailing"},
		{input: "thresh(3,pk(" + h(keyA) + "),s:pk(" + h(keyB) + "))", token: "thresh"},
		{input: "multi_a(0," + h(keyA) + ")", token: "multi_a"},
		{input: "older(010)", token: "010"},
	}

	for _, tc := range testCases {
		_, err := Parse(tc.input, a)
		require.Error(t, err, tc.input)
		require.ErrorIs(t, err, ErrSyntax, tc.input)

		var syntaxErr *SyntaxError
		require.True(t, errors.As(err, &syntaxErr))
		require.Equal(t, tc.token, syntaxErr.Token, tc.input)
	}

	_, err := Parse("pk("+h(unknown)+")", a)
	require.ErrorIs(t, err, ErrUnknownKeyOrImage)
	var unknownErr *UnknownKeyOrImageError
	require.True(t, errors.As(err, &unknownErr))
	require.Equal(t, RefKey, unknownErr.Kind)
	require.Equal(t, unknown, unknownErr.ID)
	require.Equal(t, 3, unknownErr.Pos)

	_, err = Parse("sha256("+h(testImage(7))+")", a)
	require.ErrorIs(t, err, ErrUnknownKeyOrImage)

	// A key expression is not a valid tapscript on its own.
	_, err = Parse("pk_k("+h(keyA)+")", a)
	require.ErrorIs(t, err, ErrSyntax)
}

func TestScript(t *testing.T) {
	a := newTestAssets()
	testCases := []struct {
		input    string
		expected func(b *txscript.ScriptBuilder)
	}{{
		input: "pk(" + h(keyA) + ")",
		expected: func(b *txscript.ScriptBuilder) {
			b.AddData(keyA[:]).AddOp(txscript.OP_CHECKSIG)
		},
	}, {
		input: "multi_a(2," + h(keyA) + "," + h(keyB) + "," + h(keyC) + ")",
		expected: func(b *txscript.ScriptBuilder) {
			b.AddData(keyA[:]).AddOp(txscript.OP_CHECKSIG)
			b.AddData(keyB[:]).AddOp(txscript.OP_CHECKSIGADD)
			b.AddData(keyC[:]).AddOp(txscript.OP_CHECKSIGADD)
			b.AddOp(txscript.OP_2).AddOp(txscript.OP_NUMEQUAL)
		},
	}, {
		input: "and_v(v:pk(" + h(keyA) + "),older(10))",
		expected: func(b *txscript.ScriptBuilder) {
			b.AddData(keyA[:]).AddOp(txscript.OP_CHECKSIGVERIFY)
			b.AddInt64(10).AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
		},
	}, {
		input: "and_v(v:sha256(" + h(img1) + "),pk(" + h(keyB) + "))",
		expected: func(b *txscript.ScriptBuilder) {
			b.AddOp(txscript.OP_SIZE).AddInt64(32).
				AddOp(txscript.OP_EQUALVERIFY).
				AddOp(txscript.OP_SHA256).AddData(img1[:]).
				AddOp(txscript.OP_EQUALVERIFY)
			b.AddData(keyB[:]).AddOp(txscript.OP_CHECKSIG)
		},
	}, {
		input: "or_d(pk(" + h(keyA) + "),pk(" + h(keyB) + "))",
		expected: func(b *txscript.ScriptBuilder) {
			b.AddData(keyA[:]).AddOp(txscript.OP_CHECKSIG)
			b.AddOp(txscript.OP_IFDUP).AddOp(txscript.OP_NOTIF)
			b.AddData(keyB[:]).AddOp(txscript.OP_CHECKSIG)
			b.AddOp(txscript.OP_ENDIF)
		},
	}}

	for _, tc := range testCases {
		node, err := Parse(tc.input, a)
		require.NoError(t, err, tc.input)

		script, err := Script(node)
		require.NoError(t, err)

		b := txscript.NewScriptBuilder()
		tc.expected(b)
		expected, err := b.Script()
		require.NoError(t, err)
		require.Equal(t, expected, script, tc.input)
	}
}

func TestPlanThresh(t *testing.T) {
	a := newTestAssets()
	node, err := Parse("thresh(2,pk("+h(keyA)+"),s:pk("+h(keyB)+"),s:pk("+
		h(keyC)+"))", a)
	require.NoError(t, err)

	witness, err := Plan(node, a)
	require.NoError(t, err)

	// C is dissatisfied at the bottom, A's signature is consumed first.
	require.Len(t, witness, 3)
	require.Equal(t, ElementPush, witness[0].Kind)
	require.Empty(t, witness[0].Data)
	require.Equal(t, [][32]byte{keyB, keyA}, witness.Keys())

	// With all three keys active the leftmost two still win.
	a.keys[keyC] = true
	witness, err = Plan(node, a)
	require.NoError(t, err)
	require.Equal(t, [][32]byte{keyB, keyA}, witness.Keys())

	// With only one active key the threshold can't be reached.
	a.keys[keyB] = false
	a.keys[keyC] = false
	_, err = Plan(node, a)
	var unsatErr *UnsatisfiableError
	require.True(t, errors.As(err, &unsatErr))
	require.Len(t, unsatErr.Blockers, 2)
	require.Equal(t, BlockerMissingKey, unsatErr.Blockers[0].Kind)
}

func TestPlanMulti(t *testing.T) {
	a := newTestAssets()
	node, err := Parse("multi_a(2,"+h(keyC)+","+h(keyA)+","+h(keyB)+")", a)
	require.NoError(t, err)

	witness, err := Plan(node, a)
	require.NoError(t, err)
	require.Len(t, witness, 3)

	// The element of the first key is on top of the stack.
	require.Equal(t, ElementSignature, witness[0].Kind)
	require.Equal(t, keyB, witness[0].Key)
	require.Equal(t, ElementSignature, witness[1].Kind)
	require.Equal(t, keyA, witness[1].Key)
	require.Equal(t, ElementPush, witness[2].Kind)
}

func TestPlanOr(t *testing.T) {
	a := newTestAssets()
	a.keys[keyA] = false
	node, err := Parse("or_d(pk("+h(keyA)+"),pk("+h(keyB)+"))", a)
	require.NoError(t, err)

	witness, err := Plan(node, a)
	require.NoError(t, err)
	require.Equal(t, "<sig "+h(keyB)[:16]+"> <>", witness.String())

	// The left branch wins as soon as it is available.
	a.keys[keyA] = true
	witness, err = Plan(node, a)
	require.NoError(t, err)
	require.Equal(t, [][32]byte{keyA}, witness.Keys())

	node, err = Parse("or_i(pk("+h(keyC)+"),sha256("+h(img1)+"))", a)
	require.NoError(t, err)
	witness, err = Plan(node, a)
	require.NoError(t, err)
	require.Equal(t, ElementPreimage, witness[0].Kind)
	require.Equal(t, []byte{}, witness[1].Data)
}

func TestPlanTimelocks(t *testing.T) {
	a := newTestAssets()
	node, err := Parse("and_v(v:pk("+h(keyC)+"),and_v(v:older(10),"+
		"after(100)))", a)
	require.NoError(t, err)

	_, err = Plan(node, a)
	var unsatErr *UnsatisfiableError
	require.True(t, errors.As(err, &unsatErr))
	require.Len(t, unsatErr.Blockers, 3)
	require.Equal(t, BlockerTimelock, unsatErr.Blockers[0].Kind)
	require.Equal(t, "after(100)", unsatErr.Blockers[0].Predicate)
	require.Equal(t, "older(10)", unsatErr.Blockers[1].Predicate)
	require.Equal(t, BlockerMissingKey, unsatErr.Blockers[2].Kind)

	a.keys[keyC] = true
	a.sequence = 10
	a.locktime = 100
	witness, err := Plan(node, a)
	require.NoError(t, err)
	require.Equal(t, [][32]byte{keyC}, witness.Keys())
}
