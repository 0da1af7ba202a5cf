package satisfy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
	"github.com/uncomputable/tappy/descriptor"
	"github.com/uncomputable/tappy/miniscript"
	"github.com/uncomputable/tappy/secrets"
	"github.com/uncomputable/tappy/taptree"
	"github.com/uncomputable/tappy/timelock"
)

const testAmount = 100_000

// spyStore records which secrets the satisfier asked for.
type spyStore struct {
	*secrets.Store

	mu        sync.Mutex
	requested map[[32]byte]int
}

func (s *spyStore) ActiveSecret(pubKey [32]byte) (*btcec.PrivateKey, bool) {
	s.mu.Lock()
	s.requested[pubKey]++
	s.mu.Unlock()

	return s.Store.ActiveSecret(pubKey)
}

type testEnv struct {
	store *spyStore
	keys  []*secrets.KeyPair
	image *secrets.ImagePair
}

// newTestEnv creates a store with five active keys, K, A, B, C and D in
// that order, and one active preimage.
func newTestEnv(t *testing.T) *testEnv {
	env := &testEnv{
		store: &spyStore{
			Store:     secrets.NewStore(),
			requested: make(map[[32]byte]int),
		},
	}
	for i := 1; i <= 5; i++ {
		pair, err := env.store.ImportKey(fmt.Sprintf("%064x", i), false)
		require.NoError(t, err)
		env.keys = append(env.keys, pair)
	}

	image, err := env.store.ImportImage(
		"0202020202020202020202020202020202020202020202020202020202020202",
		false,
	)
	require.NoError(t, err)
	env.image = image

	return env
}

func (e *testEnv) key(i int) string {
	return e.keys[i].PubKeyHex()
}

func (e *testEnv) deactivate(t *testing.T, indexes ...int) {
	for _, i := range indexes {
		require.NoError(t, e.store.SetKeyActive(e.keys[i].PubKey, false))
	}
}

func (e *testEnv) compile(t *testing.T, desc string) *taptree.TapTree {
	d, err := descriptor.Parse(desc, e.store)
	require.NoError(t, err)

	tree, err := taptree.Compile(d)
	require.NoError(t, err)

	return tree
}

type testSpend struct {
	tx       *wire.MsgTx
	pkScript []byte
	fetcher  txscript.PrevOutputFetcher
}

func newTestSpend(t *testing.T, tree *taptree.TapTree, seq timelock.Sequence,
	locktime uint32) *testSpend {

	pkScript, err := tree.PkScript()
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.LockTime = locktime
	txIn := wire.NewTxIn(&wire.OutPoint{
		Hash:  chainhash.Hash{1, 2, 3},
		Index: 1,
	}, nil, nil)
	txIn.Sequence = seq.TxSequence()
	tx.AddTxIn(txIn)
	tx.AddTxOut(wire.NewTxOut(testAmount-1000, pkScript))

	return &testSpend{
		tx:       tx,
		pkScript: pkScript,
		fetcher: txscript.NewCannedPrevOutputFetcher(
			pkScript, testAmount,
		),
	}
}

func (s *testSpend) satisfy(t *testing.T, tree *taptree.TapTree,
	store SecretSource, locktime fn.Option[uint32],
	seq timelock.Sequence) (*Result, error) {

	locks, err := timelock.Resolve(locktime, []timelock.Sequence{seq})
	require.NoError(t, err)

	return Satisfy(&Request{
		Tx:        s.tx,
		SigHashes: txscript.NewTxSigHashes(s.tx, s.fetcher),
		Index:     0,
		Amount:    testAmount,
		Tree:      tree,
		Secrets:   store,
		Timelock:  locks.Context(0),
	})
}

func (s *testSpend) verify(t *testing.T, witness wire.TxWitness) {
	s.tx.TxIn[0].Witness = witness
	engine, err := txscript.NewEngine(
		s.pkScript, s.tx, 0, txscript.StandardVerifyFlags, nil,
		txscript.NewTxSigHashes(s.tx, s.fetcher), testAmount, s.fetcher,
	)
	require.NoError(t, err)
	require.NoError(t, engine.Execute())
}

func TestKeyPath(t *testing.T) {
	env := newTestEnv(t)

	for _, desc := range []string{
		"tr(" + env.key(0) + ")",
		"tr(" + env.key(0) + ",pk(" + env.key(1) + "))",
	} {
		tree := env.compile(t, desc)
		spend := newTestSpend(t, tree, timelock.Disabled(), 0)

		result, err := spend.satisfy(
			t, tree, env.store, fn.None[uint32](),
			timelock.Disabled(),
		)
		require.NoError(t, err, desc)
		require.True(t, result.KeyPath())
		require.Len(t, result.Witness, 1)
		require.Len(t, result.Witness[0], 64)

		spend.verify(t, result.Witness)
	}
}

func TestThreshSignsOnlyChosenKeys(t *testing.T) {
	env := newTestEnv(t)
	env.deactivate(t, 0)

	tree := env.compile(t, "tr("+env.key(0)+",thresh(2,pk("+env.key(1)+
		"),s:pk("+env.key(2)+"),s:pk("+env.key(3)+")))")
	spend := newTestSpend(t, tree, timelock.Disabled(), 0)

	result, err := spend.satisfy(
		t, tree, env.store, fn.None[uint32](), timelock.Disabled(),
	)
	require.NoError(t, err)
	require.Equal(t, 0, result.Leaf)
	require.Equal(
		t, [][32]byte{env.keys[2].PubKey, env.keys[1].PubKey},
		result.Plan.Keys(),
	)

	// C is active but not needed, so its secret is never touched.
	require.Zero(t, env.store.requested[env.keys[3].PubKey])
	require.Equal(t, 1, env.store.requested[env.keys[1].PubKey])
	require.Equal(t, 1, env.store.requested[env.keys[2].PubKey])

	// Dissatisfied C, B, A, script and control block.
	require.Len(t, result.Witness, 5)
	require.Empty(t, result.Witness[0])

	spend.verify(t, result.Witness)
}

func TestMultiA(t *testing.T) {
	env := newTestEnv(t)
	env.deactivate(t, 0, 2)

	tree := env.compile(t, "tr("+env.key(0)+",multi_a(2,"+env.key(1)+
		","+env.key(2)+","+env.key(3)+"))")
	spend := newTestSpend(t, tree, timelock.Disabled(), 0)

	result, err := spend.satisfy(
		t, tree, env.store, fn.None[uint32](), timelock.Disabled(),
	)
	require.NoError(t, err)

	// sig C, empty B, sig A, script, control block without proof.
	require.Len(t, result.Witness, 5)
	require.Len(t, result.Witness[0], 64)
	require.Empty(t, result.Witness[1])
	require.Len(t, result.Witness[2], 64)
	require.Len(t, result.Witness[4], 33)

	spend.verify(t, result.Witness)
}

func TestRelativeTimelock(t *testing.T) {
	env := newTestEnv(t)
	env.deactivate(t, 0, 1)

	tree := env.compile(t, "tr("+env.key(0)+",{pk("+env.key(1)+
		"),and_v(v:pk("+env.key(2)+"),older(10))})")

	// Sequence too short: both leaves are blocked.
	seq := timelock.Enabled(9)
	spend := newTestSpend(t, tree, seq, 0)
	_, err := spend.satisfy(t, tree, env.store, fn.None[uint32](), seq)
	require.ErrorIs(t, err, ErrNoSatisfyingPath)

	var noPath *NoSatisfyingPathError
	require.ErrorAs(t, err, &noPath)
	require.Equal(t, 0, noPath.Input)
	require.Len(t, noPath.Leaves, 2)
	require.Equal(
		t, miniscript.BlockerMissingKey, noPath.Leaves[0].Blockers[0].Kind,
	)
	require.Equal(
		t, miniscript.BlockerTimelock, noPath.Leaves[1].Blockers[0].Kind,
	)
	require.Contains(t, err.Error(), "older(10)")

	seq = timelock.Enabled(10)
	spend = newTestSpend(t, tree, seq, 0)
	result, err := spend.satisfy(t, tree, env.store, fn.None[uint32](), seq)
	require.NoError(t, err)
	require.Equal(t, 1, result.Leaf)

	spend.verify(t, result.Witness)
}

func TestAbsoluteTimelock(t *testing.T) {
	env := newTestEnv(t)
	env.deactivate(t, 0)

	tree := env.compile(t, "tr("+env.key(0)+",and_v(v:pk("+env.key(1)+
		"),after(100)))")

	seq := timelock.Enabled(0)
	spend := newTestSpend(t, tree, seq, 99)
	_, err := spend.satisfy(t, tree, env.store, fn.Some[uint32](99), seq)
	require.ErrorIs(t, err, ErrNoSatisfyingPath)

	spend = newTestSpend(t, tree, seq, 100)
	result, err := spend.satisfy(
		t, tree, env.store, fn.Some[uint32](100), seq,
	)
	require.NoError(t, err)

	spend.verify(t, result.Witness)
}

func TestHashLock(t *testing.T) {
	env := newTestEnv(t)
	env.deactivate(t, 0)

	imageHex := hex.EncodeToString(env.image.Image[:])
	tree := env.compile(t, "tr("+env.key(0)+",and_v(v:pk("+env.key(1)+
		"),sha256("+imageHex+")))")
	spend := newTestSpend(t, tree, timelock.Disabled(), 0)

	result, err := spend.satisfy(
		t, tree, env.store, fn.None[uint32](), timelock.Disabled(),
	)
	require.NoError(t, err)
	require.Equal(t, env.image.Preimage, []byte(result.Witness[0]))
	require.Equal(
		t, env.image.Image, sha256.Sum256(result.Witness[0]),
	)
	spend.verify(t, result.Witness)

	require.NoError(t, env.store.SetImageActive(env.image.Image, false))
	_, err = spend.satisfy(
		t, tree, env.store, fn.None[uint32](), timelock.Disabled(),
	)
	require.ErrorIs(t, err, ErrNoSatisfyingPath)
}

func TestLeftmostLeafWins(t *testing.T) {
	env := newTestEnv(t)
	env.deactivate(t, 0)

	tree := env.compile(t, "tr("+env.key(0)+",or_d(pk("+env.key(1)+
		"),pk("+env.key(2)+")))")
	spend := newTestSpend(t, tree, timelock.Disabled(), 0)

	result, err := spend.satisfy(
		t, tree, env.store, fn.None[uint32](), timelock.Disabled(),
	)
	require.NoError(t, err)
	require.Equal(t, 0, result.Leaf)
	spend.verify(t, result.Witness)

	env.deactivate(t, 1)
	result, err = spend.satisfy(
		t, tree, env.store, fn.None[uint32](), timelock.Disabled(),
	)
	require.NoError(t, err)
	require.Equal(t, 1, result.Leaf)
	spend.verify(t, result.Witness)
}

func TestAll(t *testing.T) {
	env := newTestEnv(t)
	env.deactivate(t, 1)

	trees := []*taptree.TapTree{
		env.compile(t, "tr("+env.key(0)+")"),
		env.compile(t, "tr("+env.key(1)+",pk("+env.key(2)+"))"),
		env.compile(t, "tr("+env.key(1)+",pk("+env.key(1)+"))"),
		env.compile(t, "tr("+env.key(1)+")"),
	}

	tx := wire.NewMsgTx(2)
	prevOuts := make(map[wire.OutPoint]*wire.TxOut)
	inputs := make([]Input, len(trees))
	seqs := make([]timelock.Sequence, len(trees))
	for i, tree := range trees {
		pkScript, err := tree.PkScript()
		require.NoError(t, err)

		op := wire.OutPoint{Hash: chainhash.Hash{byte(i)}, Index: 0}
		prevOuts[op] = wire.NewTxOut(testAmount, pkScript)
		tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
		inputs[i] = Input{Tree: tree, Amount: testAmount}
	}
	tx.AddTxOut(wire.NewTxOut(testAmount, []byte{txscript.OP_TRUE}))
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)

	locks, err := timelock.Resolve(fn.None[uint32](), seqs)
	require.NoError(t, err)

	// Inputs 2 and 3 fail, the lower index is reported.
	_, err = All(tx, fetcher, inputs, env.store, locks)
	var noPath *NoSatisfyingPathError
	require.ErrorAs(t, err, &noPath)
	require.Equal(t, 2, noPath.Input)

	results, err := All(tx, fetcher, inputs[:2], env.store, locks)
	require.Error(t, err)
	require.Nil(t, results)

	tx.TxIn = tx.TxIn[:2]
	results, err = All(tx, fetcher, inputs[:2], env.store, locks)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results[0].KeyPath())
	require.Equal(t, 0, results[1].Leaf)

	for i, result := range results {
		tx.TxIn[i].Witness = result.Witness
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i := range results {
		prevOut := fetcher.FetchPrevOutput(tx.TxIn[i].PreviousOutPoint)
		engine, err := txscript.NewEngine(
			prevOut.PkScript, tx, i, txscript.StandardVerifyFlags,
			nil, sigHashes, prevOut.Value, fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, engine.Execute(), "input %d", i)
	}
}
