package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
	"github.com/uncomputable/tappy/descriptor"
	"github.com/uncomputable/tappy/miniscript"
	"github.com/uncomputable/tappy/taptree"
	"github.com/uncomputable/tappy/timelock"
)

// unknownKey is a valid x-only key that is never in a test store.
const unknownKey = "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b" +
	"16f81798"

func newTestState(t *testing.T) (*State, string, string) {
	st := New()

	k, err := st.Store.GenerateKey()
	require.NoError(t, err)
	a, err := st.Store.GenerateKey()
	require.NoError(t, err)

	return st, k.PubKeyHex(), a.PubKeyHex()
}

func testOutPoint(i byte) wire.OutPoint {
	return wire.OutPoint{Hash: chainhash.Hash{i}, Index: uint32(i)}
}

func TestInitLoadSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	st, err := Init(path)
	require.NoError(t, err)

	_, err = Init(path)
	require.ErrorIs(t, err, ErrStateExists)

	key, err := st.Store.GenerateKey()
	require.NoError(t, err)
	_, err = st.Store.GenerateImage()
	require.NoError(t, err)

	desc := "tr(" + key.PubKeyHex() + ")"
	_, err = st.AddUTXO(UTXO{
		OutPoint: testOutPoint(1), Value: 1000, Descriptor: desc,
	})
	require.NoError(t, err)
	_, err = st.AddInputFromUTXO(0, testOutPoint(1))
	require.NoError(t, err)
	_, err = st.AddInputFromDescriptor(1, desc)
	require.NoError(t, err)
	require.NoError(t, st.EnableSequence(0, 0))
	require.NoError(t, st.SetLocktime(100))
	_, err = st.AddOutput(0, desc, fn.None[int64]())
	require.NoError(t, err)
	_, err = st.AddOutput(1, desc, fn.Some[int64](500))
	require.NoError(t, err)
	require.NoError(t, st.SetFee(100))

	require.NoError(t, st.Save(path))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.UTXOs, 1)
	require.Len(t, loaded.Draft.Inputs, 2)
	require.True(t, loaded.Draft.Inputs[0].Bound())
	require.False(t, loaded.Draft.Inputs[1].Bound())
	require.True(t, loaded.Draft.Inputs[0].Sequence.IsEnabled())
	require.False(t, loaded.Draft.Inputs[1].Sequence.IsEnabled())
	require.Nil(t, loaded.Draft.Outputs[0].Value)
	require.Equal(t, int64(500), *loaded.Draft.Outputs[1].Value)
	require.Equal(t, uint32(100), *loaded.Draft.Locktime)
	require.Equal(t, int64(100), loaded.Draft.Fee)

	// Saving the loaded state gives the exact same file.
	require.NoError(t, loaded.Save(path))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))
	require.Contains(t, string(first), `"sequence": null`)
}

func TestLoadCorrupt(t *testing.T) {
	dir := t.TempDir()

	st, k, _ := newTestState(t)
	_, err := st.AddUTXO(UTXO{
		OutPoint: testOutPoint(1), Value: 1000,
		Descriptor: "tr(" + k + ")",
	})
	require.NoError(t, err)
	st.UTXOs[0].Value = -1

	negative := filepath.Join(dir, "negative.json")
	require.NoError(t, st.Save(negative))

	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("{\"utxos\":"), 0600))

	// A descriptor that references a key the store doesn't know.
	dangling := filepath.Join(dir, "dangling.json")
	st.UTXOs[0].Value = 1000
	st.UTXOs[0].Descriptor = "tr(" + unknownKey + ")"
	require.NoError(t, st.Save(dangling))

	for _, path := range []string{negative, garbage, dangling} {
		_, err := Load(path)
		require.ErrorIs(t, err, ErrStateCorrupt, path)
	}

	_, err = Load(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrStateCorrupt)
}

func TestUTXOs(t *testing.T) {
	st, k, a := newTestState(t)

	_, err := st.AddUTXO(UTXO{
		OutPoint: testOutPoint(2), Value: 1000,
		Descriptor: "tr( " + k + " )",
	})
	require.NoError(t, err)
	u, err := st.AddUTXO(UTXO{
		OutPoint: testOutPoint(1), Value: 2000,
		Descriptor: "tr(" + a + ")",
	})
	require.NoError(t, err)

	// Descriptors are stored in canonical form.
	require.Equal(t, "tr("+k+")", st.UTXOs[0].Descriptor)

	// Identical UTXOs are only added once.
	again, err := st.AddUTXO(*u)
	require.NoError(t, err)
	require.Same(t, u, again)
	require.Len(t, st.UTXOs, 2)

	_, err = st.AddUTXO(UTXO{
		OutPoint: testOutPoint(1), Value: 1, Descriptor: "tr(" + a + ")",
	})
	require.ErrorIs(t, err, ErrDuplicateUTXO)

	_, err = st.AddUTXO(UTXO{
		OutPoint: testOutPoint(3), Value: 1, Descriptor: "tr(" + a,
	})
	require.ErrorIs(t, err, miniscript.ErrSyntax)

	sorted := st.SortedUTXOs()
	require.Equal(t, testOutPoint(1), sorted[0].OutPoint)
	require.Equal(t, testOutPoint(2), sorted[1].OutPoint)

	_, err = st.DeleteUTXO(testOutPoint(2))
	require.NoError(t, err)
	_, err = st.DeleteUTXO(testOutPoint(2))
	require.ErrorIs(t, err, ErrMissingUTXO)
	require.Len(t, st.UTXOs, 1)
}

func TestInboundAddress(t *testing.T) {
	st, k, _ := newTestState(t)

	_, err := st.ReceiveInbound(testOutPoint(1), 1000)
	require.ErrorIs(t, err, ErrMissingAddress)

	d, err := st.SetInboundAddress("tr(" + k + ")")
	require.NoError(t, err)
	require.Equal(t, d.String(), st.InboundAddress)

	u, err := st.ReceiveInbound(testOutPoint(1), 1000)
	require.NoError(t, err)
	require.Equal(t, "tr("+k+")", u.Descriptor)
	require.Empty(t, st.InboundAddress)

	_, err = st.SetInboundAddress("tr(" + k + ",pk(" + unknownKey + "))")
	require.ErrorIs(t, err, miniscript.ErrUnknownKeyOrImage)
}

func TestInputs(t *testing.T) {
	st, k, a := newTestState(t)
	desc := "tr(" + k + ")"

	_, err := st.AddInputFromUTXO(0, testOutPoint(1))
	require.ErrorIs(t, err, ErrMissingUTXO)

	_, err = st.AddUTXO(UTXO{
		OutPoint: testOutPoint(1), Value: 1000, Descriptor: desc,
	})
	require.NoError(t, err)

	old, err := st.AddInputFromUTXO(0, testOutPoint(1))
	require.NoError(t, err)
	require.Nil(t, old)

	// Re-adding the same UTXO at the same index replaces the input.
	old, err = st.AddInputFromUTXO(0, testOutPoint(1))
	require.NoError(t, err)
	require.NotNil(t, old)

	_, err = st.AddInputFromUTXO(1, testOutPoint(1))
	require.ErrorIs(t, err, ErrDoubleSpend)

	_, err = st.AddInputFromDescriptor(1, "tr("+a+")")
	require.NoError(t, err)
	require.False(t, st.Draft.Inputs[1].Bound())

	require.ErrorIs(
		t, st.BindInput(1, testOutPoint(1), 1000), ErrDoubleSpend,
	)
	require.ErrorIs(
		t, st.BindInput(1, testOutPoint(2), -1), ErrNegativeValue,
	)
	require.NoError(t, st.BindInput(1, testOutPoint(2), 5000))
	require.Equal(t, int64(5000), st.Draft.Inputs[1].Value)
	require.ErrorIs(
		t, st.BindInput(7, testOutPoint(3), 1), ErrMissingInput,
	)

	_, err = st.DeleteInput(1)
	require.NoError(t, err)
	_, err = st.DeleteInput(1)
	require.ErrorIs(t, err, ErrMissingInput)
}

func TestLocktimeRequiresSequence(t *testing.T) {
	st, k, _ := newTestState(t)
	desc := "tr(" + k + ")"

	_, err := st.AddInputFromDescriptor(0, desc)
	require.NoError(t, err)
	_, err = st.AddInputFromDescriptor(1, desc)
	require.NoError(t, err)

	require.ErrorIs(
		t, st.SetLocktime(100),
		timelock.ErrLocktimeRequiresRelativeTimelock,
	)
	require.Nil(t, st.Draft.Locktime)

	require.NoError(t, st.EnableSequence(1, 0))
	require.True(t, st.Draft.LocktimeActive())
	require.NoError(t, st.SetLocktime(100))
	require.ErrorIs(
		t, st.SetLocktime(timelock.LocktimeThreshold),
		timelock.ErrTimeBasedLocktime,
	)

	// The last enabled sequence can't go away while a locktime is set.
	require.ErrorIs(
		t, st.DisableSequence(1),
		timelock.ErrLocktimeRequiresRelativeTimelock,
	)
	require.True(t, st.Draft.Inputs[1].Sequence.IsEnabled())

	_, err = st.DeleteInput(1)
	require.ErrorIs(t, err, timelock.ErrLocktimeRequiresRelativeTimelock)

	_, err = st.AddInputFromDescriptor(1, desc)
	require.ErrorIs(t, err, timelock.ErrLocktimeRequiresRelativeTimelock)
	require.True(t, st.Draft.Inputs[1].Sequence.IsEnabled())

	st.ClearLocktime()
	require.NoError(t, st.DisableSequence(1))
	require.False(t, st.Draft.LocktimeActive())

	require.ErrorIs(t, st.EnableSequence(5, 1), ErrMissingInput)
	require.ErrorIs(t, st.DisableSequence(5), ErrMissingInput)
}

func TestOutputsAndFee(t *testing.T) {
	st, k, _ := newTestState(t)
	desc := "tr(" + k + ")"

	_, err := st.AddOutput(0, desc, fn.Some[int64](-1))
	require.ErrorIs(t, err, ErrNegativeValue)

	old, err := st.AddOutput(0, desc, fn.Some[int64](1000))
	require.NoError(t, err)
	require.Nil(t, old)

	old, err = st.AddOutput(0, desc, fn.None[int64]())
	require.NoError(t, err)
	require.Equal(t, int64(1000), *old.Value)
	require.Nil(t, st.Draft.Outputs[0].Value)

	_, err = st.DeleteOutput(0)
	require.NoError(t, err)
	_, err = st.DeleteOutput(0)
	require.ErrorIs(t, err, ErrMissingOutput)

	require.ErrorIs(t, st.SetFee(-1), ErrNegativeValue)
	require.NoError(t, st.SetFee(1000))

	st.ResetDraft()
	require.Zero(t, st.Draft.Fee)
	require.Empty(t, st.Draft.Outputs)
}

func TestDescriptorsResolveAgainstStore(t *testing.T) {
	st, k, _ := newTestState(t)

	_, err := st.ParseDescriptor("tr(" + k + ")")
	require.NoError(t, err)

	_, err = st.AddOutput(
		0, "tr("+k+",pk("+unknownKey+"))", fn.None[int64](),
	)
	require.ErrorIs(t, err, miniscript.ErrUnknownKeyOrImage)

	_, err = descriptor.Parse("tr("+k+")", st.Store)
	require.NoError(t, err)
}

func TestValueBounds(t *testing.T) {
	st, k, a := newTestState(t)
	desc := "tr(" + k + ")"
	tooLarge := int64(btcutil.MaxSatoshi) + 1

	_, err := st.AddUTXO(UTXO{
		OutPoint: testOutPoint(1), Value: tooLarge, Descriptor: desc,
	})
	require.ErrorIs(t, err, ErrValueTooLarge)
	_, err = st.AddUTXO(UTXO{
		OutPoint:   testOutPoint(1),
		Value:      int64(btcutil.MaxSatoshi),
		Descriptor: desc,
	})
	require.NoError(t, err)

	_, err = st.AddInputFromDescriptor(0, "tr("+a+")")
	require.NoError(t, err)
	require.ErrorIs(
		t, st.BindInput(0, testOutPoint(2), tooLarge), ErrValueTooLarge,
	)

	_, err = st.AddOutput(0, desc, fn.Some(tooLarge))
	require.ErrorIs(t, err, ErrValueTooLarge)
	require.ErrorIs(t, st.SetFee(tooLarge), ErrValueTooLarge)

	// Values edited into the file are caught on load.
	require.NoError(t, st.BindInput(0, testOutPoint(2), 1000))
	st.Draft.Inputs[0].Value = tooLarge
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, st.Save(path))
	_, err = Load(path)
	require.ErrorIs(t, err, ErrStateCorrupt)
}

func TestUnspendableTreeRejected(t *testing.T) {
	st, k, a := newTestState(t)

	// 100 nested branches and 29 nested or_i alternatives put the last
	// leaf one level below the deepest provable one.
	leaf := "pk(" + a + ")"
	for i := 0; i < 29; i++ {
		leaf = "or_i(pk(" + k + ")," + leaf + ")"
	}
	tree := leaf
	for i := 0; i < 100; i++ {
		tree = "{pk(" + k + ")," + tree + "}"
	}
	desc := "tr(" + k + "," + tree + ")"

	_, err := st.ParseDescriptor(desc)
	require.NoError(t, err)

	_, err = st.AddOutput(0, desc, fn.None[int64]())
	require.ErrorIs(t, err, taptree.ErrTreeTooDeep)
	require.Empty(t, st.Draft.Outputs)

	_, err = st.SetInboundAddress(desc)
	require.ErrorIs(t, err, taptree.ErrTreeTooDeep)
	require.Empty(t, st.InboundAddress)
}
