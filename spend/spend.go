package spend

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/uncomputable/tappy/satisfy"
	"github.com/uncomputable/tappy/state"
	"github.com/uncomputable/tappy/taptree"
	"github.com/uncomputable/tappy/timelock"
)

// TxVersion is the version of every transaction that is built. Version 2 is
// needed for relative timelocks.
const TxVersion = 2

var (
	ErrNoInputs  = errors.New("transaction has no inputs")
	ErrNoOutputs = errors.New("transaction has no outputs")

	// ErrUnboundInput is matched by UnboundInputError.
	ErrUnboundInput = errors.New("input is not bound to a UTXO")

	// ErrNegativeImplicitValue is matched by NegativeImplicitValueError.
	ErrNegativeImplicitValue = errors.New("implicit output value is " +
		"negative")

	ErrMultipleImplicitOutputs = errors.New("at most one output may " +
		"omit its value")
	ErrInsufficientFunds = errors.New("inputs don't cover outputs and " +
		"fee")
	ErrTxidMismatch = errors.New("txid doesn't match the draft")
)

// UnboundInputError is returned if an input has no outpoint yet.
type UnboundInputError struct {
	Index uint32
}

func (e *UnboundInputError) Error() string {
	return fmt.Sprintf("input %d: %v, bind it to an outpoint first",
		e.Index, ErrUnboundInput)
}

// Is makes the error match ErrUnboundInput.
func (e *UnboundInputError) Is(target error) bool {
	return target == ErrUnboundInput
}

// NegativeImplicitValueError is returned if the inputs don't cover the
// explicit outputs and the fee, so nothing is left for the implicit output.
type NegativeImplicitValueError struct {
	Output  uint32
	Inputs  int64
	Outputs int64
	Fee     int64
}

// Value returns the (negative) value the implicit output would get.
func (e *NegativeImplicitValueError) Value() int64 {
	return e.Inputs - e.Outputs - e.Fee
}

func (e *NegativeImplicitValueError) Error() string {
	return fmt.Sprintf("output %d: %v: inputs %d - outputs %d - fee %d "+
		"= %d", e.Output, ErrNegativeImplicitValue, e.Inputs,
		e.Outputs, e.Fee, e.Value())
}

// Is makes the error match ErrNegativeImplicitValue.
func (e *NegativeImplicitValueError) Is(target error) bool {
	return target == ErrNegativeImplicitValue
}

// assembly is the unsigned transaction of a draft together with what is
// needed to sign it.
type assembly struct {
	tx       *wire.MsgTx
	inputs   []satisfy.Input
	outputs  []*taptree.TapTree
	prevOuts map[wire.OutPoint]*wire.TxOut
	spent    []state.UTXO
	locks    *timelock.Resolution

	implicit fn.Option[uint32]
	values   []int64
	fee      int64
}

// assemble checks the draft and builds the unsigned transaction. Every
// descriptor is parsed and compiled before anything is signed.
func assemble(st *state.State) (*assembly, error) {
	draft := st.Draft

	inIndexes := draft.InputIndexes()
	outIndexes := draft.OutputIndexes()
	switch {
	case len(inIndexes) == 0:
		return nil, ErrNoInputs
	case len(outIndexes) == 0:
		return nil, ErrNoOutputs
	}
	if err := checkContiguous(inIndexes, state.ErrMissingInput); err != nil {
		return nil, err
	}
	err := checkContiguous(outIndexes, state.ErrMissingOutput)
	if err != nil {
		return nil, err
	}

	a := &assembly{
		tx:       wire.NewMsgTx(TxVersion),
		inputs:   make([]satisfy.Input, len(inIndexes)),
		outputs:  make([]*taptree.TapTree, len(outIndexes)),
		prevOuts: make(map[wire.OutPoint]*wire.TxOut, len(inIndexes)),
		spent:    make([]state.UTXO, len(inIndexes)),
		implicit: fn.None[uint32](),
		values:   make([]int64, len(outIndexes)),
		fee:      draft.Fee,
	}

	var totalIn int64
	for _, index := range inIndexes {
		in := draft.Inputs[index]
		if !in.Bound() {
			return nil, &UnboundInputError{Index: index}
		}
		if _, ok := a.prevOuts[*in.OutPoint]; ok {
			return nil, fmt.Errorf("input %d: %w: %v", index,
				state.ErrDoubleSpend, in.OutPoint)
		}

		tree, err := compile(st, in.Descriptor)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", index, err)
		}
		pkScript, err := tree.PkScript()
		if err != nil {
			return nil, err
		}

		a.prevOuts[*in.OutPoint] = wire.NewTxOut(in.Value, pkScript)
		a.inputs[index] = satisfy.Input{Tree: tree, Amount: in.Value}
		a.spent[index] = state.UTXO{
			OutPoint:   *in.OutPoint,
			Value:      in.Value,
			Descriptor: in.Descriptor,
		}

		txIn := wire.NewTxIn(in.OutPoint, nil, nil)
		txIn.Sequence = in.Sequence.TxSequence()
		a.tx.AddTxIn(txIn)

		totalIn += in.Value
		if totalIn > btcutil.MaxSatoshi {
			return nil, fmt.Errorf("inputs: %w",
				state.ErrValueTooLarge)
		}
	}

	var totalOut int64
	for _, index := range outIndexes {
		out := draft.Outputs[index]

		tree, err := compile(st, out.Descriptor)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", index, err)
		}
		a.outputs[index] = tree

		if out.Value == nil {
			if a.implicit.IsSome() {
				return nil, ErrMultipleImplicitOutputs
			}
			a.implicit = fn.Some(index)
			continue
		}
		a.values[index] = *out.Value
		totalOut += *out.Value
		if totalOut > btcutil.MaxSatoshi {
			return nil, fmt.Errorf("outputs: %w",
				state.ErrValueTooLarge)
		}
	}

	remainder := totalIn - totalOut - draft.Fee
	err = fn.MapOptionZ(a.implicit, func(index uint32) error {
		if remainder < 0 {
			return &NegativeImplicitValueError{
				Output:  index,
				Inputs:  totalIn,
				Outputs: totalOut,
				Fee:     draft.Fee,
			}
		}
		a.values[index] = remainder

		return nil
	})
	if err != nil {
		return nil, err
	}
	if a.implicit.IsNone() && remainder < 0 {
		return nil, fmt.Errorf("%w: inputs %d, outputs %d, fee %d",
			ErrInsufficientFunds, totalIn, totalOut, draft.Fee)
	}
	if a.implicit.IsNone() && remainder > 0 {
		log.Warnf("Inputs exceed outputs and fee by %d sat, the "+
			"difference goes to the miner", remainder)
		a.fee += remainder
	}

	for i, tree := range a.outputs {
		pkScript, err := tree.PkScript()
		if err != nil {
			return nil, err
		}
		a.tx.AddTxOut(wire.NewTxOut(a.values[i], pkScript))
	}

	a.locks, err = timelock.Resolve(
		draft.LocktimeOption(), draft.Sequences(),
	)
	if err != nil {
		return nil, err
	}
	a.tx.LockTime = a.locks.LockTime()

	return a, nil
}

func checkContiguous(indexes []uint32, errMissing error) error {
	for expected, index := range indexes {
		if index != uint32(expected) {
			return fmt.Errorf("%w: %d", errMissing, expected)
		}
	}

	return nil
}

func compile(st *state.State, desc string) (*taptree.TapTree, error) {
	d, err := st.ParseDescriptor(desc)
	if err != nil {
		return nil, err
	}

	return taptree.Compile(d)
}

// Result is a fully signed transaction.
type Result struct {
	Tx *wire.MsgTx

	// Spent are the outputs consumed by the inputs, in input order.
	Spent []state.UTXO

	// Values are the output values, the implicit one included.
	Values []int64

	// Paths holds the spending path of every input.
	Paths []*satisfy.Result

	// Implicit is the index of the output that received the remainder.
	Implicit fn.Option[uint32]

	// Fee is what the miner gets, any surplus of an explicit-only draft
	// included.
	Fee    int64
	Weight int64
}

// VSize returns the virtual size of the transaction.
func (r *Result) VSize() int64 {
	return (r.Weight + blockchain.WitnessScaleFactor - 1) /
		blockchain.WitnessScaleFactor
}

// FeeRate returns the fee rate in sat/vB.
func (r *Result) FeeRate() float64 {
	return float64(r.Fee) / float64(r.VSize())
}

// Hex returns the serialized transaction with witnesses.
func (r *Result) Hex() (string, error) {
	var buf bytes.Buffer
	if err := r.Tx.Serialize(&buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf.Bytes()), nil
}

// Build assembles the draft into a transaction and satisfies every input.
// The state is not modified. Any input that can't be satisfied aborts the
// whole build.
func Build(st *state.State) (*Result, error) {
	a, err := assemble(st)
	if err != nil {
		return nil, err
	}

	fetcher := txscript.NewMultiPrevOutFetcher(a.prevOuts)
	results, err := satisfy.All(a.tx, fetcher, a.inputs, st.Store, a.locks)
	if err != nil {
		return nil, err
	}
	for i, result := range results {
		a.tx.TxIn[i].Witness = result.Witness
	}

	result := &Result{
		Tx:       a.tx,
		Spent:    a.spent,
		Values:   a.values,
		Paths:    results,
		Implicit: a.implicit,
		Fee:      a.fee,
		Weight:   blockchain.GetTransactionWeight(btcutil.NewTx(a.tx)),
	}

	log.Infof("Built transaction %v: %d inputs, %d outputs, %d vB",
		a.tx.TxHash(), len(a.tx.TxIn), len(a.tx.TxOut), result.VSize())
	log.Tracef("Transaction: %v", spew.Sdump(a.tx))

	return result, nil
}
