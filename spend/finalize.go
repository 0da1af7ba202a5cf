package spend

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/uncomputable/tappy/state"
)

// Finalized describes how a finalized transaction changed the UTXO set.
type Finalized struct {
	TxID    chainhash.Hash
	Created []*state.UTXO
	Removed []*state.UTXO

	// Chained is the input that was seeded into the next draft.
	Chained *state.Input
}

// Finalize records the draft transaction as confirmed. Its outputs become
// UTXOs, the spent UTXOs are removed and the draft is reset. If the operator
// passes the txid it must match the draft. With chain set, output 0 becomes
// input 0 of the next draft.
//
// Nothing is signed, so the txid is that of the unsigned transaction, which
// witnesses don't change.
func Finalize(st *state.State, txid fn.Option[chainhash.Hash],
	chain bool) (*Finalized, error) {

	a, err := assemble(st)
	if err != nil {
		return nil, err
	}

	hash := a.tx.TxHash()
	err = fn.MapOptionZ(txid, func(expected chainhash.Hash) error {
		if expected != hash {
			return fmt.Errorf("%w: draft has %v, got %v",
				ErrTxidMismatch, hash, expected)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Output descriptors are copied before the draft is reset.
	outputs := make([]string, len(a.values))
	for i, index := range st.Draft.OutputIndexes() {
		outputs[i] = st.Draft.Outputs[index].Descriptor
	}

	result := &Finalized{TxID: hash}
	for i, value := range a.values {
		u, err := st.AddUTXO(state.UTXO{
			OutPoint:   wire.OutPoint{Hash: hash, Index: uint32(i)},
			Value:      value,
			Descriptor: outputs[i],
		})
		if err != nil {
			return nil, err
		}
		result.Created = append(result.Created, u)
	}

	// Manually bound inputs need not be in the set.
	for _, spent := range a.spent {
		if _, ok := st.UTXO(spent.OutPoint); !ok {
			continue
		}
		u, err := st.DeleteUTXO(spent.OutPoint)
		if err != nil {
			return nil, err
		}
		result.Removed = append(result.Removed, u)
	}

	st.ResetDraft()
	log.Infof("Finalized %v: %d new UTXOs, %d spent", hash,
		len(result.Created), len(result.Removed))

	if !chain {
		return result, nil
	}

	next := wire.OutPoint{Hash: hash, Index: 0}
	if _, err := st.AddInputFromUTXO(0, next); err != nil {
		return nil, fmt.Errorf("error chaining %v: %w", next, err)
	}
	result.Chained = st.Draft.Inputs[0]

	return result, nil
}
