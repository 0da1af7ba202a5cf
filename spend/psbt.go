package spend

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/uncomputable/tappy/state"
)

// Packet exports the unsigned draft as a PSBT. Every input carries its
// witness UTXO and the full Taproot tree: internal key, Merkle root and one
// leaf script with control block per leaf. Outputs carry their internal key.
func Packet(st *state.State) (*psbt.Packet, error) {
	a, err := assemble(st)
	if err != nil {
		return nil, err
	}

	packet, err := psbt.NewFromUnsignedTx(a.tx)
	if err != nil {
		return nil, fmt.Errorf("error creating PSBT: %w", err)
	}

	for i, in := range a.inputs {
		pIn := &packet.Inputs[i]
		pIn.WitnessUtxo = a.prevOuts[a.tx.TxIn[i].PreviousOutPoint]
		pIn.SighashType = txscript.SigHashDefault
		pIn.TaprootInternalKey = schnorr.SerializePubKey(
			in.Tree.InternalKey,
		)
		if in.Tree.MerkleRoot.IsSome() {
			pIn.TaprootMerkleRoot = in.Tree.MerkleRootBytes()
		}

		for j, leaf := range in.Tree.Leaves {
			cb, err := in.Tree.ControlBlock(j)
			if err != nil {
				return nil, err
			}
			cbBytes, err := cb.ToBytes()
			if err != nil {
				return nil, fmt.Errorf("input %d leaf %d: error "+
					"encoding control block: %w", i, j, err)
			}

			pIn.TaprootLeafScript = append(
				pIn.TaprootLeafScript, &psbt.TaprootTapLeafScript{
					ControlBlock: cbBytes,
					Script:       leaf.TapLeaf.Script,
					LeafVersion:  leaf.TapLeaf.LeafVersion,
				},
			)
		}
	}

	for i, tree := range a.outputs {
		packet.Outputs[i].TaprootInternalKey = schnorr.SerializePubKey(
			tree.InternalKey,
		)
	}

	return packet, nil
}
