package satisfy

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/uncomputable/tappy/miniscript"
	"github.com/uncomputable/tappy/taptree"
	"github.com/uncomputable/tappy/timelock"
	"golang.org/x/sync/errgroup"
)

// KeyPathLeaf is the leaf index reported for key path spends.
const KeyPathLeaf = -1

var (
	// ErrNoSatisfyingPath is returned if neither the key path nor any
	// leaf of an input can be satisfied.
	ErrNoSatisfyingPath = errors.New("no satisfying path")
)

// SecretSource is the part of the secret store the satisfier reads from.
// Secrets are only requested for keys and images of the chosen path.
type SecretSource interface {
	CanSign(pubKey [32]byte) bool
	CanReveal(image [32]byte) bool
	ActiveSecret(pubKey [32]byte) (*btcec.PrivateKey, bool)
	ActivePreimage(image [32]byte) ([]byte, bool)
}

// Request describes a single input to satisfy.
type Request struct {
	// Tx is the unsigned spending transaction. It is only read.
	Tx *wire.MsgTx

	// SigHashes is the sighash midstate of Tx.
	SigHashes *txscript.TxSigHashes

	// Index is the input index within Tx.
	Index int

	// Amount is the value of the spent output.
	Amount int64

	// Tree is the compiled descriptor of the spent output.
	Tree *taptree.TapTree

	// Secrets provides keys and preimages.
	Secrets SecretSource

	// Timelock is the timelock context of the input.
	Timelock timelock.Context
}

// Result is a satisfied input.
type Result struct {
	// Witness is the full witness of the input.
	Witness wire.TxWitness

	// Leaf is the index of the spent leaf or KeyPathLeaf.
	Leaf int

	// Plan is the planned stack of a script path spend.
	Plan miniscript.Witness
}

// KeyPath returns true if the input is spent through the key path.
func (r *Result) KeyPath() bool {
	return r.Leaf == KeyPathLeaf
}

// LeafBlockers lists why a single leaf could not be satisfied.
type LeafBlockers struct {
	Leaf     int
	Script   string
	Blockers []miniscript.Blocker
}

// NoSatisfyingPathError is returned if an input can't be satisfied. It names
// every path that was tried together with what blocked it.
type NoSatisfyingPathError struct {
	Input   int
	KeyPath string
	Leaves  []LeafBlockers
}

// Error returns one line per blocked path.
func (e *NoSatisfyingPathError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "input %d: %v:\n  key path: %s", e.Input,
		ErrNoSatisfyingPath, e.KeyPath)
	for _, leaf := range e.Leaves {
		reasons := make([]string, len(leaf.Blockers))
		for i, blocker := range leaf.Blockers {
			reasons[i] = blocker.String()
		}
		fmt.Fprintf(&b, "\n  leaf %d %s: %s", leaf.Leaf, leaf.Script,
			strings.Join(reasons, "; "))
	}

	return b.String()
}

// Is makes the error match ErrNoSatisfyingPath.
func (e *NoSatisfyingPathError) Is(target error) bool {
	return target == ErrNoSatisfyingPath
}

type assets struct {
	SecretSource
	timelock.Context
}

// Satisfy produces the witness of a single input. The key path is used if
// the secret of the internal key is active. Otherwise the leaves are tried
// in tree order and the first one that can be satisfied is spent.
func Satisfy(req *Request) (*Result, error) {
	pkScript, err := req.Tree.PkScript()
	if err != nil {
		return nil, fmt.Errorf("error creating pk script: %w", err)
	}

	var internalKey [32]byte
	copy(internalKey[:], schnorr.SerializePubKey(req.Tree.InternalKey))

	if req.Secrets.CanSign(internalKey) {
		return signKeyPath(req, pkScript, internalKey)
	}

	noPath := &NoSatisfyingPathError{
		Input:   req.Index,
		KeyPath: fmt.Sprintf("internal key %x can't sign", internalKey),
	}
	a := assets{SecretSource: req.Secrets, Context: req.Timelock}
	for i, leaf := range req.Tree.Leaves {
		plan, err := miniscript.Plan(leaf.Script, a)

		var unsatisfiable *miniscript.UnsatisfiableError
		switch {
		case errors.As(err, &unsatisfiable):
			noPath.Leaves = append(noPath.Leaves, LeafBlockers{
				Leaf:     i,
				Script:   leaf.Script.String(),
				Blockers: unsatisfiable.Blockers,
			})
			continue

		case err != nil:
			return nil, err
		}

		return signScriptPath(req, pkScript, i, plan)
	}

	return nil, noPath
}

func signKeyPath(req *Request, pkScript []byte, internalKey [32]byte) (
	*Result, error) {

	privKey, ok := req.Secrets.ActiveSecret(internalKey)
	if !ok {
		return nil, fmt.Errorf("secret of internal key %x vanished",
			internalKey)
	}

	sig, err := txscript.RawTxInTaprootSignature(
		req.Tx, req.SigHashes, req.Index, req.Amount, pkScript,
		req.Tree.MerkleRootBytes(), txscript.SigHashDefault, privKey,
	)
	if err != nil {
		return nil, fmt.Errorf("error signing key path of input %d: %w",
			req.Index, err)
	}
	log.Debugf("Input %d: key path spend", req.Index)

	return &Result{
		Witness: wire.TxWitness{sig},
		Leaf:    KeyPathLeaf,
	}, nil
}

func signScriptPath(req *Request, pkScript []byte, leafIndex int,
	plan miniscript.Witness) (*Result, error) {

	leaf := req.Tree.Leaves[leafIndex]
	controlBlock, err := req.Tree.ControlBlock(leafIndex)
	if err != nil {
		return nil, err
	}
	controlBlockBytes, err := controlBlock.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("error serializing control block: %w",
			err)
	}

	witness := make(wire.TxWitness, 0, len(plan)+2)
	for _, elem := range plan {
		switch elem.Kind {
		case miniscript.ElementSignature:
			privKey, ok := req.Secrets.ActiveSecret(elem.Key)
			if !ok {
				return nil, fmt.Errorf("secret of key %x "+
					"vanished", elem.Key)
			}

			sig, err := txscript.RawTxInTapscriptSignature(
				req.Tx, req.SigHashes, req.Index, req.Amount,
				pkScript, leaf.TapLeaf, txscript.SigHashDefault,
				privKey,
			)
			if err != nil {
				return nil, fmt.Errorf("error signing leaf %d "+
					"of input %d: %w", leafIndex, req.Index,
					err)
			}
			witness = append(witness, sig)

		case miniscript.ElementPreimage:
			preimage, ok := req.Secrets.ActivePreimage(elem.Image)
			if !ok {
				return nil, fmt.Errorf("preimage of image %x "+
					"vanished", elem.Image)
			}
			witness = append(witness, preimage)

		default:
			witness = append(witness, elem.Data)
		}
	}
	witness = append(witness, leaf.TapLeaf.Script, controlBlockBytes)

	log.Debugf("Input %d: script path spend of leaf %d %v with stack %v",
		req.Index, leafIndex, leaf.Script, plan)
	log.Tracef("Input %d witness: %v", req.Index, spew.Sdump(witness))

	return &Result{
		Witness: witness,
		Leaf:    leafIndex,
		Plan:    plan,
	}, nil
}

// Input is one input of a transaction for All.
type Input struct {
	Tree   *taptree.TapTree
	Amount int64
}

// All satisfies every input of tx in parallel. Signing only reads tx, the
// witnesses are returned in input order and not attached. If several inputs
// fail, the error of the lowest input index is returned.
func All(tx *wire.MsgTx, fetcher txscript.PrevOutputFetcher, inputs []Input,
	secrets SecretSource, locks *timelock.Resolution) ([]*Result, error) {

	if len(inputs) != len(tx.TxIn) {
		return nil, fmt.Errorf("got %d inputs for a transaction with "+
			"%d inputs", len(inputs), len(tx.TxIn))
	}

	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	results := make([]*Result, len(inputs))
	errs := make([]error, len(inputs))

	var eg errgroup.Group
	eg.SetLimit(runtime.NumCPU())
	for i := range inputs {
		eg.Go(func() error {
			results[i], errs[i] = Satisfy(&Request{
				Tx:        tx,
				SigHashes: sigHashes,
				Index:     i,
				Amount:    inputs[i].Amount,
				Tree:      inputs[i].Tree,
				Secrets:   secrets,
				Timelock:  locks.Context(i),
			})

			return errs[i]
		})
	}

	if err := eg.Wait(); err != nil {
		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
	}

	return results, nil
}
