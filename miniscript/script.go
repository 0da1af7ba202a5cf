package miniscript

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// Script encodes a Miniscript expression as tapscript.
func Script(n Node) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	if err := encode(b, n, false); err != nil {
		return nil, err
	}

	script, err := b.Script()
	if err != nil {
		return nil, fmt.Errorf("error building script for %s: %w", n,
			err)
	}

	return script, nil
}

// canCollapseVerify returns true if the last opcode of the encoding of n has
// a VERIFY variant that v: can fold into.
func canCollapseVerify(n Node) bool {
	switch n := n.(type) {
	case *Image, *Multi, *Thresh:
		return true

	case *Wrap:
		return n.Kind == WrapC

	case *And:
		return n.Kind == AndV && canCollapseVerify(n.Y)

	default:
		return false
	}
}

// encode appends the script of n to b. If verify is set, the caller checked
// canCollapseVerify and n ends in the VERIFY variant of its last opcode.
func encode(b *txscript.ScriptBuilder, n Node, verify bool) error {
	pick := func(plain, withVerify byte) byte {
		if verify {
			return withVerify
		}
		return plain
	}

	switch n := n.(type) {
	case *Const:
		if n.Value {
			b.AddOp(txscript.OP_1)
		} else {
			b.AddOp(txscript.OP_0)
		}

	case *Key:
		if !n.Hash {
			b.AddData(n.Key[:])
			break
		}
		b.AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).
			AddData(btcutil.Hash160(n.Key[:])).
			AddOp(txscript.OP_EQUALVERIFY)

	case *Image:
		b.AddOp(txscript.OP_SIZE).AddInt64(32).
			AddOp(txscript.OP_EQUALVERIFY).AddOp(txscript.OP_SHA256).
			AddData(n.Image[:]).
			AddOp(pick(txscript.OP_EQUAL, txscript.OP_EQUALVERIFY))

	case *Older:
		b.AddInt64(int64(n.Height)).
			AddOp(txscript.OP_CHECKSEQUENCEVERIFY)

	case *After:
		b.AddInt64(int64(n.Height)).
			AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)

	case *Multi:
		for i, key := range n.Keys {
			b.AddData(key[:])
			if i == 0 {
				b.AddOp(txscript.OP_CHECKSIG)
			} else {
				b.AddOp(txscript.OP_CHECKSIGADD)
			}
		}
		b.AddInt64(int64(n.K)).
			AddOp(pick(txscript.OP_NUMEQUAL, txscript.OP_NUMEQUALVERIFY))

	case *And:
		if err := encode(b, n.X, false); err != nil {
			return err
		}
		if n.Kind == AndV {
			return encode(b, n.Y, verify)
		}
		if err := encode(b, n.Y, false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_BOOLAND)

	case *AndOr:
		if err := encode(b, n.X, false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_NOTIF)
		if err := encode(b, n.Z, false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ELSE)
		if err := encode(b, n.Y, false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	case *Or:
		return encodeOr(b, n)

	case *Thresh:
		for i, sub := range n.Subs {
			if err := encode(b, sub, false); err != nil {
				return err
			}
			if i > 0 {
				b.AddOp(txscript.OP_ADD)
			}
		}
		b.AddInt64(int64(n.K)).
			AddOp(pick(txscript.OP_EQUAL, txscript.OP_EQUALVERIFY))

	case *Wrap:
		return encodeWrap(b, n, verify)

	default:
		return fmt.Errorf("unknown fragment %T", n)
	}

	return nil
}

func encodeOr(b *txscript.ScriptBuilder, n *Or) error {
	switch n.Kind {
	case OrB:
		if err := encode(b, n.X, false); err != nil {
			return err
		}
		if err := encode(b, n.Z, false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_BOOLOR)

	case OrC, OrD:
		if err := encode(b, n.X, false); err != nil {
			return err
		}
		if n.Kind == OrD {
			b.AddOp(txscript.OP_IFDUP)
		}
		b.AddOp(txscript.OP_NOTIF)
		if err := encode(b, n.Z, false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	case OrI:
		b.AddOp(txscript.OP_IF)
		if err := encode(b, n.X, false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ELSE)
		if err := encode(b, n.Z, false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	default:
		return fmt.Errorf("unknown disjunction %d", n.Kind)
	}

	return nil
}

func encodeWrap(b *txscript.ScriptBuilder, n *Wrap, verify bool) error {
	switch n.Kind {
	case WrapA:
		b.AddOp(txscript.OP_TOALTSTACK)
		if err := encode(b, n.X, false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_FROMALTSTACK)

	case WrapS:
		b.AddOp(txscript.OP_SWAP)
		return encode(b, n.X, false)

	case WrapC:
		if err := encode(b, n.X, false); err != nil {
			return err
		}
		if verify {
			b.AddOp(txscript.OP_CHECKSIGVERIFY)
		} else {
			b.AddOp(txscript.OP_CHECKSIG)
		}

	case WrapD:
		b.AddOp(txscript.OP_DUP).AddOp(txscript.OP_IF)
		if err := encode(b, n.X, false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	case WrapV:
		if canCollapseVerify(n.X) {
			return encode(b, n.X, true)
		}
		if err := encode(b, n.X, false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_VERIFY)

	case WrapJ:
		b.AddOp(txscript.OP_SIZE).AddOp(txscript.OP_0NOTEQUAL).
			AddOp(txscript.OP_IF)
		if err := encode(b, n.X, false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	case WrapN:
		if err := encode(b, n.X, false); err != nil {
			return err
		}
		b.AddOp(txscript.OP_0NOTEQUAL)

	default:
		return fmt.Errorf("unknown wrapper %q", n.Kind)
	}

	return nil
}
