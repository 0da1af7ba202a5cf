package miniscript

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

const (
	// MaxOlder is the largest relative block height older() accepts. Any
	// larger value would set the type or disable flag of nSequence.
	MaxOlder = 0xffff

	// LocktimeThreshold is the first nLockTime value that is interpreted
	// as a Unix time instead of a block height.
	LocktimeThreshold = 500000000

	// MaxMultiKeys is the maximum number of keys in a multi_a fragment,
	// bounded by the tapscript stack size limit.
	MaxMultiKeys = 999
)

// Node is a typed Miniscript expression. The set of implementations is
// closed: Const, Key, Image, After, Older, Multi, And, AndOr, Or, Thresh and
// Wrap.
type Node interface {
	// Type returns the type of the expression.
	Type() Type

	// String returns the canonical textual form of the expression.
	String() string

	node()
}

type typed struct {
	typ Type
}

func (t typed) Type() Type { return t.typ }

func (typed) node() {}

// Const is one of the constants 0 and 1.
type Const struct {
	typed
	Value bool
}

// NewConst returns the constant 1 if value is true and 0 otherwise.
func NewConst(value bool) *Const {
	t := Type{Base: TypeB, Z: true, U: true, D: !value}
	return &Const{typed: typed{t}, Value: value}
}

func (c *Const) String() string {
	if c.Value {
		return "1"
	}
	return "0"
}

// Key is a public key check. With Hash unset it is pk_k and pushes the key,
// with Hash set it is pk_h and expects the key on the stack, checking it
// against its HASH160.
type Key struct {
	typed
	Key  [32]byte
	Hash bool
}

// NewKey creates a pk_k or pk_h fragment.
func NewKey(key [32]byte, hash bool) *Key {
	t := Type{Base: TypeK, O: !hash, N: true, D: true, U: true}
	return &Key{typed: typed{t}, Key: key, Hash: hash}
}

func (k *Key) String() string {
	if k.Hash {
		return "pk_h(" + hex.EncodeToString(k.Key[:]) + ")"
	}
	return "pk_k(" + hex.EncodeToString(k.Key[:]) + ")"
}

// Image is a SHA-256 hash lock.
type Image struct {
	typed
	Image [32]byte
}

// NewImage creates a sha256 fragment.
func NewImage(image [32]byte) *Image {
	t := Type{Base: TypeB, O: true, N: true, D: true, U: true}
	return &Image{typed: typed{t}, Image: image}
}

func (i *Image) String() string {
	return "sha256(" + hex.EncodeToString(i.Image[:]) + ")"
}

// After is an absolute block height lock.
type After struct {
	typed
	Height uint32
}

// NewAfter creates an after fragment.
func NewAfter(height uint32) (*After, error) {
	if height == 0 || height >= LocktimeThreshold {
		return nil, fmt.Errorf("after: height %d out of range "+
			"[1, %d), time based locks are not supported", height,
			LocktimeThreshold)
	}
	t := Type{Base: TypeB, Z: true}

	return &After{typed: typed{t}, Height: height}, nil
}

func (a *After) String() string {
	return "after(" + strconv.FormatUint(uint64(a.Height), 10) + ")"
}

// Older is a relative block height lock.
type Older struct {
	typed
	Height uint16
}

// NewOlder creates an older fragment.
func NewOlder(height uint32) (*Older, error) {
	if height == 0 || height > MaxOlder {
		return nil, fmt.Errorf("older: height %d out of range [1, %d], "+
			"time based locks are not supported", height, MaxOlder)
	}
	t := Type{Base: TypeB, Z: true}

	return &Older{typed: typed{t}, Height: uint16(height)}, nil
}

func (o *Older) String() string {
	return "older(" + strconv.FormatUint(uint64(o.Height), 10) + ")"
}

// Multi is a k-of-n tapscript multisig, multi_a.
type Multi struct {
	typed
	K    int
	Keys [][32]byte
}

// NewMulti creates a multi_a fragment.
func NewMulti(k int, keys [][32]byte) (*Multi, error) {
	if len(keys) == 0 || len(keys) > MaxMultiKeys {
		return nil, fmt.Errorf("multi_a: need between 1 and %d keys, "+
			"got %d", MaxMultiKeys, len(keys))
	}
	if k < 1 || k > len(keys) {
		return nil, fmt.Errorf("multi_a: threshold %d out of range "+
			"[1, %d]", k, len(keys))
	}
	t := Type{Base: TypeB, D: true, U: true}

	return &Multi{typed: typed{t}, K: k, Keys: keys}, nil
}

func (m *Multi) String() string {
	parts := []string{strconv.Itoa(m.K)}
	for _, key := range m.Keys {
		parts = append(parts, hex.EncodeToString(key[:]))
	}

	return "multi_a(" + strings.Join(parts, ",") + ")"
}

// AndKind distinguishes the two-argument conjunctions.
type AndKind uint8

const (
	// AndV is and_v(X,Y): [X] [Y].
	AndV AndKind = iota

	// AndB is and_b(X,Y): [X] [Y] BOOLAND.
	AndB
)

// And is a conjunction of two sub-expressions.
type And struct {
	typed
	Kind AndKind
	X, Y Node
}

// NewAnd creates an and_v or and_b fragment.
func NewAnd(kind AndKind, x, y Node) (*And, error) {
	tx, ty := x.Type(), y.Type()

	var t Type
	switch kind {
	case AndV:
		if err := expectBase("and_v", x, TypeV); err != nil {
			return nil, err
		}
		if ty.Base != TypeB && ty.Base != TypeV && ty.Base != TypeK {
			return nil, fmt.Errorf("and_v: expected %s to be of "+
				"type B, V or K, got %s", y, ty.Base)
		}
		t = Type{
			Base: ty.Base,
			Z:    tx.Z && ty.Z,
			O:    (tx.Z && ty.O) || (tx.O && ty.Z),
			N:    tx.N || (tx.Z && ty.N),
			U:    ty.U,
		}

	case AndB:
		if err := expectBase("and_b", x, TypeB); err != nil {
			return nil, err
		}
		if err := expectBase("and_b", y, TypeW); err != nil {
			return nil, err
		}
		t = Type{
			Base: TypeB,
			Z:    tx.Z && ty.Z,
			O:    (tx.Z && ty.O) || (tx.O && ty.Z),
			N:    tx.N || (tx.Z && ty.N),
			D:    tx.D && ty.D,
			U:    true,
		}

	default:
		return nil, fmt.Errorf("unknown conjunction %d", kind)
	}

	return &And{typed: typed{t}, Kind: kind, X: x, Y: y}, nil
}

func (a *And) String() string {
	name := "and_v"
	if a.Kind == AndB {
		name = "and_b"
	}

	return name + "(" + a.X.String() + "," + a.Y.String() + ")"
}

// AndOr is andor(X,Y,Z): if X then Y else Z.
type AndOr struct {
	typed
	X, Y, Z Node
}

// NewAndOr creates an andor fragment.
func NewAndOr(x, y, z Node) (*AndOr, error) {
	if err := expect("andor", x, TypeB, "du"); err != nil {
		return nil, err
	}
	tx, ty, tz := x.Type(), y.Type(), z.Type()
	if ty.Base != tz.Base || (ty.Base != TypeB && ty.Base != TypeV &&
		ty.Base != TypeK) {

		return nil, fmt.Errorf("andor: expected %s and %s to be of "+
			"the same type B, V or K", y, z)
	}
	t := Type{
		Base: ty.Base,
		Z:    tx.Z && ty.Z && tz.Z,
		O: (tx.Z && ty.O && tz.O) ||
			(tx.O && ty.Z && tz.Z),
		D: tz.D,
		U: ty.U && tz.U,
	}

	return &AndOr{typed: typed{t}, X: x, Y: y, Z: z}, nil
}

func (a *AndOr) String() string {
	return "andor(" + a.X.String() + "," + a.Y.String() + "," +
		a.Z.String() + ")"
}

// OrKind distinguishes the disjunctions.
type OrKind uint8

const (
	// OrB is or_b(X,Z): [X] [Z] BOOLOR.
	OrB OrKind = iota

	// OrC is or_c(X,Z): [X] NOTIF [Z] ENDIF.
	OrC

	// OrD is or_d(X,Z): [X] IFDUP NOTIF [Z] ENDIF.
	OrD

	// OrI is or_i(X,Z): IF [X] ELSE [Z] ENDIF.
	OrI
)

var orNames = map[OrKind]string{
	OrB: "or_b",
	OrC: "or_c",
	OrD: "or_d",
	OrI: "or_i",
}

// Or is a disjunction of two sub-expressions. X is the left branch and wins
// whenever both branches can be satisfied.
type Or struct {
	typed
	Kind OrKind
	X, Z Node
}

// NewOr creates one of the or_b, or_c, or_d and or_i fragments.
func NewOr(kind OrKind, x, z Node) (*Or, error) {
	name := orNames[kind]
	tx, tz := x.Type(), z.Type()

	var t Type
	switch kind {
	case OrB:
		if err := expect(name, x, TypeB, "d"); err != nil {
			return nil, err
		}
		if err := expect(name, z, TypeW, "d"); err != nil {
			return nil, err
		}
		t = Type{
			Base: TypeB,
			Z:    tx.Z && tz.Z,
			O:    (tx.Z && tz.O) || (tx.O && tz.Z),
			D:    true,
			U:    true,
		}

	case OrC:
		if err := expect(name, x, TypeB, "du"); err != nil {
			return nil, err
		}
		if err := expectBase(name, z, TypeV); err != nil {
			return nil, err
		}
		t = Type{
			Base: TypeV,
			Z:    tx.Z && tz.Z,
			O:    tx.O && tz.Z,
		}

	case OrD:
		if err := expect(name, x, TypeB, "du"); err != nil {
			return nil, err
		}
		if err := expectBase(name, z, TypeB); err != nil {
			return nil, err
		}
		t = Type{
			Base: TypeB,
			Z:    tx.Z && tz.Z,
			O:    tx.O && tz.Z,
			D:    tz.D,
			U:    tz.U,
		}

	case OrI:
		if tx.Base != tz.Base || (tx.Base != TypeB &&
			tx.Base != TypeV && tx.Base != TypeK) {

			return nil, fmt.Errorf("%s: expected %s and %s to be "+
				"of the same type B, V or K", name, x, z)
		}
		t = Type{
			Base: tx.Base,
			O:    tx.Z && tz.Z,
			D:    tx.D || tz.D,
			U:    tx.U && tz.U,
		}

	default:
		return nil, fmt.Errorf("unknown disjunction %d", kind)
	}

	return &Or{typed: typed{t}, Kind: kind, X: x, Z: z}, nil
}

func (o *Or) String() string {
	return orNames[o.Kind] + "(" + o.X.String() + "," + o.Z.String() + ")"
}

// Thresh is thresh(k,X1,...,Xn): at least k of the sub-expressions must be
// satisfied.
type Thresh struct {
	typed
	K    int
	Subs []Node
}

// NewThresh creates a thresh fragment.
func NewThresh(k int, subs []Node) (*Thresh, error) {
	if len(subs) == 0 {
		return nil, fmt.Errorf("thresh: need at least one " +
			"sub-expression")
	}
	if k < 1 || k > len(subs) {
		return nil, fmt.Errorf("thresh: threshold %d out of range "+
			"[1, %d]", k, len(subs))
	}

	var (
		allZ   = true
		numO   = 0
		otherZ = true
	)
	for i, sub := range subs {
		want := TypeW
		if i == 0 {
			want = TypeB
		}
		if err := expect("thresh", sub, want, "du"); err != nil {
			return nil, err
		}

		ts := sub.Type()
		switch {
		case ts.Z:
		case ts.O:
			numO++
		default:
			otherZ = false
		}
		allZ = allZ && ts.Z
	}
	t := Type{
		Base: TypeB,
		Z:    allZ,
		O:    otherZ && numO == 1,
		D:    true,
		U:    true,
	}

	return &Thresh{typed: typed{t}, K: k, Subs: subs}, nil
}

func (t *Thresh) String() string {
	parts := []string{strconv.Itoa(t.K)}
	for _, sub := range t.Subs {
		parts = append(parts, sub.String())
	}

	return "thresh(" + strings.Join(parts, ",") + ")"
}

// Wrapper is a single letter Miniscript wrapper.
type Wrapper byte

const (
	// WrapA is a:X, TOALTSTACK [X] FROMALTSTACK.
	WrapA Wrapper = 'a'

	// WrapS is s:X, SWAP [X].
	WrapS Wrapper = 's'

	// WrapC is c:X, [X] CHECKSIG.
	WrapC Wrapper = 'c'

	// WrapD is d:X, DUP IF [X] ENDIF.
	WrapD Wrapper = 'd'

	// WrapV is v:X, [X] VERIFY.
	WrapV Wrapper = 'v'

	// WrapJ is j:X, SIZE 0NOTEQUAL IF [X] ENDIF.
	WrapJ Wrapper = 'j'

	// WrapN is n:X, [X] 0NOTEQUAL.
	WrapN Wrapper = 'n'
)

// Wrap applies a wrapper to a sub-expression.
type Wrap struct {
	typed
	Kind Wrapper
	X    Node
}

// NewWrap creates a wrapped fragment.
func NewWrap(kind Wrapper, x Node) (*Wrap, error) {
	name := string(kind) + ":"
	tx := x.Type()

	var t Type
	switch kind {
	case WrapA:
		if err := expectBase(name, x, TypeB); err != nil {
			return nil, err
		}
		t = Type{Base: TypeW, D: tx.D, U: tx.U}

	case WrapS:
		if err := expect(name, x, TypeB, "o"); err != nil {
			return nil, err
		}
		t = Type{Base: TypeW, D: tx.D, U: tx.U}

	case WrapC:
		if err := expectBase(name, x, TypeK); err != nil {
			return nil, err
		}
		t = Type{Base: TypeB, O: tx.O, N: tx.N, D: tx.D, U: true}

	case WrapD:
		if err := expect(name, x, TypeV, "z"); err != nil {
			return nil, err
		}

		// In tapscript the MINIMALIF rule is consensus, so d: is
		// also unit.
		t = Type{Base: TypeB, O: true, N: true, D: true, U: true}

	case WrapV:
		if err := expectBase(name, x, TypeB); err != nil {
			return nil, err
		}
		t = Type{Base: TypeV, Z: tx.Z, O: tx.O, N: tx.N}

	case WrapJ:
		if err := expect(name, x, TypeB, "n"); err != nil {
			return nil, err
		}
		t = Type{Base: TypeB, O: tx.O, N: true, D: true, U: tx.U}

	case WrapN:
		if err := expectBase(name, x, TypeB); err != nil {
			return nil, err
		}
		t = Type{
			Base: TypeB, Z: tx.Z, O: tx.O, N: tx.N, D: tx.D,
			U: true,
		}

	default:
		return nil, fmt.Errorf("unknown wrapper %q", kind)
	}

	return &Wrap{typed: typed{t}, Kind: kind, X: x}, nil
}

func (w *Wrap) String() string {
	letters, body := wrapped(w)
	if letters == "" {
		return body
	}

	return letters + ":" + body
}

// wrapped splits a chain of wrappers into its letters and the innermost
// fragment, folding c:pk_k and c:pk_h back into pk and pkh.
func wrapped(n Node) (string, string) {
	w, ok := n.(*Wrap)
	if !ok {
		return "", n.String()
	}
	if k, ok := w.X.(*Key); ok && w.Kind == WrapC {
		name := "pk("
		if k.Hash {
			name = "pkh("
		}
		return "", name + hex.EncodeToString(k.Key[:]) + ")"
	}

	letters, body := wrapped(w.X)

	return string(w.Kind) + letters, body
}
