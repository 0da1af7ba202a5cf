package miniscript

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ElementKind is the kind of a planned witness element.
type ElementKind uint8

const (
	// ElementSignature is a Schnorr signature by Key over the spending
	// transaction.
	ElementSignature ElementKind = iota

	// ElementPreimage is the preimage of Image.
	ElementPreimage

	// ElementPush is a literal stack element.
	ElementPush
)

// Element is one planned witness stack element. Signatures and preimages
// are only placeholders so that secrets are only fetched for the path that
// was actually chosen.
type Element struct {
	Kind  ElementKind
	Key   [32]byte
	Image [32]byte
	Data  []byte
}

// String returns a short human readable form of the element.
func (e Element) String() string {
	switch e.Kind {
	case ElementSignature:
		return "<sig " + shortHex(e.Key[:]) + ">"
	case ElementPreimage:
		return "<preimage " + shortHex(e.Image[:]) + ">"
	default:
		if len(e.Data) == 0 {
			return "<>"
		}
		return "<" + hex.EncodeToString(e.Data) + ">"
	}
}

// Witness is a planned witness stack. The first element is the bottom of
// the stack, the last element is on top and consumed first by the script.
type Witness []Element

// Keys returns the keys that have to sign, in witness order.
func (w Witness) Keys() [][32]byte {
	var keys [][32]byte
	for _, e := range w {
		if e.Kind == ElementSignature {
			keys = append(keys, e.Key)
		}
	}

	return keys
}

// String returns the witness elements separated by spaces.
func (w Witness) String() string {
	parts := make([]string, len(w))
	for i, e := range w {
		parts[i] = e.String()
	}

	return strings.Join(parts, " ")
}

// Assets is what the planner can use to satisfy an expression.
type Assets interface {
	// CanSign returns true if a signature for the key can be produced.
	CanSign(pubKey [32]byte) bool

	// CanReveal returns true if the preimage of the image is available.
	CanReveal(image [32]byte) bool

	// CheckOlder returns nil if a relative lock of the given height is
	// satisfied and the reason why it is not otherwise.
	CheckOlder(height uint16) error

	// CheckAfter returns nil if an absolute lock of the given height is
	// satisfied and the reason why it is not otherwise.
	CheckAfter(height uint32) error
}

// BlockerKind classifies why a predicate could not be satisfied.
type BlockerKind uint8

const (
	BlockerMissingKey BlockerKind = iota
	BlockerMissingPreimage
	BlockerTimelock
)

// Blocker is a predicate that prevented a satisfaction.
type Blocker struct {
	Kind      BlockerKind
	Predicate string
	Reason    string
}

func (b Blocker) String() string {
	return b.Predicate + ": " + b.Reason
}

// UnsatisfiableError is returned by Plan if no satisfaction exists with the
// given assets.
type UnsatisfiableError struct {
	Blockers []Blocker
}

func (e *UnsatisfiableError) Error() string {
	if len(e.Blockers) == 0 {
		return "expression can't be satisfied"
	}

	parts := make([]string, len(e.Blockers))
	for i, b := range e.Blockers {
		parts[i] = b.String()
	}

	return "expression can't be satisfied: " + strings.Join(parts, "; ")
}

// Plan finds a satisfaction for n. Alternatives are tried left to right and
// the leftmost one that is available wins. Thresholds are filled with the
// leftmost available sub-expressions.
func Plan(n Node, a Assets) (Witness, error) {
	sat, _ := plan(n, a)
	if !sat.ok {
		return nil, &UnsatisfiableError{Blockers: sat.blockers}
	}

	return sat.witness, nil
}

// satisfaction is either an available witness or the list of predicates
// that blocked it.
type satisfaction struct {
	ok       bool
	witness  Witness
	blockers []Blocker
}

func available(elems ...Element) satisfaction {
	return satisfaction{ok: true, witness: Witness(elems)}
}

func blocked(blockers ...Blocker) satisfaction {
	return satisfaction{blockers: blockers}
}

// unavailable is a satisfaction that can't exist by construction, like the
// dissatisfaction of a V expression.
var unavailable = satisfaction{}

// then concatenates two satisfactions where s is pushed first and consumed
// last.
func (s satisfaction) then(other satisfaction) satisfaction {
	if s.ok && other.ok {
		w := make(Witness, 0, len(s.witness)+len(other.witness))
		w = append(w, s.witness...)
		w = append(w, other.witness...)

		return available(w...)
	}

	var blockers []Blocker
	if !s.ok {
		blockers = append(blockers, s.blockers...)
	}
	if !other.ok {
		blockers = mergeBlockers(blockers, other.blockers)
	}

	return blocked(blockers...)
}

// or returns the first available satisfaction.
func or(options ...satisfaction) satisfaction {
	var blockers []Blocker
	for _, o := range options {
		if o.ok {
			return o
		}
		blockers = mergeBlockers(blockers, o.blockers)
	}

	return blocked(blockers...)
}

func mergeBlockers(list, add []Blocker) []Blocker {
	for _, b := range add {
		found := false
		for _, existing := range list {
			if existing == b {
				found = true
				break
			}
		}
		if !found {
			list = append(list, b)
		}
	}

	return list
}

func push(data []byte) Element {
	return Element{Kind: ElementPush, Data: data}
}

var (
	emptyPush = push([]byte{})
	onePush   = push([]byte{1})
)

// plan returns the satisfaction and dissatisfaction of n.
func plan(n Node, a Assets) (satisfaction, satisfaction) {
	switch n := n.(type) {
	case *Const:
		if n.Value {
			return available(), unavailable
		}
		return unavailable, available()

	case *Key:
		return planKey(n, a)

	case *Image:
		dissat := available(push(make([]byte, 32)))
		if !a.CanReveal(n.Image) {
			return blocked(Blocker{
				Kind:      BlockerMissingPreimage,
				Predicate: n.String(),
				Reason:    "no active preimage",
			}), dissat
		}
		return available(Element{
			Kind: ElementPreimage, Image: n.Image,
		}), dissat

	case *Older:
		if err := a.CheckOlder(n.Height); err != nil {
			return blocked(Blocker{
				Kind:      BlockerTimelock,
				Predicate: n.String(),
				Reason:    err.Error(),
			}), unavailable
		}
		return available(), unavailable

	case *After:
		if err := a.CheckAfter(n.Height); err != nil {
			return blocked(Blocker{
				Kind:      BlockerTimelock,
				Predicate: n.String(),
				Reason:    err.Error(),
			}), unavailable
		}
		return available(), unavailable

	case *Multi:
		return planMulti(n, a)

	case *And:
		satX, dissatX := plan(n.X, a)
		satY, dissatY := plan(n.Y, a)
		sat := satY.then(satX)
		if n.Kind == AndV {
			return sat, unavailable
		}
		return sat, dissatY.then(dissatX)

	case *AndOr:
		satX, dissatX := plan(n.X, a)
		satY, _ := plan(n.Y, a)
		satZ, dissatZ := plan(n.Z, a)
		sat := or(satY.then(satX), satZ.then(dissatX))

		return sat, dissatZ.then(dissatX)

	case *Or:
		return planOr(n, a)

	case *Thresh:
		return planThresh(n, a)

	case *Wrap:
		return planWrap(n, a)

	default:
		return blocked(Blocker{
			Predicate: fmt.Sprintf("%T", n),
			Reason:    "unknown fragment",
		}), unavailable
	}
}

func planKey(n *Key, a Assets) (satisfaction, satisfaction) {
	var sat, dissat satisfaction
	if a.CanSign(n.Key) {
		sat = available(Element{Kind: ElementSignature, Key: n.Key})
	} else {
		sat = blocked(Blocker{
			Kind:      BlockerMissingKey,
			Predicate: "pk(" + hex.EncodeToString(n.Key[:]) + ")",
			Reason:    "no active secret key",
		})
	}
	dissat = available(emptyPush)

	if n.Hash {
		// pk_h expects the key itself on top of the signature.
		key := available(push(append([]byte(nil), n.Key[:]...)))
		sat = sat.then(key)
		dissat = dissat.then(key)
	}

	return sat, dissat
}

func planMulti(n *Multi, a Assets) (satisfaction, satisfaction) {
	// The first key is checked first, so its element is on top of the
	// stack and the last key's element at the bottom.
	elems := make(Witness, len(n.Keys))
	dissat := make(Witness, len(n.Keys))

	var (
		signers  int
		blockers []Blocker
	)
	for i, key := range n.Keys {
		pos := len(n.Keys) - 1 - i
		dissat[pos] = emptyPush
		elems[pos] = emptyPush

		if signers == n.K {
			continue
		}
		if !a.CanSign(key) {
			blockers = append(blockers, Blocker{
				Kind: BlockerMissingKey,
				Predicate: "multi_a key " +
					hex.EncodeToString(key[:]),
				Reason: "no active secret key",
			})
			continue
		}
		elems[pos] = Element{Kind: ElementSignature, Key: key}
		signers++
	}

	if signers < n.K {
		return blocked(blockers...), available(dissat...)
	}

	return available(elems...), available(dissat...)
}

func planOr(n *Or, a Assets) (satisfaction, satisfaction) {
	satX, dissatX := plan(n.X, a)
	satZ, dissatZ := plan(n.Z, a)

	switch n.Kind {
	case OrB:
		sat := or(dissatZ.then(satX), satZ.then(dissatX))
		return sat, dissatZ.then(dissatX)

	case OrC:
		return or(satX, satZ.then(dissatX)), unavailable

	case OrD:
		return or(satX, satZ.then(dissatX)), dissatZ.then(dissatX)

	default:
		one, zero := available(onePush), available(emptyPush)
		sat := or(satX.then(one), satZ.then(zero))
		dissat := or(dissatX.then(one), dissatZ.then(zero))

		return sat, dissat
	}
}

func planThresh(n *Thresh, a Assets) (satisfaction, satisfaction) {
	var (
		parts    = make([]satisfaction, len(n.Subs))
		dissats  = make([]satisfaction, len(n.Subs))
		count    int
		blockers []Blocker
	)
	for i, sub := range n.Subs {
		sat, dissat := plan(sub, a)
		dissats[i] = dissat

		if count < n.K && sat.ok {
			parts[i] = sat
			count++
			continue
		}
		if !sat.ok {
			blockers = mergeBlockers(blockers, sat.blockers)
		}
		parts[i] = dissat
	}

	// The first sub-expression is executed first, so its elements end up
	// on top.
	combine := func(list []satisfaction) satisfaction {
		result := available()
		for i := len(list) - 1; i >= 0; i-- {
			result = result.then(list[i])
		}
		return result
	}

	dissat := combine(dissats)
	if count < n.K {
		return blocked(blockers...), dissat
	}

	return combine(parts), dissat
}

func planWrap(n *Wrap, a Assets) (satisfaction, satisfaction) {
	sat, dissat := plan(n.X, a)

	switch n.Kind {
	case WrapV:
		return sat, unavailable

	case WrapD:
		return sat.then(available(onePush)), available(emptyPush)

	case WrapJ:
		return sat, available(emptyPush)

	default:
		return sat, dissat
	}
}

func shortHex(b []byte) string {
	s := hex.EncodeToString(b)
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
