package miniscript

import (
	"fmt"
	"strings"
)

// BasicType is one of the four basic Miniscript expression types.
type BasicType uint8

const (
	// TypeB is a base expression. It consumes its inputs and pushes a
	// nonzero value on satisfaction and an exact zero on dissatisfaction.
	TypeB BasicType = iota + 1

	// TypeV is a verify expression. It consumes its inputs and pushes
	// nothing. It can't be dissatisfied.
	TypeV

	// TypeK is a key expression. It pushes a public key for which a
	// signature still has to be checked.
	TypeK

	// TypeW is a wrapped expression. It takes its inputs from one below
	// the top of the stack and behaves like B otherwise.
	TypeW
)

// String returns the single letter name of the basic type.
func (b BasicType) String() string {
	switch b {
	case TypeB:
		return "B"
	case TypeV:
		return "V"
	case TypeK:
		return "K"
	case TypeW:
		return "W"
	default:
		return "?"
	}
}

// Type is the full type of a Miniscript expression: its basic type plus the
// type properties.
type Type struct {
	Base BasicType

	// Z: consumes exactly 0 stack elements.
	Z bool

	// O: consumes exactly 1 stack element.
	O bool

	// N: the top stack element is nonzero on satisfaction.
	N bool

	// D: a dissatisfaction exists.
	D bool

	// U: pushes exactly 1 on satisfaction.
	U bool
}

// String renders the type in the usual compact notation, e.g. "Bndu".
func (t Type) String() string {
	var b strings.Builder
	b.WriteString(t.Base.String())
	for _, p := range []struct {
		set    bool
		letter byte
	}{{t.Z, 'z'}, {t.O, 'o'}, {t.N, 'n'}, {t.D, 'd'}, {t.U, 'u'}} {
		if p.set {
			b.WriteByte(p.letter)
		}
	}

	return b.String()
}

func expectBase(fragment string, n Node, want BasicType) error {
	if n.Type().Base != want {
		return fmt.Errorf("%s: expected %s to be of type %s, got %s",
			fragment, n, want, n.Type().Base)
	}

	return nil
}

func expectProps(fragment string, n Node, props string) error {
	t := n.Type()
	for _, p := range props {
		var ok bool
		switch p {
		case 'z':
			ok = t.Z
		case 'o':
			ok = t.O
		case 'n':
			ok = t.N
		case 'd':
			ok = t.D
		case 'u':
			ok = t.U
		}
		if !ok {
			return fmt.Errorf("%s: expected %s to have property "+
				"%c", fragment, n, p)
		}
	}

	return nil
}

func expect(fragment string, n Node, want BasicType, props string) error {
	if err := expectBase(fragment, n, want); err != nil {
		return err
	}

	return expectProps(fragment, n, props)
}
