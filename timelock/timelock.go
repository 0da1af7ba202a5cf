package timelock

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// MaxRelativeHeight is the largest relative height a sequence can
	// encode.
	MaxRelativeHeight = 0xffff

	// LocktimeThreshold is the first locktime value that is interpreted
	// as Unix time instead of a block height.
	LocktimeThreshold = 500000000
)

var (
	// ErrLocktimeRequiresRelativeTimelock is returned when an absolute
	// locktime is set but no input enables locktime enforcement through
	// its sequence.
	ErrLocktimeRequiresRelativeTimelock = errors.New("locktime requires " +
		"at least one input with an enabled relative timelock")

	// ErrTimeBasedLocktime is returned for locktimes that denote Unix
	// time.
	ErrTimeBasedLocktime = errors.New("only block height locktimes are " +
		"supported")
)

// Sequence is the relative timelock of a single input. The zero value is a
// disabled sequence.
type Sequence struct {
	height fn.Option[uint16]
}

// Disabled returns a sequence that disables both the relative timelock of
// the input and its contribution to locktime enforcement.
func Disabled() Sequence {
	return Sequence{height: fn.None[uint16]()}
}

// Enabled returns a sequence with a relative timelock of height blocks.
func Enabled(height uint16) Sequence {
	return Sequence{height: fn.Some(height)}
}

// IsEnabled returns true if the sequence carries a relative timelock.
func (s Sequence) IsEnabled() bool {
	return s.height.IsSome()
}

// Height returns the relative height of an enabled sequence.
func (s Sequence) Height() fn.Option[uint16] {
	return s.height
}

// TxSequence returns the consensus nSequence value of the input.
func (s Sequence) TxSequence() uint32 {
	return fn.MapOptionZ(s.height, func(h uint16) uint32 {
		return uint32(h)
	}) | s.finalBits()
}

// finalBits is the nSequence of a disabled sequence, zero otherwise.
func (s Sequence) finalBits() uint32 {
	if s.IsEnabled() {
		return 0
	}

	return wire.MaxTxInSequenceNum
}

// String returns a human readable form of the sequence.
func (s Sequence) String() string {
	if !s.IsEnabled() {
		return "disabled"
	}

	return fmt.Sprintf("+%d blocks", s.height.UnwrapOr(0))
}

// MarshalJSON encodes a disabled sequence as null and an enabled one as its
// relative height.
func (s Sequence) MarshalJSON() ([]byte, error) {
	if !s.IsEnabled() {
		return []byte("null"), nil
	}

	return json.Marshal(s.height.UnwrapOr(0))
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (s *Sequence) UnmarshalJSON(data []byte) error {
	var height *uint16
	if err := json.Unmarshal(data, &height); err != nil {
		return fmt.Errorf("invalid sequence: %w", err)
	}

	if height == nil {
		*s = Disabled()
		return nil
	}
	*s = Enabled(*height)

	return nil
}

// ValidateLocktime checks that an absolute locktime is a block height and
// that it is enforced by at least one input.
func ValidateLocktime(locktime fn.Option[uint32], seqs []Sequence) error {
	return fn.MapOptionZ(locktime, func(height uint32) error {
		if height >= LocktimeThreshold {
			return fmt.Errorf("%w: %d", ErrTimeBasedLocktime, height)
		}
		if !anyEnabled(seqs) {
			return ErrLocktimeRequiresRelativeTimelock
		}

		return nil
	})
}

func anyEnabled(seqs []Sequence) bool {
	for _, s := range seqs {
		if s.IsEnabled() {
			return true
		}
	}

	return false
}

// Resolution is the timelock context of a whole transaction.
type Resolution struct {
	// active is true if at least one input enables locktime enforcement.
	active bool

	locktime fn.Option[uint32]
	seqs     []Sequence
}

// Resolve combines the absolute locktime of a draft with the sequences of
// its inputs, which are given in input order. Locktime enforcement is active
// if and only if at least one sequence is enabled.
func Resolve(locktime fn.Option[uint32], seqs []Sequence) (*Resolution,
	error) {

	if err := ValidateLocktime(locktime, seqs); err != nil {
		return nil, err
	}

	r := &Resolution{
		active:   anyEnabled(seqs),
		locktime: locktime,
		seqs:     append([]Sequence(nil), seqs...),
	}
	log.Debugf("Resolved timelocks: locktime=%d active=%v inputs=%d",
		r.LockTime(), r.active, len(seqs))

	return r, nil
}

// Active returns true if the absolute locktime is enforced.
func (r *Resolution) Active() bool {
	return r.active
}

// LockTime returns the nLockTime field of the transaction.
func (r *Resolution) LockTime() uint32 {
	if !r.active {
		return 0
	}

	return r.locktime.UnwrapOr(0)
}

// Context returns the timelock context of input i. Locktime is only set if
// enforcement is active, the absolute locktime is set and the input itself
// has a non-final sequence.
func (r *Resolution) Context(i int) Context {
	ctx := Context{
		Locktime: fn.None[uint32](),
		Sequence: fn.None[uint16](),
	}
	if i < 0 || i >= len(r.seqs) {
		return ctx
	}

	ctx.Sequence = r.seqs[i].Height()
	if r.active && ctx.Sequence.IsSome() {
		ctx.Locktime = r.locktime
	}
	ctx.locktimeActive = r.active
	ctx.locktimeSet = r.locktime.IsSome()

	return ctx
}

// Context is what timelock predicates of a single input are checked
// against.
type Context struct {
	// Locktime is the enforced absolute locktime, if any.
	Locktime fn.Option[uint32]

	// Sequence is the relative height of the input, if enabled.
	Sequence fn.Option[uint16]

	locktimeActive bool
	locktimeSet    bool
}

// CheckOlder returns nil if a relative timelock of n blocks is met.
func (c Context) CheckOlder(n uint16) error {
	height, err := c.Sequence.UnwrapOrErr(
		fmt.Errorf("older(%d) needs the relative timelock of the input "+
			"to be enabled", n),
	)
	if err != nil {
		return err
	}
	if height < n {
		return fmt.Errorf("older(%d) needs a relative timelock of at "+
			"least %d blocks, input has %d", n, n, height)
	}

	return nil
}

// CheckAfter returns nil if an absolute timelock at height n is met.
func (c Context) CheckAfter(n uint32) error {
	switch {
	case !c.locktimeActive:
		return fmt.Errorf("after(%d) needs locktime enforcement, enable "+
			"the relative timelock of an input", n)

	case c.Sequence.IsNone():
		return fmt.Errorf("after(%d) needs the relative timelock of the "+
			"input to be enabled", n)

	case !c.locktimeSet:
		return fmt.Errorf("after(%d) needs a locktime of at least %d, "+
			"none is set", n, n)
	}

	locktime := c.Locktime.UnwrapOr(0)
	if locktime < n {
		return fmt.Errorf("after(%d) needs a locktime of at least %d, "+
			"transaction has %d", n, n, locktime)
	}

	return nil
}
