package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/uncomputable/tappy/descriptor"
	"github.com/uncomputable/tappy/taptree"
	"github.com/uncomputable/tappy/timelock"
)

var (
	ErrMissingUTXO    = errors.New("no such UTXO")
	ErrMissingInput   = errors.New("no such input")
	ErrMissingOutput  = errors.New("no such output")
	ErrMissingAddress = errors.New("no inbound address set")
	ErrDoubleSpend    = errors.New("UTXO is already spent by another " +
		"input")
	ErrDuplicateUTXO = errors.New("UTXO already exists with different " +
		"content")
	ErrNegativeValue = errors.New("value must not be negative")
	ErrValueTooLarge = errors.New("value exceeds the bitcoin supply")
)

// checkValue verifies that v is a possible amount of satoshis.
func checkValue(v int64) error {
	switch {
	case v < 0:
		return ErrNegativeValue

	case v > btcutil.MaxSatoshi:
		return fmt.Errorf("%w: %d > %d", ErrValueTooLarge, v,
			int64(btcutil.MaxSatoshi))
	}

	return nil
}

// UTXO is an unspent output the operator can spend. Descriptor is the
// canonical descriptor that locks it.
type UTXO struct {
	OutPoint   wire.OutPoint
	Value      int64
	Descriptor string
}

// String returns a one line summary of the UTXO.
func (u *UTXO) String() string {
	return fmt.Sprintf("%v %d sat %s", u.OutPoint, u.Value, u.Descriptor)
}

type utxoRecord struct {
	OutPoint   string `json:"outpoint"`
	Value      int64  `json:"value"`
	Descriptor string `json:"descriptor"`
}

// MarshalJSON encodes the outpoint as txid:vout.
func (u *UTXO) MarshalJSON() ([]byte, error) {
	return json.Marshal(utxoRecord{
		OutPoint:   u.OutPoint.String(),
		Value:      u.Value,
		Descriptor: u.Descriptor,
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (u *UTXO) UnmarshalJSON(data []byte) error {
	var record utxoRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return err
	}
	op, err := wire.NewOutPointFromString(record.OutPoint)
	if err != nil {
		return fmt.Errorf("invalid outpoint %q: %w", record.OutPoint,
			err)
	}
	*u = UTXO{
		OutPoint:   *op,
		Value:      record.Value,
		Descriptor: record.Descriptor,
	}

	return nil
}

// Input is a transaction input of the draft. An input that was created from
// a descriptor alone has no outpoint until it is bound.
type Input struct {
	OutPoint   *wire.OutPoint
	Value      int64
	Descriptor string
	Sequence   timelock.Sequence
}

// Bound returns true if the input spends a known outpoint.
func (i *Input) Bound() bool {
	return i.OutPoint != nil
}

// String returns a one line summary of the input.
func (i *Input) String() string {
	prevOut := "unbound"
	if i.Bound() {
		prevOut = fmt.Sprintf("%v %d sat", i.OutPoint, i.Value)
	}

	return fmt.Sprintf("%s %s sequence %v", prevOut, i.Descriptor,
		i.Sequence)
}

type inputRecord struct {
	OutPoint   *string           `json:"outpoint"`
	Value      int64             `json:"value"`
	Descriptor string            `json:"descriptor"`
	Sequence   timelock.Sequence `json:"sequence"`
}

// MarshalJSON encodes an unbound outpoint as null.
func (i *Input) MarshalJSON() ([]byte, error) {
	record := inputRecord{
		Value:      i.Value,
		Descriptor: i.Descriptor,
		Sequence:   i.Sequence,
	}
	if i.Bound() {
		op := i.OutPoint.String()
		record.OutPoint = &op
	}

	return json.Marshal(record)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (i *Input) UnmarshalJSON(data []byte) error {
	var record inputRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return err
	}

	*i = Input{
		Value:      record.Value,
		Descriptor: record.Descriptor,
		Sequence:   record.Sequence,
	}
	if record.OutPoint != nil {
		op, err := wire.NewOutPointFromString(*record.OutPoint)
		if err != nil {
			return fmt.Errorf("invalid outpoint %q: %w",
				*record.OutPoint, err)
		}
		i.OutPoint = op
	}

	return nil
}

// Output is a transaction output of the draft. A nil value marks the output
// that receives the remainder of the inputs after all other outputs and the
// fee.
type Output struct {
	Descriptor string `json:"descriptor"`
	Value      *int64 `json:"value"`
}

// String returns a one line summary of the output.
func (o *Output) String() string {
	if o.Value == nil {
		return fmt.Sprintf("%s remainder", o.Descriptor)
	}

	return fmt.Sprintf("%s %d sat", o.Descriptor, *o.Value)
}

// Draft is the transaction that is being assembled.
type Draft struct {
	Inputs   map[uint32]*Input  `json:"inputs"`
	Outputs  map[uint32]*Output `json:"outputs"`
	Fee      int64              `json:"fee"`
	Locktime *uint32            `json:"locktime"`
}

// NewDraft returns an empty draft.
func NewDraft() *Draft {
	return &Draft{
		Inputs:  make(map[uint32]*Input),
		Outputs: make(map[uint32]*Output),
	}
}

// LocktimeOption returns the absolute locktime of the draft, if set.
func (d *Draft) LocktimeOption() fn.Option[uint32] {
	if d.Locktime == nil {
		return fn.None[uint32]()
	}

	return fn.Some(*d.Locktime)
}

// InputIndexes returns the input indexes in ascending order.
func (d *Draft) InputIndexes() []uint32 {
	return sortedKeys(d.Inputs)
}

// OutputIndexes returns the output indexes in ascending order.
func (d *Draft) OutputIndexes() []uint32 {
	return sortedKeys(d.Outputs)
}

// Sequences returns the input sequences in index order.
func (d *Draft) Sequences() []timelock.Sequence {
	indexes := d.InputIndexes()
	seqs := make([]timelock.Sequence, len(indexes))
	for i, index := range indexes {
		seqs[i] = d.Inputs[index].Sequence
	}

	return seqs
}

// LocktimeActive returns true if at least one input enables locktime
// enforcement.
func (d *Draft) LocktimeActive() bool {
	for _, in := range d.Inputs {
		if in.Sequence.IsEnabled() {
			return true
		}
	}

	return false
}

func (d *Draft) validate(
	parse func(string) (*descriptor.Descriptor, error)) error {

	if d.Inputs == nil {
		d.Inputs = make(map[uint32]*Input)
	}
	if d.Outputs == nil {
		d.Outputs = make(map[uint32]*Output)
	}
	if err := checkValue(d.Fee); err != nil {
		return fmt.Errorf("fee: %w", err)
	}

	for index, in := range d.Inputs {
		if in == nil {
			return fmt.Errorf("input %d is empty", index)
		}
		if err := checkValue(in.Value); err != nil {
			return fmt.Errorf("input %d: %w", index, err)
		}
		if _, err := parse(in.Descriptor); err != nil {
			return fmt.Errorf("input %d: %w", index, err)
		}
	}
	for index, out := range d.Outputs {
		if out == nil {
			return fmt.Errorf("output %d is empty", index)
		}
		if out.Value != nil {
			if err := checkValue(*out.Value); err != nil {
				return fmt.Errorf("output %d: %w", index, err)
			}
		}
		if _, err := parse(out.Descriptor); err != nil {
			return fmt.Errorf("output %d: %w", index, err)
		}
	}

	return timelock.ValidateLocktime(d.LocktimeOption(), d.Sequences())
}

func sortedKeys[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i] < keys[j]
	})

	return keys
}

// canonical parses desc against the store and returns its canonical form.
// Descriptors that don't compile into a spendable tree are rejected.
func (s *State) canonical(desc string) (string, error) {
	d, err := s.ParseDescriptor(desc)
	if err != nil {
		return "", err
	}
	if _, err := taptree.Compile(d); err != nil {
		return "", err
	}

	return d.String(), nil
}

// UTXO returns the UTXO with the given outpoint.
func (s *State) UTXO(op wire.OutPoint) (*UTXO, bool) {
	for _, u := range s.UTXOs {
		if u.OutPoint == op {
			return u, true
		}
	}

	return nil, false
}

// SortedUTXOs returns the UTXO set ordered by txid and output index.
func (s *State) SortedUTXOs() []*UTXO {
	utxos := append([]*UTXO(nil), s.UTXOs...)
	sort.Slice(utxos, func(i, j int) bool {
		a, b := utxos[i].OutPoint, utxos[j].OutPoint
		if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
			return c < 0
		}
		return a.Index < b.Index
	})

	return utxos
}

// AddUTXO adds an output to the UTXO set. Adding an identical UTXO twice is
// a no-op.
func (s *State) AddUTXO(u UTXO) (*UTXO, error) {
	if err := checkValue(u.Value); err != nil {
		return nil, fmt.Errorf("UTXO %v: %w", u.OutPoint, err)
	}
	desc, err := s.canonical(u.Descriptor)
	if err != nil {
		return nil, err
	}
	u.Descriptor = desc

	if existing, ok := s.UTXO(u.OutPoint); ok {
		if *existing != u {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateUTXO,
				u.OutPoint)
		}
		return existing, nil
	}

	s.UTXOs = append(s.UTXOs, &u)
	log.Debugf("New UTXO %v", &u)

	return &u, nil
}

// DeleteUTXO removes an output from the UTXO set without spending it.
func (s *State) DeleteUTXO(op wire.OutPoint) (*UTXO, error) {
	for i, u := range s.UTXOs {
		if u.OutPoint == op {
			s.UTXOs = append(s.UTXOs[:i:i], s.UTXOs[i+1:]...)
			return u, nil
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrMissingUTXO, op)
}

// SetInboundAddress sets the descriptor that the next funding transaction
// pays to.
func (s *State) SetInboundAddress(desc string) (*descriptor.Descriptor,
	error) {

	d, err := s.ParseDescriptor(desc)
	if err != nil {
		return nil, err
	}
	if _, err := taptree.Compile(d); err != nil {
		return nil, err
	}
	s.InboundAddress = d.String()

	return d, nil
}

// ReceiveInbound turns the funded inbound address into a UTXO and clears the
// inbound address.
func (s *State) ReceiveInbound(op wire.OutPoint, value int64) (*UTXO,
	error) {

	if s.InboundAddress == "" {
		return nil, ErrMissingAddress
	}

	u, err := s.AddUTXO(UTXO{
		OutPoint:   op,
		Value:      value,
		Descriptor: s.InboundAddress,
	})
	if err != nil {
		return nil, err
	}
	s.InboundAddress = ""

	return u, nil
}

// checkDoubleSpend returns ErrDoubleSpend if an input other than index
// spends op.
func (s *State) checkDoubleSpend(index uint32, op wire.OutPoint) error {
	for i, in := range s.Draft.Inputs {
		if i != index && in.Bound() && *in.OutPoint == op {
			return fmt.Errorf("%w: %v is spent by input %d",
				ErrDoubleSpend, op, i)
		}
	}

	return nil
}

// AddInputFromUTXO sets input index to spend a UTXO. The replaced input, if
// any, is returned.
func (s *State) AddInputFromUTXO(index uint32, op wire.OutPoint) (*Input,
	error) {

	u, ok := s.UTXO(op)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrMissingUTXO, op)
	}
	if err := s.checkDoubleSpend(index, op); err != nil {
		return nil, err
	}

	outPoint := u.OutPoint
	return s.replaceInput(index, &Input{
		OutPoint:   &outPoint,
		Value:      u.Value,
		Descriptor: u.Descriptor,
		Sequence:   timelock.Disabled(),
	})
}

// AddInputFromDescriptor sets input index to an unbound input locked by
// desc. It has to be bound before the draft can be built.
func (s *State) AddInputFromDescriptor(index uint32, desc string) (*Input,
	error) {

	canonical, err := s.canonical(desc)
	if err != nil {
		return nil, err
	}

	return s.replaceInput(index, &Input{
		Descriptor: canonical,
		Sequence:   timelock.Disabled(),
	})
}

func (s *State) replaceInput(index uint32, in *Input) (*Input, error) {
	old := s.Draft.Inputs[index]
	s.Draft.Inputs[index] = in

	// Replacing the input resets its sequence, which may leave the
	// locktime unenforced.
	err := timelock.ValidateLocktime(
		s.Draft.LocktimeOption(), s.Draft.Sequences(),
	)
	if err != nil {
		if old == nil {
			delete(s.Draft.Inputs, index)
		} else {
			s.Draft.Inputs[index] = old
		}
		return nil, err
	}
	log.Debugf("Input %d: %v", index, in)

	return old, nil
}

// BindInput sets the outpoint and value an input spends.
func (s *State) BindInput(index uint32, op wire.OutPoint, value int64) error {
	in, ok := s.Draft.Inputs[index]
	if !ok {
		return fmt.Errorf("%w: %d", ErrMissingInput, index)
	}
	if err := checkValue(value); err != nil {
		return fmt.Errorf("input %d: %w", index, err)
	}
	if err := s.checkDoubleSpend(index, op); err != nil {
		return err
	}

	in.OutPoint = &op
	in.Value = value

	return nil
}

// DeleteInput removes an input from the draft.
func (s *State) DeleteInput(index uint32) (*Input, error) {
	in, ok := s.Draft.Inputs[index]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrMissingInput, index)
	}

	delete(s.Draft.Inputs, index)
	err := timelock.ValidateLocktime(
		s.Draft.LocktimeOption(), s.Draft.Sequences(),
	)
	if err != nil {
		s.Draft.Inputs[index] = in
		return nil, err
	}

	return in, nil
}

// EnableSequence enables the relative timelock of an input. This also
// enables locktime enforcement for the whole transaction.
func (s *State) EnableSequence(index uint32, height uint16) error {
	in, ok := s.Draft.Inputs[index]
	if !ok {
		return fmt.Errorf("%w: %d", ErrMissingInput, index)
	}
	in.Sequence = timelock.Enabled(height)

	return nil
}

// DisableSequence disables the relative timelock of an input. It fails if
// that would leave a set locktime unenforced.
func (s *State) DisableSequence(index uint32) error {
	in, ok := s.Draft.Inputs[index]
	if !ok {
		return fmt.Errorf("%w: %d", ErrMissingInput, index)
	}

	old := in.Sequence
	in.Sequence = timelock.Disabled()
	err := timelock.ValidateLocktime(
		s.Draft.LocktimeOption(), s.Draft.Sequences(),
	)
	if err != nil {
		in.Sequence = old
		return err
	}

	return nil
}

// AddOutput sets output index to pay value to desc. Without a value the
// output receives the remainder.
func (s *State) AddOutput(index uint32, desc string,
	value fn.Option[int64]) (*Output, error) {

	canonical, err := s.canonical(desc)
	if err != nil {
		return nil, err
	}

	out := &Output{Descriptor: canonical}
	value.WhenSome(func(v int64) {
		out.Value = &v
	})
	if out.Value != nil {
		if err := checkValue(*out.Value); err != nil {
			return nil, fmt.Errorf("output %d: %w", index, err)
		}
	}

	old := s.Draft.Outputs[index]
	s.Draft.Outputs[index] = out
	log.Debugf("Output %d: %v", index, out)

	return old, nil
}

// DeleteOutput removes an output from the draft.
func (s *State) DeleteOutput(index uint32) (*Output, error) {
	out, ok := s.Draft.Outputs[index]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrMissingOutput, index)
	}
	delete(s.Draft.Outputs, index)

	return out, nil
}

// SetFee sets the absolute fee of the draft in satoshis.
func (s *State) SetFee(fee int64) error {
	if err := checkValue(fee); err != nil {
		return fmt.Errorf("fee: %w", err)
	}
	s.Draft.Fee = fee

	return nil
}

// SetLocktime sets the absolute locktime of the draft. At least one input
// must have its sequence enabled.
func (s *State) SetLocktime(height uint32) error {
	err := timelock.ValidateLocktime(fn.Some(height), s.Draft.Sequences())
	if err != nil {
		return err
	}
	s.Draft.Locktime = &height

	return nil
}

// ClearLocktime removes the absolute locktime of the draft.
func (s *State) ClearLocktime() {
	s.Draft.Locktime = nil
}

// ResetDraft discards the draft.
func (s *State) ResetDraft() {
	s.Draft = NewDraft()
}
