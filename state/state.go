package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/uncomputable/tappy/descriptor"
	"github.com/uncomputable/tappy/secrets"
)

var (
	// ErrStateCorrupt is returned if the state file can't be decoded or
	// fails validation.
	ErrStateCorrupt = errors.New("state file is corrupt")

	// ErrStateExists is returned when initializing over an existing state
	// file.
	ErrStateExists = errors.New("state file already exists")
)

// State is everything the operator works on: the secret store, the UTXO
// set, the inbound address and the transaction draft. It is loaded at the
// start of every command and saved after a successful mutation.
type State struct {
	Store *secrets.Store `json:"secrets"`

	// InboundAddress is the canonical descriptor of the address that is
	// waiting to be funded, or empty.
	InboundAddress string `json:"inbound_address,omitempty"`

	UTXOs []*UTXO `json:"utxos"`

	Draft *Draft `json:"draft"`
}

// New returns an empty state.
func New() *State {
	return &State{
		Store: secrets.NewStore(),
		UTXOs: []*UTXO{},
		Draft: NewDraft(),
	}
}

// Init writes an empty state to path. It fails if the file already exists.
func Init(path string) (*State, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrStateExists, path)
	}

	st := New()
	if err := st.Save(path); err != nil {
		return nil, err
	}

	return st, nil
}

// Load reads and validates the state at path.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading state: %w", err)
	}

	st := New()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	if err := st.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	log.Debugf("Loaded state from %s: %d keys, %d images, %d UTXOs",
		path, len(st.Store.Keys()), len(st.Store.Images()),
		len(st.UTXOs))

	return st, nil
}

// Save writes the state to path. The file is replaced atomically.
func (s *State) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tappy-state-*")
	if err != nil {
		return fmt.Errorf("error creating temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("error writing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error writing state: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("error replacing state: %w", err)
	}
	log.Tracef("Saved state to %s", path)

	return nil
}

// UnmarshalJSON decodes a state and fills in missing collections.
func (s *State) UnmarshalJSON(data []byte) error {
	type plain State
	decoded := plain(*New())
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	if decoded.Store == nil {
		decoded.Store = secrets.NewStore()
	}
	if decoded.UTXOs == nil {
		decoded.UTXOs = []*UTXO{}
	}
	if decoded.Draft == nil {
		decoded.Draft = NewDraft()
	}
	*s = State(decoded)

	return nil
}

// validate checks everything the secret store doesn't check itself.
func (s *State) validate() error {
	if s.InboundAddress != "" {
		if _, err := s.ParseDescriptor(s.InboundAddress); err != nil {
			return fmt.Errorf("inbound address: %w", err)
		}
	}

	seen := make(map[string]struct{}, len(s.UTXOs))
	for _, u := range s.UTXOs {
		if u == nil {
			return errors.New("empty UTXO entry")
		}
		if err := checkValue(u.Value); err != nil {
			return fmt.Errorf("UTXO %v: %w", u.OutPoint, err)
		}
		if _, ok := seen[u.OutPoint.String()]; ok {
			return fmt.Errorf("duplicate UTXO %v", u.OutPoint)
		}
		seen[u.OutPoint.String()] = struct{}{}

		if _, err := s.ParseDescriptor(u.Descriptor); err != nil {
			return fmt.Errorf("UTXO %v: %w", u.OutPoint, err)
		}
	}

	return s.Draft.validate(s.ParseDescriptor)
}

// ParseDescriptor parses a descriptor against the secret store.
func (s *State) ParseDescriptor(desc string) (*descriptor.Descriptor, error) {
	return descriptor.Parse(desc, s.Store)
}
