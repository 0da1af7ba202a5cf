package secrets

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	// PreimageSize is the size of every preimage the store accepts.
	PreimageSize = 32
)

var (
	ErrUnknownKey   = errors.New("unknown key")
	ErrUnknownImage = errors.New("unknown image")
	ErrDuplicate    = errors.New("entry already exists")
)

// KeyPair is a Schnorr key pair that is identified by its x-only public key.
// The secret is nil for keys that were imported as public key only.
type KeyPair struct {
	PubKey [32]byte
	Secret *btcec.PrivateKey
	Active bool
}

// HasSecret returns true if the secret of the pair is known.
func (k *KeyPair) HasSecret() bool {
	return k.Secret != nil
}

// PubKeyHex returns the hex encoded x-only public key.
func (k *KeyPair) PubKeyHex() string {
	return hex.EncodeToString(k.PubKey[:])
}

// WIF encodes the secret of the pair for the given network.
func (k *KeyPair) WIF(params *chaincfg.Params) (string, error) {
	if k.Secret == nil {
		return "", fmt.Errorf("key %x is public only", k.PubKey)
	}

	wif, err := btcutil.NewWIF(k.Secret, params, true)
	if err != nil {
		return "", fmt.Errorf("error encoding WIF: %w", err)
	}

	return wif.String(), nil
}

// ImagePair is a SHA-256 hash lock identified by its image. The preimage is
// nil for images that were imported without their preimage.
type ImagePair struct {
	Image    [32]byte
	Preimage []byte
	Active   bool
}

// HasPreimage returns true if the preimage of the pair is known.
func (i *ImagePair) HasPreimage() bool {
	return i.Preimage != nil
}

// ImageHex returns the hex encoded image.
func (i *ImagePair) ImageHex() string {
	return hex.EncodeToString(i.Image[:])
}

// Store holds all key pairs and image pairs the operator knows about. Entries
// are never removed, they can only be deactivated.
type Store struct {
	keys   map[[32]byte]*KeyPair
	images map[[32]byte]*ImagePair
}

// NewStore creates an empty secret store.
func NewStore() *Store {
	return &Store{
		keys:   make(map[[32]byte]*KeyPair),
		images: make(map[[32]byte]*ImagePair),
	}
}

// GenerateKey creates a new random key pair, adds it to the store as active
// and returns it.
func (s *Store) GenerateKey() (*KeyPair, error) {
	privKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("error generating key: %w", err)
	}

	pair := newKeyPair(privKey)
	if err := s.addKey(pair); err != nil {
		return nil, err
	}
	log.Debugf("Generated key %s", pair.PubKeyHex())

	return pair, nil
}

// ImportKey adds a key to the store. The key can be given as WIF or as a hex
// encoded 32 byte secret. If publicOnly is set, the hex string is an x-only
// public key instead. Importing the secret of a known public only key
// upgrades the existing entry.
func (s *Store) ImportKey(str string, publicOnly bool) (*KeyPair, error) {
	pair, err := parseKey(str, publicOnly)
	if err != nil {
		return nil, err
	}

	existing, ok := s.keys[pair.PubKey]
	switch {
	case ok && !existing.HasSecret() && pair.HasSecret():
		existing.Secret = pair.Secret
		log.Debugf("Added secret to key %s", existing.PubKeyHex())

		return existing, nil

	case ok:
		return nil, fmt.Errorf("key %s: %w", pair.PubKeyHex(),
			ErrDuplicate)
	}

	if err := s.addKey(pair); err != nil {
		return nil, err
	}
	log.Debugf("Imported key %s (secret=%v)", pair.PubKeyHex(),
		pair.HasSecret())

	return pair, nil
}

// GenerateImage creates a new random preimage, adds its pair to the store as
// active and returns it.
func (s *Store) GenerateImage() (*ImagePair, error) {
	preimage := make([]byte, PreimageSize)
	if _, err := rand.Read(preimage); err != nil {
		return nil, fmt.Errorf("error generating preimage: %w", err)
	}

	pair := newImagePair(preimage)
	if err := s.addImage(pair); err != nil {
		return nil, err
	}
	log.Debugf("Generated image %s", pair.ImageHex())

	return pair, nil
}

// ImportImage adds a hash lock to the store. If imageOnly is false the hex
// string is the 32 byte preimage, otherwise it is the SHA-256 image itself.
func (s *Store) ImportImage(str string, imageOnly bool) (*ImagePair, error) {
	raw, err := decodeHex32(str)
	if err != nil {
		return nil, err
	}

	pair := newImagePair(raw)
	if imageOnly {
		pair = &ImagePair{Active: true}
		copy(pair.Image[:], raw)
	}

	existing, ok := s.images[pair.Image]
	switch {
	case ok && !existing.HasPreimage() && pair.HasPreimage():
		existing.Preimage = pair.Preimage
		log.Debugf("Added preimage to image %s", existing.ImageHex())

		return existing, nil

	case ok:
		return nil, fmt.Errorf("image %s: %w", pair.ImageHex(),
			ErrDuplicate)
	}

	if err := s.addImage(pair); err != nil {
		return nil, err
	}
	log.Debugf("Imported image %s (preimage=%v)", pair.ImageHex(),
		pair.HasPreimage())

	return pair, nil
}

// SetKeyActive flips the active flag of a single key.
func (s *Store) SetKeyActive(pubKey [32]byte, active bool) error {
	pair, ok := s.keys[pubKey]
	if !ok {
		return fmt.Errorf("key %x: %w", pubKey, ErrUnknownKey)
	}
	pair.Active = active

	return nil
}

// SetImageActive flips the active flag of a single image.
func (s *Store) SetImageActive(image [32]byte, active bool) error {
	pair, ok := s.images[image]
	if !ok {
		return fmt.Errorf("image %x: %w", image, ErrUnknownImage)
	}
	pair.Active = active

	return nil
}

// Key returns the key pair with the given public key.
func (s *Store) Key(pubKey [32]byte) (*KeyPair, bool) {
	pair, ok := s.keys[pubKey]
	return pair, ok
}

// Image returns the image pair with the given image.
func (s *Store) Image(image [32]byte) (*ImagePair, bool) {
	pair, ok := s.images[image]
	return pair, ok
}

// HasKey returns true if the store knows the key, regardless of its state.
func (s *Store) HasKey(pubKey [32]byte) bool {
	_, ok := s.keys[pubKey]
	return ok
}

// HasImage returns true if the store knows the image, regardless of its
// state.
func (s *Store) HasImage(image [32]byte) bool {
	_, ok := s.images[image]
	return ok
}

// ActiveSecret returns the secret of a key if the key is active and its
// secret is known.
func (s *Store) ActiveSecret(pubKey [32]byte) (*btcec.PrivateKey, bool) {
	pair, ok := s.keys[pubKey]
	if !ok || !pair.Active || !pair.HasSecret() {
		return nil, false
	}

	return pair.Secret, true
}

// ActivePreimage returns the preimage of an image if the image is active and
// its preimage is known.
func (s *Store) ActivePreimage(image [32]byte) ([]byte, bool) {
	pair, ok := s.images[image]
	if !ok || !pair.Active || !pair.HasPreimage() {
		return nil, false
	}

	return pair.Preimage, true
}

// CanSign returns true if the store could produce a signature for the key.
func (s *Store) CanSign(pubKey [32]byte) bool {
	pair, ok := s.keys[pubKey]
	return ok && pair.Active && pair.HasSecret()
}

// CanReveal returns true if the store could reveal the preimage of the image.
func (s *Store) CanReveal(image [32]byte) bool {
	pair, ok := s.images[image]
	return ok && pair.Active && pair.HasPreimage()
}

// Keys returns all key pairs sorted by public key.
func (s *Store) Keys() []*KeyPair {
	keys := make([]*KeyPair, 0, len(s.keys))
	for _, pair := range s.keys {
		keys = append(keys, pair)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i].PubKey[:], keys[j].PubKey[:]) < 0
	})

	return keys
}

// Images returns all image pairs sorted by image.
func (s *Store) Images() []*ImagePair {
	images := make([]*ImagePair, 0, len(s.images))
	for _, pair := range s.images {
		images = append(images, pair)
	}
	sort.Slice(images, func(i, j int) bool {
		return bytes.Compare(images[i].Image[:], images[j].Image[:]) < 0
	})

	return images
}

func (s *Store) addKey(pair *KeyPair) error {
	if _, ok := s.keys[pair.PubKey]; ok {
		return fmt.Errorf("key %s: %w", pair.PubKeyHex(), ErrDuplicate)
	}
	s.keys[pair.PubKey] = pair

	return nil
}

func (s *Store) addImage(pair *ImagePair) error {
	if _, ok := s.images[pair.Image]; ok {
		return fmt.Errorf("image %s: %w", pair.ImageHex(), ErrDuplicate)
	}
	s.images[pair.Image] = pair

	return nil
}

type keyRecord struct {
	PubKey string `json:"pubkey"`
	Secret string `json:"secret,omitempty"`
	Active bool   `json:"active"`
}

type imageRecord struct {
	Image    string `json:"image"`
	Preimage string `json:"preimage,omitempty"`
	Active   bool   `json:"active"`
}

type storeRecord struct {
	Keys   []keyRecord   `json:"keys"`
	Images []imageRecord `json:"images"`
}

// MarshalJSON encodes the store with its entries in a deterministic order.
func (s *Store) MarshalJSON() ([]byte, error) {
	record := storeRecord{
		Keys:   make([]keyRecord, 0, len(s.keys)),
		Images: make([]imageRecord, 0, len(s.images)),
	}
	for _, pair := range s.Keys() {
		r := keyRecord{PubKey: pair.PubKeyHex(), Active: pair.Active}
		if pair.HasSecret() {
			r.Secret = hex.EncodeToString(pair.Secret.Serialize())
		}
		record.Keys = append(record.Keys, r)
	}
	for _, pair := range s.Images() {
		r := imageRecord{Image: pair.ImageHex(), Active: pair.Active}
		if pair.HasPreimage() {
			r.Preimage = hex.EncodeToString(pair.Preimage)
		}
		record.Images = append(record.Images, r)
	}

	return json.Marshal(record)
}

// UnmarshalJSON decodes a store and checks that every secret matches its
// public key and every preimage matches its image.
func (s *Store) UnmarshalJSON(data []byte) error {
	var record storeRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return err
	}

	store := NewStore()
	for _, r := range record.Keys {
		pubKey, err := ParsePubKey(r.PubKey)
		if err != nil {
			return err
		}
		pair := &KeyPair{PubKey: pubKey, Active: r.Active}
		if r.Secret != "" {
			raw, err := decodeHex32(r.Secret)
			if err != nil {
				return err
			}
			pair.Secret, _ = btcec.PrivKeyFromBytes(raw)
			if xOnly(pair.Secret.PubKey()) != pubKey {
				return fmt.Errorf("secret of key %s does not "+
					"match its public key", r.PubKey)
			}
		}
		if err := store.addKey(pair); err != nil {
			return err
		}
	}
	for _, r := range record.Images {
		image, err := decodeHex32(r.Image)
		if err != nil {
			return err
		}
		pair := &ImagePair{Active: r.Active}
		copy(pair.Image[:], image)
		if r.Preimage != "" {
			preimage, err := decodeHex32(r.Preimage)
			if err != nil {
				return err
			}
			if sha256.Sum256(preimage) != pair.Image {
				return fmt.Errorf("preimage of image %s does "+
					"not match", r.Image)
			}
			pair.Preimage = preimage
		}
		if err := store.addImage(pair); err != nil {
			return err
		}
	}

	*s = *store

	return nil
}

func newKeyPair(privKey *btcec.PrivateKey) *KeyPair {
	// Normalize to an even y coordinate so that the secret equals the one
	// a BIP340 signer uses.
	pubKey := privKey.PubKey().SerializeCompressed()
	if pubKey[0] == secp256k1.PubKeyFormatCompressedOdd {
		privKey.Key.Negate()
	}

	return &KeyPair{
		PubKey: xOnly(privKey.PubKey()),
		Secret: privKey,
		Active: true,
	}
}

func newImagePair(preimage []byte) *ImagePair {
	return &ImagePair{
		Image:    sha256.Sum256(preimage),
		Preimage: preimage,
		Active:   true,
	}
}

func parseKey(str string, publicOnly bool) (*KeyPair, error) {
	if publicOnly {
		pubKey, err := ParsePubKey(str)
		if err != nil {
			return nil, err
		}

		return &KeyPair{PubKey: pubKey, Active: true}, nil
	}

	if wif, err := btcutil.DecodeWIF(str); err == nil {
		return newKeyPair(wif.PrivKey), nil
	}

	raw, err := decodeHex32(str)
	if err != nil {
		return nil, fmt.Errorf("key is neither WIF nor hex: %w", err)
	}

	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(raw); overflow || scalar.IsZero() {
		return nil, fmt.Errorf("invalid secret key %s", str)
	}

	return newKeyPair(secp256k1.NewPrivateKey(&scalar)), nil
}

// ParsePubKey parses a hex encoded x-only public key.
func ParsePubKey(str string) ([32]byte, error) {
	raw, err := decodeHex32(str)
	if err != nil {
		return [32]byte{}, err
	}
	pubKey, err := schnorr.ParsePubKey(raw)
	if err != nil {
		return [32]byte{}, fmt.Errorf("invalid public key %s: %w", str,
			err)
	}

	return xOnly(pubKey), nil
}

// ParseImage parses a hex encoded SHA-256 image.
func ParseImage(str string) ([32]byte, error) {
	var image [32]byte
	raw, err := decodeHex32(str)
	if err != nil {
		return image, err
	}
	copy(image[:], raw)

	return image, nil
}

func decodeHex32(str string) ([]byte, error) {
	raw, err := hex.DecodeString(str)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", str, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}

	return raw, nil
}

func xOnly(pubKey *btcec.PublicKey) [32]byte {
	var key [32]byte
	copy(key[:], schnorr.SerializePubKey(pubKey))

	return key
}
