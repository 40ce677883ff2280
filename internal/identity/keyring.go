// Package identity holds the optional signing keypair and produces
// signed events from it.
package identity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"agentfeed/internal/nip19"
	"agentfeed/internal/types"
)

var (
	// ErrNotAuthenticated is returned when signing is attempted with no held key
	ErrNotAuthenticated = errors.New("no signing key held")
	// ErrInvalidKeyFormat is returned when an imported secret matches
	// neither the nsec encoding nor 64-char hex
	ErrInvalidKeyFormat = errors.New("secret is neither nsec nor 64-char hex")
	// ErrInvalidKeyEncoding is returned when an nsec-shaped secret fails
	// its checksum or prefix check
	ErrInvalidKeyEncoding = errors.New("invalid nsec encoding")
)

// Identity is a derived keypair with its display encodings.
type Identity struct {
	SecretKey string // hex
	PublicKey string // hex, x-only
	Nsec      string
	Npub      string
}

// Keyring owns at most one signing keypair. Generating or importing a
// key replaces whatever was held before.
type Keyring struct {
	mu   sync.RWMutex
	priv *btcec.PrivateKey
	id   Identity
}

func New() *Keyring {
	return &Keyring{}
}

// NewFromSecret builds a keyring pre-loaded with the given secret,
// for callers that validated a key earlier and are reconstructing the
// signing capability
func NewFromSecret(secret string) (*Keyring, error) {
	k := New()
	if _, err := k.Import(secret); err != nil {
		return nil, err
	}
	return k, nil
}

// Generate creates a new random keypair, replacing any held key
func (k *Keyring) Generate() (Identity, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return Identity{}, fmt.Errorf("key generation: %w", err)
	}
	return k.hold(priv)
}

// Import accepts an nsec1... secret or a raw 64-char hex private key,
// replacing any held key
func (k *Keyring) Import(secret string) (Identity, error) {
	secret = strings.TrimSpace(secret)

	var keyBytes []byte
	switch {
	case strings.HasPrefix(strings.ToLower(secret), "nsec1"):
		keyHex, err := nip19.DecodeSecretKey(secret)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: %w", ErrInvalidKeyEncoding, err)
		}
		keyBytes, _ = hex.DecodeString(keyHex)
	case strings.HasPrefix(strings.ToLower(secret), "npub1"),
		strings.HasPrefix(strings.ToLower(secret), "note1"),
		strings.HasPrefix(strings.ToLower(secret), "nprofile1"),
		strings.HasPrefix(strings.ToLower(secret), "nevent1"):
		// Bech32-shaped but not a secret key
		return Identity{}, fmt.Errorf("%w: wrong prefix", ErrInvalidKeyEncoding)
	case len(secret) == 64:
		b, err := hex.DecodeString(secret)
		if err != nil {
			return Identity{}, ErrInvalidKeyFormat
		}
		keyBytes = b
	default:
		return Identity{}, ErrInvalidKeyFormat
	}

	priv, _ := btcec.PrivKeyFromBytes(keyBytes)
	if priv.Key.IsZero() {
		return Identity{}, ErrInvalidKeyFormat
	}
	return k.hold(priv)
}

func (k *Keyring) hold(priv *btcec.PrivateKey) (Identity, error) {
	secHex := hex.EncodeToString(priv.Serialize())
	pubHex := hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))

	nsec, err := nip19.EncodeSecretKey(secHex)
	if err != nil {
		return Identity{}, err
	}
	npub, err := nip19.EncodePubKey(pubHex)
	if err != nil {
		return Identity{}, err
	}

	id := Identity{SecretKey: secHex, PublicKey: pubHex, Nsec: nsec, Npub: npub}

	k.mu.Lock()
	k.priv = priv
	k.id = id
	k.mu.Unlock()

	return id, nil
}

// Current returns the held identity, if any
func (k *Keyring) Current() (Identity, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.id, k.priv != nil
}

// Authenticated reports whether a signing key is held
func (k *Keyring) Authenticated() bool {
	_, ok := k.Current()
	return ok
}

// Sign produces a fully populated signed event for the held key:
// created_at is now, the id is the NIP-01 content-addressed hash, and
// the signature is schnorr over the id
func (k *Keyring) Sign(kind int, content string, tags [][]string) (types.Event, error) {
	if tags == nil {
		tags = [][]string{}
	}
	return k.SignEvent(types.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	})
}

// SignEvent finalizes a caller-built event: the pubkey is overwritten
// with the held key's, the id recomputed, and the signature produced
// over it. Useful when the caller controls created_at.
func (k *Keyring) SignEvent(evt types.Event) (types.Event, error) {
	k.mu.RLock()
	priv := k.priv
	pubkey := k.id.PublicKey
	k.mu.RUnlock()

	if priv == nil {
		return types.Event{}, ErrNotAuthenticated
	}
	if evt.Tags == nil {
		evt.Tags = [][]string{}
	}

	evt.PubKey = pubkey
	evt.ID = ComputeEventID(&evt)

	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return types.Event{}, err
	}
	sig, err := schnorr.Sign(priv, idBytes)
	if err != nil {
		return types.Event{}, fmt.Errorf("signing: %w", err)
	}
	evt.Sig = hex.EncodeToString(sig.Serialize())

	return evt, nil
}

// ComputeEventID computes the content-addressed id: SHA256 of the
// canonical JSON serialization [0, pubkey, created_at, kind, tags, content].
//
// Relays expect unescaped JSON, and json.Marshal escapes <, > and & by
// default, so this goes through an Encoder with SetEscapeHTML(false).
func ComputeEventID(evt *types.Event) string {
	tags := evt.Tags
	if tags == nil {
		tags = [][]string{}
	}
	serialized := []interface{}{
		0,
		evt.PubKey,
		evt.CreatedAt,
		evt.Kind,
		tags,
		evt.Content,
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.Encode(serialized)

	// Encoder.Encode adds a trailing newline, remove it
	jsonBytes := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))

	hash := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(hash[:])
}
