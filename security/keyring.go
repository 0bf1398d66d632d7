package security

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-integrations/core"
)

// KeyedProvider is a SecretProvider that reports the key it seals with.
type KeyedProvider interface {
	core.SecretProvider
	Metadata() (string, int)
}

type KeyringOption func(*Keyring)

// WithRetiredKey registers a provider that may still decrypt existing
// envelopes but never encrypts new ones.
func WithRetiredKey(provider KeyedProvider) KeyringOption {
	return func(k *Keyring) {
		if provider != nil {
			k.retired = append(k.retired, provider)
		}
	}
}

func WithKeyringLogger(logger core.Logger) KeyringOption {
	return func(k *Keyring) {
		k.observer.Logger = logger
	}
}

// Keyring encrypts with the active key and decrypts with whichever
// registered key matches the envelope, so secrets written before a rotation
// stay readable until they are re-saved.
type Keyring struct {
	active   KeyedProvider
	retired  []KeyedProvider
	observer core.Observer
	byKeyID  map[string]KeyedProvider
}

func NewKeyring(active KeyedProvider, opts ...KeyringOption) (*Keyring, error) {
	if active == nil {
		return nil, fmt.Errorf("security: active secret provider is required")
	}
	keyring := &Keyring{
		active:   active,
		observer: core.NewObserver(nil, nil, "integrations.security"),
		byKeyID:  map[string]KeyedProvider{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(keyring)
		}
	}
	for _, provider := range append([]KeyedProvider{active}, keyring.retired...) {
		id := keyLabel(provider)
		if _, exists := keyring.byKeyID[id]; exists {
			return nil, fmt.Errorf("security: duplicate key %s in keyring", id)
		}
		keyring.byKeyID[id] = provider
	}
	return keyring, nil
}

func (k *Keyring) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if k == nil {
		return nil, fmt.Errorf("security: keyring is nil")
	}
	return k.active.Encrypt(ctx, plaintext)
}

func (k *Keyring) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if k == nil {
		return nil, fmt.Errorf("security: keyring is nil")
	}
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return nil, err
	}
	provider, ok := k.byKeyID[label(meta.KeyID, meta.Version)]
	if !ok {
		return nil, fmt.Errorf("security: no key %s in keyring", label(meta.KeyID, meta.Version))
	}
	if provider != k.active {
		k.observer.Debug(ctx, "decrypting with retired key", map[string]any{
			"key_id":      meta.KeyID,
			"key_version": meta.Version,
		})
	}
	return provider.Decrypt(ctx, ciphertext)
}

// NeedsRotation reports whether ciphertext was sealed with a key other than
// the active one.
func (k *Keyring) NeedsRotation(ciphertext []byte) bool {
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return true
	}
	return label(meta.KeyID, meta.Version) != keyLabel(k.active)
}

func (k *Keyring) Metadata() (string, int) {
	return k.active.Metadata()
}

func keyLabel(provider KeyedProvider) string {
	id, version := provider.Metadata()
	return label(id, version)
}

func label(id string, version int) string {
	return fmt.Sprintf("%s@v%d", strings.TrimSpace(id), version)
}

var _ KeyedProvider = (*Keyring)(nil)
