package ndnoram

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"github.com/pkg/errors"
)

const (
	keySize   = 32 // AES-256
	nonceSize = 12 // standard GCM nonce size
	tagSize   = 16 // standard GCM tag size
)

// Keyring holds the 256-bit AES-GCM key used to seal every block a container
// ever writes. It is generated once, from a CSPRNG, and is immutable
// thereafter; there is no rotation. Unlike the donor encryptor, the key
// lives on a constructor-injected value rather than a package global: there
// is no process-wide key, each container generates its own Keyring unless
// one is passed in with WithKeyring, and containers share a key only when
// they are given the same Keyring.
type Keyring struct {
	aead cipher.AEAD
}

// NewKeyring generates a fresh random 256-bit key and returns a Keyring
// wrapping an AES-256-GCM AEAD over it.
func NewKeyring() (*Keyring, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(err, "generate key")
	}
	return newKeyringFromKey(key)
}

func newKeyringFromKey(key []byte) (*Keyring, error) {
	if len(key) != keySize {
		return nil, errors.Errorf("key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "create AES cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "create GCM")
	}
	return &Keyring{aead: aead}, nil
}

// Seal encrypts plaintext under aad (additional authenticated data, may be
// nil) and returns nonce || body || tag. A fresh nonce is drawn from a
// CSPRNG for every call; the same (key, nonce) pair is never reused.
func (k *Keyring) Seal(aad, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "generate nonce")
	}
	return k.aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open verifies and decrypts a nonce || body || tag blob produced by Seal
// under the same aad. Returns ErrMalformed if ct is too short to possibly be
// valid, ErrAuthFail if the tag does not verify.
func (k *Keyring) Open(aad, ct []byte) ([]byte, error) {
	if len(ct) < nonceSize+tagSize {
		return nil, ErrMalformed
	}
	nonce, body := ct[:nonceSize], ct[nonceSize:]
	pt, err := k.aead.Open(nil, nonce, body, aad)
	if err != nil {
		return nil, ErrAuthFail
	}
	return pt, nil
}

// overhead is the number of bytes Seal adds beyond the plaintext length.
func (k *Keyring) overhead() int {
	return nonceSize + k.aead.Overhead()
}

// mapAAD binds a map block's ciphertext to its logical key, so that a
// server-side swap of one key's ciphertext for another's fails
// authentication instead of silently decrypting under the wrong identity.
func mapAAD(key string) []byte {
	return append([]byte("map:"), key...)
}

// queueAAD binds a queue block's ciphertext to the container kind only;
// queue blocks carry no logical key to bind against.
func queueAAD() []byte {
	return []byte("queue")
}
