package cookie

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"code.kerpass.org/sessions/internal/utils"
	"code.kerpass.org/sessions/pkg/session"
)

const (
	KeySize = chacha20poly1305.KeySize
	keyInfo = "kerpass session cookie v1"
)

// Cipher encrypts & authenticates cookie payloads.
type Cipher interface {
	// Seal returns plaintext encrypted and authenticated together with ad.
	Seal(plaintext, ad []byte) ([]byte, error)

	// Open returns the plaintext of ciphertext, it errors if ciphertext or ad were altered.
	Open(ciphertext, ad []byte) ([]byte, error)
}

type aeadCipher struct {
	aead cipher.AEAD
}

// NewAEAD returns a XChaCha20-Poly1305 Cipher that uses key.
// Sealed messages are prefixed with a random 24 bytes nonce.
// It errors if key is not 32 bytes long.
func NewAEAD(key []byte) (Cipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if nil != err {
		return nil, utils.WrapError(err, 0, session.ErrInvalidArgument, "invalid cookie key")
	}

	return aeadCipher{aead: aead}, nil
}

func (self aeadCipher) Seal(plaintext, ad []byte) ([]byte, error) {
	nonceSize := self.aead.NonceSize()
	out := make([]byte, nonceSize, nonceSize+len(plaintext)+self.aead.Overhead())
	_, err := rand.Read(out)
	if nil != err {
		return nil, utils.WrapError(err, 0, session.Error, "failed generating nonce")
	}

	return self.aead.Seal(out, out[:nonceSize], plaintext, ad), nil
}

func (self aeadCipher) Open(ciphertext, ad []byte) ([]byte, error) {
	nonceSize := self.aead.NonceSize()
	if len(ciphertext) < nonceSize+self.aead.Overhead() {
		return nil, utils.NewError(0, session.Error, "ciphertext too short")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := self.aead.Open(nil, nonce, sealed, ad)
	return plaintext, utils.WrapError(err, 0, session.Error, "failed opening cookie") // nil if err is nil
}

var _ Cipher = aeadCipher{}

// DeriveKey returns a KeySize key derived from secret with HKDF-SHA256.
// It errors if secret is empty.
func DeriveKey(secret []byte) ([]byte, error) {
	if 0 == len(secret) {
		return nil, utils.NewError(0, session.ErrInvalidArgument, "empty cookie secret")
	}

	key := make([]byte, KeySize)
	_, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key)
	if nil != err {
		return nil, utils.WrapError(err, 0, session.Error, "failed key derivation")
	}

	return key, nil
}
