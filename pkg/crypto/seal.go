package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

const (
	sessionKeySize   = 32
	wrappedLenPrefix = 2
)

// EncryptFor seals plaintext so only the holder of pub's private key can open
// it. A fresh AES-256 key is wrapped with RSA-OAEP(SHA-256) and the payload is
// sealed with AES-256-GCM:
//
//	[wrapped key length (2 bytes)][wrapped key][GCM nonce][GCM ciphertext]
func EncryptFor(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	sessionKey := make([]byte, sessionKeySize)
	if _, err := rand.Read(sessionKey); err != nil {
		return nil, NewCryptoError("encrypt", fmt.Errorf("%w: %v", ErrEncryptionFailed, err))
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, sessionKey, nil)
	if err != nil {
		return nil, NewCryptoError("encrypt", fmt.Errorf("%w: %v", ErrEncryptionFailed, err))
	}

	sealed, err := aesEncryptGCM(plaintext, sessionKey)
	if err != nil {
		return nil, NewCryptoError("encrypt", fmt.Errorf("%w: %v", ErrEncryptionFailed, err))
	}

	out := make([]byte, wrappedLenPrefix+len(wrapped)+len(sealed))
	binary.BigEndian.PutUint16(out, uint16(len(wrapped)))
	copy(out[wrappedLenPrefix:], wrapped)
	copy(out[wrappedLenPrefix+len(wrapped):], sealed)
	return out, nil
}

// Decrypt opens a payload produced by EncryptFor. A wrong key or any tampering
// yields a *CryptoError wrapping ErrDecryptionFailed.
func Decrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < wrappedLenPrefix {
		return nil, NewCryptoError("decrypt", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed))
	}

	wrappedLen := int(binary.BigEndian.Uint16(ciphertext))
	if len(ciphertext) < wrappedLenPrefix+wrappedLen {
		return nil, NewCryptoError("decrypt", fmt.Errorf("%w: truncated key", ErrDecryptionFailed))
	}

	wrapped := ciphertext[wrappedLenPrefix : wrappedLenPrefix+wrappedLen]
	sessionKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, NewCryptoError("decrypt", fmt.Errorf("%w: %v", ErrDecryptionFailed, err))
	}

	plaintext, err := aesDecryptGCM(ciphertext[wrappedLenPrefix+wrappedLen:], sessionKey)
	if err != nil {
		return nil, NewCryptoError("decrypt", fmt.Errorf("%w: %v", ErrDecryptionFailed, err))
	}
	return plaintext, nil
}

// aesEncryptGCM encrypts plaintext using AES-256-GCM, prefixing the nonce
func aesEncryptGCM(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// aesDecryptGCM decrypts ciphertext using AES-256-GCM
func aesDecryptGCM(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
