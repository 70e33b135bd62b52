package crypto

import (
	"crypto/rand"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// NonceSize is the length of handshake challenge nonces
const NonceSize = 32

// Hash generates a BLAKE2b-256 hash
func Hash(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

// Fingerprint derives a stable BLAKE3-256 fingerprint, used as the dedupe key
// for sealed messages
func Fingerprint(data []byte) [32]byte {
	return blake3.Sum256(data)
}

// GenerateNonce generates a random nonce
func GenerateNonce(size int) ([]byte, error) {
	nonce := make([]byte, size)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}
