package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultKeyBits is the modulus size used for relay and peer identities
	DefaultKeyBits = 4096

	// MinKeyBits is the smallest modulus accepted from a remote peer
	MinKeyBits = 2048
)

// KeyPair is a peer identity. The public half is the routing identity; the
// private half never leaves its owner.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// GenerateKeyPair generates a new RSA-4096 identity
func GenerateKeyPair() (*KeyPair, error) {
	return GenerateKeyPairBits(DefaultKeyBits)
}

// GenerateKeyPairBits generates an RSA identity with the given modulus size
func GenerateKeyPairBits(bits int) (*KeyPair, error) {
	if bits < MinKeyBits {
		return nil, NewCryptoError("generate", fmt.Errorf("%w: %d bits", ErrInvalidKey, bits))
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	return NewKeyPair(key), nil
}

// NewKeyPair wraps an existing private key
func NewKeyPair(key *rsa.PrivateKey) *KeyPair {
	return &KeyPair{Private: key, Public: &key.PublicKey}
}

// MarshalPublicKey encodes a public key as PKIX DER, the form carried on the wire
func MarshalPublicKey(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, NewCryptoError("marshal public key", err)
	}
	return der, nil
}

// ParsePublicKey decodes a PKIX DER public key received from a peer
func ParsePublicKey(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, NewCryptoError("parse public key", fmt.Errorf("%w: %v", ErrInvalidKey, err))
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, NewCryptoError("parse public key", fmt.Errorf("%w: not an RSA key", ErrInvalidKey))
	}
	if rsaPub.N.BitLen() < MinKeyBits {
		return nil, NewCryptoError("parse public key", fmt.Errorf("%w: %d bits", ErrInvalidKey, rsaPub.N.BitLen()))
	}

	return rsaPub, nil
}

// ExportPrivateKeyPEM exports private key to PEM format
func ExportPrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

// ExportPublicKeyPEM exports public key to PEM format
func ExportPublicKeyPEM(key *rsa.PublicKey) ([]byte, error) {
	der, err := MarshalPublicKey(key)
	if err != nil {
		return nil, err
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: der,
	}), nil
}

// ImportPrivateKeyPEM imports private key from PEM format
func ImportPrivateKeyPEM(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, NewCryptoError("import private key", ErrInvalidKey)
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, NewCryptoError("import private key", fmt.Errorf("%w: %v", ErrInvalidKey, err))
	}

	return key, nil
}

// ImportPublicKeyPEM imports public key from PEM format
func ImportPublicKeyPEM(pemData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, NewCryptoError("import public key", ErrInvalidKey)
	}
	return ParsePublicKey(block.Bytes)
}

// SaveKeyPair writes the private key to path and the public key to path + ".pub"
func SaveKeyPair(path string, kp *KeyPair) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	if err := os.WriteFile(path, ExportPrivateKeyPEM(kp.Private), 0600); err != nil {
		return err
	}

	pubPEM, err := ExportPublicKeyPEM(kp.Public)
	if err != nil {
		return err
	}
	return os.WriteFile(path+".pub", pubPEM, 0644)
}

// LoadKeyPair reads a PEM private key from path
func LoadKeyPair(path string) (*KeyPair, error) {
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	key, err := ImportPrivateKeyPEM(pemData)
	if err != nil {
		return nil, err
	}
	return NewKeyPair(key), nil
}

// LoadOrGenerateKeyPair loads the identity at path, creating it when missing
func LoadOrGenerateKeyPair(path string) (kp *KeyPair, created bool, err error) {
	if _, statErr := os.Stat(path); statErr == nil {
		kp, err = LoadKeyPair(path)
		return kp, false, err
	}

	kp, err = GenerateKeyPair()
	if err != nil {
		return nil, false, err
	}
	if err := SaveKeyPair(path, kp); err != nil {
		return nil, false, err
	}
	return kp, true, nil
}
