package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// Algorithm identifies a signature scheme negotiated during the handshake.
type Algorithm string

const (
	// AlgorithmRSASHA256 is RSASSA-PKCS1-v1_5 over SHA-256
	AlgorithmRSASHA256 Algorithm = "SHA256withRSA"

	// AlgorithmRSAPSS is RSASSA-PSS over SHA-256
	AlgorithmRSAPSS Algorithm = "SHA256withRSA/PSS"
)

// SupportedAlgorithms lists the algorithms a relay may ask for
var SupportedAlgorithms = []Algorithm{AlgorithmRSAPSS, AlgorithmRSASHA256}

// ParseAlgorithm validates an algorithm identifier received from the wire
func ParseAlgorithm(s string) (Algorithm, error) {
	for _, alg := range SupportedAlgorithms {
		if string(alg) == s {
			return alg, nil
		}
	}
	return "", NewCryptoError("parse algorithm", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s))
}

// Sign signs data with the private key using alg
func Sign(priv *rsa.PrivateKey, data []byte, alg Algorithm) ([]byte, error) {
	hashed := sha256.Sum256(data)

	var (
		sig []byte
		err error
	)
	switch alg {
	case AlgorithmRSASHA256:
		sig, err = rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, hashed[:])
	case AlgorithmRSAPSS:
		sig, err = rsa.SignPSS(rand.Reader, priv, crypto.SHA256, hashed[:], nil)
	default:
		return nil, NewCryptoError("sign", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg))
	}
	if err != nil {
		return nil, NewCryptoError("sign", err)
	}
	return sig, nil
}

// Verify checks sig over data. Any mismatch is a *CryptoError wrapping
// ErrInvalidSignature.
func Verify(pub *rsa.PublicKey, data, sig []byte, alg Algorithm) error {
	hashed := sha256.Sum256(data)

	var err error
	switch alg {
	case AlgorithmRSASHA256:
		err = rsa.VerifyPKCS1v15(pub, crypto.SHA256, hashed[:], sig)
	case AlgorithmRSAPSS:
		err = rsa.VerifyPSS(pub, crypto.SHA256, hashed[:], sig, nil)
	default:
		return NewCryptoError("verify", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg))
	}
	if err != nil {
		return NewCryptoError("verify", fmt.Errorf("%w: %v", ErrInvalidSignature, err))
	}
	return nil
}

// Valid is the boolean form of Verify
func Valid(pub *rsa.PublicKey, data, sig []byte, alg Algorithm) bool {
	return Verify(pub, data, sig, alg) == nil
}
