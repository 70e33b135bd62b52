package crypto

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidKey           = errors.New("invalid key")
	ErrEncryptionFailed     = errors.New("encryption failed")
	ErrDecryptionFailed     = errors.New("decryption failed")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")
)

// CryptoError reports a failure on message content: decryption, signature
// verification or key handling. It always wraps one of the sentinels above.
type CryptoError struct {
	Op  string
	Err error
}

// NewCryptoError wraps err, which should be one of the sentinels above
func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("crypto: %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// IsCryptoError reports whether err carries a *CryptoError.
func IsCryptoError(err error) bool {
	var ce *CryptoError
	return errors.As(err, &ce)
}
