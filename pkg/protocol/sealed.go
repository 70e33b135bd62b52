package protocol

import (
	"bytes"
	"crypto/rsa"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ZentaChain/zentalk-relay/pkg/crypto"
)

// SealAlgorithm signs sealed message bodies
const SealAlgorithm = crypto.AlgorithmRSAPSS

// SealedMessage is the plaintext carried inside Envelope.Message before
// encryption. It lets the recipient authenticate the sender even when the
// envelope's From is anonymized.
type SealedMessage struct {
	SenderPublicKey []byte // PKIX DER
	Algorithm       crypto.Algorithm
	MessageID       []byte
	Signature       []byte // over To || len(MessageID) || MessageID || Plaintext
	Plaintext       []byte
}

func (s *SealedMessage) Encode() []byte {
	alg := []byte(s.Algorithm)
	buf := make([]byte, 2+len(s.SenderPublicKey)+2+len(alg)+2+len(s.MessageID)+2+len(s.Signature)+4+len(s.Plaintext))
	off := putBytes16(buf, s.SenderPublicKey)
	off += putBytes16(buf[off:], alg)
	off += putBytes16(buf[off:], s.MessageID)
	off += putBytes16(buf[off:], s.Signature)
	putBytes32(buf[off:], s.Plaintext)
	return buf
}

func DecodeSealedMessage(buf []byte) (*SealedMessage, error) {
	d := newDecoder(buf)
	s := &SealedMessage{
		SenderPublicKey: d.bytes16(),
		Algorithm:       crypto.Algorithm(d.bytes16()),
		MessageID:       d.bytes16(),
		Signature:       d.bytes16(),
		Plaintext:       d.bytes32(),
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return s, nil
}

// Opened is the result of opening an envelope addressed to us
type Opened struct {
	From      PeerID
	To        PeerID
	MessageID []byte
	Sender    *rsa.PublicKey
	Plaintext []byte
}

func signedData(to PeerID, messageID, plaintext []byte) []byte {
	data := make([]byte, 0, PeerIDSize+2+len(messageID)+len(plaintext))
	data = append(data, to[:]...)
	data = binary.BigEndian.AppendUint16(data, uint16(len(messageID)))
	data = append(data, messageID...)
	return append(data, plaintext...)
}

// MessageKey derives the dedupe key of one logical message: the BLAKE3
// fingerprint of sender, recipient and message ID. Every retransmission of
// the same message carries the same key.
func MessageKey(from, to PeerID, messageID []byte) []byte {
	data := make([]byte, 0, 2*PeerIDSize+len(messageID))
	data = append(data, from[:]...)
	data = append(data, to[:]...)
	data = append(data, messageID...)
	fp := crypto.Fingerprint(data)
	return fp[:]
}

// Seal signs plaintext with sender, encrypts it for the recipient and wraps
// it in an Envelope keyed by MessageKey. Sealing the same messageID again
// yields a different ciphertext under the same key. With anonymous set the
// envelope's From is left zero.
func Seal(sender *crypto.KeyPair, to *rsa.PublicKey, messageID, plaintext []byte, anonymous bool) (*Envelope, error) {
	if len(messageID) == 0 || len(messageID) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: message ID of %d bytes", ErrInvalidField, len(messageID))
	}
	toID, err := PeerIDFromPublicKey(to)
	if err != nil {
		return nil, err
	}
	senderDER, err := crypto.MarshalPublicKey(sender.Public)
	if err != nil {
		return nil, err
	}
	senderID := PeerIDFromDER(senderDER)

	sig, err := crypto.Sign(sender.Private, signedData(toID, messageID, plaintext), SealAlgorithm)
	if err != nil {
		return nil, err
	}

	body := (&SealedMessage{
		SenderPublicKey: senderDER,
		Algorithm:       SealAlgorithm,
		MessageID:       messageID,
		Signature:       sig,
		Plaintext:       plaintext,
	}).Encode()

	ciphertext, err := crypto.EncryptFor(to, body)
	if err != nil {
		return nil, err
	}

	env := &Envelope{
		To:      toID,
		Key:     MessageKey(senderID, toID, messageID),
		Message: ciphertext,
	}
	if !anonymous {
		env.From = senderID
	}
	return env, nil
}

// Open decrypts and authenticates an envelope with the recipient's keys.
// Every failure is a *crypto.CryptoError.
func Open(recipient *crypto.KeyPair, env *Envelope) (*Opened, error) {
	body, err := crypto.Decrypt(recipient.Private, env.Message)
	if err != nil {
		return nil, err
	}

	sealed, err := DecodeSealedMessage(body)
	if err != nil {
		return nil, crypto.NewCryptoError("open", fmt.Errorf("%w: %v", crypto.ErrDecryptionFailed, err))
	}

	sender, err := crypto.ParsePublicKey(sealed.SenderPublicKey)
	if err != nil {
		return nil, err
	}

	senderID := PeerIDFromDER(sealed.SenderPublicKey)
	if !env.From.IsZero() && env.From != senderID {
		return nil, crypto.NewCryptoError("open", fmt.Errorf("%w: sender key does not match envelope origin", crypto.ErrInvalidSignature))
	}

	if err := crypto.Verify(sender, signedData(env.To, sealed.MessageID, sealed.Plaintext), sealed.Signature, sealed.Algorithm); err != nil {
		return nil, err
	}
	if !bytes.Equal(env.Key, MessageKey(senderID, env.To, sealed.MessageID)) {
		return nil, crypto.NewCryptoError("open", fmt.Errorf("%w: dedupe key does not match the sealed message", crypto.ErrInvalidSignature))
	}

	return &Opened{
		From:      senderID,
		To:        env.To,
		MessageID: sealed.MessageID,
		Sender:    sender,
		Plaintext: sealed.Plaintext,
	}, nil
}
