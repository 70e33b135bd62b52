// Package protocol implements the ZenTalk relay wire protocol.
//
// The protocol package defines the packet types exchanged between peers and
// a relay, their binary encodings, and the routing identity used to address
// peers.
//
// # Protocol Overview
//
// Every packet travels inside one sized block of the transport layer (a
// 4-byte big-endian length prefix on streams, one binary message on
// WebSocket). A packet is an 8-byte header followed by a type-specific body:
//   - Magic (4 bytes): Protocol identifier (0x5A54414C = "ZTAL")
//   - Version (2 bytes): Protocol version (0x0200)
//   - Type (2 bytes): Packet type
//
// # Packet Types
//
// Handshake (0x00xx), exchanged once, in this exact order, right after the
// transport is established:
//   - Connect: client presents its public key (PKIX DER)
//   - Challenge: relay sends a random nonce and a signature algorithm
//   - ChallengeResponse: client signs the nonce
//   - AuthenticationResult: AUTHENTICATED or REJECTED
//
// Keepalive (0x00xx):
//   - Ping/Pong
//
// Relay traffic (0x01xx):
//   - Envelope: routed unit of traffic, exchanged repeatedly after
//     authentication
//
// # Envelope Format
//
//	From    (32 bytes)  sender PeerID, all zero when anonymized
//	To      (32 bytes)  recipient PeerID
//	KeyLen  (2 bytes)   length of the dedupe key
//	Key     (KeyLen)    dedupe fingerprint, stable across retransmissions
//	MsgLen  (4 bytes)   length of the sealed message
//	Message (MsgLen)    ciphertext, opaque to the relay
//
// # Identity
//
// A PeerID is the BLAKE2b-256 hash of a peer's PKIX DER public key. The relay
// routes on PeerIDs only and never sees private keys.
//
// # Errors
//
// Any malformed or out-of-order packet is reported as ErrProtocolViolation
// (possibly wrapped). Receivers treat it as fatal to the connection.
package protocol
