// Package cryptobox is a thin, stateless facade over the XSalsa20-Poly1305
// AEAD Discord's legacy voice encryption mode uses.
package cryptobox

import (
	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the length in bytes of a secret key.
const KeySize = 32

// NonceSize is the length in bytes of a nonce.
const NonceSize = 24

// MACSize is the length in bytes of the Poly1305 tag Seal appends.
const MACSize = secretbox.Overhead

// Key is a 32-byte symmetric key delivered once per session in
// SessionDescription.
type Key [KeySize]byte

// Nonce is the 24-byte nonce used for both directions. For outbound
// packets the first 12 bytes are the RTP header; for inbound, the first
// 12 bytes of the received datagram. The remaining 12 bytes are zero.
type Nonce [NonceSize]byte

// Seal appends dst (typically a packet header) with the ciphertext and
// 16-byte MAC of plaintext, sealed under key and nonce. dst's existing
// contents are preserved and prepended to the output, matching
// secretbox.Seal's append semantics.
func Seal(dst, plaintext []byte, nonce *Nonce, key *Key) []byte {
	return secretbox.Seal(dst, plaintext, (*[NonceSize]byte)(nonce), (*[KeySize]byte)(key))
}

// Open authenticates and decrypts ciphertext (which must include its
// trailing MAC), appending the plaintext to dst. It reports false if
// authentication failed, in which case the returned slice is nil.
func Open(dst, ciphertext []byte, nonce *Nonce, key *Key) ([]byte, bool) {
	return secretbox.Open(dst, ciphertext, (*[NonceSize]byte)(nonce), (*[KeySize]byte)(key))
}
