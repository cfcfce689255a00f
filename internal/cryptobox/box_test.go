package cryptobox

import "testing"

func testKey() *Key {
	var k Key
	for i := range k {
		k[i] = byte(i)
	}
	return &k
}

func testNonce() *Nonce {
	var n Nonce
	for i := range n {
		n[i] = byte(i * 3)
	}
	return &n
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := testKey()
	nonce := testNonce()
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	sealed := Seal(nil, plaintext, nonce, key)
	if len(sealed) != len(plaintext)+MACSize {
		t.Fatalf("sealed length = %d, want %d", len(sealed), len(plaintext)+MACSize)
	}

	opened, ok := Open(nil, sealed, nonce, key)
	if !ok {
		t.Fatal("open failed on a genuine ciphertext")
	}
	if string(opened) != string(plaintext) {
		t.Fatalf("opened = %q, want %q", opened, plaintext)
	}
}

func TestSealPreservesDst(t *testing.T) {
	key := testKey()
	nonce := testNonce()
	header := []byte{0x80, 0x78, 0x00, 0x01}

	sealed := Seal(header, []byte("payload"), nonce, key)
	if string(sealed[:4]) != string(header) {
		t.Fatalf("dst prefix corrupted: got %x", sealed[:4])
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := testKey()
	nonce := testNonce()
	sealed := Seal(nil, []byte("authenticate me"), nonce, key)
	sealed[0] ^= 0xFF

	if _, ok := Open(nil, sealed, nonce, key); ok {
		t.Fatal("open succeeded on a tampered ciphertext")
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key := testKey()
	nonce := testNonce()
	sealed := Seal(nil, []byte("authenticate me"), nonce, key)

	var wrongKey Key
	copy(wrongKey[:], key[:])
	wrongKey[0] ^= 0xFF

	if _, ok := Open(nil, sealed, nonce, &wrongKey); ok {
		t.Fatal("open succeeded under the wrong key")
	}
}

func TestOpenRejectsWrongNonce(t *testing.T) {
	key := testKey()
	nonce := testNonce()
	sealed := Seal(nil, []byte("authenticate me"), nonce, key)

	var wrongNonce Nonce
	copy(wrongNonce[:], nonce[:])
	wrongNonce[0] ^= 0xFF

	if _, ok := Open(nil, sealed, &wrongNonce, key); ok {
		t.Fatal("open succeeded under the wrong nonce")
	}
}
