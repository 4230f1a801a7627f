package cryptobox

import (
	"bytes"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return key
}

func TestNewRejectsBadKeys(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expected error for nil key")
	}
	if _, err := New(make([]byte, 16)); err == nil {
		t.Fatalf("expected error for short key")
	}
	if _, err := New(make([]byte, KeySize)); err == nil {
		t.Fatalf("expected error for all-zero key")
	}
	if _, err := New(testKey(t)); err != nil {
		t.Fatalf("valid key rejected: %v", err)
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := New(testKey(t))
	if err != nil {
		t.Fatalf("new box: %v", err)
	}

	for _, plaintext := range [][]byte{
		[]byte("invoice 2025-04"),
		{},
		bytes.Repeat([]byte{0xAB}, 1<<16),
	} {
		ciphertext, iv, tag, err := box.Seal("tenant-a", plaintext)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		if len(iv) != ivSize || len(tag) != tagSize {
			t.Fatalf("unexpected iv/tag sizes: %d/%d", len(iv), len(tag))
		}

		got, err := box.Open("tenant-a", ciphertext, iv, tag)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(plaintext))
		}
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	box, err := New(testKey(t))
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	ciphertext, iv, tag, err := box.Seal("tenant-a", []byte("ledger extract"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	flipped := append([]byte(nil), ciphertext...)
	flipped[0] ^= 0x01
	if _, err := box.Open("tenant-a", flipped, iv, tag); err != ErrDecryptionFailed {
		t.Fatalf("expected ErrDecryptionFailed for flipped ciphertext, got %v", err)
	}

	badTag := append([]byte(nil), tag...)
	badTag[3] ^= 0x80
	if _, err := box.Open("tenant-a", ciphertext, iv, badTag); err != ErrDecryptionFailed {
		t.Fatalf("expected ErrDecryptionFailed for flipped tag, got %v", err)
	}
}

func TestTenantKeysAreIsolated(t *testing.T) {
	box, err := New(testKey(t))
	if err != nil {
		t.Fatalf("new box: %v", err)
	}

	keyA, err := box.TenantKey("tenant-a")
	if err != nil {
		t.Fatalf("derive a: %v", err)
	}
	keyB, err := box.TenantKey("tenant-b")
	if err != nil {
		t.Fatalf("derive b: %v", err)
	}
	if keyA == keyB {
		t.Fatalf("tenant keys must differ")
	}

	keyA2, err := box.TenantKey("tenant-a")
	if err != nil {
		t.Fatalf("derive a again: %v", err)
	}
	if keyA != keyA2 {
		t.Fatalf("tenant key derivation must be deterministic")
	}

	ciphertext, iv, tag, err := box.Seal("tenant-a", []byte("secret"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := box.Open("tenant-b", ciphertext, iv, tag); err != ErrDecryptionFailed {
		t.Fatalf("tenant-b must not decrypt tenant-a ciphertext, got %v", err)
	}
}

func TestDeterministicRandomProducesStableIVs(t *testing.T) {
	restore := UseDeterministicRandom(bytes.NewReader(bytes.Repeat([]byte{0x42}, 64)))
	defer restore()

	box, err := New(testKey(t))
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	_, iv, _, err := box.Seal("tenant-a", []byte("x"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	for _, b := range iv {
		if b != 0x42 {
			t.Fatalf("expected deterministic iv, got %x", iv)
		}
	}
}

func TestContentHash(t *testing.T) {
	// sha256 of the empty string
	if got := ContentHash(nil); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("unexpected empty hash: %s", got)
	}
	if ContentHash([]byte("a")) == ContentHash([]byte("b")) {
		t.Fatalf("different content must hash differently")
	}
}
