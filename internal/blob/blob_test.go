package blob

import (
	"bytes"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}

	data := []byte("ciphertext bytes")
	if err := store.Write("tenant-a/2026/03/ab/abcd.bin", data); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := store.Read("tenant-a/2026/03/ab/abcd.bin")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch")
	}
	exists, err := store.Exists("tenant-a/2026/03/ab/abcd.bin")
	if err != nil || !exists {
		t.Fatalf("object must exist: %v", err)
	}
}

func TestWriteIsWriteOnce(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	if err := store.Write("a/b.bin", []byte("one")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.Write("a/b.bin", []byte("two")); err != ErrExists {
		t.Fatalf("second write must fail with ErrExists, got %v", err)
	}
	got, err := store.Read("a/b.bin")
	if err != nil || string(got) != "one" {
		t.Fatalf("original content must survive: %q %v", got, err)
	}
}

func TestReadMissing(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	if _, err := store.Read("nope.bin"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	exists, err := store.Exists("nope.bin")
	if err != nil || exists {
		t.Fatalf("missing object must not exist")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	if err := store.Write("a/b.bin", []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.Remove("a/b.bin"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Remove("a/b.bin"); err != nil {
		t.Fatalf("removing a missing object must not error, got %v", err)
	}
}

func TestRejectsPathEscapes(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	for _, path := range []string{"../escape.bin", "/etc/passwd", "a/../../b", "."} {
		if err := store.Write(path, []byte("x")); err == nil {
			t.Fatalf("path %q must be rejected", path)
		}
	}
}
