package testutil

import (
	"bytes"
	"testing"
)

// TestMemDBSetCopies verifies that Set snapshots the value, so later mutation
// of the caller's slice does not leak into the store.
func TestMemDBSetCopies(t *testing.T) {
	db := NewMemDB()

	val := []byte("alpha")
	if err := db.Set([]byte("k"), val); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val[0] = 'X'

	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte("alpha")) {
		t.Errorf("value mutated through caller slice: got %q", got)
	}
}
