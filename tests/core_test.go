package tests

import (
	"testing"

	"github.com/stupidhorse/racingchain/core"
	"github.com/stupidhorse/racingchain/crypto"
	"github.com/stupidhorse/racingchain/internal/testutil"
	"github.com/stupidhorse/racingchain/wallet"
)

// TestKeyGenAndAddress verifies that key generation and address derivation work.
func TestKeyGenAndAddress(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if len(pub.Hex()) != 64 {
		t.Errorf("pubkey hex length: got %d want 64", len(pub.Hex()))
	}
	addr := pub.Address()
	if len(addr) != 40 {
		t.Errorf("address length: got %d want 40", len(addr))
	}
	// Roundtrip: derived public key should match
	derived := priv.Public()
	if derived.Hex() != pub.Hex() {
		t.Error("derived public key does not match")
	}
}

// TestSignVerify ensures Sign/Verify round-trips correctly.
func TestSignVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("hello racingchain")
	sig := crypto.Sign(priv, data)
	if err := crypto.Verify(pub, data, sig); err != nil {
		t.Errorf("valid signature failed: %v", err)
	}
	if err := crypto.Verify(pub, []byte("tampered"), sig); err == nil {
		t.Error("tampered data should fail verification")
	}
}

// TestTransactionSignVerify ensures transaction signing and verification work.
func TestTransactionSignVerify(t *testing.T) {
	w, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}

	tx, err := w.NewTx("test-chain", core.TxTransfer, 0, 0, core.TransferPayload{
		To:     "deadbeef",
		Amount: 100,
	})
	if err != nil {
		t.Fatalf("NewTx: %v", err)
	}
	if tx.ID == "" {
		t.Error("tx ID should be set after signing")
	}
	if err := tx.Verify(); err != nil {
		t.Errorf("Verify failed: %v", err)
	}

	// Tamper with the amount to check that verification catches it.
	tx.Fee = 999
	if err := tx.Verify(); err == nil {
		t.Error("tampered tx should fail verification")
	}
}

// TestBlockHash ensures that hashing a block is deterministic.
func TestBlockHash(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	block := core.NewBlock(1, "0000", pub.Hex(), nil)
	block.Sign(priv)

	if block.Hash == "" {
		t.Error("hash should be set after signing")
	}
	// Re-compute and compare
	if block.ComputeHash() != block.Hash {
		t.Error("ComputeHash() does not match stored hash")
	}
}

// TestBlockchainCommitAndReload verifies that committed blocks land in the
// store with their height index and tip pointer, and that a fresh Blockchain
// over the same store recovers the chain on Init.
func TestBlockchainCommitAndReload(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	store := testutil.NewMemBlockStore()
	bc := core.NewBlockchain(store)
	if err := bc.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	b1 := core.NewBlock(1, "", pub.Hex(), nil)
	b1.Sign(priv)
	if err := bc.AddBlock(b1); err != nil {
		t.Fatalf("AddBlock b1: %v", err)
	}
	b2 := core.NewBlock(2, b1.Hash, pub.Hex(), nil)
	b2.Sign(priv)
	if err := bc.AddBlock(b2); err != nil {
		t.Fatalf("AddBlock b2: %v", err)
	}

	got, err := bc.GetBlockByHeight(1)
	if err != nil {
		t.Fatalf("GetBlockByHeight(1): %v", err)
	}
	if got.Hash != b1.Hash {
		t.Errorf("height 1: got %s want %s", got.Hash, b1.Hash)
	}
	if bc.Tip().Hash != b2.Hash {
		t.Errorf("tip: got %s want %s", bc.Tip().Hash, b2.Hash)
	}

	// A second chain over the same store must pick up the committed tip.
	reloaded := core.NewBlockchain(store)
	if err := reloaded.Init(); err != nil {
		t.Fatalf("reload Init: %v", err)
	}
	if reloaded.Height() != 2 {
		t.Errorf("reloaded height: got %d want 2", reloaded.Height())
	}
	if reloaded.Tip() == nil || reloaded.Tip().Hash != b2.Hash {
		t.Errorf("reloaded tip mismatch")
	}
}

// TestMempool verifies add/remove/pending operations.
func TestMempool(t *testing.T) {
	mp := core.NewMempool()
	w, _ := wallet.Generate()

	tx, _ := w.NewTx("test-chain", core.TxTransfer, 0, 0, core.TransferPayload{To: "aa", Amount: 1})
	if err := mp.Add(tx); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if mp.Size() != 1 {
		t.Errorf("size: got %d want 1", mp.Size())
	}
	// Duplicate should fail
	if err := mp.Add(tx); err == nil {
		t.Error("adding duplicate tx should fail")
	}

	pending := mp.Pending(10)
	if len(pending) != 1 {
		t.Errorf("pending: got %d want 1", len(pending))
	}

	mp.Remove([]string{tx.ID})
	if mp.Size() != 0 {
		t.Error("pool should be empty after remove")
	}
}
