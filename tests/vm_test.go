package tests

import (
	"encoding/binary"
	"testing"

	"github.com/stupidhorse/racingchain/beacon"
	"github.com/stupidhorse/racingchain/core"
	"github.com/stupidhorse/racingchain/crypto"
	"github.com/stupidhorse/racingchain/events"
	"github.com/stupidhorse/racingchain/internal/testutil"
	"github.com/stupidhorse/racingchain/storage"
	"github.com/stupidhorse/racingchain/vm"
	"github.com/stupidhorse/racingchain/wallet"

	// Register VM modules
	_ "github.com/stupidhorse/racingchain/vm/modules/asset"
	_ "github.com/stupidhorse/racingchain/vm/modules/economy"
	_ "github.com/stupidhorse/racingchain/vm/modules/market"
	_ "github.com/stupidhorse/racingchain/vm/modules/tournament"
)

const testChainID = "racingchain-test"

func newInMemState(t *testing.T) core.State {
	t.Helper()
	return storage.NewStateDB(testutil.NewMemDB())
}

func newTestExecutor(t *testing.T, state core.State) *vm.Executor {
	t.Helper()
	beacons := beacon.NewDirectory()
	beacons.Register("local", beacon.Local{})
	return vm.NewExecutor(state, events.NewEmitter(), beacons)
}

// expectedAssetID mirrors the asset handler's deterministic ID derivation.
func expectedAssetID(txID string) uint64 {
	h := crypto.HashBytes([]byte(txID + ":asset"))
	id := binary.BigEndian.Uint64(h[:8])
	if id == 0 {
		id = binary.BigEndian.Uint64(h[8:16])
	}
	return id
}

// mintHorse creates a one-of-one asset for w and returns its ID.
// Consumes one nonce.
func mintHorse(t *testing.T, exec *vm.Executor, block *core.Block, w *wallet.Wallet, nonce uint64, name string) uint64 {
	t.Helper()
	tx, err := w.NewTx(testChainID, core.TxCreateAsset, nonce, core.MinTxFee, core.CreateAssetPayload{
		Name:     name,
		UnitName: "HORSE",
		Total:    1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := exec.ExecuteTx(block, tx); err != nil {
		t.Fatalf("create asset %q: %v", name, err)
	}
	return expectedAssetID(tx.ID)
}

// TestTokenTransfer verifies that the economy transfer handler moves tokens
// and that the fee is charged to the sender.
func TestTokenTransfer(t *testing.T) {
	state := newInMemState(t)
	exec := newTestExecutor(t, state)

	sender, _ := wallet.Generate()
	receiver, _ := wallet.Generate()

	_ = state.SetAccount(&core.Account{Address: sender.PubKey(), Balance: 10_000})

	tx, err := sender.Transfer(testChainID, receiver.PubKey(), 300, 0, core.MinTxFee)
	if err != nil {
		t.Fatal(err)
	}

	block := core.NewBlock(1, "0000", sender.PubKey(), []*core.Transaction{tx})
	if err := exec.ExecuteTx(block, tx); err != nil {
		t.Fatalf("ExecuteTx: %v", err)
	}

	senderAcc, _ := state.GetAccount(sender.PubKey())
	want := uint64(10_000) - 300 - core.MinTxFee
	if senderAcc.Balance != want {
		t.Errorf("sender balance: got %d want %d", senderAcc.Balance, want)
	}
	receiverAcc, _ := state.GetAccount(receiver.PubKey())
	if receiverAcc.Balance != 300 {
		t.Errorf("receiver balance: got %d want 300", receiverAcc.Balance)
	}
}

// TestFeeBelowMinimumRejected verifies the network-wide fee floor.
func TestFeeBelowMinimumRejected(t *testing.T) {
	state := newInMemState(t)
	exec := newTestExecutor(t, state)

	sender, _ := wallet.Generate()
	_ = state.SetAccount(&core.Account{Address: sender.PubKey(), Balance: 10_000})

	tx, _ := sender.Transfer(testChainID, "aabb", 1, 0, core.MinTxFee-1)
	block := core.NewBlock(1, "0000", sender.PubKey(), []*core.Transaction{tx})
	if err := exec.ExecuteTx(block, tx); err == nil {
		t.Error("tx with fee below minimum should fail")
	}

	// Failed tx must not consume the nonce.
	acc, _ := state.GetAccount(sender.PubKey())
	if acc.Nonce != 0 {
		t.Errorf("nonce after failed tx: got %d want 0", acc.Nonce)
	}
}

// TestCreateAsset verifies that a horse NFT is stored with its full supply in
// the creator's hands.
func TestCreateAsset(t *testing.T) {
	state := newInMemState(t)
	exec := newTestExecutor(t, state)

	creator, _ := wallet.Generate()
	_ = state.SetAccount(&core.Account{Address: creator.PubKey(), Balance: 10_000})

	block := core.NewBlock(1, "0000", creator.PubKey(), nil)
	id := mintHorse(t, exec, block, creator, 0, "Thunderbolt")

	asset, err := state.GetAsset(id)
	if err != nil {
		t.Fatalf("GetAsset(%d): %v", id, err)
	}
	if asset.Creator != creator.PubKey() {
		t.Errorf("creator: got %s want %s", asset.Creator, creator.PubKey())
	}
	if !asset.Unique() {
		t.Error("a total-1 asset should report Unique")
	}

	holding, err := state.GetHolding(creator.PubKey(), id)
	if err != nil {
		t.Fatalf("GetHolding: %v", err)
	}
	if holding.Amount != 1 {
		t.Errorf("holding amount: got %d want 1", holding.Amount)
	}
}

// TestTransferAsset moves a horse between wallets and checks both holdings.
func TestTransferAsset(t *testing.T) {
	state := newInMemState(t)
	exec := newTestExecutor(t, state)

	owner, _ := wallet.Generate()
	buyer, _ := wallet.Generate()
	_ = state.SetAccount(&core.Account{Address: owner.PubKey(), Balance: 10_000})

	block := core.NewBlock(1, "0000", owner.PubKey(), nil)
	id := mintHorse(t, exec, block, owner, 0, "Starlight")

	tx, _ := owner.NewTx(testChainID, core.TxTransferAsset, 1, core.MinTxFee, core.TransferAssetPayload{
		AssetID: id,
		To:      buyer.PubKey(),
		Amount:  1,
	})
	if err := exec.ExecuteTx(block, tx); err != nil {
		t.Fatalf("transfer asset: %v", err)
	}

	if _, err := state.GetHolding(owner.PubKey(), id); err == nil {
		t.Error("zeroed holding should be deleted")
	}
	holding, err := state.GetHolding(buyer.PubKey(), id)
	if err != nil {
		t.Fatalf("buyer holding: %v", err)
	}
	if holding.Amount != 1 {
		t.Errorf("buyer holding: got %d want 1", holding.Amount)
	}
}

// TestMarketFlow lists a horse, buys it, and checks token and asset movement.
func TestMarketFlow(t *testing.T) {
	state := newInMemState(t)
	exec := newTestExecutor(t, state)

	seller, _ := wallet.Generate()
	buyer, _ := wallet.Generate()
	_ = state.SetAccount(&core.Account{Address: seller.PubKey(), Balance: 10_000})
	_ = state.SetAccount(&core.Account{Address: buyer.PubKey(), Balance: 100_000})

	block := core.NewBlock(1, "0000", seller.PubKey(), nil)
	id := mintHorse(t, exec, block, seller, 0, "Nightmare")

	listTx, _ := seller.NewTx(testChainID, core.TxListMarket, 1, core.MinTxFee, core.ListMarketPayload{
		AssetID: id,
		Price:   50_000,
	})
	if err := exec.ExecuteTx(block, listTx); err != nil {
		t.Fatalf("list: %v", err)
	}

	// Listed horses cannot be transferred out from under the listing.
	escapeTx, _ := seller.NewTx(testChainID, core.TxTransferAsset, 2, core.MinTxFee, core.TransferAssetPayload{
		AssetID: id,
		To:      buyer.PubKey(),
		Amount:  1,
	})
	if err := exec.ExecuteTx(block, escapeTx); err == nil {
		t.Error("transferring a listed asset should fail")
	}

	buyTx, _ := buyer.NewTx(testChainID, core.TxBuyMarket, 0, core.MinTxFee, core.BuyMarketPayload{
		AssetID: id,
	})
	if err := exec.ExecuteTx(block, buyTx); err != nil {
		t.Fatalf("buy: %v", err)
	}

	holding, err := state.GetHolding(buyer.PubKey(), id)
	if err != nil || holding.Amount != 1 {
		t.Fatalf("buyer should hold the horse after sale (err=%v)", err)
	}
	sellerAcc, _ := state.GetAccount(seller.PubKey())
	if sellerAcc.Balance <= 10_000 {
		t.Errorf("seller should have been paid, balance %d", sellerAcc.Balance)
	}
	listing, err := state.GetListing(id)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if listing.Active {
		t.Error("listing should be inactive after purchase")
	}
}

// TestNonceReplay verifies that replaying a transaction with the same nonce fails.
func TestNonceReplay(t *testing.T) {
	state := newInMemState(t)
	exec := newTestExecutor(t, state)

	w, _ := wallet.Generate()
	_ = state.SetAccount(&core.Account{Address: w.PubKey(), Balance: 10_000})

	block := core.NewBlock(1, "0000", w.PubKey(), nil)

	tx1, _ := w.Transfer(testChainID, "aabb", 1, 0, core.MinTxFee)
	if err := exec.ExecuteTx(block, tx1); err != nil {
		t.Fatalf("first tx: %v", err)
	}
	// Replay (same nonce=0, already consumed)
	if err := exec.ExecuteTx(block, tx1); err == nil {
		t.Error("replay should fail due to nonce mismatch")
	}
}

// TestFailedTxRollsBack verifies that a handler failure reverts all state
// written by the transaction, including the fee deduction.
func TestFailedTxRollsBack(t *testing.T) {
	state := newInMemState(t)
	exec := newTestExecutor(t, state)

	w, _ := wallet.Generate()
	_ = state.SetAccount(&core.Account{Address: w.PubKey(), Balance: 10_000})

	block := core.NewBlock(1, "0000", w.PubKey(), nil)

	// transfer more than the balance: handler fails after the fee was taken
	tx, _ := w.Transfer(testChainID, "aabb", 1_000_000, 0, core.MinTxFee)
	if err := exec.ExecuteTx(block, tx); err == nil {
		t.Fatal("overdraft transfer should fail")
	}

	acc, _ := state.GetAccount(w.PubKey())
	if acc.Balance != 10_000 {
		t.Errorf("balance after rollback: got %d want 10000", acc.Balance)
	}
	if acc.Nonce != 0 {
		t.Errorf("nonce after rollback: got %d want 0", acc.Nonce)
	}
}
