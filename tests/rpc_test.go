package tests

import (
	"encoding/json"
	"testing"

	"github.com/stupidhorse/racingchain/core"
	"github.com/stupidhorse/racingchain/events"
	"github.com/stupidhorse/racingchain/indexer"
	"github.com/stupidhorse/racingchain/internal/testutil"
	"github.com/stupidhorse/racingchain/rpc"
	"github.com/stupidhorse/racingchain/storage"
	"github.com/stupidhorse/racingchain/wallet"
)

// newTestRPCHandler builds an RPC handler backed by in-memory state.
func newTestRPCHandler(t *testing.T) (*rpc.Handler, core.State) {
	t.Helper()
	db := testutil.NewMemDB()
	state := storage.NewStateDB(db)
	blockStore := testutil.NewMemBlockStore()
	bc := core.NewBlockchain(blockStore)
	mp := core.NewMempool()
	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)
	return rpc.NewHandler(bc, mp, state, idx, testChainID), state
}

func dispatch(handler *rpc.Handler, method string, params any) rpc.Response {
	raw, _ := json.Marshal(params)
	return handler.Dispatch(rpc.Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  raw,
	})
}

// TestRPCGetBlockHeight verifies that getBlockHeight returns 0 for a fresh chain.
func TestRPCGetBlockHeight(t *testing.T) {
	handler, _ := newTestRPCHandler(t)
	resp := dispatch(handler, "getBlockHeight", struct{}{})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error.Message)
	}
	// Dispatch is called directly (no HTTP round-trip), so result is int64, not float64.
	var height int64
	switch v := resp.Result.(type) {
	case int64:
		height = v
	case float64:
		height = int64(v)
	default:
		t.Fatalf("unexpected result type %T", resp.Result)
	}
	if height != 0 {
		t.Errorf("height: got %d want 0", height)
	}
}

// TestRPCGetBalance verifies getBalance returns zero for an unknown account.
func TestRPCGetBalance(t *testing.T) {
	handler, _ := newTestRPCHandler(t)
	resp := dispatch(handler, "getBalance", map[string]string{"address": "nonexistent"})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error.Message)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result type: %T", resp.Result)
	}
	balance, _ := result["balance"].(uint64)
	if balance != 0 {
		t.Errorf("balance: got %v want 0", balance)
	}
}

// TestRPCGetTournament verifies the tournament query surface for present and
// missing seasons.
func TestRPCGetTournament(t *testing.T) {
	handler, state := newTestRPCHandler(t)

	resp := dispatch(handler, "getTournament", map[string]uint64{"season": 1})
	if resp.Error == nil {
		t.Error("expected error for unknown season")
	}

	_ = state.SetTournament(&core.Tournament{
		Season:      1,
		BracketSize: 8,
		BeaconRef:   "local",
		Admin:       "aa",
		Phase:       core.PhaseRegistrationOpen,
	})
	resp = dispatch(handler, "getTournament", map[string]uint64{"season": 1})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error.Message)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result type: %T", resp.Result)
	}
	if result["phase"] != "registration_open" {
		t.Errorf("phase: got %v want registration_open", result["phase"])
	}
	if rounds, _ := result["total_rounds"].(uint64); rounds != 3 {
		t.Errorf("total_rounds: got %v want 3", result["total_rounds"])
	}
}

// TestRPCGetSeasons verifies the seasons index starts empty and stays a list.
func TestRPCGetSeasons(t *testing.T) {
	handler, _ := newTestRPCHandler(t)
	resp := dispatch(handler, "getSeasons", struct{}{})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error.Message)
	}
	seasons, ok := resp.Result.([]uint64)
	if !ok {
		t.Fatalf("unexpected result type: %T", resp.Result)
	}
	if len(seasons) != 0 {
		t.Errorf("seasons: got %v want empty", seasons)
	}
}

// TestRPCIndexedLists verifies the list-returning query methods against a
// populated indexer: assets by owner, the seasons registry, and a wallet's
// registration history.
func TestRPCIndexedLists(t *testing.T) {
	db := testutil.NewMemDB()
	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(testutil.NewMemBlockStore())
	mp := core.NewMempool()
	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)
	handler := rpc.NewHandler(bc, mp, state, idx, testChainID)

	owner := "aabb"
	emitter.Emit(events.Event{
		Type: events.EventAssetCreated,
		Data: map[string]any{"creator": owner, "asset_id": uint64(7), "total": uint64(1)},
	})
	emitter.Emit(events.Event{
		Type: events.EventTournamentCreated,
		Data: map[string]any{"season": uint64(3)},
	})
	emitter.Emit(events.Event{
		Type: events.EventTeamRegistered,
		Data: map[string]any{"season": uint64(3), "wallet": owner},
	})

	resp := dispatch(handler, "getAssetsByOwner", map[string]string{"owner": owner})
	if resp.Error != nil {
		t.Fatalf("getAssetsByOwner: %v", resp.Error.Message)
	}
	if ids, _ := resp.Result.([]uint64); len(ids) != 1 || ids[0] != 7 {
		t.Errorf("assets: got %v want [7]", resp.Result)
	}

	resp = dispatch(handler, "getSeasons", struct{}{})
	if resp.Error != nil {
		t.Fatalf("getSeasons: %v", resp.Error.Message)
	}
	if seasons, _ := resp.Result.([]uint64); len(seasons) != 1 || seasons[0] != 3 {
		t.Errorf("seasons: got %v want [3]", resp.Result)
	}

	resp = dispatch(handler, "getSeasonsByWallet", map[string]string{"wallet": owner})
	if resp.Error != nil {
		t.Fatalf("getSeasonsByWallet: %v", resp.Error.Message)
	}
	if seasons, _ := resp.Result.([]uint64); len(seasons) != 1 || seasons[0] != 3 {
		t.Errorf("wallet seasons: got %v want [3]", resp.Result)
	}
}

// TestRPCSendTxChainMismatch verifies cross-chain transactions are rejected
// at the RPC boundary.
func TestRPCSendTxChainMismatch(t *testing.T) {
	handler, _ := newTestRPCHandler(t)
	w, _ := wallet.Generate()
	tx, _ := w.Transfer("other-chain", "aabb", 1, 0, core.MinTxFee)

	raw, _ := json.Marshal(tx)
	resp := handler.Dispatch(rpc.Request{JSONRPC: "2.0", ID: 1, Method: "sendTx", Params: raw})
	if resp.Error == nil {
		t.Error("expected chain ID mismatch error")
	}
	if resp.Error.Code != rpc.CodeInvalidParams {
		t.Errorf("error code: got %d want %d", resp.Error.Code, rpc.CodeInvalidParams)
	}
}

// TestRPCGetMempoolSize verifies getMempoolSize returns 0 for an empty mempool.
func TestRPCGetMempoolSize(t *testing.T) {
	handler, _ := newTestRPCHandler(t)
	resp := dispatch(handler, "getMempoolSize", struct{}{})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error.Message)
	}
	size, _ := resp.Result.(int)
	if size != 0 {
		t.Errorf("mempool size: got %d want 0", size)
	}
}

// TestRPCMethodNotFound verifies that unknown methods return a -32601 error.
func TestRPCMethodNotFound(t *testing.T) {
	handler, _ := newTestRPCHandler(t)
	resp := dispatch(handler, "nonExistentMethod", struct{}{})
	if resp.Error == nil {
		t.Error("expected error for unknown method")
	}
	if resp.Error.Code != rpc.CodeMethodNotFound {
		t.Errorf("error code: got %d want %d", resp.Error.Code, rpc.CodeMethodNotFound)
	}
}
