package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stupidhorse/racingchain/beacon"
	"github.com/stupidhorse/racingchain/config"
	"github.com/stupidhorse/racingchain/consensus"
	"github.com/stupidhorse/racingchain/core"
	"github.com/stupidhorse/racingchain/events"
	"github.com/stupidhorse/racingchain/indexer"
	"github.com/stupidhorse/racingchain/internal/testutil"
	"github.com/stupidhorse/racingchain/network"
	"github.com/stupidhorse/racingchain/rpc"
	"github.com/stupidhorse/racingchain/storage"
	"github.com/stupidhorse/racingchain/vm"
	"github.com/stupidhorse/racingchain/wallet"

	_ "github.com/stupidhorse/racingchain/vm/modules/asset"
	_ "github.com/stupidhorse/racingchain/vm/modules/economy"
	_ "github.com/stupidhorse/racingchain/vm/modules/market"
	_ "github.com/stupidhorse/racingchain/vm/modules/tournament"
)

// rpcCall is a helper that sends a JSON-RPC request and decodes the result.
func rpcCall(t *testing.T, url, method string, params any) json.RawMessage {
	t.Helper()
	body := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	}
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("rpc %s: %v", method, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		t.Fatalf("rpc %s decode: %v (raw: %s)", method, err, raw)
	}
	if rpcResp.Error != nil {
		t.Fatalf("rpc %s error: [%d] %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result
}

// sendTx signs and submits a transaction via RPC.
func sendTx(t *testing.T, url string, tx *core.Transaction) string {
	t.Helper()
	data, _ := json.Marshal(tx)
	var params json.RawMessage = data
	result := rpcCall(t, url, "sendTx", params)
	var out struct {
		TxID string `json:"tx_id"`
	}
	json.Unmarshal(result, &out)
	t.Logf("  -> tx submitted: %s", out.TxID)
	return out.TxID
}

// currentHeight queries the chain tip height.
func currentHeight(t *testing.T, url string) int64 {
	t.Helper()
	result := rpcCall(t, url, "getBlockHeight", map[string]any{})
	var h int64
	json.Unmarshal(result, &h)
	return h
}

// waitBlock waits until block height reaches targetHeight.
func waitBlock(t *testing.T, url string, targetHeight int64) {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if currentHeight(t, url) >= targetHeight {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("timed out waiting for block")
}

// startTestNode starts a full node (P2P + RPC + consensus) and returns cleanup func.
func startTestNode(t *testing.T, w *wallet.Wallet) (rpcURL string, cleanup func()) {
	t.Helper()

	db := testutil.NewMemDB()
	stateDB := storage.NewStateDB(db)
	blockStore := testutil.NewMemBlockStore()
	bc := core.NewBlockchain(blockStore)
	if err := bc.Init(); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		NodeID:      "test-node",
		DataDir:     "./data",
		RPCPort:     0,
		P2PPort:     0,
		MaxBlockTxs: 500,
		Validators:  []string{w.PubKey()},
		Genesis: config.GenesisConfig{
			ChainID: testChainID,
			Alloc:   map[string]uint64{w.PubKey(): 100_000_000},
		},
	}

	// Genesis
	genesis, err := config.CreateGenesisBlock(cfg, stateDB, w.PrivKey())
	if err != nil {
		t.Fatal(err)
	}
	if err := bc.AddBlock(genesis); err != nil {
		t.Fatal(err)
	}

	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)
	mempool := core.NewMempool()
	beacons := beacon.NewDirectory()
	beacons.Register("local", beacon.Local{})
	exec := vm.NewExecutor(stateDB, emitter, beacons)
	poa := consensus.New(cfg, bc, stateDB, mempool, exec, emitter, w.PrivKey())

	// P2P on random port
	node := network.NewNode("test-node", ":0", mempool, nil)
	_ = network.NewSyncer(node, bc, poa, exec, stateDB)
	if err := node.Start(); err != nil {
		t.Fatal(err)
	}

	// RPC on random port
	handler := rpc.NewHandler(bc, mempool, stateDB, idx, testChainID)
	rpcServer := rpc.NewServer(":0", handler, "")
	if err := rpcServer.Start(); err != nil {
		t.Fatal(err)
	}

	rpcAddr := rpcServer.Addr().String()
	url := fmt.Sprintf("http://%s/", rpcAddr)

	// Consensus
	done := make(chan struct{})
	go poa.Run(200*time.Millisecond, done)

	// Wait for at least 1 block
	waitBlock(t, url, 1)

	return url, func() {
		close(done)
		rpcServer.Stop()
		node.Stop()
	}
}

// TestRacingIntegration drives a full season over a live node: funding,
// horse minting, a market sale, registration, lock, and the beacon-backed
// final race.
func TestRacingIntegration(t *testing.T) {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		t.Skip("SKIP_INTEGRATION set")
	}

	operator, _ := wallet.Generate()
	racer1, _ := wallet.Generate()
	racer2, _ := wallet.Generate()

	t.Logf("Operator: %s", operator.PubKey())
	t.Logf("Racer 1:  %s", racer1.PubKey())
	t.Logf("Racer 2:  %s", racer2.PubKey())

	url, cleanup := startTestNode(t, operator)
	defer cleanup()

	var opNonce, r1Nonce, r2Nonce uint64
	var r1Horses, r2Horses [5]uint64
	var saleHorse uint64

	t.Run("1_FundRacers", func(t *testing.T) {
		tx, _ := operator.Transfer(testChainID, racer1.PubKey(), 1_000_000, opNonce, core.MinTxFee)
		sendTx(t, url, tx)
		opNonce++
		tx, _ = operator.Transfer(testChainID, racer2.PubKey(), 1_000_000, opNonce, core.MinTxFee)
		sendTx(t, url, tx)
		opNonce++

		waitBlock(t, url, currentHeight(t, url)+2)

		result := rpcCall(t, url, "getBalance", map[string]string{"address": racer1.PubKey()})
		var bal struct{ Balance uint64 }
		json.Unmarshal(result, &bal)
		if bal.Balance != 1_000_000 {
			t.Fatalf("racer1 balance = %d, want 1000000", bal.Balance)
		}
		t.Logf("  Racer1 balance: %d", bal.Balance)
	})

	t.Run("2_MintStables", func(t *testing.T) {
		// racer1 mints six horses (one will be sold), racer2 mints five
		for i := 0; i < 6; i++ {
			tx, _ := racer1.NewTx(testChainID, core.TxCreateAsset, r1Nonce, core.MinTxFee, core.CreateAssetPayload{
				Name:     fmt.Sprintf("R1 Horse %d", i+1),
				UnitName: "HORSE",
				Total:    1,
			})
			sendTx(t, url, tx)
			r1Nonce++
		}
		for i := 0; i < 5; i++ {
			tx, _ := racer2.NewTx(testChainID, core.TxCreateAsset, r2Nonce, core.MinTxFee, core.CreateAssetPayload{
				Name:     fmt.Sprintf("R2 Horse %d", i+1),
				UnitName: "HORSE",
				Total:    1,
			})
			sendTx(t, url, tx)
			r2Nonce++
		}

		waitBlock(t, url, currentHeight(t, url)+2)

		result := rpcCall(t, url, "getAssetsByOwner", map[string]string{"owner": racer1.PubKey()})
		var ids []uint64
		json.Unmarshal(result, &ids)
		if len(ids) != 6 {
			t.Fatalf("racer1 horse count = %d, want 6", len(ids))
		}
		copy(r1Horses[:], ids[:5])
		saleHorse = ids[5]

		result = rpcCall(t, url, "getAssetsByOwner", map[string]string{"owner": racer2.PubKey()})
		json.Unmarshal(result, &ids)
		if len(ids) != 5 {
			t.Fatalf("racer2 horse count = %d, want 5", len(ids))
		}
		copy(r2Horses[:], ids)

		result = rpcCall(t, url, "getAsset", map[string]uint64{"id": r1Horses[0]})
		var asset core.Asset
		json.Unmarshal(result, &asset)
		if asset.Total != 1 {
			t.Fatalf("asset total = %d, want 1", asset.Total)
		}
		t.Logf("  Asset %d: %q by %s...", asset.ID, asset.Name, asset.Creator[:16])
	})

	t.Run("3_MarketSale", func(t *testing.T) {
		tx, _ := racer1.NewTx(testChainID, core.TxListMarket, r1Nonce, core.MinTxFee, core.ListMarketPayload{
			AssetID: saleHorse,
			Price:   50_000,
		})
		sendTx(t, url, tx)
		r1Nonce++
		waitBlock(t, url, currentHeight(t, url)+2)

		result := rpcCall(t, url, "getListing", map[string]uint64{"asset_id": saleHorse})
		var listing core.MarketListing
		json.Unmarshal(result, &listing)
		if !listing.Active || listing.Price != 50_000 {
			t.Fatalf("listing: active=%v price=%d", listing.Active, listing.Price)
		}
		t.Logf("  Horse %d listed for %d", saleHorse, listing.Price)

		tx, _ = racer2.NewTx(testChainID, core.TxBuyMarket, r2Nonce, core.MinTxFee, core.BuyMarketPayload{
			AssetID: saleHorse,
		})
		sendTx(t, url, tx)
		r2Nonce++
		waitBlock(t, url, currentHeight(t, url)+2)

		result = rpcCall(t, url, "getHolding", map[string]any{
			"address": racer2.PubKey(), "asset_id": saleHorse,
		})
		var holding core.Holding
		json.Unmarshal(result, &holding)
		if holding.Amount != 1 {
			t.Fatalf("racer2 should hold horse %d after sale", saleHorse)
		}

		result = rpcCall(t, url, "getAssetsByOwner", map[string]string{"owner": racer2.PubKey()})
		var ids []uint64
		json.Unmarshal(result, &ids)
		if len(ids) != 6 {
			t.Fatalf("racer2 horse count after buy = %d, want 6", len(ids))
		}
		t.Logf("  Horse %d sold to racer2", saleHorse)
	})

	var commitRound int64
	t.Run("4_SeasonRegistration", func(t *testing.T) {
		tx, _ := operator.NewTx(testChainID, core.TxCreateTournament, opNonce, core.MinTxFee, core.CreateTournamentPayload{
			Season: 1, BracketSize: 2, BeaconRef: "local",
		})
		sendTx(t, url, tx)
		opNonce++
		tx, _ = operator.NewTx(testChainID, core.TxOpenRegistration, opNonce, core.MinTxFee, core.OpenRegistrationPayload{
			Season: 1,
		})
		sendTx(t, url, tx)
		opNonce++
		waitBlock(t, url, currentHeight(t, url)+2)

		tx, _ = racer1.NewTx(testChainID, core.TxRegisterTeam, r1Nonce, core.MinTxFee, core.RegisterTeamPayload{
			Season: 1, AssetIDs: r1Horses,
		})
		sendTx(t, url, tx)
		r1Nonce++
		waitBlock(t, url, currentHeight(t, url)+2)

		tx, _ = racer2.NewTx(testChainID, core.TxRegisterTeam, r2Nonce, core.MinTxFee, core.RegisterTeamPayload{
			Season: 1, AssetIDs: r2Horses,
		})
		sendTx(t, url, tx)
		r2Nonce++
		waitBlock(t, url, currentHeight(t, url)+2)

		result := rpcCall(t, url, "getTournament", map[string]uint64{"season": 1})
		var trn struct {
			Phase          string `json:"phase"`
			VRFCommitRound int64  `json:"vrf_commit_round"`
		}
		json.Unmarshal(result, &trn)
		if trn.Phase != "locked" {
			t.Fatalf("phase = %s, want locked", trn.Phase)
		}
		commitRound = trn.VRFCommitRound
		t.Logf("  Bracket locked, randomness committed for round %d", commitRound)

		result = rpcCall(t, url, "getBracketSlot", map[string]uint64{"season": 1, "slot": 0})
		var slot struct {
			Wallet string `json:"wallet"`
		}
		json.Unmarshal(result, &slot)
		if slot.Wallet != racer1.PubKey() {
			t.Fatalf("slot 0 = %s..., want racer1", slot.Wallet[:16])
		}
	})

	t.Run("5_RunFinal", func(t *testing.T) {
		// the beacon refuses until the committed round is on chain
		waitBlock(t, url, commitRound)

		tx, _ := operator.NewTx(testChainID, core.TxRunMatch, opNonce, 2*core.MinTxFee, core.RunMatchPayload{
			Season: 1, RoundIndex: 0, MatchIndex: 0,
		})
		sendTx(t, url, tx)
		opNonce++
		waitBlock(t, url, currentHeight(t, url)+2)

		result := rpcCall(t, url, "getMatchResult", map[string]uint64{"season": 1, "match_id": 0})
		var match core.MatchResult
		json.Unmarshal(result, &match)
		if match.Winner != racer1.PubKey() && match.Winner != racer2.PubKey() {
			t.Fatalf("winner %s is not a registrant", match.Winner)
		}
		if match.Left != racer1.PubKey() || match.Right != racer2.PubKey() {
			t.Fatal("final should pair slot 0 against slot 1")
		}
		t.Logf("  Final: %d-%d, winner %s...", match.LeftScore, match.RightScore, match.Winner[:16])

		result = rpcCall(t, url, "getTournament", map[string]uint64{"season": 1})
		var trn struct {
			Phase    string `json:"phase"`
			Champion string `json:"champion"`
		}
		json.Unmarshal(result, &trn)
		if trn.Phase != "completed" {
			t.Fatalf("phase = %s, want completed", trn.Phase)
		}
		if trn.Champion != match.Winner {
			t.Fatal("champion should be the final's winner")
		}

		result = rpcCall(t, url, "getChampion", map[string]uint64{"season": 1})
		var champ struct {
			Champion string `json:"champion"`
		}
		json.Unmarshal(result, &champ)
		if champ.Champion != match.Winner {
			t.Fatal("champion index should match the final's winner")
		}

		result = rpcCall(t, url, "getSeasons", map[string]any{})
		var seasons []uint64
		json.Unmarshal(result, &seasons)
		if len(seasons) != 1 || seasons[0] != 1 {
			t.Fatalf("seasons index = %v, want [1]", seasons)
		}

		result = rpcCall(t, url, "getSeasonsByWallet", map[string]string{"wallet": racer1.PubKey()})
		json.Unmarshal(result, &seasons)
		if len(seasons) != 1 {
			t.Fatalf("racer1 season history = %v, want one entry", seasons)
		}
		t.Logf("  Season 1 complete, champion %s...", trn.Champion[:16])
	})

	t.Log("Season lifecycle verified end to end")
}
