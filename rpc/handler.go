package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stupidhorse/racingchain/core"
	"github.com/stupidhorse/racingchain/indexer"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	state   core.State
	indexer *indexer.Indexer
	chainID string // expected chain_id; used to reject cross-chain replay transactions
}

// NewHandler creates an RPC Handler.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, state core.State, idx *indexer.Indexer, chainID string) *Handler {
	return &Handler{bc: bc, mempool: mempool, state: state, indexer: idx, chainID: chainID}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getBlockHeight":
		return okResponse(req.ID, h.bc.Height())

	case "getBlock":
		return h.getBlock(req)

	case "getBalance":
		return h.getBalance(req)

	case "getAsset":
		return h.getAsset(req)

	case "getHolding":
		return h.getHolding(req)

	case "getListing":
		return h.getListing(req)

	case "getAssetsByOwner":
		return h.getAssetsByOwner(req)

	case "getTournament":
		return h.getTournament(req)

	case "getTeam":
		return h.getTeam(req)

	case "getBracketSlot":
		return h.getBracketSlot(req)

	case "getMatchResult":
		return h.getMatchResult(req)

	case "getChampion":
		return h.getChampion(req)

	case "getSeasons":
		seasons, err := h.indexer.GetSeasons()
		return okList(req.ID, seasons, err)

	case "getSeasonsByWallet":
		return h.getSeasonsByWallet(req)

	case "sendTx":
		return h.sendTx(req)

	case "getMempoolSize":
		return okResponse(req.ID, h.mempool.Size())

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}

	var block *core.Block
	var err error
	if params.Hash != "" {
		block, err = h.bc.GetBlock(params.Hash)
	} else if params.Height != nil {
		block, err = h.bc.GetBlockByHeight(*params.Height)
	} else {
		block = h.bc.Tip()
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if block == nil {
		return errResponse(req.ID, CodeInternalError, "no block found")
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getBalance(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	acc, err := h.state.GetAccount(params.Address)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"address": params.Address, "balance": acc.Balance, "nonce": acc.Nonce})
}

func (h *Handler) getAsset(req Request) Response {
	var params struct {
		ID uint64 `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.ID == 0 {
		return errResponse(req.ID, CodeInvalidParams, "id is required")
	}
	asset, err := h.state.GetAsset(params.ID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, asset)
}

func (h *Handler) getHolding(req Request) Response {
	var params struct {
		Address string `json:"address"`
		AssetID uint64 `json:"asset_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address == "" || params.AssetID == 0 {
		return errResponse(req.ID, CodeInvalidParams, "address and asset_id are required")
	}
	holding, err := h.state.GetHolding(params.Address, params.AssetID)
	if errors.Is(err, core.ErrNotFound) {
		return okResponse(req.ID, &core.Holding{Address: params.Address, AssetID: params.AssetID})
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, holding)
}

func (h *Handler) getListing(req Request) Response {
	var params struct {
		AssetID uint64 `json:"asset_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.AssetID == 0 {
		return errResponse(req.ID, CodeInvalidParams, "asset_id is required")
	}
	listing, err := h.state.GetListing(params.AssetID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, listing)
}

func (h *Handler) getAssetsByOwner(req Request) Response {
	var params struct {
		Owner string `json:"owner"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Owner == "" {
		return errResponse(req.ID, CodeInvalidParams, "owner is required")
	}
	ids, err := h.indexer.GetAssetsByOwner(params.Owner)
	return okList(req.ID, ids, err)
}

func (h *Handler) getTournament(req Request) Response {
	var params struct {
		Season uint64 `json:"season"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	t, err := h.state.GetTournament(params.Season)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{
		"season":           t.Season,
		"bracket_size":     t.BracketSize,
		"beacon_ref":       t.BeaconRef,
		"admin":            t.Admin,
		"phase":            t.Phase.String(),
		"registered_count": t.RegisteredCount,
		"vrf_commit_round": t.VRFCommitRound,
		"total_rounds":     t.TotalRounds(),
		"champion":         t.Champion,
	})
}

func (h *Handler) getTeam(req Request) Response {
	var params struct {
		Season uint64 `json:"season"`
		Wallet string `json:"wallet"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Wallet == "" {
		return errResponse(req.ID, CodeInvalidParams, "wallet is required")
	}
	team, err := h.state.GetTeam(params.Season, params.Wallet)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, team)
}

func (h *Handler) getBracketSlot(req Request) Response {
	var params struct {
		Season uint64 `json:"season"`
		Slot   uint64 `json:"slot"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	wallet, err := h.state.GetSlot(params.Season, params.Slot)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"season": params.Season, "slot": params.Slot, "wallet": wallet})
}

func (h *Handler) getMatchResult(req Request) Response {
	var params struct {
		Season  uint64 `json:"season"`
		MatchID uint64 `json:"match_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	result, err := h.state.GetMatchResult(params.Season, params.MatchID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, result)
}

func (h *Handler) getChampion(req Request) Response {
	var params struct {
		Season uint64 `json:"season"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	champion, err := h.indexer.GetChampion(params.Season)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"season": params.Season, "champion": champion})
}

func (h *Handler) getSeasonsByWallet(req Request) Response {
	var params struct {
		Wallet string `json:"wallet"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Wallet == "" {
		return errResponse(req.ID, CodeInvalidParams, "wallet is required")
	}
	seasons, err := h.indexer.GetSeasonsByWallet(params.Wallet)
	return okList(req.ID, seasons, err)
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.mempool.Add(&tx); err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}

func okList(id any, ids []uint64, err error) Response {
	if err != nil {
		return errResponse(id, CodeInternalError, err.Error())
	}
	if ids == nil {
		ids = []uint64{}
	}
	return okResponse(id, ids)
}
