// Package asset implements the tokenized-asset ledger: creation, holder
// balances, and destruction. Horse NFTs are assets with a total supply of 1;
// the tournament module verifies ownership and NFT-ness against the records
// this module maintains.
package asset

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stupidhorse/racingchain/core"
	"github.com/stupidhorse/racingchain/crypto"
	"github.com/stupidhorse/racingchain/events"
	"github.com/stupidhorse/racingchain/vm"
)

func init() {
	vm.Register(core.TxCreateAsset, handleCreateAsset)
	vm.Register(core.TxTransferAsset, handleTransferAsset)
	vm.Register(core.TxDestroyAsset, handleDestroyAsset)
}

// assetIDFromTx derives a deterministic positive asset ID from the creating
// transaction's hash.
func assetIDFromTx(txID string) uint64 {
	h := crypto.HashBytes([]byte(txID + ":asset"))
	id := binary.BigEndian.Uint64(h[:8])
	if id == 0 {
		id = binary.BigEndian.Uint64(h[8:16])
	}
	return id
}

func handleCreateAsset(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreateAssetPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode create_asset payload: %w", err)
	}
	if p.Name == "" {
		return errors.New("asset name required")
	}
	if p.Total == 0 {
		return errors.New("total supply must be > 0")
	}

	id := assetIDFromTx(ctx.Tx.ID)
	if _, err := ctx.State.GetAsset(id); err == nil {
		return fmt.Errorf("asset id %d already exists", id)
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("check asset %d: %w", id, err)
	}

	asset := &core.Asset{
		ID:        id,
		Name:      p.Name,
		UnitName:  p.UnitName,
		URL:       p.URL,
		Total:     p.Total,
		Creator:   ctx.Tx.From,
		CreatedAt: ctx.Block.Header.Timestamp,
	}
	if err := ctx.State.SetAsset(asset); err != nil {
		return err
	}

	// The full supply starts in the creator's hands.
	holding := &core.Holding{Address: ctx.Tx.From, AssetID: id, Amount: p.Total}
	if err := ctx.State.SetHolding(holding); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventAssetCreated,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data: map[string]any{
				"asset_id": id,
				"name":     p.Name,
				"total":    p.Total,
				"creator":  ctx.Tx.From,
			},
		})
	}
	return nil
}

func handleTransferAsset(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferAssetPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer_asset payload: %w", err)
	}
	if p.To == "" {
		return errors.New("to address required")
	}
	if _, err := crypto.PubKeyFromHex(p.To); err != nil {
		return fmt.Errorf("invalid to pubkey: %w", err)
	}
	if p.Amount == 0 {
		return errors.New("transfer amount must be > 0")
	}
	if p.To == ctx.Tx.From {
		return errors.New("cannot transfer an asset to yourself")
	}

	asset, err := ctx.State.GetAsset(p.AssetID)
	if err != nil {
		return fmt.Errorf("asset %d not found: %w", p.AssetID, err)
	}

	// A listed asset stays put until the listing is cancelled or bought.
	if listing, err := ctx.State.GetListing(p.AssetID); err == nil {
		if listing.Active && listing.Seller == ctx.Tx.From {
			return fmt.Errorf("asset %d has an active listing; cancel it before transferring", p.AssetID)
		}
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("check listing for asset %d: %w", p.AssetID, err)
	}

	from, err := ctx.State.GetHolding(ctx.Tx.From, p.AssetID)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("sender holds no units of asset %d", p.AssetID)
	}
	if err != nil {
		return err
	}
	if from.Amount < p.Amount {
		return fmt.Errorf("insufficient asset balance: have %d need %d", from.Amount, p.Amount)
	}

	var toAmount uint64
	if to, err := ctx.State.GetHolding(p.To, p.AssetID); err == nil {
		toAmount = to.Amount
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}

	remaining := from.Amount - p.Amount
	if remaining == 0 {
		if err := ctx.State.DeleteHolding(ctx.Tx.From, p.AssetID); err != nil {
			return err
		}
	} else {
		from.Amount = remaining
		if err := ctx.State.SetHolding(from); err != nil {
			return err
		}
	}
	if err := ctx.State.SetHolding(&core.Holding{
		Address: p.To,
		AssetID: p.AssetID,
		Amount:  toAmount + p.Amount,
	}); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventAssetTransfer,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data: map[string]any{
				"asset_id":       p.AssetID,
				"from":           ctx.Tx.From,
				"to":             p.To,
				"amount":         p.Amount,
				"from_remaining": remaining,
				"unique":         asset.Unique(),
			},
		})
	}
	return nil
}

func handleDestroyAsset(ctx *vm.Context, payload json.RawMessage) error {
	var p core.DestroyAssetPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode destroy_asset payload: %w", err)
	}

	asset, err := ctx.State.GetAsset(p.AssetID)
	if err != nil {
		return fmt.Errorf("asset %d not found: %w", p.AssetID, err)
	}
	if asset.Creator != ctx.Tx.From {
		return errors.New("only the asset creator can destroy it")
	}

	if listing, err := ctx.State.GetListing(p.AssetID); err == nil {
		if listing.Active {
			return fmt.Errorf("asset %d has an active listing; cancel it before destroying", p.AssetID)
		}
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("check listing for asset %d: %w", p.AssetID, err)
	}

	holding, err := ctx.State.GetHolding(ctx.Tx.From, p.AssetID)
	if errors.Is(err, core.ErrNotFound) || (err == nil && holding.Amount < asset.Total) {
		return errors.New("creator must hold the full supply to destroy an asset")
	}
	if err != nil {
		return err
	}

	if err := ctx.State.DeleteHolding(ctx.Tx.From, p.AssetID); err != nil {
		return err
	}
	if err := ctx.State.DeleteAsset(p.AssetID); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventAssetDestroy,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data:        map[string]any{"asset_id": p.AssetID, "creator": asset.Creator},
		})
	}
	return nil
}
