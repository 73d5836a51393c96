// Package market implements P2P trading of unique assets between seasons:
// list, cancel, and buy. Only one-of-one assets (horse NFTs) can be listed.
package market

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stupidhorse/racingchain/core"
	"github.com/stupidhorse/racingchain/events"
	"github.com/stupidhorse/racingchain/vm"
)

func init() {
	vm.Register(core.TxListMarket, handleListMarket)
	vm.Register(core.TxCancelMarket, handleCancelMarket)
	vm.Register(core.TxBuyMarket, handleBuyMarket)
}

func handleListMarket(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ListMarketPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode list_market payload: %w", err)
	}
	if p.Price == 0 {
		return errors.New("price must be > 0")
	}

	asset, err := ctx.State.GetAsset(p.AssetID)
	if err != nil {
		return fmt.Errorf("asset %d not found: %w", p.AssetID, err)
	}
	if !asset.Unique() {
		return fmt.Errorf("asset %d is not a unique token; only one-of-one assets can be listed", p.AssetID)
	}

	holding, err := ctx.State.GetHolding(ctx.Tx.From, p.AssetID)
	if errors.Is(err, core.ErrNotFound) || (err == nil && holding.Amount == 0) {
		return errors.New("only the asset holder can list it")
	}
	if err != nil {
		return err
	}

	// Listings are keyed by asset ID, so an active entry blocks double-listing.
	if existing, err := ctx.State.GetListing(p.AssetID); err == nil && existing.Active {
		return fmt.Errorf("asset %d is already listed", p.AssetID)
	} else if err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("check listing for asset %d: %w", p.AssetID, err)
	}

	listing := &core.MarketListing{
		AssetID:   p.AssetID,
		Seller:    ctx.Tx.From,
		Price:     p.Price,
		Active:    true,
		CreatedAt: ctx.Block.Header.Timestamp,
	}
	if err := ctx.State.SetListing(listing); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventMarketList,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data:        map[string]any{"asset_id": p.AssetID, "seller": ctx.Tx.From, "price": p.Price},
		})
	}
	return nil
}

func handleCancelMarket(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CancelMarketPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode cancel_market payload: %w", err)
	}

	listing, err := ctx.State.GetListing(p.AssetID)
	if err != nil {
		return fmt.Errorf("listing for asset %d not found: %w", p.AssetID, err)
	}
	if !listing.Active {
		return fmt.Errorf("listing for asset %d is no longer active", p.AssetID)
	}
	if listing.Seller != ctx.Tx.From {
		return errors.New("only the seller can cancel a listing")
	}

	listing.Active = false
	if err := ctx.State.SetListing(listing); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventMarketCancel,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data:        map[string]any{"asset_id": p.AssetID, "seller": listing.Seller},
		})
	}
	return nil
}

func handleBuyMarket(ctx *vm.Context, payload json.RawMessage) error {
	var p core.BuyMarketPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode buy_market payload: %w", err)
	}

	listing, err := ctx.State.GetListing(p.AssetID)
	if err != nil {
		return fmt.Errorf("listing for asset %d not found: %w", p.AssetID, err)
	}
	if !listing.Active {
		return fmt.Errorf("listing for asset %d is no longer active", p.AssetID)
	}
	if listing.Seller == ctx.Tx.From {
		return errors.New("seller cannot buy their own listing")
	}

	// The seller must still hold the token; otherwise the listing is stale.
	sellerHolding, err := ctx.State.GetHolding(listing.Seller, p.AssetID)
	if errors.Is(err, core.ErrNotFound) || (err == nil && sellerHolding.Amount == 0) {
		return fmt.Errorf("seller no longer holds asset %d", p.AssetID)
	}
	if err != nil {
		return err
	}

	// Deduct price from buyer
	buyer, err := ctx.State.GetAccount(ctx.Tx.From)
	if err != nil {
		return err
	}
	if buyer.Balance < listing.Price {
		return fmt.Errorf("insufficient balance: have %d need %d", buyer.Balance, listing.Price)
	}
	buyer.Balance -= listing.Price
	if err := ctx.State.SetAccount(buyer); err != nil {
		return err
	}

	// Credit seller
	seller, err := ctx.State.GetAccount(listing.Seller)
	if err != nil {
		return err
	}
	seller.Balance += listing.Price
	if err := ctx.State.SetAccount(seller); err != nil {
		return err
	}

	// Move the token
	if err := ctx.State.DeleteHolding(listing.Seller, p.AssetID); err != nil {
		return err
	}
	if err := ctx.State.SetHolding(&core.Holding{
		Address: ctx.Tx.From,
		AssetID: p.AssetID,
		Amount:  1,
	}); err != nil {
		return err
	}

	listing.Active = false
	if err := ctx.State.SetListing(listing); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventMarketBuy,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data: map[string]any{
				"asset_id": p.AssetID,
				"buyer":    ctx.Tx.From,
				"seller":   listing.Seller,
				"price":    listing.Price,
			},
		})
	}
	return nil
}
