// Package indexer maintains secondary indexes over committed events so race
// clients can query horses by owner and season history without scanning full
// state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/stupidhorse/racingchain/core"
	"github.com/stupidhorse/racingchain/events"
	"github.com/stupidhorse/racingchain/storage"
)

const (
	prefixOwnerAssets   = "idx:owner:asset:"
	prefixWalletSeasons = "idx:wallet:season:"
	prefixChampion      = "idx:champion:"
	keySeasons          = "idx:seasons"
)

// Indexer subscribes to chain events and updates secondary lookup tables.
type Indexer struct {
	db      storage.DB
	emitter *events.Emitter
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, emitter: emitter}
	emitter.Subscribe(events.EventAssetCreated, idx.onAssetCreated)
	emitter.Subscribe(events.EventAssetTransfer, idx.onAssetTransferred)
	emitter.Subscribe(events.EventAssetDestroy, idx.onAssetDestroyed)
	emitter.Subscribe(events.EventMarketBuy, idx.onMarketBuy)
	emitter.Subscribe(events.EventTournamentCreated, idx.onTournamentCreated)
	emitter.Subscribe(events.EventTeamRegistered, idx.onTeamRegistered)
	emitter.Subscribe(events.EventTournamentCompleted, idx.onTournamentCompleted)
	return idx
}

// GetAssetsByOwner returns the unique asset IDs held by the given pubkey.
func (idx *Indexer) GetAssetsByOwner(owner string) ([]uint64, error) {
	return idx.getList(prefixOwnerAssets + owner)
}

// GetSeasons returns every tournament season created on this chain, in
// creation order.
func (idx *Indexer) GetSeasons() ([]uint64, error) {
	return idx.getList(keySeasons)
}

// GetSeasonsByWallet returns the seasons a wallet registered a team in.
func (idx *Indexer) GetSeasonsByWallet(wallet string) ([]uint64, error) {
	return idx.getList(prefixWalletSeasons + wallet)
}

// GetChampion returns the champion wallet for a completed season, or
// core.ErrNotFound if the season has not completed.
func (idx *Indexer) GetChampion(season uint64) (string, error) {
	data, err := idx.db.Get([]byte(prefixChampion + strconv.FormatUint(season, 10)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ---- event handlers ----

func (idx *Indexer) onAssetCreated(ev events.Event) {
	creator, _ := ev.Data["creator"].(string)
	assetID, okID := ev.Data["asset_id"].(uint64)
	total, okTotal := ev.Data["total"].(uint64)
	if creator == "" || !okID || !okTotal {
		return
	}
	// only one-of-one tokens are tracked per owner
	if total != 1 {
		return
	}
	_ = idx.addToList(prefixOwnerAssets+creator, assetID)
}

func (idx *Indexer) onAssetTransferred(ev events.Event) {
	from, _ := ev.Data["from"].(string)
	to, _ := ev.Data["to"].(string)
	assetID, okID := ev.Data["asset_id"].(uint64)
	unique, _ := ev.Data["unique"].(bool)
	if !okID || !unique || from == "" || to == "" {
		return
	}
	if err := idx.removeFromList(prefixOwnerAssets+from, assetID); err != nil {
		return
	}
	_ = idx.addToList(prefixOwnerAssets+to, assetID)
}

func (idx *Indexer) onAssetDestroyed(ev events.Event) {
	// destruction requires the creator to hold the full supply
	creator, _ := ev.Data["creator"].(string)
	assetID, okID := ev.Data["asset_id"].(uint64)
	if creator == "" || !okID {
		return
	}
	_ = idx.removeFromList(prefixOwnerAssets+creator, assetID)
}

func (idx *Indexer) onMarketBuy(ev events.Event) {
	// market sales move the holding without an asset_transfer event
	seller, _ := ev.Data["seller"].(string)
	buyer, _ := ev.Data["buyer"].(string)
	assetID, okID := ev.Data["asset_id"].(uint64)
	if seller == "" || buyer == "" || !okID {
		return
	}
	if err := idx.removeFromList(prefixOwnerAssets+seller, assetID); err != nil {
		return
	}
	_ = idx.addToList(prefixOwnerAssets+buyer, assetID)
}

func (idx *Indexer) onTournamentCreated(ev events.Event) {
	season, ok := ev.Data["season"].(uint64)
	if !ok {
		return
	}
	_ = idx.addToList(keySeasons, season)
}

func (idx *Indexer) onTeamRegistered(ev events.Event) {
	season, okSeason := ev.Data["season"].(uint64)
	wallet, _ := ev.Data["wallet"].(string)
	if !okSeason || wallet == "" {
		return
	}
	_ = idx.addToList(prefixWalletSeasons+wallet, season)
}

func (idx *Indexer) onTournamentCompleted(ev events.Event) {
	season, okSeason := ev.Data["season"].(uint64)
	champion, _ := ev.Data["champion"].(string)
	if !okSeason || champion == "" {
		return
	}
	_ = idx.db.Set([]byte(prefixChampion+strconv.FormatUint(season, 10)), []byte(champion))
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]uint64, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []uint64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) addToList(key string, value uint64) error {
	ids, _ := idx.getList(key)
	ids = append(ids, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}

func (idx *Indexer) removeFromList(key string, value uint64) error {
	ids, _ := idx.getList(key)
	filtered := ids[:0]
	for _, id := range ids {
		if id != value {
			filtered = append(filtered, id)
		}
	}
	data, err := json.Marshal(filtered)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
