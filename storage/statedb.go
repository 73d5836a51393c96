package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/stupidhorse/racingchain/core"
	"github.com/stupidhorse/racingchain/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it.  All prefix constants must be declared
// via this function; manually editing statePrefixes is not required.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated automatically by registerPrefix() below.
// ComputeRoot() iterates these prefixes to build the full world-state view.
var statePrefixes []string

var (
	prefixAccount    = registerPrefix("acct:")
	prefixAsset      = registerPrefix("asset:")
	prefixHolding    = registerPrefix("hold:")
	prefixListing    = registerPrefix("list:")
	prefixTournament = registerPrefix("trn:")
	prefixTeam       = registerPrefix("team:")
	prefixSlot       = registerPrefix("slot:")
	prefixMatch      = registerPrefix("match:")
)

func assetKey(id uint64) string {
	return fmt.Sprintf("%s%d", prefixAsset, id)
}

func holdingKey(address string, assetID uint64) string {
	return fmt.Sprintf("%s%s:%d", prefixHolding, address, assetID)
}

func listingKey(assetID uint64) string {
	return fmt.Sprintf("%s%d", prefixListing, assetID)
}

func tournamentKey(season uint64) string {
	return fmt.Sprintf("%s%d", prefixTournament, season)
}

func teamKey(season uint64, wallet string) string {
	return fmt.Sprintf("%s%d:%s", prefixTeam, season, wallet)
}

func slotKey(season, slotIndex uint64) string {
	return fmt.Sprintf("%s%d:%d", prefixSlot, season, slotIndex)
}

func matchKey(season, matchID uint64) string {
	return fmt.Sprintf("%s%d:%d", prefixMatch, season, matchID)
}

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	delete(s.dirty, key)
	s.deleted[key] = true
}

func (s *StateDB) getJSON(key string, out any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *StateDB) setJSON(key string, val any) error {
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}
	s.set(key, data)
	return nil
}

// ---- Account ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	var acc core.Account
	err := s.getJSON(prefixAccount+address, &acc)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.setJSON(prefixAccount+acc.Address, acc)
}

// ---- Asset ----

func (s *StateDB) GetAsset(id uint64) (*core.Asset, error) {
	var asset core.Asset
	if err := s.getJSON(assetKey(id), &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

func (s *StateDB) SetAsset(asset *core.Asset) error {
	return s.setJSON(assetKey(asset.ID), asset)
}

func (s *StateDB) DeleteAsset(id uint64) error {
	s.del(assetKey(id))
	return nil
}

// ---- Holding ----

func (s *StateDB) GetHolding(address string, assetID uint64) (*core.Holding, error) {
	var h core.Holding
	if err := s.getJSON(holdingKey(address, assetID), &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *StateDB) SetHolding(h *core.Holding) error {
	return s.setJSON(holdingKey(h.Address, h.AssetID), h)
}

func (s *StateDB) DeleteHolding(address string, assetID uint64) error {
	s.del(holdingKey(address, assetID))
	return nil
}

// ---- Market ----

func (s *StateDB) GetListing(assetID uint64) (*core.MarketListing, error) {
	var l core.MarketListing
	if err := s.getJSON(listingKey(assetID), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *StateDB) SetListing(l *core.MarketListing) error {
	return s.setJSON(listingKey(l.AssetID), l)
}

// ---- Tournament ----

func (s *StateDB) GetTournament(season uint64) (*core.Tournament, error) {
	var t core.Tournament
	if err := s.getJSON(tournamentKey(season), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *StateDB) SetTournament(t *core.Tournament) error {
	return s.setJSON(tournamentKey(t.Season), t)
}

func (s *StateDB) GetTeam(season uint64, wallet string) (*core.TeamRegistration, error) {
	var team core.TeamRegistration
	if err := s.getJSON(teamKey(season, wallet), &team); err != nil {
		return nil, err
	}
	return &team, nil
}

func (s *StateDB) SetTeam(season uint64, team *core.TeamRegistration) error {
	return s.setJSON(teamKey(season, team.Wallet), team)
}

func (s *StateDB) GetSlot(season, slotIndex uint64) (string, error) {
	data, err := s.get(slotKey(season, slotIndex))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *StateDB) SetSlot(season, slotIndex uint64, wallet string) error {
	s.set(slotKey(season, slotIndex), []byte(wallet))
	return nil
}

func (s *StateDB) GetMatchResult(season, matchID uint64) (*core.MatchResult, error) {
	var r core.MatchResult
	if err := s.getJSON(matchKey(season, matchID), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *StateDB) SetMatchResult(season uint64, result *core.MatchResult) error {
	return s.setJSON(matchKey(season, result.MatchID), result)
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot.
// The snapshot maps are deep-copied so that subsequent writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete world state.
// It merges all persisted state entries (scanned from DB by the known state
// prefixes) with the current write buffer, then hashes the sorted key-value
// pairs using length-prefix encoding.  It does NOT flush or modify state,
// so it is safe to call before signing a block.
func (s *StateDB) ComputeRoot() string {
	// Step 1: collect all persisted state entries from DB.
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			k := string(it.Key())
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[k] = v
		}
		it.Release()
	}

	// Step 2: apply in-memory write buffer (uncommitted changes this block).
	for k, v := range s.dirty {
		merged[k] = v
	}

	// Step 3: exclude deleted keys.
	for k := range s.deleted {
		delete(merged, k)
	}

	// Step 4: sort keys for determinism.
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Step 5: length-prefix encode each key-value pair and hash.
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// WriteBatch and then clears it. Call ComputeRoot() before signing the block,
// then call Commit() after the block is safely stored.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
