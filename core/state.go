package core

import "math/bits"

// Account holds a participant's token balance and replay-protection nonce.
// Address is the hex-encoded ed25519 public key.
type Account struct {
	Address string `json:"address"` // pubkey hex
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// Asset is a tokenized racing asset. A horse NFT is an asset with Total == 1;
// fungible assets (trophies, feed tokens) use larger supplies.
type Asset struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	UnitName  string `json:"unit_name"`
	URL       string `json:"url,omitempty"`
	Total     uint64 `json:"total"`
	Creator   string `json:"creator"` // pubkey hex
	CreatedAt int64  `json:"created_at"`
}

// Unique reports whether the asset is a one-of-one token.
func (a *Asset) Unique() bool {
	return a.Total == 1
}

// Holding is one address's balance of one asset.
type Holding struct {
	Address string `json:"address"` // pubkey hex
	AssetID uint64 `json:"asset_id"`
	Amount  uint64 `json:"amount"`
}

// MarketListing is a P2P sale offer for a unique asset. Listings are keyed by
// asset ID, so an asset carries at most one listing at a time.
type MarketListing struct {
	AssetID   uint64 `json:"asset_id"`
	Seller    string `json:"seller"` // pubkey hex
	Price     uint64 `json:"price"`
	Active    bool   `json:"active"`
	CreatedAt int64  `json:"created_at"`
}

// TournamentPhase is the lifecycle state of a season's bracket.
type TournamentPhase uint8

const (
	PhaseCreated TournamentPhase = iota
	PhaseRegistrationOpen
	PhaseLocked
	PhaseRacing
	PhaseCompleted
	PhaseCancelled
)

// Terminal reports whether the phase is absorbing: no transaction may move a
// tournament out of a terminal phase.
func (p TournamentPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

func (p TournamentPhase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseRegistrationOpen:
		return "registration_open"
	case PhaseLocked:
		return "locked"
	case PhaseRacing:
		return "racing"
	case PhaseCompleted:
		return "completed"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Tournament is one season's single-elimination bracket state machine.
// Season, BracketSize, BeaconRef and Admin are fixed at creation; the
// remaining fields advance with the lifecycle.
type Tournament struct {
	Season          uint64          `json:"season"`
	BracketSize     uint64          `json:"bracket_size"` // power of two, 2..64
	BeaconRef       string          `json:"beacon_ref"`   // randomness oracle reference
	Admin           string          `json:"admin"`        // pubkey hex
	Phase           TournamentPhase `json:"phase"`
	RegisteredCount uint64          `json:"registered_count"`
	VRFCommitRound  int64           `json:"vrf_commit_round"` // block height; set at lock
	Champion        string          `json:"champion,omitempty"`
	CreatedAt       int64           `json:"created_at"`
}

// TotalRounds returns log2(BracketSize): the number of elimination rounds.
func (t *Tournament) TotalRounds() uint64 {
	return uint64(bits.TrailingZeros64(t.BracketSize))
}

// TeamRegistration is a participant's five-horse lineup for one season.
// Created once during registration, immutable afterwards.
type TeamRegistration struct {
	Wallet       string    `json:"wallet"` // pubkey hex
	AssetIDs     [5]uint64 `json:"asset_ids"`
	SlotIndex    uint64    `json:"slot_index"` // bracket seed position, 0-based
	RegisteredAt int64     `json:"registered_at"`
}

// MatchResult is the immutable record of one resolved match.
// MatchID = roundIndex*100 + matchIndex.
type MatchResult struct {
	MatchID    uint64 `json:"match_id"`
	Left       string `json:"left"`  // pubkey hex
	Right      string `json:"right"` // pubkey hex
	Winner     string `json:"winner"`
	LeftScore  uint64 `json:"left_score"`  // heats won, 0..5
	RightScore uint64 `json:"right_score"` // heats won, 0..5
	Seed       []byte `json:"seed"`        // 32-byte beacon output consumed
}

// State is the full chain state interface. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Assets and per-holder balances
	GetAsset(id uint64) (*Asset, error)
	SetAsset(asset *Asset) error
	DeleteAsset(id uint64) error
	GetHolding(address string, assetID uint64) (*Holding, error)
	SetHolding(h *Holding) error
	DeleteHolding(address string, assetID uint64) error

	// Market
	GetListing(assetID uint64) (*MarketListing, error)
	SetListing(l *MarketListing) error

	// Tournaments
	GetTournament(season uint64) (*Tournament, error)
	SetTournament(t *Tournament) error
	GetTeam(season uint64, wallet string) (*TeamRegistration, error)
	SetTeam(season uint64, team *TeamRegistration) error
	GetSlot(season, slotIndex uint64) (string, error)
	SetSlot(season, slotIndex uint64, wallet string) error
	GetMatchResult(season, matchID uint64) (*MatchResult, error)
	SetMatchResult(season uint64, result *MatchResult) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
}
