package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stupidhorse/racingchain/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer      TxType = "transfer"
	TxCreateAsset   TxType = "create_asset"
	TxTransferAsset TxType = "transfer_asset"
	TxDestroyAsset  TxType = "destroy_asset"
	TxListMarket    TxType = "list_market"
	TxCancelMarket  TxType = "cancel_market"
	TxBuyMarket     TxType = "buy_market"

	TxCreateTournament TxType = "tournament_create"
	TxOpenRegistration TxType = "tournament_open_registration"
	TxRegisterTeam     TxType = "tournament_register_team"
	TxAdminRegister    TxType = "tournament_admin_register"
	TxCloseTournament  TxType = "tournament_close"
	TxRunMatch         TxType = "tournament_run_match"
)

// MinTxFee is the network's minimum transaction fee. Operations that issue a
// beacon sub-call must pool at least twice this amount (the sub-call itself
// carries no explicit fee).
const MinTxFee uint64 = 1000

// Transaction is the atomic unit of work on the chain.
// From holds the sender's full hex-encoded ed25519 public key (64 chars).
// Signature covers all fields except Signature itself.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"` // hex-encoded ed25519 public key
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	body := signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload transfers native tokens.
type TransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// CreateAssetPayload mints a new asset; the full supply is credited to the
// creating account.
type CreateAssetPayload struct {
	Name     string `json:"name"`
	UnitName string `json:"unit_name"`
	URL      string `json:"url,omitempty"`
	Total    uint64 `json:"total"`
}

// TransferAssetPayload moves asset units to another holder.
type TransferAssetPayload struct {
	AssetID uint64 `json:"asset_id"`
	To      string `json:"to"` // recipient pubkey hex
	Amount  uint64 `json:"amount"`
}

// DestroyAssetPayload removes an asset whose full supply has returned to its
// creator.
type DestroyAssetPayload struct {
	AssetID uint64 `json:"asset_id"`
}

// ListMarketPayload lists a unique asset for sale.
type ListMarketPayload struct {
	AssetID uint64 `json:"asset_id"`
	Price   uint64 `json:"price"`
}

// CancelMarketPayload withdraws the seller's active listing.
type CancelMarketPayload struct {
	AssetID uint64 `json:"asset_id"`
}

// BuyMarketPayload purchases an active market listing.
type BuyMarketPayload struct {
	AssetID uint64 `json:"asset_id"`
}

// CreateTournamentPayload opens a new season. The sender becomes the
// tournament admin.
type CreateTournamentPayload struct {
	Season      uint64 `json:"season"`
	BracketSize uint64 `json:"bracket_size"`
	BeaconRef   string `json:"beacon_ref"`
}

// OpenRegistrationPayload moves a season into the registration phase.
type OpenRegistrationPayload struct {
	Season uint64 `json:"season"`
}

// RegisterTeamPayload enters the sender's five-horse team into a season.
type RegisterTeamPayload struct {
	Season   uint64    `json:"season"`
	AssetIDs [5]uint64 `json:"asset_ids"`
}

// AdminRegisterPayload seeds an arbitrary wallet's team (admin only; skips
// ownership checks).
type AdminRegisterPayload struct {
	Season   uint64    `json:"season"`
	Wallet   string    `json:"wallet"`
	AssetIDs [5]uint64 `json:"asset_ids"`
}

// CloseTournamentPayload cancels a season.
type CloseTournamentPayload struct {
	Season uint64 `json:"season"`
}

// RunMatchPayload resolves one bracket match.
type RunMatchPayload struct {
	Season     uint64 `json:"season"`
	RoundIndex uint64 `json:"round_index"`
	MatchIndex uint64 `json:"match_index"`
}
