// Package tournament implements the single-elimination racing tournament:
// season lifecycle, team registration, and on-chain match resolution driven
// by an external randomness beacon.
package tournament

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stupidhorse/racingchain/beacon"
	"github.com/stupidhorse/racingchain/core"
	"github.com/stupidhorse/racingchain/events"
	"github.com/stupidhorse/racingchain/vm"
)

const (
	// lockCommitDelay is how many blocks after the lock the beacon randomness
	// becomes retrievable.
	lockCommitDelay = 16

	// matchesPerRoundCap spaces match IDs: matchID = roundIndex*100 + matchIndex.
	// A 64-team bracket has at most 32 first-round matches, well under the cap.
	matchesPerRoundCap = 100
)

// enforceCreatorAllowlist restricts registration to horses minted by approved
// stables. Off by default; flip at build time for allow-listed seasons.
const enforceCreatorAllowlist = false

var allowedCreators = map[string]bool{}

func init() {
	vm.Register(core.TxCreateTournament, handleCreate)
	vm.Register(core.TxOpenRegistration, handleOpenRegistration)
	vm.Register(core.TxRegisterTeam, handleRegisterTeam)
	vm.Register(core.TxAdminRegister, handleAdminRegister)
	vm.Register(core.TxCloseTournament, handleClose)
	vm.Register(core.TxRunMatch, handleRunMatch)
}

func handleCreate(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreateTournamentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode tournament_create payload: %w", err)
	}
	if p.Season == 0 {
		return errors.New("season must be positive")
	}
	switch p.BracketSize {
	case 2, 4, 8, 16, 32, 64:
	default:
		return fmt.Errorf("bracket size must be 2, 4, 8, 16, 32, or 64 (got %d)", p.BracketSize)
	}
	if p.BeaconRef == "" {
		return errors.New("beacon reference required")
	}

	if _, err := ctx.State.GetTournament(p.Season); err == nil {
		return fmt.Errorf("season %d already exists", p.Season)
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("check season %d: %w", p.Season, err)
	}

	t := &core.Tournament{
		Season:      p.Season,
		BracketSize: p.BracketSize,
		BeaconRef:   p.BeaconRef,
		Admin:       ctx.Tx.From,
		Phase:       core.PhaseCreated,
		CreatedAt:   ctx.Block.Header.Timestamp,
	}
	if err := ctx.State.SetTournament(t); err != nil {
		return err
	}

	emit(ctx, events.EventTournamentCreated, map[string]any{
		"season":       p.Season,
		"bracket_size": p.BracketSize,
		"admin":        ctx.Tx.From,
	})
	return nil
}

func handleOpenRegistration(ctx *vm.Context, payload json.RawMessage) error {
	var p core.OpenRegistrationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode tournament_open_registration payload: %w", err)
	}

	t, err := ctx.State.GetTournament(p.Season)
	if err != nil {
		return fmt.Errorf("season %d not found: %w", p.Season, err)
	}
	if ctx.Tx.From != t.Admin {
		return errors.New("only the admin can open registration")
	}
	if t.Phase != core.PhaseCreated {
		return fmt.Errorf("tournament must be in created phase (currently %s)", t.Phase)
	}

	t.Phase = core.PhaseRegistrationOpen
	if err := ctx.State.SetTournament(t); err != nil {
		return err
	}

	emit(ctx, events.EventRegistrationOpened, map[string]any{"season": t.Season})
	return nil
}

func handleRegisterTeam(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RegisterTeamPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode tournament_register_team payload: %w", err)
	}

	t, err := ctx.State.GetTournament(p.Season)
	if err != nil {
		return fmt.Errorf("season %d not found: %w", p.Season, err)
	}
	if t.Phase != core.PhaseRegistrationOpen {
		return fmt.Errorf("registration is not open (currently %s)", t.Phase)
	}
	if err := validateTeamAssets(p.AssetIDs); err != nil {
		return err
	}
	for _, id := range p.AssetIDs {
		if err := checkOwnedUniqueAsset(ctx, ctx.Tx.From, id); err != nil {
			return err
		}
	}
	return registerTeamForWallet(ctx, t, ctx.Tx.From, p.AssetIDs)
}

func handleAdminRegister(ctx *vm.Context, payload json.RawMessage) error {
	var p core.AdminRegisterPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode tournament_admin_register payload: %w", err)
	}

	t, err := ctx.State.GetTournament(p.Season)
	if err != nil {
		return fmt.Errorf("season %d not found: %w", p.Season, err)
	}
	if ctx.Tx.From != t.Admin {
		return errors.New("only the admin can seed teams")
	}
	if t.Phase != core.PhaseRegistrationOpen {
		return fmt.Errorf("registration is not open (currently %s)", t.Phase)
	}
	if p.Wallet == "" {
		return errors.New("wallet required")
	}
	if err := validateTeamAssets(p.AssetIDs); err != nil {
		return err
	}
	// Ownership checks are deliberately skipped: this is the operational
	// seeding path for exhibition brackets.
	return registerTeamForWallet(ctx, t, p.Wallet, p.AssetIDs)
}

func handleClose(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CloseTournamentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode tournament_close payload: %w", err)
	}

	t, err := ctx.State.GetTournament(p.Season)
	if err != nil {
		return fmt.Errorf("season %d not found: %w", p.Season, err)
	}
	if ctx.Tx.From != t.Admin {
		return errors.New("only the admin can close the tournament")
	}
	if t.Phase.Terminal() {
		return fmt.Errorf("tournament already %s", t.Phase)
	}

	t.Phase = core.PhaseCancelled
	if err := ctx.State.SetTournament(t); err != nil {
		return err
	}

	emit(ctx, events.EventTournamentCancelled, map[string]any{"season": t.Season})
	return nil
}

func handleRunMatch(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RunMatchPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode tournament_run_match payload: %w", err)
	}

	t, err := ctx.State.GetTournament(p.Season)
	if err != nil {
		return fmt.Errorf("season %d not found: %w", p.Season, err)
	}
	if ctx.Tx.From != t.Admin {
		return errors.New("only the admin can run matches")
	}
	if t.Phase != core.PhaseLocked && t.Phase != core.PhaseRacing {
		return fmt.Errorf("tournament not ready for racing (currently %s)", t.Phase)
	}
	if ctx.Block.Header.Height < t.VRFCommitRound {
		return fmt.Errorf("randomness round not reached: current %d, committed %d",
			ctx.Block.Header.Height, t.VRFCommitRound)
	}
	if ctx.Tx.Fee < 2*core.MinTxFee {
		return fmt.Errorf("insufficient fee pooling for beacon call: have %d need %d",
			ctx.Tx.Fee, 2*core.MinTxFee)
	}

	totalRounds := t.TotalRounds()
	if p.RoundIndex >= totalRounds {
		return fmt.Errorf("round index %d out of range (bracket has %d rounds)", p.RoundIndex, totalRounds)
	}
	matchesInRound := t.BracketSize >> (p.RoundIndex + 1)
	if p.MatchIndex >= matchesInRound {
		return fmt.Errorf("match index %d out of range (round %d has %d matches)",
			p.MatchIndex, p.RoundIndex, matchesInRound)
	}

	matchID := p.RoundIndex*matchesPerRoundCap + p.MatchIndex
	if _, err := ctx.State.GetMatchResult(t.Season, matchID); err == nil {
		return fmt.Errorf("match %d already played", matchID)
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("check match %d: %w", matchID, err)
	}

	left, right, err := resolveParticipants(ctx, t, p.RoundIndex, p.MatchIndex)
	if err != nil {
		return err
	}

	svc, ok := ctx.Beacons.Lookup(t.BeaconRef)
	if !ok {
		return fmt.Errorf("beacon %q not available", t.BeaconRef)
	}
	seed, err := beacon.NewClient(svc).Request(uint64(t.VRFCommitRound), matchID)
	if err != nil {
		return err
	}

	winnerIsLeft, leftScore, rightScore := SimulateRace(seed)
	winner := right
	if winnerIsLeft {
		winner = left
	}

	result := &core.MatchResult{
		MatchID:    matchID,
		Left:       left,
		Right:      right,
		Winner:     winner,
		LeftScore:  leftScore,
		RightScore: rightScore,
		Seed:       seed,
	}
	if err := ctx.State.SetMatchResult(t.Season, result); err != nil {
		return err
	}

	if t.Phase == core.PhaseLocked {
		t.Phase = core.PhaseRacing
	}
	if p.RoundIndex == totalRounds-1 {
		t.Champion = winner
		t.Phase = core.PhaseCompleted
	}
	if err := ctx.State.SetTournament(t); err != nil {
		return err
	}

	emit(ctx, events.EventMatchResolved, map[string]any{
		"season":      t.Season,
		"match_id":    matchID,
		"winner":      winner,
		"left_score":  leftScore,
		"right_score": rightScore,
	})
	if t.Phase == core.PhaseCompleted {
		emit(ctx, events.EventTournamentCompleted, map[string]any{
			"season":   t.Season,
			"champion": t.Champion,
		})
	}
	return nil
}

// resolveParticipants looks up the two wallets racing in (roundIndex, matchIndex).
// Round 0 pairs adjacent bracket slots in registration order; later rounds take
// the winners of the two feeding matches, which must already be resolved.
func resolveParticipants(ctx *vm.Context, t *core.Tournament, roundIndex, matchIndex uint64) (left, right string, err error) {
	if roundIndex == 0 {
		left, err = ctx.State.GetSlot(t.Season, matchIndex*2)
		if err != nil {
			return "", "", fmt.Errorf("bracket slot %d is empty: %w", matchIndex*2, err)
		}
		right, err = ctx.State.GetSlot(t.Season, matchIndex*2+1)
		if err != nil {
			return "", "", fmt.Errorf("bracket slot %d is empty: %w", matchIndex*2+1, err)
		}
		return left, right, nil
	}

	prevRound := roundIndex - 1
	leftFeed := prevRound*matchesPerRoundCap + matchIndex*2
	rightFeed := prevRound*matchesPerRoundCap + matchIndex*2 + 1

	leftResult, err := ctx.State.GetMatchResult(t.Season, leftFeed)
	if err != nil {
		return "", "", fmt.Errorf("feeding match %d not resolved: %w", leftFeed, err)
	}
	rightResult, err := ctx.State.GetMatchResult(t.Season, rightFeed)
	if err != nil {
		return "", "", fmt.Errorf("feeding match %d not resolved: %w", rightFeed, err)
	}
	return leftResult.Winner, rightResult.Winner, nil
}

// registerTeamForWallet allocates the next bracket slot and records the team.
// Filling the final slot locks the bracket and commits the randomness round.
func registerTeamForWallet(ctx *vm.Context, t *core.Tournament, wallet string, assetIDs [5]uint64) error {
	if _, err := ctx.State.GetTeam(t.Season, wallet); err == nil {
		return errors.New("team already registered")
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("check team for %s: %w", wallet, err)
	}
	if t.RegisteredCount >= t.BracketSize {
		return errors.New("bracket is full")
	}

	slot := t.RegisteredCount
	team := &core.TeamRegistration{
		Wallet:       wallet,
		AssetIDs:     assetIDs,
		SlotIndex:    slot,
		RegisteredAt: ctx.Block.Header.Timestamp,
	}
	if err := ctx.State.SetTeam(t.Season, team); err != nil {
		return err
	}
	if err := ctx.State.SetSlot(t.Season, slot, wallet); err != nil {
		return err
	}

	t.RegisteredCount++
	if t.RegisteredCount == t.BracketSize {
		t.Phase = core.PhaseLocked
		t.VRFCommitRound = ctx.Block.Header.Height + lockCommitDelay
	}
	if err := ctx.State.SetTournament(t); err != nil {
		return err
	}

	emit(ctx, events.EventTeamRegistered, map[string]any{
		"season": t.Season,
		"wallet": wallet,
		"slot":   slot,
	})
	if t.Phase == core.PhaseLocked {
		emit(ctx, events.EventTournamentLocked, map[string]any{
			"season":           t.Season,
			"vrf_commit_round": t.VRFCommitRound,
		})
	}
	return nil
}

// validateTeamAssets checks that all five asset IDs are positive and pairwise
// distinct.
func validateTeamAssets(assetIDs [5]uint64) error {
	for i, id := range assetIDs {
		if id == 0 {
			return errors.New("asset ids must be positive")
		}
		for j := i + 1; j < len(assetIDs); j++ {
			if id == assetIDs[j] {
				return fmt.Errorf("team assets must be distinct (asset %d repeated)", id)
			}
		}
	}
	return nil
}

// checkOwnedUniqueAsset verifies against the asset ledger that wallet holds
// asset id and that the asset is a one-of-one token.
func checkOwnedUniqueAsset(ctx *vm.Context, wallet string, id uint64) error {
	holding, err := ctx.State.GetHolding(wallet, id)
	if errors.Is(err, core.ErrNotFound) || (err == nil && holding.Amount == 0) {
		return fmt.Errorf("sender must own asset %d", id)
	}
	if err != nil {
		return err
	}

	asset, err := ctx.State.GetAsset(id)
	if err != nil {
		return fmt.Errorf("asset %d not found: %w", id, err)
	}
	if !asset.Unique() {
		return fmt.Errorf("asset %d is not a unique token", id)
	}

	if enforceCreatorAllowlist && !allowedCreators[asset.Creator] {
		return fmt.Errorf("asset %d not minted by an approved stable", id)
	}
	return nil
}

func emit(ctx *vm.Context, typ events.EventType, data map[string]any) {
	if ctx.Emitter == nil {
		return
	}
	ctx.Emitter.Emit(events.Event{
		Type:        typ,
		TxID:        ctx.Tx.ID,
		BlockHeight: ctx.Block.Header.Height,
		Data:        data,
	})
}
