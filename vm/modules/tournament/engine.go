package tournament

import "github.com/stupidhorse/racingchain/crypto"

// Race constants. Both horses start at position 50; a horse finishes at 71 or
// beyond and falls off the cliff at 50 or below (checked after each step).
const (
	startPos        = 50
	cliffThreshold  = 50
	finishThreshold = 71

	heatsPerMatch = 5
	maxHeatSteps  = 16
)

// stepDeltas maps a step byte mod 5 to a movement delta.
var stepDeltas = [5]int{-5, -3, -1, 3, 5}

type heatOutcome uint8

const (
	heatDraw heatOutcome = iota
	heatLeftWins
	heatRightWins
)

// SimulateRace resolves one match from a 32-byte seed: five independent heats,
// each driven by one link of a SHA-256 hash chain rooted at the seed
// (heat 0 consumes the seed itself, heat i+1 consumes SHA-256 of heat i's
// input). Draws count toward neither score. A tied match is broken by the
// next link of the chain: first byte even means the left horse wins.
//
// The function is pure and total over any 32-byte input; identical seeds
// always produce identical results.
func SimulateRace(seed []byte) (winnerIsLeft bool, leftScore, rightScore uint64) {
	cur := seed
	for i := 0; i < heatsPerMatch; i++ {
		switch runHeat(cur) {
		case heatLeftWins:
			leftScore++
		case heatRightWins:
			rightScore++
		}
		cur = crypto.HashBytes(cur)
	}

	winnerIsLeft = leftScore > rightScore
	if leftScore == rightScore {
		winnerIsLeft = cur[0]%2 == 0
	}
	return winnerIsLeft, leftScore, rightScore
}

// runHeat plays a single heat from a 32-byte heat seed. Each step consumes
// two bytes, one per horse; both positions move simultaneously before the
// outcome checks. Checks run in a fixed priority: both finishing or both
// falling is a draw, then a left finish or right fall gives the heat to the
// left horse, then the mirror case to the right. An undecided heat after 16
// steps is a draw.
func runHeat(heatSeed []byte) heatOutcome {
	leftPos, rightPos := startPos, startPos

	for step := 0; step < maxHeatSteps; step++ {
		leftPos += stepDeltas[heatSeed[2*step]%5]
		rightPos += stepDeltas[heatSeed[2*step+1]%5]

		leftFinish := leftPos >= finishThreshold
		rightFinish := rightPos >= finishThreshold
		leftCliff := leftPos <= cliffThreshold
		rightCliff := rightPos <= cliffThreshold

		switch {
		case leftFinish && rightFinish:
			return heatDraw
		case leftCliff && rightCliff:
			return heatDraw
		case leftFinish || rightCliff:
			return heatLeftWins
		case rightFinish || leftCliff:
			return heatRightWins
		}
	}
	return heatDraw
}
