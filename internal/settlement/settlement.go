// Package settlement computes per-placement payouts from a match's final
// placement vector and applies them through the ledger in one transaction.
// PayoutModel is a closed tagged-variant enum dispatched through a total
// switch rather than an interface — there's a fixed, small set of payout
// shapes and no need for callers to add their own.
package settlement

import (
	"context"
	"math"

	"github.com/rawblock/wagerarena/internal/ledger"
	"github.com/rawblock/wagerarena/pkg/models"
)

// Ledger is the narrow settlement-facing view of the ledger store.
type Ledger interface {
	Settle(ctx context.Context, matchID, houseAccountID string, payouts []ledger.SettlePayout, rakeMinor int64) error
}

// Rake computes min(floor(pot * rakeBps / 10000), rakeCap).
func Rake(potMinor int64, rakeBps int, rakeCapMinor *int64) int64 {
	rake := potMinor * int64(rakeBps) / 10000
	if rakeCapMinor != nil && rake > *rakeCapMinor {
		rake = *rakeCapMinor
	}
	return rake
}

// Compute assigns PayoutMinor on each placement in place (placements MUST
// already be sorted by final_mass desc, ties broken by account id asc —
// the order match.Outcome produces) and returns the computed rake. The sum
// of every PayoutMinor plus the returned rake equals potMinor exactly.
func Compute(model models.PayoutModel, placements []models.Placement, potMinor int64, rakeBps int, rakeCapMinor *int64) int64 {
	rake := Rake(potMinor, rakeBps, rakeCapMinor)
	netPot := potMinor - rake

	switch model {
	case models.PayoutWinnerTakeAll:
		computeWinnerTakeAll(placements, netPot)
	case models.PayoutTop3Ladder:
		computeTop3Ladder(placements, netPot)
	case models.PayoutProportional:
		computeProportional(placements, netPot)
	default:
		computeWinnerTakeAll(placements, netPot) // unknown model: fail safe to the simplest, fully-specified rule
	}
	return rake
}

func computeWinnerTakeAll(placements []models.Placement, netPot int64) {
	for i := range placements {
		placements[i].PayoutMinor = 0
	}
	if len(placements) > 0 {
		placements[0].PayoutMinor = netPot
	}
}

var top3LadderBps = [3]int64{6500, 2500, 1000}

func computeTop3Ladder(placements []models.Placement, netPot int64) {
	var distributed int64
	for i := range placements {
		placements[i].PayoutMinor = 0
		if i < 3 {
			share := netPot * top3LadderBps[i] / 10000
			placements[i].PayoutMinor = share
			distributed += share
		}
	}
	residueToRankOne(placements, netPot, distributed)
}

func computeProportional(placements []models.Placement, netPot int64) {
	var totalMass float64
	for _, p := range placements {
		totalMass += p.FinalMass
	}

	var distributed int64
	if totalMass <= 0 {
		// degenerate: all masses zero, equal split with residue to rank 1.
		n := int64(len(placements))
		if n == 0 {
			return
		}
		share := netPot / n
		for i := range placements {
			placements[i].PayoutMinor = share
			distributed += share
		}
	} else {
		for i := range placements {
			share := int64(math.Floor(placements[i].FinalMass / totalMass * float64(netPot)))
			placements[i].PayoutMinor = share
			distributed += share
		}
	}
	residueToRankOne(placements, netPot, distributed)
}

// residueToRankOne folds any rounding remainder into rank 1's payout so
// the sum of payouts always equals netPot exactly under integer division.
func residueToRankOne(placements []models.Placement, netPot, distributed int64) {
	if len(placements) == 0 {
		return
	}
	residue := netPot - distributed
	placements[0].PayoutMinor += residue
}

// Settle computes payouts for a completed match and applies them through
// the ledger in one transaction. Idempotent at the match_id grain: callers
// that observe ended_at already set should not call Settle again, but a
// concurrent/retried call is safe because ledger.Settle itself no-ops past
// the first application.
func Settle(ctx context.Context, l Ledger, matchID, houseAccountID string, placements []models.Placement, model models.PayoutModel, potMinor int64, buyInMinor int64, rakeBps int, rakeCapMinor *int64) (int64, error) {
	rake := Compute(model, placements, potMinor, rakeBps, rakeCapMinor)

	payouts := make([]ledger.SettlePayout, len(placements))
	for i, p := range placements {
		payouts[i] = ledger.SettlePayout{
			AccountID:   p.AccountID,
			BuyInMinor:  buyInMinor,
			PayoutMinor: p.PayoutMinor,
		}
	}

	if err := l.Settle(ctx, matchID, houseAccountID, payouts, rake); err != nil {
		return 0, err
	}
	return rake, nil
}
