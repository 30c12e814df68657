package settlement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/wagerarena/internal/ledger"
	"github.com/rawblock/wagerarena/pkg/models"
)

func sumPayouts(placements []models.Placement) int64 {
	var sum int64
	for _, p := range placements {
		sum += p.PayoutMinor
	}
	return sum
}

func TestRakeCapsAtRakeCapMinor(t *testing.T) {
	cap := int64(50)
	assert.Equal(t, int64(50), Rake(100000, 1000, &cap)) // 10% of 100000 = 10000, capped to 50
	assert.Equal(t, int64(10000), Rake(100000, 1000, nil))
}

func TestWinnerTakeAllGivesEverythingToRankOne(t *testing.T) {
	placements := []models.Placement{{AccountID: "a"}, {AccountID: "b"}, {AccountID: "c"}}
	rake := Compute(models.PayoutWinnerTakeAll, placements, 1000, 0, nil)

	assert.Equal(t, int64(0), rake)
	assert.Equal(t, int64(1000), placements[0].PayoutMinor)
	assert.Equal(t, int64(0), placements[1].PayoutMinor)
	assert.Equal(t, int64(0), placements[2].PayoutMinor)
}

func TestTop3LadderSumsExactlyToPot(t *testing.T) {
	placements := []models.Placement{{AccountID: "a"}, {AccountID: "b"}, {AccountID: "c"}, {AccountID: "d"}}
	potMinor := int64(10007) // deliberately not evenly divisible
	rake := Compute(models.PayoutTop3Ladder, placements, potMinor, 0, nil)

	assert.Equal(t, potMinor, sumPayouts(placements)+rake)
	assert.Equal(t, int64(0), placements[3].PayoutMinor)
	assert.Greater(t, placements[0].PayoutMinor, placements[1].PayoutMinor)
	assert.Greater(t, placements[1].PayoutMinor, placements[2].PayoutMinor)
}

func TestProportionalSumsExactlyToPotAndScalesWithMass(t *testing.T) {
	placements := []models.Placement{
		{AccountID: "a", FinalMass: 300},
		{AccountID: "b", FinalMass: 200},
		{AccountID: "c", FinalMass: 100},
	}
	potMinor := int64(999)
	rake := Compute(models.PayoutProportional, placements, potMinor, 0, nil)

	assert.Equal(t, potMinor, sumPayouts(placements)+rake)
	assert.Greater(t, placements[0].PayoutMinor, placements[1].PayoutMinor)
	assert.Greater(t, placements[1].PayoutMinor, placements[2].PayoutMinor)
}

func TestProportionalDegenerateToEqualSplitWhenAllMassesZero(t *testing.T) {
	placements := []models.Placement{
		{AccountID: "a", FinalMass: 0},
		{AccountID: "b", FinalMass: 0},
		{AccountID: "c", FinalMass: 0},
	}
	potMinor := int64(100)
	rake := Compute(models.PayoutProportional, placements, potMinor, 0, nil)

	assert.Equal(t, potMinor, sumPayouts(placements)+rake)
	// 100/3 = 33 each, residue 1 goes to rank 1
	assert.Equal(t, int64(34), placements[0].PayoutMinor)
	assert.Equal(t, int64(33), placements[1].PayoutMinor)
	assert.Equal(t, int64(33), placements[2].PayoutMinor)
}

func TestComputeWithRakeSumsExactlyToPot(t *testing.T) {
	placements := []models.Placement{
		{AccountID: "a", FinalMass: 50},
		{AccountID: "b", FinalMass: 50},
	}
	potMinor := int64(10000)
	rake := Compute(models.PayoutProportional, placements, potMinor, 250, nil) // 2.5% rake
	assert.Equal(t, int64(250), rake)
	assert.Equal(t, potMinor, sumPayouts(placements)+rake)
}

type fakeLedger struct {
	called  bool
	payouts []ledger.SettlePayout
	rake    int64
}

func (f *fakeLedger) Settle(ctx context.Context, matchID, houseAccountID string, payouts []ledger.SettlePayout, rakeMinor int64) error {
	f.called = true
	f.payouts = payouts
	f.rake = rakeMinor
	return nil
}

func TestSettleAppliesComputedPayoutsThroughLedger(t *testing.T) {
	fl := &fakeLedger{}
	placements := []models.Placement{{AccountID: "a"}, {AccountID: "b"}}

	rake, err := Settle(context.Background(), fl, "match-1", "house", placements, models.PayoutWinnerTakeAll, 2000, 1000, 500, nil)
	require.NoError(t, err)

	assert.True(t, fl.called)
	assert.Equal(t, int64(100), rake) // 5% of 2000
	require.Len(t, fl.payouts, 2)
	assert.Equal(t, int64(1900), fl.payouts[0].PayoutMinor)
	assert.Equal(t, int64(1000), fl.payouts[0].BuyInMinor)
}
