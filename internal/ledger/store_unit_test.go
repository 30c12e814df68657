package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rawblock/wagerarena/pkg/models"
)

func TestNewCompletedEntrySetsIdempotencyKeyOnlyWhenNonEmpty(t *testing.T) {
	withKey := newCompletedEntry("id1", "acct", nil, models.KindDeposit, 500, "ref", "key-1")
	require := assert.New(t)
	require.NotNil(withKey.IdempotencyKey)
	require.Equal("key-1", *withKey.IdempotencyKey)
	require.Equal(models.StatusCompleted, withKey.Status)

	withoutKey := newCompletedEntry("id2", "acct", nil, models.KindDeposit, 500, "ref", "")
	require.Nil(withoutKey.IdempotencyKey)
}

func TestNewCompletedEntryCarriesMatchID(t *testing.T) {
	matchID := "match-1"
	e := newCompletedEntry("id3", "acct", &matchID, models.KindPayout, 1000, "settle", "")
	assert.Equal(t, &matchID, e.MatchID)
	assert.Equal(t, int64(1000), e.DeltaMinor)
}
