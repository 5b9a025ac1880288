package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"example.com/fitquest/services/progression/internal/domains"
)

func TestLevelForXPCurve(t *testing.T) {
	// Level n requires 100*n + 50*n*(n-1)/2 additional total XP
	cases := []struct {
		totalXP int
		level   int
	}{
		{-50, 1},
		{0, 1},
		{99, 1},
		{100, 2},
		{249, 2},
		{250, 3},
		{449, 3},
		{450, 4},
	}

	for _, tc := range cases {
		require.Equal(t, tc.level, LevelForXP(tc.totalXP), "totalXP=%d", tc.totalXP)
	}
}

func TestLevelForXPIsMonotonic(t *testing.T) {
	previous := 1
	for xp := 0; xp <= 10000; xp += 50 {
		level := LevelForXP(xp)
		require.GreaterOrEqual(t, level, previous)
		previous = level
	}
}

// stubTxRunner returns the scripted errors in order without touching a
// database; fn itself is never invoked.
func stubTxRunner(calls *int, outcomes ...error) func(context.Context, func(tx *gorm.DB) error) error {
	return func(ctx context.Context, fn func(tx *gorm.DB) error) error {
		err := outcomes[*calls]
		*calls++
		return err
	}
}

func racedService(calls *int, outcomes ...error) *Service {
	s := NewService(nil, nil, nil)
	s.runTx = stubTxRunner(calls, outcomes...)
	return s
}

func TestAwardRetriesOnceWhenTokenRaces(t *testing.T) {
	// A concurrent call committed the same token first; the retry resolves
	// to the replay branch instead of surfacing a failure
	calls := 0
	s := racedService(&calls, errAwardRaced, nil)

	_, err := s.Award(context.Background(), AwardRequest{
		Token:  "1756500000000-abcd1234",
		UserID: uuid.New(),
		Amount: 80,
	})

	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestAwardSecondRaceSurfacesLedgerFailure(t *testing.T) {
	calls := 0
	s := racedService(&calls, errAwardRaced, errAwardRaced)

	_, err := s.Award(context.Background(), AwardRequest{
		Token:  "1756500000000-abcd1234",
		UserID: uuid.New(),
		Amount: 80,
	})

	require.ErrorIs(t, err, domains.ErrLedgerFailure)
	require.Equal(t, 2, calls)
}

func TestAwardRequiresToken(t *testing.T) {
	calls := 0
	s := racedService(&calls, nil)

	_, err := s.Award(context.Background(), AwardRequest{UserID: uuid.New(), Amount: 10})

	require.ErrorIs(t, err, domains.ErrLedgerFailure)
	require.Zero(t, calls)
}
