package messaging

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"example.com/fitquest/services/progression/internal/domains"
)

func TestPermanentFailureClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"unknown domain", errors.Wrap(domains.ErrUnknownDomain, "social-domain"), true},
		{"invalid payload", errors.Wrap(domains.ErrInvalidPayload, "task payload missing"), true},
		{"unsupported action", errors.Wrap(domains.ErrUnsupportedAction, "updated"), true},
		// A burned token never clears on redelivery; without this the
		// message bounces off the unique index until the delivery cap
		{"duplicate token", errors.Wrapf(domains.ErrDuplicateToken, "token %q", "1756500000000-abcd1234"), true},
		{"ledger unreachable", errors.Wrap(domains.ErrLedgerFailure, "timeout"), false},
		{"log write failed", errors.Wrap(domains.ErrPersistenceFailure, "connection reset"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.permanent, permanent(tc.err))
		})
	}
}
