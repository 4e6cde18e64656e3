package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashbots/aggledger/ledger"
	"github.com/flashbots/aggledger/testutil"
)

func TestLedgerLifecycleThroughPublicAPI(t *testing.T) {
	env := testutil.NewTestLedger(t, testutil.WithCooldown(time.Minute))
	l := env.Ledger

	provider := ledger.Address("provider")
	require.NoError(t, l.AddProvider("owner", provider))

	_, err := l.Submit(provider, env.MustEncrypt(t, 10), env.MustEncrypt(t, 4))
	require.NoError(t, err)

	// Cooldown gates the second submission until the clock advances.
	_, err = l.Submit(provider, env.MustEncrypt(t, 7), env.MustEncrypt(t, 2))
	require.ErrorIs(t, err, ledger.ErrCooldownActive)
	env.Clock.Advance(time.Minute + time.Second)
	_, err = l.Submit(provider, env.MustEncrypt(t, 7), env.MustEncrypt(t, 2))
	require.NoError(t, err)

	require.NoError(t, l.CloseBatch("owner"))

	requestID, err := l.RequestValuation("anyone", 1)
	require.NoError(t, err)
	require.NoError(t, env.Oracle.Deliver(requestID))

	// total = 10*4 + 7*2
	status, ok := l.Request(requestID)
	require.True(t, ok)
	assert.Equal(t, "54", status.TotalValue)

	var seen []ledger.EventType
	for _, ev := range env.Events.Events() {
		seen = append(seen, ev.Type)
	}
	assert.Contains(t, seen, ledger.EventBatchClosed)
	assert.Contains(t, seen, ledger.EventValuationCompleted)
}
