package ledger

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flashbots/aggledger/crypto"
	"github.com/flashbots/aggledger/oracle"
)

const (
	owner    = Address("owner")
	provider = Address("provider")
	stranger = Address("stranger")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	ledger *Ledger
	scheme *crypto.LocalScheme
	oracle *oracle.LocalOracle
	clock  *fakeClock
	events []Event
}

func newTestEnv(t *testing.T, cooldown time.Duration) *testEnv {
	t.Helper()

	scheme := crypto.NewLocalScheme([]byte("test-secret"))
	_, signingKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	orc, err := oracle.NewLocalOracle(signingKey, scheme)
	require.NoError(t, err)

	env := &testEnv{scheme: scheme, oracle: orc, clock: newFakeClock()}
	l, err := New(&Config{
		Owner:    owner,
		Cooldown: cooldown,
		Identity: []byte("test-ledger"),
		Scheme:   scheme,
		Oracle:   orc,
		Clock:    env.clock.Now,
		Events:   SinkFunc(func(ev Event) { env.events = append(env.events, ev) }),
	})
	require.NoError(t, err)
	env.ledger = l

	orc.SetCallback(func(id oracle.RequestID, cleartext, proof []byte) error {
		_, err := l.Finalize(id, cleartext, proof)
		return err
	})

	require.NoError(t, l.AddProvider(owner, provider))
	return env
}

func (e *testEnv) encrypt(t *testing.T, v int64) crypto.Ciphertext {
	t.Helper()
	c, err := e.scheme.Encrypt(big.NewInt(v))
	require.NoError(t, err)
	return c
}

// submit appends (value, weight) as the provider, advancing the clock past
// the cooldown first.
func (e *testEnv) submit(t *testing.T, value, weight int64) uint64 {
	t.Helper()
	e.clock.Advance(e.ledger.Cooldown() + time.Second)
	index, err := e.ledger.Submit(provider, e.encrypt(t, value), e.encrypt(t, weight))
	require.NoError(t, err)
	return index
}

func TestGenesisState(t *testing.T) {
	env := newTestEnv(t, 0)
	l := env.ledger

	require.Equal(t, owner, l.Owner())
	require.Equal(t, uint64(1), l.CurrentBatchID())
	require.False(t, l.Paused())

	batch, err := l.BatchInfo(1)
	require.NoError(t, err)
	require.False(t, batch.Closed)

	_, err = l.BatchInfo(99)
	require.ErrorIs(t, err, ErrInvalidBatch)
}

func TestBatchLifecycle(t *testing.T) {
	env := newTestEnv(t, 0)
	l := env.ledger

	// Opening over a still-open batch is a lifecycle violation.
	_, err := l.OpenBatch(owner)
	require.ErrorIs(t, err, ErrInvalidBatch)

	require.NoError(t, l.CloseBatch(owner))
	require.ErrorIs(t, l.CloseBatch(owner), ErrInvalidBatch)

	id, err := l.OpenBatch(owner)
	require.NoError(t, err)
	require.Equal(t, uint64(2), id)
	require.Equal(t, uint64(2), l.CurrentBatchID())

	// Batch 1 stays closed forever; ids are never reused.
	batch, err := l.BatchInfo(1)
	require.NoError(t, err)
	require.True(t, batch.Closed)
}

func TestOwnerOnlyOperations(t *testing.T) {
	env := newTestEnv(t, 0)
	l := env.ledger

	require.ErrorIs(t, l.CloseBatch(stranger), ErrNotOwner)
	_, err := l.OpenBatch(stranger)
	require.ErrorIs(t, err, ErrNotOwner)
	require.ErrorIs(t, l.AddProvider(stranger, stranger), ErrNotOwner)
	require.ErrorIs(t, l.RemoveProvider(stranger, provider), ErrNotOwner)
	require.ErrorIs(t, l.SetPaused(stranger, true), ErrNotOwner)
	require.ErrorIs(t, l.SetCooldown(stranger, time.Minute), ErrNotOwner)
	require.ErrorIs(t, l.TransferOwnership(stranger, stranger), ErrNotOwner)
}

func TestTransferOwnership(t *testing.T) {
	env := newTestEnv(t, 0)
	l := env.ledger

	newOwner := Address("successor")
	require.NoError(t, l.TransferOwnership(owner, newOwner))
	require.Equal(t, newOwner, l.Owner())

	// The old owner loses its powers immediately.
	require.ErrorIs(t, l.CloseBatch(owner), ErrNotOwner)
	require.NoError(t, l.CloseBatch(newOwner))
}

func TestProviderManagement(t *testing.T) {
	env := newTestEnv(t, 0)
	l := env.ledger

	_, err := l.Submit(stranger, env.encrypt(t, 1), env.encrypt(t, 1))
	require.ErrorIs(t, err, ErrNotProvider)

	require.NoError(t, l.AddProvider(owner, stranger))
	require.True(t, l.IsProvider(stranger))
	_, err = l.Submit(stranger, env.encrypt(t, 1), env.encrypt(t, 1))
	require.NoError(t, err)

	require.NoError(t, l.RemoveProvider(owner, stranger))
	require.False(t, l.IsProvider(stranger))
	_, err = l.Submit(stranger, env.encrypt(t, 1), env.encrypt(t, 1))
	require.ErrorIs(t, err, ErrNotProvider)
}

func TestSubmitAssignsSequentialIndices(t *testing.T) {
	env := newTestEnv(t, 0)

	for i := 0; i < 3; i++ {
		require.Equal(t, uint64(i), env.submit(t, int64(i+1), 1))
	}

	entries, err := env.ledger.Entries(1)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestSubmitIntoClosedBatch(t *testing.T) {
	env := newTestEnv(t, 0)
	l := env.ledger

	require.NoError(t, l.CloseBatch(owner))
	_, err := l.Submit(provider, env.encrypt(t, 1), env.encrypt(t, 1))
	require.ErrorIs(t, err, ErrBatchClosed)

	// A fresh batch accepts submissions again.
	_, err = l.OpenBatch(owner)
	require.NoError(t, err)
	_, err = l.Submit(provider, env.encrypt(t, 1), env.encrypt(t, 1))
	require.NoError(t, err)
}

func TestSubmitRejectsUninitializedHandles(t *testing.T) {
	env := newTestEnv(t, 0)

	bogus := crypto.Ciphertext(make([]byte, crypto.HandleSize))
	_, err := env.ledger.Submit(provider, bogus, env.encrypt(t, 1))
	require.ErrorIs(t, err, ErrCiphertextNotInitialized)
	_, err = env.ledger.Submit(provider, env.encrypt(t, 1), bogus)
	require.ErrorIs(t, err, ErrCiphertextNotInitialized)
}

func TestSubmissionCooldown(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	l := env.ledger

	_, err := l.Submit(provider, env.encrypt(t, 1), env.encrypt(t, 1))
	require.NoError(t, err)

	env.clock.Advance(30 * time.Second)
	_, err = l.Submit(provider, env.encrypt(t, 2), env.encrypt(t, 1))
	require.ErrorIs(t, err, ErrCooldownActive)

	env.clock.Advance(31 * time.Second)
	_, err = l.Submit(provider, env.encrypt(t, 2), env.encrypt(t, 1))
	require.NoError(t, err)
}

func TestCooldownsTrackedIndependently(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	l := env.ledger

	_, err := l.Submit(provider, env.encrypt(t, 3), env.encrypt(t, 2))
	require.NoError(t, err)
	require.NoError(t, l.CloseBatch(owner))

	// The submission cooldown does not block a valuation request from the
	// same address.
	_, err = l.RequestValuation(provider, 1)
	require.NoError(t, err)

	_, err = l.RequestValuation(provider, 1)
	require.ErrorIs(t, err, ErrCooldownActive)
}

func TestPauseGating(t *testing.T) {
	env := newTestEnv(t, 0)
	l := env.ledger

	require.NoError(t, l.SetPaused(owner, true))
	require.True(t, l.Paused())

	_, err := l.Submit(provider, env.encrypt(t, 1), env.encrypt(t, 1))
	require.ErrorIs(t, err, ErrPaused)
	require.ErrorIs(t, l.CloseBatch(owner), ErrPaused)
	_, err = l.OpenBatch(owner)
	require.ErrorIs(t, err, ErrPaused)
	_, err = l.RequestValuation(stranger, 1)
	require.ErrorIs(t, err, ErrPaused)

	// Administration stays available for recovery.
	require.NoError(t, l.AddProvider(owner, stranger))
	require.NoError(t, l.SetCooldown(owner, time.Minute))
	require.NoError(t, l.TransferOwnership(owner, Address("successor")))

	require.NoError(t, l.SetPaused(Address("successor"), false))
	_, err = l.Submit(provider, env.encrypt(t, 1), env.encrypt(t, 1))
	require.NoError(t, err)
}

func TestRequestValuationBatchValidation(t *testing.T) {
	env := newTestEnv(t, 0)
	l := env.ledger

	env.submit(t, 3, 2)

	// Still open.
	_, err := l.RequestValuation(stranger, 1)
	require.ErrorIs(t, err, ErrInvalidBatch)

	// Nonexistent.
	_, err = l.RequestValuation(stranger, 99)
	require.ErrorIs(t, err, ErrInvalidBatch)

	// Closed but empty.
	require.NoError(t, l.CloseBatch(owner))
	id, err := l.OpenBatch(owner)
	require.NoError(t, err)
	require.NoError(t, l.CloseBatch(owner))
	_, err = l.RequestValuation(stranger, id)
	require.ErrorIs(t, err, ErrInvalidBatch)
}

func TestValuationRoundTrip(t *testing.T) {
	env := newTestEnv(t, 0)
	l := env.ledger

	env.submit(t, 3, 2)
	env.submit(t, 5, 1)
	require.NoError(t, l.CloseBatch(owner))

	requestID, err := l.RequestValuation(stranger, 1)
	require.NoError(t, err)
	require.Equal(t, []oracle.RequestID{requestID}, l.PendingRequests())

	status, ok := l.Request(requestID)
	require.True(t, ok)
	require.False(t, status.Processed)
	require.Equal(t, uint64(1), status.BatchID)
	require.NotEmpty(t, status.StateHash)

	require.NoError(t, env.oracle.Deliver(requestID))

	// total = 3*2 + 5*1
	status, ok = l.Request(requestID)
	require.True(t, ok)
	require.True(t, status.Processed)
	require.Equal(t, "11", status.TotalValue)
	require.Empty(t, l.PendingRequests())
}

func TestFinalizeUnknownAndReplay(t *testing.T) {
	env := newTestEnv(t, 0)
	l := env.ledger

	_, err := l.Finalize(42, nil, nil)
	require.ErrorIs(t, err, ErrUnknownRequest)

	env.submit(t, 7, 3)
	require.NoError(t, l.CloseBatch(owner))
	requestID, err := l.RequestValuation(stranger, 1)
	require.NoError(t, err)

	var cleartext, proof []byte
	env.oracle.SetCallback(func(id oracle.RequestID, ct, p []byte) error {
		cleartext, proof = ct, p
		_, err := l.Finalize(id, ct, p)
		return err
	})
	require.NoError(t, env.oracle.Deliver(requestID))

	// A second delivery of the same valid result must be rejected.
	_, err = l.Finalize(requestID, cleartext, proof)
	require.ErrorIs(t, err, ErrReplay)

	status, ok := l.Request(requestID)
	require.True(t, ok)
	require.Equal(t, "21", status.TotalValue)
}

func TestFinalizeStateMismatch(t *testing.T) {
	env := newTestEnv(t, 0)
	l := env.ledger

	env.submit(t, 3, 2)
	require.NoError(t, l.CloseBatch(owner))
	requestID, err := l.RequestValuation(stranger, 1)
	require.NoError(t, err)

	// Corrupt the committed entry set behind the ledger's back. No public
	// operation can do this to a closed batch; the commitment check is the
	// backstop if one ever could.
	l.mu.Lock()
	l.entries[1] = append(l.entries[1], Entry{
		Value:  env.encrypt(t, 100),
		Weight: env.encrypt(t, 1),
	})
	l.mu.Unlock()

	err = env.oracle.Deliver(requestID)
	require.ErrorIs(t, err, ErrStateMismatch)

	// The context stays pending and untouched.
	status, ok := l.Request(requestID)
	require.True(t, ok)
	require.False(t, status.Processed)
	require.Equal(t, 1, env.oracle.PendingCount())
}

func TestFinalizeInvalidProof(t *testing.T) {
	env := newTestEnv(t, 0)
	l := env.ledger

	env.submit(t, 4, 5)
	require.NoError(t, l.CloseBatch(owner))
	requestID, err := l.RequestValuation(stranger, 1)
	require.NoError(t, err)

	var cleartext, proof []byte
	env.oracle.SetCallback(func(id oracle.RequestID, ct, p []byte) error {
		cleartext, proof = ct, p
		return errors.New("captured")
	})
	require.Error(t, env.oracle.Deliver(requestID))

	// Tampered proof.
	badProof := append([]byte(nil), proof...)
	badProof[0] ^= 0xff
	_, err = l.Finalize(requestID, cleartext, badProof)
	require.ErrorIs(t, err, ErrInvalidProof)

	// Tampered cleartext under the original proof.
	badCleartext := append([]byte(nil), cleartext...)
	badCleartext[len(badCleartext)-1] ^= 0x01
	_, err = l.Finalize(requestID, badCleartext, proof)
	require.ErrorIs(t, err, ErrInvalidProof)

	// The genuine result still finalizes afterwards.
	total, err := l.Finalize(requestID, cleartext, proof)
	require.NoError(t, err)
	require.Equal(t, int64(20), total.Int64())
}

func TestConcurrentValuationRequests(t *testing.T) {
	env := newTestEnv(t, 0)
	l := env.ledger

	env.submit(t, 2, 3)
	require.NoError(t, l.CloseBatch(owner))

	// Two independent requesters against the same closed batch.
	id1, err := l.RequestValuation(Address("alice"), 1)
	require.NoError(t, err)
	id2, err := l.RequestValuation(Address("bob"), 1)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
	require.Equal(t, []oracle.RequestID{id1, id2}, l.PendingRequests())

	require.NoError(t, env.oracle.DeliverAll())

	for _, id := range []oracle.RequestID{id1, id2} {
		status, ok := l.Request(id)
		require.True(t, ok)
		require.True(t, status.Processed)
		require.Equal(t, "6", status.TotalValue)
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, 0)
	l := env.ledger

	env.events = nil
	env.submit(t, 3, 2)
	require.NoError(t, l.CloseBatch(owner))
	requestID, err := l.RequestValuation(stranger, 1)
	require.NoError(t, err)
	require.NoError(t, env.oracle.Deliver(requestID))

	types := make([]EventType, 0, len(env.events))
	for _, ev := range env.events {
		types = append(types, ev.Type)
	}
	require.Equal(t, []EventType{
		EventEntrySubmitted,
		EventBatchClosed,
		EventValuationRequested,
		EventValuationCompleted,
	}, types)

	completed := env.events[len(env.events)-1]
	require.Equal(t, "6", completed.TotalValue)
	require.Equal(t, requestID, completed.RequestID)
}

func TestNewValidation(t *testing.T) {
	scheme := crypto.NewLocalScheme([]byte("s"))
	_, signingKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	orc, err := oracle.NewLocalOracle(signingKey, scheme)
	require.NoError(t, err)

	_, err = New(&Config{Scheme: scheme, Oracle: orc})
	require.Error(t, err)
	_, err = New(&Config{Owner: owner, Oracle: orc})
	require.Error(t, err)
	_, err = New(&Config{Owner: owner, Scheme: scheme})
	require.Error(t, err)
}
