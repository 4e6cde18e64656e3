package testutil

import (
	"crypto/rand"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flashbots/aggledger/crypto"
	"github.com/flashbots/aggledger/ledger"
	"github.com/flashbots/aggledger/oracle"
)

// GenerateRandomBytes returns length random bytes.
func GenerateRandomBytes(length int) ([]byte, error) {
	bytes := make([]byte, length)
	_, err := rand.Read(bytes)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}

// GenerateTestKeyPair generates an Ed25519 key pair for tests.
func GenerateTestKeyPair() (crypto.PublicKey, crypto.PrivateKey, error) {
	return crypto.GenerateKeyPair()
}

// Clock is a manually advanced clock for testing cooldowns.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock at a fixed starting time.
func NewClock() *Clock {
	return &Clock{now: time.Unix(1700000000, 0)}
}

// Now returns the clock's current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// RecordingSink collects emitted events for assertions.
type RecordingSink struct {
	mu     sync.Mutex
	events []ledger.Event
}

// Emit implements ledger.EventSink.
func (s *RecordingSink) Emit(ev ledger.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (s *RecordingSink) Events() []ledger.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.Event(nil), s.events...)
}

// Reset clears the recorded events.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

// TestLedger is a fully wired in-process ledger environment.
type TestLedger struct {
	Ledger *ledger.Ledger
	Scheme *crypto.LocalScheme
	Oracle *oracle.LocalOracle
	Clock  *Clock
	Events *RecordingSink

	OracleKey crypto.PrivateKey
}

// LedgerOption customizes the test ledger configuration.
type LedgerOption func(*ledger.Config)

// WithOwner sets the owner address.
func WithOwner(owner ledger.Address) LedgerOption {
	return func(cfg *ledger.Config) {
		cfg.Owner = owner
	}
}

// WithCooldown sets the per-address cooldown.
func WithCooldown(cooldown time.Duration) LedgerOption {
	return func(cfg *ledger.Config) {
		cfg.Cooldown = cooldown
	}
}

// WithIdentity sets the ledger identity bound into commitments.
func WithIdentity(identity []byte) LedgerOption {
	return func(cfg *ledger.Config) {
		cfg.Identity = identity
	}
}

// NewTestLedger creates a ledger wired to a local scheme and oracle, a
// controllable clock and a recording event sink. The oracle's callback is
// connected to the ledger's finalization.
func NewTestLedger(t *testing.T, options ...LedgerOption) *TestLedger {
	t.Helper()

	scheme := crypto.NewLocalScheme([]byte("testutil-secret"))
	_, oracleKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	orc, err := oracle.NewLocalOracle(oracleKey, scheme)
	require.NoError(t, err)

	clock := NewClock()
	events := &RecordingSink{}

	cfg := &ledger.Config{
		Owner:    "owner",
		Identity: []byte("testutil-ledger"),
		Scheme:   scheme,
		Oracle:   orc,
		Clock:    clock.Now,
		Events:   events,
	}
	for _, option := range options {
		option(cfg)
	}

	l, err := ledger.New(cfg)
	require.NoError(t, err)

	orc.SetCallback(func(id oracle.RequestID, cleartext, proof []byte) error {
		_, err := l.Finalize(id, cleartext, proof)
		return err
	})

	return &TestLedger{
		Ledger:    l,
		Scheme:    scheme,
		Oracle:    orc,
		Clock:     clock,
		Events:    events,
		OracleKey: oracleKey,
	}
}

// MustEncrypt encrypts a plaintext value, failing the test on error.
func (e *TestLedger) MustEncrypt(t *testing.T, v int64) crypto.Ciphertext {
	t.Helper()
	c, err := e.Scheme.Encrypt(big.NewInt(v))
	require.NoError(t, err)
	return c
}

// SignedRequest wraps an object in a signed envelope, failing the test on
// error.
func SignedRequest[T any](t *testing.T, key crypto.PrivateKey, obj *T) *crypto.Signed[T] {
	t.Helper()
	signed, err := crypto.NewSigned(key, obj)
	require.NoError(t, err)
	return signed
}
