package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/flashbots/aggledger/crypto"
	"github.com/flashbots/aggledger/oracle"
)

// Address is an opaque caller identity: the owner, providers, valuation
// requesters and rate-limit keys are all addresses. The HTTP layer uses the
// hex encoding of a caller's Ed25519 public key.
type Address string

// Entry is an encrypted (value, weight) pair appended to a batch. Entries
// are immutable and ordered; an entry's index is its position in the batch.
type Entry struct {
	Value  crypto.Ciphertext `json:"value"`
	Weight crypto.Ciphertext `json:"weight"`
}

// Batch groups entries for exactly one aggregate valuation. A batch opens,
// accepts entries, closes once, and is then immutable history.
type Batch struct {
	ID     uint64 `json:"id"`
	Closed bool   `json:"closed"`
}

// RequestStatus is the readable state of a decryption context.
type RequestStatus struct {
	RequestID oracle.RequestID `json:"request_id"`
	BatchID   uint64           `json:"batch_id"`
	StateHash string           `json:"state_hash"`
	Processed bool             `json:"processed"`

	// TotalValue is the decrypted aggregate (decimal), set once processed.
	TotalValue string `json:"total_value,omitempty"`
}

// decryptionContext tracks one pending or processed decryption round trip.
type decryptionContext struct {
	requestID oracle.RequestID
	batchID   uint64
	stateHash [32]byte
	processed bool
	total     *big.Int
}

type rateState struct {
	lastSubmission time.Time
	lastValuation  time.Time
}

// Config configures a Ledger instance.
type Config struct {
	// Owner is the initial owner address.
	Owner Address

	// Cooldown is the initial per-address cooldown for submissions and
	// valuation requests.
	Cooldown time.Duration

	// Identity distinguishes this ledger's commitments from any other
	// ledger using the same scheme.
	Identity []byte

	// Scheme is the homomorphic-arithmetic capability.
	Scheme crypto.Scheme

	// Oracle is the decryption capability.
	Oracle oracle.Client

	// Events receives the ledger's event stream. Optional.
	Events EventSink

	// Clock overrides time.Now, used by tests to control cooldowns. Optional.
	Clock func() time.Time

	// Log is the structured logger. Optional.
	Log *slog.Logger
}

// Ledger is the confidential aggregation ledger. All operations are
// serialized and atomic: they validate first and mutate last, so a failed
// operation leaves no observable state change.
type Ledger struct {
	scheme   crypto.Scheme
	oracle   oracle.Client
	events   EventSink
	clock    func() time.Time
	log      *slog.Logger
	identity []byte

	mu             sync.Mutex
	owner          Address
	providers      map[Address]bool
	paused         bool
	cooldown       time.Duration
	currentBatchID uint64
	batches        map[uint64]*Batch
	entries        map[uint64][]Entry
	rates          map[Address]*rateState
	contexts       map[oracle.RequestID]*decryptionContext
}

// New creates a ledger with batch 1 open and no providers.
func New(cfg *Config) (*Ledger, error) {
	if cfg.Owner == "" {
		return nil, errors.New("owner cannot be empty")
	}
	if cfg.Scheme == nil {
		return nil, errors.New("scheme cannot be nil")
	}
	if cfg.Oracle == nil {
		return nil, errors.New("oracle client cannot be nil")
	}

	events := cfg.Events
	if events == nil {
		events = discardSink{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	l := &Ledger{
		scheme:         cfg.Scheme,
		oracle:         cfg.Oracle,
		events:         events,
		clock:          clock,
		log:            log,
		identity:       append([]byte(nil), cfg.Identity...),
		owner:          cfg.Owner,
		providers:      make(map[Address]bool),
		cooldown:       cfg.Cooldown,
		currentBatchID: 1,
		batches:        map[uint64]*Batch{1: {ID: 1}},
		entries:        make(map[uint64][]Entry),
		rates:          make(map[Address]*rateState),
		contexts:       make(map[oracle.RequestID]*decryptionContext),
	}
	return l, nil
}

// --- Access and role control -----------------------------------------------

// TransferOwnership hands the owner role to a new address. Owner-only;
// available while paused so administrative recovery stays possible.
func (l *Ledger) TransferOwnership(caller, newOwner Address) error {
	if newOwner == "" {
		return errors.New("new owner cannot be empty")
	}

	l.mu.Lock()
	if caller != l.owner {
		l.mu.Unlock()
		return ErrNotOwner
	}
	l.owner = newOwner
	l.mu.Unlock()

	l.emit(Event{Type: EventOwnershipTransferred, Address: newOwner})
	return nil
}

// AddProvider grants the provider role. Owner-only; available while paused.
func (l *Ledger) AddProvider(caller, provider Address) error {
	l.mu.Lock()
	if caller != l.owner {
		l.mu.Unlock()
		return ErrNotOwner
	}
	l.providers[provider] = true
	l.mu.Unlock()

	l.emit(Event{Type: EventProviderAdded, Address: provider})
	return nil
}

// RemoveProvider revokes the provider role. Owner-only; available while paused.
func (l *Ledger) RemoveProvider(caller, provider Address) error {
	l.mu.Lock()
	if caller != l.owner {
		l.mu.Unlock()
		return ErrNotOwner
	}
	delete(l.providers, provider)
	l.mu.Unlock()

	l.emit(Event{Type: EventProviderRemoved, Address: provider})
	return nil
}

// SetPaused toggles the pause switch. While paused, batch lifecycle,
// submission and valuation requests are blocked; administration is not.
func (l *Ledger) SetPaused(caller Address, paused bool) error {
	l.mu.Lock()
	if caller != l.owner {
		l.mu.Unlock()
		return ErrNotOwner
	}
	l.paused = paused
	l.mu.Unlock()

	evType := EventPaused
	if !paused {
		evType = EventUnpaused
	}
	l.emit(Event{Type: evType})
	return nil
}

// SetCooldown changes the per-address cooldown. Owner-only.
func (l *Ledger) SetCooldown(caller Address, cooldown time.Duration) error {
	if cooldown < 0 {
		return errors.New("cooldown cannot be negative")
	}

	l.mu.Lock()
	if caller != l.owner {
		l.mu.Unlock()
		return ErrNotOwner
	}
	l.cooldown = cooldown
	l.mu.Unlock()

	l.emit(Event{Type: EventCooldownChanged, CooldownSeconds: uint64(cooldown / time.Second)})
	return nil
}

// --- Batch lifecycle -------------------------------------------------------

// OpenBatch closes out the current id sequence with a fresh open batch.
// The current batch must already be closed; ids are never reused, so there
// is no way to reopen one. Owner-only, blocked while paused.
func (l *Ledger) OpenBatch(caller Address) (uint64, error) {
	l.mu.Lock()
	if caller != l.owner {
		l.mu.Unlock()
		return 0, ErrNotOwner
	}
	if l.paused {
		l.mu.Unlock()
		return 0, ErrPaused
	}
	if !l.batches[l.currentBatchID].Closed {
		l.mu.Unlock()
		return 0, fmt.Errorf("%w: batch %d is still open", ErrInvalidBatch, l.currentBatchID)
	}

	l.currentBatchID++
	id := l.currentBatchID
	l.batches[id] = &Batch{ID: id}
	l.mu.Unlock()

	l.emit(Event{Type: EventBatchOpened, BatchID: id})
	return id, nil
}

// CloseBatch irreversibly closes the current batch, making it eligible for
// valuation. Owner-only, blocked while paused.
func (l *Ledger) CloseBatch(caller Address) error {
	l.mu.Lock()
	if caller != l.owner {
		l.mu.Unlock()
		return ErrNotOwner
	}
	if l.paused {
		l.mu.Unlock()
		return ErrPaused
	}
	batch := l.batches[l.currentBatchID]
	if batch.Closed {
		l.mu.Unlock()
		return fmt.Errorf("%w: batch %d already closed", ErrInvalidBatch, batch.ID)
	}

	batch.Closed = true
	id := batch.ID
	l.mu.Unlock()

	l.emit(Event{Type: EventBatchClosed, BatchID: id})
	return nil
}

// --- Submission ------------------------------------------------------------

// Submit appends an encrypted (value, weight) entry to the current batch
// and returns its index. Provider-only, blocked while paused, gated by the
// caller's submission cooldown. Both handles must pass the scheme's
// well-formedness check, and the current batch must still be open.
func (l *Ledger) Submit(caller Address, value, weight crypto.Ciphertext) (uint64, error) {
	l.mu.Lock()
	if l.paused {
		l.mu.Unlock()
		return 0, ErrPaused
	}
	if !l.providers[caller] {
		l.mu.Unlock()
		return 0, ErrNotProvider
	}

	now := l.clock()
	rs := l.rates[caller]
	if rs != nil && !rs.lastSubmission.IsZero() && now.Sub(rs.lastSubmission) < l.cooldown {
		l.mu.Unlock()
		return 0, ErrCooldownActive
	}

	if !l.scheme.IsWellFormed(value) || !l.scheme.IsWellFormed(weight) {
		l.mu.Unlock()
		return 0, ErrCiphertextNotInitialized
	}

	batchID := l.currentBatchID
	if l.batches[batchID].Closed {
		l.mu.Unlock()
		return 0, ErrBatchClosed
	}

	index := uint64(len(l.entries[batchID]))
	l.entries[batchID] = append(l.entries[batchID], Entry{Value: value, Weight: weight})
	if rs == nil {
		rs = &rateState{}
		l.rates[caller] = rs
	}
	rs.lastSubmission = now
	l.mu.Unlock()

	l.emit(Event{Type: EventEntrySubmitted, Address: caller, BatchID: batchID, EntryIndex: index})
	return index, nil
}

// --- Valuation -------------------------------------------------------------

// RequestValuation starts the decryption round trip for a closed, non-empty
// batch. It recomputes the batch's aggregate ciphertext, commits to its
// serialization, registers the decryption with the oracle and stores a
// pending context keyed by the returned request id. Open to any caller,
// gated by the caller's valuation cooldown and the pause switch. Returns
// immediately; the plaintext arrives later through Finalize.
func (l *Ledger) RequestValuation(caller Address, batchID uint64) (oracle.RequestID, error) {
	l.mu.Lock()
	if l.paused {
		l.mu.Unlock()
		return 0, ErrPaused
	}

	batch, ok := l.batches[batchID]
	if !ok || !batch.Closed || len(l.entries[batchID]) == 0 {
		l.mu.Unlock()
		return 0, fmt.Errorf("%w: batch %d is not a closed, non-empty batch", ErrInvalidBatch, batchID)
	}

	now := l.clock()
	rs := l.rates[caller]
	if rs != nil && !rs.lastValuation.IsZero() && now.Sub(rs.lastValuation) < l.cooldown {
		l.mu.Unlock()
		return 0, ErrCooldownActive
	}

	serialized, err := l.serializedAggregateLocked(batchID)
	if err != nil {
		l.mu.Unlock()
		return 0, fmt.Errorf("aggregate batch %d: %w", batchID, err)
	}
	stateHash := l.commit(serialized)

	requestID, err := l.oracle.RequestDecryption([][]byte{serialized})
	if err != nil {
		l.mu.Unlock()
		return 0, fmt.Errorf("register decryption: %w", err)
	}

	l.contexts[requestID] = &decryptionContext{
		requestID: requestID,
		batchID:   batchID,
		stateHash: stateHash,
	}
	if rs == nil {
		rs = &rateState{}
		l.rates[caller] = rs
	}
	rs.lastValuation = now
	l.mu.Unlock()

	l.log.Info("Registered valuation request", "batchID", batchID, "requestID", requestID)
	l.emit(Event{
		Type:      EventValuationRequested,
		Address:   caller,
		BatchID:   batchID,
		RequestID: requestID,
		StateHash: fmt.Sprintf("%x", stateHash),
	})
	return requestID, nil
}

// Finalize completes a decryption round trip. Invoked on behalf of the
// decryption oracle, not by end users; the HTTP layer authenticates the
// oracle's identity before calling this.
//
// The call aborts without touching the context if the request is unknown,
// already processed (replay), the batch's recomputed aggregate no longer
// matches the commitment captured at request time, or the proof does not
// bind the cleartext to the request. A context that never receives a valid
// Finalize stays pending indefinitely.
func (l *Ledger) Finalize(requestID oracle.RequestID, cleartext, proof []byte) (*big.Int, error) {
	l.mu.Lock()
	ctx, ok := l.contexts[requestID]
	if !ok {
		l.mu.Unlock()
		return nil, ErrUnknownRequest
	}
	if ctx.processed {
		l.mu.Unlock()
		return nil, ErrReplay
	}

	serialized, err := l.serializedAggregateLocked(ctx.batchID)
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("aggregate batch %d: %w", ctx.batchID, err)
	}
	if l.commit(serialized) != ctx.stateHash {
		l.mu.Unlock()
		return nil, ErrStateMismatch
	}

	if !l.oracle.VerifyProof(requestID, cleartext, proof) {
		l.mu.Unlock()
		return nil, ErrInvalidProof
	}

	values := oracle.DecodeCleartext(cleartext)
	if len(values) != 1 || len(cleartext) != oracle.ValueSize {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: malformed cleartext", ErrInvalidProof)
	}
	total := values[0]

	ctx.processed = true
	ctx.total = total
	batchID := ctx.batchID
	l.mu.Unlock()

	l.emit(Event{
		Type:       EventValuationCompleted,
		BatchID:    batchID,
		RequestID:  requestID,
		TotalValue: total.String(),
	})
	return new(big.Int).Set(total), nil
}

// --- Reads -----------------------------------------------------------------

// Owner returns the current owner address.
func (l *Ledger) Owner() Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}

// IsProvider reports whether the address holds the provider role.
func (l *Ledger) IsProvider(a Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.providers[a]
}

// Paused reports whether the pause switch is active.
func (l *Ledger) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// Cooldown returns the per-address cooldown.
func (l *Ledger) Cooldown() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cooldown
}

// LastSubmission returns when the address last submitted an entry, zero if
// never.
func (l *Ledger) LastSubmission(a Address) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rs := l.rates[a]; rs != nil {
		return rs.lastSubmission
	}
	return time.Time{}
}

// LastValuationRequest returns when the address last requested a valuation,
// zero if never.
func (l *Ledger) LastValuationRequest(a Address) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rs := l.rates[a]; rs != nil {
		return rs.lastValuation
	}
	return time.Time{}
}

// CurrentBatchID returns the id of the batch accepting submissions (which
// may already be closed).
func (l *Ledger) CurrentBatchID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentBatchID
}

// BatchInfo returns a batch's lifecycle state.
func (l *Ledger) BatchInfo(batchID uint64) (Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch, ok := l.batches[batchID]
	if !ok {
		return Batch{}, fmt.Errorf("%w: batch %d does not exist", ErrInvalidBatch, batchID)
	}
	return *batch, nil
}

// Entries returns a copy of a batch's entry list in submission order.
func (l *Ledger) Entries(batchID uint64) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.batches[batchID]; !ok {
		return nil, fmt.Errorf("%w: batch %d does not exist", ErrInvalidBatch, batchID)
	}
	return slices.Clone(l.entries[batchID]), nil
}

// Request returns the decryption context for a request id.
func (l *Ledger) Request(requestID oracle.RequestID) (RequestStatus, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ctx, ok := l.contexts[requestID]
	if !ok {
		return RequestStatus{}, false
	}
	return statusFromContext(ctx), true
}

// PendingRequests lists unprocessed request ids in ascending order. This is
// a read-only view: nothing expires or retries a pending request.
func (l *Ledger) PendingRequests() []oracle.RequestID {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]oracle.RequestID, 0, len(l.contexts))
	for id, ctx := range l.contexts {
		if !ctx.processed {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// --- Internals -------------------------------------------------------------

// serializedAggregateLocked folds the batch's entries in submission order:
// total = sum(value_i * weight_i), starting from the scheme's zero. The
// fold is deterministic, so recomputing over an unchanged entry set yields
// the same serialization at request time and at finalization time.
func (l *Ledger) serializedAggregateLocked(batchID uint64) ([]byte, error) {
	total := l.scheme.Zero()
	for i, e := range l.entries[batchID] {
		term, err := l.scheme.Mul(e.Value, e.Weight)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		total, err = l.scheme.Add(total, term)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return l.scheme.Serialize(total)
}

// commit binds a serialized aggregate to this ledger's identity.
func (l *Ledger) commit(serialized []byte) [32]byte {
	h := sha3.New256()
	h.Write([]byte("aggledger/state-commitment"))
	h.Write(l.identity)
	h.Write(serialized)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (l *Ledger) emit(ev Event) {
	ev.Time = l.clock()
	l.events.Emit(ev)
}

func statusFromContext(ctx *decryptionContext) RequestStatus {
	status := RequestStatus{
		RequestID: ctx.requestID,
		BatchID:   ctx.batchID,
		StateHash: fmt.Sprintf("%x", ctx.stateHash),
		Processed: ctx.processed,
	}
	if ctx.total != nil {
		status.TotalValue = ctx.total.String()
	}
	return status
}
