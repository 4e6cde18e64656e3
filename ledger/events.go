package ledger

import (
	"log/slog"
	"time"

	"github.com/flashbots/aggledger/oracle"
)

// EventType names a ledger event.
type EventType string

const (
	EventOwnershipTransferred EventType = "ownership_transferred"
	EventProviderAdded        EventType = "provider_added"
	EventProviderRemoved      EventType = "provider_removed"
	EventPaused               EventType = "paused"
	EventUnpaused             EventType = "unpaused"
	EventCooldownChanged      EventType = "cooldown_changed"
	EventBatchOpened          EventType = "batch_opened"
	EventBatchClosed          EventType = "batch_closed"
	EventEntrySubmitted       EventType = "entry_submitted"
	EventValuationRequested   EventType = "valuation_requested"
	EventValuationCompleted   EventType = "valuation_completed"
)

// Event is an append-only record of a state transition, consumed by
// external UIs and indexers. Fields not relevant to a given type are left
// at their zero value and omitted from the JSON encoding.
type Event struct {
	Type EventType `json:"type"`
	Time time.Time `json:"time"`

	// Address is the acting or affected party: the new owner, the managed
	// provider, or the submitting/requesting caller.
	Address Address `json:"address,omitempty"`

	BatchID    uint64           `json:"batch_id,omitempty"`
	EntryIndex uint64           `json:"entry_index,omitempty"`
	RequestID  oracle.RequestID `json:"request_id,omitempty"`

	// StateHash is the hex commitment over the aggregate at request time.
	StateHash string `json:"state_hash,omitempty"`

	// TotalValue is the decrypted aggregate as a decimal string.
	TotalValue string `json:"total_value,omitempty"`

	CooldownSeconds uint64 `json:"cooldown_seconds,omitempty"`
}

// EventSink consumes ledger events. Sinks are invoked synchronously after
// the emitting operation has committed, in emission order.
type EventSink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(ev Event)

// Emit implements EventSink.
func (f SinkFunc) Emit(ev Event) { f(ev) }

// NewLogSink returns a sink that records events through a structured logger.
func NewLogSink(log *slog.Logger) EventSink {
	return SinkFunc(func(ev Event) {
		log.Info("ledger event",
			"type", ev.Type,
			"address", ev.Address,
			"batchID", ev.BatchID,
			"requestID", ev.RequestID,
		)
	})
}

type discardSink struct{}

func (discardSink) Emit(Event) {}
