package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/flashbots/aggledger/ledger"
	"github.com/flashbots/aggledger/oracle"
)

// EventStore persists the ledger's event stream for indexers and UIs.
type EventStore interface {
	SaveEvent(ev *ledger.Event) error
	LoadEvents(limit int) ([]*ledger.Event, error)
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// PostgresEventStore implements EventStore with PostgreSQL persistence.
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore connects, pings and migrates the event table.
func NewPostgresEventStore(config *PostgresConfig) (*PostgresEventStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresEventStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresEventStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ledger_events (
		id BIGSERIAL PRIMARY KEY,
		event_type VARCHAR(64) NOT NULL,
		event_time TIMESTAMP WITH TIME ZONE NOT NULL,
		address VARCHAR(128),
		batch_id BIGINT,
		entry_index BIGINT,
		request_id BIGINT,
		state_hash VARCHAR(64),
		total_value VARCHAR(128),
		cooldown_seconds BIGINT
	);

	CREATE INDEX IF NOT EXISTS idx_events_type ON ledger_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_events_batch ON ledger_events(batch_id);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveEvent appends an event.
func (s *PostgresEventStore) SaveEvent(ev *ledger.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
	INSERT INTO ledger_events
		(event_type, event_time, address, batch_id, entry_index, request_id, state_hash, total_value, cooldown_seconds)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.ExecContext(ctx, query,
		string(ev.Type),
		ev.Time,
		string(ev.Address),
		int64(ev.BatchID),
		int64(ev.EntryIndex),
		int64(ev.RequestID),
		ev.StateHash,
		ev.TotalValue,
		int64(ev.CooldownSeconds),
	)
	return err
}

// LoadEvents returns the most recent events, newest first.
func (s *PostgresEventStore) LoadEvents(limit int) ([]*ledger.Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_type, event_time, address, batch_id, entry_index, request_id, state_hash, total_value, cooldown_seconds
		FROM ledger_events
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*ledger.Event
	for rows.Next() {
		var (
			ev              ledger.Event
			eventType       string
			address         string
			batchID         int64
			entryIndex      int64
			requestID       int64
			cooldownSeconds int64
		)
		if err := rows.Scan(&eventType, &ev.Time, &address, &batchID, &entryIndex, &requestID, &ev.StateHash, &ev.TotalValue, &cooldownSeconds); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		ev.Type = ledger.EventType(eventType)
		ev.Address = ledger.Address(address)
		ev.BatchID = uint64(batchID)
		ev.EntryIndex = uint64(entryIndex)
		ev.RequestID = oracle.RequestID(requestID)
		ev.CooldownSeconds = uint64(cooldownSeconds)
		events = append(events, &ev)
	}

	return events, rows.Err()
}

// Close closes the database connection.
func (s *PostgresEventStore) Close() error {
	return s.db.Close()
}

// MemoryEventStore implements EventStore for testing without a database.
type MemoryEventStore struct {
	mu     sync.Mutex
	events []*ledger.Event
}

// NewMemoryEventStore creates an in-memory store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

// SaveEvent appends an event in memory.
func (s *MemoryEventStore) SaveEvent(ev *ledger.Event) error {
	copied := *ev
	s.mu.Lock()
	s.events = append(s.events, &copied)
	s.mu.Unlock()
	return nil
}

// LoadEvents returns the most recent events, newest first.
func (s *MemoryEventStore) LoadEvents(limit int) ([]*ledger.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []*ledger.Event
	for i := len(s.events) - 1; i >= 0 && len(events) < limit; i-- {
		events = append(events, s.events[i])
	}
	return events, nil
}

// NewStoreSink adapts an EventStore into the ledger's event sink. Storage
// failures are logged and do not affect the emitting operation.
func NewStoreSink(store EventStore, log *slog.Logger) ledger.EventSink {
	return ledger.SinkFunc(func(ev ledger.Event) {
		if err := store.SaveEvent(&ev); err != nil {
			log.Error("Failed to persist ledger event", "type", ev.Type, "err", err)
		}
	})
}
