package cat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Attempt event types.
const (
	EventAttemptStarted   = "attempt_started"
	EventAnswerRecorded   = "answer_recorded"
	EventAttemptCompleted = "attempt_completed"
)

// Event is an audit record of one attempt transition.
type Event struct {
	AttemptID string
	OwnerRef  string
	EventType string
	Data      map[string]any
	CreatedAt time.Time
}

// EventLogger records attempt events. The engine logs after the attempt is
// persisted and never fails a request because an event was not written.
type EventLogger interface {
	LogEvent(ctx context.Context, event Event) error
}

// NopEventLogger ignores all events.
type NopEventLogger struct{}

func (NopEventLogger) LogEvent(context.Context, Event) error {
	return nil
}

// MemoryEventLogger stores events in memory for tests.
type MemoryEventLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventLogger() *MemoryEventLogger {
	return &MemoryEventLogger{
		events: []Event{},
	}
}

func (l *MemoryEventLogger) LogEvent(_ context.Context, event Event) error {
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

// Events returns the events logged so far, oldest first.
func (l *MemoryEventLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// PostgresEventLogger inserts events into the attempt_events table created
// by PostgresStore.Migrate.
type PostgresEventLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLogger(pool *pgxpool.Pool) *PostgresEventLogger {
	return &PostgresEventLogger{pool: pool}
}

func (l *PostgresEventLogger) LogEvent(ctx context.Context, event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if _, err := uuid.Parse(event.AttemptID); err != nil {
		return fmt.Errorf("%w: %s", ErrAttemptNotFound, event.AttemptID)
	}

	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cmd, err := l.pool.Exec(ctx,
		`INSERT INTO attempt_events (attempt_id, session_ref, event_type, data, created_at)
		 SELECT a.attempt_id, a.session_ref, $2, $3::jsonb, $4
		 FROM quiz_attempts a
		 WHERE a.attempt_id = $1::uuid`,
		event.AttemptID,
		event.EventType,
		string(data),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAttemptNotFound, event.AttemptID)
	}

	slog.Debug("event logged",
		"type", event.EventType,
		"attempt_id", event.AttemptID,
		"owner", event.OwnerRef,
	)
	return nil
}
