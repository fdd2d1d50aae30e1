package cat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// Schema creates the tables used by PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS participant_sessions (
	session_ref TEXT PRIMARY KEY,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS quiz_attempts (
	attempt_id             UUID PRIMARY KEY,
	session_ref            TEXT NOT NULL REFERENCES participant_sessions (session_ref),
	quiz_id                TEXT,
	start_time             TIMESTAMPTZ NOT NULL,
	last_update_time       TIMESTAMPTZ NOT NULL,
	current_theta          DOUBLE PRECISION,
	current_se             DOUBLE PRECISION,
	administered_items     JSONB NOT NULL DEFAULT '[]'::jsonb,
	responses              JSONB NOT NULL DEFAULT '[]'::jsonb,
	is_complete            BOOLEAN NOT NULL DEFAULT FALSE,
	final_score_percent    DOUBLE PRECISION,
	identified_weak_topics JSONB,
	version                INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS quiz_attempts_session_ref_idx ON quiz_attempts (session_ref);

CREATE TABLE IF NOT EXISTS attempt_events (
	id          BIGSERIAL PRIMARY KEY,
	attempt_id  UUID NOT NULL REFERENCES quiz_attempts (attempt_id),
	session_ref TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	data        JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS attempt_events_attempt_id_idx ON attempt_events (attempt_id);
`

// PostgresStore is a PostgreSQL-backed SessionStore implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the attempt tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate attempt schema: %w", err)
	}
	return nil
}

// RegisterOwner records a participant session so attempts can be started for it.
func (s *PostgresStore) RegisterOwner(ctx context.Context, ownerRef string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if ownerRef == "" {
		return fmt.Errorf("owner reference is required")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO participant_sessions (session_ref) VALUES ($1)
		 ON CONFLICT (session_ref) DO NOTHING`,
		ownerRef,
	)
	if err != nil {
		return fmt.Errorf("register owner: %w", err)
	}
	return nil
}

func (s *PostgresStore) OwnerExists(ctx context.Context, ownerRef string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM participant_sessions WHERE session_ref = $1)`,
		ownerRef,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup owner: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) CreateAttempt(ctx context.Context, a Attempt) (Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	a = a.Clone()
	a.ID = uuid.NewString()
	a.Version = 0

	items, responses, weak, err := encodeHistory(a)
	if err != nil {
		return Attempt{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO quiz_attempts (
		   attempt_id, session_ref, quiz_id, start_time, last_update_time,
		   current_theta, current_se, administered_items, responses,
		   is_complete, final_score_percent, identified_weak_topics, version)
		 SELECT $1::uuid, session_ref, $3::text, $4::timestamptz, $5::timestamptz, $6::float8, $7::float8,
		        $8::jsonb, $9::jsonb, $10::boolean, $11::float8, $12::jsonb, 0
		 FROM participant_sessions
		 WHERE session_ref = $2`,
		a.ID,
		a.OwnerRef,
		nullIfEmpty(a.QuizID),
		a.StartTime,
		a.LastUpdateTime,
		a.Theta,
		a.SE,
		items,
		responses,
		a.IsComplete,
		a.FinalScorePercent,
		weak,
	)
	if err != nil {
		return Attempt{}, fmt.Errorf("create attempt: %w", err)
	}

	created, err := s.LoadAttempt(ctx, a.ID)
	if errors.Is(err, ErrAttemptNotFound) {
		return Attempt{}, fmt.Errorf("%w: %s", ErrOwnerNotFound, a.OwnerRef)
	}
	return created, err
}

func (s *PostgresStore) LoadAttempt(ctx context.Context, id string) (Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := uuid.Parse(id); err != nil {
		return Attempt{}, fmt.Errorf("%w: %s", ErrAttemptNotFound, id)
	}

	var (
		a                      Attempt
		quizID                 *string
		items, responses, weak []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT attempt_id::text, session_ref, quiz_id, start_time, last_update_time,
		        current_theta, current_se, administered_items, responses,
		        is_complete, final_score_percent, identified_weak_topics, version
		 FROM quiz_attempts
		 WHERE attempt_id = $1::uuid`,
		id,
	).Scan(
		&a.ID,
		&a.OwnerRef,
		&quizID,
		&a.StartTime,
		&a.LastUpdateTime,
		&a.Theta,
		&a.SE,
		&items,
		&responses,
		&a.IsComplete,
		&a.FinalScorePercent,
		&weak,
		&a.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Attempt{}, fmt.Errorf("%w: %s", ErrAttemptNotFound, id)
		}
		return Attempt{}, fmt.Errorf("load attempt: %w", err)
	}
	if quizID != nil {
		a.QuizID = *quizID
	}
	if err := decodeHistory(&a, items, responses, weak); err != nil {
		return Attempt{}, fmt.Errorf("decode attempt %s: %w", id, err)
	}
	return a, nil
}

// SaveAttempt writes the whole attempt in one statement guarded by the
// version the caller loaded. Completed rows are never rewritten.
func (s *PostgresStore) SaveAttempt(ctx context.Context, a Attempt) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	items, responses, weak, err := encodeHistory(a)
	if err != nil {
		return err
	}

	cmd, err := s.pool.Exec(ctx,
		`UPDATE quiz_attempts
		 SET last_update_time = $2,
		     current_theta = $3,
		     current_se = $4,
		     administered_items = $5::jsonb,
		     responses = $6::jsonb,
		     is_complete = $7,
		     final_score_percent = $8,
		     identified_weak_topics = $9::jsonb,
		     version = version + 1
		 WHERE attempt_id = $1::uuid
		   AND version = $10
		   AND is_complete = FALSE`,
		a.ID,
		a.LastUpdateTime,
		a.Theta,
		a.SE,
		items,
		responses,
		a.IsComplete,
		a.FinalScorePercent,
		weak,
		a.Version,
	)
	if err != nil {
		return fmt.Errorf("save attempt: %w", err)
	}
	if cmd.RowsAffected() == 1 {
		return nil
	}

	cur, err := s.LoadAttempt(ctx, a.ID)
	if err != nil {
		return err
	}
	if cur.IsComplete {
		return fmt.Errorf("%w: %s", ErrAttemptComplete, a.ID)
	}
	return fmt.Errorf("%w: %s", ErrConflict, a.ID)
}

func encodeHistory(a Attempt) (items, responses, weak []byte, err error) {
	ids := a.AdministeredItemIDs
	if ids == nil {
		ids = []string{}
	}
	resp := a.Responses
	if resp == nil {
		resp = []int{}
	}
	if items, err = json.Marshal(ids); err != nil {
		return nil, nil, nil, fmt.Errorf("encode administered items: %w", err)
	}
	if responses, err = json.Marshal(resp); err != nil {
		return nil, nil, nil, fmt.Errorf("encode responses: %w", err)
	}
	if a.WeakTopics != nil {
		if weak, err = json.Marshal(a.WeakTopics); err != nil {
			return nil, nil, nil, fmt.Errorf("encode weak topics: %w", err)
		}
	}
	return items, responses, weak, nil
}

func decodeHistory(a *Attempt, items, responses, weak []byte) error {
	a.AdministeredItemIDs = []string{}
	a.Responses = []int{}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &a.AdministeredItemIDs); err != nil {
			return err
		}
	}
	if len(responses) > 0 {
		if err := json.Unmarshal(responses, &a.Responses); err != nil {
			return err
		}
	}
	if len(weak) > 0 {
		if err := json.Unmarshal(weak, &a.WeakTopics); err != nil {
			return err
		}
	}
	return nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
