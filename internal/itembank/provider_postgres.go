package itembank

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 10 * time.Second

// QuestionsSchema creates the quiz_questions table read by PostgresProvider.
const QuestionsSchema = `
CREATE TABLE IF NOT EXISTS quiz_questions (
	question_id     TEXT PRIMARY KEY,
	question_text   TEXT NOT NULL,
	options         JSONB NOT NULL DEFAULT '[]'::jsonb,
	correct_answers JSONB NOT NULL DEFAULT '[]'::jsonb,
	irt_parameters  JSONB NOT NULL DEFAULT '{}'::jsonb,
	topic_tags      JSONB
)`

// PostgresProvider reads items from the quiz_questions table.
type PostgresProvider struct {
	pool *pgxpool.Pool
}

// NewPostgresProvider creates a provider over an existing pool.
func NewPostgresProvider(pool *pgxpool.Pool) (*PostgresProvider, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresProvider{pool: pool}, nil
}

// EnsureSchema creates the quiz_questions table if it does not exist.
func (p *PostgresProvider) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := p.pool.Exec(ctx, QuestionsSchema); err != nil {
		return fmt.Errorf("create quiz_questions: %w", err)
	}
	return nil
}

func (p *PostgresProvider) FetchAll(ctx context.Context) ([]RawItem, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := p.pool.Query(ctx,
		`SELECT question_id, question_text, options, correct_answers, irt_parameters, topic_tags
		 FROM quiz_questions
		 ORDER BY question_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	var items []RawItem
	for rows.Next() {
		var it RawItem
		var options, correct, params, tags []byte
		if err := rows.Scan(&it.ID, &it.Text, &options, &correct, &params, &tags); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := decodeColumns(&it, options, correct, params, tags); err != nil {
			return nil, fmt.Errorf("question %s: %w", it.ID, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return items, nil
}

// Upsert writes records into quiz_questions in one transaction.
func (p *PostgresProvider) Upsert(ctx context.Context, items []RawItem) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	batch := &pgx.Batch{}
	for _, it := range items {
		options, _ := json.Marshal(nonNil(it.Options))
		correct, _ := json.Marshal(nonNilInts(it.CorrectIndices))
		params, err := json.Marshal(it.IRT)
		if err != nil {
			return fmt.Errorf("marshal irt parameters for %s: %w", it.ID, err)
		}
		var tags any
		if it.TopicTags != nil {
			b, _ := json.Marshal(it.TopicTags)
			tags = string(b)
		}
		batch.Queue(
			`INSERT INTO quiz_questions (question_id, question_text, options, correct_answers, irt_parameters, topic_tags)
			 VALUES ($1, $2, $3::jsonb, $4::jsonb, $5::jsonb, $6::jsonb)
			 ON CONFLICT (question_id) DO UPDATE SET
			   question_text = EXCLUDED.question_text,
			   options = EXCLUDED.options,
			   correct_answers = EXCLUDED.correct_answers,
			   irt_parameters = EXCLUDED.irt_parameters,
			   topic_tags = EXCLUDED.topic_tags`,
			it.ID, it.Text, string(options), string(correct), string(params), tags,
		)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert questions: %w", err)
	}
	return tx.Commit(ctx)
}

func decodeColumns(it *RawItem, options, correct, params, tags []byte) error {
	if err := json.Unmarshal(options, &it.Options); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	if err := json.Unmarshal(correct, &it.CorrectIndices); err != nil {
		return fmt.Errorf("decode correct_answers: %w", err)
	}
	if err := json.Unmarshal(params, &it.IRT); err != nil {
		return fmt.Errorf("decode irt_parameters: %w", err)
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &it.TopicTags); err != nil {
			return fmt.Errorf("decode topic_tags: %w", err)
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilInts(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}
