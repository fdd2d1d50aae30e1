package cat_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/p-n-ai/pai-cat/internal/cat"
)

type ownerRegistry interface {
	cat.SessionStore
	register(t *testing.T, ownerRef string)
}

type memoryRegistry struct{ *cat.MemoryStore }

func (m memoryRegistry) register(t *testing.T, ownerRef string) {
	t.Helper()
	if err := m.RegisterOwner(context.Background(), ownerRef); err != nil {
		t.Fatalf("RegisterOwner() error = %v", err)
	}
}

type postgresRegistry struct{ *cat.PostgresStore }

func (p postgresRegistry) register(t *testing.T, ownerRef string) {
	t.Helper()
	if err := p.RegisterOwner(context.Background(), ownerRef); err != nil {
		t.Fatalf("RegisterOwner() error = %v", err)
	}
}

func newAttempt(owner string) cat.Attempt {
	theta := 0.0
	now := time.Now().UTC().Truncate(time.Millisecond)
	return cat.Attempt{
		OwnerRef:       owner,
		QuizID:         "quiz-1",
		StartTime:      now,
		LastUpdateTime: now,
		Theta:          &theta,
	}
}

// exerciseStore runs the same contract against every SessionStore.
func exerciseStore(t *testing.T, store ownerRegistry) {
	ctx := context.Background()

	if ok, err := store.OwnerExists(ctx, "session-a"); err != nil || ok {
		t.Fatalf("OwnerExists(unregistered) = %v, %v; want false, nil", ok, err)
	}
	store.register(t, "session-a")
	if ok, _ := store.OwnerExists(ctx, "session-a"); !ok {
		t.Fatal("OwnerExists() = false after registration")
	}

	if _, err := store.CreateAttempt(ctx, newAttempt("ghost")); !errors.Is(err, cat.ErrOwnerNotFound) {
		t.Errorf("CreateAttempt(unknown owner) error = %v, want ErrOwnerNotFound", err)
	}

	created, err := store.CreateAttempt(ctx, newAttempt("session-a"))
	if err != nil {
		t.Fatalf("CreateAttempt() error = %v", err)
	}
	if created.ID == "" || created.Version != 0 {
		t.Fatalf("created = %+v, want an id and version 0", created)
	}

	if _, err := store.LoadAttempt(ctx, "not-an-attempt"); !errors.Is(err, cat.ErrAttemptNotFound) {
		t.Errorf("LoadAttempt(unknown) error = %v, want ErrAttemptNotFound", err)
	}

	loaded, err := store.LoadAttempt(ctx, created.ID)
	if err != nil {
		t.Fatalf("LoadAttempt() error = %v", err)
	}
	if loaded.QuizID != "quiz-1" || loaded.OwnerRef != "session-a" {
		t.Errorf("loaded = %+v", loaded)
	}

	se := 0.8
	loaded.AdministeredItemIDs = append(loaded.AdministeredItemIDs, "q1")
	loaded.Responses = append(loaded.Responses, 1)
	loaded.SE = &se
	if err := store.SaveAttempt(ctx, loaded); err != nil {
		t.Fatalf("SaveAttempt() error = %v", err)
	}

	if err := store.SaveAttempt(ctx, loaded); !errors.Is(err, cat.ErrConflict) {
		t.Errorf("stale SaveAttempt() error = %v, want ErrConflict", err)
	}

	saved, _ := store.LoadAttempt(ctx, created.ID)
	if saved.Version != 1 || len(saved.Responses) != 1 || saved.SE == nil || *saved.SE != se {
		t.Errorf("saved = %+v", saved)
	}

	score := 100.0
	saved.IsComplete = true
	saved.FinalScorePercent = &score
	saved.WeakTopics = []string{}
	if err := store.SaveAttempt(ctx, saved); err != nil {
		t.Fatalf("SaveAttempt(complete) error = %v", err)
	}

	done, _ := store.LoadAttempt(ctx, created.ID)
	done.Responses = append(done.Responses, 0)
	if err := store.SaveAttempt(ctx, done); !errors.Is(err, cat.ErrAttemptComplete) {
		t.Errorf("SaveAttempt(after completion) error = %v, want ErrAttemptComplete", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, memoryRegistry{cat.NewMemoryStore()})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := cat.NewMemoryStore()
	store.RegisterOwner(context.Background(), "session-a")
	ctx := context.Background()

	created, _ := store.CreateAttempt(ctx, newAttempt("session-a"))
	loaded, _ := store.LoadAttempt(ctx, created.ID)
	*loaded.Theta = 3
	loaded.AdministeredItemIDs = append(loaded.AdministeredItemIDs, "q1")

	again, _ := store.LoadAttempt(ctx, created.ID)
	if *again.Theta != 0 || len(again.AdministeredItemIDs) != 0 {
		t.Error("mutating a loaded attempt must not change the stored one")
	}
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("cat"),
		postgres.WithUsername("cat"),
		postgres.WithPassword("cat"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("ConnectionString() error = %v", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New() error = %v", err)
	}
	defer pool.Close()

	store, err := cat.NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	exerciseStore(t, postgresRegistry{store})

	if err := store.RegisterOwner(ctx, "session-events"); err != nil {
		t.Fatalf("RegisterOwner() error = %v", err)
	}
	created, err := store.CreateAttempt(ctx, newAttempt("session-events"))
	if err != nil {
		t.Fatalf("CreateAttempt() error = %v", err)
	}
	events := cat.NewPostgresEventLogger(pool)
	if err := events.LogEvent(ctx, cat.Event{
		AttemptID: created.ID,
		EventType: cat.EventAttemptStarted,
		Data:      map[string]any{"first_item": "q1"},
	}); err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}
	if err := events.LogEvent(ctx, cat.Event{
		AttemptID: "00000000-0000-0000-0000-000000000000",
		EventType: cat.EventAttemptStarted,
	}); !errors.Is(err, cat.ErrAttemptNotFound) {
		t.Errorf("LogEvent(unknown attempt) error = %v, want ErrAttemptNotFound", err)
	}

	var n int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM attempt_events WHERE attempt_id = $1::uuid`, created.ID).Scan(&n); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if n != 1 {
		t.Errorf("events = %d, want 1", n)
	}
}

func TestNewPostgresStore_NilPool(t *testing.T) {
	if _, err := cat.NewPostgresStore(nil); err == nil {
		t.Fatal("NewPostgresStore(nil) should fail")
	}
}
