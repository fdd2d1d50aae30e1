package cat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/p-n-ai/pai-cat/internal/diagnostics"
	"github.com/p-n-ai/pai-cat/internal/irt"
	"github.com/p-n-ai/pai-cat/internal/itembank"
)

// EngineConfig holds dependencies for the adaptive test engine.
type EngineConfig struct {
	Bank        *itembank.Cache
	Store       SessionStore
	Estimator   irt.Estimator
	Selector    irt.Selector
	Stopper     irt.Stopper // default MaxItems{20}
	PriorTheta  float64
	Diagnostics diagnostics.Options // zero value takes diagnostics.DefaultOptions
	Metrics     *Metrics
	Events      EventLogger // default NopEventLogger
	Now         func() time.Time
}

// Engine drives attempts through start, answer and finalize.
type Engine struct {
	bank      *itembank.Cache
	store     SessionStore
	estimator irt.Estimator
	selector  irt.Selector
	stopper   irt.Stopper
	prior     float64
	diag      diagnostics.Options
	metrics   *Metrics
	events    EventLogger
	now       func() time.Time
}

// NewEngine creates a new engine. Bank is required; everything else has a default.
func NewEngine(cfg EngineConfig) *Engine {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	selector := cfg.Selector
	if selector == nil {
		selector = irt.MaxInfoSelector{}
	}
	stopper := cfg.Stopper
	if stopper == nil {
		stopper = irt.MaxItems{N: irt.DefaultMaxItems}
	}
	diag := cfg.Diagnostics
	if diag == (diagnostics.Options{}) {
		diag = diagnostics.DefaultOptions()
	}
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		bank:      cfg.Bank,
		store:     store,
		estimator: cfg.Estimator,
		selector:  selector,
		stopper:   stopper,
		prior:     cfg.PriorTheta,
		diag:      diag,
		metrics:   cfg.Metrics,
		events:    events,
		now:       now,
	}
}

// Start begins an attempt for ownerRef and returns the first item to present.
// Nothing is persisted when the owner is unknown or the item bank is unusable.
func (e *Engine) Start(ctx context.Context, ownerRef, quizID string) (StartResult, error) {
	ok, err := e.store.OwnerExists(ctx, ownerRef)
	if err != nil {
		return StartResult{}, fmt.Errorf("checking owner: %w", err)
	}
	if !ok {
		return StartResult{}, fmt.Errorf("%w: %s", ErrOwnerNotFound, ownerRef)
	}

	bank, err := e.loadBank(ctx)
	if err != nil {
		return StartResult{}, err
	}

	theta := e.prior
	idx, err := e.selector.Select(theta, bank.Params(), allIndices(bank.Len()))
	if err != nil {
		return StartResult{}, fmt.Errorf("selecting first item: %w", err)
	}
	first, ok := bank.ByIndex(idx)
	if !ok {
		return StartResult{}, fmt.Errorf("selecting first item: index %d out of range", idx)
	}

	now := e.now()
	created, err := e.store.CreateAttempt(ctx, Attempt{
		OwnerRef:            ownerRef,
		QuizID:              quizID,
		StartTime:           now,
		LastUpdateTime:      now,
		Theta:               &theta,
		AdministeredItemIDs: []string{},
		Responses:           []int{},
	})
	if err != nil {
		return StartResult{}, fmt.Errorf("creating attempt: %w", err)
	}

	e.metrics.started()
	e.logEvent(ctx, created, EventAttemptStarted, map[string]any{
		"quiz_id":    quizID,
		"first_item": first.ID,
	})
	slog.Info("attempt started",
		"attempt_id", created.ID,
		"owner", ownerRef,
		"quiz_id", quizID,
		"first_item", first.ID,
	)
	return StartResult{Attempt: created, FirstItem: first.View()}, nil
}

// Answer scores one response, updates the ability estimate and either selects
// the next item or finalizes the attempt. The attempt is persisted once, after
// every step has succeeded.
func (e *Engine) Answer(ctx context.Context, attemptID, itemID string, selected int) (NextStepResult, error) {
	bank, err := e.loadBank(ctx)
	if err != nil {
		return NextStepResult{}, err
	}

	cur, err := e.store.LoadAttempt(ctx, attemptID)
	if err != nil {
		return NextStepResult{}, err
	}
	if cur.IsComplete {
		return NextStepResult{}, fmt.Errorf("%w: %s", ErrAttemptComplete, attemptID)
	}

	item, _, ok := bank.ByID(itemID)
	if !ok {
		return NextStepResult{}, fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}
	if slices.Contains(cur.AdministeredItemIDs, itemID) {
		return NextStepResult{}, fmt.Errorf("%w: %s", ErrItemAlreadyAdministered, itemID)
	}

	correct := item.IsCorrect(selected)
	next := cur.Clone()
	next.AdministeredItemIDs = append(next.AdministeredItemIDs, item.ID)
	next.Responses = append(next.Responses, response(correct))
	next.LastUpdateTime = e.now()

	indices, responses, warnings := history(bank, next)
	warnings = append(warnings, e.updateEstimate(&next, bank, indices, responses)...)

	if e.stopper.Stop(len(next.AdministeredItemIDs), next.SE) {
		return e.finalize(ctx, bank, next, correct, StopRule, warnings)
	}

	available := remaining(bank.Len(), indices)
	if len(available) == 0 {
		return e.finalize(ctx, bank, next, correct, StopExhausted, warnings)
	}

	theta := e.prior
	if next.Theta != nil {
		theta = *next.Theta
	}
	idx, err := e.selector.Select(theta, bank.Params(), available)
	if err == nil && !slices.Contains(available, idx) {
		err = fmt.Errorf("selector returned unavailable index %d", idx)
	}
	if err != nil {
		slog.Warn("item selection failed, finalizing attempt",
			"attempt_id", attemptID,
			"error", err,
		)
		return e.finalize(ctx, bank, next, correct, StopSelectionFailed, warnings)
	}
	nextItem, _ := bank.ByIndex(idx)

	if err := e.store.SaveAttempt(ctx, next); err != nil {
		return NextStepResult{}, fmt.Errorf("saving attempt: %w", err)
	}
	e.metrics.answered(correct)
	e.logAnswer(ctx, next, item.ID, correct)

	view := nextItem.View()
	return NextStepResult{
		AttemptID: next.ID,
		NextItem:  &view,
		Theta:     next.Theta,
		SE:        next.SE,
		Warnings:  warnings,
	}, nil
}

// RegisterOwner records a participant session when the store supports it.
func (e *Engine) RegisterOwner(ctx context.Context, ownerRef string) error {
	r, ok := e.store.(OwnerRegistrar)
	if !ok {
		return ErrRegistrationUnsupported
	}
	if err := r.RegisterOwner(ctx, ownerRef); err != nil {
		return fmt.Errorf("registering owner: %w", err)
	}
	slog.Info("owner registered", "owner", ownerRef)
	return nil
}

// Attempt returns the stored attempt.
func (e *Engine) Attempt(ctx context.Context, attemptID string) (Attempt, error) {
	return e.store.LoadAttempt(ctx, attemptID)
}

// ReloadBank refreshes the item bank from its provider. Attempts in progress
// keep working as long as their item ids survive the reload.
func (e *Engine) ReloadBank(ctx context.Context) (int, error) {
	if e.bank == nil {
		return 0, fmt.Errorf("%w: no item bank configured", itembank.ErrInvalidBank)
	}
	bank, err := e.bank.Reload(ctx)
	if err != nil {
		return 0, err
	}
	return bank.Len(), nil
}

// finalize computes the score and weak topics and persists the completed
// attempt. Every completion path goes through here.
func (e *Engine) finalize(ctx context.Context, bank *itembank.Bank, a Attempt, lastCorrect bool, reason string, warnings []string) (NextStepResult, error) {
	score := scorePercent(a.Responses)
	report := diagnostics.Analyze(outcomes(bank, a), e.diag)

	a.IsComplete = true
	a.FinalScorePercent = &score
	a.WeakTopics = report.Weak

	if err := e.store.SaveAttempt(ctx, a); err != nil {
		return NextStepResult{}, fmt.Errorf("saving completed attempt: %w", err)
	}
	e.metrics.answered(lastCorrect)
	e.metrics.completed(reason, len(a.AdministeredItemIDs))
	e.logAnswer(ctx, a, a.AdministeredItemIDs[len(a.AdministeredItemIDs)-1], lastCorrect)
	e.logEvent(ctx, a, EventAttemptCompleted, map[string]any{
		"reason":        reason,
		"items":         len(a.AdministeredItemIDs),
		"score_percent": score,
		"weak_topics":   report.Weak,
	})

	slog.Info("attempt completed",
		"attempt_id", a.ID,
		"reason", reason,
		"items", len(a.AdministeredItemIDs),
		"score_percent", score,
		"weak_topics", report.Weak,
	)
	return NextStepResult{
		AttemptID:         a.ID,
		IsComplete:        true,
		FinalScorePercent: &score,
		WeakTopics:        report.Weak,
		Theta:             a.Theta,
		SE:                a.SE,
		StopReason:        reason,
		Warnings:          warnings,
	}, nil
}

// updateEstimate re-estimates theta and SE from the full history. On failure
// the previous values are kept and a warning is returned.
func (e *Engine) updateEstimate(a *Attempt, bank *itembank.Bank, indices, responses []int) []string {
	all := bank.Params()
	params := make([]irt.Params, len(indices))
	for i, idx := range indices {
		params[i] = all[idx]
	}

	prior := e.prior
	if a.Theta != nil {
		prior = *a.Theta
	}

	theta, err := e.estimator.Estimate(params, responses, prior)
	if err == nil {
		var se float64
		se, err = irt.StandardError(theta, params)
		if err == nil && !math.IsInf(se, 0) && !math.IsNaN(se) {
			a.Theta = &theta
			a.SE = &se
			return nil
		}
		if err == nil {
			err = errors.New("standard error is not finite")
		}
	}

	e.metrics.warned()
	slog.Warn("ability estimate not updated",
		"attempt_id", a.ID,
		"items", len(params),
		"error", err,
	)
	return []string{fmt.Sprintf("ability estimate not updated: %v", err)}
}

func (e *Engine) logAnswer(ctx context.Context, a Attempt, itemID string, correct bool) {
	data := map[string]any{"item_id": itemID, "correct": correct}
	if a.Theta != nil {
		data["theta"] = *a.Theta
	}
	if a.SE != nil {
		data["se"] = *a.SE
	}
	e.logEvent(ctx, a, EventAnswerRecorded, data)
}

func (e *Engine) logEvent(ctx context.Context, a Attempt, eventType string, data map[string]any) {
	err := e.events.LogEvent(ctx, Event{
		AttemptID: a.ID,
		OwnerRef:  a.OwnerRef,
		EventType: eventType,
		Data:      data,
		CreatedAt: e.now(),
	})
	if err != nil {
		slog.Warn("attempt event not logged", "attempt_id", a.ID, "type", eventType, "error", err)
	}
}

func (e *Engine) loadBank(ctx context.Context) (*itembank.Bank, error) {
	if e.bank == nil {
		return nil, fmt.Errorf("%w: no item bank configured", itembank.ErrInvalidBank)
	}
	bank, err := e.bank.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading item bank: %w", err)
	}
	return bank, nil
}

// history maps the attempt's administered ids onto bank indices. Ids that are
// no longer in the bank are left out of estimation with a warning.
func history(bank *itembank.Bank, a Attempt) (indices, responses []int, warnings []string) {
	for i, id := range a.AdministeredItemIDs {
		_, idx, ok := bank.ByID(id)
		if !ok || i >= len(a.Responses) {
			slog.Warn("administered item missing from bank", "attempt_id", a.ID, "item_id", id)
			warnings = append(warnings, fmt.Sprintf("item %s is no longer in the bank", id))
			continue
		}
		indices = append(indices, idx)
		responses = append(responses, a.Responses[i])
	}
	return indices, responses, warnings
}

func outcomes(bank *itembank.Bank, a Attempt) []diagnostics.Outcome {
	out := make([]diagnostics.Outcome, 0, len(a.AdministeredItemIDs))
	for i, id := range a.AdministeredItemIDs {
		item, _, ok := bank.ByID(id)
		if !ok || i >= len(a.Responses) {
			continue
		}
		out = append(out, diagnostics.Outcome{Tags: item.TopicTags, Correct: a.Responses[i] == 1})
	}
	return out
}

func scorePercent(responses []int) float64 {
	if len(responses) == 0 {
		return 0
	}
	correct := 0
	for _, r := range responses {
		correct += r
	}
	return 100 * float64(correct) / float64(len(responses))
}

func remaining(n int, administered []int) []int {
	out := make([]int, 0, n)
	for i := range n {
		if !slices.Contains(administered, i) {
			out = append(out, i)
		}
	}
	return out
}

func allIndices(n int) []int {
	return remaining(n, nil)
}

func response(correct bool) int {
	if correct {
		return 1
	}
	return 0
}
