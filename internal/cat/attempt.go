// Package cat runs computerized adaptive tests: it starts attempts, scores
// answers, re-estimates ability, selects the next item and finalizes
// attempts with a score and weak-topic diagnosis.
package cat

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/p-n-ai/pai-cat/internal/itembank"
)

// State is the lifecycle position of an attempt.
type State string

const (
	StateInitialized State = "initialized"
	StateInProgress  State = "in_progress"
	StateComplete    State = "complete"
)

var (
	// ErrNotFound is the parent of every unknown owner, attempt or item error.
	ErrNotFound = errors.New("not found")

	ErrOwnerNotFound   = fmt.Errorf("owner %w", ErrNotFound)
	ErrAttemptNotFound = fmt.Errorf("attempt %w", ErrNotFound)
	ErrUnknownItem     = fmt.Errorf("item %w", ErrNotFound)

	ErrAttemptComplete         = errors.New("attempt already complete")
	ErrItemAlreadyAdministered = errors.New("item already administered in this attempt")
	ErrConflict                = errors.New("attempt was modified concurrently")
	ErrRegistrationUnsupported = errors.New("session store cannot register owners")
)

// Attempt is one test-taking episode. AdministeredItemIDs and Responses are
// append-only and aligned by position.
type Attempt struct {
	ID                  string    `json:"attempt_id"`
	OwnerRef            string    `json:"owner_reference"`
	QuizID              string    `json:"quiz_id,omitempty"`
	StartTime           time.Time `json:"start_time"`
	LastUpdateTime      time.Time `json:"last_update_time"`
	Theta               *float64  `json:"current_theta"`
	SE                  *float64  `json:"current_se"`
	AdministeredItemIDs []string  `json:"administered_items"`
	Responses           []int     `json:"responses"`
	IsComplete          bool      `json:"is_complete"`
	FinalScorePercent   *float64  `json:"final_score_percent"`
	WeakTopics          []string  `json:"identified_weak_topics"`
	Version             int       `json:"version"`
}

// State derives the lifecycle state from the attempt's fields.
func (a Attempt) State() State {
	switch {
	case a.IsComplete:
		return StateComplete
	case len(a.Responses) > 0:
		return StateInProgress
	default:
		return StateInitialized
	}
}

// Clone returns a deep copy so that callers can mutate it without touching
// the stored value.
func (a Attempt) Clone() Attempt {
	c := a
	c.Theta = clonePtr(a.Theta)
	c.SE = clonePtr(a.SE)
	c.FinalScorePercent = clonePtr(a.FinalScorePercent)
	c.AdministeredItemIDs = slices.Clone(a.AdministeredItemIDs)
	c.Responses = slices.Clone(a.Responses)
	c.WeakTopics = slices.Clone(a.WeakTopics)
	if c.AdministeredItemIDs == nil {
		c.AdministeredItemIDs = []string{}
	}
	if c.Responses == nil {
		c.Responses = []int{}
	}
	return c
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// StartResult is returned when an attempt begins.
type StartResult struct {
	Attempt   Attempt
	FirstItem itembank.View
}

// Stop reasons recorded when an attempt is finalized.
const (
	StopRule            = "stopping_rule"
	StopExhausted       = "items_exhausted"
	StopSelectionFailed = "selection_failed"
)

// NextStepResult is returned after every accepted answer. NextItem is nil once
// the attempt is complete. Warnings carry non-fatal estimation problems.
type NextStepResult struct {
	AttemptID         string
	NextItem          *itembank.View
	IsComplete        bool
	FinalScorePercent *float64
	WeakTopics        []string
	Theta             *float64
	SE                *float64
	StopReason        string
	Warnings          []string
}
