// Package itembank loads calibrated test items from a provider and indexes them
// for constant-time lookup by id and by position.
package itembank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/p-n-ai/pai-cat/internal/irt"
)

var (
	// ErrInvalidBank is the parent of every item bank configuration error.
	ErrInvalidBank = errors.New("invalid item bank")

	// ErrNoItems means the provider returned no records at all.
	ErrNoItems = fmt.Errorf("%w: provider returned no items", ErrInvalidBank)

	// ErrEmptyBank means records were returned but none had usable IRT parameters.
	ErrEmptyBank = fmt.Errorf("%w: no items with valid IRT parameters", ErrInvalidBank)
)

// Provider returns the raw item records of a bank. No ordering is required.
type Provider interface {
	FetchAll(ctx context.Context) ([]RawItem, error)
}

// Bank is an ordered, read-only collection of items.
type Bank struct {
	items  []Item
	params []irt.Params
	byID   map[string]int
}

// Load fetches records from p and builds a bank from them.
func Load(ctx context.Context, p Provider) (*Bank, error) {
	raw, err := p.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching items: %w", err)
	}
	return New(raw)
}

// New validates raw records and builds a bank. Records with missing or
// invalid IRT parameters, or a duplicate id, are skipped with a warning.
func New(raw []RawItem) (*Bank, error) {
	if len(raw) == 0 {
		return nil, ErrNoItems
	}

	b := &Bank{
		items:  make([]Item, 0, len(raw)),
		params: make([]irt.Params, 0, len(raw)),
		byID:   make(map[string]int, len(raw)),
	}
	for _, r := range raw {
		item, err := Validate(r)
		if err != nil {
			slog.Warn("skipping item", "item_id", r.ID, "error", err)
			continue
		}
		if _, dup := b.byID[item.ID]; dup {
			slog.Warn("skipping item", "item_id", item.ID, "error", "duplicate id")
			continue
		}
		b.byID[item.ID] = len(b.items)
		b.items = append(b.items, item)
		b.params = append(b.params, item.Params)
	}

	if len(b.items) == 0 {
		return nil, ErrEmptyBank
	}

	slog.Info("item bank loaded", "items", len(b.items), "skipped", len(raw)-len(b.items))
	return b, nil
}

// Len returns the number of items.
func (b *Bank) Len() int {
	return len(b.items)
}

// ByID returns an item and its index.
func (b *Bank) ByID(id string) (Item, int, bool) {
	idx, ok := b.byID[id]
	if !ok {
		return Item{}, -1, false
	}
	return b.items[idx], idx, true
}

// ByIndex returns the item at position i.
func (b *Bank) ByIndex(i int) (Item, bool) {
	if i < 0 || i >= len(b.items) {
		return Item{}, false
	}
	return b.items[i], true
}

// Params returns the IRT parameters of every item, aligned by index.
// The slice is shared and must not be modified.
func (b *Bank) Params() []irt.Params {
	return b.params
}

// Items returns a copy of the item list.
func (b *Bank) Items() []Item {
	return append([]Item(nil), b.items...)
}

// Validate converts one raw record into an Item, or reports why it is unusable.
func Validate(r RawItem) (Item, error) {
	id := strings.TrimSpace(r.ID)
	if id == "" {
		return Item{}, fmt.Errorf("missing id")
	}

	var vals [3]float64
	for i, key := range []string{"a", "b", "c"} {
		v, ok := r.IRT[key]
		if !ok {
			return Item{}, fmt.Errorf("missing IRT parameter %q", key)
		}
		f, ok := toFloat(v)
		if !ok {
			return Item{}, fmt.Errorf("IRT parameter %q is not numeric: %v", key, v)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Item{}, fmt.Errorf("IRT parameter %q is not finite", key)
		}
		vals[i] = f
	}
	if vals[2] < 0 || vals[2] >= 1 {
		return Item{}, fmt.Errorf("guessing parameter %g outside [0,1)", vals[2])
	}

	return Item{
		ID:             id,
		Text:           r.Text,
		Options:        append([]string(nil), r.Options...),
		CorrectOptions: append([]int(nil), r.CorrectIndices...),
		Params:         irt.ThreePL(vals[0], vals[1], vals[2]),
		TopicTags:      NormalizeTags(r.TopicTags),
	}, nil
}

// NormalizeTags trims and NFC-normalizes tags, dropping empty and repeated ones.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = norm.NFC.String(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
