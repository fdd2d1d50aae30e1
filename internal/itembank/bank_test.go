package itembank_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/p-n-ai/pai-cat/internal/itembank"
)

func irt3(a, b, c any) map[string]any {
	return map[string]any{"a": a, "b": b, "c": c}
}

func TestNew_SkipsInvalidItems(t *testing.T) {
	raw := []itembank.RawItem{
		{ID: "ok-1", Options: []string{"x", "y"}, CorrectIndices: []int{1}, IRT: irt3(1.0, 0.0, 0.2)},
		{ID: "ok-2", IRT: irt3(1, -1, 0)}, // integer parameters are numeric
		{ID: "missing-c", IRT: map[string]any{"a": 1.0, "b": 0.0}},
		{ID: "text-a", IRT: irt3("1.0", 0.0, 0.2)},
		{ID: "bad-guess", IRT: irt3(1.0, 0.0, 1.2)},
		{ID: "no-params"},
		{ID: "", IRT: irt3(1.0, 0.0, 0.2)},
		{ID: "ok-1", IRT: irt3(2.0, 0.0, 0.2)}, // duplicate id
	}

	bank, err := itembank.New(raw)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if bank.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", bank.Len())
	}

	item, idx, ok := bank.ByID("ok-1")
	if !ok || idx != 0 {
		t.Fatalf("ByID(ok-1) = %d, %v; want 0, true", idx, ok)
	}
	if item.Params.A != 1.0 {
		t.Errorf("duplicate id replaced the first item: A = %v", item.Params.A)
	}
	if item.Params.D != 1.0 {
		t.Errorf("Params.D = %v, want 1.0", item.Params.D)
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  []itembank.RawItem
		want error
	}{
		{"no rows", nil, itembank.ErrNoItems},
		{"no valid rows", []itembank.RawItem{{ID: "x"}, {ID: "y", IRT: irt3(1, 0, "c")}}, itembank.ErrEmptyBank},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := itembank.New(tt.raw)
			if !errors.Is(err, tt.want) {
				t.Fatalf("New() error = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, itembank.ErrInvalidBank) {
				t.Errorf("error %v should be an ErrInvalidBank", err)
			}
		})
	}
}

func TestBank_Lookups(t *testing.T) {
	bank, err := itembank.New([]itembank.RawItem{
		{ID: "q1", IRT: irt3(1.0, 0.0, 0.2)},
		{ID: "q2", IRT: irt3(1.5, 1.0, 0.1)},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	item, ok := bank.ByIndex(1)
	if !ok || item.ID != "q2" {
		t.Errorf("ByIndex(1) = %q, %v; want q2, true", item.ID, ok)
	}
	if _, ok := bank.ByIndex(2); ok {
		t.Error("ByIndex(2) should be out of range")
	}
	if _, _, ok := bank.ByID("nope"); ok {
		t.Error("ByID(nope) should not be found")
	}
	if got := len(bank.Params()); got != 2 {
		t.Errorf("len(Params()) = %d, want 2", got)
	}
}

func TestItem_IsCorrectAndView(t *testing.T) {
	bank, err := itembank.New([]itembank.RawItem{{
		ID:             "q1",
		Text:           "2+2?",
		Options:        []string{"3", "4", "four"},
		CorrectIndices: []int{1, 2},
		IRT:            irt3(1.0, 0.0, 0.2),
	}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	item, _, _ := bank.ByID("q1")

	for sel, want := range map[int]bool{0: false, 1: true, 2: true, 5: false} {
		if got := item.IsCorrect(sel); got != want {
			t.Errorf("IsCorrect(%d) = %v, want %v", sel, got, want)
		}
	}

	view := item.View()
	if view.ID != "q1" || view.Text != "2+2?" || len(view.Options) != 3 {
		t.Errorf("View() = %+v", view)
	}
	view.Options[0] = "changed"
	if again, _, _ := bank.ByID("q1"); again.Options[0] != "3" {
		t.Error("View() must not share the option slice with the bank")
	}
}

func TestNormalizeTags(t *testing.T) {
	got := itembank.NormalizeTags([]string{" stats ", "stats", "", "caf\u00e9", "cafe\u0301"})
	want := []string{"stats", "caf\u00e9"}
	if len(got) != len(want) {
		t.Fatalf("NormalizeTags() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("NormalizeTags()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

type countingProvider struct {
	items []itembank.RawItem
	err   error
	calls int
}

func (p *countingProvider) FetchAll(_ context.Context) ([]itembank.RawItem, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.items, nil
}

func TestCache_LoadsOnceAndReloads(t *testing.T) {
	p := &countingProvider{items: []itembank.RawItem{{ID: "q1", IRT: irt3(1.0, 0.0, 0.2)}}}
	cache := itembank.NewCache(p)
	ctx := context.Background()

	first, err := cache.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	second, _ := cache.Get(ctx)
	if first != second || p.calls != 1 {
		t.Errorf("Get() should load once, provider calls = %d", p.calls)
	}

	p.items = append(p.items, itembank.RawItem{ID: "q2", IRT: irt3(1.0, 1.0, 0.2)})
	reloaded, err := cache.Reload(ctx)
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if reloaded.Len() != 2 || p.calls != 2 {
		t.Errorf("Reload() Len = %d, calls = %d; want 2, 2", reloaded.Len(), p.calls)
	}

	p.err = errors.New("database down")
	if _, err := cache.Reload(ctx); err == nil {
		t.Fatal("Reload() should fail when the provider fails")
	}
	kept, err := cache.Get(ctx)
	if err != nil || kept.Len() != 2 {
		t.Errorf("failed reload should keep the previous bank, got %v, %v", kept, err)
	}
}

func TestCache_ConcurrentGetLoadsOnce(t *testing.T) {
	p := &countingProvider{items: []itembank.RawItem{{ID: "q1", IRT: irt3(1.0, 0.0, 0.2)}}}
	cache := itembank.NewCache(p)
	ctx := context.Background()

	const readers = 16
	banks := make([]*itembank.Bank, readers)
	var wg sync.WaitGroup
	for i := range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := cache.Get(ctx)
			if err != nil {
				t.Errorf("Get() error = %v", err)
			}
			banks[i] = b
		}()
	}
	wg.Wait()

	if p.calls != 1 {
		t.Errorf("provider calls = %d, want 1", p.calls)
	}
	for i, b := range banks {
		if b != banks[0] {
			t.Errorf("banks[%d] differs from banks[0]", i)
		}
	}

	reloaded, err := cache.Reload(ctx)
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got, _ := cache.Get(ctx); got != reloaded {
		t.Error("Get() after Reload() should return the reloaded bank")
	}
}

func TestCache_PropagatesConfigurationError(t *testing.T) {
	cache := itembank.NewCache(itembank.StaticProvider{})
	_, err := cache.Get(context.Background())
	if !errors.Is(err, itembank.ErrNoItems) {
		t.Fatalf("Get() error = %v, want ErrNoItems", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		raw     itembank.RawItem
		wantErr bool
	}{
		{"valid", itembank.RawItem{ID: "q1", IRT: irt3(1.0, 0.0, 0.2)}, false},
		{"integer values", itembank.RawItem{ID: "q1", IRT: irt3(1, 0, 0)}, false},
		{"numeric string", itembank.RawItem{ID: "q1", IRT: irt3("1.0", 0.0, 0.2)}, true},
		{"blank id", itembank.RawItem{ID: "  ", IRT: irt3(1.0, 0.0, 0.2)}, true},
		{"missing c", itembank.RawItem{ID: "q1", IRT: map[string]any{"a": 1.0, "b": 0.0}}, true},
		{"guessing of one", itembank.RawItem{ID: "q1", IRT: irt3(1.0, 0.0, 1.0)}, true},
		{"text parameter", itembank.RawItem{ID: "q1", IRT: irt3("steep", 0.0, 0.2)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := itembank.Validate(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
