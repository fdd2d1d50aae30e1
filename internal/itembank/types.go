package itembank

import (
	"slices"

	"github.com/p-n-ai/pai-cat/internal/irt"
)

// RawItem is an item record as returned by a Provider, before validation.
// IRT holds the calibrated parameters keyed "a", "b" and "c".
type RawItem struct {
	ID             string         `json:"id" yaml:"id"`
	Text           string         `json:"text" yaml:"text"`
	Options        []string       `json:"options" yaml:"options"`
	CorrectIndices []int          `json:"correct_indices" yaml:"correct_indices"`
	IRT            map[string]any `json:"irt" yaml:"irt"`
	TopicTags      []string       `json:"topic_tags,omitempty" yaml:"topic_tags"`
}

// Item is a validated, calibrated item. Items are immutable once loaded.
type Item struct {
	ID             string
	Text           string
	Options        []string
	CorrectOptions []int
	Params         irt.Params
	TopicTags      []string
}

// IsCorrect reports whether the selected option is one of the item's keys.
func (it Item) IsCorrect(selected int) bool {
	return slices.Contains(it.CorrectOptions, selected)
}

// View returns the participant-safe view of the item.
func (it Item) View() View {
	return View{
		ID:      it.ID,
		Text:    it.Text,
		Options: slices.Clone(it.Options),
	}
}

// View is what a test-taker sees: no IRT parameters and no answer key.
type View struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
}
