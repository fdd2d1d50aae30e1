// Package diagnostics analyses a finished attempt for topics the test-taker struggled with.
package diagnostics

import "sort"

const (
	DefaultMinItemsPerTopic = 2
	DefaultWeakThreshold    = 0.5
)

// Outcome is one administered item's topic tags and whether it was answered correctly.
type Outcome struct {
	Tags    []string
	Correct bool
}

// Options controls when a topic is reported as weak.
type Options struct {
	MinItemsPerTopic int
	WeakThreshold    float64
}

// DefaultOptions returns the standard weak-topic thresholds.
func DefaultOptions() Options {
	return Options{
		MinItemsPerTopic: DefaultMinItemsPerTopic,
		WeakThreshold:    DefaultWeakThreshold,
	}
}

// TopicStat counts administered and correctly answered items for one topic.
type TopicStat struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

// Accuracy returns Correct/Total, or 0 for an unseen topic.
func (s TopicStat) Accuracy() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Total)
}

// Report is the weak-topic analysis of one attempt.
type Report struct {
	Topics map[string]TopicStat `json:"topics"`
	Weak   []string             `json:"weak"`
}

// Analyze accumulates per-topic counts and flags topics with at least
// MinItemsPerTopic items and accuracy strictly below WeakThreshold. An item
// with several tags counts toward each of them. Weak is sorted and never nil.
func Analyze(outcomes []Outcome, opts Options) Report {
	if opts.MinItemsPerTopic <= 0 {
		opts.MinItemsPerTopic = DefaultMinItemsPerTopic
	}

	stats := make(map[string]TopicStat)
	for _, o := range outcomes {
		seen := make(map[string]bool, len(o.Tags))
		for _, tag := range o.Tags {
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true

			s := stats[tag]
			s.Total++
			if o.Correct {
				s.Correct++
			}
			stats[tag] = s
		}
	}

	weak := []string{}
	for topic, s := range stats {
		if s.Total >= opts.MinItemsPerTopic && s.Accuracy() < opts.WeakThreshold {
			weak = append(weak, topic)
		}
	}
	sort.Strings(weak)

	return Report{Topics: stats, Weak: weak}
}
