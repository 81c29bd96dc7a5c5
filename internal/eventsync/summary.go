package eventsync

// Sync outcome keys.
const (
	OutcomeCreated = "created"
	OutcomeExisted = "existed"
	OutcomeSkipped = "skipped"
	OutcomeDeleted = "deleted"
	OutcomeFailed  = "failed"
)

// Summary accumulates sync outcome counts. It is a value type: Increment
// and Combine return new summaries, so partial results from concurrent
// batches can be folded in any order.
type Summary map[string]int

// Increment returns a copy with one more of the given outcome.
func (s Summary) Increment(outcome string) Summary {
	return s.Plus(outcome, 1)
}

// Plus returns a copy with count more of the given outcome.
func (s Summary) Plus(outcome string, count int) Summary {
	if count == 0 {
		return s
	}
	out := make(Summary, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	out[outcome] += count
	return out
}

// Combine returns the pointwise sum of both summaries.
func (s Summary) Combine(other Summary) Summary {
	if len(other) == 0 {
		return s
	}
	if len(s) == 0 {
		return other
	}
	out := make(Summary, len(s)+len(other))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range other {
		out[k] += v
	}
	return out
}

// Get returns the count for an outcome, zero when absent.
func (s Summary) Get(outcome string) int {
	return s[outcome]
}

// Total returns the sum over all outcomes.
func (s Summary) Total() int {
	total := 0
	for _, v := range s {
		total += v
	}
	return total
}
