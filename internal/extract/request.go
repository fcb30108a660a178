// Package extract implements the extraction pipeline for one patient: the
// paginated resource fetcher with category fan-out, the cohort resolver, and
// the orchestrator that walks the requested extract types in priority order
// and assembles the per-patient output.
package extract

import "sync"

// Request is the mutable working set of extract-type tokens remaining for one
// patient. Tokens are removed as their plans are attempted — regardless of
// how many resources were found — so whatever remains afterwards is exactly
// the set of tokens the variant's vocabulary did not recognize.
type Request struct {
	tokens []string
}

// NewRequest copies the configured extract list into a fresh working set.
func NewRequest(extracts []string) *Request {
	cp := make([]string, len(extracts))
	copy(cp, extracts)
	return &Request{tokens: cp}
}

// Has reports whether token is still pending.
func (r *Request) Has(token string) bool {
	for _, t := range r.tokens {
		if t == token {
			return true
		}
	}
	return false
}

// Remove drops token from the pending set.
func (r *Request) Remove(token string) {
	out := r.tokens[:0]
	for _, t := range r.tokens {
		if t != token {
			out = append(out, t)
		}
	}
	r.tokens = out
}

// Remaining returns the tokens never matched against the vocabulary.
func (r *Request) Remaining() []string {
	cp := make([]string, len(r.tokens))
	copy(cp, r.tokens)
	return cp
}

// Accumulator counts structured resources across the whole run. It exists
// only for the run-level summary; correctness never depends on it.
type Accumulator struct {
	mu    sync.Mutex
	count int
}

// Add records n more resources.
func (a *Accumulator) Add(n int) {
	a.mu.Lock()
	a.count += n
	a.mu.Unlock()
}

// Count returns the running total.
func (a *Accumulator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}
