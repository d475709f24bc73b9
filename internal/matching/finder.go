// Package matching narrows a candidate pool down to the users that satisfy a
// seeker's stated preferences. Hard filters (self, age, height, gender) are
// combined with a soft text-similarity filter on the free-text "about" field.
package matching

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
)

// SimilarityThreshold is the minimum Jaccard index between a candidate's
// about text and the preferred description.
const SimilarityThreshold = 0.1

// minChunk is the smallest slice of the pool worth handing to a goroutine.
const minChunk = 64

// Candidate is a read-only view of a user record. Age and Height are text
// that must parse as numbers; a nil Height means the user never set one.
type Candidate struct {
	ID     string `json:"id"`
	Age    Text   `json:"age"`
	Height *Text  `json:"height"`
	Gender string `json:"gender,omitempty"`
	About  string `json:"about,omitempty"`
}

// Reason names the filter that rejected a candidate.
type Reason string

const (
	ReasonSelf   Reason = "self"
	ReasonAge    Reason = "age"
	ReasonHeight Reason = "height"
	ReasonGender Reason = "gender"
	ReasonAbout  Reason = "about"
)

// Verdict is the outcome of evaluating one candidate. Similarity is only set
// when the preferences carry an about text.
type Verdict struct {
	Accepted   bool
	Reason     Reason
	Similarity float64
}

// Finder filters a fixed candidate pool. It holds no mutable state and is
// safe for concurrent use as long as the pool is not modified.
type Finder struct {
	pool     []Candidate
	observer func(Candidate, Verdict)
}

// FinderOption configures a Finder.
type FinderOption func(*Finder)

// WithObserver registers fn to be called with every rejected candidate.
// fn may be called from several goroutines at once.
func WithObserver(fn func(Candidate, Verdict)) FinderOption {
	return func(f *Finder) {
		f.observer = fn
	}
}

// NewFinder creates a Finder over pool. Results keep the pool's order.
func NewFinder(pool []Candidate, opts ...FinderOption) *Finder {
	f := &Finder{pool: pool}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FindMatches returns the candidates accepted for seeker under prefs, in pool
// order. Only seeker.ID is consulted. The result is never nil.
func (f *Finder) FindMatches(seeker Candidate, prefs Preferences) []Candidate {
	return f.scan(f.pool, seeker, prefs)
}

// FindMatchesConcurrent behaves like FindMatches but spreads the pool over up
// to workers goroutines. The only possible error is ctx's.
func (f *Finder) FindMatchesConcurrent(ctx context.Context, seeker Candidate, prefs Preferences, workers int) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if workers <= 1 || len(f.pool) < 2*minChunk {
		return f.FindMatches(seeker, prefs), nil
	}

	chunk := (len(f.pool) + workers - 1) / workers
	if chunk < minChunk {
		chunk = minChunk
	}

	// Each goroutine owns one slot; parts is never resized while they run.
	parts := make([][]Candidate, (len(f.pool)+chunk-1)/chunk)
	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < len(f.pool); lo += chunk {
		hi := min(lo+chunk, len(f.pool))
		i := lo / chunk
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			parts[i] = f.scan(f.pool[lo:hi], seeker, prefs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, p := range parts {
		total += len(p)
	}
	matches := make([]Candidate, 0, total)
	for _, p := range parts {
		matches = append(matches, p...)
	}
	return matches, nil
}

func (f *Finder) scan(pool []Candidate, seeker Candidate, prefs Preferences) []Candidate {
	matches := make([]Candidate, 0)
	for _, c := range pool {
		v := f.Evaluate(seeker, prefs, c)
		if v.Accepted {
			matches = append(matches, c)
			continue
		}
		if f.observer != nil {
			f.observer(c, v)
		}
	}
	return matches
}

// Evaluate runs every filter against a single candidate and reports the first
// one that rejects it.
func (f *Finder) Evaluate(seeker Candidate, prefs Preferences, c Candidate) Verdict {
	if c.ID == seeker.ID {
		return Verdict{Reason: ReasonSelf}
	}

	age, ok := c.Age.Float()
	if !ok || age < 0 || !within(age, prefs.MinAge, prefs.MaxAge) {
		return Verdict{Reason: ReasonAge}
	}

	if c.Height != nil {
		height, ok := c.Height.Float()
		if !ok || !within(height, prefs.MinHeight, prefs.MaxHeight) {
			return Verdict{Reason: ReasonHeight}
		}
	}

	if c.Gender != "" && prefs.Gender != "" && c.Gender != prefs.Gender {
		return Verdict{Reason: ReasonGender}
	}

	v := Verdict{Accepted: true}
	if prefs.About != "" {
		v.Similarity = JaccardIndex(strings.ToLower(c.About), strings.ToLower(prefs.About))
		if v.Similarity < SimilarityThreshold {
			return Verdict{Reason: ReasonAbout, Similarity: v.Similarity}
		}
	}
	return v
}

func within(v float64, lo, hi *float64) bool {
	if lo != nil && v < *lo {
		return false
	}
	if hi != nil && v > *hi {
		return false
	}
	return true
}
