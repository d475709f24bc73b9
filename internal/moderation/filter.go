// Package moderation provides content filtering and moderation capabilities.
// It screens chat messages and profile text for prohibited content and spam
// before they reach other members.
package moderation

import (
	"strings"
	"unicode"
)

// Reasons reported in FilterResult.Reason.
const (
	ReasonBlockedKeyword = "blocked_keyword"
	ReasonSpamPattern    = "spam_pattern"
)

// FilterResult describes the outcome of a content check. A zero value means
// the text is clean.
type FilterResult struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
	Term    string `json:"term,omitempty"`
}

// Filter matches text against a blocklist of single words and multi-word
// phrases, then against the spam patterns. Matching is case-insensitive and
// whole-word, so "assess" does not trip on "ass". Common leetspeak
// substitutions are folded before a second pass. A Filter is immutable after
// construction and safe for concurrent use.
type Filter struct {
	words   map[string]struct{}
	phrases [][]string
}

// defaultTerms is the built-in blocklist: slurs, self-harm incitement,
// sexual exploitation, extremism, threats and common scams.
var defaultTerms = []string{
	// slurs
	"nigger", "nigga", "faggot", "fag", "retard", "tranny", "chink", "spic", "kike",
	// self-harm incitement
	"kill yourself", "kys", "go die", "hang yourself", "slit your wrists",
	// sexual exploitation
	"child porn", "cp links", "underage nudes", "send nudes", "nudes for sale",
	// extremism
	"heil hitler", "white power", "gas the jews",
	// threats
	"bomb threat", "i will kill you", "i know where you live",
	// scams
	"free bitcoin", "crypto giveaway", "wire me money", "send me money", "gift card code", "cashapp me",
}

// NewFilter returns a Filter loaded with the default blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultTerms)
}

// NewFilterWithTerms returns a Filter for the given terms. Terms containing
// whitespace are matched as phrases; blank terms are ignored.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, term := range terms {
		tokens := strings.Fields(strings.ToLower(term))
		switch len(tokens) {
		case 0:
			continue
		case 1:
			f.words[tokens[0]] = struct{}{}
		default:
			f.phrases = append(f.phrases, tokens)
		}
	}
	return f
}

// Check runs the keyword blocklist and then the spam patterns against text.
// The first hit wins.
func (f *Filter) Check(text string) FilterResult {
	lower := strings.ToLower(text)

	if term, ok := f.match(tokenizePlain(lower)); ok {
		return FilterResult{Blocked: true, Reason: ReasonBlockedKeyword, Term: term}
	}

	leet := tokenizeLeet(lower)
	for i, tok := range leet {
		leet[i] = strings.TrimFunc(normalizeLeet(tok), isSeparator)
	}
	if term, ok := f.match(leet); ok {
		return FilterResult{Blocked: true, Reason: ReasonBlockedKeyword, Term: term}
	}

	return f.checkSpamPatterns(text)
}

// CheckSpam runs only the spam patterns. It is cheap enough to call inline on
// the send path; the full Check runs asynchronously in the moderator.
func (f *Filter) CheckSpam(text string) FilterResult {
	return f.checkSpamPatterns(text)
}

// CheckKeywords runs only the keyword blocklist. Profile text is screened with
// this; phone numbers and links in an "about" section are a product decision,
// not abuse.
func (f *Filter) CheckKeywords(text string) FilterResult {
	res := f.Check(text)
	if res.Reason == ReasonSpamPattern {
		return FilterResult{}
	}
	return res
}

func (f *Filter) match(tokens []string) (string, bool) {
	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return tok, true
		}
	}
	for _, phrase := range f.phrases {
		if containsSequence(tokens, phrase) {
			return strings.Join(phrase, " "), true
		}
	}
	return "", false
}

func containsSequence(tokens, seq []string) bool {
	if len(seq) == 0 || len(tokens) < len(seq) {
		return false
	}
outer:
	for i := 0; i+len(seq) <= len(tokens); i++ {
		for j := range seq {
			if tokens[i+j] != seq[j] {
				continue outer
			}
		}
		return true
	}
	return false
}

// isSeparator reports whether r splits words for plain matching.
func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// tokenizePlain splits text on anything that is not a letter or digit.
func tokenizePlain(text string) []string {
	return strings.FieldsFunc(text, isSeparator)
}

// tokenizeLeet splits text on whitespace only, keeping symbols that may stand
// in for letters.
func tokenizeLeet(text string) []string {
	return strings.FieldsFunc(text, unicode.IsSpace)
}

var leetReplacer = strings.NewReplacer(
	"0", "o",
	"1", "i",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
	"@", "a",
	"$", "s",
	"!", "i",
)

// normalizeLeet folds common leetspeak substitutions into letters.
func normalizeLeet(s string) string {
	return leetReplacer.Replace(s)
}
