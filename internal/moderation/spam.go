package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

// Terms reported in FilterResult.Term for spam hits.
const (
	SpamLink     = "url"
	SpamEmail    = "email"
	SpamPhone    = "phone"
	SpamHandle   = "social_handle"
	SpamPayment  = "payment_tag"
	SpamCharRun  = "char_flood"
	SpamWordRun  = "word_flood"
	charRunLimit = 5
	wordRunLimit = 3
)

var (
	// Bare domains need a path so "v2.0" or "3.14" do not count.
	linkRe = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf|me|ly)/\S*)`)

	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`)

	// Phone numbers must stand alone so ages and heights do not trip it.
	phoneRe = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)

	// Off-platform contact: "snap me", "ig: jane", "add me on telegram".
	handleRe = regexp.MustCompile(`(?i)\b(snap|ig|insta|instagram|telegram|whatsapp|kik|onlyfans)\s*(me\b|:|@)|\badd me on (snap|snapchat|ig|insta|instagram|telegram|whatsapp|kik)\b`)

	// Payment tags: "$jane22" or "venmo @jane".
	paymentRe = regexp.MustCompile(`(?i)(^|\s)\$[a-z][a-z0-9_]{2,}|\b(venmo|cashapp|zelle|paypal)\s*[:@]`)
)

type spamRule struct {
	term  string
	match func(string) bool
}

// spamRules run in order; the first hit is reported. Email is checked before
// social handles so "jane@mail.com" is not read as an @-handle.
var spamRules = []spamRule{
	{SpamLink, linkRe.MatchString},
	{SpamEmail, emailRe.MatchString},
	{SpamPhone, phoneRe.MatchString},
	{SpamHandle, handleRe.MatchString},
	{SpamPayment, paymentRe.MatchString},
	{SpamCharRun, func(s string) bool { return longestRun([]rune(s), runeEq) >= charRunLimit }},
	{SpamWordRun, func(s string) bool {
		return longestRun(strings.FieldsFunc(s, unicode.IsSpace), strings.EqualFold) >= wordRunLimit
	}},
}

func runeEq(a, b rune) bool { return a == b }

// longestRun returns the length of the longest run of consecutive equal
// elements in xs.
func longestRun[T any](xs []T, eq func(a, b T) bool) int {
	if len(xs) == 0 {
		return 0
	}
	best, run := 1, 1
	for i := 1; i < len(xs); i++ {
		if eq(xs[i], xs[i-1]) {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 1
		}
	}
	return best
}

func (f *Filter) checkSpamPatterns(text string) FilterResult {
	for _, rule := range spamRules {
		if rule.match(text) {
			return FilterResult{Blocked: true, Reason: ReasonSpamPattern, Term: rule.term}
		}
	}
	return FilterResult{}
}
