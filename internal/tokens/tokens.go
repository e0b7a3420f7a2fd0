// Package tokens substitutes the fixed follow-up token vocabulary into
// message templates.
package tokens

import (
	"regexp"
	"strings"
)

const (
	FirstName      = "first_name"
	WatchPct       = "watch_pct"
	Minutes        = "minutes"
	ChallengeNotes = "challenge_notes"
	GoalNotes      = "goal_notes"
	OfferLink      = "offer_link"
	ReplayLink     = "replay_link"
	BookingLink    = "booking_link"
	OfferTitle     = "offer_title"
	SenderName     = "sender_name"
)

// Vocabulary is the closed set of tokens Interpolate will replace.
var Vocabulary = []string{
	FirstName, WatchPct, Minutes, ChallengeNotes, GoalNotes,
	OfferLink, ReplayLink, BookingLink, OfferTitle, SenderName,
}

var known = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Vocabulary))
	for _, t := range Vocabulary {
		m[t] = struct{}{}
	}
	return m
}()

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// Interpolate replaces every occurrence of {token} for each vocabulary token
// present in values. Tokens without a value, and anything outside the
// vocabulary, are left in place verbatim.
func Interpolate(template string, values map[string]string) string {
	if template == "" || len(values) == 0 {
		return template
	}
	pairs := make([]string, 0, len(values)*2)
	for _, token := range Vocabulary {
		v, ok := values[token]
		if !ok {
			continue
		}
		pairs = append(pairs, "{"+token+"}", v)
	}
	if len(pairs) == 0 {
		return template
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// Placeholders returns the distinct {token} names in template, in order of
// first appearance.
func Placeholders(template string) []string {
	matches := placeholderRe.FindAllStringSubmatch(template, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, dup := seen[m[1]]; dup {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}

// Unresolved lists the placeholders still present after interpolation.
func Unresolved(rendered string) []string {
	return Placeholders(rendered)
}

// Known reports whether token belongs to the vocabulary.
func Known(token string) bool {
	_, ok := known[token]
	return ok
}
