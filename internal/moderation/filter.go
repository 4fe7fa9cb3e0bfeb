// Package moderation screens chat text for prohibited content before it is
// relayed. The Filter combines a keyword and phrase blocklist, matched on
// whole words with leetspeak folding, with pattern checks for common spam
// (links, phone numbers, flooding).
package moderation

import (
	"strings"
	"unicode"
)

// FilterResult describes the outcome of a content check. Reason is
// "blocked_keyword" or "spam_pattern" when Blocked is set.
type FilterResult struct {
	Blocked bool
	Reason  string
	Term    string // matched blocklist term or spam check name
	Message string // user-facing explanation
}

// defaultTerms is the stock blocklist. Deployments extend it with
// NewFilterWithTerms(append(DefaultTerms(), extra...)).
var defaultTerms = []string{
	// self-harm incitement
	"kys",
	"kill yourself",
	"go die",
	"hang yourself",

	// sexual exploitation
	"pedo",
	"pedophile",
	"child porn",
	"send nudes",

	// violent extremism and threats
	"heil hitler",
	"bomb threat",
	"school shooting",

	// scams
	"free bitcoin",
	"crypto giveaway",
	"double your money",
}

const blockedMessage = "Message contains blocked content"

// leetMap folds common character substitutions back to letters.
var leetMap = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'@': 'a',
	'$': 's',
	'!': 'i',
}

// Filter is an immutable blocklist matcher; it is safe for concurrent use.
type Filter struct {
	words   map[string]struct{} // single-token terms
	phrases [][]string          // multi-token terms, tokenized
}

// DefaultTerms returns a copy of the stock blocklist.
func DefaultTerms() []string {
	return append([]string(nil), defaultTerms...)
}

// NewFilter creates a Filter with the stock blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultTerms)
}

// NewFilterWithTerms creates a Filter for the given terms. Terms are
// lowercased; blank terms are ignored.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, term := range terms {
		tokens := tokenizePlain(term)
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

// Check screens a message body. Blocklist matches take precedence over spam
// patterns.
func (f *Filter) Check(text string) FilterResult {
	if text == "" {
		return FilterResult{}
	}
	if r := f.checkTerms(text); r.Blocked {
		return r
	}
	return f.checkSpamPatterns(text)
}

// CheckUsername screens a display name against the blocklist only; spam
// patterns do not apply to names.
func (f *Filter) CheckUsername(name string) FilterResult {
	return f.checkTerms(name)
}

func (f *Filter) checkTerms(text string) FilterResult {
	plain := tokenizePlain(text)
	if r := f.match(plain); r.Blocked {
		return r
	}

	leet := tokenizeLeet(text)
	folded := make([]string, 0, len(leet))
	for _, tok := range leet {
		if n := strings.TrimFunc(normalizeLeet(tok), isSeparator); n != "" {
			folded = append(folded, n)
		}
	}
	return f.match(folded)
}

func (f *Filter) match(tokens []string) FilterResult {
	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: tok, Message: blockedMessage}
		}
	}
	for _, phrase := range f.phrases {
		if containsSequence(tokens, phrase) {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: strings.Join(phrase, " "), Message: blockedMessage}
		}
	}
	return FilterResult{}
}

func containsSequence(tokens, seq []string) bool {
	for i := 0; i+len(seq) <= len(tokens); i++ {
		matched := true
		for j, s := range seq {
			if tokens[i+j] != s {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// normalizeLeet lowercases s and folds leetspeak substitutions.
func normalizeLeet(s string) string {
	return strings.Map(func(r rune) rune {
		if l, ok := leetMap[r]; ok {
			return l
		}
		return unicode.ToLower(r)
	}, s)
}

// tokenizePlain lowercases text and splits it on anything that is not a
// letter or digit.
func tokenizePlain(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), isSeparator)
}

// tokenizeLeet splits on whitespace only, keeping substitution characters
// inside tokens.
func tokenizeLeet(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsNumber(r)
}
