package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	// Bare domains need a trailing path so "v2.0" and "3.14" pass.
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// Anchored on whitespace so digits inside words, or "100", pass.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

// Flood thresholds.
const (
	charRunLimit   = 5   // identical consecutive runes
	wordRunLimit   = 3   // identical consecutive words, case-insensitive
	capsMinLetters = 16  // shorter messages may shout
	capsRatio      = 0.9 // share of upper-case letters
)

// shape summarises the properties of a message that the flood checks need,
// gathered in one pass over the runes and one over the words.
type shape struct {
	longestCharRun int
	longestWordRun int
	letters        int
	upper          int
}

func measure(text string) shape {
	var sh shape

	run, prev := 0, rune(-1)
	for _, r := range text {
		if r == prev {
			run++
		} else {
			run, prev = 1, r
		}
		sh.longestCharRun = max(sh.longestCharRun, run)
		if unicode.IsLetter(r) {
			sh.letters++
			if unicode.IsUpper(r) {
				sh.upper++
			}
		}
	}

	run = 0
	last := ""
	for _, w := range strings.Fields(text) {
		w = strings.ToLower(w)
		if w == last {
			run++
		} else {
			run, last = 1, w
		}
		sh.longestWordRun = max(sh.longestWordRun, run)
	}
	return sh
}

type spamCheck struct {
	term    string
	message string
	match   func(text string, sh shape) bool
}

// spamChecks run in order; the first match decides the result.
var spamChecks = []spamCheck{
	{"url", "URLs are not allowed", func(text string, _ shape) bool {
		return urlPattern.MatchString(text)
	}},
	{"phone", "Phone numbers are not allowed", func(text string, _ shape) bool {
		return phonePattern.MatchString(text)
	}},
	{"char_flood", "Character flooding detected", func(_ string, sh shape) bool {
		return sh.longestCharRun >= charRunLimit
	}},
	{"word_flood", "Repeated word flooding detected", func(_ string, sh shape) bool {
		return sh.longestWordRun >= wordRunLimit
	}},
	{"caps_flood", "Please don't shout", func(_ string, sh shape) bool {
		return sh.letters >= capsMinLetters && float64(sh.upper) >= capsRatio*float64(sh.letters)
	}},
}

func (f *Filter) checkSpamPatterns(text string) FilterResult {
	sh := measure(text)
	for _, c := range spamChecks {
		if c.match(text, sh) {
			return FilterResult{Blocked: true, Reason: "spam_pattern", Term: c.term, Message: c.message}
		}
	}
	return FilterResult{}
}
