// Package filter implements the content filter (§4.6): a substring
// blacklist scan over chat/description text. No library in the retrieval
// pack specializes in banned-word filtering, so this stays on the
// standard library (strings) by design — there is nothing idiomatic to
// delegate to.
package filter

import (
	"strings"
	"sync"

	"undercover/internal/apperr"
)

// Mode selects how a match is handled.
type Mode int

const (
	// Reject returns WordBankError on any match.
	Reject Mode = iota
	// Replace substitutes matches with a configured token and accepts
	// the message.
	Replace
)

// Filter scans text against a configured blacklist.
type Filter struct {
	mu          sync.RWMutex
	blacklist   []string
	mode        Mode
	replacement string
}

// New builds a Filter. blacklist entries are matched case-insensitively.
func New(blacklist []string, mode Mode, replacement string) *Filter {
	lower := make([]string, 0, len(blacklist))
	for _, w := range blacklist {
		w = strings.TrimSpace(w)
		if w != "" {
			lower = append(lower, strings.ToLower(w))
		}
	}
	return &Filter{blacklist: lower, mode: mode, replacement: replacement}
}

// Scan checks text for banned substrings. In Reject mode, a match
// returns a WordBankError (the protocol reuses this code for content
// filtering, §4.6). In Replace mode, matches are substituted and the
// sanitised text is returned with no error.
func (f *Filter) Scan(text string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	lower := strings.ToLower(text)
	matched := false
	for _, w := range f.blacklist {
		if strings.Contains(lower, w) {
			matched = true
			break
		}
	}
	if !matched {
		return text, nil
	}

	if f.mode == Reject {
		return "", apperr.New(apperr.WordBankError, "message contains banned content")
	}

	sanitized := text
	for _, w := range f.blacklist {
		sanitized = replaceCaseInsensitive(sanitized, w, f.replacement)
	}
	return sanitized, nil
}

func replaceCaseInsensitive(s, target, replacement string) string {
	if target == "" {
		return s
	}
	lower := strings.ToLower(s)
	lowerTarget := strings.ToLower(target)
	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(lower[i:], lowerTarget)
		if idx < 0 {
			b.WriteString(s[i:])
			break
		}
		b.WriteString(s[i : i+idx])
		b.WriteString(replacement)
		i += idx + len(lowerTarget)
	}
	return b.String()
}
