// ABOUTME: Word-list moderation of message content using an Aho-Corasick automaton
// ABOUTME: Matches survive leet speak, casing and interleaved punctuation; spacing is preserved

package moderation

import (
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
)

// DefaultMask replaces every character of a censored span.
const DefaultMask = '*'

// Result is the outcome of moderating one message.
type Result struct {
	Text      string
	Moderated bool
	Words     []string
}

// Moderator censors a fixed word list. The zero value and a moderator built
// from an empty list pass everything through.
type Moderator struct {
	matcher *goahocorasick.Machine
	mask    rune
}

type textMapping struct {
	normalized []rune
	origIdx    []int
}

// NewModerator builds the automaton from a normalized copy of words.
func NewModerator(words []string, mask rune) (*Moderator, error) {
	if mask == 0 {
		mask = DefaultMask
	}
	patterns := lo.Uniq(lo.FilterMap(words, func(w string, _ int) (string, bool) {
		n := string(normalizeRunes([]rune(strings.TrimSpace(w))))
		return n, n != ""
	}))
	if len(patterns) == 0 {
		return &Moderator{mask: mask}, nil
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(lo.Map(patterns, func(p string, _ int) []rune { return []rune(p) })); err != nil {
		return nil, err
	}
	return &Moderator{matcher: m, mask: mask}, nil
}

// Moderate finds forbidden words in text and masks the original characters
// they span.
func (m *Moderator) Moderate(text string) Result {
	if m == nil || m.matcher == nil {
		return Result{Text: text}
	}
	mapping := normalize(text)
	if len(mapping.normalized) == 0 {
		return Result{Text: text}
	}

	spans := m.matcher.MultiPatternSearch(mapping.normalized, false)
	if len(spans) == 0 {
		return Result{Text: text}
	}

	orig := []rune(text)
	words := make([]string, 0, len(spans))
	for _, span := range spans {
		start := span.Pos
		end := start + len(span.Word)
		if start < 0 || end > len(mapping.origIdx) {
			continue
		}
		for i := mapping.origIdx[start]; i <= mapping.origIdx[end-1]; i++ {
			orig[i] = m.mask
		}
		words = append(words, string(span.Word))
	}
	if len(words) == 0 {
		return Result{Text: text}
	}
	return Result{Text: string(orig), Moderated: true, Words: words}
}

// normalize builds the searchable form of input and remembers where each
// kept rune came from.
func normalize(input string) textMapping {
	orig := []rune(input)
	mapping := textMapping{
		normalized: make([]rune, 0, len(orig)),
		origIdx:    make([]int, 0, len(orig)),
	}
	for i, r := range orig {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		mapping.normalized = append(mapping.normalized, unicode.ToLower(clean))
		mapping.origIdx = append(mapping.origIdx, i)
	}
	return mapping
}

func normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

// simplifyRune maps common leet substitutions back to letters.
func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
