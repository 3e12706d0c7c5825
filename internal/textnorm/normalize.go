// Package textnorm canonicalizes question text so that index building and
// query matching see exactly the same terms.
package textnorm

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MinTokenRunes is the shortest token kept by Tokens.
const MinTokenRunes = 2

// Options controls optional normalization steps.
type Options struct {
	// FoldDiacritics strips accents ("chào" -> "chao", "đ" -> "d").
	FoldDiacritics bool
}

// Normalizer is a pure, stateless text canonicalizer. The zero value is
// ready to use and keeps diacritics.
type Normalizer struct {
	opts Options
}

// New returns a Normalizer with the given options.
func New(opts Options) Normalizer {
	return Normalizer{opts: opts}
}

// Options returns the options the normalizer was created with.
func (n Normalizer) Options() Options {
	return n.opts
}

// Normalize lowercases text, drops every rune that is not a letter, number,
// underscore or whitespace, and collapses whitespace runs to single spaces.
// The result is NFC, has no leading or trailing space, and
// Normalize(Normalize(x)) == Normalize(x) for every input.
func (n Normalizer) Normalize(text string) string {
	if text == "" {
		return ""
	}
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	text = strings.ToLower(norm.NFC.String(text))
	if n.opts.FoldDiacritics {
		text = fold(text)
	}

	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			space = b.Len() > 0
		case isWordRune(r):
			if space {
				b.WriteByte(' ')
				space = false
			}
			b.WriteRune(r)
		}
	}
	// Dropping a rune can leave composable neighbours, e.g. Hangul jamo
	// around punctuation.
	out := b.String()
	if !norm.NFC.IsNormalString(out) {
		out = norm.NFC.String(out)
	}
	return out
}

// Normalize applies the default (accent-preserving) normalization.
func Normalize(text string) string {
	return Normalizer{}.Normalize(text)
}

// Tokens splits normalized text into terms, dropping single-rune tokens.
func Tokens(normalized string) []string {
	fields := strings.Fields(normalized)
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= MinTokenRunes {
			out = append(out, f)
		}
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

// fold removes combining marks after canonical decomposition. The chain is
// built per call because transform.Transformer values carry state.
func fold(s string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Map(func(r rune) rune {
			switch r {
			case 'đ':
				return 'd'
			case 'Đ':
				return 'D'
			}
			return r
		}),
		norm.NFC,
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
