package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxTextLen caps every free-text column. The destination stores reject
// unbounded input.
const MaxTextLen = 2000

// MaxDescriptionLen caps the short description view.
const MaxDescriptionLen = 250

const trimCutset = `<>'"`

// asciiFold decomposes accented characters, drops the combining marks and
// removes any non-ASCII remainder. The destination platforms reject rows
// containing characters outside ASCII.
func asciiFold(s string) string {
	t := transform.Chain(
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Remove(runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII })),
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		// Fold errors degrade to a byte-wise ASCII filter, never to a failure.
		var b strings.Builder
		for _, r := range s {
			if r <= unicode.MaxASCII {
				b.WriteRune(r)
			}
		}
		return b.String()
	}
	return out
}

// CleanText strips leading/trailing angle-bracket and quote characters,
// transliterates to ASCII and caps the result at MaxTextLen.
func CleanText(s string) string {
	s = strings.Trim(s, trimCutset)
	s = asciiFold(s)
	return Truncate(s, MaxTextLen)
}

// ScrubText removes every quote and angle-bracket character and
// transliterates to ASCII. Applied a second time to user-free-text fields
// before transmission to the map layer.
func ScrubText(s string) string {
	for _, c := range []string{`'`, `"`, "<", ">"} {
		s = strings.ReplaceAll(s, c, "")
	}
	return asciiFold(s)
}

// Truncate caps s at n characters. Counting runes keeps a multibyte
// value from being cut mid-rune; unfolded fields reach here carrying
// arbitrary UTF-8.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	seen := 0
	for i := range s {
		if seen == n {
			return s[:i]
		}
		seen++
	}
	return s
}
