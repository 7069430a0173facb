package selector

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultStem is used when a title has no safe characters left.
const DefaultStem = "download"

// maxStemBytes keeps synthesized names well under common filesystem limits.
const maxStemBytes = 200

// SafeStem reduces a title to letters, digits, space, hyphen and underscore.
// The title is NFC-normalized first so composed and decomposed forms of the
// same title produce the same stem.
func SafeStem(title string) string {
	title = norm.NFC.String(title)

	var b strings.Builder
	b.Grow(len(title))
	for _, r := range title {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune(r)
		}
	}

	stem := strings.TrimRight(b.String(), " ")
	if len(stem) > maxStemBytes {
		stem = truncateUTF8(stem, maxStemBytes)
		stem = strings.TrimRight(stem, " ")
	}
	if stem == "" {
		return DefaultStem
	}
	return stem
}

// SynthesizeFilename builds "<safe title>.<ext>".
func SynthesizeFilename(title, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return SafeStem(title)
	}
	return SafeStem(title) + "." + ext
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
