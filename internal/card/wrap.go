package card

import (
	"strings"
	"unicode"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

const ellipsis = "…"

// token is an unbreakable run of text. space records collapsed whitespace
// in front of it.
type token struct {
	text  string
	space bool
}

// tokenize collapses whitespace and splits text at break opportunities:
// between words, and between any two ideographic or Hangul characters.
func tokenize(text string) []token {
	var (
		toks    []token
		word    strings.Builder
		pending bool
	)
	flush := func() {
		if word.Len() > 0 {
			toks = append(toks, token{text: word.String(), space: pending})
			word.Reset()
			pending = false
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
			pending = true
		case breaksAnywhere(r):
			flush()
			toks = append(toks, token{text: string(r), space: pending})
			pending = false
		default:
			word.WriteRune(r)
		}
	}
	flush()
	return toks
}

func breaksAnywhere(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hangul, unicode.Hiragana, unicode.Katakana)
}

// ClampLines breaks text into lines no wider than maxWidth and keeps at most
// maxLines of them. When text is cut, the last kept line ends in an ellipsis.
func ClampLines(face font.Face, text string, maxWidth fixed.Int26_6, maxLines int) []string {
	if maxLines <= 0 {
		return nil
	}
	fits := func(s string) bool {
		return font.MeasureString(face, s) <= maxWidth
	}

	var (
		lines    []string
		cur      string
		overflow bool
	)
	// push ends the current line; it reports false once no more lines may start.
	push := func() bool {
		lines = append(lines, cur)
		cur = ""
		return len(lines) < maxLines
	}

tokens:
	for _, tok := range tokenize(text) {
		if cur != "" {
			next := tok.text
			if tok.space {
				next = " " + next
			}
			if fits(cur + next) {
				cur += next
				continue
			}
			if !push() {
				overflow = true
				break
			}
		}
		if fits(tok.text) {
			cur = tok.text
			continue
		}
		// a single word wider than the line is broken between characters
		for _, r := range tok.text {
			if cur != "" && !fits(cur+string(r)) {
				if !push() {
					overflow = true
					break tokens
				}
			}
			cur += string(r)
		}
	}
	if !overflow && cur != "" {
		lines = append(lines, cur)
	}
	if overflow {
		lines[len(lines)-1] = withEllipsis(lines[len(lines)-1], fits)
	}
	return lines
}

// withEllipsis drops trailing characters from line until line+"…" fits.
func withEllipsis(line string, fits func(string) bool) string {
	runes := []rune(line)
	for len(runes) > 0 {
		candidate := strings.TrimRightFunc(string(runes), unicode.IsSpace) + ellipsis
		if fits(candidate) {
			return candidate
		}
		runes = runes[:len(runes)-1]
	}
	return ellipsis
}
