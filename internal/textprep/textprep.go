// Package textprep cleans raw feed text before classification and provides
// the shared normalization used by the matcher and the deduplicator.
package textprep

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/tge-sentinel/internal/model"
)

// StripHTML returns the visible text of an HTML fragment. Input without
// markup is returned unchanged apart from whitespace collapsing.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapseSpaces(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapseSpaces(s)
	}
	doc.Find("script, style, noscript").Remove()
	return collapseSpaces(doc.Text())
}

// Prepare returns a copy of item with HTML stripped from title and body.
func Prepare(item model.CandidateItem) model.CandidateItem {
	item.Title = StripHTML(item.Title)
	item.Body = StripHTML(item.Body)
	item.URL = strings.TrimSpace(item.URL)
	item.SourceID = strings.TrimSpace(item.SourceID)
	return item
}

// Normalize lowercases s, applies NFKC and replaces every rune that is not a
// letter, digit or '$' with a single space. The result always starts and
// ends with a space so whole-word phrases can be found with a plain
// substring search on " phrase ".
func Normalize(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))

	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte(' ')
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '$' {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

// Phrase normalizes a lexicon phrase the same way as Normalize. It returns
// "" for phrases with no word characters.
func Phrase(p string) string {
	n := Normalize(p)
	if strings.TrimSpace(n) == "" {
		return ""
	}
	return n
}

// Words splits s into normalized words.
func Words(s string) []string {
	return strings.Fields(Normalize(s))
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
