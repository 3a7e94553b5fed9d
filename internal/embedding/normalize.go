package embedding

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ticket-classifier/backend/pkg/utils"
)

var whitespace = regexp.MustCompile(`\s+`)

// Normalize strips markup, collapses whitespace and lowercases text. Two
// tickets that differ only in formatting share one cache entry.
func Normalize(text string) string {
	if strings.ContainsAny(text, "<&") {
		text = stripHTML(text)
	}
	text = whitespace.ReplaceAllString(text, " ")
	return strings.ToLower(strings.TrimSpace(text))
}

func stripHTML(text string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return text
	}
	doc.Find("script, style").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})
	return doc.Text()
}

// Key is the cache key for text.
func Key(text string) string {
	return utils.HashString(Normalize(text))
}
