// Package metadata extracts the title and description shown on a share card
// from a page's HTML.
package metadata

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PageMetadata is the text rendered on a card.
type PageMetadata struct {
	Title       string
	Description string
}

// candidate yields one possible value for a field; "" means absent.
type candidate func(doc *goquery.Document) string

var titleCandidates = []candidate{
	metaContent(`meta[property="og:title"]`),
	text("head title"),
}

var descriptionCandidates = []candidate{
	metaContent(`meta[property="og:description"]`),
	metaContent(`meta[name="description"]`),
	firstText("body article"),
	text("body"),
}

// Extract parses html and resolves title and description through their
// fallback chains. Values are returned untrimmed and unescaped.
func Extract(html string) (PageMetadata, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return PageMetadata{}, fmt.Errorf("parse html: %w", err)
	}
	return PageMetadata{
		Title:       first(doc, titleCandidates),
		Description: first(doc, descriptionCandidates),
	}, nil
}

// first returns the first non-empty candidate value.
func first(doc *goquery.Document, candidates []candidate) string {
	for _, c := range candidates {
		if v := c(doc); v != "" {
			return v
		}
	}
	return ""
}

func metaContent(selector string) candidate {
	return func(doc *goquery.Document) string {
		v, _ := doc.Find(selector).First().Attr("content")
		return v
	}
}

func text(selector string) candidate {
	return func(doc *goquery.Document) string {
		return doc.Find(selector).Text()
	}
}

func firstText(selector string) candidate {
	return func(doc *goquery.Document) string {
		return doc.Find(selector).First().Text()
	}
}
