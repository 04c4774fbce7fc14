package adapter

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractText converts an HTML or HTML-encoded string to plain text.
// It first unescapes HTML entities (handles Greenhouse's double-encoding;
// no-op on already-real HTML), parses the markup, then collapses whitespace.
func extractText(content string) string {
	unescaped := html.UnescapeString(content)
	if !strings.Contains(unescaped, "<") {
		return strings.Join(strings.Fields(unescaped), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(unescaped))
	if err != nil {
		return strings.Join(strings.Fields(unescaped), " ")
	}
	doc.Find("script, style, noscript").Remove()

	// Block-level elements need a separator or adjacent words run together.
	doc.Find("p, li, br, div, h1, h2, h3, h4, tr").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// ExtractText is the exported form of extractText for normalizers.
func ExtractText(content string) string {
	return extractText(content)
}
