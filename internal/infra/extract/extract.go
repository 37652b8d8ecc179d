// Package extract implements the HTML→(text, headings, author) pipeline of
// spec.md §4.4: a main-content extraction library paired with a secondary
// DOM pass, falling back entirely to the DOM pass on library failure.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// MaxHeadings is the spec.md §4.4 cap: "first five h1|h2|h3".
const MaxHeadings = 5

// Result is the extractor's output contract.
type Result struct {
	Text     string
	Headings []string
	Author   string
}

// Extract runs readability first; on success it is paired with a goquery
// DOM pass for headings/author. On readability failure or empty output, it
// falls back entirely to the DOM strip-and-join strategy.
func Extract(html string, pageURL string) (Result, error) {
	base, _ := url.Parse(pageURL)

	doc, docErr := goquery.NewDocumentFromReader(strings.NewReader(html))

	text, readabilityErr := extractReadability(html, base)
	if readabilityErr == nil && strings.TrimSpace(text) != "" {
		res := Result{Text: text}
		if docErr == nil {
			res.Headings = extractHeadings(doc)
			res.Author = extractAuthor(doc)
		}
		return res, nil
	}

	if docErr != nil {
		return Result{}, fmt.Errorf("extract: readability failed (%v) and DOM parse failed: %w", readabilityErr, docErr)
	}

	return Result{
		Text:     domFallbackText(doc),
		Headings: extractHeadings(doc),
		Author:   extractAuthor(doc),
	}, nil
}

func extractReadability(html string, base *url.URL) (string, error) {
	article, err := readability.FromReader(strings.NewReader(html), base)
	if err != nil {
		return "", err
	}
	if article.TextContent != "" {
		return article.TextContent, nil
	}
	return article.Content, nil
}

// extractHeadings returns the first MaxHeadings h1|h2|h3 texts in document
// order, per spec.md §4.4.
func extractHeadings(doc *goquery.Document) []string {
	if doc == nil {
		return nil
	}
	var headings []string
	doc.Find("h1, h2, h3").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if text != "" {
			headings = append(headings, text)
		}
		return len(headings) < MaxHeadings
	})
	return headings
}

// extractAuthor reads <meta name="author">.
func extractAuthor(doc *goquery.Document) string {
	if doc == nil {
		return ""
	}
	author, _ := doc.Find(`meta[name="author"]`).First().Attr("content")
	return strings.TrimSpace(author)
}

// domFallbackText strips script|style|noscript and joins non-empty <p>
// text with double newlines; if there are no paragraphs, it uses the whole
// document text, per spec.md §4.4's full fallback path.
func domFallbackText(doc *goquery.Document) string {
	doc.Find("script, style, noscript").Remove()

	var paragraphs []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	})

	if len(paragraphs) > 0 {
		return strings.Join(paragraphs, "\n\n")
	}

	return strings.TrimSpace(doc.Text())
}
