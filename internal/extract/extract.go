// Package extract turns raw HTML into a PageRecord the way the page observer
// sees a document on load.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/pbaille/nexusdiet/internal/domain"
	"golang.org/x/net/html"
)

// SnippetLength is the rune length of ContentSnippet
const SnippetLength = 500

// Tags whose text never counts as page content
const skipTags = "script, style, noscript, iframe, template"

// FromHTML extracts metadata, headings and readable text from a document
func FromHTML(pageURL, htmlContent string) (domain.PageRecord, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return domain.PageRecord{}, fmt.Errorf("invalid URL: %w", err)
	}

	root, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return domain.PageRecord{}, fmt.Errorf("parse html: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	description := meta(doc, "description")
	if description == "" {
		description = meta(doc, "og:description")
	}

	rec := domain.PageRecord{
		URL:         pageURL,
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		OGTitle:     meta(doc, "og:title"),
		Description: description,
		Keywords:    meta(doc, "keywords"),
		OGType:      meta(doc, "og:type"),
		OGSiteName:  meta(doc, "og:site_name"),
		H1s:         headings(doc, "h1"),
		H2s:         headings(doc, "h2"),
		H3s:         headings(doc, "h3"),
		Favicon:     favicon(doc, base),
	}

	// Readability reshapes its own clone; selectors above saw the untouched tree.
	text := ""
	if article, err := readability.FromDocument(root, base); err == nil {
		text = collapse(article.TextContent)
		if rec.Title == "" {
			rec.Title = strings.TrimSpace(article.Title)
		}
	}
	if text == "" {
		text = bodyText(doc)
	}

	rec.ContentClean = text
	rec.ContentSnippet = collapse(truncateRunes(text, SnippetLength))
	return rec.Normalize(), nil
}

// meta reads a <meta> content attribute by name or property
func meta(doc *goquery.Document, key string) string {
	sel := fmt.Sprintf("meta[name=%q], meta[property=%q]", key, key)
	content, _ := doc.Find(sel).First().Attr("content")
	return strings.TrimSpace(content)
}

func headings(doc *goquery.Document, tag string) []string {
	out := []string{}
	doc.Find(tag).Each(func(_ int, s *goquery.Selection) {
		if t := collapse(s.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

func favicon(doc *goquery.Document, base *url.URL) string {
	href := "/favicon.ico"
	doc.Find("link[rel]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, rel := range strings.Fields(strings.ToLower(s.AttrOr("rel", ""))) {
			if rel == "icon" {
				if h := strings.TrimSpace(s.AttrOr("href", "")); h != "" {
					href = h
					return false
				}
			}
		}
		return true
	})

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func bodyText(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	body.Find(skipTags).Remove()
	return collapse(body.Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
