package browse

import (
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// DefaultMaxLinks caps how many links are collected from one page.
const DefaultMaxLinks = 200

// Page is a fetched, parsed page.
type Page struct {
	URL             string        `json:"url"`
	StatusCode      int           `json:"status_code"`
	ContentType     string        `json:"content_type,omitempty"`
	Title           string        `json:"title,omitempty"`
	MetaDescription string        `json:"meta_description,omitempty"`
	Text            string        `json:"text,omitempty"`
	Links           []Link        `json:"links,omitempty"`
	Tables          [][][]string  `json:"tables,omitempty"`
	Truncated       bool          `json:"truncated"`
	FetchedIn       time.Duration `json:"-"`
}

// Link is one anchor found on a page, href resolved against the page URL.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// ParsePage parses body as HTML and extracts title, meta description, visible
// text, links, and tables. At most maxLinks links are collected; zero or
// negative falls back to DefaultMaxLinks. Non-HTML bodies degrade gracefully:
// the x/net/html parser accepts any input, so plain text comes back in Text.
func ParsePage(pageURL string, body []byte, maxLinks int) *Page {
	page := &Page{URL: pageURL}
	if maxLinks <= 0 {
		maxLinks = DefaultMaxLinks
	}

	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		// html.Parse only fails on reader errors, never on malformed markup.
		page.Text = string(body)
		return page
	}

	page.Title = extractTitle(doc)
	page.MetaDescription = extractMetaDescription(doc)
	page.Text = extractText(doc)
	page.Links = extractLinks(doc, pageURL, maxLinks)
	page.Tables = extractTables(doc)
	return page
}

// TruncateLinks returns at most n links.
func TruncateLinks(links []Link, n int) []Link {
	if len(links) <= n {
		return links
	}
	return links[:n]
}

func extractTitle(doc *html.Node) string {
	var title string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
			if title != "" {
				return
			}
		}
	}
	traverse(doc)
	return title
}

func extractMetaDescription(doc *html.Node) string {
	var description string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "meta" {
			var isDescription bool
			var content string
			for _, attr := range n.Attr {
				if attr.Key == "name" && strings.EqualFold(attr.Val, "description") {
					isDescription = true
				}
				if attr.Key == "content" {
					content = attr.Val
				}
			}
			if isDescription && content != "" {
				description = strings.TrimSpace(content)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
			if description != "" {
				return
			}
		}
	}
	traverse(doc)
	return description
}

// extractText collects visible text, skipping script/style/noscript and other
// non-content elements, with block elements separated by newlines.
func extractText(doc *html.Node) string {
	var builder strings.Builder
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.CommentNode {
			return
		}
		if n.Type == html.ElementNode && skippedElements[strings.ToLower(n.Data)] {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				builder.WriteString(text)
				builder.WriteString(" ")
			}
			return
		}
		if n.Type == html.ElementNode && blockElements[strings.ToLower(n.Data)] {
			builder.WriteString("\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)
	return normalizeWhitespace(builder.String())
}

// extractLinks collects anchors with non-empty hrefs, resolved against base,
// capped at maxLinks. Fragment-only and javascript: hrefs are skipped.
func extractLinks(doc *html.Node, base string, maxLinks int) []Link {
	baseURL, _ := url.Parse(base)

	var links []Link
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if len(links) >= maxLinks {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				href := strings.TrimSpace(attr.Val)
				if href == "" || strings.HasPrefix(href, "#") ||
					strings.HasPrefix(strings.ToLower(href), "javascript:") {
					break
				}
				if baseURL != nil {
					if resolved, err := baseURL.Parse(href); err == nil {
						href = resolved.String()
					}
				}
				links = append(links, Link{
					Text: normalizeWhitespace(nodeText(n)),
					Href: href,
				})
				break
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)
	return links
}

// extractTables collects each <table> as rows of cell text, treating th and
// td alike.
func extractTables(doc *html.Node) [][][]string {
	var tables [][][]string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "table" {
			if rows := tableRows(n); len(rows) > 0 {
				tables = append(tables, rows)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)
	return tables
}

func tableRows(table *html.Node) [][]string {
	var rows [][]string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					cells = append(cells, normalizeWhitespace(nodeText(c)))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(table)
	return rows
}

// nodeText returns the concatenated text content beneath n.
func nodeText(n *html.Node) string {
	var builder strings.Builder
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.TextNode {
			builder.WriteString(n.Data)
			builder.WriteString(" ")
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(n)
	return builder.String()
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"iframe":   true,
	"embed":    true,
	"object":   true,
	"svg":      true,
	"head":     true,
}

var blockElements = map[string]bool{
	"div": true, "p": true, "section": true, "article": true,
	"header": true, "footer": true, "nav": true, "main": true, "aside": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "li": true,
	"table": true, "tr": true,
	"blockquote": true, "pre": true, "br": true,
}
