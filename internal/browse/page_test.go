package browse

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title>  Berlin Rent Index  </title>
  <meta name="description" content="Average rents by district">
  <style>.x { color: red }</style>
  <script>console.log("ignored")</script>
</head>
<body>
  <h1>Rent Index</h1>
  <p>Average cold rent is 12.50 EUR/sqm.</p>
  <a href="/districts/mitte">Mitte</a>
  <a href="https://example.org/about">About</a>
  <a href="#top">Top</a>
  <a href="javascript:void(0)">Menu</a>
  <table>
    <tr><th>District</th><th>EUR/sqm</th></tr>
    <tr><td>Mitte</td><td>14.20</td></tr>
    <tr><td>Neukölln</td><td>11.10</td></tr>
  </table>
</body>
</html>`

func TestParsePage(t *testing.T) {
	page := ParsePage("https://example.org/rents", []byte(samplePage), 0)

	assert.Equal(t, "Berlin Rent Index", page.Title)
	assert.Equal(t, "Average rents by district", page.MetaDescription)
	assert.Contains(t, page.Text, "Average cold rent is 12.50 EUR/sqm.")
	assert.NotContains(t, page.Text, "console.log")
	assert.NotContains(t, page.Text, "color: red")
}

func TestParsePageLinks(t *testing.T) {
	page := ParsePage("https://example.org/rents", []byte(samplePage), 0)

	// Fragment-only and javascript: links are skipped; relative hrefs resolve.
	require.Len(t, page.Links, 2)
	assert.Equal(t, "https://example.org/districts/mitte", page.Links[0].Href)
	assert.Equal(t, "Mitte", page.Links[0].Text)
	assert.Equal(t, "https://example.org/about", page.Links[1].Href)
}

func TestParsePageTables(t *testing.T) {
	page := ParsePage("https://example.org/rents", []byte(samplePage), 0)

	require.Len(t, page.Tables, 1)
	rows := page.Tables[0]
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"District", "EUR/sqm"}, rows[0])
	assert.Equal(t, []string{"Mitte", "14.20"}, rows[1])
}

func TestParsePageLinkCap(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < DefaultMaxLinks+50; i++ {
		fmt.Fprintf(&b, `<a href="/p/%d">p%d</a>`, i, i)
	}
	b.WriteString("</body></html>")

	page := ParsePage("https://example.org/", []byte(b.String()), 0)
	assert.Len(t, page.Links, DefaultMaxLinks)
}

func TestParsePageCustomLinkCap(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, `<a href="/p/%d">p%d</a>`, i, i)
	}
	b.WriteString("</body></html>")

	page := ParsePage("https://example.org/", []byte(b.String()), 10)
	assert.Len(t, page.Links, 10)
}

func TestParsePagePlainText(t *testing.T) {
	page := ParsePage("https://example.org/robots.txt", []byte("User-agent: *\nDisallow: /"), 0)
	assert.Contains(t, page.Text, "User-agent")
	assert.Empty(t, page.Title)
}

func TestTruncateLinks(t *testing.T) {
	links := make([]Link, 80)
	assert.Len(t, TruncateLinks(links, 50), 50)
	assert.Len(t, TruncateLinks(links[:10], 50), 10)
}
