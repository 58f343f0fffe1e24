// Package extract pulls lightweight page metadata out of fetched HTML
// so records carry something more useful than byte counts.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// maxTitleLen bounds the title stored on a record; some pages stuff
// entire paragraphs into <title>.
const maxTitleLen = 300

const maxDescriptionLen = 500

// PageMeta is what the extractor finds in a document.
type PageMeta struct {
	Title       string
	Description string
	WordCount   int
}

// Meta parses the document and extracts title, meta description, and a
// visible-text word count. Unparseable HTML yields a zero PageMeta;
// extraction never fails a fetch.
func Meta(body string) PageMeta {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return PageMeta{}
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title, _ = doc.Find(`meta[property="og:title"]`).First().Attr("content")
		title = strings.TrimSpace(title)
	}

	desc, _ := doc.Find(`meta[name="description"]`).First().Attr("content")
	desc = strings.TrimSpace(desc)
	if desc == "" {
		desc, _ = doc.Find(`meta[property="og:description"]`).First().Attr("content")
		desc = strings.TrimSpace(desc)
	}

	body = doc.Find("body").Text()

	return PageMeta{
		Title:       truncate(collapseSpace(title), maxTitleLen),
		Description: truncate(collapseSpace(desc), maxDescriptionLen),
		WordCount:   len(strings.Fields(body)),
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Cut on a rune boundary.
	for max > 0 && s[max]&0xC0 == 0x80 {
		max--
	}
	return s[:max]
}
