package extract

import (
	"strings"
	"testing"
)

func TestMetaTitleAndDescription(t *testing.T) {
	m := Meta(`<html><head>
		<title>  Example   Page </title>
		<meta name="description" content="A test page.">
	</head><body><p>one two three four five</p></body></html>`)

	if m.Title != "Example Page" {
		t.Errorf("title = %q", m.Title)
	}
	if m.Description != "A test page." {
		t.Errorf("description = %q", m.Description)
	}
	if m.WordCount != 5 {
		t.Errorf("word count = %d, want 5", m.WordCount)
	}
}

func TestMetaOpenGraphFallback(t *testing.T) {
	m := Meta(`<html><head>
		<meta property="og:title" content="OG Title">
		<meta property="og:description" content="OG description">
	</head><body></body></html>`)

	if m.Title != "OG Title" {
		t.Errorf("title = %q", m.Title)
	}
	if m.Description != "OG description" {
		t.Errorf("description = %q", m.Description)
	}
}

func TestMetaLongTitleTruncated(t *testing.T) {
	m := Meta("<html><head><title>" + strings.Repeat("x", 1000) + "</title></head></html>")
	if len(m.Title) != maxTitleLen {
		t.Errorf("title length = %d, want %d", len(m.Title), maxTitleLen)
	}
}

func TestMetaNonHTMLInput(t *testing.T) {
	m := Meta(`{"not": "html"}`)
	if m.Title != "" {
		t.Errorf("title from JSON = %q", m.Title)
	}
}

func TestTruncateRuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 200) // 2 bytes each
	got := truncate(s, 301)
	if len(got) != 300 {
		t.Errorf("truncated to %d bytes, want 300 (rune boundary)", len(got))
	}
	if !strings.HasSuffix(got, "é") {
		t.Error("truncation split a rune")
	}
}
