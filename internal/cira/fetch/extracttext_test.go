package fetch

import (
	"strings"
	"testing"
)

const sampleHTML = `
<html>
<head><title>Acme Corp</title></head>
<body>
<h1>Welcome to Acme</h1>
<script>var x = 1;</script>
<style>.a{color:red}</style>
<p>We build  widgets   for everyone.</p>
<a href="/about">About</a>
<a href="https://external.test/partner">Partner</a>
<a href="">ignored</a>
</body>
</html>`

func TestExtractHTMLStripsScriptsAndStyles(t *testing.T) {
	text, _, err := ExtractHTML([]byte(sampleHTML))
	if err != nil {
		t.Fatalf("ExtractHTML: %v", err)
	}
	if strings.Contains(text, "var x") || strings.Contains(text, "color:red") {
		t.Fatalf("extracted text should not contain script/style content: %q", text)
	}
	if !strings.Contains(text, "We build widgets for everyone.") {
		t.Fatalf("extracted text missing expected content: %q", text)
	}
}

func TestExtractHTMLCollapsesWhitespace(t *testing.T) {
	text, _, err := ExtractHTML([]byte(sampleHTML))
	if err != nil {
		t.Fatalf("ExtractHTML: %v", err)
	}
	if strings.Contains(text, "  ") {
		t.Fatalf("extracted text should have collapsed whitespace: %q", text)
	}
}

func TestExtractHTMLCollectsLinksIgnoringEmptyHref(t *testing.T) {
	_, links, err := ExtractHTML([]byte(sampleHTML))
	if err != nil {
		t.Fatalf("ExtractHTML: %v", err)
	}
	want := []string{"/about", "https://external.test/partner"}
	if len(links) != len(want) {
		t.Fatalf("links = %v, want %v", links, want)
	}
	for i, w := range want {
		if links[i] != w {
			t.Errorf("links[%d] = %q, want %q", i, links[i], w)
		}
	}
}

func TestExtractHTMLInvalidBodyStillParses(t *testing.T) {
	// goquery/html tolerate malformed markup rather than erroring; this
	// just confirms ExtractHTML doesn't panic on garbage input.
	if _, _, err := ExtractHTML([]byte("<not even close to html")); err != nil {
		t.Fatalf("ExtractHTML on malformed input returned an error: %v", err)
	}
}

func TestTitleAndHeadingConcatenatesTitleAndH1(t *testing.T) {
	got := TitleAndHeading([]byte(sampleHTML))
	if !strings.Contains(got, "Acme Corp") || !strings.Contains(got, "Welcome to Acme") {
		t.Fatalf("TitleAndHeading() = %q", got)
	}
}

func TestExtractPDFOnGarbageBodyReturnsError(t *testing.T) {
	if _, err := ExtractPDF([]byte("not a pdf")); err == nil {
		t.Fatal("expected an error opening a non-PDF body")
	}
}
