package fetch

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"

	"github.com/cira-systems/cira-core/internal/cira/ciraerr"
)

// ExtractHTML pulls visible body text and outbound link hrefs from a
// static HTML fetch, the text/link extraction counterpart to the
// CrawlEngine algorithm's step 5 (spec.md §4.4). Scripts and styles are
// dropped before text extraction so they don't pollute the content hash.
func ExtractHTML(body []byte) (text string, links []string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", nil, ciraerr.Wrap(ciraerr.CodePermanent, "parse HTML", err)
	}
	doc.Find("script, style, noscript").Remove()

	text = strings.Join(strings.Fields(doc.Find("body").Text()), " ")

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			links = append(links, href)
		}
	})
	return text, links, nil
}

// TitleAndHeading returns a page's <title> plus first <h1> text, the kind
// of short text urlnorm.ClassifyContent matches against. The crawler does
// not call it; it passes ClassifyContent the opening words of the page's
// extracted text instead.
func TitleAndHeading(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return doc.Find("title").First().Text() + " " + doc.Find("h1").First().Text()
}

// ExtractPDF extracts text from a PDF body via ledongthuc/pdf, per
// spec.md §4.4's PDF handling note. An image-only PDF yields empty text
// rather than an error, matching spec.md: "image-only PDFs produce an
// empty page and are skipped from entity extraction."
func ExtractPDF(body []byte) (string, error) {
	reader := bytes.NewReader(body)
	r, err := pdf.NewReader(reader, int64(len(body)))
	if err != nil {
		return "", ciraerr.Wrap(ciraerr.CodePermanent, "open PDF", err)
	}

	var buf bytes.Buffer
	totalPages := r.NumPage()
	for i := 1; i <= totalPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		buf.WriteString(content)
		buf.WriteString("\n")
	}
	return strings.Join(strings.Fields(buf.String()), " "), nil
}
