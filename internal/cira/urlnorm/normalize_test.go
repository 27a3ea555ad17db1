package urlnorm

import (
	"testing"

	"github.com/cira-systems/cira-core/internal/cira/model"
)

func TestNormalizeLowercasesSchemeAndHost(t *testing.T) {
	got := Normalize("HTTPS://Example.COM/Path")
	want := "https://example.com/Path"
	if got != want {
		t.Fatalf("Normalize() = %q, want %q", got, want)
	}
}

func TestNormalizeStripsDefaultPort(t *testing.T) {
	cases := map[string]string{
		"http://example.com:80/x":    "http://example.com/x",
		"https://example.com:443/x":  "https://example.com/x",
		"https://example.com:8443/x": "https://example.com:8443/x",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeStripsFragmentAndTrackingParams(t *testing.T) {
	got := Normalize("https://example.com/x?utm_source=foo&id=1#section")
	want := "https://example.com/x?id=1"
	if got != want {
		t.Fatalf("Normalize() = %q, want %q", got, want)
	}
}

func TestNormalizeSortsRemainingQueryParams(t *testing.T) {
	a := Normalize("https://example.com/x?b=2&a=1")
	b := Normalize("https://example.com/x?a=1&b=2")
	if a != b {
		t.Fatalf("query param order should not affect normalization: %q != %q", a, b)
	}
}

func TestNormalizeTrimsTrailingSlashExceptRoot(t *testing.T) {
	if got, want := Normalize("https://example.com/path/"), "https://example.com/path"; got != want {
		t.Errorf("Normalize() = %q, want %q", got, want)
	}
	if got, want := Normalize("https://example.com/"), "https://example.com/"; got != want {
		t.Errorf("Normalize() = %q, want %q", got, want)
	}
	if got, want := Normalize("https://example.com"), "https://example.com/"; got != want {
		t.Errorf("Normalize() = %q, want %q", got, want)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"HTTPS://Example.COM:443/Path/?utm_source=x&b=2&a=1#frag",
		"http://example.com",
		"https://example.com/path/",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestDomainLowercasesHost(t *testing.T) {
	if got, want := Domain("https://Example.COM/path"), "example.com"; got != want {
		t.Fatalf("Domain() = %q, want %q", got, want)
	}
}

func TestDomainInvalidURL(t *testing.T) {
	if got := Domain("://not a url"); got != "" {
		t.Fatalf("Domain() on invalid URL = %q, want empty", got)
	}
}

func TestClassifyURLPatterns(t *testing.T) {
	cases := map[string]model.PageType{
		"https://example.com/about":      model.PageAbout,
		"https://example.com/our-team":   model.PageTeam,
		"https://example.com/products":   model.PageProduct,
		"https://example.com/contact-us": model.PageContact,
		"https://example.com/careers":    model.PageCareers,
		"https://example.com/pricing":    model.PagePricing,
		"https://example.com/blog/post1": model.PageBlog,
		"https://example.com/press":      model.PageNews,
		"https://example.com/random":     model.PageOther,
	}
	for url, want := range cases {
		if got := Classify(url); got != want {
			t.Errorf("Classify(%q) = %q, want %q", url, got, want)
		}
	}
}

func TestClassifyFirstPatternWins(t *testing.T) {
	// "/about" appears before "/team" in urlPatterns, so a path containing
	// both should classify as About.
	got := Classify("https://example.com/about/team")
	if got != model.PageAbout {
		t.Fatalf("Classify() = %q, want %q (first matching pattern)", got, model.PageAbout)
	}
}

func TestClassifyContentRefinesOnlyPageOther(t *testing.T) {
	if got := ClassifyContent(model.PageProduct, "We're hiring!"); got != model.PageProduct {
		t.Fatalf("ClassifyContent should not override a confident URL classification, got %q", got)
	}
	if got := ClassifyContent(model.PageOther, "We're hiring across every team"); got != model.PageCareers {
		t.Fatalf("ClassifyContent() = %q, want %q", got, model.PageCareers)
	}
	if got := ClassifyContent(model.PageOther, "nothing interesting here"); got != model.PageOther {
		t.Fatalf("ClassifyContent() = %q, want %q", got, model.PageOther)
	}
}

func TestPriorityFallsBackToOtherForUnknownType(t *testing.T) {
	want := model.PageTypePriority[model.PageOther]
	if got := Priority(model.PageType("not-a-real-type")); got != want {
		t.Fatalf("Priority() = %d, want %d", got, want)
	}
}
