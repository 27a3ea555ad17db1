// Package urlnorm normalizes and classifies crawl URLs. Normalize is
// adapted from the teacher's engine.CanonicalizeURL (internal/engine/dedup.go)
// generalized with a tracking-parameter strip list per spec.md §4.3;
// Classify is new, grounded on spec.md §4.3's canonical page-type ranking.
package urlnorm

import (
	"net/url"
	"sort"
	"strings"

	"github.com/cira-systems/cira-core/internal/cira/model"
)

// trackingParams are well-known query parameters stripped during
// normalization so that `?utm_source=x` and no query string collapse to
// the same frontier key.
var trackingParams = map[string]bool{
	"utm_source": true, "utm_medium": true, "utm_campaign": true,
	"utm_term": true, "utm_content": true, "utm_id": true,
	"gclid": true, "fbclid": true, "mc_cid": true, "mc_eid": true,
	"ref": true, "_ga": true,
}

// Normalize canonicalizes a URL for deduplication and frontier keying:
// lowercases scheme/host, strips default ports, fragments, tracking query
// parameters, and a trailing slash (except root), while preserving
// case-sensitive paths. Normalize(Normalize(u)) == Normalize(u).
func Normalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	host := u.Hostname()
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = host
	}

	if u.RawQuery != "" {
		params := u.Query()
		for k := range trackingParams {
			params.Del(k)
		}
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var sorted []string
		for _, k := range keys {
			vals := params[k]
			sort.Strings(vals)
			for _, v := range vals {
				sorted = append(sorted, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(sorted, "&")
	}

	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}

// Domain returns the registrable host for a normalized or raw URL, used as
// the RateGate/RobotsCache cache key.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// urlPatterns maps canonical page types to path substrings that strongly
// signal that type, tried in priority order so the first match wins.
var urlPatterns = []struct {
	pageType model.PageType
	needles  []string
}{
	{model.PageAbout, []string{"/about", "/company", "/who-we-are"}},
	{model.PageTeam, []string{"/team", "/our-team", "/people", "/leadership", "/founders"}},
	{model.PageProduct, []string{"/product", "/products", "/features"}},
	{model.PageService, []string{"/service", "/services", "/solutions"}},
	{model.PageContact, []string{"/contact", "/contact-us"}},
	{model.PageCareers, []string{"/careers", "/jobs", "/join-us"}},
	{model.PagePricing, []string{"/pricing", "/plans"}},
	{model.PageBlog, []string{"/blog", "/articles"}},
	{model.PageNews, []string{"/news", "/press"}},
}

// Classify categorizes a URL by path pattern. When the path gives no
// confident signal, callers should refine with ClassifyContent before
// falling back to PageOther.
func Classify(rawURL string) model.PageType {
	u, err := url.Parse(rawURL)
	if err != nil {
		return model.PageOther
	}
	path := strings.ToLower(u.Path)
	for _, p := range urlPatterns {
		for _, needle := range p.needles {
			if strings.Contains(path, needle) {
				return p.pageType
			}
		}
	}
	return model.PageOther
}

// contentSignals supplements URL-pattern classification with simple
// substring checks against a page's title/heading text, for pages whose
// path gives no hint (e.g. a root-relative slug site).
var contentSignals = []struct {
	pageType model.PageType
	needles  []string
}{
	{model.PageAbout, []string{"about us", "our story", "who we are"}},
	{model.PageTeam, []string{"our team", "leadership team", "meet the team"}},
	{model.PageCareers, []string{"we're hiring", "open positions", "join our team"}},
	{model.PagePricing, []string{"pricing plans", "choose a plan"}},
}

// ClassifyContent refines a PageOther classification using page text
// signals (title, first heading) when the URL pattern was inconclusive.
func ClassifyContent(urlType model.PageType, titleAndHeading string) model.PageType {
	if urlType != model.PageOther {
		return urlType
	}
	lower := strings.ToLower(titleAndHeading)
	for _, s := range contentSignals {
		for _, needle := range s.needles {
			if strings.Contains(lower, needle) {
				return s.pageType
			}
		}
	}
	return model.PageOther
}

// Priority returns the frontier ordering key for a page type.
func Priority(pt model.PageType) int {
	if p, ok := model.PageTypePriority[pt]; ok {
		return p
	}
	return model.PageTypePriority[model.PageOther]
}
