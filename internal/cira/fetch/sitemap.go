package fetch

import (
	"context"
	"encoding/xml"
	"time"

	"github.com/cira-systems/cira-core/internal/cira/ports"
)

// urlSet and sitemapIndex model the two XML shapes a sitemap URL can
// return (a leaf urlset or an index of further sitemaps), per the
// sitemaps.org schema. Fields outside loc/sitemap-of-sitemaps are
// irrelevant to seeding the Frontier, so only those are decoded.
type urlSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

type sitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// ExpandSitemaps fetches each sitemap URL (following one level of
// sitemap-index nesting) and returns the page URLs found, capped at
// maxSitemaps sitemap documents and maxURLs total page URLs per
// spec.md §4.4 step 1 (MAX_SITEMAPS=50, MAX_SITEMAP_URLS=10000).
func ExpandSitemaps(ctx context.Context, fetcher ports.Fetcher, sitemapURLs []string, maxSitemaps, maxURLs int) ([]string, error) {
	if fetcher == nil || len(sitemapURLs) == 0 {
		return nil, nil
	}
	var pageURLs []string
	visited := 0
	nested := make(map[string]bool) // sitemaps reached through an index

	queue := append([]string(nil), sitemapURLs...)
	for len(queue) > 0 && visited < maxSitemaps && len(pageURLs) < maxURLs {
		sm := queue[0]
		queue = queue[1:]
		visited++

		result, err := fetcher.FetchStatic(ctx, sm, 10*time.Second)
		if err != nil {
			continue // one bad sitemap doesn't fail the whole expansion
		}

		var set urlSet
		if err := xml.Unmarshal(result.Body, &set); err == nil && len(set.URLs) > 0 {
			for _, u := range set.URLs {
				if len(pageURLs) >= maxURLs {
					break
				}
				pageURLs = append(pageURLs, u.Loc)
			}
			continue
		}
		if nested[sm] {
			continue // only one level of index nesting is followed
		}

		var idx sitemapIndex
		if err := xml.Unmarshal(result.Body, &idx); err == nil && len(idx.Sitemaps) > 0 {
			for _, s := range idx.Sitemaps {
				if visited+len(queue) >= maxSitemaps {
					break
				}
				queue = append(queue, s.Loc)
				nested[s.Loc] = true
			}
		}
	}

	return pageURLs, nil
}
