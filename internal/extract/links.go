package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tkuosman/partsmirror/internal/scrape"
)

// ModelLinks returns the candidate model-page links found on a category
// page, resolved against the page URL and deduplicated in document
// order. Links without visible text, fragment-only links, and links
// leaving the category's host are skipped.
func (e *Extractor) ModelLinks(doc *goquery.Document, baseURL string) []scrape.ModelLink {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	set := newOrderedSet()
	titles := make(map[string]string)
	doc.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
		title := strings.Join(strings.Fields(link.Text()), " ")
		if title == "" {
			return
		}
		href, _ := link.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(strings.ToLower(href), "javascript:") ||
			strings.HasPrefix(strings.ToLower(href), "mailto:") {
			return
		}
		target, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(target)
		resolved.Fragment = ""
		if !strings.EqualFold(resolved.Hostname(), base.Hostname()) {
			return
		}
		u := resolved.String()
		if u == baseURL {
			return
		}
		set.add(u)
		if _, ok := titles[u]; !ok {
			titles[u] = title
		}
	})

	links := make([]scrape.ModelLink, 0, len(set.values))
	for _, u := range set.values {
		links = append(links, scrape.ModelLink{Title: titles[u], URL: u})
	}
	return links
}
