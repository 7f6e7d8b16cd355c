// Package extract recovers structured part records from loosely
// patterned tabular listing markup. Pages have no stable schema; blocks
// of rows are recognized by marker tokens in their cells.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/tkuosman/partsmirror/internal/scrape"
)

// Markers are the row labels that structure a listing table. The zero
// value is replaced with the site's defaults.
type Markers struct {
	Block       string
	PartNumber  string
	Description string
}

// Site defaults.
const (
	DefaultBlockMarker       = "OSA"
	DefaultPartNumberMarker  = "OSANRO"
	DefaultDescriptionMarker = "KUVAUS"
)

var (
	pricePattern      = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*([A-Z]{3})\b`)
	partNumberPattern = regexp.MustCompile(`\d+`)
)

// Extractor parses fetched listing pages into candidate part records.
type Extractor struct {
	markers Markers
	logger  *zap.Logger
}

// New builds an Extractor. Empty marker fields fall back to defaults.
func New(markers Markers, logger *zap.Logger) *Extractor {
	if markers.Block == "" {
		markers.Block = DefaultBlockMarker
	}
	if markers.PartNumber == "" {
		markers.PartNumber = DefaultPartNumberMarker
	}
	if markers.Description == "" {
		markers.Description = DefaultDescriptionMarker
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{markers: markers, logger: logger}
}

// ParseDocument parses raw page bytes into a queryable document.
func ParseDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

// Parts scans every table in doc for marker-delimited blocks and returns
// the deduplicated candidate records. Records missing a name or a
// strictly positive price are discarded silently; that is an exclusion
// rule, not an error.
func (e *Extractor) Parts(doc *goquery.Document, baseURL string) []scrape.ExtractedPart {
	var out []scrape.ExtractedPart
	seen := make(map[string]int)

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		for _, candidate := range e.tableParts(table, baseURL) {
			key := candidate.PartNumber
			if key == "" {
				key = candidate.Name
			}
			if idx, ok := seen[key]; ok {
				out[idx] = mergeCandidates(out[idx], candidate)
				continue
			}
			seen[key] = len(out)
			out = append(out, candidate)
		}
	})
	return out
}

// tableParts segments one table's rows into blocks and extracts a
// candidate from each.
func (e *Extractor) tableParts(table *goquery.Selection, baseURL string) []scrape.ExtractedPart {
	rows := table.Find("tr")
	var starts []int
	rows.Each(func(i int, row *goquery.Selection) {
		if e.isBlockStart(row) {
			starts = append(starts, i)
		}
	})
	if len(starts) == 0 {
		return nil
	}

	var parts []scrape.ExtractedPart
	for n, start := range starts {
		end := rows.Length()
		if n+1 < len(starts) {
			end = starts[n+1]
		}
		candidate, ok := e.blockPart(rows, start, end, baseURL)
		if !ok {
			continue
		}
		parts = append(parts, candidate)
	}
	return parts
}

func (e *Extractor) blockPart(rows *goquery.Selection, start, end int, baseURL string) (scrape.ExtractedPart, bool) {
	markerRow := rows.Eq(start)
	part := scrape.ExtractedPart{Name: e.partName(markerRow)}

	for i := start + 1; i < end; i++ {
		row := rows.Eq(i)
		cells := row.Find("td, th")
		first := normalizeCell(cellText(cells.Eq(0)))

		switch {
		case part.PartNumber == "" && strings.EqualFold(first, e.markers.PartNumber):
			part.PartNumber = partNumberValue(cells, row)
		case part.Description == "" && strings.EqualFold(first, e.markers.Description):
			part.Description = descriptionValue(cells)
		}

		if part.Price == 0 {
			if price, currency, ok := matchPrice(rowText(row)); ok {
				part.Price = price
				part.Currency = currency
			}
		}
	}

	if part.Name == "" || part.Price <= 0 {
		e.logger.Debug("discarding incomplete candidate block",
			zap.String("name", part.Name), zap.Float64("price", part.Price))
		return scrape.ExtractedPart{}, false
	}

	part.ImageURLs = e.blockImages(rows, start, end, baseURL)
	if len(part.ImageURLs) > 0 {
		part.ImageURL = part.ImageURLs[0]
	}
	return part, true
}

// isBlockStart reports whether a row carries the block-start marker in
// any of its cells.
func (e *Extractor) isBlockStart(row *goquery.Selection) bool {
	found := false
	row.Find("td, th").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		if strings.EqualFold(normalizeCell(cellText(cell)), e.markers.Block) {
			found = true
			return false
		}
		return true
	})
	return found
}

// partName is the last non-empty, non-placeholder cell of the marker row.
func (e *Extractor) partName(row *goquery.Selection) string {
	name := ""
	row.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
		text := cellText(cell)
		if text == "" || isPlaceholder(text) {
			return
		}
		if strings.EqualFold(normalizeCell(text), e.markers.Block) {
			return
		}
		name = text
	})
	return name
}

// blockImages collects image candidates in priority order: images in the
// table outside this block, then the marker row, then the block's rows.
// The first inserted candidate is the primary.
func (e *Extractor) blockImages(rows *goquery.Selection, start, end int, baseURL string) []string {
	set := newOrderedSet()
	rows.Each(func(i int, row *goquery.Selection) {
		if i < start || i >= end {
			collectRowImages(row, baseURL, set)
		}
	})
	collectRowImages(rows.Eq(start), baseURL, set)
	for i := start + 1; i < end; i++ {
		collectRowImages(rows.Eq(i), baseURL, set)
	}
	return set.values
}

func collectRowImages(row *goquery.Selection, baseURL string, set *orderedSet) {
	row.Find("img").Each(func(_ int, img *goquery.Selection) {
		ref := ""
		if link := img.ParentsFiltered("a").First(); link.Length() > 0 {
			ref, _ = link.Attr("href")
		}
		if ref == "" {
			ref, _ = img.Attr("src")
		}
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return
		}
		set.add(ResolveImageURL(ref, baseURL))
	})
}

func partNumberValue(cells, row *goquery.Selection) string {
	// Direct cell value preferred; fall back to a pattern match within
	// the row text. The literal "0" is a known placeholder on the site.
	if v := cellText(cells.Eq(1)); v != "" && v != "0" {
		return v
	}
	for _, m := range partNumberPattern.FindAllString(rowText(row), -1) {
		if m != "0" {
			return m
		}
	}
	return ""
}

func descriptionValue(cells *goquery.Selection) string {
	var parts []string
	for i := 1; i < cells.Length(); i++ {
		if v := cellText(cells.Eq(i)); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func matchPrice(text string) (float64, string, bool) {
	m := pricePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, "", false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return 0, "", false
	}
	return value, m[2], true
}

func mergeCandidates(dst, src scrape.ExtractedPart) scrape.ExtractedPart {
	known := make(map[string]struct{}, len(dst.ImageURLs))
	for _, u := range dst.ImageURLs {
		known[u] = struct{}{}
	}
	for _, u := range src.ImageURLs {
		if _, ok := known[u]; ok {
			continue
		}
		known[u] = struct{}{}
		dst.ImageURLs = append(dst.ImageURLs, u)
	}
	if dst.ImageURL == "" {
		dst.ImageURL = src.ImageURL
	}
	return dst
}

// ResolveImageURL turns a raw image reference into an absolute URL.
// Absolute references pass through, protocol-relative ones gain the base
// scheme, relative paths resolve against the page URL, and anything
// unparsable falls back to the site root.
func ResolveImageURL(ref, baseURL string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" {
		base = &url.URL{Scheme: "https"}
	}
	if strings.HasPrefix(ref, "//") {
		return base.Scheme + ":" + ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return siteRoot(base) + "/" + strings.TrimLeft(ref, "/")
	}
	return base.ResolveReference(parsed).String()
}

func siteRoot(base *url.URL) string {
	return base.Scheme + "://" + base.Host
}

func cellText(cell *goquery.Selection) string {
	return strings.TrimSpace(cell.Text())
}

// normalizeCell strips the trailing colon variant of a marker label.
func normalizeCell(text string) string {
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), ":"))
}

func rowText(row *goquery.Selection) string {
	return strings.Join(strings.Fields(row.Text()), " ")
}

func isPlaceholder(text string) bool {
	switch strings.TrimSpace(text) {
	case "", "-", "–", "0", " ":
		return true
	}
	return false
}

type orderedSet struct {
	seen   map[string]struct{}
	values []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(v string) {
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.values = append(s.values, v)
}
