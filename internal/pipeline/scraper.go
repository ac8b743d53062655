package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"morada/internal/httpclient"
)

// maxListingBytes bounds how much of a listing page is read; gallery-heavy
// pages past this size are rejected rather than buffered.
const maxListingBytes = 4 << 20

// HTTPScraper fetches a property listing page over HTTP and extracts its
// title and gallery image URLs with goquery. It implements Scraper;
// Pipeline falls back to a fixture when no Scraper is configured.
type HTTPScraper struct {
	Client *http.Client
}

// NewHTTPScraper builds an HTTPScraper with client, or a breaker-guarded
// default when nil.
func NewHTTPScraper(client *http.Client) *HTTPScraper {
	if client == nil {
		client = httpclient.NewWithCircuitBreaker(0, nil, "property-scraper")
	}
	return &HTTPScraper{Client: client}
}

func (s *HTTPScraper) Scrape(ctx context.Context, propertyURL string) (string, []Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, propertyURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("scrape: build request: %w", err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("scrape: fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil, fmt.Errorf("scrape: unexpected status %d", resp.StatusCode)
	}

	body, err := httpclient.ReadAllWithLimit(resp.Body, maxListingBytes)
	if err != nil {
		return "", nil, fmt.Errorf("scrape: read body: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("scrape: parse HTML: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	var images []Image
	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		if !ok || strings.TrimSpace(src) == "" {
			return
		}
		tag := roomTagFromClasses(sel)
		images = append(images, Image{URL: src, Tag: tag})
	})

	return title, images, nil
}

// roomTagFromClasses reads a data-room-type attribute set by listing sites
// that pre-label their gallery images; classify() falls back to the vision
// classifier when this is empty.
func roomTagFromClasses(sel *goquery.Selection) string {
	if tag, ok := sel.Attr("data-room-type"); ok {
		return strings.TrimSpace(tag)
	}
	return ""
}
