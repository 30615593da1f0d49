// Package scrape extracts dataset records from the NHANES data pages.
package scrape

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ligustah/nhanes/internal/catalog"
	nhttp "github.com/ligustah/nhanes/internal/http"
)

// Fetcher retrieves a page body.
type Fetcher interface {
	Get(ctx context.Context, url string) (io.ReadCloser, error)
}

// Options configures a Scraper.
type Options struct {
	// SourceURL is the data page URL; the category name is appended to it.
	SourceURL string

	// BaseURL resolves relative links found on the page.
	BaseURL string

	// Retry applies to page fetches.
	Retry nhttp.RetryPolicy

	// Logger is optional.
	Logger *slog.Logger
}

// Scraper implements catalog.Scraper over the public data pages.
type Scraper struct {
	fetcher Fetcher
	base    *url.URL
	opts    Options
}

// New creates a scraper.
func New(fetcher Fetcher, opts Options) (*Scraper, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Scraper{fetcher: fetcher, base: base, opts: opts}, nil
}

// ScrapeCategory fetches the data page of category and returns its public
// datasets.
func (s *Scraper) ScrapeCategory(ctx context.Context, category string) ([]catalog.Record, error) {
	pageURL := s.opts.SourceURL + url.QueryEscape(category)
	s.opts.Logger.InfoContext(ctx, "scraping", "category", category, "url", pageURL)

	var records []catalog.Record
	err := s.opts.Retry.Do(ctx, func(attempt int) error {
		body, err := s.fetcher.Get(ctx, pageURL)
		if err != nil {
			return err
		}
		defer body.Close()

		records, err = s.Parse(body, category)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", category, err)
	}
	return records, nil
}

// Parse extracts records from a data page. Rows that are restricted,
// withdrawn, lack a data link, or whose data link is not an XPORT file are
// skipped.
func (s *Scraper) Parse(r io.Reader, category string) ([]catalog.Record, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	var records []catalog.Record
	doc.Find("table > tbody > tr").Each(func(_ int, row *goquery.Selection) {
		html, err := goquery.OuterHtml(row)
		if err != nil {
			return
		}
		html = strings.ToLower(html)
		if strings.Contains(html, "limited_access") || strings.Contains(html, "withdrawn") {
			return
		}

		dataLink := row.Find("td:nth-child(4) > a").First()
		if dataLink.Length() == 0 {
			return
		}

		rec := catalog.Record{
			Period:      cellText(row, 1),
			Category:    category,
			Description: cellText(row, 2),
			DataURL:     s.resolve(dataLink.AttrOr("href", "")),
			DocsURL:     s.resolve(row.Find("td:nth-child(3) > a").First().AttrOr("href", "")),
		}
		if !rec.HasDataLink() {
			return
		}
		records = append(records, rec)
	})
	return records, nil
}

func cellText(row *goquery.Selection, n int) string {
	return strings.TrimSpace(row.Find(fmt.Sprintf("td:nth-child(%d)", n)).First().Text())
}

func (s *Scraper) resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return s.base.ResolveReference(ref).String()
}
