package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ligustah/nhanes/internal/metrics"
)

// Scraper extracts the published datasets of a single category.
type Scraper interface {
	ScrapeCategory(ctx context.Context, category string) ([]Record, error)
}

// ProviderOptions configures a Provider.
type ProviderOptions struct {
	// Categories to scrape. Default: Categories().
	Categories []string

	// Logger receives per-category warnings. Default: discard.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Provider serves the catalog from its store, scraping it when absent or
// when a refresh is requested.
type Provider struct {
	store   *Store
	scraper Scraper
	opts    ProviderOptions
}

// NewProvider creates a provider backed by store and scraper.
func NewProvider(store *Store, scraper Scraper, opts ProviderOptions) *Provider {
	if len(opts.Categories) == 0 {
		opts.Categories = Categories()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Provider{store: store, scraper: scraper, opts: opts}
}

// Catalog returns the persisted catalog unchanged unless refresh is set or
// nothing has been persisted yet, in which case it scrapes every category.
// A catalog that exists but cannot be read is an error.
func (p *Provider) Catalog(ctx context.Context, refresh bool) (Catalog, error) {
	if !refresh {
		c, err := p.store.Load(ctx)
		if err == nil {
			p.opts.Logger.DebugContext(ctx, "loaded catalog", "key", p.store.Key(), "records", len(c))
			p.opts.Metrics.SetCatalogRecords(len(c))
			return c, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		p.opts.Logger.InfoContext(ctx, "available datasets unknown, scraping", "key", p.store.Key())
	}

	return p.Refresh(ctx)
}

// Refresh scrapes all categories concurrently and persists the merged result
// once every category has finished. A failing category contributes no
// records. When every category fails nothing is persisted.
func (p *Provider) Refresh(ctx context.Context) (Catalog, error) {
	categories := p.opts.Categories
	batches := make([][]Record, len(categories))
	failures := make([]error, len(categories))

	var g errgroup.Group
	for i, category := range categories {
		g.Go(func() error {
			records, err := p.scraper.ScrapeCategory(ctx, category)
			if err != nil {
				failures[i] = err
				return nil
			}
			batches[i] = p.validRecords(ctx, category, records)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var failed int
	for i, err := range failures {
		if err == nil {
			continue
		}
		failed++
		p.opts.Metrics.ScrapeFailed()
		p.opts.Logger.WarnContext(ctx, "scrape failed, category skipped",
			"category", categories[i],
			"error", err,
		)
	}

	c := Merge(batches...)
	p.opts.Metrics.SetCatalogRecords(len(c))

	if failed == len(categories) {
		p.opts.Logger.WarnContext(ctx, "every category failed, catalog not persisted")
		return c, nil
	}

	if err := p.store.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("persist catalog: %w", err)
	}
	p.opts.Logger.InfoContext(ctx, "scraping complete",
		"key", p.store.Key(),
		"records", len(c),
		"failed_categories", failed,
	)
	return c, nil
}

func (p *Provider) validRecords(ctx context.Context, category string, records []Record) []Record {
	out := records[:0:0]
	for _, r := range records {
		if r.Category != category || !r.HasDataLink() {
			p.opts.Logger.DebugContext(ctx, "dropping record", "category", category, "data_url", r.DataURL)
			continue
		}
		out = append(out, r)
	}
	return out
}
