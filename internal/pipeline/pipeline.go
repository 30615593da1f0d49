package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gocloud.dev/blob"
	"golang.org/x/sync/errgroup"

	"github.com/ligustah/nhanes/internal/catalog"
	"github.com/ligustah/nhanes/internal/config"
	"github.com/ligustah/nhanes/internal/convert"
	"github.com/ligustah/nhanes/internal/downloader"
)

// ErrCatalog wraps failures to obtain the catalog.
var ErrCatalog = errors.New("catalog unavailable")

// CatalogSource provides the dataset catalog.
type CatalogSource interface {
	Catalog(ctx context.Context, refresh bool) (catalog.Catalog, error)
}

// Options configures a Pipeline.
type Options struct {
	// Layout is config.LayoutFlat (default) or config.LayoutCategory.
	Layout string

	Logger *slog.Logger
}

// Pipeline runs the sync and convert phases against one destination bucket.
type Pipeline struct {
	source     CatalogSource
	downloader *downloader.Downloader
	converter  *convert.Converter
	bucket     *blob.Bucket
	opts       Options
}

// New creates a pipeline writing into bucket.
func New(source CatalogSource, dl *downloader.Downloader, conv *convert.Converter, bucket *blob.Bucket, opts Options) *Pipeline {
	if opts.Layout == "" {
		opts.Layout = config.LayoutFlat
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		source:     source,
		downloader: dl,
		converter:  conv,
		bucket:     bucket,
		opts:       opts,
	}
}

// SyncRequest selects what to download. Empty Categories or Periods select
// everything known.
type SyncRequest struct {
	Categories  []string
	Periods     []string
	IncludeDocs bool
	Refresh     bool
	Convert     bool
}

// SyncResult reports what Sync did.
type SyncResult struct {
	// Datasets is the number of catalog records matching the request.
	Datasets int

	// Downloads totals every partition.
	Downloads downloader.Summary

	// Partitions holds per-category summaries for the category layout.
	Partitions map[string]downloader.Summary

	// Conversion is set when the request asked for conversion.
	Conversion *convert.Summary
}

// Datasets returns the catalog records matching sel.
func (p *Pipeline) Datasets(ctx context.Context, sel catalog.Selection, refresh bool) (catalog.Catalog, error) {
	c, err := p.source.Catalog(ctx, refresh)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalog, err)
	}
	return c.Filter(sel), nil
}

// Sync downloads the selected datasets, then optionally converts them.
// Per-file failures are reported in the result, not as an error.
func (p *Pipeline) Sync(ctx context.Context, req SyncRequest) (SyncResult, error) {
	var res SyncResult

	sel := catalog.Selection{Categories: req.Categories, Periods: req.Periods}.Normalize()
	matched, err := p.Datasets(ctx, sel, req.Refresh)
	if err != nil {
		return res, err
	}
	res.Datasets = len(matched)

	if len(matched) == 0 {
		p.opts.Logger.WarnContext(ctx, "No datasets found matching the specified criteria",
			"categories", sel.Categories,
			"periods", sel.Periods,
		)
		return res, nil
	}

	p.opts.Logger.InfoContext(ctx, "datasets selected", "datasets", len(matched), "layout", p.opts.Layout)

	switch p.opts.Layout {
	case config.LayoutCategory:
		res.Partitions, err = p.syncByCategory(ctx, sel.Categories, matched, req.IncludeDocs)
		for _, category := range sel.Categories {
			if s, ok := res.Partitions[category]; ok {
				res.Downloads = add(res.Downloads, s)
			}
		}
	default:
		res.Downloads, err = p.downloader.DownloadAll(ctx, matched.URLs(req.IncludeDocs), downloader.Destination{Bucket: p.bucket})
	}
	if err != nil {
		return res, err
	}

	if req.Convert {
		sum, err := p.Convert(ctx)
		res.Conversion = &sum
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// syncByCategory runs one download per category under "<Category>/",
// concurrently. Each partition has its own admission gate.
func (p *Pipeline) syncByCategory(ctx context.Context, categories []string, matched catalog.Catalog, includeDocs bool) (map[string]downloader.Summary, error) {
	groups := matched.ByCategory()

	var present []string
	for _, category := range categories {
		if len(groups[category]) > 0 {
			present = append(present, category)
		}
	}

	results := make([]downloader.Summary, len(present))
	g, gctx := errgroup.WithContext(ctx)
	for i, category := range present {
		g.Go(func() error {
			sum, err := p.downloader.DownloadAll(gctx, groups[category].URLs(includeDocs), downloader.Destination{
				Bucket: p.bucket,
				Prefix: category + "/",
			})
			results[i] = sum
			if err != nil {
				return fmt.Errorf("%s: %w", category, err)
			}
			return nil
		})
	}
	err := g.Wait()

	out := make(map[string]downloader.Summary, len(present))
	for i, category := range present {
		out[category] = results[i]
	}
	return out, err
}

// Convert converts every .xpt object in the destination.
func (p *Pipeline) Convert(ctx context.Context) (convert.Summary, error) {
	keys, err := convert.Scan(ctx, p.bucket)
	if err != nil {
		return convert.Summary{}, err
	}
	if len(keys) == 0 {
		p.opts.Logger.InfoContext(ctx, "Nothing to convert")
		return convert.Summary{}, nil
	}

	p.opts.Logger.InfoContext(ctx, "converting files", "files", len(keys))
	return p.converter.ConvertAll(ctx, p.bucket, keys)
}

func add(a, b downloader.Summary) downloader.Summary {
	a.Total += b.Total
	a.Skipped += b.Skipped
	a.Attempted += b.Attempted
	a.Succeeded += b.Succeeded
	a.Failed += b.Failed
	a.Bytes += b.Bytes
	a.Failures = append(a.Failures, b.Failures...)
	return a
}
