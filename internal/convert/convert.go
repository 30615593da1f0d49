package convert

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"runtime"
	"strings"

	"gocloud.dev/blob"
	"golang.org/x/sync/errgroup"

	"github.com/ligustah/nhanes/internal/metrics"
	"github.com/ligustah/nhanes/internal/xport"
)

// SourceExtension is the extension of files picked up by Scan.
const SourceExtension = ".xpt"

// Table is a decoded dataset: a header and a row iterator. Read returns
// io.EOF after the last row.
type Table interface {
	Columns() []string
	Read() ([]string, error)
}

// Decoder turns a binary dataset into a Table.
type Decoder interface {
	Decode(r io.Reader) (Table, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(r io.Reader) (Table, error)

// Decode calls f(r).
func (f DecoderFunc) Decode(r io.Reader) (Table, error) { return f(r) }

// XPORT decodes SAS transport files.
var XPORT Decoder = DecoderFunc(func(r io.Reader) (Table, error) {
	xr, err := xport.NewReader(r)
	if err != nil {
		return nil, err
	}
	return xr, nil
})

// Options configures a Converter.
type Options struct {
	// Concurrency limits parallel conversions. Default: runtime.GOMAXPROCS(0).
	Concurrency int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Failure records a file that could not be converted.
type Failure struct {
	Key string
	Err error
}

// Summary describes the outcome of ConvertAll.
type Summary struct {
	Total     int
	Converted int
	Failed    int
	Failures  []Failure
}

// Converter rewrites binary datasets as CSV next to their source.
type Converter struct {
	dec  Decoder
	opts Options
}

// New creates a converter.
func New(dec Decoder, opts Options) *Converter {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Converter{dec: dec, opts: opts}
}

// Scan lists every key in bucket with the source extension, in any case.
func Scan(ctx context.Context, bucket *blob.Bucket) ([]string, error) {
	var keys []string
	it := bucket.List(nil)
	for {
		obj, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return keys, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		if obj.IsDir {
			continue
		}
		if strings.EqualFold(path.Ext(obj.Key), SourceExtension) {
			keys = append(keys, obj.Key)
		}
	}
}

// CSVKey returns the key the converted form of key is written to.
func CSVKey(key string) string {
	return strings.TrimSuffix(key, path.Ext(key)) + ".csv"
}

// ConvertAll converts keys concurrently. A failing file is kept and
// reported in the Summary; its siblings are unaffected. The returned error
// is only set when ctx is cancelled.
func (c *Converter) ConvertAll(ctx context.Context, bucket *blob.Bucket, keys []string) (Summary, error) {
	sum := Summary{Total: len(keys)}
	results := make([]error, len(keys))

	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)

	launched := 0
	for i, key := range keys {
		if ctx.Err() != nil {
			break
		}
		launched++
		g.Go(func() error {
			results[i] = c.Convert(ctx, bucket, key)
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range results[:launched] {
		if err != nil {
			sum.Failed++
			sum.Failures = append(sum.Failures, Failure{Key: keys[i], Err: err})
			continue
		}
		sum.Converted++
	}

	c.opts.Logger.InfoContext(ctx, "conversion complete",
		"total", sum.Total,
		"converted", sum.Converted,
		"failed", sum.Failed,
	)
	return sum, ctx.Err()
}

// Convert converts a single key and removes the source once the CSV has
// been written. On failure no CSV is created and the source is kept.
func (c *Converter) Convert(ctx context.Context, bucket *blob.Bucket, key string) error {
	target := CSVKey(key)
	c.opts.Logger.DebugContext(ctx, "converting", "key", key, "target", target)

	if err := c.write(ctx, bucket, key, target); err != nil {
		c.opts.Metrics.Conversion(metrics.ResultFailed)
		c.opts.Logger.WarnContext(ctx, "conversion failed", "key", key, "error", err)
		return err
	}

	if err := bucket.Delete(ctx, key); err != nil {
		c.opts.Metrics.Conversion(metrics.ResultFailed)
		c.opts.Logger.WarnContext(ctx, "removing source failed", "key", key, "error", err)
		return fmt.Errorf("remove %s: %w", key, err)
	}

	c.opts.Metrics.Conversion(metrics.ResultSuccess)
	return nil
}

func (c *Converter) write(ctx context.Context, bucket *blob.Bucket, key, target string) error {
	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("open %s: %w", key, err)
	}
	defer r.Close()

	table, err := c.dec.Decode(r)
	if err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := bucket.NewWriter(wctx, target, &blob.WriterOptions{ContentType: "text/csv"})
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}

	if err := writeTable(csv.NewWriter(w), table); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("decode %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	return nil
}

func writeTable(w *csv.Writer, table Table) error {
	if err := w.Write(table.Columns()); err != nil {
		return err
	}
	for {
		row, err := table.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
