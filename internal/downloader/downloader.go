package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"

	"gocloud.dev/blob"
	"golang.org/x/sync/semaphore"

	nhttp "github.com/ligustah/nhanes/internal/http"
	"github.com/ligustah/nhanes/internal/metrics"
	"github.com/ligustah/nhanes/internal/progress"
)

// DefaultWorkers is the admission gate size used when Options.Workers is unset.
const DefaultWorkers = 10

// ErrInvalidURL is reported for URLs without a usable file name.
var ErrInvalidURL = errors.New("downloader: url has no file name")

// Fetcher retrieves the body of a URL. Non-2xx responses must be reported
// as *http.StatusError so they are not retried.
type Fetcher interface {
	Get(ctx context.Context, url string) (io.ReadCloser, error)
}

// Options configures the downloader.
type Options struct {
	// Workers is the maximum number of fetches in flight.
	Workers int

	// Retry bounds attempts per URL. Zero value: http.DefaultRetryPolicy().
	Retry nhttp.RetryPolicy

	// Progress enables the human-readable progress reporter.
	Progress bool

	// ProgressOutput is where progress is written. Default: os.Stderr.
	ProgressOutput io.Writer

	// Logger is optional.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Destination is where files are written: a bucket plus an optional key
// prefix such as "Laboratory/".
type Destination struct {
	Bucket *blob.Bucket
	Prefix string
}

func (d Destination) String() string {
	if d.Prefix == "" {
		return "/"
	}
	return d.Prefix
}

// Task is one URL scheduled for download.
type Task struct {
	URL string
	Key string
}

// Failure records a URL that did not download.
type Failure struct {
	URL string
	Err error
}

// Summary describes the outcome of DownloadAll.
type Summary struct {
	Total     int // URLs passed in
	Skipped   int // already materialized or duplicated
	Attempted int // admitted through the gate
	Succeeded int
	Failed    int
	Bytes     int64
	Failures  []Failure
}

// Downloader fetches files concurrently behind a counting admission gate.
type Downloader struct {
	fetcher Fetcher
	opts    Options
}

// New creates a downloader.
func New(fetcher Fetcher, opts Options) *Downloader {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = nhttp.DefaultRetryPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Downloader{fetcher: fetcher, opts: opts}
}

type result struct {
	bytes int64
	err   error
}

// DownloadAll downloads every URL that is not yet materialized at dest and
// returns once each admitted download has succeeded or failed. Per-URL
// failures are reported in the Summary; the returned error is reserved for
// storage errors during planning and for cancellation of ctx.
func (d *Downloader) DownloadAll(ctx context.Context, urls []string, dest Destination) (Summary, error) {
	tasks, sum, err := d.Plan(ctx, urls, dest)
	if err != nil {
		return sum, err
	}

	d.opts.Logger.InfoContext(ctx, "downloading files",
		"destination", dest.String(),
		"queued", len(tasks),
		"skipped", sum.Skipped,
	)

	var reporter *progress.Reporter
	if d.opts.Progress && len(tasks) > 0 {
		reporter = progress.NewReporter(progress.Options{
			TotalFiles:  len(tasks),
			Skipped:     sum.Skipped,
			Workers:     d.opts.Workers,
			Output:      d.opts.ProgressOutput,
			Destination: dest.String(),
		})
		reporter.Start()
		defer reporter.Stop()
	}

	gate := semaphore.NewWeighted(int64(d.opts.Workers))
	results := make([]result, len(tasks))
	var wg sync.WaitGroup

	admitted := 0
	for i, task := range tasks {
		if err := gate.Acquire(ctx, 1); err != nil {
			break
		}
		admitted++

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer gate.Release(1)
			results[i] = d.fetch(ctx, task, dest.Bucket, reporter)
		}()
	}
	wg.Wait()

	sum.Attempted = admitted
	for i, r := range results[:admitted] {
		if r.err != nil {
			sum.Failed++
			sum.Failures = append(sum.Failures, Failure{URL: tasks[i].URL, Err: r.err})
			continue
		}
		sum.Succeeded++
		sum.Bytes += r.bytes
	}

	d.opts.Logger.InfoContext(ctx, "downloading complete",
		"destination", dest.String(),
		"attempted", sum.Attempted,
		"skipped", sum.Skipped,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
	)

	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}

// Plan maps urls to destination keys and drops those already materialized.
// Skipped URLs never reach the admission gate.
func (d *Downloader) Plan(ctx context.Context, urls []string, dest Destination) ([]Task, Summary, error) {
	sum := Summary{Total: len(urls)}
	seen := make(map[string]struct{}, len(urls))

	var tasks []Task
	for _, u := range urls {
		name, err := FileName(u)
		if err != nil {
			d.opts.Logger.WarnContext(ctx, "skipping url", "url", u, "error", err)
			sum.Failed++
			sum.Failures = append(sum.Failures, Failure{URL: u, Err: err})
			d.opts.Metrics.Download(metrics.ResultFailed, 0)
			continue
		}

		key := dest.Prefix + name
		if _, dup := seen[key]; dup {
			sum.Skipped++
			continue
		}
		seen[key] = struct{}{}

		exists, err := Materialized(ctx, dest.Bucket, key)
		if err != nil {
			return nil, sum, err
		}
		if exists {
			sum.Skipped++
			d.opts.Metrics.Download(metrics.ResultSkipped, 0)
			d.opts.Logger.DebugContext(ctx, "skipping, file already exists", "key", key)
			continue
		}

		tasks = append(tasks, Task{URL: u, Key: key})
	}
	return tasks, sum, nil
}

// fetch downloads one task under the retry policy. Each attempt runs to
// completion even if ctx is cancelled meanwhile; the policy stops before the
// next attempt.
func (d *Downloader) fetch(ctx context.Context, task Task, bucket *blob.Bucket, reporter *progress.Reporter) result {
	if reporter != nil {
		reporter.FileStarted()
	}
	d.opts.Logger.DebugContext(ctx, "downloading", "url", task.URL, "key", task.Key)

	var n int64
	err := d.opts.Retry.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			d.opts.Metrics.Retry()
		}

		var err error
		n, err = d.attempt(context.WithoutCancel(ctx), task, bucket)
		if err != nil && !nhttp.IsPermanent(err) {
			d.opts.Logger.WarnContext(ctx, "fetch attempt failed",
				"url", task.URL,
				"attempt", attempt,
				"max_attempts", d.opts.Retry.Attempts,
				"error", err,
			)
		}
		return err
	})

	if err != nil {
		if reporter != nil {
			reporter.FileFailed()
		}
		d.opts.Metrics.Download(metrics.ResultFailed, 0)
		d.opts.Logger.WarnContext(ctx, "download failed", "url", task.URL, "error", err)
		return result{err: err}
	}

	if reporter != nil {
		reporter.FileCompleted(n)
	}
	d.opts.Metrics.Download(metrics.ResultSuccess, n)
	return result{bytes: n}
}

// attempt performs one GET and streams the body into the bucket. The object
// only becomes visible when the whole body has been written.
func (d *Downloader) attempt(ctx context.Context, task Task, bucket *blob.Bucket) (int64, error) {
	body, err := d.fetcher.Get(ctx, task.URL)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := bucket.NewWriter(wctx, task.Key, nil)
	if err != nil {
		return 0, nhttp.Permanent(fmt.Errorf("create %s: %w", task.Key, err))
	}

	n, err := io.Copy(w, body)
	if err != nil {
		cancel()
		_ = w.Close()
		return n, fmt.Errorf("read %s: %w", task.URL, err)
	}
	if err := w.Close(); err != nil {
		return n, nhttp.Permanent(fmt.Errorf("write %s: %w", task.Key, err))
	}
	return n, nil
}

// FileName returns the destination file name for rawURL: the final path
// segment with its extension lower-cased.
func FileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}

	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + strings.ToLower(ext), nil
}

// Candidates lists the keys whose presence means key is already
// materialized. Data files count as present in either their raw or their
// converted form.
func Candidates(key string) []string {
	ext := path.Ext(key)
	switch strings.ToLower(ext) {
	case ".xpt", ".csv":
		base := strings.TrimSuffix(key, ext)
		return []string{base + ".xpt", base + ".csv"}
	default:
		return []string{key}
	}
}

// Materialized reports whether any candidate of key exists in bucket.
func Materialized(ctx context.Context, bucket *blob.Bucket, key string) (bool, error) {
	for _, k := range Candidates(key) {
		ok, err := bucket.Exists(ctx, k)
		if err != nil {
			return false, fmt.Errorf("check %s: %w", k, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
