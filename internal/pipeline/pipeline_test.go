package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"

	"github.com/ligustah/nhanes/internal/catalog"
	"github.com/ligustah/nhanes/internal/config"
	"github.com/ligustah/nhanes/internal/convert"
	"github.com/ligustah/nhanes/internal/downloader"
	nhttp "github.com/ligustah/nhanes/internal/http"
)

type staticSource struct {
	catalog catalog.Catalog
	err     error
}

func (s staticSource) Catalog(ctx context.Context, refresh bool) (catalog.Catalog, error) {
	return s.catalog, s.err
}

type fixture struct {
	server *httptest.Server
	bucket *blob.Bucket
	mu     sync.Mutex
	hits   map[string]int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	xpt, err := os.ReadFile("../convert/testdata/ALB_H.xpt")
	require.NoError(t, err)

	f := &fixture{hits: make(map[string]int)}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.hits[r.URL.Path]++
		f.mu.Unlock()
		if r.URL.Path == "/missing.XPT" {
			http.NotFound(w, r)
			return
		}
		w.Write(xpt)
	}))
	t.Cleanup(f.server.Close)

	f.bucket = memblob.OpenBucket(nil)
	t.Cleanup(func() { f.bucket.Close() })
	return f
}

func (f *fixture) totalHits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, h := range f.hits {
		n += h
	}
	return n
}

func (f *fixture) catalog() catalog.Catalog {
	rec := func(period, category, name string) catalog.Record {
		return catalog.Record{
			Period:      period,
			Category:    category,
			Description: name,
			DataURL:     f.server.URL + "/" + period + "/" + name + ".XPT",
			DocsURL:     f.server.URL + "/" + period + "/" + name + ".htm",
		}
	}
	return catalog.Merge([]catalog.Record{
		rec("2013-2014", "Demographics", "DEMO_H"),
		rec("2013-2014", "Laboratory", "ALB_H"),
		rec("2013-2014", "Laboratory", "GLU_H"),
		rec("2015-2016", "Laboratory", "ALB_I"),
	})
}

func (f *fixture) pipeline(source CatalogSource, layout string) *Pipeline {
	dl := downloader.New(nhttp.NewClient(nhttp.DefaultOptions()), downloader.Options{
		Workers: 2,
		Retry:   nhttp.RetryPolicy{Attempts: 2, Backoff: time.Millisecond},
	})
	conv := convert.New(convert.XPORT, convert.Options{})
	return New(source, dl, conv, f.bucket, Options{Layout: layout})
}

func (f *fixture) exists(t *testing.T, key string) bool {
	t.Helper()
	ok, err := f.bucket.Exists(context.Background(), key)
	require.NoError(t, err)
	return ok
}

func TestSyncFiltersCatalog(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(staticSource{catalog: f.catalog()}, config.LayoutFlat)

	res, err := p.Sync(context.Background(), SyncRequest{
		Categories: []string{"Laboratory"},
		Periods:    []string{"2013-2014"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Datasets)
	assert.Equal(t, 2, res.Downloads.Succeeded)
	assert.Nil(t, res.Conversion)

	assert.True(t, f.exists(t, "ALB_H.xpt"))
	assert.True(t, f.exists(t, "GLU_H.xpt"))
	assert.False(t, f.exists(t, "DEMO_H.xpt"))
	assert.False(t, f.exists(t, "ALB_I.xpt"))
	assert.False(t, f.exists(t, "ALB_H.htm"))
	assert.Equal(t, 2, f.totalHits())
}

func TestSyncIncludeDocs(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(staticSource{catalog: f.catalog()}, config.LayoutFlat)

	res, err := p.Sync(context.Background(), SyncRequest{
		Categories:  []string{"Demographics"},
		IncludeDocs: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Downloads.Succeeded)
	assert.True(t, f.exists(t, "DEMO_H.xpt"))
	assert.True(t, f.exists(t, "DEMO_H.htm"))
}

func TestSyncEmptySelection(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(staticSource{catalog: f.catalog()}, config.LayoutFlat)

	res, err := p.Sync(context.Background(), SyncRequest{
		Categories: []string{"Dietary"},
		Periods:    []string{"2013-2014"},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Datasets)
	assert.Equal(t, downloader.Summary{}, res.Downloads)
	assert.Equal(t, 0, f.totalHits())
}

func TestSyncCategoryLayout(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(staticSource{catalog: f.catalog()}, config.LayoutCategory)

	res, err := p.Sync(context.Background(), SyncRequest{Periods: []string{"2013-2014"}})
	require.NoError(t, err)

	require.Len(t, res.Partitions, 2)
	assert.Equal(t, 1, res.Partitions["Demographics"].Succeeded)
	assert.Equal(t, 2, res.Partitions["Laboratory"].Succeeded)
	assert.Equal(t, 3, res.Downloads.Succeeded)
	assert.Equal(t, 3, res.Downloads.Total)

	assert.True(t, f.exists(t, "Demographics/DEMO_H.xpt"))
	assert.True(t, f.exists(t, "Laboratory/ALB_H.xpt"))
	assert.True(t, f.exists(t, "Laboratory/GLU_H.xpt"))
	assert.False(t, f.exists(t, "ALB_H.xpt"))
}

func TestSyncAndConvert(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(staticSource{catalog: f.catalog()}, config.LayoutCategory)
	ctx := context.Background()

	req := SyncRequest{
		Categories: []string{"Laboratory"},
		Periods:    []string{"2015-2016"},
		Convert:    true,
	}
	res, err := p.Sync(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, res.Conversion)
	assert.Equal(t, 1, res.Conversion.Converted)

	assert.True(t, f.exists(t, "Laboratory/ALB_I.csv"))
	assert.False(t, f.exists(t, "Laboratory/ALB_I.xpt"))

	// The converted file counts as present.
	res, err = p.Sync(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Downloads.Skipped)
	assert.Equal(t, 0, res.Downloads.Attempted)
	assert.Equal(t, 0, res.Conversion.Total)
	assert.Equal(t, 1, f.totalHits())
}

func TestSyncReportsFailures(t *testing.T) {
	f := newFixture(t)
	c := f.catalog()
	c = append(c, catalog.Record{
		Period:   "2013-2014",
		Category: "Laboratory",
		DataURL:  f.server.URL + "/missing.XPT",
	})
	p := f.pipeline(staticSource{catalog: c}, config.LayoutFlat)

	res, err := p.Sync(context.Background(), SyncRequest{
		Categories: []string{"Laboratory"},
		Periods:    []string{"2013-2014"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Downloads.Succeeded)
	assert.Equal(t, 1, res.Downloads.Failed)
	require.Len(t, res.Downloads.Failures, 1)
	assert.ErrorIs(t, res.Downloads.Failures[0].Err, nhttp.ErrNotFound)
}

func TestSyncCatalogError(t *testing.T) {
	f := newFixture(t)
	errUnreadable := errors.New("unreadable")
	p := f.pipeline(staticSource{err: errUnreadable}, config.LayoutFlat)

	_, err := p.Sync(context.Background(), SyncRequest{})
	assert.ErrorIs(t, err, errUnreadable)
	assert.ErrorIs(t, err, ErrCatalog)
	assert.Equal(t, 0, f.totalHits())
}

func TestConvertNothing(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(staticSource{}, config.LayoutFlat)

	require.NoError(t, f.bucket.WriteAll(context.Background(), "DEMO_H.csv", []byte("SEQN\n1\n"), nil))

	sum, err := p.Convert(context.Background())
	require.NoError(t, err)
	assert.Equal(t, convert.Summary{}, sum)
}

func TestDatasets(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(staticSource{catalog: f.catalog()}, config.LayoutFlat)

	got, err := p.Datasets(context.Background(), catalog.Selection{Periods: []string{"2015-2016"}}, false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ALB_I", got[0].Description)
}
