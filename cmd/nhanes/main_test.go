package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligustah/nhanes/internal/catalog"
)

type env struct {
	dir     string
	server  *httptest.Server
	hits    atomic.Int32
	catalog catalog.Catalog
}

// newEnv prepares a working directory with a stored catalog whose URLs point
// at a local server serving a real XPT file.
func newEnv(t *testing.T) *env {
	t.Helper()

	xpt, err := os.ReadFile("../../internal/convert/testdata/ALB_H.xpt")
	require.NoError(t, err)

	e := &env{dir: t.TempDir()}
	e.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.hits.Add(1)
		w.Write(xpt)
	}))
	t.Cleanup(e.server.Close)

	e.catalog = catalog.Merge([]catalog.Record{
		{Period: "2013-2014", Category: "Laboratory", Description: "Albumin", DataURL: e.server.URL + "/ALB_H.XPT", DocsURL: e.server.URL + "/ALB_H.htm"},
		{Period: "2013-2014", Category: "Demographics", Description: "Demographics", DataURL: e.server.URL + "/DEMO_H.XPT"},
		{Period: "2015-2016", Category: "Laboratory", Description: "Albumin", DataURL: e.server.URL + "/ALB_I.XPT"},
	})

	var buf bytes.Buffer
	require.NoError(t, catalog.WriteCSV(&buf, e.catalog))
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "nhanes_datasets.csv"), buf.Bytes(), 0o644))
	return e
}

func (e *env) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	base := []string{
		"--env-file", filepath.Join(e.dir, "missing.env"),
		"--catalog-bucket", e.dir,
		"--destination", filepath.Join(e.dir, "data"),
		"--log-level", "error",
	}
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), append(args, base...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func (e *env) exists(name string) bool {
	_, err := os.Stat(filepath.Join(e.dir, "data", name))
	return err == nil
}

func TestExecuteArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no command", nil, ExitInvalidArgs},
		{"unknown command", []string{"frobnicate"}, ExitInvalidArgs},
		{"unknown flag", []string{"sync", "--bogus"}, ExitInvalidArgs},
		{"extra argument", []string{"convert", "somewhere"}, ExitInvalidArgs},
		{"help", []string{"--help"}, ExitSuccess},
		{"sync help", []string{"sync", "-h"}, ExitSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			got := execute(context.Background(), tt.args, &stdout, &stderr)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecuteConfigErrors(t *testing.T) {
	e := newEnv(t)

	code, _, stderr := e.run(t, "sync", "--categories", "Genetics")
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, stderr, "Genetics")

	code, _, _ = e.run(t, "sync", "--workers=-1")
	assert.Equal(t, ExitConfigError, code)

	code, _, _ = e.run(t, "sync", "--config", filepath.Join(e.dir, "nope.yaml"))
	assert.Equal(t, ExitConfigError, code)

	var stdout, stderrBuf bytes.Buffer
	code = execute(context.Background(), []string{"catalog", "--log-level", "loud"}, &stdout, &stderrBuf)
	assert.Equal(t, ExitInvalidArgs, code)
}

func TestSyncCommand(t *testing.T) {
	e := newEnv(t)
	metricsFile := filepath.Join(e.dir, "nhanes.prom")

	code, _, stderr := e.run(t, "sync",
		"--categories", "Laboratory",
		"--periods", "2013-2014",
		"--include-docs",
		"--metrics-file", metricsFile,
	)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stderr, "[nhanes] Downloads: 2 downloaded")

	assert.True(t, e.exists("ALB_H.xpt"))
	assert.True(t, e.exists("ALB_H.htm"))
	assert.False(t, e.exists("DEMO_H.xpt"))
	assert.Equal(t, int32(2), e.hits.Load())

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `nhanes_downloads_total{result="success"} 2`)

	// Nothing left to fetch.
	code, _, stderr = e.run(t, "sync", "--categories", "Laboratory", "--periods", "2013-2014", "--include-docs")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stderr, "2 skipped")
	assert.Equal(t, int32(2), e.hits.Load())
}

func TestSyncAndConvertCommands(t *testing.T) {
	e := newEnv(t)

	code, _, stderr := e.run(t, "sync", "--layout", "category", "--periods", "2013-2014", "--convert")
	require.Equal(t, ExitSuccess, code, stderr)

	assert.True(t, e.exists("Laboratory/ALB_H.csv"))
	assert.True(t, e.exists("Demographics/DEMO_H.csv"))
	assert.False(t, e.exists("Laboratory/ALB_H.xpt"))
	assert.Contains(t, stderr, "[nhanes] Converted 2 of 2 files, 0 failed")

	csv, err := os.ReadFile(filepath.Join(e.dir, "data", "Laboratory", "ALB_H.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(csv), "SEQN,LBXSAL,LBDSALSI,COMMENT\n"))

	// A stray file dropped in later is picked up by convert.
	xpt, err := os.ReadFile("../../internal/convert/testdata/ALB_H.xpt")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "data", "EXTRA.XPT"), xpt, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "data", "BROKEN.xpt"), []byte("not xport"), 0o644))

	code, _, stderr = e.run(t, "convert")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.True(t, e.exists("EXTRA.csv"))
	assert.False(t, e.exists("EXTRA.XPT"))
	assert.True(t, e.exists("BROKEN.xpt"))
	assert.False(t, e.exists("BROKEN.csv"))
	assert.Contains(t, stderr, "[nhanes] Converted 1 of 2 files, 1 failed")
}

func TestConvertDir(t *testing.T) {
	e := newEnv(t)
	other := filepath.Join(e.dir, "other")

	code, _, stderr := e.run(t, "convert", "--dir", other)
	require.Equal(t, ExitSuccess, code, stderr)

	info, err := os.Stat(other)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCatalogCommand(t *testing.T) {
	e := newEnv(t)

	code, stdout, stderr := e.run(t, "catalog", "--categories", "Laboratory")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "PERIOD")
	assert.Contains(t, stdout, "ALB_H.xpt")
	assert.Contains(t, stdout, "ALB_I.xpt")
	assert.NotContains(t, stdout, "DEMO_H")

	code, stdout, stderr = e.run(t, "catalog", "--csv", "--periods", "2015-2016")
	require.Equal(t, ExitSuccess, code, stderr)

	got, err := catalog.ReadCSV(strings.NewReader(stdout))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2015-2016", got[0].Period)
	assert.Equal(t, int32(0), e.hits.Load())
}

func TestMalformedCatalog(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "nhanes_datasets.csv"), []byte("not,a,catalog\n1,2,3\n"), 0o644))

	code, _, _ := e.run(t, "sync")
	assert.Equal(t, ExitCatalogError, code)

	code, _, _ = e.run(t, "catalog")
	assert.Equal(t, ExitCatalogError, code)
	assert.Equal(t, int32(0), e.hits.Load())
}
