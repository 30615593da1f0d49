//go:build integration

// Package testutils provides shared test infrastructure for integration tests.
package testutils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/s3blob"
)

// DatasetServer serves fixed file bodies by path and counts requests.
type DatasetServer struct {
	*httptest.Server

	mu   sync.Mutex
	hits map[string]int
}

// StartDatasetServer starts an HTTP server that serves files keyed by URL
// path ("/DEMO_H.XPT"). Unknown paths return 404.
func StartDatasetServer(t *testing.T, files map[string][]byte) *DatasetServer {
	t.Helper()

	s := &DatasetServer{hits: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()

		data, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.Write(data)
	}))
	t.Cleanup(s.Close)
	return s
}

// Hits returns the number of requests made for path.
func (s *DatasetServer) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// TotalHits returns the number of requests made for any path.
func (s *DatasetServer) TotalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.hits {
		n += h
	}
	return n
}

// ListKeys returns every key in bucket, sorted.
func ListKeys(t *testing.T, ctx context.Context, bucket *blob.Bucket) []string {
	t.Helper()

	var keys []string
	it := bucket.List(nil)
	for {
		obj, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("list bucket: %v", err)
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys
}

const (
	minioUser     = "minioadmin"
	minioPassword = "minioadmin"
)

// Minio is a running MinIO server with one bucket.
type Minio struct {
	Container testcontainers.Container
	Bucket    string
	Endpoint  string

	// BucketURL is the gocloud s3blob URL of the bucket.
	BucketURL string
}

// URL returns the s3blob URL of the bucket restricted to prefix.
func (m *Minio) URL(prefix string) string {
	if prefix == "" {
		return m.BucketURL
	}
	return m.BucketURL + "&prefix=" + prefix
}

// Open opens the bucket, closing it when the test ends.
func (m *Minio) Open(t *testing.T, ctx context.Context) *blob.Bucket {
	t.Helper()
	bucket, err := blob.OpenBucket(ctx, m.BucketURL)
	if err != nil {
		t.Fatalf("open minio bucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

// StartMinio starts MinIO on a private network, creates bucket and points
// the AWS credential variables at it. The container is terminated when the
// test ends.
func StartMinio(t *testing.T, ctx context.Context, bucket string) *Minio {
	t.Helper()

	netName := fmt.Sprintf("nhanes-minio-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{Name: netName},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(context.Background()) })

	server, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:          "minio/minio:latest",
			ExposedPorts:   []string{"9000/tcp"},
			Networks:       []string{netName},
			NetworkAliases: map[string][]string{netName: {"minio"}},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start minio: %v", err)
	}
	t.Cleanup(func() { server.Terminate(context.Background()) })

	makeBucket(t, ctx, netName, bucket)

	host, err := server.Host(ctx)
	if err != nil {
		t.Fatalf("minio host: %v", err)
	}
	port, err := server.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("minio port: %v", err)
	}
	endpoint := host + ":" + port.Port()

	t.Setenv("AWS_ACCESS_KEY_ID", minioUser)
	t.Setenv("AWS_SECRET_ACCESS_KEY", minioPassword)

	return &Minio{
		Container: server,
		Bucket:    bucket,
		Endpoint:  endpoint,
		BucketURL: fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1", bucket, endpoint),
	}
}

// makeBucket runs a one-shot mc container on the MinIO network.
func makeBucket(t *testing.T, ctx context.Context, netName, bucket string) {
	t.Helper()

	script := fmt.Sprintf("mc alias set local http://minio:9000 %s %s && mc mb --ignore-existing local/%s",
		minioUser, minioPassword, bucket)

	mc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      "minio/mc:latest",
			Networks:   []string{netName},
			Entrypoint: []string{"/bin/sh", "-c"},
			Cmd:        []string{script},
			WaitingFor: wait.ForExit(),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("create bucket %s: %v", bucket, err)
	}
	defer mc.Terminate(ctx)

	state, err := mc.State(ctx)
	if err != nil {
		t.Fatalf("mc state: %v", err)
	}
	if state.ExitCode != 0 {
		t.Fatalf("mc exited with code %d creating bucket %s", state.ExitCode, bucket)
	}
}
