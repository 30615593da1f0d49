// Package downloader fetches dataset files into a gocloud.dev/blob bucket.
//
// The main entry point is Downloader.DownloadAll:
//
//	d := downloader.New(client, downloader.Options{
//	    Workers: 10,
//	    Retry:   http.RetryPolicy{Attempts: 3, Backoff: 5 * time.Second},
//	})
//	sum, err := d.DownloadAll(ctx, urls, downloader.Destination{Bucket: bucket})
//
// # Skipping
//
// Before anything is queued, every URL is mapped to a key (the last path
// segment, extension lower-cased). A key is skipped when it, or for data
// files its .xpt/.csv counterpart, already exists. Skipped URLs never take a
// slot in the admission gate.
//
// # Admission Gate
//
// A weighted semaphore of size Workers bounds the number of fetches in
// flight. One goroutine is started per admitted URL.
//
// # Failures
//
// Non-2xx responses fail the URL immediately. Transport errors, including
// errors while reading the body, are retried according to the RetryPolicy.
// A failing URL never affects its siblings; failures are collected in the
// Summary.
//
// # Writes
//
// Bodies are streamed into a blob.Writer. When an attempt fails the writer
// context is cancelled so no partial object is left behind; with fileblob
// the file is written under a temporary name and renamed on success.
package downloader
