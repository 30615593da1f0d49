// Package http provides the HTTP client used to scrape catalog pages and
// fetch dataset files.
//
// This package handles:
//   - Connection pooling shared by parallel fetches
//   - Optional request throttling for polite scraping
//   - Classification of non-2xx responses as terminal StatusErrors
//   - Bounded retries through an explicit RetryPolicy value
//
// # Usage
//
//	client := http.NewClient(http.Options{
//	    UserAgent:         "Mozilla/5.0 ...",
//	    RequestsPerSecond: 2,
//	})
//
//	policy := http.RetryPolicy{Attempts: 3, Backoff: 5 * time.Second}
//	err := policy.Do(ctx, func(attempt int) error {
//	    body, err := client.Get(ctx, url)
//	    if err != nil {
//	        return err
//	    }
//	    defer body.Close()
//	    _, err = io.Copy(dst, body)
//	    return err
//	})
//
// Transport errors are retried; a *StatusError or an error wrapped with
// Permanent stops the loop immediately.
package http
