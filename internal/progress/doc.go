// Package progress provides progress reporting for batch downloads.
//
// A Reporter prints a line per interval to stderr with the completion
// percentage, transfer speed and per-file counts, then a summary on Stop.
//
// # Usage
//
//	reporter := progress.NewReporter(Options{
//	    TotalFiles: len(queued),
//	    Skipped:    skipped,
//	    Workers:    10,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	reporter.FileStarted()
//	reporter.FileCompleted(n)
//
// # Output Format
//
//	[nhanes] Downloading files to data
//	[nhanes] Files: 42 queued | 3 already present | Workers: 10
//	[nhanes] 45.2% | 113.40 MB | 12.20 MB/s | 18 completed | 1 failed | 10 in-progress | 13 pending
//	...
//	[nhanes] Files: 41 completed | 1 failed | 3 skipped
//	[nhanes] Total: 251.03 MB in 1m 12s | Average speed: 3.49 MB/s
package progress
