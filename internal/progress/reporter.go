package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// TotalFiles is the number of files queued for download.
	TotalFiles int

	// Skipped is the number of files already present at the destination.
	Skipped int

	// Workers is the number of parallel fetches.
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often a progress line is written.
	// Default: 2s
	UpdateInterval time.Duration

	// Destination is shown in the header.
	Destination string
}

// Snapshot is a point-in-time view of a batch.
type Snapshot struct {
	Completed  int
	Failed     int
	InProgress int
	Pending    int
	Bytes      int64
}

// Done returns the number of files in a terminal state.
func (s Snapshot) Done() int { return s.Completed + s.Failed }

// Reporter writes one progress line per interval while a batch runs and a
// summary when it stops. Counter methods are safe for concurrent use.
type Reporter struct {
	opts Options

	bytes      atomic.Int64
	completed  atomic.Int32
	failed     atomic.Int32
	inProgress atomic.Int32

	once     sync.Once
	stopOnce sync.Once
	start    time.Time
	stop     chan struct{}
	done     chan struct{}
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = 2 * time.Second
	}
	return &Reporter{
		opts: opts,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start prints the header and begins periodic output.
func (r *Reporter) Start() {
	r.once.Do(func() {
		r.start = time.Now()
		r.printf("Downloading files to %s", r.opts.Destination)
		r.printf("Files: %d queued | %d already present | Workers: %d",
			r.opts.TotalFiles, r.opts.Skipped, r.opts.Workers)
		go r.loop()
	})
}

// Stop ends periodic output and prints the summary. It is safe to call more
// than once, and before Start.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		r.once.Do(func() {}) // Start after Stop is a no-op
		if r.start.IsZero() {
			return
		}
		close(r.stop)
		<-r.done
	})
}

// FileStarted marks a file as in progress.
func (r *Reporter) FileStarted() {
	r.inProgress.Add(1)
}

// FileCompleted marks an in-progress file as completed.
func (r *Reporter) FileCompleted(size int64) {
	r.bytes.Add(size)
	r.completed.Add(1)
	r.inProgress.Add(-1)
}

// FileFailed marks an in-progress file as failed.
func (r *Reporter) FileFailed() {
	r.failed.Add(1)
	r.inProgress.Add(-1)
}

// Snapshot returns the current counters.
func (r *Reporter) Snapshot() Snapshot {
	s := Snapshot{
		Completed:  int(r.completed.Load()),
		Failed:     int(r.failed.Load()),
		InProgress: int(r.inProgress.Load()),
		Bytes:      r.bytes.Load(),
	}
	s.Pending = max(r.opts.TotalFiles-s.Done()-s.InProgress, 0)
	return s
}

func (r *Reporter) loop() {
	defer close(r.done)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	var lastBytes int64
	last := r.start
	for {
		select {
		case <-r.stop:
			r.summary()
			return
		case now := <-ticker.C:
			s := r.Snapshot()
			speed := rate(s.Bytes-lastBytes, now.Sub(last))
			lastBytes, last = s.Bytes, now

			r.printf("%s | %s | %s/s | %d completed | %d failed | %d in-progress | %d pending",
				percent(s.Done(), r.opts.TotalFiles),
				formatBytes(s.Bytes),
				formatBytes(speed),
				s.Completed, s.Failed, s.InProgress, s.Pending)
		}
	}
}

func (r *Reporter) summary() {
	s := r.Snapshot()
	elapsed := time.Since(r.start)

	r.printf("Files: %d completed | %d failed | %d skipped", s.Completed, s.Failed, r.opts.Skipped)
	r.printf("Total: %s in %s | Average speed: %s/s",
		formatBytes(s.Bytes), formatDuration(elapsed), formatBytes(rate(s.Bytes, elapsed)))
}

func (r *Reporter) printf(format string, args ...any) {
	fmt.Fprintf(r.opts.Output, "[nhanes] "+format+"\n", args...)
}

func percent(done, total int) string {
	if total <= 0 {
		return "100.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(done)/float64(total)*100)
}

func rate(n int64, d time.Duration) int64 {
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return int64(float64(n) / d.Seconds())
}

var units = []string{"KB", "MB", "GB", "TB"}

// formatBytes formats bytes as a human-readable string using binary units.
func formatBytes(b int64) string {
	if b < 1024 {
		return fmt.Sprintf("%d B", b)
	}
	v := float64(b) / 1024
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", v, units[i])
}

// formatDuration formats d as "45s", "1m 30s" or "1h 2m 3s".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h, m, s := int(d/time.Hour), int(d/time.Minute)%60, int(d/time.Second)%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// FormatBytes is exported for use by other packages.
func FormatBytes(b int64) string {
	return formatBytes(b)
}
