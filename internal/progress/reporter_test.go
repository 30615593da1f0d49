package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{100, "100 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1024 * 1024, "1.00 MB"},
		{256 * 1024 * 1024, "256.00 MB"},
		{1024 * 1024 * 1024, "1.00 GB"},
		{1024 * 1024 * 1024 * 1024, "1.00 TB"},
	}

	for _, tt := range tests {
		result := FormatBytes(tt.input)
		if result != tt.expected {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m 30s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 2m 3s"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.input); got != tt.expected {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestReporterSnapshot(t *testing.T) {
	reporter := NewReporter(Options{TotalFiles: 4, Workers: 2})

	// Tracking works without starting the reporter
	reporter.FileStarted()
	reporter.FileStarted()
	if got := reporter.Snapshot(); got != (Snapshot{InProgress: 2, Pending: 2}) {
		t.Errorf("after start: %+v", got)
	}

	reporter.FileCompleted(256)
	reporter.FileFailed()
	want := Snapshot{Completed: 1, Failed: 1, Pending: 2, Bytes: 256}
	if got := reporter.Snapshot(); got != want {
		t.Errorf("snapshot = %+v, want %+v", got, want)
	}
	if got := reporter.Snapshot().Done(); got != 2 {
		t.Errorf("done = %d, want 2", got)
	}
}

func TestReporterStartStop(t *testing.T) {
	var out syncBuffer
	reporter := NewReporter(Options{
		TotalFiles:     2,
		Skipped:        1,
		Workers:        2,
		UpdateInterval: 10 * time.Millisecond,
		Output:         &out,
		Destination:    "data",
	})

	reporter.Start()
	reporter.Start() // idempotent

	reporter.FileStarted()
	reporter.FileCompleted(256 * 1024)
	reporter.FileStarted()
	reporter.FileCompleted(256 * 1024)

	time.Sleep(50 * time.Millisecond)

	reporter.Stop()
	reporter.Stop() // idempotent

	output := out.String()
	for _, want := range []string{
		"[nhanes] Downloading files to data\n",
		"[nhanes] Files: 2 queued | 1 already present | Workers: 2\n",
		"100.0% | 512.00 KB",
		"[nhanes] Files: 2 completed | 0 failed | 1 skipped\n",
		"[nhanes] Total: 512.00 KB in 0s",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
	if strings.Count(output, "Downloading files to") != 1 {
		t.Errorf("header printed more than once:\n%s", output)
	}
}

func TestReporterStopWithoutStart(t *testing.T) {
	var out bytes.Buffer
	reporter := NewReporter(Options{TotalFiles: 1, Output: &out})
	reporter.Stop()
	reporter.Start()
	reporter.Stop()

	if out.Len() != 0 {
		t.Errorf("expected no output, got %q", out.String())
	}
}

func TestPercent(t *testing.T) {
	if got := percent(1, 4); got != "25.0%" {
		t.Errorf("percent(1, 4) = %q", got)
	}
	if got := percent(0, 0); got != "100.0%" {
		t.Errorf("percent(0, 0) = %q", got)
	}
}

// syncBuffer is a bytes.Buffer safe for the reporter goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
