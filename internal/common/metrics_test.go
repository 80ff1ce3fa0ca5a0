package common

import (
	"testing"
	"time"
)

func TestMetricsSnapshotCounters(t *testing.T) {
	m := NewMetrics()
	m.SetTotalBytes(65536)
	m.Start()
	m.AddImage(32768)
	m.AddImage(32768)
	m.AddImage(0)
	m.IncConversion()
	m.IncFailure()
	time.Sleep(time.Millisecond)
	m.Stop()

	snap := m.Snapshot()
	if snap.Images != 2 {
		t.Fatalf("Images = %d, want 2", snap.Images)
	}
	if snap.Bytes != 65536 {
		t.Fatalf("Bytes = %d, want 65536", snap.Bytes)
	}
	if snap.Conversions != 1 || snap.Failures != 1 {
		t.Fatalf("Conversions/Failures = %d/%d, want 1/1", snap.Conversions, snap.Failures)
	}
	if snap.Duration <= 0 {
		t.Fatalf("Duration = %v, want > 0", snap.Duration)
	}
	if got := snap.Completion(); got != 1 {
		t.Fatalf("Completion = %v, want 1", got)
	}
}

func TestMetricsCompletionClamps(t *testing.T) {
	s := MetricsSnapshot{Bytes: 200, TotalBytes: 100}
	if got := s.Completion(); got != 1 {
		t.Fatalf("Completion = %v, want clamped to 1", got)
	}
	s = MetricsSnapshot{Bytes: 100}
	if got := s.Completion(); got != 0 {
		t.Fatalf("Completion with no total = %v, want 0", got)
	}
}

func TestThroughputRequiresDuration(t *testing.T) {
	s := MetricsSnapshot{Bytes: 1024}
	if got := s.ThroughputBytesPerSecond(); got != 0 {
		t.Fatalf("ThroughputBytesPerSecond = %v, want 0 without duration", got)
	}
	s.Duration = 2 * time.Second
	if got := s.ThroughputBytesPerSecond(); got != 512 {
		t.Fatalf("ThroughputBytesPerSecond = %v, want 512", got)
	}
}

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{1024, "1.00 KiB"},
		{32768, "32.00 KiB"},
		{1536 * 1024, "1.50 MiB"},
	}
	for _, tc := range cases {
		if got := FormatBytes(tc.in); got != tc.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
