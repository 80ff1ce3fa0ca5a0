package common

import (
	"path/filepath"
	"testing"
)

func TestAuditLogAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	log := NewAuditLog(path)

	entries := []AuditEntry{
		{SourceSha256: "aaa", OutputSha256: "bbb", Variant: "kombi-46", VIN: "WBA12345678901234", Odometer: 123456, Checksum: 0xDEADBEEF},
		{SourceSha256: "ccc", OutputSha256: "ddd", Variant: "unknown-32k"},
	}
	for _, entry := range entries {
		if err := log.Append(entry); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := ReadAuditLog(path)
	if err != nil {
		t.Fatalf("ReadAuditLog: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	if got[0].VIN != entries[0].VIN || got[0].Checksum != entries[0].Checksum {
		t.Fatalf("first entry mismatch: %+v", got[0])
	}
	if got[0].Ts.IsZero() || got[1].Ts.IsZero() {
		t.Fatalf("timestamps not defaulted: %+v", got)
	}
	if got[1].VIN != "" {
		t.Fatalf("second entry VIN = %q, want empty", got[1].VIN)
	}
}

func TestAuditLogRejectsMissingDigest(t *testing.T) {
	log := NewAuditLog(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err := log.Append(AuditEntry{Variant: "kombi-46"}); err == nil {
		t.Fatal("Append without source digest succeeded, want error")
	}
}
