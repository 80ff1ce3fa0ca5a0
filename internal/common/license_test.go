package common

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeLicense(t *testing.T, doc licenseDocument) string {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal license: %v", err)
	}
	path := filepath.Join(t.TempDir(), "license.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write license: %v", err)
	}
	return path
}

func TestLoadAndValidateLicense(t *testing.T) {
	key := "unit-test-key"
	t.Setenv("DFLASHCTL_LICENSE_KEY", key)

	machine, err := MachineFingerprint()
	if err != nil {
		t.Fatalf("MachineFingerprint: %v", err)
	}
	future := time.Now().UTC().Add(48 * time.Hour).Format("2006-01-02")
	past := time.Now().UTC().Add(-48 * time.Hour).Format("2006-01-02")

	valid := licenseDocument{
		Machine:   machine,
		Expiry:    future,
		Signature: SignLicenseForTesting(machine, future, []byte(key)),
	}

	t.Run("valid defaults to workshop edition", func(t *testing.T) {
		t.Setenv("DFLASHCTL_LICENSE_PATH", writeLicense(t, valid))
		lic, err := loadAndValidateLicense()
		if err != nil {
			t.Fatalf("loadAndValidateLicense: %v", err)
		}
		if lic.Edition != EditionWorkshop {
			t.Fatalf("Edition = %q, want %q", lic.Edition, EditionWorkshop)
		}
		if lic.MachineHash != machine {
			t.Fatalf("MachineHash = %q, want %q", lic.MachineHash, machine)
		}
	})

	t.Run("lab edition accepted", func(t *testing.T) {
		doc := valid
		doc.Edition = EditionLab
		t.Setenv("DFLASHCTL_LICENSE_PATH", writeLicense(t, doc))
		lic, err := loadAndValidateLicense()
		if err != nil {
			t.Fatalf("loadAndValidateLicense: %v", err)
		}
		if lic.Edition != EditionLab {
			t.Fatalf("Edition = %q, want %q", lic.Edition, EditionLab)
		}
	})

	t.Run("unknown edition rejected", func(t *testing.T) {
		doc := valid
		doc.Edition = "enterprise"
		t.Setenv("DFLASHCTL_LICENSE_PATH", writeLicense(t, doc))
		if _, err := loadAndValidateLicense(); err == nil || !strings.Contains(err.Error(), "edition") {
			t.Fatalf("err = %v, want unknown edition error", err)
		}
	})

	t.Run("expired rejected", func(t *testing.T) {
		doc := licenseDocument{
			Machine:   machine,
			Expiry:    past,
			Signature: SignLicenseForTesting(machine, past, []byte(key)),
		}
		t.Setenv("DFLASHCTL_LICENSE_PATH", writeLicense(t, doc))
		if _, err := loadAndValidateLicense(); err == nil || !strings.Contains(err.Error(), "expired") {
			t.Fatalf("err = %v, want expiry error", err)
		}
	})

	t.Run("foreign machine rejected", func(t *testing.T) {
		other := strings.Repeat("ab", 32)
		doc := licenseDocument{
			Machine:   other,
			Expiry:    future,
			Signature: SignLicenseForTesting(other, future, []byte(key)),
		}
		t.Setenv("DFLASHCTL_LICENSE_PATH", writeLicense(t, doc))
		if _, err := loadAndValidateLicense(); err == nil || !strings.Contains(err.Error(), "machine hash mismatch") {
			t.Fatalf("err = %v, want machine mismatch error", err)
		}
	})

	t.Run("tampered signature rejected", func(t *testing.T) {
		doc := valid
		doc.Signature = SignLicenseForTesting(machine, future, []byte("wrong-key"))
		t.Setenv("DFLASHCTL_LICENSE_PATH", writeLicense(t, doc))
		if _, err := loadAndValidateLicense(); err == nil || !strings.Contains(err.Error(), "signature verification failed") {
			t.Fatalf("err = %v, want signature error", err)
		}
	})
}

func TestMachineFingerprintStable(t *testing.T) {
	first, err := MachineFingerprint()
	if err != nil {
		t.Fatalf("MachineFingerprint: %v", err)
	}
	second, err := MachineFingerprint()
	if err != nil {
		t.Fatalf("MachineFingerprint: %v", err)
	}
	if first != second || len(first) != 64 {
		t.Fatalf("fingerprint unstable or malformed: %q vs %q", first, second)
	}
}
