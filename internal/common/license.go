package common

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// Editions sold for the product. A workshop license covers the full
// dump-to-EEPROM flow; a lab license is issued for analysis benches.
const (
	EditionWorkshop = "workshop"
	EditionLab      = "lab"
)

// License represents a validated offline license file. Licenses are bound
// to one machine fingerprint, carry a day-granular expiry and name the
// edition they were sold for.
type License struct {
	MachineHash string
	Edition     string
	Expiry      time.Time
	Path        string
}

var (
	cachedLicense *License
	licenseErr    error
	licenseOnce   sync.Once
)

const (
	defaultLicenseFilename = "license.json"
	defaultLicenseKey      = "dflashgate-license-secret"
)

// licenseDocument is the on-disk JSON form issued by the vendor.
type licenseDocument struct {
	Machine   string `json:"machine"`
	Edition   string `json:"edition,omitempty"`
	Expiry    string `json:"expiry"`
	Signature string `json:"signature"`
}

// RequireValidLicense ensures that a valid license is available before
// executing any commands. It returns the parsed license or an error that
// explains why the license is invalid.
func RequireValidLicense() (*License, error) {
	licenseOnce.Do(func() {
		cachedLicense, licenseErr = loadAndValidateLicense()
	})
	return cachedLicense, licenseErr
}

func loadAndValidateLicense() (*License, error) {
	path, err := resolveLicensePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read license: %w", err)
	}
	doc, err := parseLicenseDocument(raw)
	if err != nil {
		return nil, err
	}

	expiryDate, err := time.Parse("2006-01-02", doc.Expiry)
	if err != nil {
		return nil, fmt.Errorf("invalid expiry format: %w", err)
	}
	// Expiry is inclusive for the given day.
	expiryCutoff := expiryDate.Add(24 * time.Hour)
	if time.Now().UTC().After(expiryCutoff) {
		return nil, fmt.Errorf("license expired on %s", doc.Expiry)
	}

	machineHash, err := MachineFingerprint()
	if err != nil {
		return nil, fmt.Errorf("compute machine hash: %w", err)
	}
	if !strings.EqualFold(machineHash, doc.Machine) {
		return nil, fmt.Errorf("license machine hash mismatch (expected %s, this machine %s)", doc.Machine, machineHash)
	}

	if err := verifyLicenseSignature(doc); err != nil {
		return nil, err
	}

	return &License{
		MachineHash: machineHash,
		Edition:     doc.Edition,
		Expiry:      expiryCutoff,
		Path:        path,
	}, nil
}

func parseLicenseDocument(raw []byte) (licenseDocument, error) {
	var doc licenseDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse license json: %w", err)
	}
	doc.Machine = strings.TrimSpace(doc.Machine)
	doc.Edition = strings.TrimSpace(doc.Edition)
	doc.Expiry = strings.TrimSpace(doc.Expiry)
	doc.Signature = strings.TrimSpace(doc.Signature)

	if doc.Machine == "" {
		return doc, errors.New("license machine hash is empty")
	}
	if doc.Expiry == "" {
		return doc, errors.New("license expiry is empty")
	}
	if doc.Signature == "" {
		return doc, errors.New("license signature is empty")
	}
	// Licenses issued before editions existed carry no edition field and
	// are treated as workshop licenses.
	if doc.Edition == "" {
		doc.Edition = EditionWorkshop
	}
	if doc.Edition != EditionWorkshop && doc.Edition != EditionLab {
		return doc, fmt.Errorf("unknown license edition %q", doc.Edition)
	}
	return doc, nil
}

func verifyLicenseSignature(doc licenseDocument) error {
	key := []byte(defaultLicenseKey)
	if env := strings.TrimSpace(os.Getenv("DFLASHCTL_LICENSE_KEY")); env != "" {
		key = []byte(env)
	}
	expectedSig := computeLicenseSignature(doc.Machine, doc.Expiry, key)
	providedSig, err := hex.DecodeString(doc.Signature)
	if err != nil {
		return fmt.Errorf("invalid license signature encoding: %w", err)
	}
	if !hmac.Equal(providedSig, expectedSig) {
		return errors.New("license signature verification failed")
	}
	return nil
}

func computeLicenseSignature(machine, expiry string, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(machine))
	mac.Write([]byte("|"))
	mac.Write([]byte(expiry))
	return mac.Sum(nil)
}

func resolveLicensePath() (string, error) {
	candidates := licensePathCandidates()
	for _, cand := range candidates {
		if cand == "" {
			continue
		}
		if info, err := os.Stat(cand); err == nil && !info.IsDir() {
			return cand, nil
		}
	}
	if len(candidates) == 0 {
		return "", errors.New("no license path configured")
	}
	return "", fmt.Errorf("license file not found (checked: %s)", strings.Join(candidates, ", "))
}

func licensePathCandidates() []string {
	seen := map[string]struct{}{}
	var paths []string
	add := func(path string) {
		if path == "" {
			return
		}
		cleaned := filepath.Clean(path)
		if _, ok := seen[cleaned]; ok {
			return
		}
		seen[cleaned] = struct{}{}
		paths = append(paths, cleaned)
	}

	if env := strings.TrimSpace(os.Getenv("DFLASHCTL_LICENSE_PATH")); env != "" {
		add(env)
	}

	if cwd, err := os.Getwd(); err == nil {
		add(filepath.Join(cwd, defaultLicenseFilename))
	}
	if exe, err := os.Executable(); err == nil {
		add(filepath.Join(filepath.Dir(exe), defaultLicenseFilename))
	}

	return paths
}

// MachineFingerprint produces a stable hash for the current machine using
// the hostname and MAC addresses. MAC addresses are sorted so interface
// enumeration order cannot change the hash. The value can be shared with
// the vendor to generate a license file.
func MachineFingerprint() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", err
	}

	interfaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	var macs []string
	for _, iface := range interfaces {
		if (iface.Flags&net.FlagLoopback) != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		macs = append(macs, strings.ToLower(iface.HardwareAddr.String()))
	}
	sort.Strings(macs)

	components := append([]string{strings.ToLower(hostname)}, macs...)
	if len(components) == 1 {
		// No network interfaces were found; include OS as a weak fallback.
		components = append(components, strings.ToLower(runtime.GOOS))
	}

	hash := sha256.Sum256([]byte(strings.Join(components, "|")))
	return hex.EncodeToString(hash[:]), nil
}

// SignLicenseForTesting is exported to help integration tests build
// synthetic licenses without the vendor tooling.
func SignLicenseForTesting(machineHash, expiry string, key []byte) string {
	sig := computeLicenseSignature(machineHash, expiry, key)
	return hex.EncodeToString(sig)
}
