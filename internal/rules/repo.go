package rules

import (
	"archive/zip"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"example.com/dflashgate/internal/crypto"
)

// On-disk layout of a rule pack repository:
//
//	<root>/rulepacks/<id>/<version>/rulepack.json
//	<root>/rulepacks/<id>/<version>/signature.jws
//	<root>/truststore/*.pem
//	<root>/defaults.json
const (
	packsDirName      = "rulepacks"
	trustDirName      = "truststore"
	defaultsFileName  = "defaults.json"
	rulePackFileName  = "rulepack.json"
	signatureFileName = "signature.jws"
)

// Repository stores the workshop's installed rule packs. Each pack is a
// versioned set of acceptance gates for one dump profile, delivered as a
// .rpkg.zip archive signed by the pack publisher.
type Repository struct {
	root string
}

// RulePackRef identifies a rule pack by id and version.
type RulePackRef struct {
	RulePackId string `json:"rulePackId"`
	Version    string `json:"version"`
}

// InstalledRulePack represents a rule pack stored in the repository.
type InstalledRulePack struct {
	RulePack RulePack
	Dir      string
	Signed   bool
	Path     string
	Signer   string
}

type defaultsFile struct {
	DefaultByProfile map[string]RulePackRef `json:"defaultByProfile"`
}

// DefaultRepository returns the repository rooted in ~/.dflashgate/rules.
func DefaultRepository() (*Repository, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return OpenRepository(filepath.Join(home, ".dflashgate", "rules"))
}

// OpenRepository creates a Repository rooted at path and ensures the required
// subdirectories exist.
func OpenRepository(path string) (*Repository, error) {
	for _, dir := range []string{packsDirName, trustDirName} {
		if err := os.MkdirAll(filepath.Join(path, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", dir, err)
		}
	}
	return &Repository{root: path}, nil
}

// Root returns the root directory of the repository.
func (r *Repository) Root() string {
	if r == nil {
		return ""
	}
	return r.root
}

var (
	knownScopes     = []string{"image", "vehicle", "sector", "output"}
	knownSeverities = []Severity{ERROR, WARN, INFO}
)

// ValidateRulePack checks that a pack is well formed before it is allowed
// into the repository: identity fields filesystem-safe, a target profile
// declared, rule ids unique, and every rule bound to a scope the analyzer
// produces findings for and a check the engine actually ships.
func ValidateRulePack(rp RulePack) error {
	if rp.RulePackId == "" || rp.Version == "" {
		return errors.New("rule pack missing id or version")
	}
	if err := validatePathComponent(rp.RulePackId); err != nil {
		return fmt.Errorf("invalid rule pack id %q: %w", rp.RulePackId, err)
	}
	if err := validatePathComponent(rp.Version); err != nil {
		return fmt.Errorf("invalid rule pack version %q: %w", rp.Version, err)
	}
	if rp.Profile == "" {
		return fmt.Errorf("rule pack %s@%s declares no dump profile", rp.RulePackId, rp.Version)
	}
	if len(rp.Rules) == 0 {
		return fmt.Errorf("rule pack %s@%s contains no rules", rp.RulePackId, rp.Version)
	}
	seen := make(map[string]struct{}, len(rp.Rules))
	for _, rule := range rp.Rules {
		if rule.RuleId == "" {
			return fmt.Errorf("rule pack %s@%s has a rule without an id", rp.RulePackId, rp.Version)
		}
		if _, dup := seen[rule.RuleId]; dup {
			return fmt.Errorf("rule pack %s@%s declares rule %s twice", rp.RulePackId, rp.Version, rule.RuleId)
		}
		seen[rule.RuleId] = struct{}{}
		if !scopeKnown(rule.Scope) {
			return fmt.Errorf("rule %s has unknown scope %q (want one of %s)", rule.RuleId, rule.Scope, strings.Join(knownScopes, ", "))
		}
		if !severityKnown(rule.Severity) {
			return fmt.Errorf("rule %s has unknown severity %q", rule.RuleId, rule.Severity)
		}
		if rule.FixFunc == "" {
			return fmt.Errorf("rule %s names no check function", rule.RuleId)
		}
		if !KnownCheck(rule.FixFunc) {
			return fmt.Errorf("rule %s references unknown check %q", rule.RuleId, rule.FixFunc)
		}
	}
	return nil
}

func scopeKnown(scope string) bool {
	for _, s := range knownScopes {
		if scope == s {
			return true
		}
	}
	return false
}

func severityKnown(sev Severity) bool {
	for _, s := range knownSeverities {
		if sev == s {
			return true
		}
	}
	return false
}

// InstallPackage installs a .rpkg.zip archive into the repository. Unless
// allowUnsigned is set the archive must carry a detached signature that
// chains to a certificate in the repository truststore.
func (r *Repository) InstallPackage(archivePath string, allowUnsigned bool) (InstalledRulePack, error) {
	var installed InstalledRulePack
	if r == nil {
		return installed, errors.New("nil repository")
	}
	packBytes, sigBytes, err := readPackageArchive(archivePath)
	if err != nil {
		return installed, err
	}
	if len(sigBytes) == 0 && !allowUnsigned {
		return installed, errors.New("package carries no signature.jws; refusing unsigned rule pack")
	}

	var rp RulePack
	if err := json.Unmarshal(packBytes, &rp); err != nil {
		return installed, fmt.Errorf("parse rulepack.json: %w", err)
	}
	if err := ValidateRulePack(rp); err != nil {
		return installed, err
	}

	var signer string
	if len(sigBytes) != 0 {
		cert, err := r.verifySignatureBytes(packBytes, sigBytes)
		if err != nil {
			return installed, fmt.Errorf("verify signature: %w", err)
		}
		signer = cert.Subject.String()
	}

	dir := r.packageDir(rp.RulePackId, rp.Version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return installed, fmt.Errorf("create package dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, rulePackFileName), packBytes, 0o644); err != nil {
		return installed, fmt.Errorf("write %s: %w", rulePackFileName, err)
	}
	if len(sigBytes) != 0 {
		if err := os.WriteFile(filepath.Join(dir, signatureFileName), sigBytes, 0o644); err != nil {
			return installed, fmt.Errorf("write %s: %w", signatureFileName, err)
		}
	} else {
		// Reinstalling without a signature must not leave a stale one behind.
		_ = os.Remove(filepath.Join(dir, signatureFileName))
	}

	installed = InstalledRulePack{
		RulePack: rp,
		Dir:      dir,
		Signed:   len(sigBytes) != 0,
		Path:     filepath.Join(dir, rulePackFileName),
		Signer:   signer,
	}
	return installed, nil
}

// readPackageArchive pulls rulepack.json and, when present, signature.jws
// out of a .rpkg.zip archive.
func readPackageArchive(archivePath string) (packBytes, sigBytes []byte, err error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		switch filepath.Base(f.Name) {
		case rulePackFileName:
			packBytes, err = readZipFile(f)
		case signatureFileName:
			sigBytes, err = readZipFile(f)
		default:
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
	}
	if len(packBytes) == 0 {
		return nil, nil, errors.New("archive is not a rule pack: no rulepack.json inside")
	}
	return packBytes, sigBytes, nil
}

// ListInstalled returns the rule packs currently installed, ordered by id
// and then ascending version.
func (r *Repository) ListInstalled() ([]InstalledRulePack, error) {
	if r == nil {
		return nil, errors.New("nil repository")
	}
	base := filepath.Join(r.root, packsDirName)
	idEntries, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var result []InstalledRulePack
	for _, idEntry := range idEntries {
		if !idEntry.IsDir() {
			continue
		}
		versions, err := r.installedVersions(idEntry.Name())
		if err != nil {
			return nil, err
		}
		for _, version := range versions {
			entry, err := r.readInstalled(idEntry.Name(), version)
			if err != nil {
				// A half-written or foreign directory is skipped, not fatal.
				continue
			}
			result = append(result, entry)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].RulePack.RulePackId == result[j].RulePack.RulePackId {
			return compareVersions(result[i].RulePack.Version, result[j].RulePack.Version) < 0
		}
		return result[i].RulePack.RulePackId < result[j].RulePack.RulePackId
	})
	return result, nil
}

func (r *Repository) installedVersions(id string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(r.root, packsDirName, id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() {
			versions = append(versions, e.Name())
		}
	}
	return versions, nil
}

// readInstalled loads one pack directory without verifying its signature.
// The signer subject is taken from the signature header for display; Verify
// is the call that actually checks the chain.
func (r *Repository) readInstalled(id, version string) (InstalledRulePack, error) {
	dir := r.packageDir(id, version)
	rpPath := filepath.Join(dir, rulePackFileName)
	data, err := os.ReadFile(rpPath)
	if err != nil {
		return InstalledRulePack{}, err
	}
	var rp RulePack
	if err := json.Unmarshal(data, &rp); err != nil {
		return InstalledRulePack{}, err
	}
	entry := InstalledRulePack{RulePack: rp, Dir: dir, Path: rpPath}
	sigBytes, err := os.ReadFile(filepath.Join(dir, signatureFileName))
	if err == nil {
		entry.Signed = true
		entry.Signer = signerSubject(sigBytes)
	}
	return entry, nil
}

// signerSubject extracts the x5c leaf subject from a detached signature
// without validating the chain. Best effort, empty on any malformation.
func signerSubject(sigBytes []byte) string {
	var jws crypto.JWS
	if err := json.Unmarshal(sigBytes, &jws); err != nil {
		return ""
	}
	hb, err := base64.RawURLEncoding.DecodeString(jws.Protected)
	if err != nil {
		return ""
	}
	var hdr struct {
		X5C []string `json:"x5c"`
	}
	if err := json.Unmarshal(hb, &hdr); err != nil || len(hdr.X5C) == 0 {
		return ""
	}
	der, err := base64.StdEncoding.DecodeString(hdr.X5C[0])
	if err != nil {
		return ""
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return ""
	}
	return cert.Subject.String()
}

// Remove deletes a rule pack and drops any profile defaults pointing at it.
func (r *Repository) Remove(id, version string) error {
	if r == nil {
		return errors.New("nil repository")
	}
	if err := validatePathComponent(id); err != nil {
		return fmt.Errorf("invalid rule pack id: %w", err)
	}
	if err := validatePathComponent(version); err != nil {
		return fmt.Errorf("invalid rule pack version: %w", err)
	}
	dir := r.packageDir(id, version)
	if _, err := os.Stat(dir); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	cfg, err := r.loadDefaults()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	changed := false
	for profile, ref := range cfg.DefaultByProfile {
		if ref.RulePackId == id && ref.Version == version {
			delete(cfg.DefaultByProfile, profile)
			changed = true
		}
	}
	if changed {
		return r.saveDefaults(cfg)
	}
	return nil
}

// Verify re-validates the stored signature of a rule pack against the
// repository truststore.
func (r *Repository) Verify(id, version string) error {
	if r == nil {
		return errors.New("nil repository")
	}
	if err := validatePathComponent(id); err != nil {
		return fmt.Errorf("invalid rule pack id: %w", err)
	}
	if err := validatePathComponent(version); err != nil {
		return fmt.Errorf("invalid rule pack version: %w", err)
	}
	dir := r.packageDir(id, version)
	rpBytes, err := os.ReadFile(filepath.Join(dir, rulePackFileName))
	if err != nil {
		return fmt.Errorf("read rulepack: %w", err)
	}
	sigBytes, err := os.ReadFile(filepath.Join(dir, signatureFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errors.New("rule pack is unsigned")
		}
		return fmt.Errorf("read signature: %w", err)
	}
	_, err = r.verifySignatureBytes(rpBytes, sigBytes)
	return err
}

// Load returns the rule pack identified by id and version, verifying its
// signature unless allowUnsigned is set and no signature is stored.
func (r *Repository) Load(id, version string, allowUnsigned bool) (RulePack, RulePackSource, error) {
	var rp RulePack
	var source RulePackSource
	if r == nil {
		return rp, source, errors.New("nil repository")
	}
	if err := validatePathComponent(id); err != nil {
		return rp, source, fmt.Errorf("invalid rule pack id: %w", err)
	}
	if err := validatePathComponent(version); err != nil {
		return rp, source, fmt.Errorf("invalid rule pack version: %w", err)
	}
	dir := r.packageDir(id, version)
	rpPath := filepath.Join(dir, rulePackFileName)
	data, err := os.ReadFile(rpPath)
	if err != nil {
		return rp, source, err
	}
	sigBytes, err := os.ReadFile(filepath.Join(dir, signatureFileName))
	unsigned := false
	signer := ""
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return rp, source, err
		}
		if !allowUnsigned {
			return rp, source, errors.New("rule pack is unsigned; use allow-unsigned option")
		}
		unsigned = true
	} else {
		cert, err := r.verifySignatureBytes(data, sigBytes)
		if err != nil {
			return rp, source, fmt.Errorf("verify signature: %w", err)
		}
		signer = cert.Subject.String()
	}
	if err := json.Unmarshal(data, &rp); err != nil {
		return rp, source, fmt.Errorf("parse rulepack: %w", err)
	}
	if rp.RulePackId != id || rp.Version != version {
		return rp, source, errors.New("rule pack metadata does not match requested id/version")
	}
	source = RulePackSource{
		FromRepository: true,
		RulePackId:     id,
		Version:        version,
		Path:           rpPath,
		Unsigned:       unsigned,
		Signer:         signer,
	}
	return rp, source, nil
}

// DefaultForProfile returns the configured default rule pack for the given profile.
func (r *Repository) DefaultForProfile(profile string) (RulePackRef, bool, error) {
	cfg, err := r.loadDefaults()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RulePackRef{}, false, nil
		}
		return RulePackRef{}, false, err
	}
	ref, ok := cfg.DefaultByProfile[profile]
	return ref, ok, nil
}

// SetDefaultForProfile maps a profile to an installed rule pack. The pack
// must exist in the repository and, when it declares a profile, that
// profile must be the one being mapped; a kombi-46 pack cannot become the
// default for an mc9s12 dump.
func (r *Repository) SetDefaultForProfile(profile string, ref RulePackRef) error {
	if r == nil {
		return errors.New("nil repository")
	}
	if profile == "" {
		return errors.New("empty profile")
	}
	if err := validatePathComponent(ref.RulePackId); err != nil {
		return fmt.Errorf("invalid rule pack id: %w", err)
	}
	if err := validatePathComponent(ref.Version); err != nil {
		return fmt.Errorf("invalid rule pack version: %w", err)
	}
	entry, err := r.readInstalled(ref.RulePackId, ref.Version)
	if err != nil {
		return fmt.Errorf("rule pack %s@%s is not installed: %w", ref.RulePackId, ref.Version, err)
	}
	if entry.RulePack.Profile != "" && entry.RulePack.Profile != profile {
		return fmt.Errorf("rule pack %s@%s targets profile %s, cannot be the default for %s",
			ref.RulePackId, ref.Version, entry.RulePack.Profile, profile)
	}
	cfg, err := r.loadDefaults()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if cfg.DefaultByProfile == nil {
		cfg.DefaultByProfile = make(map[string]RulePackRef)
	}
	cfg.DefaultByProfile[profile] = ref
	return r.saveDefaults(cfg)
}

func (r *Repository) latestVersionFor(id string) (string, error) {
	if err := validatePathComponent(id); err != nil {
		return "", fmt.Errorf("invalid rule pack id: %w", err)
	}
	versions, err := r.installedVersions(id)
	if err != nil {
		return "", err
	}
	best := ""
	for _, ver := range versions {
		if best == "" || compareVersions(ver, best) > 0 {
			best = ver
		}
	}
	return best, nil
}

// Defaults returns a copy of the configured default mappings.
func (r *Repository) Defaults() (map[string]RulePackRef, error) {
	cfg, err := r.loadDefaults()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]RulePackRef{}, nil
		}
		return nil, err
	}
	out := make(map[string]RulePackRef, len(cfg.DefaultByProfile))
	for k, v := range cfg.DefaultByProfile {
		out[k] = v
	}
	return out, nil
}

func (r *Repository) packageDir(id, version string) string {
	return filepath.Join(r.root, packsDirName, id, version)
}

func (r *Repository) verifySignatureBytes(payload, sig []byte) (*x509.Certificate, error) {
	pool, err := r.loadTrustStore()
	if err != nil {
		return nil, err
	}
	var jws crypto.JWS
	if err := json.Unmarshal(sig, &jws); err != nil {
		return nil, fmt.Errorf("parse signature: %w", err)
	}
	return crypto.VerifyDetachedJWSWithX5C(payload, jws, pool)
}

func (r *Repository) loadTrustStore() (*x509.CertPool, error) {
	dir := filepath.Join(r.root, trustDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read truststore: %w", err)
	}
	pool := x509.NewCertPool()
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read truststore cert %s: %w", entry.Name(), err)
		}
		rest := data
		for len(rest) > 0 {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse truststore cert %s: %w", entry.Name(), err)
			}
			pool.AddCert(cert)
			count++
		}
	}
	if count == 0 {
		return nil, errors.New("truststore is empty; install a publisher certificate first")
	}
	return pool, nil
}

func (r *Repository) loadDefaults() (defaultsFile, error) {
	var cfg defaultsFile
	if r == nil {
		return cfg, errors.New("nil repository")
	}
	data, err := os.ReadFile(filepath.Join(r.root, defaultsFileName))
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (r *Repository) saveDefaults(cfg defaultsFile) error {
	if r == nil {
		return errors.New("nil repository")
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.root, defaultsFileName), data, 0o644)
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func validatePathComponent(s string) error {
	if s == "" {
		return errors.New("empty string")
	}
	if strings.ContainsAny(s, "/\\") || strings.Contains(s, string(os.PathSeparator)) {
		return errors.New("contains path separator")
	}
	if s == "." || s == ".." {
		return errors.New("invalid component")
	}
	if strings.Contains(s, "..") && filepath.Clean(s) != s {
		return errors.New("invalid path component")
	}
	return nil
}

func compareVersions(a, b string) int {
	if a == b {
		return 0
	}
	ap := parseVersionParts(a)
	bp := parseVersionParts(b)
	for i := 0; i < len(ap) || i < len(bp); i++ {
		ai, bi := 0, 0
		if i < len(ap) {
			ai = ap[i]
		}
		if i < len(bp) {
			bi = bp[i]
		}
		if ai != bi {
			if ai > bi {
				return 1
			}
			return -1
		}
	}
	if len(ap) != len(bp) {
		if len(ap) > len(bp) {
			return 1
		}
		return -1
	}
	return strings.Compare(a, b)
}

func parseVersionParts(s string) []int {
	parts := strings.Split(s, ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			out = append(out, 0)
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return []int{0}
		}
		out = append(out, v)
	}
	return out
}
