package smoke

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"example.com/dflashgate/internal/common"
	"example.com/dflashgate/internal/crypto"
	"example.com/dflashgate/internal/dflash"
	"example.com/dflashgate/internal/manifest"
	"example.com/dflashgate/internal/report"
	"example.com/dflashgate/internal/rules"
	"example.com/dflashgate/internal/samples"
)

func writeSigner(t *testing.T, keyPath, certPath string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	now := time.Now().UTC()
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Bundle Signer", Organization: []string{"dflashgate"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		t.Fatalf("WriteFile key: %v", err)
	}
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		t.Fatalf("WriteFile cert: %v", err)
	}
}

// TestDumpToSignedBundle drives the full pipeline: analyze the sample
// dump, convert it, write the reports, build a signed manifest over the
// artifacts and verify the detached signature.
func TestDumpToSignedBundle(t *testing.T) {
	tmp := t.TempDir()
	dumpPath := filepath.Join(tmp, "dump.bin")
	if err := os.WriteFile(dumpPath, samples.BuildDump(), 0o644); err != nil {
		t.Fatalf("write dump: %v", err)
	}

	rp := rules.RulePack{
		RulePackId: "smoke",
		Version:    "1.0",
		Profile:    "dflash-32k",
		Rules: []rules.Rule{
			{RuleId: "DF-0001", Name: "image size", Scope: "image", Severity: rules.ERROR, FixFunc: "CheckImageSize"},
			{RuleId: "DF-0002", Name: "corruption level", Scope: "image", Severity: rules.ERROR, FixFunc: "CheckCorruptionLevel"},
			{RuleId: "DF-0004", Name: "vin present", Scope: "vehicle", Severity: rules.WARN, FixFunc: "CheckVINPresent"},
			{RuleId: "DF-0006", Name: "odometer plausible", Scope: "vehicle", Severity: rules.WARN, FixFunc: "CheckOdometerPlausible"},
		},
	}
	engine := rules.NewEngine(rp)
	engine.RegisterBuiltins()
	engine.SetConcurrency(2)

	ctx := &rules.Context{InputFile: dumpPath, Profile: "dflash-32k"}
	diags, err := engine.Eval(ctx)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if len(diags) != len(rp.Rules) {
		t.Fatalf("diagnostics = %d, want %d", len(diags), len(rp.Rules))
	}
	rep := engine.MakeAcceptance()
	if !rep.Summary.Pass {
		t.Fatalf("sample dump failed acceptance: %+v", rep.Summary)
	}

	diagPath := filepath.Join(tmp, "diagnostics.ndjson")
	if err := engine.WriteDiagnosticsNDJSON(diagPath); err != nil {
		t.Fatalf("WriteDiagnosticsNDJSON: %v", err)
	}
	accPath := filepath.Join(tmp, "acceptance.json")
	if err := report.SaveAcceptanceJSON(rep, accPath); err != nil {
		t.Fatalf("SaveAcceptanceJSON: %v", err)
	}

	img, err := os.ReadFile(dumpPath)
	if err != nil {
		t.Fatalf("read dump: %v", err)
	}
	conv, err := dflash.Convert(img)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	eepPath := filepath.Join(tmp, "dump.eep")
	if err := os.WriteFile(eepPath, conv.Image, 0o644); err != nil {
		t.Fatalf("write eep: %v", err)
	}

	auditPath := filepath.Join(tmp, "audit.jsonl")
	log := common.NewAuditLog(auditPath)
	entry := common.AuditEntry{
		SourceSha256: common.Sha256OfBytes(img),
		OutputSha256: common.Sha256OfBytes(conv.Image),
		Variant:      conv.Vehicle.Variant,
		VIN:          conv.Vehicle.VIN,
		Odometer:     conv.Vehicle.Odometer,
		Checksum:     dflash.Checksum(conv.Image),
	}
	if err := log.Append(entry); err != nil {
		t.Fatalf("audit append: %v", err)
	}

	m, err := manifest.Build([]string{diagPath, accPath, eepPath, auditPath})
	if err != nil {
		t.Fatalf("manifest.Build: %v", err)
	}
	manifestPath := filepath.Join(tmp, "manifest.json")
	if err := manifest.Save(m, manifestPath); err != nil {
		t.Fatalf("manifest.Save: %v", err)
	}

	keyPath := filepath.Join(tmp, "signing.key")
	certPath := filepath.Join(tmp, "signing.crt")
	writeSigner(t, keyPath, certPath)
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		t.Fatalf("read key: %v", err)
	}
	manifestBytes, err := os.ReadFile(manifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	jws, err := crypto.SignDetachedJWS(manifestBytes, keyPEM)
	if err != nil {
		t.Fatalf("SignDetachedJWS: %v", err)
	}
	jwsBytes, err := json.Marshal(jws)
	if err != nil {
		t.Fatalf("marshal jws: %v", err)
	}
	sigPath := filepath.Join(tmp, "manifest.jws")
	if err := os.WriteFile(sigPath, jwsBytes, 0o644); err != nil {
		t.Fatalf("write jws: %v", err)
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		t.Fatalf("read cert: %v", err)
	}
	parsed, err := crypto.ParseDetachedJWS(jwsBytes)
	if err != nil {
		t.Fatalf("ParseDetachedJWS: %v", err)
	}
	if err := crypto.VerifyDetachedJWS(manifestBytes, parsed, certPEM); err != nil {
		t.Fatalf("VerifyDetachedJWS: %v", err)
	}

	// Tampering with any bundled artifact must break verification of the
	// manifest's digests.
	loaded, err := manifest.Load(manifestPath)
	if err != nil {
		t.Fatalf("manifest.Load: %v", err)
	}
	if len(loaded.Items) != 4 {
		t.Fatalf("manifest items = %d, want 4", len(loaded.Items))
	}
	for _, item := range loaded.Items {
		hash, size, err := common.Sha256OfFile(filepath.Join(tmp, item.Path))
		if err != nil {
			t.Fatalf("hash %s: %v", item.Path, err)
		}
		if hash != item.Sha256 || size != item.Size {
			t.Fatalf("digest mismatch for %s", item.Path)
		}
	}

	entries, err := common.ReadAuditLog(auditPath)
	if err != nil {
		t.Fatalf("ReadAuditLog: %v", err)
	}
	if len(entries) != 1 || entries[0].VIN != samples.SampleVIN {
		t.Fatalf("unexpected audit entries: %+v", entries)
	}

	pdfPath := filepath.Join(tmp, "acceptance.pdf")
	analysis, err := dflash.Analyze(img)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	err = report.SaveAcceptancePDF(rep, pdfPath, report.PDFOptions{
		Language:     report.LangEnglish,
		Analysis:     &analysis,
		ManifestHash: m.Digest(),
	})
	if err != nil {
		t.Fatalf("SaveAcceptancePDF: %v", err)
	}
	if info, err := os.Stat(pdfPath); err != nil || info.Size() == 0 {
		t.Fatalf("pdf missing or empty: %v", err)
	}
}
