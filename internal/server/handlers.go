package server

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"example.com/dflashgate/internal/common"
	"example.com/dflashgate/internal/crypto"
	"example.com/dflashgate/internal/dflash"
	"example.com/dflashgate/internal/dict"
	"example.com/dflashgate/internal/manifest"
	"example.com/dflashgate/internal/report"
	"example.com/dflashgate/internal/rules"
	"example.com/dflashgate/internal/update"
)

// Server coordinates HTTP handlers and manages temporary artifacts produced
// by analysis and conversion requests.
type Server struct {
	artifacts       *ArtifactStore
	workDir         string
	uploadsDir      string
	profilePacks    map[string]profilePackEntry
	profileIDs      []string
	concurrency     int
	signing         ManifestSigningOptions
	audit           *common.AuditLog
	dict            *dict.Store
	enableAdmin     bool
	updateInstaller *update.Installer
}

// Artifact represents a file generated or stored by the daemon.
type Artifact struct {
	ID          string
	Path        string
	Name        string
	ContentType string
	Size        int64
	Kind        string
}

// ArtifactRef is the public representation returned in API responses.
type ArtifactRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

// ArtifactStore keeps track of generated artifacts for later download.
type ArtifactStore struct {
	mu      sync.RWMutex
	entries map[string]Artifact
}

// NewServer constructs a Server rooted at a temporary workspace directory.
func NewServer(opts Options) (*Server, error) {
	packs, ids, err := buildProfilePackMap(opts)
	if err != nil {
		return nil, err
	}
	storageDir := opts.StorageDir
	if storageDir == "" {
		storageDir = os.TempDir()
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(storageDir, "dflashd-")
	if err != nil {
		return nil, err
	}
	uploadsDir := filepath.Join(workDir, "uploads")
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	auditPath := opts.AuditLogPath
	if strings.TrimSpace(auditPath) == "" {
		auditPath = filepath.Join(workDir, "audit.jsonl")
	}
	var store *dict.Store
	if strings.TrimSpace(opts.DictPath) != "" {
		store, err = dict.EnsureLoaded(opts.DictPath)
		if err != nil {
			os.RemoveAll(workDir)
			return nil, fmt.Errorf("load dictionary: %w", err)
		}
	}
	s := &Server{
		artifacts:       &ArtifactStore{entries: make(map[string]Artifact)},
		workDir:         workDir,
		uploadsDir:      uploadsDir,
		profilePacks:    packs,
		profileIDs:      ids,
		concurrency:     concurrency,
		signing:         opts.ManifestSigning,
		audit:           common.NewAuditLog(auditPath),
		dict:            store,
		enableAdmin:     opts.EnableAdmin,
		updateInstaller: opts.UpdateInstaller,
	}
	return s, nil
}

// Close removes any temporary state associated with the server.
func (s *Server) Close() error {
	if s == nil || s.workDir == "" {
		return nil
	}
	return os.RemoveAll(s.workDir)
}

func (s *Server) tempPath(pattern string) (string, error) {
	f, err := os.CreateTemp(s.workDir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return name, nil
}

func (s *Server) addArtifact(path, displayName, contentType, kind string) (Artifact, error) {
	if path == "" {
		return Artifact{}, errors.New("empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, err
	}
	id := randomID()
	art := Artifact{
		ID:          id,
		Path:        path,
		Name:        displayName,
		ContentType: contentType,
		Size:        info.Size(),
		Kind:        kind,
	}
	if art.Name == "" {
		art.Name = filepath.Base(path)
	}
	if art.ContentType == "" {
		art.ContentType = guessContentType(art.Name)
	}
	s.artifacts.mu.Lock()
	s.artifacts.entries[id] = art
	s.artifacts.mu.Unlock()
	return art, nil
}

func (s *Server) getArtifact(id string) (Artifact, bool) {
	s.artifacts.mu.RLock()
	art, ok := s.artifacts.entries[id]
	s.artifacts.mu.RUnlock()
	return art, ok
}

func (s *Server) resolvePath(token string) (string, error) {
	if token == "" {
		return "", errors.New("empty input path")
	}
	if art, ok := s.getArtifact(token); ok {
		return art.Path, nil
	}
	abs := token
	if !filepath.IsAbs(token) {
		abs = filepath.Clean(token)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", err
	}
	return abs, nil
}

type analyzeRequest struct {
	Inputs               []string        `json:"inputs"`
	Profile              string          `json:"profile"`
	RulePack             *rules.RulePack `json:"rulePack"`
	IncludeVehicleFields *bool           `json:"includeVehicleFields"`
	Language             string          `json:"language"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stream := r.URL.Query().Get("stream") == "true"
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Inputs) == 0 {
		http.Error(w, "inputs required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Profile) == "" {
		http.Error(w, "profile required", http.StatusBadRequest)
		return
	}
	inputPath, err := s.resolvePath(req.Inputs[0])
	if err != nil {
		http.Error(w, fmt.Sprintf("input resolve: %v", err), http.StatusBadRequest)
		return
	}
	lang, err := report.ParseLanguage(req.Language)
	if err != nil {
		http.Error(w, fmt.Sprintf("language: %v", err), http.StatusBadRequest)
		return
	}
	rp, err := s.loadRulePack(req.Profile, req.RulePack)
	if err != nil {
		http.Error(w, fmt.Sprintf("load rulepack: %v", err), http.StatusBadRequest)
		return
	}
	engine := rules.NewEngine(rp)
	engine.RegisterBuiltins()
	engine.SetConcurrency(s.concurrency)
	includeVehicle := true
	if req.IncludeVehicleFields != nil {
		includeVehicle = *req.IncludeVehicleFields
	}
	engine.SetConfigValue("diag.include_vehicle_fields", includeVehicle)
	ctx := &rules.Context{InputFile: inputPath, Profile: req.Profile, Dict: s.dict}

	if stream {
		writer := NewNDJSONWriter(w)
		engine.SetDiagnosticCallback(func(d rules.Diagnostic) error {
			return writer.WriteDiagnostic(d)
		})
		w.Header().Set("Content-Type", "application/x-ndjson")
		diags, err := engine.Eval(ctx)
		engine.SetDiagnosticCallback(nil)
		if err != nil {
			_ = writer.WriteObject(map[string]any{"type": "error", "error": err.Error()})
			return
		}
		rep := engine.MakeAcceptance()
		arts, err := s.saveAnalyzeArtifacts(engine, ctx, rep, lang)
		if err != nil {
			_ = writer.WriteObject(map[string]any{"type": "error", "error": err.Error()})
			return
		}
		summary := struct {
			Type       string           `json:"type"`
			Analysis   *dflash.Analysis `json:"analysis"`
			Acceptance any              `json:"acceptance"`
			Artifacts  []ArtifactRef    `json:"artifacts"`
			Total      int              `json:"diagnostics"`
		}{
			Type:       "acceptance",
			Analysis:   ctx.Analysis,
			Acceptance: rep,
			Artifacts:  arts,
			Total:      len(diags),
		}
		_ = writer.WriteObject(summary)
		return
	}

	diags, err := engine.Eval(ctx)
	if err != nil {
		var mismatch *dflash.SizeMismatchError
		if errors.As(err, &mismatch) {
			http.Error(w, mismatch.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, fmt.Sprintf("eval: %v", err), http.StatusInternalServerError)
		return
	}
	rep := engine.MakeAcceptance()
	arts, err := s.saveAnalyzeArtifacts(engine, ctx, rep, lang)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	common.Logf("analyze %s: pass=%v errors=%d warnings=%d", filepath.Base(inputPath), rep.Summary.Pass, rep.Summary.Errors, rep.Summary.Warnings)
	resp := struct {
		Analysis    *dflash.Analysis       `json:"analysis"`
		Acceptance  rules.AcceptanceReport `json:"acceptance"`
		Diagnostics int                    `json:"diagnostics"`
		Artifacts   []ArtifactRef          `json:"artifacts"`
	}{
		Analysis:    ctx.Analysis,
		Acceptance:  rep,
		Diagnostics: len(diags),
		Artifacts:   arts,
	}
	writeJSON(w, http.StatusOK, resp)
}

// saveAnalyzeArtifacts persists the diagnostics, the analysis JSON and
// the acceptance report pair, registering each for download.
func (s *Server) saveAnalyzeArtifacts(engine *rules.Engine, ctx *rules.Context, rep rules.AcceptanceReport, lang report.Language) ([]ArtifactRef, error) {
	diagPath, err := s.tempPath("diagnostics-*.ndjson")
	if err != nil {
		return nil, fmt.Errorf("diagnostics temp: %w", err)
	}
	if err := engine.WriteDiagnosticsNDJSON(diagPath); err != nil {
		return nil, fmt.Errorf("write diagnostics: %w", err)
	}
	accPath, err := s.tempPath("acceptance-*.json")
	if err != nil {
		return nil, fmt.Errorf("acceptance temp: %w", err)
	}
	if err := report.SaveAcceptanceJSON(rep, accPath); err != nil {
		return nil, fmt.Errorf("write acceptance: %w", err)
	}
	pdfPath, err := s.tempPath("acceptance-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("acceptance pdf temp: %w", err)
	}
	if err := report.SaveAcceptancePDF(rep, pdfPath, report.PDFOptions{Language: lang, Analysis: ctx.Analysis}); err != nil {
		return nil, fmt.Errorf("write acceptance pdf: %w", err)
	}
	refs := make([]ArtifactRef, 0, 4)
	diagArt, err := s.addArtifact(diagPath, "diagnostics.ndjson", "application/x-ndjson", "diagnostics")
	if err != nil {
		return nil, fmt.Errorf("register diagnostics: %w", err)
	}
	refs = append(refs, toRef(diagArt))
	if ctx.Analysis != nil {
		anaPath, err := s.tempPath("analysis-*.json")
		if err != nil {
			return nil, fmt.Errorf("analysis temp: %w", err)
		}
		if err := report.SaveAnalysisJSON(*ctx.Analysis, anaPath); err != nil {
			return nil, fmt.Errorf("write analysis: %w", err)
		}
		anaArt, err := s.addArtifact(anaPath, "analysis.json", "application/json", "analysis")
		if err != nil {
			return nil, fmt.Errorf("register analysis: %w", err)
		}
		refs = append(refs, toRef(anaArt))
	}
	accArt, err := s.addArtifact(accPath, "acceptance_report.json", "application/json", "acceptance")
	if err != nil {
		return nil, fmt.Errorf("register acceptance: %w", err)
	}
	refs = append(refs, toRef(accArt))
	pdfArt, err := s.addArtifact(pdfPath, "acceptance_report.pdf", "application/pdf", "acceptance")
	if err != nil {
		return nil, fmt.Errorf("register acceptance pdf: %w", err)
	}
	refs = append(refs, toRef(pdfArt))
	return refs, nil
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Input      string `json:"input"`
		OutputName string `json:"outputName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if req.Input == "" {
		http.Error(w, "input required", http.StatusBadRequest)
		return
	}
	inputPath, err := s.resolvePath(req.Input)
	if err != nil {
		http.Error(w, fmt.Sprintf("input resolve: %v", err), http.StatusBadRequest)
		return
	}
	img, err := os.ReadFile(inputPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("read input: %v", err), http.StatusInternalServerError)
		return
	}
	conv, err := dflash.Convert(img)
	if err != nil {
		var mismatch *dflash.SizeMismatchError
		if errors.As(err, &mismatch) {
			http.Error(w, mismatch.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, fmt.Sprintf("convert: %v", err), http.StatusInternalServerError)
		return
	}
	dict.Refine(&conv.Vehicle, s.dict)
	outPath, err := s.tempPath("converted-*.eep")
	if err != nil {
		http.Error(w, fmt.Sprintf("output temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := os.WriteFile(outPath, conv.Image, 0o644); err != nil {
		http.Error(w, fmt.Sprintf("write output: %v", err), http.StatusInternalServerError)
		return
	}
	name := strings.TrimSpace(req.OutputName)
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath)) + ".eep"
	}
	art, err := s.addArtifact(outPath, name, "application/octet-stream", "conversion")
	if err != nil {
		http.Error(w, fmt.Sprintf("register output: %v", err), http.StatusInternalServerError)
		return
	}
	sourceSha := common.Sha256OfBytes(img)
	outputSha := common.Sha256OfBytes(conv.Image)
	checksum := dflash.Checksum(conv.Image)
	entry := common.AuditEntry{
		SourceSha256: sourceSha,
		OutputSha256: outputSha,
		Variant:      conv.Vehicle.Variant,
		VIN:          conv.Vehicle.VIN,
		Odometer:     conv.Vehicle.Odometer,
		Checksum:     checksum,
		Ts:           time.Now().UTC(),
	}
	if err := s.audit.Append(entry); err != nil {
		http.Error(w, fmt.Sprintf("audit: %v", err), http.StatusInternalServerError)
		return
	}
	common.Logf("convert %s: variant=%s checksum=0x%08X", filepath.Base(inputPath), conv.Vehicle.Variant, checksum)
	resp := struct {
		Vehicle      dflash.VehicleInfo `json:"vehicle"`
		Checksum     uint32             `json:"checksum"`
		SourceSha256 string             `json:"sourceSha256"`
		OutputSha256 string             `json:"outputSha256"`
		Artifact     ArtifactRef        `json:"artifact"`
	}{
		Vehicle:      conv.Vehicle,
		Checksum:     checksum,
		SourceSha256: sourceSha,
		OutputSha256: outputSha,
		Artifact:     toRef(art),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Inputs  []string `json:"inputs"`
		ShaAlgo string   `json:"shaAlgo"`
		Sign    bool     `json:"sign"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Inputs) == 0 {
		http.Error(w, "inputs required", http.StatusBadRequest)
		return
	}
	if req.ShaAlgo == "" {
		req.ShaAlgo = "sha256"
	}
	if !strings.EqualFold(req.ShaAlgo, "sha256") {
		http.Error(w, "only sha256 supported", http.StatusBadRequest)
		return
	}
	var paths []string
	for _, in := range req.Inputs {
		resolved, err := s.resolvePath(in)
		if err != nil {
			http.Error(w, fmt.Sprintf("resolve %s: %v", in, err), http.StatusBadRequest)
			return
		}
		paths = append(paths, resolved)
	}
	m, err := manifest.Build(paths)
	if err != nil {
		http.Error(w, fmt.Sprintf("build manifest: %v", err), http.StatusInternalServerError)
		return
	}
	outPath, err := s.tempPath("manifest-*.json")
	if err != nil {
		http.Error(w, fmt.Sprintf("manifest temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := manifest.Save(m, outPath); err != nil {
		http.Error(w, fmt.Sprintf("write manifest: %v", err), http.StatusInternalServerError)
		return
	}
	art, err := s.addArtifact(outPath, "manifest.json", "application/json", "manifest")
	if err != nil {
		http.Error(w, fmt.Sprintf("register manifest: %v", err), http.StatusInternalServerError)
		return
	}
	var sigRef *ArtifactRef
	if req.Sign {
		info, ref, err := s.signManifestFile(outPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("sign manifest: %v", err), http.StatusInternalServerError)
			return
		}
		m.Signature = info
		sigRef = ref
	}
	resp := struct {
		Manifest          manifest.Manifest `json:"manifest"`
		ManifestArtifact  ArtifactRef       `json:"manifestArtifact"`
		SignatureArtifact *ArtifactRef      `json:"signatureArtifact,omitempty"`
	}{
		Manifest:          m,
		ManifestArtifact:  toRef(art),
		SignatureArtifact: sigRef,
	}
	writeJSON(w, http.StatusOK, resp)
}

// signManifestFile signs the saved manifest bytes so the detached JWS
// verifies against the exact document a client downloads.
func (s *Server) signManifestFile(manifestPath string) (*manifest.SignatureInfo, *ArtifactRef, error) {
	if s.signing.PrivateKeyPath == "" || s.signing.CertificatePath == "" {
		return nil, nil, errors.New("manifest signing is not configured")
	}
	manifestBytes, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read manifest: %w", err)
	}
	keyPEM, err := os.ReadFile(s.signing.PrivateKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read signing key: %w", err)
	}
	jws, err := crypto.SignDetachedJWS(manifestBytes, keyPEM)
	if err != nil {
		return nil, nil, err
	}
	sigBytes, err := json.MarshalIndent(jws, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	sigPath, err := s.tempPath("manifest-*.jws")
	if err != nil {
		return nil, nil, fmt.Errorf("signature temp: %w", err)
	}
	if err := os.WriteFile(sigPath, sigBytes, 0o644); err != nil {
		return nil, nil, fmt.Errorf("write signature: %w", err)
	}
	art, err := s.addArtifact(sigPath, "manifest.jws", "application/json", "signature")
	if err != nil {
		return nil, nil, fmt.Errorf("register signature: %w", err)
	}
	info := &manifest.SignatureInfo{
		Algorithm: "RS256",
		Signer:    s.signerName(),
		SignedAt:  time.Now().UTC(),
	}
	ref := toRef(art)
	return info, &ref, nil
}

func (s *Server) signerName() string {
	certPEM, err := os.ReadFile(s.signing.CertificatePath)
	if err != nil {
		return ""
	}
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return ""
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return ""
	}
	return cert.Subject.String()
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.profileIDs)
}

func (s *Server) handleArtifactList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.listArtifacts())
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/artifacts/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	art, ok := s.getArtifact(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		http.Error(w, fmt.Sprintf("open artifact: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, fmt.Sprintf("stat artifact: %v", err), http.StatusInternalServerError)
		return
	}
	if art.ContentType != "" {
		w.Header().Set("Content-Type", art.ContentType)
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	disposition := fmt.Sprintf("attachment; filename=\"%s\"", art.Name)
	w.Header().Set("Content-Disposition", disposition)
	io.Copy(w, f)
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := filepath.Join("api", "openapi.yaml")
	http.ServeFile(w, r, path)
}

func (s *Server) handleAdminUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.updateInstaller == nil {
		http.Error(w, "updates disabled", http.StatusForbidden)
		return
	}
	if err := r.ParseMultipartForm(512 << 20); err != nil {
		http.Error(w, fmt.Sprintf("parse multipart: %v", err), http.StatusBadRequest)
		return
	}
	file, fh, err := r.FormFile("package")
	if err != nil {
		http.Error(w, "package file required", http.StatusBadRequest)
		return
	}
	defer file.Close()
	archivePath, err := s.tempPath("update-*.zip")
	if err != nil {
		http.Error(w, fmt.Sprintf("update temp: %v", err), http.StatusInternalServerError)
		return
	}
	out, err := os.Create(archivePath)
	if err != nil {
		http.Error(w, fmt.Sprintf("create archive: %v", err), http.StatusInternalServerError)
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		http.Error(w, fmt.Sprintf("save archive %s: %v", fh.Filename, err), http.StatusInternalServerError)
		return
	}
	out.Close()
	result, err := s.updateInstaller.InstallFromArchive(archivePath)
	if err != nil {
		http.Error(w, fmt.Sprintf("install: %v", err), http.StatusUnprocessableEntity)
		return
	}
	resp := struct {
		Version         string `json:"version"`
		PreviousVersion string `json:"previousVersion,omitempty"`
	}{
		Version:         result.Version,
		PreviousVersion: result.PreviousVersion,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) loadRulePack(profile string, override *rules.RulePack) (rules.RulePack, error) {
	if override != nil && len(override.Rules) > 0 {
		return *override, nil
	}
	entry, ok := s.profilePacks[profile]
	if !ok {
		return rules.RulePack{}, fmt.Errorf("no default rule pack for profile %s", profile)
	}
	return rules.LoadRulePack(entry.rulesPath)
}

func toRef(art Artifact) ArtifactRef {
	return ArtifactRef{
		ID:          art.ID,
		Name:        art.Name,
		ContentType: art.ContentType,
		Size:        art.Size,
		Kind:        art.Kind,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func guessContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".ndjson":
		return "application/x-ndjson"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".bin", ".dfl", ".eep":
		return "application/octet-stream"
	default:
		return "application/octet-stream"
	}
}

func randomID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		now := time.Now().UTC()
		return fmt.Sprintf("%d%06d", now.UnixNano(), os.Getpid())
	}
	return hex.EncodeToString(b[:])
}

func (s *Server) listArtifacts() []ArtifactRef {
	s.artifacts.mu.RLock()
	refs := make([]ArtifactRef, 0, len(s.artifacts.entries))
	for _, art := range s.artifacts.entries {
		refs = append(refs, toRef(art))
	}
	s.artifacts.mu.RUnlock()
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs
}
