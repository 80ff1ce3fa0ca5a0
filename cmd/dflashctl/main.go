package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"text/tabwriter"
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

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	if _, err := common.RequireValidLicense(); err != nil {
		fmt.Fprintf(os.Stderr, "license error: %v\n", err)
		fmt.Fprintf(os.Stderr, "machine hash: %s\n", machineHashForError())
		os.Exit(2)
	}
	cmd := os.Args[1]
	switch cmd {
	case "analyze":
		analyzeCmd(os.Args[2:])
	case "convert":
		convertCmd(os.Args[2:])
	case "report":
		reportCmd(os.Args[2:])
	case "manifest":
		manifestCmd(os.Args[2:])
	case "verify-signature":
		verifySignatureCmd(os.Args[2:])
	case "batch":
		batchCmd(os.Args[2:])
	case "audit":
		auditCmd(os.Args[2:])
	case "rulepack":
		rulepackCmd(os.Args[2:])
	case "update":
		updateCmd(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Printf(`dflashctl %s (built %s) <command> [options]

Commands:
  analyze   --in <dump.bin> --profile <profile> [--rules <rulepack.json> | --rulepack-id <id> [--rulepack-version <version>]] [--dict <dict.json>] --out <diagnostics.jsonl> --acceptance <acceptance.json> [--analysis <analysis.json>]
  convert   --in <dump.bin> --out <image.eep> [--audit <audit.jsonl>] [--dict <dict.json>]
  report    --acceptance <acceptance.json> --pdf <report.pdf> [--lang en|tr] [--analysis <analysis.json>] [--manifest <manifest.json>]
  manifest  --inputs <comma-separated> --out <manifest.json> [--sign --key <key.pem> --cert <cert.pem> --jws-out <file>]
  verify-signature --manifest <manifest.json> --jws <signature.jws> --cert <cert.pem>
  batch     --in <dir> --profile <profile> --rules <rulepack.json> --out-dir <dir> [--convert]
  audit     --log <audit.jsonl>
  rulepack  <install|list|remove|verify|set-default> [...]
  update    --package <file.update.zip> | --dir <directory>
`, version, buildDate)
}

func machineHashForError() string {
	hash, err := common.MachineFingerprint()
	if err != nil {
		return fmt.Sprintf("unavailable (%v)", err)
	}
	return hash
}

func analyzeCmd(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	in := fs.String("in", "", "input dump")
	profile := fs.String("profile", "dflash-32k", "profile")
	rulesPath := fs.String("rules", "", "rulepack.json")
	rulePackID := fs.String("rulepack-id", "", "installed rule pack identifier")
	rulePackVersion := fs.String("rulepack-version", "", "installed rule pack version")
	allowUnsigned := fs.Bool("allow-unsigned-rulepack", false, "allow analysis with unsigned rule packs")
	outDiag := fs.String("out", "diagnostics.jsonl", "diagnostics output")
	outAcc := fs.String("acceptance", "acceptance_report.json", "acceptance json")
	outAnalysis := fs.String("analysis", "", "analysis json output")
	includeVehicle := fs.Bool("include-vehicle-fields", true, "include VIN and corruption metadata in diagnostics output")
	concurrency := fs.Int("concurrency", runtime.NumCPU(), "maximum concurrent rule evaluations")
	metricsFlag := fs.Bool("metrics", false, "print analysis throughput metrics")
	progressFlag := fs.Bool("progress", false, "display analysis progress updates")
	dictPath := fs.String("dict", "", "dictionary JSON file")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	if *rulesPath != "" && *rulePackID != "" {
		fmt.Println("--rules and --rulepack-id cannot be used together")
		os.Exit(1)
	}
	if *rulePackVersion != "" && *rulePackID == "" {
		fmt.Println("--rulepack-version requires --rulepack-id")
		os.Exit(1)
	}

	var metrics *common.Metrics
	if *metricsFlag || *progressFlag {
		metrics = common.NewMetrics()
		if info, err := os.Stat(*in); err == nil {
			metrics.SetTotalBytes(info.Size())
		}
	}

	rp, source, err := rules.ResolveRulePack(rules.RulePackRequest{
		Path:          *rulesPath,
		RulePackId:    *rulePackID,
		Version:       *rulePackVersion,
		Profile:       *profile,
		AllowUnsigned: *allowUnsigned,
	})
	if err != nil {
		fmt.Println("resolve rulepack:", err)
		os.Exit(1)
	}
	if source.FromRepository {
		fmt.Printf("Using rule pack %s@%s (profile %s)\n", source.RulePackId, source.Version, rp.Profile)
		if source.Unsigned {
			fmt.Println("WARNING: rule pack is unsigned")
		}
	}
	engine := rules.NewEngine(rp)
	engine.RegisterBuiltins()
	engine.SetConfigValue("diag.include_vehicle_fields", *includeVehicle)
	engine.SetConcurrency(*concurrency)

	ctx := &rules.Context{InputFile: *in, Profile: *profile, Metrics: metrics}
	if err := configureDictionary(ctx, *dictPath); err != nil {
		fmt.Println("dictionary:", err)
		os.Exit(1)
	}
	if metrics != nil {
		metrics.Start()
	}
	var stopProgress func()
	if metrics != nil && *progressFlag {
		stopProgress = common.StartProgressPrinter(os.Stderr, metrics, 500*time.Millisecond)
	}
	diags, err := engine.Eval(ctx)
	if stopProgress != nil {
		stopProgress()
	}
	if metrics != nil {
		metrics.Stop()
	}
	if err != nil {
		fmt.Println("eval:", err)
		os.Exit(1)
	}

	if err := engine.WriteDiagnosticsNDJSON(*outDiag); err != nil {
		fmt.Println("write diags:", err)
		os.Exit(1)
	}
	rep := engine.MakeAcceptance()
	if err := report.SaveAcceptanceJSON(rep, *outAcc); err != nil {
		fmt.Println("write report:", err)
		os.Exit(1)
	}
	if *outAnalysis != "" && ctx.Analysis != nil {
		if err := report.SaveAnalysisJSON(*ctx.Analysis, *outAnalysis); err != nil {
			fmt.Println("write analysis:", err)
			os.Exit(1)
		}
	}
	if ctx.Analysis != nil {
		printVehicleSummary(ctx.Analysis.Vehicle, ctx.Analysis.Report.CorruptionLevel)
	}
	fmt.Printf("PASS=%v, errors=%d, warnings=%d, diagnostics=%d\n", rep.Summary.Pass, rep.Summary.Errors, rep.Summary.Warnings, len(diags))
	if metrics != nil && *metricsFlag {
		snap := metrics.Snapshot()
		mbPerSec := snap.ThroughputBytesPerSecond() / 1_000_000
		fmt.Printf("Metrics: duration=%s images=%d conversions=%d processed=%s throughput=%.2f MB/s\n",
			snap.Duration.Round(10*time.Millisecond),
			snap.Images,
			snap.Conversions,
			common.FormatBytes(snap.Bytes),
			mbPerSec,
		)
	}
}

func printVehicleSummary(v dflash.VehicleInfo, corruption int) {
	fmt.Printf("Variant: %s\n", v.Variant)
	if v.VIN != "" {
		fmt.Printf("VIN: %s", v.VIN)
		if v.Manufacturer != "" {
			fmt.Printf(" (%s", v.Manufacturer)
			if v.ModelYear != 0 {
				fmt.Printf(", %d", v.ModelYear)
			}
			fmt.Print(")")
		}
		fmt.Println()
	} else {
		fmt.Println("VIN: not found")
	}
	switch {
	case v.OdometerFound:
		fmt.Printf("Odometer: %d miles\n", v.Odometer)
	case v.OdometerBigEndianFound:
		fmt.Printf("Odometer: %d miles (big-endian reading, unverified)\n", v.OdometerBigEndian)
	default:
		fmt.Println("Odometer: not found")
	}
	if corruption >= 0 {
		fmt.Printf("Corruption level: %d/100\n", corruption)
	}
}

func convertCmd(args []string) {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	in := fs.String("in", "", "input dump")
	out := fs.String("out", "", "output EEPROM image")
	auditPath := fs.String("audit", "", "audit log output (jsonl)")
	dictPath := fs.String("dict", "", "dictionary JSON file")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	outPath := *out
	if outPath == "" {
		ext := filepath.Ext(*in)
		outPath = strings.TrimSuffix(*in, ext) + ".eep"
	}
	img, err := os.ReadFile(*in)
	if err != nil {
		fmt.Println("read input:", err)
		os.Exit(1)
	}
	conv, err := dflash.Convert(img)
	if err != nil {
		fmt.Println("convert:", err)
		os.Exit(1)
	}
	var store *dict.Store
	if strings.TrimSpace(*dictPath) != "" {
		store, err = dict.EnsureLoaded(*dictPath)
		if err != nil {
			fmt.Println("dictionary:", err)
			os.Exit(1)
		}
	}
	dict.Refine(&conv.Vehicle, store)
	if err := os.WriteFile(outPath, conv.Image, 0o644); err != nil {
		fmt.Println("write output:", err)
		os.Exit(1)
	}
	sourceSha := common.Sha256OfBytes(img)
	outputSha := common.Sha256OfBytes(conv.Image)
	checksum := dflash.Checksum(conv.Image)
	if *auditPath != "" {
		log := common.NewAuditLog(*auditPath)
		entry := common.AuditEntry{
			SourceSha256: sourceSha,
			OutputSha256: outputSha,
			Variant:      conv.Vehicle.Variant,
			VIN:          conv.Vehicle.VIN,
			Odometer:     conv.Vehicle.Odometer,
			Checksum:     checksum,
			Ts:           time.Now().UTC(),
		}
		if err := log.Append(entry); err != nil {
			fmt.Println("audit:", err)
			os.Exit(1)
		}
		fmt.Printf("Audit log: %s\n", log.Path())
	}
	printVehicleSummary(conv.Vehicle, -1)
	fmt.Printf("Checksum: 0x%08X\n", checksum)
	fmt.Printf("Source SHA256: %s\n", sourceSha)
	fmt.Printf("Output SHA256: %s\n", outputSha)
	fmt.Println("Wrote", outPath)
}

func configureDictionary(ctx *rules.Context, flagValue string) error {
	if ctx == nil {
		return nil
	}
	path := strings.TrimSpace(flagValue)
	if path == "" {
		return nil
	}
	store, err := dict.EnsureLoaded(path)
	if err != nil {
		return fmt.Errorf("load dictionary %s: %w", path, err)
	}
	ctx.Dict = store
	return nil
}

func reportCmd(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	accPath := fs.String("acceptance", "", "acceptance_report.json")
	pdfPath := fs.String("pdf", "", "output acceptance report PDF")
	lang := fs.String("lang", "en", "report language (en or tr)")
	analysisPath := fs.String("analysis", "", "analysis json to embed vehicle details")
	manifestPath := fs.String("manifest", "", "manifest json whose digest is printed as a QR code")
	fs.Parse(args)

	if *accPath == "" || *pdfPath == "" {
		fmt.Println("required: --acceptance, --pdf")
		os.Exit(1)
	}
	rep, err := report.LoadAcceptanceJSON(*accPath)
	if err != nil {
		fmt.Println("load acceptance:", err)
		os.Exit(1)
	}
	language, err := report.ParseLanguage(*lang)
	if err != nil {
		fmt.Println("language:", err)
		os.Exit(1)
	}
	opts := report.PDFOptions{Language: language}
	if *analysisPath != "" {
		analysis, err := report.LoadAnalysisJSON(*analysisPath)
		if err != nil {
			fmt.Println("load analysis:", err)
			os.Exit(1)
		}
		opts.Analysis = &analysis
	}
	if *manifestPath != "" {
		m, err := manifest.Load(*manifestPath)
		if err != nil {
			fmt.Println("load manifest:", err)
			os.Exit(1)
		}
		opts.ManifestHash = m.Digest()
	}
	if err := report.SaveAcceptancePDF(rep, *pdfPath, opts); err != nil {
		fmt.Println("write pdf:", err)
		os.Exit(1)
	}
	fmt.Println("Wrote PDF:", *pdfPath)
}

func manifestCmd(args []string) {
	fs := flag.NewFlagSet("manifest", flag.ExitOnError)
	inputs := fs.String("inputs", "", "comma-separated paths")
	out := fs.String("out", "manifest.json", "output json")
	sign := fs.Bool("sign", false, "sign manifest (detached JWS over JSON)")
	keyPath := fs.String("key", "", "PEM private key for signing (requires --sign)")
	certPath := fs.String("cert", "", "PEM certificate describing signer (requires --sign)")
	jwsOut := fs.String("jws-out", "", "output JWS file (defaults to manifest path with .jws)")
	fs.Parse(args)

	if *inputs == "" {
		fmt.Println("required: --inputs")
		os.Exit(1)
	}

	var paths []string
	for _, p := range strings.Split(*inputs, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		fmt.Println("no input paths specified")
		os.Exit(1)
	}

	m, err := manifest.Build(paths)
	if err != nil {
		fmt.Println("manifest build:", err)
		os.Exit(1)
	}
	if err := manifest.Save(m, *out); err != nil {
		fmt.Println("manifest save:", err)
		os.Exit(1)
	}
	fmt.Println("Wrote", *out)
	fmt.Println("Digest:", m.Digest())

	if !*sign {
		return
	}
	if *keyPath == "" || *certPath == "" {
		fmt.Println("--sign requires --key and --cert")
		os.Exit(1)
	}

	keyBytes, err := os.ReadFile(*keyPath)
	if err != nil {
		fmt.Println("read key:", err)
		os.Exit(1)
	}
	if _, err := os.ReadFile(*certPath); err != nil {
		fmt.Println("read cert:", err)
		os.Exit(1)
	}

	sigPath := *jwsOut
	if sigPath == "" {
		base := *out
		ext := filepath.Ext(base)
		if ext != "" {
			sigPath = base[:len(base)-len(ext)] + ".jws"
		} else {
			sigPath = base + ".jws"
		}
	}

	// Sign the saved bytes so the signature verifies against the file
	// exactly as written.
	payload, err := os.ReadFile(*out)
	if err != nil {
		fmt.Println("read manifest:", err)
		os.Exit(1)
	}
	jws, err := crypto.SignDetachedJWS(payload, keyBytes)
	if err != nil {
		fmt.Println("manifest sign:", err)
		os.Exit(1)
	}
	jwsBytes, err := json.MarshalIndent(jws, "", "  ")
	if err != nil {
		fmt.Println("jws marshal:", err)
		os.Exit(1)
	}
	if err := os.WriteFile(sigPath, jwsBytes, 0644); err != nil {
		fmt.Println("write jws:", err)
		os.Exit(1)
	}
	fmt.Println("Wrote signature", sigPath)
}

func verifySignatureCmd(args []string) {
	fs := flag.NewFlagSet("verify-signature", flag.ExitOnError)
	manifestPath := fs.String("manifest", "", "manifest JSON file")
	jwsPath := fs.String("jws", "", "manifest JWS signature file")
	certPath := fs.String("cert", "", "signer certificate (PEM)")
	fs.Parse(args)

	if *manifestPath == "" || *jwsPath == "" || *certPath == "" {
		fmt.Println("required: --manifest, --jws, --cert")
		os.Exit(1)
	}

	manifestBytes, err := os.ReadFile(*manifestPath)
	if err != nil {
		fmt.Println("read manifest:", err)
		os.Exit(1)
	}
	jwsBytes, err := os.ReadFile(*jwsPath)
	if err != nil {
		fmt.Println("read jws:", err)
		os.Exit(1)
	}
	certBytes, err := os.ReadFile(*certPath)
	if err != nil {
		fmt.Println("read cert:", err)
		os.Exit(1)
	}

	var jwsObj crypto.JWS
	if err := json.Unmarshal(jwsBytes, &jwsObj); err != nil {
		fmt.Println("parse jws:", err)
		os.Exit(1)
	}

	if err := crypto.VerifyDetachedJWS(manifestBytes, jwsObj, certBytes); err != nil {
		fmt.Println("verify signature:", err)
		os.Exit(1)
	}
	fmt.Println("Signature OK")
}

func batchCmd(args []string) {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	inDir := fs.String("in", ".", "input directory")
	profile := fs.String("profile", "dflash-32k", "profile")
	rulesPath := fs.String("rules", "", "rulepack.json")
	outDir := fs.String("out-dir", "out", "results directory")
	dictPath := fs.String("dict", "", "dictionary JSON file")
	convertFlag := fs.Bool("convert", false, "also write the converted EEPROM image per dump")
	concurrency := fs.Int("concurrency", runtime.NumCPU(), "maximum concurrent rule evaluations")
	fs.Parse(args)

	if *rulesPath == "" {
		fmt.Println("required: --rules")
		os.Exit(1)
	}
	rp, err := rules.LoadRulePack(*rulesPath)
	if err != nil {
		fmt.Println("load rulepack:", err)
		os.Exit(1)
	}
	var store *dict.Store
	if strings.TrimSpace(*dictPath) != "" {
		store, err = dict.EnsureLoaded(*dictPath)
		if err != nil {
			fmt.Println("dictionary:", err)
			os.Exit(1)
		}
	}
	dumps, err := collectDumps(*inDir)
	if err != nil {
		fmt.Println("scan input dir:", err)
		os.Exit(1)
	}
	if len(dumps) == 0 {
		fmt.Println("no dumps found in", *inDir)
		os.Exit(1)
	}

	failures := 0
	for _, dump := range dumps {
		name := strings.TrimSuffix(filepath.Base(dump), filepath.Ext(dump))
		caseDir := filepath.Join(*outDir, name)
		if err := os.MkdirAll(caseDir, 0o755); err != nil {
			fmt.Printf("%s: mkdir: %v\n", name, err)
			failures++
			continue
		}
		engine := rules.NewEngine(rp)
		engine.RegisterBuiltins()
		engine.SetConcurrency(*concurrency)
		ctx := &rules.Context{InputFile: dump, Profile: *profile, Dict: store}
		if _, err := engine.Eval(ctx); err != nil {
			fmt.Printf("%s: eval: %v\n", name, err)
			failures++
			continue
		}
		if err := engine.WriteDiagnosticsNDJSON(filepath.Join(caseDir, "diagnostics.jsonl")); err != nil {
			fmt.Printf("%s: write diagnostics: %v\n", name, err)
			failures++
			continue
		}
		rep := engine.MakeAcceptance()
		if err := report.SaveAcceptanceJSON(rep, filepath.Join(caseDir, "acceptance.json")); err != nil {
			fmt.Printf("%s: write acceptance: %v\n", name, err)
			failures++
			continue
		}
		if ctx.Analysis != nil {
			if err := report.SaveAnalysisJSON(*ctx.Analysis, filepath.Join(caseDir, "analysis.json")); err != nil {
				fmt.Printf("%s: write analysis: %v\n", name, err)
				failures++
				continue
			}
		}
		if *convertFlag {
			img, err := os.ReadFile(dump)
			if err != nil {
				fmt.Printf("%s: read dump: %v\n", name, err)
				failures++
				continue
			}
			conv, err := dflash.Convert(img)
			if err != nil {
				fmt.Printf("%s: convert: %v\n", name, err)
				failures++
				continue
			}
			if err := os.WriteFile(filepath.Join(caseDir, name+".eep"), conv.Image, 0o644); err != nil {
				fmt.Printf("%s: write image: %v\n", name, err)
				failures++
				continue
			}
		}
		fmt.Printf("%s: PASS=%v errors=%d warnings=%d\n", name, rep.Summary.Pass, rep.Summary.Errors, rep.Summary.Warnings)
	}
	fmt.Printf("Processed %d dump(s), %d failure(s)\n", len(dumps), failures)
	if failures > 0 {
		os.Exit(1)
	}
}

func collectDumps(root string) ([]string, error) {
	var dumps []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".bin", ".dfl", ".dump":
			dumps = append(dumps, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(dumps)
	return dumps, nil
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	logPath := fs.String("log", "", "audit log (jsonl)")
	fs.Parse(args)

	if *logPath == "" {
		fmt.Println("required: --log")
		os.Exit(1)
	}
	entries, err := common.ReadAuditLog(*logPath)
	if err != nil {
		fmt.Println("read audit:", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Println("audit log is empty")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TS\tVARIANT\tVIN\tODOMETER\tCHECKSUM\tSOURCE")
	for _, entry := range entries {
		vin := entry.VIN
		if vin == "" {
			vin = "-"
		}
		src := entry.SourceSha256
		if len(src) > 12 {
			src = src[:12]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t0x%08X\t%s\n",
			entry.Ts.Format(time.RFC3339),
			entry.Variant,
			vin,
			entry.Odometer,
			entry.Checksum,
			src,
		)
	}
	w.Flush()
}

func updateCmd(args []string) {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	pkgPath := fs.String("package", "", "update archive (.update.zip)")
	dir := fs.String("dir", "", "directory containing a single .update.zip")
	installRoot := fs.String("install-root", "", "override install root")
	certPath := fs.String("cert", "", "override signer certificate")
	fs.Parse(args)

	archive := *pkgPath
	if archive == "" {
		if *dir == "" {
			fmt.Println("required: --package or --dir")
			os.Exit(1)
		}
		found, err := update.FindArchive(*dir)
		if err != nil {
			fmt.Println("find archive:", err)
			os.Exit(1)
		}
		archive = found
	}
	installer, err := update.NewInstaller(update.Options{
		InstallRoot: *installRoot,
		CertPath:    *certPath,
	})
	if err != nil {
		fmt.Println("update init:", err)
		os.Exit(1)
	}
	result, err := installer.InstallFromArchive(archive)
	if err != nil {
		fmt.Println("install:", err)
		os.Exit(1)
	}
	if result.PreviousVersion != "" {
		fmt.Printf("Updated %s -> %s\n", result.PreviousVersion, result.Version)
	} else {
		fmt.Printf("Installed %s\n", result.Version)
	}
	fmt.Println("Release:", result.ReleasePath)
}

func rulepackCmd(args []string) {
	if len(args) == 0 {
		rulepackUsage()
		os.Exit(1)
	}
	sub := args[0]
	switch sub {
	case "install":
		rulepackInstallCmd(args[1:])
	case "list":
		rulepackListCmd(args[1:])
	case "remove":
		rulepackRemoveCmd(args[1:])
	case "verify":
		rulepackVerifyCmd(args[1:])
	case "set-default":
		rulepackSetDefaultCmd(args[1:])
	default:
		fmt.Println("unknown rulepack subcommand")
		rulepackUsage()
		os.Exit(1)
	}
}

func rulepackUsage() {
	fmt.Println("rulepack commands:")
	fmt.Println("  install --file <package.rpkg.zip> [--allow-unsigned]")
	fmt.Println("  list")
	fmt.Println("  remove --id <rulepack> --version <version>")
	fmt.Println("  verify --id <rulepack> --version <version>")
	fmt.Println("  set-default --profile <profile> --id <rulepack> --version <version>")
}

func rulepackInstallCmd(args []string) {
	fs := flag.NewFlagSet("rulepack install", flag.ExitOnError)
	file := fs.String("file", "", "path to .rpkg.zip package")
	allowUnsigned := fs.Bool("allow-unsigned", false, "allow installing unsigned packages")
	fs.Parse(args)

	if *file == "" {
		fmt.Println("required: --file")
		os.Exit(1)
	}
	repo, err := rules.DefaultRepository()
	if err != nil {
		fmt.Println("open repository:", err)
		os.Exit(1)
	}
	installed, err := repo.InstallPackage(*file, *allowUnsigned)
	if err != nil {
		fmt.Println("install rule pack:", err)
		os.Exit(1)
	}
	fmt.Printf("Installed %s@%s (profile %s)\n", installed.RulePack.RulePackId, installed.RulePack.Version, installed.RulePack.Profile)
	if installed.Signed {
		if installed.Signer != "" {
			fmt.Printf("Signer: %s\n", installed.Signer)
		}
	} else {
		fmt.Println("Package installed without signature")
	}
}

func rulepackListCmd(args []string) {
	fs := flag.NewFlagSet("rulepack list", flag.ExitOnError)
	fs.Parse(args)
	repo, err := rules.DefaultRepository()
	if err != nil {
		fmt.Println("open repository:", err)
		os.Exit(1)
	}
	entries, err := repo.ListInstalled()
	if err != nil {
		fmt.Println("list rule packs:", err)
		os.Exit(1)
	}
	defaults, err := repo.Defaults()
	if err != nil {
		fmt.Println("load defaults:", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Println("No rule packs installed")
		return
	}
	byKey := make(map[string][]string)
	for profile, ref := range defaults {
		key := ref.RulePackId + "@" + ref.Version
		byKey[key] = append(byKey[key], profile)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tPROFILE\tSIGNED\tDEFAULT FOR\tSIGNER")
	for _, entry := range entries {
		key := entry.RulePack.RulePackId + "@" + entry.RulePack.Version
		profiles := byKey[key]
		sort.Strings(profiles)
		signed := "yes"
		if !entry.Signed {
			signed = "no"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			entry.RulePack.RulePackId,
			entry.RulePack.Version,
			entry.RulePack.Profile,
			signed,
			strings.Join(profiles, ","),
			entry.Signer,
		)
	}
	w.Flush()
}

func rulepackRemoveCmd(args []string) {
	fs := flag.NewFlagSet("rulepack remove", flag.ExitOnError)
	id := fs.String("id", "", "rule pack identifier")
	version := fs.String("version", "", "rule pack version")
	fs.Parse(args)

	if *id == "" || *version == "" {
		fmt.Println("required: --id, --version")
		os.Exit(1)
	}
	repo, err := rules.DefaultRepository()
	if err != nil {
		fmt.Println("open repository:", err)
		os.Exit(1)
	}
	if err := repo.Remove(*id, *version); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("rule pack not found")
		} else {
			fmt.Println("remove rule pack:", err)
		}
		os.Exit(1)
	}
	fmt.Printf("Removed %s@%s\n", *id, *version)
}

func rulepackVerifyCmd(args []string) {
	fs := flag.NewFlagSet("rulepack verify", flag.ExitOnError)
	id := fs.String("id", "", "rule pack identifier")
	version := fs.String("version", "", "rule pack version")
	fs.Parse(args)

	if *id == "" || *version == "" {
		fmt.Println("required: --id, --version")
		os.Exit(1)
	}
	repo, err := rules.DefaultRepository()
	if err != nil {
		fmt.Println("open repository:", err)
		os.Exit(1)
	}
	_, source, err := repo.Load(*id, *version, false)
	if err != nil {
		fmt.Println("verify rule pack:", err)
		os.Exit(1)
	}
	msg := "Signature OK"
	if source.Signer != "" {
		msg += fmt.Sprintf(" (signed by %s)", source.Signer)
	}
	fmt.Println(msg)
}

func rulepackSetDefaultCmd(args []string) {
	fs := flag.NewFlagSet("rulepack set-default", flag.ExitOnError)
	profile := fs.String("profile", "", "profile name")
	id := fs.String("id", "", "rule pack identifier")
	version := fs.String("version", "", "rule pack version")
	fs.Parse(args)

	if *profile == "" || *id == "" || *version == "" {
		fmt.Println("required: --profile, --id, --version")
		os.Exit(1)
	}
	repo, err := rules.DefaultRepository()
	if err != nil {
		fmt.Println("open repository:", err)
		os.Exit(1)
	}
	_, source, err := repo.Load(*id, *version, true)
	if err != nil {
		fmt.Println("load rule pack:", err)
		os.Exit(1)
	}
	if source.Unsigned {
		fmt.Println("WARNING: selected rule pack is unsigned")
	}
	if err := repo.SetDefaultForProfile(*profile, rules.RulePackRef{RulePackId: *id, Version: *version}); err != nil {
		fmt.Println("set default:", err)
		os.Exit(1)
	}
	fmt.Printf("Default for profile %s set to %s@%s\n", *profile, *id, *version)
}
