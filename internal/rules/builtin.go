package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"example.com/dflashgate/internal/dflash"
)

// Config flag window in the source dump, mirrored verbatim into the
// output image.
const (
	configRegionFrom = 0x0040
	configRegionTo   = 0x0080
)

func intPtr(v int) *int { return &v }

func stringPtr(s string) *string { return &s }

// builtinChecks maps the fixFunction names a rule pack may reference to
// the checks shipped with the engine. Pack installation validates against
// the same table, so a pack naming an unknown check is rejected before it
// ever reaches Eval.
var builtinChecks = map[string]CheckFunc{
	"CheckImageSize":               CheckImageSize,
	"CheckCorruptionLevel":         CheckCorruptionLevel,
	"CheckVariantKnown":            CheckVariantKnown,
	"CheckVINPresent":              CheckVINPresent,
	"CheckVINDecode":               CheckVINDecode,
	"CheckOdometerPlausible":       CheckOdometerPlausible,
	"CheckOdometerEndianAgreement": CheckOdometerEndianAgreement,
	"CheckConfigRegion":            CheckConfigRegion,
	"CheckBlankSectors":            CheckBlankSectors,
	"FixOutputChecksum":            FixOutputChecksum,
}

// KnownCheck reports whether name resolves to a built-in check.
func KnownCheck(name string) bool {
	_, ok := builtinChecks[name]
	return ok
}

func (e *Engine) RegisterBuiltins() {
	for name, f := range builtinChecks {
		e.Register(name, f)
	}
}

func baseDiag(ctx *Context, rule Rule) Diagnostic {
	return Diagnostic{
		Ts:       time.Now(),
		File:     ctx.InputFile,
		RuleId:   rule.RuleId,
		Severity: INFO,
		Refs:     rule.Refs,
	}
}

// paramInt reads an integer rule parameter, tolerating the float64 that
// encoding/json produces for numbers.
func paramInt(rule Rule, key string, def int) int {
	v, ok := rule.Params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

func CheckImageSize(ctx *Context, rule Rule) (Diagnostic, bool, error) {
	diag := baseDiag(ctx, rule)
	if ctx.Image == nil {
		if err := ctx.EnsureAnalysis(); err != nil {
			var mismatch *dflash.SizeMismatchError
			if errors.As(err, &mismatch) {
				diag.Severity = ERROR
				diag.Message = mismatch.Error()
				return diag, false, nil
			}
			diag.Severity = ERROR
			diag.Message = "cannot read input image"
			return diag, false, err
		}
	}
	want := paramInt(rule, "expectedSize", dflash.SourceImageSize)
	if len(ctx.Image) != want {
		diag.Severity = ERROR
		diag.Message = fmt.Sprintf("image is %d bytes, expected %d", len(ctx.Image), want)
		return diag, false, nil
	}
	diag.Message = fmt.Sprintf("image size verified (%d bytes)", want)
	return diag, false, nil
}

func CheckCorruptionLevel(ctx *Context, rule Rule) (Diagnostic, bool, error) {
	diag := baseDiag(ctx, rule)
	if err := ctx.EnsureAnalysis(); err != nil {
		diag.Severity = ERROR
		diag.Message = "cannot analyze image"
		return diag, false, err
	}
	rep := ctx.Analysis.Report
	diag.CorruptionLevel = intPtr(rep.CorruptionLevel)
	min := paramInt(rule, "minLevel", 50)
	if rep.CorruptionLevel < min {
		diag.Severity = rule.Severity
		if diag.Severity == "" {
			diag.Severity = ERROR
		}
		diag.Message = fmt.Sprintf("only %d of %d sectors recoverable (level %d, minimum %d)",
			rep.RecoverableSectorCount, rep.TotalSectorCount, rep.CorruptionLevel, min)
		return diag, false, nil
	}
	diag.Message = fmt.Sprintf("recoverable data level %d", rep.CorruptionLevel)
	return diag, false, nil
}

func CheckVariantKnown(ctx *Context, rule Rule) (Diagnostic, bool, error) {
	diag := baseDiag(ctx, rule)
	if err := ctx.EnsureAnalysis(); err != nil {
		diag.Severity = ERROR
		diag.Message = "cannot analyze image"
		return diag, false, err
	}
	variant := ctx.Analysis.Vehicle.Variant
	if variant == dflash.VariantUnknown || variant == dflash.VariantUnknownSized {
		diag.Severity = WARN
		diag.Message = fmt.Sprintf("no cluster variant marker found (%s)", variant)
		return diag, false, nil
	}
	diag.Message = "cluster variant " + variant
	return diag, false, nil
}

func CheckVINPresent(ctx *Context, rule Rule) (Diagnostic, bool, error) {
	diag := baseDiag(ctx, rule)
	if err := ctx.EnsureAnalysis(); err != nil {
		diag.Severity = ERROR
		diag.Message = "cannot analyze image"
		return diag, false, err
	}
	vin := ctx.Analysis.Vehicle.VIN
	if vin == "" {
		diag.Severity = WARN
		diag.Message = "no VIN found in scanned regions"
		return diag, false, nil
	}
	diag.VIN = stringPtr(vin)
	diag.Message = "VIN present"
	return diag, false, nil
}

func CheckVINDecode(ctx *Context, rule Rule) (Diagnostic, bool, error) {
	diag := baseDiag(ctx, rule)
	if err := ctx.EnsureAnalysis(); err != nil {
		diag.Severity = ERROR
		diag.Message = "cannot analyze image"
		return diag, false, err
	}
	v := ctx.Analysis.Vehicle
	if v.VIN == "" {
		diag.Message = "no VIN to decode"
		return diag, false, nil
	}
	diag.VIN = stringPtr(v.VIN)
	if v.Manufacturer == dflash.ManufacturerUnknown {
		diag.Severity = WARN
		diag.Message = fmt.Sprintf("world manufacturer identifier %s not in lookup tables", v.VIN[:3])
		return diag, false, nil
	}
	if v.ModelYear == 0 {
		diag.Severity = WARN
		diag.Message = fmt.Sprintf("model year code %q does not decode", v.VIN[9])
		return diag, false, nil
	}
	diag.Message = fmt.Sprintf("VIN decodes to %s, model year %d", v.Manufacturer, v.ModelYear)
	return diag, false, nil
}

func CheckOdometerPlausible(ctx *Context, rule Rule) (Diagnostic, bool, error) {
	diag := baseDiag(ctx, rule)
	if err := ctx.EnsureAnalysis(); err != nil {
		diag.Severity = ERROR
		diag.Message = "cannot analyze image"
		return diag, false, err
	}
	v := ctx.Analysis.Vehicle
	if !v.OdometerFound {
		diag.Severity = WARN
		diag.Message = "no plausible odometer reading found"
		return diag, false, nil
	}
	max := paramInt(rule, "maxMiles", 500_000)
	if int(v.Odometer) > max {
		diag.Severity = WARN
		diag.Message = fmt.Sprintf("odometer %d exceeds expected ceiling %d", v.Odometer, max)
		return diag, false, nil
	}
	diag.Message = fmt.Sprintf("odometer %d miles", v.Odometer)
	return diag, false, nil
}

// CheckOdometerEndianAgreement flags dumps where a byte-swapped reading
// of the odometer word also looks plausible but differs from the
// canonical little-endian value. The conversion always uses the
// little-endian reading; the diagnostic exists so an operator can
// double-check against the instrument cluster.
func CheckOdometerEndianAgreement(ctx *Context, rule Rule) (Diagnostic, bool, error) {
	diag := baseDiag(ctx, rule)
	if err := ctx.EnsureAnalysis(); err != nil {
		diag.Severity = ERROR
		diag.Message = "cannot analyze image"
		return diag, false, err
	}
	v := ctx.Analysis.Vehicle
	switch {
	case v.OdometerFound && v.OdometerBigEndianFound && v.Odometer != v.OdometerBigEndian:
		diag.Severity = WARN
		diag.Message = fmt.Sprintf("byte order ambiguous: little-endian reads %d, big-endian reads %d (unverified)",
			v.Odometer, v.OdometerBigEndian)
	case !v.OdometerFound && v.OdometerBigEndianFound:
		diag.Severity = WARN
		diag.Message = fmt.Sprintf("only a big-endian reading %d found (unverified, not used for conversion)",
			v.OdometerBigEndian)
	default:
		diag.Message = "odometer byte order unambiguous"
	}
	return diag, false, nil
}

func CheckConfigRegion(ctx *Context, rule Rule) (Diagnostic, bool, error) {
	diag := baseDiag(ctx, rule)
	if err := ctx.EnsureAnalysis(); err != nil {
		diag.Severity = ERROR
		diag.Message = "cannot analyze image"
		return diag, false, err
	}
	if len(ctx.Image) < configRegionTo {
		diag.Severity = ERROR
		diag.Message = "image too short for config region"
		return diag, false, nil
	}
	region := ctx.Image[configRegionFrom:configRegionTo]
	if dflash.ClassifySector(region).Blank() {
		diag.Severity = WARN
		diag.Offset = fmt.Sprintf("0x%04X", configRegionFrom)
		diag.Message = "config flag region is blank; defaults will be programmed"
		return diag, false, nil
	}
	diag.Message = "config flag region populated"
	return diag, false, nil
}

// CheckBlankSectors reports the first blank sector, if any. Blank
// sectors are normal in partially used dumps, so this stays
// informational unless the rule says otherwise.
func CheckBlankSectors(ctx *Context, rule Rule) (Diagnostic, bool, error) {
	diag := baseDiag(ctx, rule)
	if err := ctx.EnsureAnalysis(); err != nil {
		diag.Severity = ERROR
		diag.Message = "cannot analyze image"
		return diag, false, err
	}
	rep := ctx.Analysis.Report
	blanks := 0
	first := -1
	for i, class := range rep.Sectors {
		if class.Blank() {
			blanks++
			if first < 0 {
				first = i
			}
		}
	}
	if blanks == 0 {
		diag.Message = "no blank sectors"
		return diag, false, nil
	}
	diag.Sector = first
	diag.Offset = fmt.Sprintf("0x%04X", first*dflash.SectorSize)
	if rule.Severity != "" {
		diag.Severity = rule.Severity
	}
	diag.Message = fmt.Sprintf("%d blank sector(s), first at sector %d", blanks, first)
	return diag, false, nil
}

// FixOutputChecksum re-seals a converted image whose trailing checksum
// no longer matches its contents. It operates on ctx.OutputFile and
// leaves the source dump untouched.
func FixOutputChecksum(ctx *Context, rule Rule) (Diagnostic, bool, error) {
	diag := baseDiag(ctx, rule)
	if ctx.OutputFile == "" {
		diag.Message = "no output image to verify"
		return diag, false, nil
	}
	img, err := os.ReadFile(ctx.OutputFile)
	if err != nil {
		diag.Severity = ERROR
		diag.Message = "cannot read output image"
		return diag, false, err
	}
	if len(img) != dflash.TargetImageSize {
		diag.Severity = ERROR
		diag.Message = fmt.Sprintf("output image is %d bytes, expected %d", len(img), dflash.TargetImageSize)
		return diag, false, nil
	}
	if dflash.VerifyChecksum(img) {
		diag.Message = "output checksum verified"
		return diag, false, nil
	}
	dflash.WriteChecksum(img)
	if err := os.WriteFile(ctx.OutputFile, img, 0o644); err != nil {
		diag.Severity = ERROR
		diag.Message = "failed to rewrite output checksum"
		return diag, false, err
	}
	diag.Offset = fmt.Sprintf("0x%04X", dflash.TargetImageSize-4)
	diag.Message = "resealed output checksum in " + filepath.Base(ctx.OutputFile)
	diag.FixSuggested = true
	return diag, true, nil
}
