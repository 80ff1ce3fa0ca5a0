package samples_test

import (
	"os"
	"path/filepath"
	"testing"

	"example.com/dflashgate/internal/dflash"
	"example.com/dflashgate/internal/dict"
	"example.com/dflashgate/internal/samples"
)

func TestSampleDumpAnalyzes(t *testing.T) {
	img := samples.BuildDump()
	if len(img) != dflash.SourceImageSize {
		t.Fatalf("sample dump is %d bytes, want %d", len(img), dflash.SourceImageSize)
	}
	analysis, err := dflash.Analyze(img)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if analysis.Vehicle.Variant != "kombi-46" {
		t.Fatalf("variant = %q, want kombi-46", analysis.Vehicle.Variant)
	}
	if analysis.Vehicle.VIN != samples.SampleVIN {
		t.Fatalf("VIN = %q, want %q", analysis.Vehicle.VIN, samples.SampleVIN)
	}
	if !analysis.Vehicle.OdometerFound || analysis.Vehicle.Odometer != samples.SampleOdometerMiles {
		t.Fatalf("odometer = %d found=%v, want %d/true",
			analysis.Vehicle.Odometer, analysis.Vehicle.OdometerFound, samples.SampleOdometerMiles)
	}
	// Year code U is not in the built-in table; only the dictionary maps it.
	if analysis.Vehicle.ModelYear != 0 {
		t.Fatalf("built-in model year = %d, want absent", analysis.Vehicle.ModelYear)
	}
	if analysis.Report.RecoverableSectorCount == 0 || analysis.Report.CorruptionLevel <= 50 {
		t.Fatalf("unexpected corruption report: %+v", analysis.Report)
	}
}

func TestSampleDictRefinesAnalysis(t *testing.T) {
	dir := t.TempDir()
	if err := samples.WriteFiles(dir); err != nil {
		t.Fatalf("WriteFiles: %v", err)
	}
	img, err := os.ReadFile(filepath.Join(dir, samples.DumpFileName))
	if err != nil {
		t.Fatalf("ReadFile dump: %v", err)
	}
	store, err := dict.EnsureLoaded(filepath.Join(dir, samples.DictFileName))
	if err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}
	analysis, err := dflash.Analyze(img)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	dict.Refine(&analysis.Vehicle, store)
	if analysis.Vehicle.ModelYear != 1997 {
		t.Fatalf("model year = %d, want 1997 from dictionary", analysis.Vehicle.ModelYear)
	}
	if analysis.Vehicle.Manufacturer != "BMW AG (sample override)" {
		t.Fatalf("manufacturer = %q, want dictionary override", analysis.Vehicle.Manufacturer)
	}
}

func TestSampleDumpConverts(t *testing.T) {
	conv, err := dflash.Convert(samples.BuildDump())
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(conv.Image) != dflash.TargetImageSize {
		t.Fatalf("image is %d bytes, want %d", len(conv.Image), dflash.TargetImageSize)
	}
	if !dflash.VerifyChecksum(conv.Image) {
		t.Fatalf("converted image checksum does not verify")
	}
	if conv.Vehicle.VIN != samples.SampleVIN {
		t.Fatalf("converted VIN = %q", conv.Vehicle.VIN)
	}
}
