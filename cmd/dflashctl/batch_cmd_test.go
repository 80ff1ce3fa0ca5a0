package main

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"example.com/dflashgate/internal/dflash"
	"example.com/dflashgate/internal/rules"
)

func writeSyntheticDump(t *testing.T, path string) {
	t.Helper()
	img := make([]byte, dflash.SourceImageSize)
	copy(img[0x100:], "KOMBI46")
	copy(img[0x1000:], "WBA12345678901234")
	binary.LittleEndian.PutUint32(img[0x604:], 123456)
	img[0x52] = 0x15
	img[0x53] = 0x09
	if err := os.WriteFile(path, img, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func writeBatchRulePack(t *testing.T, path string) {
	t.Helper()
	rp := rules.RulePack{
		RulePackId: "batch-test",
		Version:    "1.0",
		Profile:    "dflash-32k",
		Rules: []rules.Rule{
			{RuleId: "DF-0001", Name: "image size", Scope: "image", Severity: rules.ERROR, FixFunc: "CheckImageSize"},
			{RuleId: "DF-0004", Name: "vin present", Scope: "vehicle", Severity: rules.WARN, FixFunc: "CheckVINPresent"},
		},
	}
	data, err := json.MarshalIndent(rp, "", "  ")
	if err != nil {
		t.Fatalf("Marshal rule pack: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile rules: %v", err)
	}
}

func TestBatchCmdGeneratesOutputs(t *testing.T) {
	root := t.TempDir()
	inputDir := filepath.Join(root, "inputs")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		t.Fatalf("MkdirAll inputs: %v", err)
	}
	outDir := filepath.Join(root, "out")

	writeSyntheticDump(t, filepath.Join(inputDir, "alpha.bin"))
	nestedDir := filepath.Join(inputDir, "nested")
	if err := os.MkdirAll(nestedDir, 0o755); err != nil {
		t.Fatalf("MkdirAll nested: %v", err)
	}
	writeSyntheticDump(t, filepath.Join(nestedDir, "beta.dfl"))

	rulesPath := filepath.Join(root, "rules.json")
	writeBatchRulePack(t, rulesPath)

	batchCmd([]string{
		"--in", inputDir,
		"--profile", "dflash-32k",
		"--rules", rulesPath,
		"--out-dir", outDir,
		"--convert",
	})

	check := func(name string) {
		out := filepath.Join(outDir, name)
		if info, err := os.Stat(out); err != nil || !info.IsDir() {
			t.Fatalf("Output dir missing for %s: %v", name, err)
		}
		diagPath := filepath.Join(out, "diagnostics.jsonl")
		if _, err := os.Stat(diagPath); err != nil {
			t.Fatalf("ReadFile diagnostics %s: %v", name, err)
		}
		accPath := filepath.Join(out, "acceptance.json")
		data, err := os.ReadFile(accPath)
		if err != nil {
			t.Fatalf("ReadFile acceptance %s: %v", name, err)
		}
		var rep rules.AcceptanceReport
		if err := json.Unmarshal(data, &rep); err != nil {
			t.Fatalf("Unmarshal acceptance %s: %v", name, err)
		}
		if !rep.Summary.Pass || rep.Summary.Errors != 0 {
			t.Fatalf("unexpected acceptance summary for %s: %+v", name, rep.Summary)
		}
		img, err := os.ReadFile(filepath.Join(out, name+".eep"))
		if err != nil {
			t.Fatalf("ReadFile image %s: %v", name, err)
		}
		if len(img) != dflash.TargetImageSize {
			t.Fatalf("image %s is %d bytes, want %d", name, len(img), dflash.TargetImageSize)
		}
		if !dflash.VerifyChecksum(img) {
			t.Fatalf("image %s checksum does not verify", name)
		}
	}

	check("alpha")
	check("beta")
}
