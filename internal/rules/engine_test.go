package rules

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteDiagnosticsNDJSONIncludesVehicleFields(t *testing.T) {
	eng := NewEngine(RulePack{})
	vin := "WBA12345678901234"
	eng.diagnostics = []Diagnostic{
		{
			Ts:       time.Unix(0, 0),
			File:     "dump.bin",
			RuleId:   "RP-TEST-1",
			Severity: INFO,
			Message:  "with vin",
			Refs:     []string{"ref"},
			VIN:      &vin,
		},
		{
			Ts:       time.Unix(1, 0),
			File:     "dump.bin",
			RuleId:   "RP-TEST-2",
			Severity: INFO,
			Message:  "without vin",
			Refs:     []string{"ref"},
		},
	}

	outPath := filepath.Join(t.TempDir(), "diagnostics.jsonl")
	if err := eng.WriteDiagnosticsNDJSON(outPath); err != nil {
		t.Fatalf("WriteDiagnosticsNDJSON failed: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	lines := bytesTrimSplit(data)
	if len(lines) != 2 {
		t.Fatalf("expected 2 diagnostics, got %d", len(lines))
	}

	var first map[string]any
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("unmarshal first line failed: %v", err)
	}
	if v, ok := first["vin"]; !ok {
		t.Fatalf("vin missing from first diagnostic")
	} else if s, ok := v.(string); !ok || s != vin {
		t.Fatalf("vin = %v, want %s", v, vin)
	}

	var second map[string]any
	if err := json.Unmarshal(lines[1], &second); err != nil {
		t.Fatalf("unmarshal second line failed: %v", err)
	}
	if v, ok := second["vin"]; !ok {
		t.Fatalf("vin missing from second diagnostic")
	} else if v != nil {
		t.Fatalf("vin expected nil, got %v", v)
	}
}

func TestWriteDiagnosticsNDJSONVehicleFieldsDisabled(t *testing.T) {
	eng := NewEngine(RulePack{})
	eng.SetConfigValue("diag.include_vehicle_fields", "false")
	vin := "WBA12345678901234"
	eng.diagnostics = []Diagnostic{
		{
			Ts:       time.Unix(0, 0),
			File:     "dump.bin",
			RuleId:   "RP-TEST-1",
			Severity: INFO,
			Message:  "with vin",
			Refs:     []string{"ref"},
			VIN:      &vin,
		},
	}

	outPath := filepath.Join(t.TempDir(), "diagnostics.jsonl")
	if err := eng.WriteDiagnosticsNDJSON(outPath); err != nil {
		t.Fatalf("WriteDiagnosticsNDJSON failed: %v", err)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &line); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, ok := line["vin"]; ok {
		t.Fatal("vin field present despite diag.include_vehicle_fields=false")
	}
}

func TestEvalReportsMissingFunction(t *testing.T) {
	rp := RulePack{Rules: []Rule{
		{RuleId: "RP-MISSING", FixFunc: "NoSuchCheck", Refs: []string{"ref"}},
		{RuleId: "RP-SKIPPED"},
	}}
	eng := NewEngine(rp)
	eng.RegisterBuiltins()

	ctx := &Context{InputFile: "dump.bin", Image: newTestDump()}
	diags, err := eng.Eval(ctx)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %d, want 1", len(diags))
	}
	if diags[0].Severity != WARN || diags[0].Message != "no function for rule" {
		t.Fatalf("unexpected diagnostic: %+v", diags[0])
	}
}

func TestEvalOrderStableUnderConcurrency(t *testing.T) {
	rp := RulePack{Rules: []Rule{
		{RuleId: "RP-1", FixFunc: "CheckImageSize"},
		{RuleId: "RP-2", FixFunc: "CheckVariantKnown"},
		{RuleId: "RP-3", FixFunc: "CheckVINPresent"},
		{RuleId: "RP-4", FixFunc: "CheckOdometerPlausible"},
	}}
	eng := NewEngine(rp)
	eng.RegisterBuiltins()
	eng.SetConcurrency(4)

	ctx := &Context{InputFile: "dump.bin", Image: newTestDump()}
	diags, err := eng.Eval(ctx)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	want := []string{"RP-1", "RP-2", "RP-3", "RP-4"}
	if len(diags) != len(want) {
		t.Fatalf("diagnostics = %d, want %d", len(diags), len(want))
	}
	for i, id := range want {
		if diags[i].RuleId != id {
			t.Fatalf("diags[%d].RuleId = %s, want %s", i, diags[i].RuleId, id)
		}
	}
}

func TestMakeAcceptance(t *testing.T) {
	eng := NewEngine(RulePack{})
	eng.diagnostics = []Diagnostic{
		{RuleId: "RP-1", Severity: INFO},
		{RuleId: "RP-2", Severity: WARN},
		{RuleId: "RP-3", Severity: ERROR},
	}
	rep := eng.MakeAcceptance()
	if rep.Summary.Total != 3 || rep.Summary.Errors != 1 || rep.Summary.Warnings != 1 {
		t.Fatalf("summary = %+v", rep.Summary)
	}
	if rep.Summary.Pass {
		t.Fatal("report passed despite an error finding")
	}
	if len(rep.GateMatrix) != 3 {
		t.Fatalf("gate matrix rows = %d, want 3", len(rep.GateMatrix))
	}
	if rep.GateMatrix[2].Pass {
		t.Fatal("gate matrix row for error finding marked pass")
	}
	if rep.GateMatrix[1].Severity != WARN {
		t.Fatalf("gate matrix severity = %s, want WARN", rep.GateMatrix[1].Severity)
	}
}

func bytesTrimSplit(in []byte) [][]byte {
	in = bytes.TrimSpace(in)
	if len(in) == 0 {
		return nil
	}
	parts := bytes.Split(in, []byte{'\n'})
	out := make([][]byte, 0, len(parts))
	for _, p := range parts {
		p = bytes.TrimSpace(p)
		if len(p) == 0 {
			continue
		}
		cp := make([]byte, len(p))
		copy(cp, p)
		out = append(out, cp)
	}
	return out
}
