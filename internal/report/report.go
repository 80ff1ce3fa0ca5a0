package report

import (
	"encoding/json"
	"os"

	"example.com/dflashgate/internal/dflash"
	"example.com/dflashgate/internal/rules"
)

func SaveAcceptanceJSON(rep rules.AcceptanceReport, out string) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadAcceptanceJSON(path string) (rules.AcceptanceReport, error) {
	var rep rules.AcceptanceReport
	b, err := os.ReadFile(path)
	if err != nil {
		return rep, err
	}
	err = json.Unmarshal(b, &rep)
	return rep, err
}

func SaveAnalysisJSON(analysis dflash.Analysis, out string) error {
	b, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadAnalysisJSON(path string) (dflash.Analysis, error) {
	var analysis dflash.Analysis
	b, err := os.ReadFile(path)
	if err != nil {
		return analysis, err
	}
	err = json.Unmarshal(b, &analysis)
	return analysis, err
}
