package dict

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"example.com/dflashgate/internal/dflash"
)

func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file JSONFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return FromJSON(file)
}

func EnsureLoaded(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("empty dictionary path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("dictionary path %s is a directory", path)
	}
	return Load(path)
}

// Refine re-resolves the derived VIN fields with store overrides. Built-in
// lookups already ran inside the analyzer; overrides win when present, and
// a dictionary year entry can fill a year the built-in table left absent.
func Refine(info *dflash.VehicleInfo, store *Store) {
	if info == nil || store.IsEmpty() || len(info.VIN) < 10 {
		return
	}
	if entry, ok := store.LookupWMI(info.VIN[:3]); ok {
		info.Manufacturer = entry.Name
	}
	if entry, ok := store.LookupYear(info.VIN[9]); ok {
		info.ModelYear = entry.Year
	}
}
