package dict

import (
	"fmt"
	"strings"
)

// WMIEntry names a world manufacturer identifier (the first three VIN
// characters) beyond the built-in table shipped with the analyzer.
type WMIEntry struct {
	Prefix string
	Name   string
}

// YearEntry maps an additional model-year code character to a year.
type YearEntry struct {
	Code byte
	Year int
}

// Store holds workshop-supplied lookup overrides. Entries here take
// precedence over the built-in tables.
type Store struct {
	wmi   map[string]WMIEntry
	years map[byte]YearEntry
}

// JSONFile is the on-disk dictionary shape.
type JSONFile struct {
	WMI   []JSONWMIEntry  `json:"wmi"`
	Years []JSONYearEntry `json:"years"`
}

type JSONWMIEntry struct {
	Prefix string `json:"prefix"`
	Name   string `json:"name"`
}

type JSONYearEntry struct {
	Code string `json:"code"`
	Year int    `json:"year"`
}

// FromJSON validates and indexes a parsed dictionary file.
func FromJSON(file JSONFile) (*Store, error) {
	store := &Store{
		wmi:   make(map[string]WMIEntry),
		years: make(map[byte]YearEntry),
	}
	for i, entry := range file.WMI {
		prefix := strings.ToUpper(strings.TrimSpace(entry.Prefix))
		if len(prefix) != 3 {
			return nil, fmt.Errorf("wmi[%d]: prefix must be 3 characters", i)
		}
		if _, exists := store.wmi[prefix]; exists {
			return nil, fmt.Errorf("wmi[%d]: duplicate prefix %s", i, prefix)
		}
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return nil, fmt.Errorf("wmi[%d]: empty manufacturer name", i)
		}
		store.wmi[prefix] = WMIEntry{Prefix: prefix, Name: name}
	}
	for i, entry := range file.Years {
		code := strings.ToUpper(strings.TrimSpace(entry.Code))
		if len(code) != 1 {
			return nil, fmt.Errorf("years[%d]: code must be a single character", i)
		}
		if entry.Year < 1980 || entry.Year > 2079 {
			return nil, fmt.Errorf("years[%d]: year %d out of range", i, entry.Year)
		}
		key := code[0]
		if _, exists := store.years[key]; exists {
			return nil, fmt.Errorf("years[%d]: duplicate code %s", i, code)
		}
		store.years[key] = YearEntry{Code: key, Year: entry.Year}
	}
	return store, nil
}

// LookupWMI resolves a manufacturer override for the given prefix.
func (s *Store) LookupWMI(prefix string) (WMIEntry, bool) {
	if s == nil {
		return WMIEntry{}, false
	}
	entry, ok := s.wmi[strings.ToUpper(prefix)]
	return entry, ok
}

// LookupYear resolves a model-year override for the given code character.
func (s *Store) LookupYear(code byte) (YearEntry, bool) {
	if s == nil {
		return YearEntry{}, false
	}
	entry, ok := s.years[code]
	return entry, ok
}

func (s *Store) IsEmpty() bool {
	if s == nil {
		return true
	}
	return len(s.wmi) == 0 && len(s.years) == 0
}
