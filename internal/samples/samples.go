// Package samples builds the deterministic demo assets shipped with the
// repository: a healthy 32 KiB D-Flash dump and a small dictionary file.
package samples

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"

	"example.com/dflashgate/internal/dflash"
	"example.com/dflashgate/internal/dict"
)

const (
	// File names exposed for generator consumers.
	DumpFileName = "sample.bin"
	DictFileName = "dict.json"

	// Deterministic vehicle data embedded in the sample dump. The year
	// code U is absent from the built-in table, so the sample dictionary
	// is what resolves the model year.
	SampleVIN           = "WBA123456U1234567"
	SampleOdometerMiles = 123456

	markerOffset   = 0x0100
	vinOffset      = 0x1000
	odometerOffset = 0x0604
)

// BuildDump constructs the deterministic sample capture: a KOMBI46 dump
// with a VIN, an odometer reading, populated config bytes and a couple of
// blank sectors so the corruption report has texture.
func BuildDump() []byte {
	img := make([]byte, dflash.SourceImageSize)
	copy(img[markerOffset:], "KOMBI46")
	copy(img[vinOffset:], SampleVIN)
	binary.LittleEndian.PutUint32(img[odometerOffset:], SampleOdometerMiles)

	// Config region: daytime lights + buzzer, service counter at 12.
	img[0x0052] = 0x05
	img[0x0053] = 0x00
	img[0x0060] = 12

	// Scatter non-zero filler through the data sectors so they classify
	// as meaningful rather than blank-zero.
	for off := 0x2000; off < 0x6000; off += 64 {
		img[off] = byte(off >> 8)
	}

	// The last two sectors are factory-erased.
	for off := dflash.SourceImageSize - 2*dflash.SectorSize; off < dflash.SourceImageSize; off++ {
		img[off] = dflash.FillByte
	}
	return img
}

// BuildDict returns the matching dictionary with one WMI override and a
// year-code entry the built-in table does not carry.
func BuildDict() ([]byte, error) {
	file := dict.JSONFile{
		WMI: []dict.JSONWMIEntry{
			{Prefix: "WBA", Name: "BMW AG (sample override)"},
		},
		Years: []dict.JSONYearEntry{
			{Code: "U", Year: 1997},
		},
	}
	if _, err := dict.FromJSON(file); err != nil {
		return nil, err
	}
	return json.MarshalIndent(file, "", "  ")
}

// WriteFiles materializes the generated assets under dir.
func WriteFiles(dir string) error {
	dictData, err := BuildDict()
	if err != nil {
		return err
	}
	if err := writeFileIfChanged(filepath.Join(dir, DumpFileName), BuildDump()); err != nil {
		return err
	}
	return writeFileIfChanged(filepath.Join(dir, DictFileName), append(dictData, '\n'))
}

func writeFileIfChanged(path string, data []byte) error {
	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, data) {
		return nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
