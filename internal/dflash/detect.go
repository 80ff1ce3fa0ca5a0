package dflash

import (
	"bytes"
	"encoding/binary"
)

// Signature windows and markers. The marker tokens were observed in known
// dumps of the two supported cluster families; detection is a heuristic,
// not a guaranteed identification.
const (
	sigWindowAStart = 0x100
	sigWindowAEnd   = 0x110
	sigWindowBStart = 0x200
	sigWindowBEnd   = 0x210

	// VariantUnknownSized is reported when no marker matches but the image
	// has the expected D-Flash size.
	VariantUnknownSized = "unknown-32k"
	// VariantUnknown is reported for anything else.
	VariantUnknown = "unknown"
)

var variantMarkers = []struct {
	token   string
	variant string
}{
	{"KOMBI46", "kombi-46"},
	{"MC9S12", "mc9s12"},
}

// DetectVariant classifies the image sub-variant by searching two fixed
// windows for known marker substrings. The first window match wins and the
// first marker checked wins on a tie within a window.
func DetectVariant(img []byte) string {
	for _, win := range [][2]int{
		{sigWindowAStart, sigWindowAEnd},
		{sigWindowBStart, sigWindowBEnd},
	} {
		w := window(img, win[0], win[1]-win[0])
		if w == nil {
			continue
		}
		for _, m := range variantMarkers {
			if bytes.Contains(w, []byte(m.token)) {
				return m.variant
			}
		}
	}
	if len(img) == SourceImageSize {
		return VariantUnknownSized
	}
	return VariantUnknown
}

// VIN scan geometry: three offsets where known variants store the VIN,
// widened by a 16-byte stride sweep for relocated or shifted layouts.
var (
	vinKnownOffsets = []int{0x0120, 0x1000, 0x2A00}
)

const (
	vinScanStart  = 0x0100
	vinScanEnd    = 0x2000
	vinScanStride = 0x10
)

// ExtractVIN scans the candidate offsets in ascending order and returns the
// first 17-byte run that validates against the VIN alphabet. A miss is an
// absence, not an error.
func ExtractVIN(img []byte) (string, bool) {
	for _, off := range scanOffsets(vinKnownOffsets, vinScanStart, vinScanEnd, vinScanStride, vinLength) {
		candidate := window(img, off, vinLength)
		if validVIN(candidate) {
			return string(candidate), true
		}
	}
	return "", false
}

// Odometer scan geometry: 4-byte aligned sweep over the counter region.
const (
	odoScanStart  = 0x0600
	odoScanEnd    = 0x0800
	odoScanStride = 4
)

// ExtractOdometer returns the first little-endian uint32 in the scan range
// that passes the plausibility check. Little-endian is the canonical
// interpretation; see ExtractOdometerBigEndian for the analysis fallback.
func ExtractOdometer(img []byte) (uint32, bool) {
	for off := odoScanStart; off+4 <= odoScanEnd; off += odoScanStride {
		w := window(img, off, 4)
		if w == nil {
			break
		}
		v := binary.LittleEndian.Uint32(w)
		if plausibleOdometer(v) {
			return v, true
		}
	}
	return 0, false
}

// ExtractOdometerBigEndian is a second-pass reading used only by Analyze
// when the canonical scan finds nothing. It has not been cross-validated
// against hardware dumps and never feeds the conversion output.
func ExtractOdometerBigEndian(img []byte) (uint32, bool) {
	for off := odoScanStart; off+4 <= odoScanEnd; off += odoScanStride {
		w := window(img, off, 4)
		if w == nil {
			break
		}
		v := binary.BigEndian.Uint32(w)
		if plausibleOdometer(v) {
			return v, true
		}
	}
	return 0, false
}

// ExtractConfigFlags decodes the two configuration bytes and the raw
// service counter. The record is always complete; missing source bytes
// decode as zero.
func ExtractConfigFlags(img []byte) ConfigFlags {
	a := byteAt(img, configByteAOffset)
	b := byteAt(img, configByteBOffset)
	return ConfigFlags{
		DaytimeLights:   a&(1<<0) != 0,
		ServiceReminder: a&(1<<2) != 0,
		WarningBuzzer:   a&(1<<4) != 0,
		AutoRelock:      b&(1<<0) != 0,
		TPMSEnabled:     b&(1<<3) != 0,
		ServiceCounter:  byteAt(img, serviceByteOffset),
	}
}
