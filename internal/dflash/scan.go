package dflash

import "sort"

// scanOffsets builds the ascending candidate offset list for a windowed
// scan: an explicit set of known offsets merged with a stride sweep over
// [start, end). The list is deduplicated and sorted so extraction always
// visits offsets in ascending order. Callers rely on first-match-wins
// being reproducible.
func scanOffsets(known []int, start, end, stride, fieldLen int) []int {
	seen := make(map[int]struct{})
	var out []int
	add := func(off int) {
		if off < 0 || off+fieldLen > SourceImageSize {
			return
		}
		if _, ok := seen[off]; ok {
			return
		}
		seen[off] = struct{}{}
		out = append(out, off)
	}
	for _, off := range known {
		add(off)
	}
	if stride > 0 {
		for off := start; off < end; off += stride {
			add(off)
		}
	}
	sort.Ints(out)
	return out
}

// window returns img[off:off+n] when fully in bounds, nil otherwise.
func window(img []byte, off, n int) []byte {
	if off < 0 || n <= 0 || off+n > len(img) {
		return nil
	}
	return img[off : off+n]
}

// byteAt reads a single byte, defaulting to 0x00 when the offset is out of
// bounds. The fixed-size precondition makes that unreachable in practice,
// but the extractors stay defensive.
func byteAt(img []byte, off int) byte {
	if off < 0 || off >= len(img) {
		return 0x00
	}
	return img[off]
}

// validVINChar reports membership in the VIN alphabet: A–H, J–N, P, R–Z and
// the digits. I, O and Q are excluded to avoid confusion with 1 and 0.
func validVINChar(b byte) bool {
	switch {
	case b >= '0' && b <= '9':
		return true
	case b >= 'A' && b <= 'H':
		return true
	case b >= 'J' && b <= 'N':
		return true
	case b == 'P':
		return true
	case b >= 'R' && b <= 'Z':
		return true
	}
	return false
}

// validVIN checks a candidate syntactically: exactly vinLength bytes, every
// one in the VIN alphabet. No check digit or manufacturer structure is
// verified.
func validVIN(candidate []byte) bool {
	if len(candidate) != vinLength {
		return false
	}
	for _, b := range candidate {
		if !validVINChar(b) {
			return false
		}
	}
	return true
}

// plausibleOdometer accepts a counter strictly between zero and one million
// miles. Zero usually means an erased cell; values at or above the cap are
// treated as noise.
func plausibleOdometer(v uint32) bool {
	return v > 0 && v < 1_000_000
}
