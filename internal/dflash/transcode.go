package dflash

import "encoding/binary"

// headerTemplate is the fixed 16-byte output header: magic "DFE1", a
// little-endian format version, the little-endian offset of the first data
// field and eight reserved bytes.
var headerTemplate = [headerSize]byte{
	'D', 'F', 'E', '1',
	outputVersion & 0xFF, outputVersion >> 8,
	outputDataStart & 0xFF, outputDataStart >> 8,
	0, 0, 0, 0, 0, 0, 0, 0,
}

// Convert synthesizes the EEPROM image from a D-Flash dump. The only
// failure is the size precondition; every field extraction degrades
// gracefully, leaving the corresponding output bytes at the fill value.
// Identical input always produces a byte-identical image.
func Convert(img []byte) (*Conversion, error) {
	if err := checkSize(img); err != nil {
		return nil, err
	}

	out := make([]byte, TargetImageSize)
	for i := range out {
		out[i] = FillByte
	}
	copy(out[headerOffset:], headerTemplate[:])

	vehicle := extractVehicle(img)

	if vehicle.VIN != "" {
		// ASCII, unpadded, no terminator.
		copy(out[vinOffset:vinOffset+vinLength], vehicle.VIN)
	}
	if vehicle.OdometerFound {
		binary.LittleEndian.PutUint32(out[odometerOffset:], vehicle.Odometer)
	}
	copy(out[configOffset:], img[configBlockSrcFrom:configBlockSrcTo])

	WriteChecksum(out)
	return &Conversion{Image: out, Vehicle: vehicle}, nil
}

// extractVehicle runs every extractor over the dump. Shared by Analyze and
// Convert so the two surfaces never disagree about a recovered field.
func extractVehicle(img []byte) VehicleInfo {
	info := VehicleInfo{
		Variant: DetectVariant(img),
		Config:  ExtractConfigFlags(img),
	}
	if vin, ok := ExtractVIN(img); ok {
		info.VIN = vin
		info.Manufacturer = LookupManufacturer(vin)
		info.ModelYear = LookupModelYear(vin)
	}
	if v, ok := ExtractOdometer(img); ok {
		info.Odometer = v
		info.OdometerFound = true
	} else if v, ok := ExtractOdometerBigEndian(img); ok {
		info.OdometerBigEndian = v
		info.OdometerBigEndianFound = true
	}
	return info
}

// Checksum sums every byte of the image except the trailing 4-byte field,
// wrapping modulo 2^32. This is a weak integrity marker for detecting
// gross corruption, not a CRC; external programmer tools expect exactly
// this arithmetic, so it must not be strengthened.
func Checksum(img []byte) uint32 {
	var sum uint32
	limit := len(img) - 4
	if limit < 0 {
		limit = 0
	}
	for _, b := range img[:limit] {
		sum += uint32(b)
	}
	return sum
}

// WriteChecksum stores the checksum little-endian in the final four bytes.
func WriteChecksum(img []byte) {
	if len(img) < 4 {
		return
	}
	binary.LittleEndian.PutUint32(img[len(img)-4:], Checksum(img))
}

// VerifyChecksum recomputes the sum and compares it to the stored field.
func VerifyChecksum(img []byte) bool {
	if len(img) < 4 {
		return false
	}
	return binary.LittleEndian.Uint32(img[len(img)-4:]) == Checksum(img)
}
