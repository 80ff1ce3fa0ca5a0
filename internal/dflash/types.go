package dflash

import "fmt"

const (
	// SourceImageSize is the exact length of a D-Flash dump accepted by the
	// analyzer and the transcoder.
	SourceImageSize = 32768
	// TargetImageSize is the length of the synthesized EEPROM image.
	TargetImageSize = 4096
	// SectorSize is the partition unit used for corruption classification.
	SectorSize = 1024
	// SectorCount is SourceImageSize / SectorSize.
	SectorCount = SourceImageSize / SectorSize
	// FillByte is the erased-cell value for this storage class.
	FillByte = 0xFF
)

// Output image layout. Offsets are consumed verbatim by external programmer
// tools and must not change.
const (
	headerOffset    = 0x00
	headerSize      = 16
	vinOffset       = 0x10
	vinLength       = 17
	odometerOffset  = 0x30
	configOffset    = 0x100
	checksumOffset  = TargetImageSize - 4
	outputVersion   = 1
	outputDataStart = 0x0010
)

// Source offsets read by the config flag extractor and the transcoder.
const (
	configByteAOffset  = 0x0052
	configByteBOffset  = 0x0053
	serviceByteOffset  = 0x0060
	configBlockSrcFrom = 0x0040
	configBlockSrcTo   = 0x0080
)

// SectorClass classifies the content of one 1 KiB sector.
type SectorClass uint8

const (
	// SectorMeaningful holds recoverable data.
	SectorMeaningful SectorClass = iota
	// SectorBlankErased is uniformly 0xFF.
	SectorBlankErased
	// SectorBlankZero is uniformly 0x00.
	SectorBlankZero
)

// Blank reports whether the sector carries no recoverable data.
func (c SectorClass) Blank() bool {
	return c == SectorBlankErased || c == SectorBlankZero
}

func (c SectorClass) String() string {
	switch c {
	case SectorMeaningful:
		return "meaningful"
	case SectorBlankErased:
		return "blank-erased"
	case SectorBlankZero:
		return "blank-zero"
	default:
		return fmt.Sprintf("sector-class-%d", uint8(c))
	}
}

// CorruptionReport summarizes how much of the dump still holds data.
type CorruptionReport struct {
	// CorruptionLevel is round(100 * recoverable / total). Despite the
	// historical name it grows with the amount of recoverable data.
	CorruptionLevel        int `json:"corruptionLevel"`
	RecoverableSectorCount int `json:"recoverableSectorCount"`
	TotalSectorCount       int `json:"totalSectorCount"`
	// Sectors records the per-sector classification, index 0..31.
	Sectors [SectorCount]SectorClass `json:"sectors"`
}

// MarshalText lets SectorClass serialize as its name rather than a raw
// enum value.
func (c SectorClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText accepts the names produced by String.
func (c *SectorClass) UnmarshalText(text []byte) error {
	switch string(text) {
	case "meaningful":
		*c = SectorMeaningful
	case "blank-erased":
		*c = SectorBlankErased
	case "blank-zero":
		*c = SectorBlankZero
	default:
		return fmt.Errorf("unknown sector class %q", text)
	}
	return nil
}

// ConfigFlags decodes the two configuration bytes and the service counter.
// Every field is always present; unavailable source bytes decode as zero.
type ConfigFlags struct {
	DaytimeLights   bool  `json:"daytimeLights"`
	ServiceReminder bool  `json:"serviceReminder"`
	WarningBuzzer   bool  `json:"warningBuzzer"`
	AutoRelock      bool  `json:"autoRelock"`
	TPMSEnabled     bool  `json:"tpmsEnabled"`
	ServiceCounter  uint8 `json:"serviceCounter"`
}

// VehicleInfo bundles every field recovered from a dump. Absent fields keep
// their zero value; the *Found booleans disambiguate a genuine zero.
type VehicleInfo struct {
	Variant       string `json:"variant"`
	VIN           string `json:"vin,omitempty"`
	Manufacturer  string `json:"manufacturer,omitempty"`
	ModelYear     int    `json:"modelYear,omitempty"`
	Odometer      uint32 `json:"odometerMiles,omitempty"`
	OdometerFound bool   `json:"odometerFound"`
	// OdometerBigEndian is an analysis-only fallback reading. It has not
	// been cross-validated against hardware and is never written to the
	// output image.
	OdometerBigEndian      uint32      `json:"odometerBigEndian,omitempty"`
	OdometerBigEndianFound bool        `json:"odometerBigEndianFound,omitempty"`
	Config                 ConfigFlags `json:"config"`
}

// Analysis is the read-only result of Analyze.
type Analysis struct {
	Report  CorruptionReport `json:"report"`
	Vehicle VehicleInfo      `json:"vehicle"`
}

// Conversion is the successful result of Convert. Image is exactly
// TargetImageSize bytes and must be treated as immutable by callers.
type Conversion struct {
	Image   []byte      `json:"-"`
	Vehicle VehicleInfo `json:"vehicle"`
}

// SizeMismatchError reports an input buffer whose length is not
// SourceImageSize. Size is a property of the artifact, not a transient
// fault, so the operation is never retried.
type SizeMismatchError struct {
	Expected int
	Actual   int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("d-flash image size mismatch: expected %d bytes, got %d", e.Expected, e.Actual)
}

func checkSize(img []byte) error {
	if len(img) != SourceImageSize {
		return &SizeMismatchError{Expected: SourceImageSize, Actual: len(img)}
	}
	return nil
}
