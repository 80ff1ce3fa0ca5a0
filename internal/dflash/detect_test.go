package dflash

import (
	"encoding/binary"
	"testing"
)

const testVIN = "WBA12345678901234"

func TestDetectVariant(t *testing.T) {
	tests := []struct {
		name  string
		build func() []byte
		want  string
	}{
		{name: "marker in first window", build: func() []byte {
			img := filledImage(0xFF)
			copy(img[0x104:], "KOMBI46")
			return img
		}, want: "kombi-46"},
		{name: "marker in second window", build: func() []byte {
			img := filledImage(0xFF)
			copy(img[0x208:], "MC9S12")
			return img
		}, want: "mc9s12"},
		{name: "first window wins", build: func() []byte {
			img := filledImage(0xFF)
			copy(img[0x100:], "MC9S12")
			copy(img[0x200:], "KOMBI46")
			return img
		}, want: "mc9s12"},
		{name: "first marker wins on tie", build: func() []byte {
			img := filledImage(0xFF)
			copy(img[0x100:], "KOMBI46")
			copy(img[0x108:], "MC9S12")
			return img
		}, want: "kombi-46"},
		{name: "no marker right size", build: func() []byte {
			return filledImage(0xFF)
		}, want: VariantUnknownSized},
		{name: "no marker wrong size", build: func() []byte {
			return make([]byte, 128)
		}, want: VariantUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectVariant(tc.build()); got != tc.want {
				t.Fatalf("DetectVariant = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractVINKnownOffset(t *testing.T) {
	img := filledImage(0xFF)
	copy(img[0x1000:], testVIN)
	vin, ok := ExtractVIN(img)
	if !ok {
		t.Fatal("expected VIN to be found")
	}
	if vin != testVIN {
		t.Fatalf("VIN = %q, want %q", vin, testVIN)
	}
}

func TestExtractVINFirstMatchWins(t *testing.T) {
	img := filledImage(0xFF)
	copy(img[0x0120:], "VF7ABCDEFGH123456")
	copy(img[0x1000:], testVIN)
	vin, ok := ExtractVIN(img)
	if !ok {
		t.Fatal("expected VIN to be found")
	}
	if vin != "VF7ABCDEFGH123456" {
		t.Fatalf("VIN = %q, want the lower-offset candidate", vin)
	}
}

func TestExtractVINRejectsExcludedLetters(t *testing.T) {
	for _, bad := range []string{
		"WBA1234567890123I",
		"OBA12345678901234",
		"WBA12345Q78901234",
	} {
		img := filledImage(0xFF)
		copy(img[0x1000:], bad)
		if vin, ok := ExtractVIN(img); ok {
			t.Fatalf("ExtractVIN accepted %q as %q, want rejection", bad, vin)
		}
	}
}

func TestExtractVINIgnoresUnscannedOffsets(t *testing.T) {
	img := filledImage(0xFF)
	// Valid VIN, but planted past every scan window and off-stride.
	copy(img[0x3003:], testVIN)
	if vin, ok := ExtractVIN(img); ok {
		t.Fatalf("ExtractVIN found %q outside the scan geometry", vin)
	}
}

func TestExtractVINAbsent(t *testing.T) {
	if _, ok := ExtractVIN(filledImage(0xFF)); ok {
		t.Fatal("expected absence on an erased image")
	}
}

func TestExtractOdometer(t *testing.T) {
	img := filledImage(0xFF)
	binary.LittleEndian.PutUint32(img[0x604:], 123456)
	v, ok := ExtractOdometer(img)
	if !ok {
		t.Fatal("expected odometer to be found")
	}
	if v != 123456 {
		t.Fatalf("odometer = %d, want 123456", v)
	}
}

func TestExtractOdometerFirstOffsetWins(t *testing.T) {
	img := filledImage(0xFF)
	binary.LittleEndian.PutUint32(img[0x600:], 77777)
	binary.LittleEndian.PutUint32(img[0x700:], 123456)
	v, _ := ExtractOdometer(img)
	if v != 77777 {
		t.Fatalf("odometer = %d, want the lower-offset value 77777", v)
	}
}

func TestExtractOdometerRejectsImplausible(t *testing.T) {
	tests := []struct {
		name  string
		value uint32
	}{
		{name: "zero", value: 0},
		{name: "exactly one million", value: 1_000_000},
		{name: "huge", value: 0xFFFFFFFE},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			img := filledImage(0x00)
			binary.LittleEndian.PutUint32(img[0x604:], tc.value)
			if v, ok := ExtractOdometer(img); ok {
				t.Fatalf("accepted implausible value %d", v)
			}
		})
	}
}

func TestExtractOdometerBigEndianFallback(t *testing.T) {
	img := filledImage(0xFF)
	binary.BigEndian.PutUint32(img[0x610:], 500000)
	if v, ok := ExtractOdometer(img); ok {
		t.Fatalf("little-endian scan unexpectedly accepted %d", v)
	}
	v, ok := ExtractOdometerBigEndian(img)
	if !ok {
		t.Fatal("expected big-endian fallback to find the value")
	}
	if v != 500000 {
		t.Fatalf("big-endian odometer = %d, want 500000", v)
	}
}

func TestExtractConfigFlags(t *testing.T) {
	img := filledImage(0x00)
	img[configByteAOffset] = 0x15 // bits 0, 2, 4
	img[configByteBOffset] = 0x09 // bits 0, 3
	img[serviceByteOffset] = 42
	got := ExtractConfigFlags(img)
	want := ConfigFlags{
		DaytimeLights:   true,
		ServiceReminder: true,
		WarningBuzzer:   true,
		AutoRelock:      true,
		TPMSEnabled:     true,
		ServiceCounter:  42,
	}
	if got != want {
		t.Fatalf("ConfigFlags = %+v, want %+v", got, want)
	}
}

func TestExtractConfigFlagsShortImage(t *testing.T) {
	got := ExtractConfigFlags(nil)
	if got != (ConfigFlags{}) {
		t.Fatalf("ConfigFlags on nil image = %+v, want zero record", got)
	}
}
