package dict

import (
	"testing"

	"example.com/dflashgate/internal/dflash"
)

func TestFromJSONValidation(t *testing.T) {
	tests := []struct {
		name    string
		file    JSONFile
		wantErr bool
	}{
		{name: "valid", file: JSONFile{
			WMI:   []JSONWMIEntry{{Prefix: "XLR", Name: "DAF Trucks"}},
			Years: []JSONYearEntry{{Code: "Z", Year: 1999}},
		}},
		{name: "short prefix", file: JSONFile{
			WMI: []JSONWMIEntry{{Prefix: "XL", Name: "DAF"}},
		}, wantErr: true},
		{name: "duplicate prefix", file: JSONFile{
			WMI: []JSONWMIEntry{{Prefix: "XLR", Name: "a"}, {Prefix: "xlr", Name: "b"}},
		}, wantErr: true},
		{name: "empty name", file: JSONFile{
			WMI: []JSONWMIEntry{{Prefix: "XLR", Name: "  "}},
		}, wantErr: true},
		{name: "year out of range", file: JSONFile{
			Years: []JSONYearEntry{{Code: "Z", Year: 3000}},
		}, wantErr: true},
		{name: "multi-char code", file: JSONFile{
			Years: []JSONYearEntry{{Code: "ZZ", Year: 1999}},
		}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromJSON(tc.file)
			if (err != nil) != tc.wantErr {
				t.Fatalf("FromJSON error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestRefine(t *testing.T) {
	store, err := FromJSON(JSONFile{
		WMI:   []JSONWMIEntry{{Prefix: "XLR", Name: "DAF Trucks"}},
		Years: []JSONYearEntry{{Code: "Z", Year: 1999}},
	})
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}

	info := dflash.VehicleInfo{
		VIN:          "XLR123456Z8901234",
		Manufacturer: dflash.ManufacturerUnknown,
	}
	Refine(&info, store)
	if info.Manufacturer != "DAF Trucks" {
		t.Fatalf("Manufacturer = %q, want DAF Trucks", info.Manufacturer)
	}
	if info.ModelYear != 1999 {
		t.Fatalf("ModelYear = %d, want 1999", info.ModelYear)
	}

	// No VIN means nothing to refine.
	empty := dflash.VehicleInfo{}
	Refine(&empty, store)
	if empty.Manufacturer != "" || empty.ModelYear != 0 {
		t.Fatalf("Refine modified an empty record: %+v", empty)
	}
}
