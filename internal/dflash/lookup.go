package dflash

// ManufacturerUnknown is returned for WMI prefixes missing from the table.
// A generic label is preferred over absence so reports always render a
// manufacturer line next to a recovered VIN.
const ManufacturerUnknown = "unrecognized manufacturer"

// wmiManufacturers maps the first three VIN characters (the world
// manufacturer identifier) to a display label. Pure data, never mutated
// after process start.
var wmiManufacturers = map[string]string{
	"WBA": "BMW",
	"WBS": "BMW M",
	"WDB": "Mercedes-Benz",
	"WDD": "Mercedes-Benz",
	"WAU": "Audi",
	"WVW": "Volkswagen",
	"WF0": "Ford (Germany)",
	"W0L": "Opel",
	"VF1": "Renault",
	"VF3": "Peugeot",
	"VF7": "Citroen",
	"VSS": "SEAT",
	"TMB": "Skoda",
	"ZFA": "Fiat",
	"YV1": "Volvo",
	"SAL": "Land Rover",
	"SAJ": "Jaguar",
	"JHM": "Honda",
	"JTD": "Toyota",
	"KMH": "Hyundai",
	"KNA": "Kia",
	"1FA": "Ford (US)",
	"1HG": "Honda (US)",
	"2G1": "Chevrolet",
}

// vinYearCodes maps the model-year character at VIN position 10 (0-indexed
// 9). The mapping deliberately covers a single 30-year window; a wrong
// year is worse than no year, so unmapped characters yield absence.
var vinYearCodes = map[byte]int{
	'Y': 2000,
	'1': 2001, '2': 2002, '3': 2003, '4': 2004, '5': 2005,
	'6': 2006, '7': 2007, '8': 2008, '9': 2009,
	'A': 2010, 'B': 2011, 'C': 2012, 'D': 2013, 'E': 2014,
	'F': 2015, 'G': 2016, 'H': 2017, 'J': 2018, 'K': 2019,
	'L': 2020, 'M': 2021, 'N': 2022, 'P': 2023, 'R': 2024,
	'S': 2025, 'T': 2026, 'V': 2027, 'W': 2028, 'X': 2029,
}

// LookupManufacturer resolves the WMI prefix of a valid VIN. Short or
// unknown prefixes fall back to ManufacturerUnknown.
func LookupManufacturer(vin string) string {
	if len(vin) < 3 {
		return ManufacturerUnknown
	}
	if label, ok := wmiManufacturers[vin[:3]]; ok {
		return label
	}
	return ManufacturerUnknown
}

// LookupModelYear resolves the model-year character of a valid VIN.
// Returns 0 (absent) when the VIN is short or the character is unmapped.
func LookupModelYear(vin string) int {
	if len(vin) < 10 {
		return 0
	}
	return vinYearCodes[vin[9]]
}
