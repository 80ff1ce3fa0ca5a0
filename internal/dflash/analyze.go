package dflash

// Analyze produces the read-only corruption report and the recovered
// vehicle field bundle for a D-Flash dump. It is pure and side-effect
// free; concurrent calls on distinct or identical images need no
// coordination.
func Analyze(img []byte) (Analysis, error) {
	if err := checkSize(img); err != nil {
		return Analysis{}, err
	}
	return Analysis{
		Report:  AnalyzeSectors(img),
		Vehicle: extractVehicle(img),
	}, nil
}
