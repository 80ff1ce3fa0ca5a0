package dflash

// ClassifySector inspects one sector-sized slice. A sector is blank when
// every byte is 0x00 or every byte is 0xFF; the two states are kept apart
// because erased flash and zero-filled flash are physically distinct.
func ClassifySector(sector []byte) SectorClass {
	if len(sector) == 0 {
		return SectorBlankErased
	}
	first := sector[0]
	uniform := true
	for _, b := range sector[1:] {
		if b != first {
			uniform = false
			break
		}
	}
	if !uniform {
		return SectorMeaningful
	}
	switch first {
	case FillByte:
		return SectorBlankErased
	case 0x00:
		return SectorBlankZero
	default:
		// Uniform but neither erased nor zeroed still counts as data:
		// a repeated calibration byte is recoverable content.
		return SectorMeaningful
	}
}

// AnalyzeSectors partitions the image into SectorCount sectors and counts
// the ones that still hold meaningful data. The caller guarantees the size
// precondition; short images simply classify fewer sectors.
func AnalyzeSectors(img []byte) CorruptionReport {
	rep := CorruptionReport{TotalSectorCount: SectorCount}
	for i := 0; i < SectorCount; i++ {
		start := i * SectorSize
		end := start + SectorSize
		if start >= len(img) {
			rep.Sectors[i] = SectorBlankErased
			continue
		}
		if end > len(img) {
			end = len(img)
		}
		rep.Sectors[i] = ClassifySector(img[start:end])
		if !rep.Sectors[i].Blank() {
			rep.RecoverableSectorCount++
		}
	}
	if rep.TotalSectorCount > 0 {
		// Integer rounding of 100 * recoverable / total.
		rep.CorruptionLevel = (100*rep.RecoverableSectorCount + rep.TotalSectorCount/2) / rep.TotalSectorCount
	}
	return rep
}
