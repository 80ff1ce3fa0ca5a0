package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/dflashgate/internal/dflash"
	"example.com/dflashgate/internal/rules"
)

// PDFOptions controls optional sections of the rendered document.
type PDFOptions struct {
	Language Language
	// Analysis adds the vehicle and sector sections when set.
	Analysis *dflash.Analysis
	// ManifestHash embeds a QR code of the artifact manifest digest.
	ManifestHash string
}

type pdfWriter struct {
	pdf *gofpdf.Fpdf
	tr  func(string) string
	loc Translator
}

// SaveAcceptancePDF renders the given acceptance report into a PDF document.
func SaveAcceptancePDF(rep rules.AcceptanceReport, out string, opts PDFOptions) error {
	loc := NewTranslator(opts.Language)

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(loc.T("report.title"), true)
	pdf.SetAuthor("dflashctl", false)
	pdf.SetCreator("dflashctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	w := &pdfWriter{pdf: pdf, tr: codepageTranslator(pdf, loc.Lang()), loc: loc}
	if pdf.Err() {
		return pdf.Error()
	}

	w.addTitle(loc.T("report.title"))
	w.addSummarySection(rep)
	if opts.Analysis != nil {
		w.addVehicleSection(opts.Analysis.Vehicle)
		w.addSectorSection(opts.Analysis.Report)
	}
	w.addGateMatrixSection(rep.GateMatrix)
	w.addFindingsSection(rep.Findings)
	if opts.ManifestHash != "" {
		if err := w.addManifestSection(opts.ManifestHash); err != nil {
			return err
		}
	}

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

// cp1254Overrides lists the code points where Windows-1254 departs from
// Windows-1252. Everything else is shared between the two codepages.
var cp1254Overrides = map[rune]byte{
	'Ğ': 0xD0,
	'İ': 0xDD,
	'Ş': 0xDE,
	'ğ': 0xF0,
	'ı': 0xFD,
	'ş': 0xFE,
}

// codepageTranslator returns a UTF-8 to single-byte translator for the report
// language. The Windows-1252 table ships inside gofpdf, so the Turkish
// translator is built by patching it instead of loading cp1254.map from a
// font directory that is never configured.
func codepageTranslator(pdf *gofpdf.Fpdf, lang Language) func(string) string {
	base := pdf.UnicodeTranslatorFromDescriptor("")
	if lang != LangTurkish {
		return base
	}
	return func(s string) string {
		var b strings.Builder
		b.Grow(len(s))
		for _, r := range s {
			if enc, ok := cp1254Overrides[r]; ok {
				b.WriteByte(enc)
				continue
			}
			b.WriteString(base(string(r)))
		}
		return b.String()
	}
}

func (w *pdfWriter) addTitle(title string) {
	w.pdf.SetFont("Helvetica", "B", 18)
	w.pdf.Cell(0, 10, w.tr(title))
	w.pdf.Ln(12)
}

func (w *pdfWriter) addSummarySection(rep rules.AcceptanceReport) {
	w.sectionHeader("summary.title")

	w.pdf.SetFont("Helvetica", "", 11)
	items := []struct {
		label string
		value string
	}{
		{label: w.loc.T("summary.total"), value: strconv.Itoa(rep.Summary.Total)},
		{label: w.loc.T("summary.errors"), value: strconv.Itoa(rep.Summary.Errors)},
		{label: w.loc.T("summary.warnings"), value: strconv.Itoa(rep.Summary.Warnings)},
		{label: w.loc.T("summary.overall"), value: w.passLabel(rep.Summary.Pass)},
	}
	for _, item := range items {
		w.pdf.CellFormat(50, 6, w.tr(item.label), "", 0, "L", false, 0, "")
		w.pdf.CellFormat(0, 6, w.tr(item.value), "", 1, "L", false, 0, "")
	}
	w.pdf.Ln(4)
}

func (w *pdfWriter) addVehicleSection(v dflash.VehicleInfo) {
	w.sectionHeader("vehicle.title")

	w.pdf.SetFont("Helvetica", "", 11)
	odometer := "-"
	if v.OdometerFound {
		odometer = strconv.FormatUint(uint64(v.Odometer), 10)
	} else if v.OdometerBigEndianFound {
		odometer = w.loc.Format("vehicle.odometerUnverified", v.OdometerBigEndian)
	}
	year := "-"
	if v.ModelYear != 0 {
		year = strconv.Itoa(v.ModelYear)
	}
	items := []struct {
		label string
		value string
	}{
		{label: w.loc.T("vehicle.variant"), value: emptyFallback(v.Variant, "-")},
		{label: w.loc.T("vehicle.vin"), value: emptyFallback(v.VIN, "-")},
		{label: w.loc.T("vehicle.manufacturer"), value: emptyFallback(v.Manufacturer, "-")},
		{label: w.loc.T("vehicle.modelYear"), value: year},
		{label: w.loc.T("vehicle.odometer"), value: odometer},
		{label: w.loc.T("vehicle.serviceCounter"), value: strconv.Itoa(int(v.Config.ServiceCounter))},
		{label: w.loc.T("vehicle.config"), value: w.configSummary(v.Config)},
	}
	for _, item := range items {
		w.pdf.CellFormat(50, 6, w.tr(item.label), "", 0, "L", false, 0, "")
		w.pdf.CellFormat(0, 6, w.tr(item.value), "", 1, "L", false, 0, "")
	}
	w.pdf.Ln(4)
}

func (w *pdfWriter) configSummary(c dflash.ConfigFlags) string {
	flags := []struct {
		key string
		on  bool
	}{
		{"config.daytimeLights", c.DaytimeLights},
		{"config.serviceReminder", c.ServiceReminder},
		{"config.warningBuzzer", c.WarningBuzzer},
		{"config.autoRelock", c.AutoRelock},
		{"config.tpms", c.TPMSEnabled},
	}
	var enabled []string
	for _, f := range flags {
		if f.on {
			enabled = append(enabled, w.loc.T(f.key))
		}
	}
	if len(enabled) == 0 {
		return w.loc.T("config.none")
	}
	return strings.Join(enabled, ", ")
}

func (w *pdfWriter) addSectorSection(rep dflash.CorruptionReport) {
	w.sectionHeader("sectors.title")

	w.pdf.SetFont("Helvetica", "", 11)
	line := w.loc.Format("sectors.summary", rep.RecoverableSectorCount, rep.TotalSectorCount, rep.CorruptionLevel)
	w.pdf.MultiCell(0, 6, w.tr(line), "", "L", false)

	// One character per sector: M for meaningful, E for erased, Z for
	// zeroed. Reads left to right from sector 0.
	var b strings.Builder
	for i, class := range rep.Sectors {
		if i > 0 && i%8 == 0 {
			b.WriteByte(' ')
		}
		switch class {
		case dflash.SectorBlankErased:
			b.WriteByte('E')
		case dflash.SectorBlankZero:
			b.WriteByte('Z')
		default:
			b.WriteByte('M')
		}
	}
	w.pdf.SetFont("Courier", "", 10)
	w.pdf.MultiCell(0, 5, b.String(), "", "L", false)
	w.pdf.Ln(4)
}

func (w *pdfWriter) addGateMatrixSection(rows []rules.GateResult) {
	w.sectionHeader("gate.title")

	headers := []string{
		w.loc.T("gate.scope"),
		w.loc.T("gate.severity"),
		w.loc.T("gate.rule"),
		w.loc.T("gate.name"),
		w.loc.T("gate.pass"),
		w.loc.T("gate.findings"),
	}
	widths := []float64{28, 22, 44, 52, 18, 18}

	w.pdf.SetFillColor(240, 240, 240)
	w.pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		w.pdf.CellFormat(widths[i], 7, w.tr(h), "1", 0, "L", true, 0, "")
	}
	w.pdf.Ln(-1)

	w.pdf.SetFont("Helvetica", "", 9)
	lineHeight := 5.0
	for _, row := range rows {
		values := []string{
			emptyFallback(row.Scope, "-"),
			severityLabel(row.Severity),
			row.RuleId,
			emptyFallback(row.Name, "-"),
			w.passLabel(row.Pass),
			strconv.Itoa(row.Findings),
		}
		w.renderTableRow(widths, values, lineHeight)
	}
	w.pdf.Ln(4)
}

func (w *pdfWriter) addFindingsSection(findings []rules.Diagnostic) {
	w.sectionHeader("findings.title")

	if len(findings) == 0 {
		w.pdf.SetFont("Helvetica", "", 11)
		w.pdf.MultiCell(0, 6, w.tr(w.loc.T("findings.none")), "", "L", false)
		return
	}

	for i, d := range findings {
		w.pdf.SetFont("Helvetica", "B", 10)
		header := fmt.Sprintf("%d. %s (%s)", i+1, d.RuleId, severityLabel(d.Severity))
		w.pdf.MultiCell(0, 5, w.tr(header), "", "L", false)

		if msg := strings.TrimSpace(d.Message); msg != "" {
			w.pdf.SetFont("Helvetica", "", 10)
			w.pdf.MultiCell(0, 5, w.tr(msg), "", "L", false)
		}

		meta := findingMetadata(d)
		if meta != "" {
			w.pdf.SetFont("Helvetica", "", 9)
			w.pdf.MultiCell(0, 4, w.tr(meta), "", "L", false)
		}

		if len(d.Refs) > 0 {
			w.pdf.SetFont("Helvetica", "", 9)
			w.pdf.MultiCell(0, 4, w.tr(w.loc.T("findings.refs")+": "+strings.Join(d.Refs, ", ")), "", "L", false)
		}

		w.pdf.Ln(2)
	}
}

func (w *pdfWriter) addManifestSection(hash string) error {
	w.sectionHeader("manifest.title")

	png, err := ManifestHashToQR(hash, 256)
	if err != nil {
		return err
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	w.pdf.RegisterImageOptionsReader("manifest-qr", opts, bytes.NewReader(png))
	w.pdf.ImageOptions("manifest-qr", 15, w.pdf.GetY(), 40, 40, false, opts, 0, "")
	w.pdf.SetXY(60, w.pdf.GetY()+16)
	w.pdf.SetFont("Courier", "", 9)
	w.pdf.MultiCell(0, 4, strings.ToUpper(strings.TrimSpace(hash)), "", "L", false)
	w.pdf.Ln(20)
	return nil
}

func (w *pdfWriter) sectionHeader(key string) {
	w.pdf.SetFont("Helvetica", "B", 12)
	w.pdf.Cell(0, 8, w.tr(w.loc.T(key)))
	w.pdf.Ln(9)
}

func (w *pdfWriter) renderTableRow(widths []float64, values []string, lineHeight float64) {
	pdf := w.pdf
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(w.tr(text), widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		cellText := strings.Join(lines, "\n")
		pdf.MultiCell(widths[i], lineHeight, cellText, "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func (w *pdfWriter) passLabel(pass bool) string {
	if pass {
		return w.loc.T("label.pass")
	}
	return w.loc.T("label.fail")
}

func severityLabel(sev rules.Severity) string {
	if s := strings.TrimSpace(string(sev)); s != "" {
		return s
	}
	return "UNKNOWN"
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}

func findingMetadata(d rules.Diagnostic) string {
	parts := make([]string, 0, 6)
	if !d.Ts.IsZero() {
		parts = append(parts, d.Ts.Format(time.RFC3339))
	}
	if d.File != "" {
		parts = append(parts, d.File)
	}
	if d.Sector != 0 {
		parts = append(parts, fmt.Sprintf("Sector %d", d.Sector))
	}
	if d.Offset != "" {
		parts = append(parts, "Offset "+d.Offset)
	}
	if d.VIN != nil && *d.VIN != "" {
		parts = append(parts, "VIN "+*d.VIN)
	}
	if d.CorruptionLevel != nil {
		parts = append(parts, fmt.Sprintf("Level %d", *d.CorruptionLevel))
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " | ")
}
