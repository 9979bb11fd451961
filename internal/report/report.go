// Package report renders accumulated result rows to XLSX artifacts.
package report

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/crawlworks/email-harvester/internal/crawler"
)

const sheetName = "Results"

// ContentType is the MIME type result artifacts are stored under.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// header is the fixed output column order.
var header = []any{"Company", "Website", "Phone Number", "Email", "City"}

// Render writes records to a single-sheet workbook and returns its bytes.
func Render(records []crawler.EmailRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("row %d cell name: %w", i, err)
		}
		row := []any{rec.Company, rec.Website, rec.Phone, rec.Email, rec.City}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// ArtifactName builds the deterministic output object name for a job.
// Stopped runs carry the partial marker so operators can tell a truncated
// artifact from a complete one.
func ArtifactName(sourceRef, jobID string, partial bool) string {
	base := filepath.Base(sourceRef)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "results"
	}
	prefix := "scraped"
	if partial {
		prefix = "partial"
	}
	return fmt.Sprintf("%s_%s_%s.xlsx", prefix, base, jobID)
}
