// Package xlsx reads multi-sheet XLSX source workbooks.
package xlsx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/crawlworks/email-harvester/internal/crawler"
)

// Recognized header names, compared case-insensitively against the first
// row of each sheet. Title maps to the Company field.
const (
	headerWebsite = "website"
	headerCompany = "title"
	headerPhone   = "phone number"
)

// Source is a crawler.SheetSource backed by an XLSX workbook.
type Source struct {
	file   *excelize.File
	sheets []string
}

// OpenFile opens a workbook from the local filesystem.
func OpenFile(path string) (*Source, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	return &Source{file: f, sheets: f.GetSheetList()}, nil
}

// OpenBytes opens a workbook held in memory.
func OpenBytes(data []byte) (*Source, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	return &Source{file: f, sheets: f.GetSheetList()}, nil
}

// SheetNames lists the workbook's sheets in file order.
func (s *Source) SheetNames() []string {
	out := make([]string, len(s.sheets))
	copy(out, s.sheets)
	return out
}

// ReadSheet returns the rows of one sheet by zero-based index. A sheet
// whose header row lacks the Website or Title column yields
// crawler.ErrMissingColumns; callers skip such sheets rather than failing
// the whole job.
func (s *Source) ReadSheet(ctx context.Context, index int) ([]crawler.SourceRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(s.sheets) {
		return nil, fmt.Errorf("sheet index %d out of range [0,%d)", index, len(s.sheets))
	}
	name := s.sheets[index]
	rows, err := s.file.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", name, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %s: %w", name, crawler.ErrMissingColumns)
	}

	cols := headerIndex(rows[0])
	websiteCol, okWebsite := cols[headerWebsite]
	companyCol, okCompany := cols[headerCompany]
	if !okWebsite || !okCompany {
		return nil, fmt.Errorf("sheet %s: %w", name, crawler.ErrMissingColumns)
	}
	phoneCol, hasPhone := cols[headerPhone]

	out := make([]crawler.SourceRow, 0, len(rows)-1)
	for _, row := range rows[1:] {
		r := crawler.SourceRow{
			Company: cell(row, companyCol),
			Website: cell(row, websiteCol),
		}
		if hasPhone {
			r.Phone = cell(row, phoneCol)
		}
		if r.Company == "" && r.Website == "" && r.Phone == "" {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Close releases the underlying workbook.
func (s *Source) Close() error {
	return s.file.Close()
}

func headerIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if key == "" {
			continue
		}
		if _, dup := cols[key]; !dup {
			cols[key] = i
		}
	}
	return cols
}

// cell returns a trimmed cell value. Spreadsheets exported from dataframe
// tooling spell missing values as the literal "nan"; those become empty
// strings so the orchestrator emits its placeholder row.
func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	v := strings.TrimSpace(row[idx])
	if strings.EqualFold(v, "nan") {
		return ""
	}
	return v
}

// Opener resolves job source references. References are looked up in the
// blob store first when one is configured; anything the store does not
// hold is treated as a local filesystem path.
type Opener struct {
	blobs crawler.BlobStore
}

// NewOpener builds an Opener. blobs may be nil for local-only operation.
func NewOpener(blobs crawler.BlobStore) *Opener {
	return &Opener{blobs: blobs}
}

// Open implements crawler.SourceOpener.
func (o *Opener) Open(ctx context.Context, ref string) (crawler.SheetSource, error) {
	if o.blobs != nil {
		data, err := o.blobs.GetObject(ctx, ref)
		switch {
		case err == nil:
			return OpenBytes(data)
		case errors.Is(err, crawler.ErrObjectNotFound):
		default:
			return nil, fmt.Errorf("read source object %s: %w", ref, err)
		}
	}
	return OpenFile(ref)
}
