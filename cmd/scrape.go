package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crawlworks/email-harvester/internal/crawler"
	"github.com/crawlworks/email-harvester/internal/report"
)

// newScrapeCmd creates and configures the 'scrape' subcommand. It crawls a
// local workbook once, without the job store or the worker loop, and
// writes the result spreadsheet to disk.
func newScrapeCmd() *cobra.Command {
	var (
		output string
		sheets []int
	)
	cmd := &cobra.Command{
		Use:   "scrape [workbook]",
		Short: "Scrapes one workbook and writes the result spreadsheet",
		Long: `Reads company websites from the given XLSX workbook, crawls each site
for contact emails, and writes the collected rows to a result spreadsheet.
This bypasses the job machinery entirely and is meant for local runs.`,
		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrapeCommand(cmd, args[0], output, sheets)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default scraped_<workbook>_local.xlsx)")
	cmd.Flags().IntSliceVar(&sheets, "sheets", nil, "zero-based sheet indexes to scrape (default all)")
	return cmd
}

func runScrapeCommand(cmd *cobra.Command, path, output string, sheets []int) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.GetLogger()
	cfg := appInstance.GetConfig()
	ctx := cmd.Context()

	src, err := appInstance.GetOpener().Open(ctx, path)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			logger.Warn("failed to close workbook", zap.Error(cerr))
		}
	}()

	names := src.SheetNames()
	if len(sheets) == 0 {
		sheets = make([]int, len(names))
		for i := 0; i < len(names); i++ {
			sheets[i] = i
		}
	}

	var (
		records   []crawler.EmailRecord
		totalRows int
	)
	for _, idx := range sheets {
		if idx < 0 || idx >= len(names) {
			logger.Warn("skipping sheet index out of range", zap.Int("index", idx))
			continue
		}
		rows, err := src.ReadSheet(ctx, idx)
		if err != nil {
			if errors.Is(err, crawler.ErrMissingColumns) {
				logger.Warn("skipping sheet without required columns", zap.String("sheet", names[idx]))
				continue
			}
			return fmt.Errorf("read sheet %s: %w", names[idx], err)
		}
		logger.Info("scraping sheet", zap.String("sheet", names[idx]), zap.Int("rows", len(rows)))

		for start := 0; start < len(rows); start += cfg.Crawler.BatchSize {
			end := start + cfg.Crawler.BatchSize
			if end > len(rows) {
				end = len(rows)
			}
			targets := make([]crawler.CrawlTarget, 0, end-start)
			for _, row := range rows[start:end] {
				targets = append(targets, crawler.CrawlTarget{
					Company: row.Company,
					Website: row.Website,
					Phone:   row.Phone,
					Group:   names[idx],
				})
			}
			batch, err := appInstance.GetScraper().ScrapeBatch(ctx, targets)
			if err != nil {
				return fmt.Errorf("scrape batch: %w", err)
			}
			records = append(records, batch...)
		}
		totalRows += len(rows)
	}

	if len(records) == 0 {
		return fmt.Errorf("no results produced")
	}

	data, err := report.Render(records)
	if err != nil {
		return fmt.Errorf("render result spreadsheet: %w", err)
	}
	if output == "" {
		output = report.ArtifactName(path, "local", false)
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("write result spreadsheet: %w", err)
	}

	emails := 0
	for _, rec := range records {
		if !crawler.IsSentinel(rec.Email) {
			emails++
		}
	}
	logger.Info("scrape finished",
		zap.Int("rows", totalRows),
		zap.Int("emails", emails),
		zap.String("output", output),
	)
	return nil
}
