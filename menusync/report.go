package menusync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	summarySheet = "Summary"
	samplesSheet = "Samples"
)

var summaryHeadings = []string{
	"Date", "Facility", "Code", "Against", "Status", "API", "Stored",
	"Matched", "Missing", "Extra", "Nutrition Mismatches", "Error",
}

func (c CompareCell) cellValues() []interface{} {
	return []interface{}{
		c.Date, c.Facility, c.FacilityCode, c.Against, c.Status, c.APICount, c.StoredCount,
		c.Matched, c.Missing, c.Extra, c.NutritionMismatches, c.Error,
	}
}

func writeRow(f *excelize.File, sheet string, rowNo int, values []interface{}) error {
	for i, value := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, rowNo)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			return err
		}
	}
	return nil
}

// WriteCompareXLSX writes the report as a workbook with a per-cell summary and a sample sheet.
func WriteCompareXLSX(report *CompareReport, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(samplesSheet); err != nil {
		return err
	}

	headings := make([]interface{}, len(summaryHeadings))
	for i, h := range summaryHeadings {
		headings[i] = h
	}
	if err := writeRow(f, summarySheet, 1, headings); err != nil {
		return err
	}
	rowNo := 2
	for _, c := range report.Cells {
		if err := writeRow(f, summarySheet, rowNo, c.cellValues()); err != nil {
			return err
		}
		rowNo++
	}
	t := report.Totals
	if err := writeRow(f, summarySheet, rowNo, []interface{}{
		"Total", "", "", "", fmt.Sprintf("%d cells, %d closed, %d errors", t.Cells, t.Closed, t.Errors),
		t.APICount, "", t.Matched, t.Missing, t.Extra, t.NutritionMismatches, "",
	}); err != nil {
		return err
	}

	if err := writeRow(f, samplesSheet, 1, []interface{}{"Date", "Facility", "Kind", "Item"}); err != nil {
		return err
	}
	rowNo = 2
	for _, c := range report.Cells {
		for _, group := range []struct {
			kind  string
			names []string
		}{
			{"missing", c.MissingSamples},
			{"extra", c.ExtraSamples},
			{"nutrition mismatch", c.MismatchSamples},
		} {
			for _, name := range group.names {
				if err := writeRow(f, samplesSheet, rowNo, []interface{}{c.Date, c.Facility, group.kind, name}); err != nil {
					return err
				}
				rowNo++
			}
		}
	}

	return f.Write(w)
}

// CompareReportFilename is the base name used for downloads and GCS objects.
func CompareReportFilename(report *CompareReport) string {
	return fmt.Sprintf("menu-compare-%s-%dd", report.Start, report.Days)
}

// UploadCompareReport stores the report under menu-compare/ in the configured bucket.
// format is "json" or "xlsx".
func UploadCompareReport(ctx context.Context, report *CompareReport, format string) (string, error) {
	var (
		buf         bytes.Buffer
		contentType string
	)
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "xlsx":
		if err := WriteCompareXLSX(report, &buf); err != nil {
			return "", err
		}
		contentType = xlsxContentType
	case "", "json":
		format = "json"
		if err := json.NewEncoder(&buf).Encode(report); err != nil {
			return "", err
		}
		contentType = "application/json"
	default:
		return "", fmt.Errorf("%w: unknown report format %q", ErrConfiguration, format)
	}

	object := "menu-compare/" + CompareReportFilename(report) + "." + format
	if err := uploadBytes(ctx, object, buf.Bytes(), contentType); err != nil {
		return "", err
	}
	return object, nil
}
