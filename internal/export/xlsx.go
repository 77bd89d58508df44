// Package export renders a working set as a spreadsheet so it can be
// reviewed outside the grid before committing.
package export

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/importwizard/internal/core"
)

// SheetName is the worksheet the records are written to.
const SheetName = "Records"

// ContentType is the MIME type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// maxColWidth caps auto-sized column widths.
const maxColWidth = 60

// XLSX returns a workbook with one header row ("Order" followed by the
// field columns) and one row per record, sorted by order.
func XLSX(columns []string, rows []core.Record) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	headers := append([]string{"Order"}, columns...)
	widths := make([]int, len(headers))
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
		widths[i] = len(h)
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(SheetName, "A1", last, style); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	for i, r := range core.SortByOrder(rows) {
		row := i + 2
		write := func(col int, v any) error {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			return f.SetCellValue(SheetName, cell, v)
		}

		if err := write(1, r.Order); err != nil {
			return nil, fmt.Errorf("write row %d: %w", row, err)
		}
		for j, c := range columns {
			v, _ := r.Fields.Get(c)
			if v == "" {
				continue
			}
			if err := write(j+2, v); err != nil {
				return nil, fmt.Errorf("write row %d: %w", row, err)
			}
			if len(v) > widths[j+1] {
				widths[j+1] = len(v)
			}
		}
	}

	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(SheetName, col, col, float64(min(w+2, maxColWidth))); err != nil {
			return nil, fmt.Errorf("set width of column %s: %w", col, err)
		}
	}
	if err := f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// FileName derives the download name from the source document name.
func FileName(source string) string {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	if base == "" || base == "." || base == "/" {
		base = "records"
	}
	return base + ".xlsx"
}
