package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

// XLSXWriter implements Writer by replacing a local workbook file.
type XLSXWriter struct {
	path string
}

// NewXLSXWriter creates an XLSXWriter targeting path.
func NewXLSXWriter(path string) *XLSXWriter {
	return &XLSXWriter{path: path}
}

// Name identifies the writer in logs.
func (w *XLSXWriter) Name() string { return "xlsx" }

// Write renders the report into a new workbook and atomically replaces the
// target file.
func (w *XLSXWriter) Write(_ context.Context, r Report) error {
	f, err := buildWorkbook(Tables(r))
	if err != nil {
		return err
	}
	defer f.Close()

	tmp, err := os.CreateTemp(filepath.Dir(w.path), ".export-*.xlsx")
	if err != nil {
		return fmt.Errorf("creating temp workbook: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := f.WriteTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("writing workbook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing workbook: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return fmt.Errorf("replacing %s: %w", w.path, err)
	}
	return nil
}

func buildWorkbook(tables []Table) (*excelize.File, error) {
	f := excelize.NewFile()

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"D9EAD3"}},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating header style: %w", err)
	}

	for i, t := range tables {
		if err := writeSheet(f, t, header); err != nil {
			f.Close()
			return nil, err
		}
		if i == 0 {
			idx, err := f.GetSheetIndex(t.Name)
			if err == nil {
				f.SetActiveSheet(idx)
			}
		}
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("removing default sheet: %w", err)
	}
	return f, nil
}

func writeSheet(f *excelize.File, t Table, headerStyle int) error {
	if _, err := f.NewSheet(t.Name); err != nil {
		return fmt.Errorf("creating sheet %s: %w", t.Name, err)
	}

	width := 0
	for i, row := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(t.Name, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", t.Name, i+1, err)
		}
		width = max(width, len(row))
	}
	if width == 0 {
		return nil
	}

	last, err := excelize.CoordinatesToCellName(width, 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(t.Name, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("styling %s header: %w", t.Name, err)
	}
	lastCol, _, err := excelize.SplitCellName(last)
	if err != nil {
		return err
	}
	if err := f.SetColWidth(t.Name, "A", lastCol, 16); err != nil {
		return fmt.Errorf("sizing %s columns: %w", t.Name, err)
	}
	return f.SetPanes(t.Name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}
