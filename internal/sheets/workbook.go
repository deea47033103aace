package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/xuri/excelize/v2"
)

// Workbook is a local .xlsx file standing in for the hosted spreadsheet.
// Every WriteRow is saved to disk immediately so an aborted run keeps its rows.
type Workbook struct {
	mu     sync.Mutex
	file   *excelize.File
	path   string
	logger *slog.Logger
}

func OpenWorkbook(path string, logger *slog.Logger) (*Workbook, error) {
	logger = logger.With("component", "sheets", "backend", "xlsx")

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: workbook %s: %v", ErrAuth, path, err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open workbook %s: %v", ErrAuth, path, err)
	}

	logger.Info("opened workbook", "path", path, "sheets", f.GetSheetList())

	return &Workbook{file: f, path: path, logger: logger}, nil
}

func (w *Workbook) ReadColumn(ctx context.Context, sheet, column string, startRow, endRow int) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if idx, err := w.file.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("%w: sheet %q not found", ErrRead, sheet)
	}
	col, err := ColumnNumber(column)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}

	last := endRow
	if last == 0 {
		rows, err := w.file.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRead, err)
		}
		last = len(rows)
	}

	var cells []string
	for row := startRow; row <= last; row++ {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRead, err)
		}
		value, err := w.file.GetCellValue(sheet, cell)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrRead, cell, err)
		}
		cells = append(cells, value)
	}

	// Trailing blanks are not data, same as the hosted API.
	for len(cells) > 0 && cells[len(cells)-1] == "" {
		cells = cells[:len(cells)-1]
	}

	return cells, nil
}

func (w *Workbook) WriteRow(ctx context.Context, sheet string, row int, startColumn string, values []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	start, err := ColumnNumber(startColumn)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}

	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(start+i, row)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrWrite, err)
		}
		if err := w.file.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrWrite, cell, err)
		}
	}

	if err := w.file.Save(); err != nil {
		return fmt.Errorf("%w: failed to save %s: %v", ErrWrite, w.path, err)
	}

	w.logger.Debug("row written", "sheet", sheet, "row", row, "start_column", startColumn)
	return nil
}

func (w *Workbook) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
