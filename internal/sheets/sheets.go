package sheets

import (
	"context"
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"
)

var (
	ErrAuth  = errors.New("spreadsheet authentication failed")
	ErrRead  = errors.New("spreadsheet read failed")
	ErrWrite = errors.New("spreadsheet write failed")
)

// Spreadsheet is the row-oriented view the pipeline needs of a sheet.
type Spreadsheet interface {
	// ReadColumn returns the cells of column from startRow through endRow.
	// endRow 0 reads to the last row holding data. Blank cells come back as "".
	ReadColumn(ctx context.Context, sheet, column string, startRow, endRow int) ([]string, error)
	// WriteRow writes values into one contiguous range starting at startColumn.
	WriteRow(ctx context.Context, sheet string, row int, startColumn string, values []string) error
	Close() error
}

// ColumnNumber converts a column letter ("A", "AB") to its 1-based index.
func ColumnNumber(name string) (int, error) {
	n, err := excelize.ColumnNameToNumber(name)
	if err != nil {
		return 0, fmt.Errorf("invalid column %q: %w", name, err)
	}
	return n, nil
}

// ColumnName converts a 1-based index to its column letter.
func ColumnName(n int) (string, error) {
	return excelize.ColumnNumberToName(n)
}

// RowRange returns the A1 range covering count cells of row starting at startColumn.
func RowRange(sheet string, row int, startColumn string, count int) (string, error) {
	start, err := ColumnNumber(startColumn)
	if err != nil {
		return "", err
	}
	if count < 1 {
		return "", fmt.Errorf("nothing to write in row %d", row)
	}
	end, err := ColumnName(start + count - 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s!%s%d:%s%d", sheet, startColumn, row, end, row), nil
}

// ColumnRange returns the A1 range for column from startRow, open-ended when endRow is 0.
func ColumnRange(sheet, column string, startRow, endRow int) string {
	if endRow > 0 {
		return fmt.Sprintf("%s!%s%d:%s%d", sheet, column, startRow, column, endRow)
	}
	return fmt.Sprintf("%s!%s%d:%s", sheet, column, startRow, column)
}
