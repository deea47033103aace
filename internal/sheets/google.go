package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// Google talks to the Sheets v4 API with a service-account key.
type Google struct {
	spreadsheetID string
	values        *gsheets.SpreadsheetsValuesService
	logger        *slog.Logger
}

func NewGoogle(ctx context.Context, credentialsFile, spreadsheetID string, logger *slog.Logger) (*Google, error) {
	logger = logger.With("component", "sheets", "backend", "google")
	logger.Info("authenticating sheets client", "credentials_file", credentialsFile)

	if _, err := os.Stat(credentialsFile); err != nil {
		return nil, fmt.Errorf("%w: credentials file %s: %v", ErrAuth, credentialsFile, err)
	}

	srv, err := gsheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(gsheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	return &Google{
		spreadsheetID: spreadsheetID,
		values:        srv.Spreadsheets.Values,
		logger:        logger,
	}, nil
}

func (g *Google) ReadColumn(ctx context.Context, sheet, column string, startRow, endRow int) ([]string, error) {
	rng := ColumnRange(sheet, column, startRow, endRow)

	resp, err := g.values.Get(g.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRead, rng, err)
	}

	return flattenColumn(resp.Values), nil
}

func (g *Google) WriteRow(ctx context.Context, sheet string, row int, startColumn string, values []string) error {
	rng, err := RowRange(sheet, row, startColumn, len(values))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}

	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}

	_, err = g.values.Update(g.spreadsheetID, rng, &gsheets.ValueRange{
		Values: [][]interface{}{cells},
	}).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWrite, rng, err)
	}

	g.logger.Debug("row written", "range", rng)
	return nil
}

func (g *Google) Close() error {
	return nil
}

// flattenColumn turns the API's row-major single-column payload into cell strings.
// Empty rows inside the range are returned as "" so row numbers stay aligned.
func flattenColumn(rows [][]interface{}) []string {
	cells := make([]string, len(rows))
	for i, r := range rows {
		if len(r) == 0 || r[0] == nil {
			continue
		}
		cells[i] = fmt.Sprint(r[0])
	}
	return cells
}
