package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFile = `# jan-enricher settings
CREDENTIALS_FILE=creds.json
SPREADSHEET_ID=sheet-123
SHEET_NAME=listings
EBAY_LINK_COLUMN=b
JAN_CODE_COLUMN=D
ASIN_COLUMN=E
IMAGE_URL_COLUMN=F
AMAZON_URL_COLUMN=G
START_ROW=2
END_ROW=50
CRX_PATH=/opt/eresa
ERESA_USERNAME=user@example.com
ERESA_PASSWORD=secret
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jan.env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleFile))
	require.NoError(t, err)

	assert.Equal(t, BackendGoogle, cfg.Sheets.Backend)
	assert.Equal(t, "creds.json", cfg.Sheets.CredentialsFile)
	assert.Equal(t, "sheet-123", cfg.Sheets.SpreadsheetID)
	assert.Equal(t, "B", cfg.Columns.SourceLink)
	assert.Equal(t, "D", cfg.Columns.JAN)
	assert.Equal(t, 2, cfg.Run.StartRow)
	assert.Equal(t, 50, cfg.Run.EndRow)
	assert.Equal(t, StrategyOverlay, cfg.Run.Strategy)
	assert.Equal(t, "/opt/eresa", cfg.Browser.ExtensionPath)
	assert.Equal(t, EnginePlaywright, cfg.Browser.Engine)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 20*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, "https://search.eresa.jp", cfg.Eresa.BaseURL)
	assert.True(t, cfg.Eresa.HasCredentials())

	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	t.Setenv("STRATEGY", "lookup")
	t.Setenv("START_ROW", "10")

	cfg, err := Load(writeConfig(t, sampleFile))
	require.NoError(t, err)

	assert.Equal(t, StrategyLookup, cfg.Run.Strategy)
	assert.Equal(t, 10, cfg.Run.StartRow)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
		assert.ErrorIs(t, err, ErrConfig)
	})

	t.Run("malformed integer", func(t *testing.T) {
		_, err := Load(writeConfig(t, sampleFile+"START_ROW=two\n"))
		assert.ErrorIs(t, err, ErrConfig)
		assert.Contains(t, err.Error(), "START_ROW")
	})

	t.Run("malformed duration", func(t *testing.T) {
		_, err := Load(writeConfig(t, sampleFile+"IMAGE_FETCH_TIMEOUT=soon\n"))
		assert.ErrorIs(t, err, ErrConfig)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing sheet name", func(c *Config) { c.Sheets.SheetName = "" }, "SHEET_NAME is required"},
		{"missing credentials", func(c *Config) { c.Sheets.CredentialsFile = "" }, "CREDENTIALS_FILE is required"},
		{"xlsx backend needs path", func(c *Config) { c.Sheets.Backend = BackendXLSX }, "XLSX_PATH is required"},
		{"unknown backend", func(c *Config) { c.Sheets.Backend = "csv" }, "SHEET_BACKEND"},
		{"start row zero", func(c *Config) { c.Run.StartRow = 0 }, "START_ROW"},
		{"overlay needs end row", func(c *Config) { c.Run.EndRow = 0 }, "END_ROW is required"},
		{"lookup without end row", func(c *Config) { c.Run.Strategy = StrategyLookup; c.Run.EndRow = 0 }, ""},
		{"end before start", func(c *Config) { c.Run.EndRow = 1 }, "END_ROW cannot be less"},
		{"unknown strategy", func(c *Config) { c.Run.Strategy = "ocr" }, "STRATEGY"},
		{"delay range", func(c *Config) { c.Run.RowDelayMin = 2 * time.Second }, "ROW_DELAY_MIN"},
		{"unknown engine", func(c *Config) { c.Browser.Engine = "selenium" }, "BROWSER_ENGINE"},
		{"target column before jan", func(c *Config) { c.Columns.TargetURL = "C" }, "AMAZON_URL_COLUMN must be G"},
		{"asin column gap", func(c *Config) { c.Columns.Identifier = "H" }, "ASIN_COLUMN must be E"},
		{"invalid column name", func(c *Config) { c.Columns.JAN = "4" }, "JAN_CODE_COLUMN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, sampleFile))
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
