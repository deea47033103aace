package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/maltedev/jan-enricher/internal/sheets"
)

var ErrConfig = errors.New("invalid configuration")

type Strategy string

const (
	// StrategyOverlay reads the JAN from the ERESA extension frame on the Amazon page.
	StrategyOverlay Strategy = "overlay"
	// StrategyLookup reads the JAN from the ERESA detail page for the ASIN.
	StrategyLookup Strategy = "lookup"
)

const (
	BackendGoogle = "google"
	BackendXLSX   = "xlsx"

	EnginePlaywright = "playwright"
	EngineRod        = "rod"
)

type Config struct {
	Sheets   SheetsConfig
	Columns  ColumnsConfig
	Run      RunConfig
	Browser  BrowserConfig
	Eresa    EresaConfig
	Fetch    FetchConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type SheetsConfig struct {
	Backend         string
	CredentialsFile string
	SpreadsheetID   string
	XLSXPath        string
	SheetName       string
}

type ColumnsConfig struct {
	SourceLink string
	JAN        string
	Identifier string
	ImageURL   string
	TargetURL  string
}

type RunConfig struct {
	Strategy    Strategy
	StartRow    int
	EndRow      int
	RowDelayMin time.Duration
	RowDelayMax time.Duration
	Schedule    string
}

type BrowserConfig struct {
	Engine        string
	Headless      bool
	ExtensionPath string
	UserDataDir   string
	Locale        string
}

type EresaConfig struct {
	BaseURL  string
	Username string
	Password string
}

type FetchConfig struct {
	Timeout   time.Duration
	UserAgent string
}

type DatabaseConfig struct {
	URL        string
	SQLitePath string
	MaxConns   int32
}

type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	RelayInterval time.Duration
	RelayBatch    int
	StreamMaxLen  int64
}

type LoggingConfig struct {
	Level  string
	Format string
}

// HasCredentials reports whether both ERESA credentials are set.
func (e EresaConfig) HasCredentials() bool {
	return e.Username != "" && e.Password != ""
}

// Load reads KEY=VALUE pairs from path (optional) and lets the process
// environment override them.
func Load(path string) (*Config, error) {
	src := &source{file: map[string]string{}}
	if path != "" {
		values, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read %s: %v", ErrConfig, path, err)
		}
		src.file = values
	}

	cfg := &Config{
		Sheets: SheetsConfig{
			Backend:         strings.ToLower(src.getOrDefault("SHEET_BACKEND", BackendGoogle)),
			CredentialsFile: src.get("CREDENTIALS_FILE"),
			SpreadsheetID:   src.get("SPREADSHEET_ID"),
			XLSXPath:        src.get("XLSX_PATH"),
			SheetName:       src.get("SHEET_NAME"),
		},
		Columns: ColumnsConfig{
			SourceLink: strings.ToUpper(src.get("EBAY_LINK_COLUMN")),
			JAN:        strings.ToUpper(src.get("JAN_CODE_COLUMN")),
			Identifier: strings.ToUpper(src.get("ASIN_COLUMN")),
			ImageURL:   strings.ToUpper(src.get("IMAGE_URL_COLUMN")),
			TargetURL:  strings.ToUpper(src.get("AMAZON_URL_COLUMN")),
		},
		Run: RunConfig{
			Strategy:    Strategy(strings.ToLower(src.getOrDefault("STRATEGY", string(StrategyOverlay)))),
			StartRow:    src.getInt("START_ROW", 0),
			EndRow:      src.getInt("END_ROW", 0),
			RowDelayMin: src.getDuration("ROW_DELAY_MIN", 0),
			RowDelayMax: src.getDuration("ROW_DELAY_MAX", 0),
			Schedule:    src.get("SCHEDULE"),
		},
		Browser: BrowserConfig{
			Engine:        strings.ToLower(src.getOrDefault("BROWSER_ENGINE", EnginePlaywright)),
			Headless:      src.getBool("BROWSER_HEADLESS", false),
			ExtensionPath: src.get("CRX_PATH"),
			UserDataDir:   src.get("BROWSER_USER_DATA_DIR"),
			Locale:        src.getOrDefault("BROWSER_LOCALE", "ja-JP"),
		},
		Eresa: EresaConfig{
			BaseURL:  strings.TrimRight(src.getOrDefault("ERESA_BASE_URL", "https://search.eresa.jp"), "/"),
			Username: src.get("ERESA_USERNAME"),
			Password: src.get("ERESA_PASSWORD"),
		},
		Fetch: FetchConfig{
			Timeout:   src.getDuration("IMAGE_FETCH_TIMEOUT", 20*time.Second),
			UserAgent: src.get("FETCH_USER_AGENT"),
		},
		Database: DatabaseConfig{
			URL:        src.get("DATABASE_URL"),
			SQLitePath: src.get("SQLITE_PATH"),
			MaxConns:   int32(src.getInt("DB_MAX_CONNS", 4)),
		},
		Redis: RedisConfig{
			Addr:          src.getOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:      src.get("REDIS_PASSWORD"),
			DB:            src.getInt("REDIS_DB", 0),
			RelayInterval: src.getDuration("RELAY_INTERVAL", 5*time.Second),
			RelayBatch:    src.getInt("RELAY_BATCH_SIZE", 100),
			StreamMaxLen:  int64(src.getInt("REDIS_STREAM_MAXLEN", 0)),
		},
		Logging: LoggingConfig{
			Level:  src.getOrDefault("LOG_LEVEL", "info"),
			Format: src.getOrDefault("LOG_FORMAT", "text"),
		},
	}

	if len(src.errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrConfig, strings.Join(src.errs, "; "))
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var problems []string
	require := func(key, value string) {
		if value == "" {
			problems = append(problems, key+" is required")
		}
	}

	require("SHEET_NAME", c.Sheets.SheetName)
	switch c.Sheets.Backend {
	case BackendGoogle:
		require("CREDENTIALS_FILE", c.Sheets.CredentialsFile)
		require("SPREADSHEET_ID", c.Sheets.SpreadsheetID)
	case BackendXLSX:
		require("XLSX_PATH", c.Sheets.XLSXPath)
	default:
		problems = append(problems, fmt.Sprintf("SHEET_BACKEND must be %q or %q, got %q", BackendGoogle, BackendXLSX, c.Sheets.Backend))
	}

	require("EBAY_LINK_COLUMN", c.Columns.SourceLink)
	require("JAN_CODE_COLUMN", c.Columns.JAN)
	require("ASIN_COLUMN", c.Columns.Identifier)
	require("IMAGE_URL_COLUMN", c.Columns.ImageURL)
	require("AMAZON_URL_COLUMN", c.Columns.TargetURL)
	if len(problems) == 0 {
		if err := c.Columns.validateLayout(); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if c.Run.StartRow < 1 {
		problems = append(problems, "START_ROW must be at least 1")
	}

	switch c.Run.Strategy {
	case StrategyOverlay:
		if c.Run.EndRow < 1 {
			problems = append(problems, "END_ROW is required for the overlay strategy")
		}
	case StrategyLookup:
	default:
		problems = append(problems, fmt.Sprintf("STRATEGY must be %q or %q, got %q", StrategyOverlay, StrategyLookup, c.Run.Strategy))
	}
	if c.Run.EndRow > 0 && c.Run.EndRow < c.Run.StartRow {
		problems = append(problems, "END_ROW cannot be less than START_ROW")
	}

	if c.Run.RowDelayMin > c.Run.RowDelayMax {
		problems = append(problems, "ROW_DELAY_MIN cannot be greater than ROW_DELAY_MAX")
	}

	if c.Browser.Engine != EnginePlaywright && c.Browser.Engine != EngineRod {
		problems = append(problems, fmt.Sprintf("BROWSER_ENGINE must be %q or %q, got %q", EnginePlaywright, EngineRod, c.Browser.Engine))
	}

	if c.Fetch.Timeout <= 0 {
		problems = append(problems, "IMAGE_FETCH_TIMEOUT must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

// validateLayout enforces the write-back layout: the four values
// (jan, asin, image url, amazon url) occupy consecutive columns.
func (c ColumnsConfig) validateLayout() error {
	jan, err := sheets.ColumnNumber(c.JAN)
	if err != nil {
		return fmt.Errorf("JAN_CODE_COLUMN: %v", err)
	}
	if _, err := sheets.ColumnNumber(c.SourceLink); err != nil {
		return fmt.Errorf("EBAY_LINK_COLUMN: %v", err)
	}

	expected := []struct {
		key    string
		value  string
		offset int
	}{
		{"ASIN_COLUMN", c.Identifier, 1},
		{"IMAGE_URL_COLUMN", c.ImageURL, 2},
		{"AMAZON_URL_COLUMN", c.TargetURL, 3},
	}
	for _, e := range expected {
		n, err := sheets.ColumnNumber(e.value)
		if err != nil {
			return fmt.Errorf("%s: %v", e.key, err)
		}
		if n != jan+e.offset {
			want, _ := sheets.ColumnName(jan + e.offset)
			return fmt.Errorf("%s must be %s (JAN_CODE_COLUMN+%d), got %s", e.key, want, e.offset, e.value)
		}
	}
	return nil
}

type source struct {
	file map[string]string
	errs []string
}

func (s *source) get(key string) string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(s.file[key])
}

func (s *source) getOrDefault(key, defaultValue string) string {
	if value := s.get(key); value != "" {
		return value
	}
	return defaultValue
}

func (s *source) getInt(key string, defaultValue int) int {
	value := s.get(key)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		s.errs = append(s.errs, fmt.Sprintf("%s: %q is not an integer", key, value))
		return defaultValue
	}
	return i
}

func (s *source) getBool(key string, defaultValue bool) bool {
	value := s.get(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		s.errs = append(s.errs, fmt.Sprintf("%s: %q is not a boolean", key, value))
		return defaultValue
	}
	return b
}

func (s *source) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := s.get(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		s.errs = append(s.errs, fmt.Sprintf("%s: %q is not a duration", key, value))
		return defaultValue
	}
	return d
}
