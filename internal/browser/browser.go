package browser

import (
	"fmt"
	"log/slog"
	"os"
	"time"
)

const (
	EnginePlaywright = "playwright"
	EngineRod        = "rod"
)

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	// ExtensionPath is an unpacked Chrome extension directory loaded at launch.
	ExtensionPath string
	// UserDataDir keeps the profile between runs. Empty means a throwaway profile.
	UserDataDir  string
	ExtraHeaders map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       false,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "ja-JP,ja;q=0.9,en;q=0.8",
		TimezoneID:     "Asia/Tokyo",
		Locale:         "ja-JP",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		},
	}
}

// New launches the named engine. The returned Driver owns the browser
// process until Close.
func New(engine string, opts *Options, logger *slog.Logger) (Driver, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.ExtensionPath != "" {
		info, err := os.Stat(opts.ExtensionPath)
		if err != nil {
			return nil, fmt.Errorf("extension %s: %w", opts.ExtensionPath, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("extension %s must be an unpacked extension directory", opts.ExtensionPath)
		}
	}

	switch engine {
	case EnginePlaywright, "":
		return NewPlaywright(opts, logger)
	case EngineRod:
		return NewRod(opts, logger)
	default:
		return nil, fmt.Errorf("unknown browser engine %q", engine)
	}
}

func launchArgs(opts *Options) []string {
	args := []string{
		"--disable-blink-features=AutomationControlled",
		"--disable-dev-shm-usage",
		"--no-sandbox",
		"--disable-setuid-sandbox",
		fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
		"--lang=" + opts.Locale,
	}
	if opts.ExtensionPath != "" {
		args = append(args,
			"--disable-extensions-except="+opts.ExtensionPath,
			"--load-extension="+opts.ExtensionPath,
		)
	}
	return args
}
