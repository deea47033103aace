package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/maltedev/jan-enricher/internal/browser"
	"github.com/maltedev/jan-enricher/internal/wait"
)

var (
	ErrLogin         = errors.New("eresa login failed")
	ErrCodeNotFound  = errors.New("jan code not found")
	ErrNoCredentials = errors.New("eresa credentials not configured")
)

// janPattern accepts digits and hyphens only. A hyphen-only value such as
// "---" is what ERESA shows for products without a code and is passed through.
var janPattern = regexp.MustCompile(`^[\d-]+$`)

func IsJAN(s string) bool {
	return janPattern.MatchString(s)
}

// Target is what a row knows about its product when the code is looked up.
type Target struct {
	Identifier string
	ListingURL string
}

type Result struct {
	// SourceURL is the page the code was read from.
	SourceURL string
	Code      string
}

// Resolver reads the JAN code for a product. Implementations keep a
// logged-in browser session across calls.
type Resolver interface {
	Resolve(ctx context.Context, target Target) (Result, error)
}

type Credentials struct {
	Username string
	Password string
}

func (c Credentials) Valid() bool {
	return c.Username != "" && c.Password != ""
}

// Options holds the page selectors and wait bounds shared by both strategies.
type Options struct {
	JANLabel browser.Selector
	// JANValue is resolved relative to the label element.
	JANValue browser.Selector

	EmailInput     browser.Selector
	PasswordInput  browser.Selector
	LoginButton    browser.Selector
	LoggedInMarker browser.Selector
	Body           browser.Selector

	OverlayFrame browser.Selector

	LabelTimeout time.Duration
	ValueTimeout time.Duration
	LoginTimeout time.Duration
	FrameTimeout time.Duration
	PollInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		JANLabel:       browser.XPath(`//div[contains(text(), 'JAN') and @class='font-weight-bold border-bottom']`),
		JANValue:       browser.XPath(`following-sibling::div//span`),
		EmailInput:     browser.CSS(`input[placeholder="メールアドレスを入力してください"]`),
		PasswordInput:  browser.CSS(`input[placeholder="パスワードを入力してください"]`),
		LoginButton:    browser.Class("login_button"),
		LoggedInMarker: browser.CSS("header.header"),
		Body:           browser.Tag("body"),
		OverlayFrame:   browser.XPath(`//iframe[@data-added-by-eresa='true' and @id='eresa_chart']`),
		LabelTimeout:   20 * time.Second,
		ValueTimeout:   20 * time.Second,
		LoginTimeout:   20 * time.Second,
		FrameTimeout:   20 * time.Second,
		PollInterval:   wait.DefaultInterval,
	}
}

// readJAN reads the code next to the JAN label in the driver's current
// document scope. The value is polled because ERESA fills it in after the
// label renders.
func readJAN(ctx context.Context, d browser.Driver, opts Options) (string, error) {
	label, err := d.WaitFor(ctx, opts.JANLabel, browser.StatePresent, opts.LabelTimeout)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCodeNotFound, err)
	}

	code, err := wait.Until(ctx, opts.ValueTimeout, opts.PollInterval, func(ctx context.Context) (string, bool, error) {
		span, err := label.Find(opts.JANValue)
		if err != nil {
			return "", false, nil
		}
		text, err := span.Text()
		if err != nil {
			return "", false, nil
		}
		text = strings.TrimSpace(text)
		return text, IsJAN(text), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCodeNotFound, err)
	}
	return code, nil
}

// login submits the ERESA login form in the current document scope.
func login(ctx context.Context, d browser.Driver, creds Credentials, opts Options) error {
	if _, err := d.WaitFor(ctx, opts.Body, browser.StatePresent, opts.LoginTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrLogin, err)
	}

	email, err := d.WaitFor(ctx, opts.EmailInput, browser.StateVisible, opts.LoginTimeout)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLogin, err)
	}
	if err := email.Fill(creds.Username); err != nil {
		return fmt.Errorf("%w: entering username: %w", ErrLogin, err)
	}

	password, err := d.WaitFor(ctx, opts.PasswordInput, browser.StateVisible, opts.LoginTimeout)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLogin, err)
	}
	if err := password.Fill(creds.Password); err != nil {
		return fmt.Errorf("%w: entering password: %w", ErrLogin, err)
	}

	button, err := d.WaitFor(ctx, opts.LoginButton, browser.StateClickable, opts.LoginTimeout)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLogin, err)
	}
	if err := button.Click(); err != nil {
		return fmt.Errorf("%w: submitting: %w", ErrLogin, err)
	}

	if _, err := d.WaitFor(ctx, opts.LoggedInMarker, browser.StatePresent, opts.LoginTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrLogin, err)
	}
	return nil
}

// recoverResolve turns a panic inside a strategy into an error.
func recoverResolve(logger *slog.Logger, err *error) {
	if p := recover(); p != nil {
		logger.Error("recovered while resolving code", "panic", p)
		*err = fmt.Errorf("%w: panic: %v", ErrCodeNotFound, p)
	}
}

// logPageState records where the browser was when a lookup failed.
// Errors while collecting it are ignored.
func logPageState(logger *slog.Logger, d browser.Driver, cause error) {
	content, _ := d.Content()
	logger.Debug("code lookup failed",
		"current_url", d.CurrentURL(),
		"content_length", len(content),
		"error", cause,
	)
}
