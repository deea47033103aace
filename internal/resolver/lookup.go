package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/maltedev/jan-enricher/internal/browser"
)

const DefaultLookupBaseURL = "https://search.eresa.jp"

type LookupState int

const (
	LookupLoggedOut LookupState = iota
	LookupLoggedIn
)

func (s LookupState) String() string {
	if s == LookupLoggedIn {
		return "logged_in"
	}
	return "logged_out"
}

// Lookup reads the JAN code from the ERESA product detail page for an ASIN.
type Lookup struct {
	driver  browser.Driver
	creds   Credentials
	baseURL string
	opts    Options
	logger  *slog.Logger

	mu    sync.Mutex
	state LookupState
}

func NewLookup(d browser.Driver, creds Credentials, baseURL string, opts Options, logger *slog.Logger) *Lookup {
	if baseURL == "" {
		baseURL = DefaultLookupBaseURL
	}
	return &Lookup{
		driver:  d,
		creds:   creds,
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
		logger:  logger.With("component", "resolver", "strategy", "lookup"),
	}
}

func (l *Lookup) State() LookupState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Login signs in to the lookup site. It is a no-op once logged in.
func (l *Lookup) Login(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.login(ctx)
}

func (l *Lookup) login(ctx context.Context) error {
	if l.state == LookupLoggedIn {
		return nil
	}
	if !l.creds.Valid() {
		return ErrNoCredentials
	}

	loginURL := l.baseURL + "/login"
	if err := l.driver.Navigate(ctx, loginURL); err != nil {
		return fmt.Errorf("%w: %w", ErrLogin, err)
	}
	if err := login(ctx, l.driver, l.creds, l.opts); err != nil {
		logPageState(l.logger, l.driver, err)
		return err
	}

	l.state = LookupLoggedIn
	l.logger.Info("logged in", "url", loginURL)
	return nil
}

func (l *Lookup) DetailURL(identifier string) string {
	return l.baseURL + "/detail/" + url.PathEscape(identifier)
}

func (l *Lookup) Resolve(ctx context.Context, target Target) (res Result, err error) {
	defer recoverResolve(l.logger, &err)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.login(ctx); err != nil {
		return Result{}, err
	}
	if target.Identifier == "" {
		return Result{}, fmt.Errorf("%w: no identifier", ErrCodeNotFound)
	}

	detailURL := l.DetailURL(target.Identifier)
	if err := l.driver.Navigate(ctx, detailURL); err != nil {
		return Result{}, err
	}

	code, err := readJAN(ctx, l.driver, l.opts)
	if err != nil {
		logPageState(l.logger, l.driver, err)
		return Result{}, fmt.Errorf("%s: %w", detailURL, err)
	}

	return Result{SourceURL: detailURL, Code: code}, nil
}
