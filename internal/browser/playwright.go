package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/playwright-community/playwright-go"
)

const elementActionTimeout = 5 * time.Second

// Playwright drives Chromium through playwright-go. A persistent context is
// used because Chromium only loads extensions into persistent profiles.
type Playwright struct {
	pw      *playwright.Playwright
	context playwright.BrowserContext
	page    playwright.Page
	frame   playwright.FrameLocator
	tempDir string
	timeout time.Duration
	logger  *slog.Logger
}

func NewPlaywright(opts *Options, logger *slog.Logger) (*Playwright, error) {
	logger = logger.With("component", "browser", "engine", EnginePlaywright)

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	userDataDir, tempDir := opts.UserDataDir, ""
	if userDataDir == "" {
		tempDir, err = os.MkdirTemp("", "jan-enricher-profile-")
		if err != nil {
			pw.Stop()
			return nil, fmt.Errorf("failed to create profile dir: %w", err)
		}
		userDataDir = tempDir
	}

	launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:          playwright.Bool(opts.Headless),
		Args:              launchArgs(opts),
		IgnoreDefaultArgs: []string{"--disable-extensions"},
		UserAgent:         &opts.UserAgent,
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		AcceptDownloads:   playwright.Bool(false),
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: opts.ExtraHeaders,
	}

	bctx, err := pw.Chromium.LaunchPersistentContext(userDataDir, launchOpts)
	if err != nil {
		pw.Stop()
		removeDir(tempDir)
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	var page playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else if page, err = bctx.NewPage(); err != nil {
		bctx.Close()
		pw.Stop()
		removeDir(tempDir)
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	page.SetDefaultTimeout(float64(opts.Timeout.Milliseconds()))

	logger.Info("browser launched", "headless", opts.Headless, "extension", opts.ExtensionPath)

	return &Playwright{
		pw:      pw,
		context: bctx,
		page:    page,
		tempDir: tempDir,
		timeout: opts.Timeout,
		logger:  logger,
	}, nil
}

func (b *Playwright) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.frame = nil

	_, err := b.page.Goto(url, gotoOptions(b.timeout))
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return fmt.Errorf("%w: navigating to %s: %v", ErrTimeout, url, err)
		}
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (b *Playwright) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.frame = nil

	if _, err := b.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwrightTimeout(b.timeout),
	}); err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return fmt.Errorf("%w: reload: %v", ErrTimeout, err)
		}
		return fmt.Errorf("failed to reload: %w", err)
	}
	return nil
}

func (b *Playwright) CurrentURL() string {
	return b.page.URL()
}

func (b *Playwright) Content() (string, error) {
	if b.frame != nil {
		return b.frame.Locator("html").InnerHTML()
	}
	return b.page.Content()
}

func (b *Playwright) locator(sel Selector) playwright.Locator {
	if b.frame != nil {
		return b.frame.Locator(playwrightSelector(sel))
	}
	return b.page.Locator(playwrightSelector(sel))
}

func (b *Playwright) WaitFor(ctx context.Context, sel Selector, state State, timeout time.Duration) (Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	loc := b.locator(sel).First()
	start := time.Now()

	waitState := playwright.WaitForSelectorStateAttached
	if state >= StateVisible {
		waitState = playwright.WaitForSelectorStateVisible
	}

	if err := loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   waitState,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}); err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return nil, timeoutError(sel, state, timeout, err)
		}
		return nil, fmt.Errorf("failed waiting for %s: %w", sel, err)
	}

	if state == StateClickable {
		for {
			enabled, err := loc.IsEnabled()
			if err == nil && enabled {
				break
			}
			if time.Since(start) >= timeout {
				return nil, timeoutError(sel, state, timeout, errors.New("element disabled"))
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
	}

	return &playwrightElement{loc: loc}, nil
}

func (b *Playwright) FindAll(ctx context.Context, sel Selector) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	locs, err := b.locator(sel).All()
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", sel, err)
	}

	elements := make([]Element, len(locs))
	for i, l := range locs {
		elements[i] = &playwrightElement{loc: l}
	}
	return elements, nil
}

func (b *Playwright) EnterFrame(ctx context.Context, sel Selector, timeout time.Duration) error {
	if _, err := b.WaitFor(ctx, sel, StatePresent, timeout); err != nil {
		return err
	}

	if b.frame != nil {
		b.frame = b.frame.FrameLocator(playwrightSelector(sel)).First()
	} else {
		b.frame = b.page.FrameLocator(playwrightSelector(sel)).First()
	}
	return nil
}

func (b *Playwright) ExitFrame() {
	b.frame = nil
}

func (b *Playwright) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	removeDir(b.tempDir)

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	b.logger.Info("browser closed")
	return nil
}

type playwrightElement struct {
	loc playwright.Locator
}

func (e *playwrightElement) Text() (string, error) {
	return e.loc.InnerText(playwright.LocatorInnerTextOptions{
		Timeout: playwright.Float(float64(elementActionTimeout.Milliseconds())),
	})
}

func (e *playwrightElement) Attribute(name string) (string, bool, error) {
	v, err := e.loc.GetAttribute(name, playwright.LocatorGetAttributeOptions{
		Timeout: playwright.Float(float64(elementActionTimeout.Milliseconds())),
	})
	if err != nil {
		return "", false, err
	}
	return v, v != "", nil
}

func (e *playwrightElement) Visible() (bool, error) {
	return e.loc.IsVisible()
}

func (e *playwrightElement) Fill(text string) error {
	if err := e.loc.Focus(); err != nil {
		return fmt.Errorf("failed to focus: %w", err)
	}
	return e.loc.Fill(text)
}

func (e *playwrightElement) Press(key string) error {
	return e.loc.Press(key)
}

func (e *playwrightElement) Click() error {
	return e.loc.Click()
}

func (e *playwrightElement) Find(sel Selector) (Element, error) {
	child := e.loc.Locator(playwrightSelector(sel)).First()
	count, err := child.Count()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sel)
	}
	return &playwrightElement{loc: child}, nil
}

func gotoOptions(timeout time.Duration) playwright.PageGotoOptions {
	return playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwrightTimeout(timeout),
	}
}

// playwrightTimeout converts d to milliseconds. Zero leaves the page default.
func playwrightTimeout(d time.Duration) *float64 {
	if d <= 0 {
		return nil
	}
	return playwright.Float(float64(d.Milliseconds()))
}

func playwrightSelector(sel Selector) string {
	if css, ok := sel.css(); ok {
		return "css=" + css
	}
	return "xpath=" + sel.Value
}

func removeDir(dir string) {
	if dir != "" {
		os.RemoveAll(dir)
	}
}
