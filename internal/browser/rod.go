package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Rod drives Chromium over CDP with go-rod.
type Rod struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	scope    *rod.Page
	timeout  time.Duration
	ownsDir  bool
	logger   *slog.Logger
}

func NewRod(opts *Options, logger *slog.Logger) (*Rod, error) {
	logger = logger.With("component", "browser", "engine", EngineRod)

	l := launcher.New().
		Headless(opts.Headless).
		Set("window-size", fmt.Sprintf("%d,%d", opts.ViewportWidth, opts.ViewportHeight)).
		Set("lang", opts.Locale).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("no-sandbox")
	if opts.UserDataDir != "" {
		l = l.UserDataDir(opts.UserDataDir)
	}
	if opts.ExtensionPath != "" {
		l = l.Delete("disable-extensions").
			Set("disable-extensions-except", opts.ExtensionPath).
			Set("load-extension", opts.ExtensionPath)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		b.Close()
		l.Kill()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      opts.UserAgent,
		AcceptLanguage: opts.AcceptLanguage,
	}); err != nil {
		logger.Warn("failed to set user agent", "error", err)
	}
	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: opts.TimezoneID}).Call(page); err != nil {
		logger.Warn("failed to set timezone", "error", err)
	}
	if len(opts.ExtraHeaders) > 0 {
		var headers []string
		for k, v := range opts.ExtraHeaders {
			headers = append(headers, k, v)
		}
		if _, err := page.SetExtraHeaders(headers); err != nil {
			logger.Warn("failed to set extra headers", "error", err)
		}
	}

	logger.Info("browser launched", "headless", opts.Headless, "extension", opts.ExtensionPath)

	return &Rod{
		launcher: l,
		browser:  b,
		page:     page,
		scope:    page,
		timeout:  opts.Timeout,
		ownsDir:  opts.UserDataDir == "",
		logger:   logger,
	}, nil
}

func (b *Rod) Navigate(ctx context.Context, url string) error {
	b.scope = b.page

	p := b.page.Context(ctx).Timeout(b.timeout)
	defer p.CancelTimeout()

	if err := p.Navigate(url); err != nil {
		return rodError(err, "navigating to "+url)
	}
	if err := p.WaitLoad(); err != nil {
		return rodError(err, "loading "+url)
	}
	return nil
}

func (b *Rod) Reload(ctx context.Context) error {
	b.scope = b.page

	p := b.page.Context(ctx).Timeout(b.timeout)
	defer p.CancelTimeout()

	if err := p.Reload(); err != nil {
		return rodError(err, "reload")
	}
	if err := p.WaitLoad(); err != nil {
		return rodError(err, "reload")
	}
	return nil
}

func (b *Rod) CurrentURL() string {
	info, err := b.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (b *Rod) Content() (string, error) {
	return b.scope.HTML()
}

func (b *Rod) WaitFor(ctx context.Context, sel Selector, state State, timeout time.Duration) (Element, error) {
	p := b.scope.Context(ctx).Timeout(timeout)
	defer p.CancelTimeout()

	el, err := findRod(p, sel)
	if err != nil {
		return nil, rodWaitError(err, sel, state, timeout)
	}

	if state >= StateVisible {
		if err := el.WaitVisible(); err != nil {
			return nil, rodWaitError(err, sel, state, timeout)
		}
	}
	if state == StateClickable {
		if err := el.WaitEnabled(); err != nil {
			return nil, rodWaitError(err, sel, state, timeout)
		}
	}

	return &rodElement{el: el.Context(ctx)}, nil
}

func (b *Rod) FindAll(ctx context.Context, sel Selector) ([]Element, error) {
	p := b.scope.Context(ctx).Sleeper(rod.NotFoundSleeper)

	var (
		found rod.Elements
		err   error
	)
	if css, ok := sel.css(); ok {
		found, err = p.Elements(css)
	} else {
		found, err = p.ElementsX(sel.Value)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", sel, err)
	}

	elements := make([]Element, len(found))
	for i, el := range found {
		elements[i] = &rodElement{el: el.Context(ctx)}
	}
	return elements, nil
}

func (b *Rod) EnterFrame(ctx context.Context, sel Selector, timeout time.Duration) error {
	el, err := b.WaitFor(ctx, sel, StatePresent, timeout)
	if err != nil {
		return err
	}

	frame, err := el.(*rodElement).el.Frame()
	if err != nil {
		return fmt.Errorf("failed to enter frame %s: %w", sel, err)
	}
	b.scope = frame
	return nil
}

func (b *Rod) ExitFrame() {
	b.scope = b.page
}

func (b *Rod) Close() error {
	var errs []error

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.launcher != nil {
		b.launcher.Kill()
		if b.ownsDir {
			b.launcher.Cleanup()
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	b.logger.Info("browser closed")
	return nil
}

// rodElement carries the caller's context. Every action runs under
// elementActionTimeout on top of it so a covered or detached element fails
// instead of retrying forever.
type rodElement struct {
	el *rod.Element
}

func (e *rodElement) bounded(action string, fn func(el *rod.Element) error) error {
	el := e.el.Timeout(elementActionTimeout)
	defer el.CancelTimeout()

	if err := fn(el); err != nil {
		return rodError(err, action)
	}
	return nil
}

func (e *rodElement) Text() (text string, err error) {
	err = e.bounded("reading text", func(el *rod.Element) error {
		text, err = el.Text()
		return err
	})
	return text, err
}

func (e *rodElement) Attribute(name string) (string, bool, error) {
	var v *string
	err := e.bounded("reading "+name, func(el *rod.Element) (err error) {
		v, err = el.Attribute(name)
		return err
	})
	if err != nil || v == nil {
		return "", false, err
	}
	return *v, true, nil
}

func (e *rodElement) Visible() (visible bool, err error) {
	err = e.bounded("checking visibility", func(el *rod.Element) error {
		visible, err = el.Visible()
		return err
	})
	return visible, err
}

func (e *rodElement) Fill(text string) error {
	return e.bounded("filling", func(el *rod.Element) error {
		if err := el.SelectAllText(); err != nil {
			return fmt.Errorf("failed to select text: %w", err)
		}
		return el.Input(text)
	})
}

func (e *rodElement) Press(key string) error {
	k, ok := rodKeys[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	return e.bounded("pressing "+key, func(el *rod.Element) error {
		return el.Type(k)
	})
}

func (e *rodElement) Click() error {
	return e.bounded("clicking", func(el *rod.Element) error {
		return el.Click(proto.InputMouseButtonLeft, 1)
	})
}

func (e *rodElement) Find(sel Selector) (Element, error) {
	scoped := e.el.Sleeper(rod.NotFoundSleeper).Timeout(elementActionTimeout)
	defer scoped.CancelTimeout()

	var (
		child *rod.Element
		err   error
	)
	if css, ok := sel.css(); ok {
		child, err = scoped.Element(css)
	} else {
		child, err = scoped.ElementX(sel.Value)
	}
	if err != nil {
		var notFound *rod.ElementNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sel)
		}
		return nil, rodError(err, "finding "+sel.String())
	}
	return &rodElement{el: child.Context(e.el.GetContext())}, nil
}

var rodKeys = map[string]input.Key{
	"Enter":  input.Enter,
	"Tab":    input.Tab,
	"Escape": input.Escape,
}

func findRod(p *rod.Page, sel Selector) (*rod.Element, error) {
	if css, ok := sel.css(); ok {
		return p.Element(css)
	}
	return p.ElementX(sel.Value)
}

func rodError(err error, action string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, action, err)
	}
	return fmt.Errorf("failed %s: %w", action, err)
}

func rodWaitError(err error, sel Selector, state State, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(sel, state, timeout, err)
	}
	return fmt.Errorf("failed waiting for %s: %w", sel, err)
}
