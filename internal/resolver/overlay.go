package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/maltedev/jan-enricher/internal/browser"
)

type OverlayState int

const (
	OverlayUnvisited OverlayState = iota
	OverlayAwaitingLogin
	// OverlayLoggedIn is a session whose post-login reload has not completed.
	OverlayLoggedIn
	OverlayReady
)

func (s OverlayState) String() string {
	switch s {
	case OverlayAwaitingLogin:
		return "awaiting_login"
	case OverlayLoggedIn:
		return "logged_in"
	case OverlayReady:
		return "ready"
	default:
		return "unvisited"
	}
}

// Overlay reads the JAN code from the ERESA extension's chart frame injected
// into the Amazon listing page. The first listing visited is used to log the
// extension in.
type Overlay struct {
	driver browser.Driver
	creds  Credentials
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	state OverlayState
}

func NewOverlay(d browser.Driver, creds Credentials, opts Options, logger *slog.Logger) *Overlay {
	o := &Overlay{
		driver: d,
		creds:  creds,
		opts:   opts,
		logger: logger.With("component", "resolver", "strategy", "overlay"),
	}
	if !creds.Valid() {
		// Without credentials the extension profile is expected to be signed in already.
		o.state = OverlayReady
	}
	return o
}

func (o *Overlay) State() OverlayState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Overlay) Resolve(ctx context.Context, target Target) (res Result, err error) {
	defer recoverResolve(o.logger, &err)

	o.mu.Lock()
	defer o.mu.Unlock()

	if target.ListingURL == "" {
		return Result{}, fmt.Errorf("%w: no listing url", ErrCodeNotFound)
	}

	defer o.driver.ExitFrame()

	if err := o.driver.Navigate(ctx, target.ListingURL); err != nil {
		return Result{}, err
	}

	switch o.state {
	case OverlayUnvisited:
		if err := o.firstVisit(ctx); err != nil {
			logPageState(o.logger, o.driver, err)
			return Result{}, err
		}
	case OverlayLoggedIn:
		// The navigation above loaded the listing with the session already.
		o.state = OverlayReady
		o.logger.Info("overlay ready after pending reload")
	}

	if err := o.driver.EnterFrame(ctx, o.opts.OverlayFrame, o.opts.FrameTimeout); err != nil {
		logPageState(o.logger, o.driver, err)
		return Result{}, fmt.Errorf("%w: %w", ErrCodeNotFound, err)
	}

	code, err := readJAN(ctx, o.driver, o.opts)
	if err != nil {
		logPageState(o.logger, o.driver, err)
		return Result{}, err
	}

	return Result{SourceURL: target.ListingURL, Code: code}, nil
}

// firstVisit logs in through the overlay frame and reloads the listing so
// the extension renders with the session. A failed login goes back to
// unvisited and the next row tries again; a failed reload keeps the session.
func (o *Overlay) firstVisit(ctx context.Context) error {
	if err := o.driver.EnterFrame(ctx, o.opts.OverlayFrame, o.opts.FrameTimeout); err != nil {
		return fmt.Errorf("%w: overlay frame: %w", ErrLogin, err)
	}

	o.state = OverlayAwaitingLogin
	o.logger.Info("logging in to overlay")

	if err := login(ctx, o.driver, o.creds, o.opts); err != nil {
		o.state = OverlayUnvisited
		o.driver.ExitFrame()
		return err
	}

	o.state = OverlayLoggedIn
	o.driver.ExitFrame()
	if err := o.driver.Reload(ctx); err != nil {
		return fmt.Errorf("reload after login: %w", err)
	}

	o.state = OverlayReady
	o.logger.Info("overlay logged in")
	return nil
}
