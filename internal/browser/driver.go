package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is returned when a bounded wait on page state runs out.
	ErrTimeout = errors.New("navigation timeout")
	// ErrNotFound is returned by non-waiting lookups that match nothing.
	ErrNotFound = errors.New("element not found")
	// ErrHidden is returned when an element exists but is not displayed.
	ErrHidden = errors.New("element not visible")
)

type By int

const (
	ByCSS By = iota
	ByXPath
	ByTag
	ByClass
)

func (b By) String() string {
	switch b {
	case ByXPath:
		return "xpath"
	case ByTag:
		return "tag"
	case ByClass:
		return "class"
	default:
		return "css"
	}
}

// Selector locates elements by one lookup strategy.
type Selector struct {
	By    By
	Value string
}

func CSS(v string) Selector   { return Selector{By: ByCSS, Value: v} }
func XPath(v string) Selector { return Selector{By: ByXPath, Value: v} }
func Tag(v string) Selector   { return Selector{By: ByTag, Value: v} }
func Class(v string) Selector { return Selector{By: ByClass, Value: v} }

func (s Selector) String() string {
	return fmt.Sprintf("%s=%s", s.By, s.Value)
}

// css returns the selector as CSS. ok is false for XPath.
func (s Selector) css() (string, bool) {
	switch s.By {
	case ByTag:
		return s.Value, true
	case ByClass:
		return "." + s.Value, true
	case ByXPath:
		return "", false
	default:
		return s.Value, true
	}
}

type State int

const (
	StatePresent State = iota
	StateVisible
	StateClickable
)

func (s State) String() string {
	switch s {
	case StateVisible:
		return "visible"
	case StateClickable:
		return "clickable"
	default:
		return "present"
	}
}

// Driver is the browser capability the scrapers and resolvers run against.
// It holds one tab and a current document scope (top-level or an iframe).
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	CurrentURL() string
	// Content returns the HTML of the current document scope.
	Content() (string, error)
	// WaitFor blocks until an element matching sel reaches state, or returns
	// ErrTimeout after timeout.
	WaitFor(ctx context.Context, sel Selector, state State, timeout time.Duration) (Element, error)
	// FindAll returns the elements matching sel right now without waiting.
	FindAll(ctx context.Context, sel Selector) ([]Element, error)
	// EnterFrame waits for the iframe matching sel and makes its document the scope.
	EnterFrame(ctx context.Context, sel Selector, timeout time.Duration) error
	// ExitFrame returns the scope to the top-level document.
	ExitFrame()
	Close() error
}

type Element interface {
	Text() (string, error)
	Attribute(name string) (string, bool, error)
	Visible() (bool, error)
	Fill(text string) error
	Press(key string) error
	Click() error
	// Find returns the first descendant matching sel, or ErrNotFound.
	Find(sel Selector) (Element, error)
}

func timeoutError(sel Selector, state State, timeout time.Duration, cause error) error {
	return fmt.Errorf("%w: %s not %s after %s: %v", ErrTimeout, sel, state, timeout, cause)
}
