// Package browsertest provides an in-memory browser.Driver for unit tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maltedev/jan-enricher/internal/browser"
)

// Element is a scripted element. Zero value is a visible, enabled element
// with no text.
type Element struct {
	TextValue string
	Attrs     map[string]string
	Hidden    bool
	Disabled  bool
	Children  map[string]*Element

	// OnClick and OnPress let a test change the page in response to input.
	OnClick func()
	OnPress func(key string)

	mu      sync.Mutex
	filled  string
	pressed []string
	clicks  int
}

func (e *Element) Text() (string, error) {
	return e.TextValue, nil
}

func (e *Element) Attribute(name string) (string, bool, error) {
	v, ok := e.Attrs[name]
	return v, ok, nil
}

func (e *Element) Visible() (bool, error) {
	return !e.Hidden, nil
}

func (e *Element) Fill(text string) error {
	e.mu.Lock()
	e.filled = text
	e.mu.Unlock()
	return nil
}

func (e *Element) Press(key string) error {
	e.mu.Lock()
	e.pressed = append(e.pressed, key)
	e.mu.Unlock()
	if e.OnPress != nil {
		e.OnPress(key)
	}
	return nil
}

func (e *Element) Click() error {
	e.mu.Lock()
	e.clicks++
	e.mu.Unlock()
	if e.OnClick != nil {
		e.OnClick()
	}
	return nil
}

func (e *Element) Find(sel browser.Selector) (browser.Element, error) {
	child, ok := e.Children[sel.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, sel)
	}
	return child, nil
}

func (e *Element) Filled() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filled
}

func (e *Element) Pressed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.pressed...)
}

func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// Document is one HTML document: a set of elements keyed by selector and
// any child frames.
type Document struct {
	HTML string

	mu       sync.Mutex
	elements map[string][]*Element
	frames   map[string]*Document
}

func NewDocument() *Document {
	return &Document{
		elements: make(map[string][]*Element),
		frames:   make(map[string]*Document),
	}
}

// Set replaces the elements matched by sel.
func (d *Document) Set(sel browser.Selector, els ...*Element) *Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elements[sel.String()] = els
	return d
}

func (d *Document) Remove(sel browser.Selector) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.elements, sel.String())
}

// SetFrame registers the document behind the iframe matched by sel. The
// iframe element itself is added as well.
func (d *Document) SetFrame(sel browser.Selector, frame *Document) *Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames[sel.String()] = frame
	if _, ok := d.elements[sel.String()]; !ok {
		d.elements[sel.String()] = []*Element{{}}
	}
	return d
}

func (d *Document) lookup(sel browser.Selector) []*Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.elements[sel.String()]
}

func (d *Document) frame(sel browser.Selector) *Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames[sel.String()]
}

// Driver is a browser.Driver serving scripted documents by URL. Waits never
// sleep: a selector that is not satisfied when asked times out immediately.
type Driver struct {
	// Pages maps a URL to the document served for it. Unknown URLs get an
	// empty document.
	Pages map[string]*Document
	// NavigateErr, when set, is returned for a URL instead of loading it.
	NavigateErr map[string]error
	// ReloadErrs are returned by successive Reload calls, one each.
	ReloadErrs []error

	mu      sync.Mutex
	url     string
	top     *Document
	scope   *Document
	visits  []string
	reloads int
	closes  int
	frames  int
}

func New() *Driver {
	return &Driver{
		Pages:       make(map[string]*Document),
		NavigateErr: make(map[string]error),
		top:         NewDocument(),
	}
}

// Page returns the document for url, creating it if needed.
func (f *Driver) Page(url string) *Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.Pages[url]
	if !ok {
		doc = NewDocument()
		f.Pages[url] = doc
	}
	return doc
}

func (f *Driver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.visits = append(f.visits, url)
	f.scope = nil
	if err := f.NavigateErr[url]; err != nil {
		return err
	}

	f.url = url
	doc, ok := f.Pages[url]
	if !ok {
		doc = NewDocument()
		f.Pages[url] = doc
	}
	f.top = doc
	return nil
}

func (f *Driver) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	f.scope = nil
	if len(f.ReloadErrs) > 0 {
		err := f.ReloadErrs[0]
		f.ReloadErrs = f.ReloadErrs[1:]
		return err
	}
	return nil
}

func (f *Driver) CurrentURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url
}

func (f *Driver) Content() (string, error) {
	return f.current().HTML, nil
}

func (f *Driver) current() *Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scope != nil {
		return f.scope
	}
	return f.top
}

func (f *Driver) WaitFor(ctx context.Context, sel browser.Selector, state browser.State, timeout time.Duration) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	els := f.current().lookup(sel)
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s not %s after %s", browser.ErrTimeout, sel, state, timeout)
	}
	el := els[0]
	if state >= browser.StateVisible && el.Hidden {
		return nil, fmt.Errorf("%w: %s not %s after %s", browser.ErrTimeout, sel, state, timeout)
	}
	if state == browser.StateClickable && el.Disabled {
		return nil, fmt.Errorf("%w: %s not %s after %s", browser.ErrTimeout, sel, state, timeout)
	}
	return el, nil
}

func (f *Driver) FindAll(ctx context.Context, sel browser.Selector) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	els := f.current().lookup(sel)
	out := make([]browser.Element, len(els))
	for i, el := range els {
		out[i] = el
	}
	return out, nil
}

func (f *Driver) EnterFrame(ctx context.Context, sel browser.Selector, timeout time.Duration) error {
	if _, err := f.WaitFor(ctx, sel, browser.StatePresent, timeout); err != nil {
		return err
	}

	frame := f.current().frame(sel)
	if frame == nil {
		return fmt.Errorf("%w: %s is not a frame", browser.ErrNotFound, sel)
	}

	f.mu.Lock()
	f.scope = frame
	f.frames++
	f.mu.Unlock()
	return nil
}

func (f *Driver) ExitFrame() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scope = nil
}

func (f *Driver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

// InFrame reports whether the scope is currently a child frame.
func (f *Driver) InFrame() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scope != nil
}

func (f *Driver) Visits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.visits...)
}

func (f *Driver) Reloads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloads
}

func (f *Driver) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *Driver) FramesEntered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

var _ browser.Driver = (*Driver)(nil)
