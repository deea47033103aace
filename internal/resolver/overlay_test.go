package resolver

import (
	"context"
	"fmt"
	"testing"

	"github.com/maltedev/jan-enricher/internal/browser"
	"github.com/maltedev/jan-enricher/internal/browser/browsertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// amazonListing scripts an Amazon page carrying the ERESA frame. The frame
// holds the login form until logged in, and the JAN label afterwards.
func amazonListing(d *browsertest.Driver, opts Options, url, code string, failLogin bool) *browsertest.Element {
	frame := browsertest.NewDocument()
	_, _, button := loginForm(frame, opts, failLogin)
	label, _ := janLabel(opts, code)
	frame.Set(opts.JANLabel, label)
	d.Page(url).SetFrame(opts.OverlayFrame, frame)
	return button
}

func TestOverlay_FirstVisitLogsInOnce(t *testing.T) {
	opts := testOptions()
	d := browsertest.New()
	urls := []string{
		"https://www.amazon.co.jp/dp/B00AAA111",
		"https://www.amazon.co.jp/dp/B00BBB222",
	}
	first := amazonListing(d, opts, urls[0], "4901234567894", false)
	second := amazonListing(d, opts, urls[1], "4512345678906", false)

	o := NewOverlay(d, testCreds, opts, testLogger())
	assert.Equal(t, OverlayUnvisited, o.State())

	res, err := o.Resolve(context.Background(), Target{ListingURL: urls[0]})
	require.NoError(t, err)
	assert.Equal(t, "4901234567894", res.Code)
	assert.Equal(t, urls[0], res.SourceURL)
	assert.Equal(t, OverlayReady, o.State())

	res, err = o.Resolve(context.Background(), Target{ListingURL: urls[1]})
	require.NoError(t, err)
	assert.Equal(t, "4512345678906", res.Code)

	assert.Equal(t, 1, first.Clicks())
	assert.Zero(t, second.Clicks())
	assert.Equal(t, 1, d.Reloads())
	assert.False(t, d.InFrame())
}

func TestOverlay_ReloadFailureKeepsSession(t *testing.T) {
	opts := testOptions()
	d := browsertest.New()
	d.ReloadErrs = []error{fmt.Errorf("%w: reload", browser.ErrTimeout)}

	urls := []string{
		"https://www.amazon.co.jp/dp/B00AAA111",
		"https://www.amazon.co.jp/dp/B00BBB222",
		"https://www.amazon.co.jp/dp/B00CCC333",
	}
	var buttons []*browsertest.Element
	var frames []*browsertest.Document
	for _, url := range urls {
		frame := browsertest.NewDocument()
		_, _, button := loginForm(frame, opts, false)
		// A signed-in extension no longer shows the form.
		button.OnClick = func() {
			for _, f := range frames {
				f.Remove(opts.EmailInput)
				f.Remove(opts.PasswordInput)
				f.Remove(opts.LoginButton)
			}
			frame.Set(opts.LoggedInMarker, &browsertest.Element{})
		}
		frames = append(frames, frame)
		label, _ := janLabel(opts, "4901234567894")
		frame.Set(opts.JANLabel, label)
		d.Page(url).SetFrame(opts.OverlayFrame, frame)
		buttons = append(buttons, button)
	}

	o := NewOverlay(d, testCreds, opts, testLogger())

	_, err := o.Resolve(context.Background(), Target{ListingURL: urls[0]})
	assert.ErrorIs(t, err, browser.ErrTimeout)
	assert.NotErrorIs(t, err, ErrLogin)
	assert.Equal(t, OverlayLoggedIn, o.State())

	for _, url := range urls[1:] {
		res, err := o.Resolve(context.Background(), Target{ListingURL: url})
		require.NoError(t, err)
		assert.Equal(t, "4901234567894", res.Code)
	}

	assert.Equal(t, OverlayReady, o.State())
	assert.Equal(t, 1, buttons[0].Clicks())
	assert.Zero(t, buttons[1].Clicks()+buttons[2].Clicks())
	assert.Equal(t, 1, d.Reloads())
	assert.False(t, d.InFrame())
}

func TestOverlay_LoginFailureRetriedNextRow(t *testing.T) {
	opts := testOptions()
	d := browsertest.New()
	url := "https://www.amazon.co.jp/dp/B00AAA111"
	button := amazonListing(d, opts, url, "4901234567894", true)

	o := NewOverlay(d, testCreds, opts, testLogger())

	_, err := o.Resolve(context.Background(), Target{ListingURL: url})
	assert.ErrorIs(t, err, ErrLogin)
	assert.Equal(t, OverlayUnvisited, o.State())
	assert.False(t, d.InFrame())

	_, err = o.Resolve(context.Background(), Target{ListingURL: url})
	assert.ErrorIs(t, err, ErrLogin)
	assert.Equal(t, 2, button.Clicks())
	assert.Zero(t, d.Reloads())
}

func TestOverlay_WithoutCredentialsSkipsLogin(t *testing.T) {
	opts := testOptions()
	d := browsertest.New()
	url := "https://www.amazon.co.jp/dp/B00AAA111"
	button := amazonListing(d, opts, url, "4901234567894", false)

	o := NewOverlay(d, Credentials{}, opts, testLogger())
	assert.Equal(t, OverlayReady, o.State())

	res, err := o.Resolve(context.Background(), Target{ListingURL: url})

	require.NoError(t, err)
	assert.Equal(t, "4901234567894", res.Code)
	assert.Zero(t, button.Clicks())
	assert.Equal(t, 1, d.FramesEntered())
}

func TestOverlay_FrameMissing(t *testing.T) {
	opts := testOptions()
	d := browsertest.New()

	o := NewOverlay(d, Credentials{}, opts, testLogger())
	_, err := o.Resolve(context.Background(), Target{ListingURL: "https://www.amazon.co.jp/dp/B00AAA111"})

	assert.ErrorIs(t, err, ErrCodeNotFound)
	assert.ErrorIs(t, err, browser.ErrTimeout)
}

func TestOverlay_CodeNotFoundLeavesFrame(t *testing.T) {
	opts := testOptions()
	d := browsertest.New()
	url := "https://www.amazon.co.jp/dp/B00AAA111"
	amazonListing(d, opts, url, "", false)

	o := NewOverlay(d, Credentials{}, opts, testLogger())
	_, err := o.Resolve(context.Background(), Target{ListingURL: url})

	assert.ErrorIs(t, err, ErrCodeNotFound)
	assert.False(t, d.InFrame())
}

func TestOverlay_EmptyListing(t *testing.T) {
	d := browsertest.New()
	o := NewOverlay(d, Credentials{}, testOptions(), testLogger())

	_, err := o.Resolve(context.Background(), Target{Identifier: "B00AAA111"})

	assert.ErrorIs(t, err, ErrCodeNotFound)
	assert.Empty(t, d.Visits())
}
