package resolver

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/maltedev/jan-enricher/internal/browser"
	"github.com/maltedev/jan-enricher/internal/browser/browsertest"
	"github.com/maltedev/jan-enricher/internal/wait"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = Credentials{Username: "buyer@example.jp", Password: "secret"}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.LabelTimeout = 10 * time.Millisecond
	opts.ValueTimeout = 20 * time.Millisecond
	opts.LoginTimeout = 10 * time.Millisecond
	opts.FrameTimeout = 10 * time.Millisecond
	opts.PollInterval = time.Millisecond
	return opts
}

// janLabel returns a JAN label whose value span shows text.
func janLabel(opts Options, text string) (*browsertest.Element, *browsertest.Element) {
	span := &browsertest.Element{TextValue: text}
	label := &browsertest.Element{
		TextValue: "JAN",
		Children:  map[string]*browsertest.Element{opts.JANValue.String(): span},
	}
	return label, span
}

// loginForm scripts an ERESA login form into doc. Clicking the button adds
// the logged-in header unless fail is set.
func loginForm(doc *browsertest.Document, opts Options, fail bool) (email, password, button *browsertest.Element) {
	email = &browsertest.Element{}
	password = &browsertest.Element{}
	button = &browsertest.Element{}
	button.OnClick = func() {
		if !fail {
			doc.Set(opts.LoggedInMarker, &browsertest.Element{})
		}
	}
	doc.Set(opts.Body, &browsertest.Element{}).
		Set(opts.EmailInput, email).
		Set(opts.PasswordInput, password).
		Set(opts.LoginButton, button)
	return email, password, button
}

func TestIsJAN(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"4901234567894", true},
		{"49-0123-4567", true},
		{"---", true},
		{"", false},
		{"JAN: 4901234567894", false},
		{"4901234567894 ", false},
		{"B00ABC123", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, IsJAN(tt.in))
		})
	}
}

func TestReadJAN(t *testing.T) {
	opts := testOptions()
	d := browsertest.New()
	label, _ := janLabel(opts, "  4901234567894 ")
	d.Page("https://example.test/").Set(opts.JANLabel, label)
	require.NoError(t, d.Navigate(context.Background(), "https://example.test/"))

	code, err := readJAN(context.Background(), d, opts)

	require.NoError(t, err)
	assert.Equal(t, "4901234567894", code)
}

func TestReadJAN_HyphenPlaceholderAccepted(t *testing.T) {
	opts := testOptions()
	d := browsertest.New()
	label, _ := janLabel(opts, "---")
	d.Page("https://example.test/").Set(opts.JANLabel, label)
	require.NoError(t, d.Navigate(context.Background(), "https://example.test/"))

	code, err := readJAN(context.Background(), d, opts)

	require.NoError(t, err)
	assert.Equal(t, "---", code)
}

func TestReadJAN_ValueNeverMatches(t *testing.T) {
	opts := testOptions()
	d := browsertest.New()
	label, _ := janLabel(opts, "読み込み中")
	d.Page("https://example.test/").Set(opts.JANLabel, label)
	require.NoError(t, d.Navigate(context.Background(), "https://example.test/"))

	_, err := readJAN(context.Background(), d, opts)

	assert.ErrorIs(t, err, ErrCodeNotFound)
	assert.ErrorIs(t, err, wait.ErrTimeout)
}

func TestReadJAN_NoLabel(t *testing.T) {
	opts := testOptions()
	d := browsertest.New()
	require.NoError(t, d.Navigate(context.Background(), "https://example.test/"))

	_, err := readJAN(context.Background(), d, opts)

	assert.ErrorIs(t, err, ErrCodeNotFound)
	assert.ErrorIs(t, err, browser.ErrTimeout)
}

func TestLogin_FillsForm(t *testing.T) {
	opts := testOptions()
	d := browsertest.New()
	email, password, button := loginForm(d.Page("https://example.test/login"), opts, false)
	require.NoError(t, d.Navigate(context.Background(), "https://example.test/login"))

	err := login(context.Background(), d, testCreds, opts)

	require.NoError(t, err)
	assert.Equal(t, testCreds.Username, email.Filled())
	assert.Equal(t, testCreds.Password, password.Filled())
	assert.Equal(t, 1, button.Clicks())
}

func TestLogin_DisabledButton(t *testing.T) {
	opts := testOptions()
	d := browsertest.New()
	_, _, button := loginForm(d.Page("https://example.test/login"), opts, false)
	button.Disabled = true
	require.NoError(t, d.Navigate(context.Background(), "https://example.test/login"))

	err := login(context.Background(), d, testCreds, opts)

	assert.ErrorIs(t, err, ErrLogin)
	assert.Zero(t, button.Clicks())
}
