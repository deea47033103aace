package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/jan-enricher/internal/browser"
	"github.com/maltedev/jan-enricher/internal/parser"
)

type VisualSearchOptions struct {
	StartURL string

	SearchByImage  browser.Selector
	ImageLinkInput browser.Selector
	ProductsTab    browser.Selector
	ListingLinks   browser.Selector

	SearchByImageTimeout time.Duration
	ImageLinkTimeout     time.Duration
	ProductsTabTimeout   time.Duration
	ClickableTimeout     time.Duration
	// ResultsTimeout bounds the wait for listing links after the products tab opens.
	ResultsTimeout time.Duration
}

func DefaultVisualSearchOptions() VisualSearchOptions {
	return VisualSearchOptions{
		StartURL:             "https://images.google.com/",
		SearchByImage:        browser.CSS(`[aria-label="画像で検索"]`),
		ImageLinkInput:       browser.CSS(`input[placeholder="画像リンクを貼り付ける"]`),
		ProductsTab:          browser.XPath(`//div[@role='listitem']/a/div[text()='商品']`),
		ListingLinks:         browser.CSS(`a[href*='amazon.co.jp/']`),
		SearchByImageTimeout: 30 * time.Second,
		ImageLinkTimeout:     30 * time.Second,
		ProductsTabTimeout:   40 * time.Second,
		ClickableTimeout:     30 * time.Second,
		ResultsTimeout:       10 * time.Second,
	}
}

// VisualSearch runs a reverse image search in the browser and returns the
// first Amazon Japan listing among the shopping results.
type VisualSearch struct {
	driver browser.Driver
	opts   VisualSearchOptions
	logger *slog.Logger
}

func NewVisualSearch(d browser.Driver, opts VisualSearchOptions, logger *slog.Logger) *VisualSearch {
	return &VisualSearch{
		driver: d,
		opts:   opts,
		logger: logger.With("component", "visual_search"),
	}
}

func (v *VisualSearch) FindListing(ctx context.Context, imageURL string) (string, error) {
	if err := v.driver.Navigate(ctx, v.opts.StartURL); err != nil {
		return "", err
	}

	lens, err := v.driver.WaitFor(ctx, v.opts.SearchByImage, browser.StateClickable, v.opts.SearchByImageTimeout)
	if err != nil {
		return "", err
	}
	if err := requireVisible(lens, v.opts.SearchByImage); err != nil {
		return "", err
	}
	if err := lens.Click(); err != nil {
		return "", fmt.Errorf("failed to open image search: %w", err)
	}

	input, err := v.driver.WaitFor(ctx, v.opts.ImageLinkInput, browser.StatePresent, v.opts.ImageLinkTimeout)
	if err != nil {
		return "", err
	}
	if err := requireVisible(input, v.opts.ImageLinkInput); err != nil {
		return "", err
	}
	if err := input.Fill(imageURL); err != nil {
		return "", fmt.Errorf("failed to enter image link: %w", err)
	}
	if err := input.Press("Enter"); err != nil {
		return "", fmt.Errorf("failed to submit image link: %w", err)
	}

	tab, err := v.driver.WaitFor(ctx, v.opts.ProductsTab, browser.StatePresent, v.opts.ProductsTabTimeout)
	if err != nil {
		return "", err
	}
	if err := requireVisible(tab, v.opts.ProductsTab); err != nil {
		return "", err
	}
	if tab, err = v.driver.WaitFor(ctx, v.opts.ProductsTab, browser.StateClickable, v.opts.ClickableTimeout); err != nil {
		return "", err
	}
	if err := tab.Click(); err != nil {
		return "", fmt.Errorf("failed to open products tab: %w", err)
	}

	if _, err := v.driver.WaitFor(ctx, v.opts.ListingLinks, browser.StatePresent, v.opts.ResultsTimeout); err != nil {
		if errors.Is(err, browser.ErrTimeout) {
			return "", fmt.Errorf("%w: %s: %w", ErrNoListing, imageURL, err)
		}
		return "", err
	}

	links, err := v.driver.FindAll(ctx, v.opts.ListingLinks)
	if err != nil {
		return "", err
	}

	var fallback string
	for _, link := range links {
		href, ok, err := link.Attribute("href")
		if err != nil || !ok {
			continue
		}
		href = strings.TrimSpace(href)
		if href == "" {
			continue
		}
		if parser.IsProductURL(href) {
			v.logger.Debug("listing found", "image", imageURL, "listing", href, "links", len(links))
			return href, nil
		}
		if fallback == "" {
			fallback = href
		}
	}

	if fallback != "" {
		v.logger.Debug("no product path among results, using first link", "listing", fallback)
		return fallback, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoListing, imageURL)
}

func requireVisible(el browser.Element, sel browser.Selector) error {
	visible, err := el.Visible()
	if err != nil {
		return fmt.Errorf("failed to check visibility of %s: %w", sel, err)
	}
	if !visible {
		return fmt.Errorf("%w: %s", browser.ErrHidden, sel)
	}
	return nil
}
