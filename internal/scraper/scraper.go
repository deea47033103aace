package scraper

import (
	"context"
	"errors"
)

var (
	ErrFetch            = errors.New("failed to fetch listing page")
	ErrParse            = errors.New("failed to parse listing page")
	ErrNoRedirectTarget = errors.New("redirect notice without target")
	ErrNoImage          = errors.New("no listing image found")
	ErrNoListing        = errors.New("no matching listing in search results")
)

// ImageSource resolves a source listing URL to its primary image URL.
type ImageSource interface {
	Resolve(ctx context.Context, listingURL string) (string, error)
}

// ListingFinder finds a destination marketplace listing for an image.
type ListingFinder interface {
	FindListing(ctx context.Context, imageURL string) (string, error)
}

var (
	_ ImageSource   = (*ImageResolver)(nil)
	_ ListingFinder = (*VisualSearch)(nil)
)
