package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/maltedev/jan-enricher/internal/parser"
)

const DefaultFetchTimeout = 20 * time.Second

// MaxPageSize caps the listing HTML read per fetch.
const MaxPageSize = 4 << 20

// ImageResolver fetches an eBay listing over plain HTTP and picks its
// primary image. A redirect notice page is followed once.
type ImageResolver struct {
	client    *http.Client
	userAgent string
	maxBody   int64
	logger    *slog.Logger
}

func NewImageResolver(timeout time.Duration, userAgent string, logger *slog.Logger) *ImageResolver {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &ImageResolver{
		client: &http.Client{
			Timeout: timeout,
		},
		userAgent: userAgent,
		maxBody:   MaxPageSize,
		logger:    logger.With("component", "image_resolver"),
	}
}

func (r *ImageResolver) Resolve(ctx context.Context, listingURL string) (imageURL string, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("recovered while resolving image", "url", listingURL, "panic", p)
			imageURL, err = "", fmt.Errorf("%w: panic: %v", ErrParse, p)
		}
	}()

	body, err := r.fetch(ctx, listingURL)
	if err != nil {
		return "", err
	}

	doc, err := parser.ParseHTMLString(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrParse, err)
	}

	if target, redirect := parser.RedirectTarget(doc); redirect {
		if target == "" {
			return "", fmt.Errorf("%w: %s", ErrNoRedirectTarget, listingURL)
		}

		r.logger.Debug("following redirect notice", "from", listingURL, "to", target)
		body, err = r.fetch(ctx, target)
		if err != nil {
			return "", err
		}
		if doc, err = parser.ParseHTMLString(body); err != nil {
			return "", fmt.Errorf("%w: %v", ErrParse, err)
		}
	}

	candidates := parser.ImageCandidates(doc)
	url, ok := parser.SelectImage(candidates)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoImage, listingURL)
	}

	r.logger.Debug("image resolved", "url", listingURL, "image", url, "candidates", len(candidates))
	return url, nil
}

func (r *ImageResolver) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s returned status %d", ErrFetch, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBody+1))
	if err != nil {
		return "", fmt.Errorf("%w: reading body: %v", ErrFetch, err)
	}
	if int64(len(body)) > r.maxBody {
		return "", fmt.Errorf("%w: %s is larger than %d bytes", ErrFetch, url, r.maxBody)
	}
	return string(body), nil
}
