package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/jan-enricher/internal/models"
)

const (
	redirectNotice = "Redirecting you to"

	activeSlotSelector = "div.ux-image-carousel-item.image-treatment.image.active"
	plainSlotSelector  = "div.ux-image-carousel-item.image-treatment.image:not(.active)"
)

// RedirectTarget reports whether the page is an eBay redirect notice and,
// if so, the url= target of its meta refresh. target is empty when the
// notice has no usable refresh tag.
func RedirectTarget(doc *goquery.Document) (target string, redirect bool) {
	if !strings.Contains(doc.Text(), redirectNotice) {
		return "", false
	}

	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		equiv, _ := s.Attr("http-equiv")
		if !strings.EqualFold(equiv, "refresh") {
			return true
		}
		content, _ := s.Attr("content")
		idx := strings.Index(strings.ToLower(content), "url=")
		if idx < 0 {
			return true
		}
		target = strings.Trim(strings.TrimSpace(content[idx+len("url="):]), `'"`)
		return false
	})

	return target, true
}

// ImageCandidates returns the image URL of the first active carousel slot and
// of the first plain slot, in that order. Slots without a resolvable image
// are omitted.
func ImageCandidates(doc *goquery.Document) []models.ImageCandidate {
	var candidates []models.ImageCandidate

	slots := []struct {
		selector string
		priority models.ImagePriority
	}{
		{activeSlotSelector, models.ImagePriorityActive},
		{plainSlotSelector, models.ImagePriorityPlain},
	}

	for _, slot := range slots {
		img := doc.Find(slot.selector).First().Find("img").First()
		if img.Length() == 0 {
			continue
		}
		if url := imageSource(img); url != "" {
			candidates = append(candidates, models.ImageCandidate{URL: url, Priority: slot.priority})
		}
	}

	return candidates
}

// imageSource picks src, then the first srcset entry, then data-zoom-src.
// A present but empty src still wins over the later attributes.
func imageSource(img *goquery.Selection) string {
	if src, ok := img.Attr("src"); ok {
		return strings.TrimSpace(src)
	}
	if srcset, ok := img.Attr("srcset"); ok {
		first := strings.TrimSpace(strings.Split(srcset, ",")[0])
		return strings.Split(first, " ")[0]
	}
	if zoom, ok := img.Attr("data-zoom-src"); ok {
		return strings.TrimSpace(zoom)
	}
	return ""
}

// SelectImage returns the highest-priority candidate URL.
func SelectImage(candidates []models.ImageCandidate) (string, bool) {
	best := -1
	for i, c := range candidates {
		if c.URL == "" {
			continue
		}
		if best < 0 || c.Priority > candidates[best].Priority {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return candidates[best].URL, true
}
