package parser

import (
	"testing"

	"github.com/maltedev/jan-enricher/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const activeSlot = `<div class="ux-image-carousel-item image-treatment active image">
	<img src="https://i.ebayimg.com/images/g/active/s-l1600.jpg" alt="front">
</div>`

const plainSlot = `<div class="ux-image-carousel-item image-treatment image">
	<img src="https://i.ebayimg.com/images/g/plain/s-l1600.jpg" alt="back">
</div>`

func page(body string) string {
	return `<html><head><title>item</title></head><body><div class="ux-image-carousel">` + body + `</div></body></html>`
}

func TestImageCandidates(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		expected string
		found    bool
	}{
		{
			name:     "active beats plain",
			html:     page(plainSlot + activeSlot),
			expected: "https://i.ebayimg.com/images/g/active/s-l1600.jpg",
			found:    true,
		},
		{
			name:     "plain only",
			html:     page(plainSlot),
			expected: "https://i.ebayimg.com/images/g/plain/s-l1600.jpg",
			found:    true,
		},
		{
			name:  "neither slot",
			html:  page(`<div class="ux-image-carousel-item"><img src="https://i.ebayimg.com/other.jpg"></div>`),
			found: false,
		},
		{
			name: "srcset first candidate",
			html: page(`<div class="ux-image-carousel-item image-treatment active image">
				<img srcset="https://i.ebayimg.com/s-l500.jpg 500w, https://i.ebayimg.com/s-l1600.jpg 1600w">
			</div>`),
			expected: "https://i.ebayimg.com/s-l500.jpg",
			found:    true,
		},
		{
			name: "zoom source last",
			html: page(`<div class="ux-image-carousel-item image-treatment image">
				<img data-zoom-src="https://i.ebayimg.com/zoom.jpg">
			</div>`),
			expected: "https://i.ebayimg.com/zoom.jpg",
			found:    true,
		},
		{
			name: "src wins over srcset",
			html: page(`<div class="ux-image-carousel-item image-treatment image">
				<img src="https://i.ebayimg.com/src.jpg" srcset="https://i.ebayimg.com/set.jpg 2x" data-zoom-src="https://i.ebayimg.com/zoom.jpg">
			</div>`),
			expected: "https://i.ebayimg.com/src.jpg",
			found:    true,
		},
		{
			name: "empty active src falls back to plain",
			html: page(`<div class="ux-image-carousel-item image-treatment active image"><img src=""></div>` + plainSlot),
			expected: "https://i.ebayimg.com/images/g/plain/s-l1600.jpg",
			found:    true,
		},
		{
			name:  "slot without image",
			html:  page(`<div class="ux-image-carousel-item image-treatment active image"><span>video</span></div>`),
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseHTMLString(tt.html)
			require.NoError(t, err)

			got, ok := SelectImage(ImageCandidates(doc))
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestImageCandidates_Priorities(t *testing.T) {
	doc, err := ParseHTMLString(page(activeSlot + plainSlot))
	require.NoError(t, err)

	candidates := ImageCandidates(doc)
	require.Len(t, candidates, 2)
	assert.Equal(t, models.ImagePriorityActive, candidates[0].Priority)
	assert.Equal(t, models.ImagePriorityPlain, candidates[1].Priority)
}

func TestSelectImage(t *testing.T) {
	url, ok := SelectImage([]models.ImageCandidate{
		{URL: "plain.jpg", Priority: models.ImagePriorityPlain},
		{URL: "active.jpg", Priority: models.ImagePriorityActive},
	})
	assert.True(t, ok)
	assert.Equal(t, "active.jpg", url)

	_, ok = SelectImage(nil)
	assert.False(t, ok)

	_, ok = SelectImage([]models.ImageCandidate{{URL: "", Priority: models.ImagePriorityActive}})
	assert.False(t, ok)
}

func TestRedirectTarget(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		target   string
		redirect bool
	}{
		{
			name:     "regular listing",
			html:     page(activeSlot),
			redirect: false,
		},
		{
			name: "redirect with refresh",
			html: `<html><head><meta http-equiv="refresh" content="0; url=https://www.ebay.com/itm/123"></head>
				<body>Redirecting you to the item</body></html>`,
			target:   "https://www.ebay.com/itm/123",
			redirect: true,
		},
		{
			name: "uppercase attribute",
			html: `<html><head><meta http-equiv="Refresh" content="0;URL='https://www.ebay.com/itm/456'"></head>
				<body>Redirecting you to the item</body></html>`,
			target:   "https://www.ebay.com/itm/456",
			redirect: true,
		},
		{
			name:     "redirect without target",
			html:     `<html><head></head><body>Redirecting you to the item</body></html>`,
			target:   "",
			redirect: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseHTMLString(tt.html)
			require.NoError(t, err)

			target, redirect := RedirectTarget(doc)
			assert.Equal(t, tt.redirect, redirect)
			assert.Equal(t, tt.target, target)
		})
	}
}
