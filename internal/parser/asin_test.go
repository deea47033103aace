package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
		found    bool
	}{
		{"dp path", "https://x/dp/B00ABC123", "B00ABC123", true},
		{"product path", "https://x/product/ZZZ999", "ZZZ999", true},
		{"other path", "https://x/other/path", "", false},
		{"dp with slug", "https://www.amazon.co.jp/Some-Item/dp/B07XYZ1234/ref=sr_1_1", "B07XYZ1234", true},
		{"gp product", "https://www.amazon.co.jp/gp/product/B01AAA2222?th=1", "B01AAA2222", true},
		{"case insensitive", "https://www.amazon.co.jp/DP/b00abc123", "b00abc123", true},
		{"dp wins over product", "https://x/product/AAA111/dp/BBB222", "BBB222", true},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractIdentifier(tt.url)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.found, IsProductURL(tt.url))
		})
	}
}
