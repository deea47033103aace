package parser

import "regexp"

var identifierPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/dp/([A-Z0-9]+)`),
	regexp.MustCompile(`(?i)/product/([A-Z0-9]+)`),
}

// ExtractIdentifier pulls the ASIN out of an Amazon listing URL.
// /dp/<ID> is tried before /product/<ID>.
func ExtractIdentifier(url string) (string, bool) {
	for _, re := range identifierPatterns {
		if m := re.FindStringSubmatch(url); len(m) >= 2 {
			return m[1], true
		}
	}
	return "", false
}

// IsProductURL reports whether url carries a product path ExtractIdentifier understands.
func IsProductURL(url string) bool {
	_, ok := ExtractIdentifier(url)
	return ok
}
