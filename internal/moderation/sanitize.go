package moderation

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

// strictPolicy removes every element and attribute. Script and style
// bodies are dropped along with their tags. A Policy is safe for
// concurrent use once built.
var strictPolicy = bluemonday.StrictPolicy()

// quoteEntities undoes the quote escaping bluemonday applies to text. The
// result stays safe to render verbatim since &, < and > remain escaped.
var quoteEntities = strings.NewReplacer("&#34;", `"`, "&#39;", "'", "&quot;", `"`)

// Sanitize strips all markup from content, normalizes it to NFC and trims
// surrounding whitespace. Ampersands and angle brackets stay escaped; quotes
// are returned literally.
func Sanitize(content string) string {
	clean := strictPolicy.Sanitize(content)
	clean = quoteEntities.Replace(clean)
	clean = norm.NFC.String(clean)
	return strings.TrimSpace(clean)
}

// TextLength counts the characters a reader sees in sanitized content:
// entities such as &amp; count as the single character they encode.
func TextLength(sanitized string) int {
	return utf8.RuneCountInString(html.UnescapeString(sanitized))
}
