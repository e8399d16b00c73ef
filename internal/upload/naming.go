package upload

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

const stampLayout = "20060102_150405"

// AutoName names the seq-th photo of a report uploaded without a description.
func AutoName(seq int, now time.Time) string {
	return fmt.Sprintf("foto_%d_%s.jpg", seq, now.Format(stampLayout))
}

// DescribedName names a photo after the user's description.
func DescribedName(desc string, seq int, now time.Time) string {
	return fmt.Sprintf("%s_%d_%s.jpg", Sanitize(desc), seq, now.Format(stampLayout))
}

// Sanitize keeps letters, digits, underscores, spaces and hyphens, then
// collapses whitespace runs into a single underscore. An empty result becomes "foto".
func Sanitize(desc string) string {
	var kept strings.Builder
	for _, r := range desc {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || unicode.IsSpace(r) {
			kept.WriteRune(r)
		}
	}

	name := strings.Join(strings.Fields(kept.String()), "_")
	if name == "" {
		return "foto"
	}
	return name
}
