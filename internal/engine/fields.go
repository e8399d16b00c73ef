package engine

import (
	"strings"

	"github.com/ashureev/laporan-bot/internal/domain"
)

var labelIndex = func() map[string]string {
	m := make(map[string]string, len(domain.RequiredFields))
	for _, label := range domain.RequiredFields {
		m[normalizeLabel(label)] = label
	}
	return m
}()

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ParseFields extracts "label: value" lines for the required labels.
// Lines without a colon and unknown labels are ignored. Blank values are
// omitted so they never overwrite a stored value.
func ParseFields(text string) domain.Fields {
	out := domain.Fields{}
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		label, known := labelIndex[normalizeLabel(key)]
		if !known {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		out[label] = value
	}
	return out
}
