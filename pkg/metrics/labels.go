package metrics

import "strings"

// normalizeLabel keeps empty label values out of the series set.
func normalizeLabel(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
