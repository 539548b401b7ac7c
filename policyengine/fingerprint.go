package policyengine

import (
	"sort"
	"strings"
)

// resourceFingerprint canonicalises a resource map into a stable string
// key so logically equal resources hit the same audit-cache entry
// regardless of map iteration order. Grounded on spec.md §4.5/§9 ("cache
// key must canonicalise the resource map: stable ordering of keys,
// normalised value representation").
func resourceFingerprint(resource AccessResource) string {
	if len(resource) == 0 {
		return ""
	}

	keys := make([]string, 0, len(resource))
	for k := range resource {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(resource[k])
	}
	return b.String()
}
