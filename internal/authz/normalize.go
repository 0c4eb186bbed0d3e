package authz

import "strings"

// NormalizeRoleKey canonicalizes a role key: uppercase, with any run of
// whitespace, hyphens or underscores collapsed to a single underscore.
// "pl cdr", "PL-CDR" and "pl_cdr" all normalize to "PL_CDR". Idempotent.
func NormalizeRoleKey(key string) string {
	parts := strings.FieldsFunc(key, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', '-', '_':
			return true
		}
		return false
	})
	return strings.ToUpper(strings.Join(parts, "_"))
}

// NormalizeRoleKeys normalizes and deduplicates a role key list, dropping
// empties. Order of first appearance is preserved.
func NormalizeRoleKeys(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(keys))
	var out []string
	for _, key := range keys {
		key = NormalizeRoleKey(key)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
