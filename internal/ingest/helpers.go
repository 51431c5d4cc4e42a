package ingest

import (
	"strings"
)

// normalizeSpace collapses runs of whitespace into one space and trims.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cleanText normalizes whitespace (alias for normalizeSpace)
func cleanText(s string) string {
	return normalizeSpace(s)
}

// norm lowercases cleaned text for keyword matching.
func norm(s string) string {
	return strings.ToLower(cleanText(s))
}

// joinNonEmpty joins the cleaned, non-empty parts with sep.
func joinNonEmpty(parts []string, sep string) string {
	var kept []string
	for _, p := range parts {
		if c := cleanText(p); c != "" {
			kept = append(kept, c)
		}
	}
	return strings.Join(kept, sep)
}

// splitAndCleanList turns a free-text block into clean, deduplicated lines,
// stripping bullet markers and leading numbering.
func splitAndCleanList(block string) []string {
	block = strings.ReplaceAll(block, "\r\n", "\n")
	block = strings.ReplaceAll(block, "\r", "\n")

	var out []string
	for _, raw := range strings.Split(block, "\n") {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}

		s = strings.TrimLeft(s, " \t-*•–—")
		s = strings.TrimSpace(s)
		s = stripLeadingNumbering(s)
		s = cleanText(s)
		if s == "" {
			continue
		}

		out = append(out, s)
	}

	return mergeUniqueFold(nil, out)
}

func stripLeadingNumbering(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}

	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	// Only "1." and "2)" style counts as numbering; a bare "2 years" or a
	// "2-3" range is content.
	if i == 0 || i >= len(s) || (s[i] != '.' && s[i] != ')') {
		return s
	}

	i++
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return strings.TrimSpace(s[i:])
}

// mergeUniqueFold appends items to dst, skipping entries already present
// case-insensitively. Original order and casing are kept.
func mergeUniqueFold(dst []string, items []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, v := range dst {
		k := strings.ToLower(strings.TrimSpace(v))
		if k != "" {
			seen[k] = struct{}{}
		}
	}

	for _, v := range items {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		k := strings.ToLower(v)
		if _, ok := seen[k]; ok {
			continue
		}
		dst = append(dst, v)
		seen[k] = struct{}{}
	}

	return dst
}

// containsAny reports whether lowered contains any of the given lowercase
// keywords.
func containsAny(lowered string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}
