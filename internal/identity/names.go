package identity

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// cleanCutset holds the bracket and quote artifacts left behind by earlier
// stringified-list storage, plus whitespace.
const cleanCutset = "[]'\" \t\r\n"

var listSeparator = regexp.MustCompile(`,\s*`)

// maxDecodeDepth bounds recursion into double-encoded JSON strings.
const maxDecodeDepth = 4

// CleanName strips leading/trailing bracket, quote and whitespace artifacts
// from a raw name. A string of the form `X][Y` is split at each `][` and the
// cleaned fragments are rejoined with a single space.
func CleanName(raw string) string {
	if !strings.Contains(raw, "][") {
		return strings.Trim(raw, cleanCutset)
	}
	var parts []string
	for _, fragment := range strings.Split(raw, "][") {
		if cleaned := strings.Trim(fragment, cleanCutset); cleaned != "" {
			parts = append(parts, cleaned)
		}
	}
	return strings.Join(parts, " ")
}

// NormalizeAlternateNames turns any historical storage shape of an alternate
// names value into a clean ordered list without duplicates. It accepts nil,
// []string, []any, []byte, json.RawMessage and string (JSON-encoded, possibly
// double-encoded, malformed bracketed lists, or a bare scalar). It never fails.
func NormalizeAlternateNames(raw any) []string {
	out := []string{}
	seen := make(map[string]struct{})
	appendName := func(name string) {
		cleaned := CleanName(name)
		if cleaned == "" {
			return
		}
		if _, ok := seen[cleaned]; ok {
			return
		}
		seen[cleaned] = struct{}{}
		out = append(out, cleaned)
	}
	collect(raw, 0, appendName)
	return out
}

func collect(raw any, depth int, emit func(string)) {
	switch v := raw.(type) {
	case nil:
	case []string:
		for _, s := range v {
			emit(s)
		}
	case []any:
		for _, item := range v {
			switch inner := item.(type) {
			case string:
				emit(inner)
			case []any, []string:
				collect(inner, depth+1, emit)
			case nil:
			default:
				emit(fmt.Sprint(inner))
			}
		}
	case json.RawMessage:
		collectString(string(v), depth, emit)
	case []byte:
		collectString(string(v), depth, emit)
	case string:
		collectString(v, depth, emit)
	default:
		emit(fmt.Sprint(v))
	}
}

func collectString(s string, depth int, emit func(string)) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || trimmed == "null" {
		return
	}

	if depth < maxDecodeDepth && (strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, `"`)) {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			collect(decoded, depth+1, emit)
			return
		}
	}

	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		inner := trimmed[1 : len(trimmed)-1]
		for _, part := range listSeparator.Split(inner, -1) {
			emit(part)
		}
		return
	}

	emit(trimmed)
}

// MergeAlternateName adds name to names if it is not already present.
// The returned bool reports whether the list changed.
func MergeAlternateName(names []string, name string) ([]string, bool) {
	name = CleanName(name)
	if name == "" {
		return names, false
	}
	if lo.Contains(names, name) {
		return names, false
	}
	merged := make([]string, 0, len(names)+1)
	merged = append(merged, names...)
	return append(merged, name), true
}

// EncodeAlternateNames returns the canonical stored form of a name list: a JSON array.
func EncodeAlternateNames(names []string) string {
	if names == nil {
		names = []string{}
	}
	data, err := json.Marshal(names)
	if err != nil {
		return "[]"
	}
	return string(data)
}
