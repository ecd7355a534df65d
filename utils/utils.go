package utils

import (
	"fmt"
	"net/url"
	"strings"
)

// UrlQuery escapes s for use as a query string value.
func UrlQuery(s string) string { return url.QueryEscape(strings.TrimSpace(s)) }

// Str renders any JSON-decoded value as a string; nil becomes "".
func Str(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n < 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}
