package utils

import (
	"net/http"
	"strings"
)

// UniqueInt64 returns the values of slice without duplicates, keeping first-seen order.
func UniqueInt64(slice []int64) []int64 {
	keys := make(map[int64]bool, len(slice))
	uniqueSlice := make([]int64, 0, len(slice))
	for _, entry := range slice {
		if _, value := keys[entry]; !value {
			keys[entry] = true
			uniqueSlice = append(uniqueSlice, entry)
		}
	}
	return uniqueSlice
}

// RedactSecrets replaces every occurrence of the given secrets with "***" so request
// dumps can be logged.
func RedactSecrets(text string, secrets ...string) string {
	for _, s := range secrets {
		if s == "" {
			continue
		}
		text = strings.ReplaceAll(text, s, "***")
	}
	return text
}

// ParseCookieHeader splits a browser-copied "name1=value1; name2=value2" string into
// cookies. Malformed pairs are skipped.
func ParseCookieHeader(raw string) []*http.Cookie {
	var cookies []*http.Cookie
	for _, part := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		cookies = append(cookies, &http.Cookie{Name: name, Value: strings.TrimSpace(value)})
	}
	return cookies
}
