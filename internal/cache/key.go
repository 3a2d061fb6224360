package cache

import (
	"regexp"
	"strings"
)

const (
	// Namespace roots every cache entry, so no prefix can address rate limit
	// counters or stats sharing the store.
	Namespace = "cache"
	// DefaultPrefix is used when a prefix sanitizes to nothing.
	DefaultPrefix = "default"
)

var (
	whitespaceRun    = regexp.MustCompile(`\s+`)
	disallowedChars  = regexp.MustCompile(`[^A-Za-z0-9_\-:./=&%]`)
	repeatedColonRun = regexp.MustCompile(`:{2,}`)
)

// Sanitize makes s safe to embed in a store key: whitespace runs become '_',
// characters outside [A-Za-z0-9_-:./=&%] become '_', repeated ':' collapse to
// one and leading or trailing ':' are trimmed. Glob metacharacters can never
// survive, so a sanitized prefix is also a safe scan pattern.
func Sanitize(s string) string {
	s = whitespaceRun.ReplaceAllString(s, "_")
	s = disallowedChars.ReplaceAllString(s, "_")
	s = repeatedColonRun.ReplaceAllString(s, ":")
	return strings.Trim(s, ":")
}

// prefixRoot is the namespaced form of prefix, without the trailing ':'.
func prefixRoot(prefix string) string {
	p := Sanitize(prefix)
	if p == "" {
		p = DefaultPrefix
	}
	return Namespace + ":" + p
}

// FullKey composes the store key for prefix and key.
func FullKey(prefix, key string) string {
	return prefixRoot(prefix) + ":" + Sanitize(key)
}
