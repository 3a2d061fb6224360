package ratelimit

import (
	"regexp"
	"strings"
)

// UnknownIdentifier is used when no client address can be derived.
const UnknownIdentifier = "unknown"

const maxIdentifierLength = 128

var (
	repeatedSlashes      = regexp.MustCompile(`/+`)
	disallowedPathChars  = regexp.MustCompile(`[^a-z0-9/_-]`)
	disallowedIdentChars = regexp.MustCompile(`[^A-Za-z0-9.:_-]`)
)

// NormalizePath folds case, collapses repeated slashes, trims leading and
// trailing slashes and replaces anything outside [a-z0-9/_-] with '_', so
// "/Auth//Login/" and "/auth/login" share one counter.
func NormalizePath(path string) string {
	path = strings.ToLower(path)
	path = repeatedSlashes.ReplaceAllString(path, "/")
	path = strings.Trim(path, "/")
	return disallowedPathChars.ReplaceAllString(path, "_")
}

// BuildKey composes prefix:class:identifier:normalizedPath.
func BuildKey(prefix, class, identifier, path string) string {
	return prefix + ":" + class + ":" + sanitizeIdentifier(identifier) + ":" + NormalizePath(path)
}

// Identifiers come from client-controlled headers; keep them out of the glob
// and separator alphabet of other keys.
func sanitizeIdentifier(id string) string {
	id = disallowedIdentChars.ReplaceAllString(strings.TrimSpace(id), "_")
	if len(id) > maxIdentifierLength {
		id = id[:maxIdentifierLength]
	}
	return id
}
