// Package identifier validates and sanitizes table, index, and column names
// before they are ever concatenated into generated SQL or Cypher text. It is
// the one place in the module where a raw string is allowed to become part
// of a statement body rather than a bound parameter (spec.md §4.1, invariant
// 3 in spec.md §3).
package identifier

import (
	"regexp"
	"strings"

	storeerrors "github.com/polystore-io/polystore/pkg/errors"
)

const maxLength = 128

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reserved holds SQL keywords that must never pass validation even when they
// otherwise match namePattern. Case-insensitive.
var reserved = map[string]struct{}{
	"select": {}, "from": {}, "where": {}, "insert": {}, "update": {}, "delete": {},
	"drop": {}, "table": {}, "index": {}, "create": {}, "alter": {}, "join": {},
	"union": {}, "group": {}, "order": {}, "by": {}, "having": {}, "limit": {},
	"offset": {}, "and": {}, "or": {}, "not": {}, "null": {}, "true": {}, "false": {},
	"into": {}, "values": {}, "set": {}, "grant": {}, "revoke": {}, "exec": {},
	"execute": {}, "primary": {}, "key": {}, "foreign": {}, "references": {},
}

// Validate fails with InvalidValue if name is empty after trimming, exceeds
// maxLength, violates namePattern, or matches a reserved keyword
// case-insensitively.
func Validate(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return storeerrors.InvalidValue("identifier is empty").WithContext("name", name)
	}
	if len(trimmed) > maxLength {
		return storeerrors.InvalidValue("identifier exceeds maximum length").
			WithContext("name", name).WithContext("max_length", maxLength)
	}
	if !namePattern.MatchString(trimmed) {
		return storeerrors.InvalidValue("identifier contains invalid characters").
			WithContext("name", name)
	}
	if _, isReserved := reserved[strings.ToLower(trimmed)]; isReserved {
		return storeerrors.InvalidValue("identifier is a reserved keyword").
			WithContext("name", name)
	}
	return nil
}

// Sanitize returns a best-effort conforming form of name: invalid characters
// become underscores, a leading digit or reserved keyword is prefixed with
// "table_", and the result is truncated to maxLength.
func Sanitize(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		trimmed = "_"
	}

	var b strings.Builder
	for _, r := range trimmed {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	sanitized := b.String()

	needsPrefix := false
	if len(sanitized) > 0 && sanitized[0] >= '0' && sanitized[0] <= '9' {
		needsPrefix = true
	}
	if _, isReserved := reserved[strings.ToLower(sanitized)]; isReserved {
		needsPrefix = true
	}
	if needsPrefix {
		sanitized = "table_" + sanitized
	}

	if len(sanitized) > maxLength {
		sanitized = sanitized[:maxLength]
	}
	return sanitized
}
