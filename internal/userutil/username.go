// Package userutil derives per-user names for pipes, sockets and locks.
package userutil

import (
	"os"
	"os/user"
	"regexp"
	"strings"
)

var invalidUsernameRune = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// lookupCurrentUser is a test seam.
var lookupCurrentUser = user.Current

// SanitizeUsername maps value onto [A-Za-z0-9._-], returning "unknown" for
// blank input.
func SanitizeUsername(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return invalidUsernameRune.ReplaceAllString(value, "_")
}

// CurrentUsername returns the sanitized login name from USERNAME, USER or
// the OS account database, in that order.
func CurrentUsername() string {
	username := strings.TrimSpace(os.Getenv("USERNAME"))
	if username == "" {
		username = strings.TrimSpace(os.Getenv("USER"))
	}
	if username == "" {
		if current, err := lookupCurrentUser(); err == nil {
			username = current.Username
		}
	}
	return SanitizeUsername(username)
}
