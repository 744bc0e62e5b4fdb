// Package sanitize validates and normalizes externally supplied target
// strings before they reach filesystem paths or run identifiers.
package sanitize

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	domainRe = regexp.MustCompile(`^(?:[a-zA-Z0-9](?:[a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)
	ipv4Re   = regexp.MustCompile(`^(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)$`)
	unsafeRe = regexp.MustCompile(`[^\w\-.]`)
)

// maxFilenameLen keeps sanitized names well under common filesystem limits.
const maxFilenameLen = 200

// Filename strips path separators and characters that are unsafe in file
// names, truncating the result to a filesystem-friendly length.
func Filename(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = unsafeRe.ReplaceAllString(name, "_")
	if len(name) > maxFilenameLen {
		name = name[:maxFilenameLen]
	}
	return name
}

// Domain normalizes a target to a bare lowercase domain or IPv4 address.
// URLs are reduced to their host; ports are stripped. The second return
// value is false when the input is not a valid domain or address.
func Domain(target string) (string, bool) {
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return "", false
		}
		if u.Host != "" {
			target = u.Host
		} else {
			target = u.Path
		}
	}

	// Drop a port suffix if present.
	if i := strings.IndexByte(target, ':'); i >= 0 {
		target = target[:i]
	}

	if domainRe.MatchString(target) {
		return strings.ToLower(target), true
	}
	if ipv4Re.MatchString(target) {
		return target, true
	}
	return "", false
}

// RunToken converts a target into the token embedded in run identifiers:
// dots become underscores, anything unsafe is removed.
func RunToken(target string) string {
	return Filename(strings.ReplaceAll(target, ".", "_"))
}
