// Package urlsplit implements the URL-splitting helper of spec §6:
// [scheme://]host[:port][/path] -> (scheme, host, port, path, useSSL).
// It is an external collaborator per §1 ("out of scope... specified only
// at their interface"), implemented here so Download and redirect
// handling have something concrete to call.
//
// Grounded on original_source/minihttp.cpp's SplitURI (colon-before-
// first-slash scheme sniff, default ports, default path "/") and on
// internal/strutil/url.go / http/url/query.go's decode-helper style for
// the package shape.
package urlsplit

import (
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// Split is the result of splitting a URL, mirroring SplitURI's out
// parameters.
type Split struct {
	Scheme string
	Host   string
	Port   uint16
	Path   string
	UseSSL bool
}

// SplitURL parses [scheme://]host[:port][/path]. Missing scheme defaults to
// http; missing port defaults to 80/443; missing path defaults to "/".
// Fragments are not stripped, per §6's documented limitation.
func SplitURL(raw string) (Split, bool) {
	var s Split

	rest := raw
	if idx := strings.Index(raw, "//"); idx != -1 {
		colon := strings.IndexByte(raw, ':')
		slash := strings.IndexByte(raw, '/')

		if colon == -1 || (slash != -1 && colon > slash) {
			return Split{}, false
		}

		scheme := raw[:colon]
		switch scheme {
		case "http":
			s.Port = 80
		case "https":
			s.Port = 443
			s.UseSSL = true
		default:
			return Split{}, false
		}

		s.Scheme = scheme
		rest = raw[idx+2:]
	} else {
		s.Scheme = "http"
		s.Port = 80
	}

	host, path := rest, "/"
	if slash := strings.IndexByte(rest, '/'); slash != -1 {
		host, path = rest[:slash], rest[slash:]
	}

	if colon := strings.IndexByte(host, ':'); colon != -1 {
		portStr := host[colon+1:]
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return Split{}, false
		}

		s.Port = uint16(port)
		host = host[:colon]
	}

	if host == "" {
		return Split{}, false
	}

	normalized, err := idna.Lookup.ToASCII(host)
	if err == nil {
		host = normalized
	}

	s.Host = host
	s.Path = path

	return s, true
}

// ResolveLocation resolves a redirect's Location header against the
// current endpoint: an absolute Location (carrying its own scheme) is
// split independently; a relative Location (starting with "/") reuses the
// current host/port/scheme, per §4.4's redirect rule.
func ResolveLocation(location string, current Split) (Split, bool) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return SplitURL(location)
	}

	path := location
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	next := current
	next.Path = path

	return next, true
}
