package parse

import (
	"net"
	"net/url"
	"strings"
)

// NormalizeURL canonicalizes a URL so catalog keys compare equal.
// Scheme and host are lowercased, default ports dropped, a trailing slash
// removed (root stays "/"), and query and fragment stripped. The input is not modified.
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = strings.ToLower(n.Host)

	if host, port, err := net.SplitHostPort(n.Host); err == nil {
		if (n.Scheme == "http" && port == "80") || (n.Scheme == "https" && port == "443") {
			n.Host = host
		}
	}

	switch {
	case n.Path == "":
		n.Path = "/"
	case len(n.Path) > 1 && strings.HasSuffix(n.Path, "/"):
		n.Path = strings.TrimRight(n.Path, "/")
		if n.Path == "" {
			n.Path = "/"
		}
	}
	n.RawPath = ""
	n.Fragment = ""
	n.RawQuery = ""
	n.ForceQuery = false

	return n.String()
}

// ParseAndNormalize parses an absolute URL (scheme required) and normalizes it
func ParseAndNormalize(urlStr string) (string, *url.URL, error) {
	parsed, err := url.ParseRequestURI(strings.TrimSpace(urlStr))
	if err != nil {
		return "", nil, err
	}
	return NormalizeURL(parsed), parsed, nil
}
