package probe

import (
	"errors"
	"net"
	"net/url"
	"strings"
	"unicode/utf8"
)

var errKeywordNotUTF8 = errors.New("keyword is not valid utf-8 once decoded")

func normalizeURL(s string) string {
	t := strings.TrimSpace(s)
	if t == "" {
		return t
	}
	if strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://") {
		return t
	}
	return "http://" + t
}

// hostOnly strips an optional scheme, port and path so a pinger gets a bare host.
func hostOnly(s string) string {
	t := strings.TrimSpace(s)
	if strings.Contains(t, "://") {
		if u, err := url.Parse(t); err == nil {
			return u.Hostname()
		}
	}
	if i := strings.IndexByte(t, '/'); i >= 0 {
		t = t[:i]
	}
	if h, _, err := net.SplitHostPort(t); err == nil {
		return h
	}
	return t
}

// escapeComponent percent-encodes everything outside the URI component
// unreserved set (A-Z a-z 0-9 - _ . ! ~ * ' ( )).
func escapeComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()", c) >= 0
}

// keywordURL appends the keyword to base after normalizing its encoding, so
// both "a b" and "a%20b" become "a%20b".
func keywordURL(base, keyword string) (string, error) {
	decoded, err := url.PathUnescape(keyword)
	if err != nil {
		return "", err
	}
	if !utf8.ValidString(decoded) {
		return "", errKeywordNotUTF8
	}
	return base + escapeComponent(decoded), nil
}
