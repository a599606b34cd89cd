// Package request implements the work unit of spec §3 (Request), its POST
// form encoding, and the RequestBuilder of §4.3.
//
// Form percent-encoding is grounded on internal/strutil/url.go's
// URLDecode (inverted here to an encoder) and, for the exact preserved
// charset and '+'-for-space rule, on original_source/minihttp.cpp's
// URLEncode.
package request

import "strings"

// Form is an ordered list of (key, value) pairs, encoded and '&'-joined
// per §3/§6. Order is preserved because servers may be sensitive to it.
type Form struct {
	pairs []formPair
}

type formPair struct {
	key, value string
}

// NewForm returns an empty form, ready for Add calls.
func NewForm() *Form {
	return &Form{}
}

// Add appends a key/value pair, mirroring original_source's POST::add.
func (f *Form) Add(key, value string) *Form {
	f.pairs = append(f.pairs, formPair{key, value})
	return f
}

// Empty reports whether the form has no pairs, used by RequestBuilder to
// decide GET vs. POST per §4.3.
func (f *Form) Empty() bool {
	return f == nil || len(f.pairs) == 0
}

// Encode renders the form as "k1=v1&k2=v2", each key/value percent-encoded
// per §6.
func (f *Form) Encode() string {
	if f.Empty() {
		return ""
	}

	var b strings.Builder
	for i, pair := range f.pairs {
		if i > 0 {
			b.WriteByte('&')
		}

		percentEncode(&b, pair.key)
		b.WriteByte('=')
		percentEncode(&b, pair.value)
	}

	return b.String()
}

const hexDigits = "0123456789abcdef"

// percentEncode preserves [A-Za-z0-9._,-], encodes space as '+', and
// encodes every other byte as %HH (lowercase hex), per §6.
func percentEncode(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case isUnreserved(c):
			b.WriteByte(c)
		case c == ' ':
			b.WriteByte('+')
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0xf])
		}
	}
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '.' || c == '_' || c == ',' || c == '-':
		return true
	default:
		return false
	}
}
