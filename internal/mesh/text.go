package mesh

import (
	"strings"
	"unicode/utf8"
)

// DecodeText converts a raw payload to valid UTF-8, substituting the
// replacement rune for undecodable bytes. Mirrors a lenient text decode so
// a mangled frame still yields something routable.
func DecodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}
