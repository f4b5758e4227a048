// Package textnorm implements the canonicalisation pipeline applied to
// every header and body string before it reaches MIME parsing, body
// extraction, or chunking (spec.md section 4.2).
package textnorm

import (
	"mime"
	"mime/quotedprintable"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	foldRE     = regexp.MustCompile(`\r?\n[ \t]+`)
	crlfRE     = regexp.MustCompile(`\r\n|\r`)
	blankRunRE = regexp.MustCompile(`\n{3,}`)
)

// CanonicaliseNewlines converts CRLF and bare CR into LF, and collapses
// runs of 3+ newlines down to 2, leaving at most one blank line (spec.md
// section 4.2 step 1).
func CanonicaliseNewlines(s string) string {
	s = crlfRE.ReplaceAllString(s, "\n")
	return blankRunRE.ReplaceAllString(s, "\n\n")
}

// doubleEncodedRE matches the mojibake artifact left when a 2-byte UTF-8
// sequence (lead byte 0xC0-0xC3) is mistaken for Latin-1 and re-encoded as
// UTF-8: each original byte is independently re-encoded, producing the
// rune pair U+00C0-U+00C3 followed by U+0080-U+00BF (spec.md section 4.1,
// byte pattern \xC3[\x80-\x83]\xC2[\x80-\xBF]).
var doubleEncodedRE = regexp.MustCompile("[À-Ã][-¿]")

// repairDoubleEncodedUTF8 reconstructs the original 2-byte UTF-8 sequence
// from each match: the match's two runes are themselves the two raw bytes
// of the original (mis-decoded) sequence.
func repairDoubleEncodedUTF8(s string) string {
	return doubleEncodedRE.ReplaceAllStringFunc(s, func(match string) string {
		runes := []rune(match)
		raw := [2]byte{byte(runes[0]), byte(runes[1])}
		r, size := utf8.DecodeRune(raw[:])
		if r == utf8.RuneError && size <= 1 {
			return match
		}
		return string(r)
	})
}

// isNormalizedSpace reports whether r is a Unicode space variant (NBSP,
// figure space, ideographic space, ...) that sanitize_utf8 collapses to an
// ASCII space, distinct from the newline/tab structure canonicalisation
// preserves.
func isNormalizedSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return false
	}
	return unicode.IsSpace(r)
}

// SanitizeUTF8 repairs doubly-encoded UTF-8 sequences, replaces NUL bytes
// and Unicode space variants with ASCII space, and replaces malformed
// byte sequences with "?", so later stages never observe a string that
// fails utf8.ValidString (spec.md section 4.1/4.2 step 2).
func SanitizeUTF8(s string) string {
	s = repairDoubleEncodedUTF8(s)

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			b.WriteByte('?')
			i++
		case r == 0:
			b.WriteByte(' ')
			i += size
		case isNormalizedSpace(r):
			b.WriteByte(' ')
			i += size
		default:
			b.WriteRune(r)
			i += size
		}
	}
	return b.String()
}

// DecodeRFC2047 decodes MIME encoded-word sequences ("=?UTF-8?B?...?=") in
// header values, unfolding any embedded whitespace fold first (spec.md
// section 4.2 step 3). A decode failure returns the input unchanged.
func DecodeRFC2047(s string) string {
	if s == "" {
		return s
	}
	unfolded := foldRE.ReplaceAllString(s, " ")
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(unfolded)
	if err != nil {
		return unfolded
	}
	return decoded
}

// DecodeQuotedPrintable decodes a quoted-printable encoded body part
// (spec.md section 4.2 step 4). A decode error returns the partial result
// accumulated so far, matching the teacher's fail-soft body decoding
// posture.
func DecodeQuotedPrintable(s string) string {
	r := quotedprintable.NewReader(strings.NewReader(s))
	var b strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			b.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return b.String()
}

// DecodeBase64Loose decodes a base64 body part, stripping embedded
// whitespace and newlines first since many MUAs wrap base64 bodies at a
// fixed column (spec.md section 4.2 step 4).
func DecodeBase64Loose(s string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
	return base64Decode(cleaned)
}

// PercentDecode decodes percent-escaped sequences found in RFC 2231
// extended parameter values (e.g. attachment filenames), per spec.md
// section 4.2 step 5. An invalid escape is left as-is.
func PercentDecode(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

// L2Normalize applies Unicode NFC normalization, the final canonicalisation
// step before text reaches storage or embedding (spec.md section 4.2 step
// 6).
func L2Normalize(s string) string {
	return norm.NFC.String(s)
}

// Pipeline runs the full canonicalisation sequence spec.md section 4.2
// defines for a decoded text body: newline canonicalisation, UTF-8
// sanitisation, whitespace collapse, and NFC normalization. RFC2047/
// quoted-printable/base64 decoding happen earlier, during MIME parsing,
// because they require knowledge of the part's Content-Transfer-Encoding.
func Pipeline(s string) string {
	s = CanonicaliseNewlines(s)
	s = SanitizeUTF8(s)
	s = collapseSpaces(s)
	s = L2Normalize(s)
	return strings.TrimSpace(s)
}

var spaceRunRE = regexp.MustCompile(`[ \t]+`)

func collapseSpaces(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(spaceRunRE.ReplaceAllString(line, " "), " ")
	}
	return strings.Join(lines, "\n")
}
