package searchquery

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// Reencoder converts text from one charset to another, as used by SetCharset.
type Reencoder func(text, from, to string) (string, error)

// SetCharset sets the charset of the text in header and text searches. If
// reencode is not nil and the charset changes, existing search texts are
// converted from the previous charset (DefaultCharset if none) with reencode.
// If a conversion fails, the query is left unchanged. Without reencode, the
// caller is responsible for text in existing searches.
func (q *Query) SetCharset(charset string, reencode Reencoder) error {
	ncs := strings.ToUpper(charset)
	if reencode == nil || ncs == q.charset {
		q.charset = ncs
		return nil
	}

	from := q.Charset()
	headers := append([]headerKey{}, q.keys.Headers...)
	for i, h := range headers {
		s, err := reencode(string(h.Text), from, ncs)
		if err != nil {
			return fmt.Errorf("converting search text for header %s: %w", h.Header, err)
		}
		headers[i].Text = rawText(s)
	}
	texts := append([]textKey{}, q.keys.Texts...)
	for i, t := range texts {
		s, err := reencode(string(t.Text), from, ncs)
		if err != nil {
			return fmt.Errorf("converting search text: %w", err)
		}
		texts[i].Text = rawText(s)
	}

	if len(headers) > 0 {
		q.keys.Headers = headers
	}
	if len(texts) > 0 {
		q.keys.Texts = texts
	}
	q.charset = ncs
	return nil
}

// ConvertCharset is a Reencoder for the charsets known to golang.org/x/text.
// ErrCharset is returned for unknown charsets and text that cannot be
// represented in the destination charset without loss.
func ConvertCharset(text, from, to string) (string, error) {
	if strings.EqualFold(from, to) {
		return text, nil
	}

	s, err := decode(text, from)
	if err != nil {
		return "", err
	}
	r, err := encode(s, to)
	if err != nil {
		return "", err
	}
	// Verify the text survives the conversion.
	if back, err := decode(r, to); err != nil || back != s {
		return "", fmt.Errorf("%w: %s", ErrCharset, to)
	}
	return r, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func lookupEncoding(charset string) (encoding.Encoding, error) {
	enc, _ := ianaindex.MIME.Encoding(charset)
	if enc == nil {
		enc, _ = ianaindex.IANA.Encoding(charset)
	}
	if enc == nil {
		return nil, fmt.Errorf("%w: unknown charset %q", ErrCharset, charset)
	}
	return enc, nil
}

// decode converts text in charset to UTF-8.
func decode(text, charset string) (string, error) {
	switch strings.ToLower(charset) {
	case "us-ascii", "ascii":
		if !isASCII(text) {
			return "", fmt.Errorf("%w: 8-bit data in us-ascii text", ErrCharset)
		}
		return text, nil
	case "utf-8", "utf8":
		if !utf8.ValidString(text) {
			return "", fmt.Errorf("%w: invalid utf-8", ErrCharset)
		}
		return text, nil
	}
	enc, err := lookupEncoding(charset)
	if err != nil {
		return "", err
	}
	s, err := enc.NewDecoder().String(text)
	if err != nil {
		return "", fmt.Errorf("%w: decoding %s: %v", ErrCharset, charset, err)
	}
	return s, nil
}

// encode converts UTF-8 text to charset.
func encode(text, charset string) (string, error) {
	switch strings.ToLower(charset) {
	case "us-ascii", "ascii":
		if !isASCII(text) {
			return "", fmt.Errorf("%w: non-ascii text for us-ascii", ErrCharset)
		}
		return text, nil
	case "utf-8", "utf8":
		return text, nil
	}
	enc, err := lookupEncoding(charset)
	if err != nil {
		return "", err
	}
	s, err := enc.NewEncoder().String(text)
	if err != nil {
		return "", fmt.Errorf("%w: encoding %s: %v", ErrCharset, charset, err)
	}
	return s, nil
}
