// Package imapwire writes search programs as IMAP SEARCH command text.
package imapwire

import (
	"fmt"
	"strings"

	"github.com/imapsearch/imapsearch/searchquery"
)

// Capability is a capability name as found in CAPABILITY responses. Always in
// upper case.
type Capability string

const (
	CapIMAP4rev1   Capability = "IMAP4REV1"    // ../rfc/3501:1310
	CapIMAP4rev2   Capability = "IMAP4REV2"    // ../rfc/9051:1219
	CapLiteralPlus Capability = "LITERAL+"     // ../rfc/2088:45
	CapEsearch     Capability = "ESEARCH"      // ../rfc/4731:69
	CapUTF8Accept  Capability = "UTF8=ACCEPT"  // ../rfc/6855
	CapWithin      Capability = "WITHIN"       // ../rfc/5032
	CapCondstore   Capability = "CONDSTORE"    // ../rfc/7162:411
	CapSearchRes   Capability = "SEARCHRES"    // ../rfc/5182
	CapSearchFuzzy Capability = "SEARCH=FUZZY" // ../rfc/6203
)

// ParseCapabilities returns the capabilities in a CAPABILITY response line,
// e.g. "* CAPABILITY IMAP4rev1 WITHIN", or in a CAPABILITY response code, e.g.
// "* OK [CAPABILITY IMAP4rev1 LITERAL+] ready". A bare list of names is
// accepted too.
func ParseCapabilities(line string) searchquery.CapSet {
	line = strings.TrimRight(line, "\r\n")
	if i := strings.Index(strings.ToUpper(line), "[CAPABILITY "); i >= 0 {
		line = line[i+1:]
		if j := strings.IndexByte(line, ']'); j >= 0 {
			line = line[:j]
		}
	}
	words := strings.Fields(line)
	if len(words) > 0 && words[0] == "*" {
		words = words[1:]
	}
	if len(words) > 0 && strings.EqualFold(words[0], "CAPABILITY") {
		words = words[1:]
	}
	return searchquery.NewCapSet(words...)
}

// Opts influences how strings are written.
type Opts struct {
	// Write non-synchronizing literals, {n+}, for servers with LITERAL+.
	LiteralPlus bool
}

// SearchCommand returns a full command line, including CRLF, for the program.
// CHARSET is only included for charsets other than US-ASCII.
func SearchCommand(tag string, uid bool, c searchquery.Compiled, opts Opts) string {
	var b strings.Builder
	b.WriteString(tag)
	b.WriteString(" ")
	if uid {
		b.WriteString("UID ")
	}
	b.WriteString("SEARCH ")
	if c.Charset != "" && !strings.EqualFold(c.Charset, searchquery.DefaultCharset) {
		b.WriteString("CHARSET ")
		b.WriteString(astring(c.Charset, opts))
		b.WriteString(" ")
	}
	b.WriteString(Program(c, opts))
	b.WriteString("\r\n")
	return b.String()
}

// Program returns the tokens of the program separated by spaces. Strings that
// cannot be quoted are written as literals, so the result can contain CRLF.
func Program(c searchquery.Compiled, opts Opts) string {
	return tokens(c.Tokens, opts)
}

func tokens(l []searchquery.Token, opts Opts) string {
	var b strings.Builder
	for i, t := range l {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(token(t, opts))
	}
	return b.String()
}

func token(t searchquery.Token, opts Opts) string {
	switch t.Kind {
	case searchquery.KindBare, searchquery.KindSequence:
		return t.Text
	case searchquery.KindAtom, searchquery.KindAString:
		return astring(t.Text, opts)
	case searchquery.KindString:
		return stringx(t.Text, opts)
	case searchquery.KindNumber:
		return fmt.Sprintf("%d", t.Number)
	case searchquery.KindList:
		return "(" + tokens(t.List, opts) + ")"
	}
	panic(fmt.Sprintf("unknown token kind %d", t.Kind))
}

// atom or string.
func astring(s string, opts Opts) string {
	if len(s) == 0 {
		return stringx(s, opts)
	}
	for _, c := range s {
		if c <= ' ' || c >= 0x7f || c == '(' || c == ')' || c == '{' || c == '%' || c == '*' || c == '"' || c == '\\' {
			return stringx(s, opts)
		}
	}
	return s
}

// imap "string", i.e. double-quoted string or literal. Quoted strings can only
// hold 7-bit text without CR, LF and NUL.
func stringx(s string, opts Opts) string {
	r := `"`
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\x00' || c == '\r' || c == '\n' || c >= 0x80 {
			return literal(s, opts)
		}
		if c == '\\' || c == '"' {
			r += `\`
		}
		r += string(c)
	}
	r += `"`
	return r
}

// literal, i.e. {<num>}\r\n<num bytes>, or {<num>+}\r\n<num bytes> with
// LITERAL+.
func literal(s string, opts Opts) string {
	if opts.LiteralPlus {
		return fmt.Sprintf("{%d+}\r\n", len(s)) + s
	}
	return fmt.Sprintf("{%d}\r\n", len(s)) + s
}
