package searchquery

import (
	"errors"
	"log/slog"
	"time"

	"github.com/imapsearch/imapsearch/metrics"
	"github.com/imapsearch/imapsearch/mlog"
)

var xlog = mlog.New("searchquery", nil)

var timeNow = time.Now // Tests override this.

// Kind is the type of a Token.
type Kind uint8

const (
	KindBare     Kind = iota // Command word or date, written as is.
	KindAtom                 // IMAP atom, e.g. a keyword.
	KindAString              // Atom or string, depending on content.
	KindString               // Quoted string or literal.
	KindNumber               // Decimal number, in Number.
	KindSequence             // Sequence set, written as is.
	KindList                 // Tokens in List, written in parentheses.
)

// Token is an element of a compiled search program.
type Token struct {
	Kind   Kind
	Text   string  // For all kinds except KindNumber and KindList.
	Number uint64  // For KindNumber.
	List   []Token // For KindList.
}

func bare(s string) Token       { return Token{Kind: KindBare, Text: s} }
func atom(s string) Token       { return Token{Kind: KindAtom, Text: s} }
func astring(s string) Token    { return Token{Kind: KindAString, Text: s} }
func stringx(s string) Token    { return Token{Kind: KindString, Text: s} }
func number(v uint64) Token     { return Token{Kind: KindNumber, Number: v} }
func sequence(s string) Token   { return Token{Kind: KindSequence, Text: s} }
func list(tokens []Token) Token { return Token{Kind: KindList, List: tokens} }

// Compiled is a search program ready for a SEARCH command.
type Compiled struct {
	Charset    string   // Charset of strings in the program, DefaultCharset if not set.
	Extensions []string // Extensions needed for the program, in order of first use.
	IMAP4      bool     // Whether IMAP4 (not IMAP2) search keys are used.
	Tokens     []Token
}

// HasStrings returns whether the program contains string tokens, for which the
// charset is relevant.
func (c Compiled) HasStrings() bool {
	return hasStrings(c.Tokens)
}

func hasStrings(l []Token) bool {
	for _, t := range l {
		switch t.Kind {
		case KindAString, KindString:
			return true
		case KindList:
			if hasStrings(t.List) {
				return true
			}
		}
	}
	return false
}

// builder holds state while building a single query. A new builder is used
// for each (nested) query.
type builder struct {
	caps  Capabilities
	cmds  []Token
	exts  []string
	imap4 bool
}

// Build compiles the query into a search program for a server with capabilities
// caps. An *ExtensionError is returned if a criterium needs an extension the
// server doesn't have. Build does not change q.
func (q *Query) Build(caps Capabilities) (Compiled, error) {
	if caps == nil {
		caps = CapSet{}
	}
	c, err := q.build(caps)
	var extErr *ExtensionError
	if errors.As(err, &extErr) {
		metrics.BuildInc("unsupported")
		xlog.Debug("search criteria need unsupported extension", slog.String("extension", extErr.Extension))
		return Compiled{}, err
	} else if err != nil {
		metrics.BuildInc("error")
		return Compiled{}, err
	}
	metrics.BuildInc("ok")
	for _, ext := range c.Extensions {
		metrics.ExtensionInc(ext)
	}
	return c, nil
}

func (q *Query) build(caps Capabilities) (Compiled, error) {
	b := &builder{caps: caps}
	if err := b.query(q); err != nil {
		return Compiled{}, err
	}
	exts := b.exts
	if exts == nil {
		exts = []string{}
	}
	return Compiled{q.Charset(), exts, b.imap4, b.cmds}, nil
}

func (b *builder) add(tokens ...Token) {
	b.cmds = append(b.cmds, tokens...)
}

func (b *builder) use(ext string) {
	for _, e := range b.exts {
		if e == ext {
			return
		}
	}
	b.exts = append(b.exts, ext)
}

func (b *builder) require(ext string) error {
	if !b.caps.Has(ext) {
		return &ExtensionError{ext}
	}
	b.use(ext)
	b.imap4 = true
	return nil
}

// fuzzy adds the FUZZY modifier for the next search key.
func (b *builder) fuzzy(fuzzy bool) error {
	if !fuzzy {
		return nil
	}
	if err := b.require("SEARCH=FUZZY"); err != nil {
		return err
	}
	b.add(bare("FUZZY"))
	return nil
}

// not adds NOT for the next search key. NOT was not in IMAP2.
func (b *builder) not(not bool) {
	if not {
		b.add(bare("NOT"))
		b.imap4 = true
	}
}

func (b *builder) query(q *Query) error {
	k := &q.keys

	if k.New != nil {
		if err := b.fuzzy(k.New.Fuzzy); err != nil {
			return err
		}
		if k.New.New {
			b.add(bare("NEW"))
		} else {
			b.add(bare("OLD"))
		}
	}

	for _, f := range k.Flags {
		// Flags may have been added after NewMessages.
		if k.New != nil && impliedByNew(f, k.New.New) {
			continue
		}
		if f.Name == "DRAFT" {
			// DRAFT was not in IMAP2.
			b.imap4 = true
		}
		if err := b.fuzzy(f.Fuzzy); err != nil {
			return err
		}
		var prefix string
		if !f.Set {
			// All system flags except \Recent have an UN-variant.
			if f.Name == "RECENT" {
				b.not(true)
			} else {
				prefix = "UN"
			}
		}
		if f.Keyword {
			b.add(bare(prefix+"KEYWORD"), atom(f.Name))
		} else {
			b.add(bare(prefix + f.Name))
		}
	}

	for _, h := range k.Headers {
		if err := b.fuzzy(h.Fuzzy); err != nil {
			return err
		}
		b.not(h.Not)
		if systemHeaders[h.Header] {
			b.add(bare(h.Header))
		} else {
			// HEADER was not in IMAP2.
			b.add(bare("HEADER"), astring(h.Header))
			b.imap4 = true
		}
		b.add(astring(string(h.Text)))
	}

	for _, t := range k.Texts {
		if err := b.fuzzy(t.Fuzzy); err != nil {
			return err
		}
		b.not(t.Not)
		if t.BodyOnly {
			b.add(bare("BODY"))
		} else {
			b.add(bare("TEXT"))
		}
		b.add(astring(string(t.Text)))
	}

	for _, s := range []struct {
		name string
		key  *sizeKey
	}{{"LARGER", k.Larger}, {"SMALLER", k.Smaller}} {
		if s.key == nil {
			continue
		}
		if err := b.fuzzy(s.key.Fuzzy); err != nil {
			return err
		}
		if s.key.Not {
			b.add(bare("NOT"))
		}
		b.add(bare(s.name), number(uint64(s.key.Size)))
		// LARGER and SMALLER were not in IMAP2.
		b.imap4 = true
	}

	if ids := k.IDs; ids != nil {
		if err := b.fuzzy(ids.Fuzzy); err != nil {
			return err
		}
		if ids.Not {
			b.add(bare("NOT"))
		}
		if !ids.SeqNums {
			b.add(bare("UID"))
		}
		b.add(sequence(ids.Set))
		b.imap4 = true
	}

	for _, d := range []struct {
		header bool
		key    *dateKey
	}{{true, k.HeaderDate}, {false, k.InternalDate}} {
		if d.key == nil {
			continue
		}
		if err := b.fuzzy(d.key.Fuzzy); err != nil {
			return err
		}
		b.not(d.key.Not)
		if d.header {
			// SENT* was not in IMAP2.
			b.add(bare("SENT" + string(d.key.Range)))
			b.imap4 = true
		} else {
			b.add(bare(string(d.key.Range)))
		}
		b.add(bare(d.key.Date))
	}

	if k.Older != nil || k.Younger != nil {
		within := b.caps.Has("WITHIN")
		if within {
			b.use("WITHIN")
			b.imap4 = true
		}
		for _, iv := range []struct {
			dir IntervalDirection
			key *intervalKey
		}{{IntervalOlder, k.Older}, {IntervalYounger, k.Younger}} {
			if iv.key == nil {
				continue
			}
			if err := b.fuzzy(iv.key.Fuzzy); err != nil {
				return err
			}
			if within {
				if iv.key.Not {
					b.add(bare("NOT"))
				}
				b.add(bare(string(iv.dir)), number(uint64(iv.key.Seconds)))
				continue
			}

			// Without WITHIN, we can only search with a granularity of days.
			b.not(iv.key.Not)
			date := timeNow().Add(-time.Duration(iv.key.Seconds) * time.Second)
			if iv.dir == IntervalOlder {
				b.add(bare(string(DateBefore)))
			} else {
				b.add(bare(string(DateSince)))
			}
			b.add(bare(date.Format(DateLayout)))
			metrics.WithinFallbackInc()
			xlog.Debug("server lacks within, searching by date", slog.String("direction", string(iv.dir)), slog.Int64("seconds", iv.key.Seconds))
		}
	}

	if ms := k.ModSeq; ms != nil {
		if err := b.require("CONDSTORE"); err != nil {
			return err
		}
		if err := b.fuzzy(ms.Fuzzy); err != nil {
			return err
		}
		if ms.Not {
			b.add(bare("NOT"))
		}
		b.add(bare("MODSEQ"))
		if ms.Name != "" {
			b.add(stringx(ms.Name), bare(string(ms.Type)))
		}
		b.add(number(ms.Value))
	}

	if ps := k.PrevSearch; ps != nil {
		if err := b.require("SEARCHRES"); err != nil {
			return err
		}
		if err := b.fuzzy(ps.Fuzzy); err != nil {
			return err
		}
		if ps.Not {
			b.add(bare("NOT"))
		}
		b.add(bare("$"))
	}

	for _, sq := range q.and {
		c, err := b.sub(sq)
		if err != nil {
			return err
		}
		b.add(c.Tokens...)
	}

	for _, sq := range q.or {
		// OR was not in IMAP2.
		b.imap4 = true
		c, err := b.sub(sq)
		if err != nil {
			return err
		}
		if len(b.cmds) == 0 {
			b.cmds = append([]Token{}, c.Tokens...)
		} else {
			// Earlier criteria follow unparenthesized.
			b.cmds = append([]Token{bare("OR"), list(c.Tokens)}, b.cmds...)
		}
	}

	if len(b.cmds) == 0 {
		b.add(bare("ALL"))
	}
	return nil
}

// sub builds a combined query with the same capabilities, merging its
// extensions and IMAP4 marker.
func (b *builder) sub(q *Query) (Compiled, error) {
	c, err := q.build(b.caps)
	if err != nil {
		return Compiled{}, err
	}
	for _, ext := range c.Extensions {
		b.use(ext)
	}
	b.imap4 = b.imap4 || c.IMAP4
	return c, nil
}
