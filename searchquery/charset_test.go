package searchquery

import (
	"errors"
	"testing"
)

func TestConvertCharset(t *testing.T) {
	check := func(text, from, to, exp string) {
		t.Helper()
		s, err := ConvertCharset(text, from, to)
		tcheckf(t, err, "convert %q from %s to %s", text, from, to)
		tcompare(t, s, exp)
	}
	checkErr := func(text, from, to string) {
		t.Helper()
		_, err := ConvertCharset(text, from, to)
		if !errors.Is(err, ErrCharset) {
			t.Fatalf("convert %q from %s to %s: got err %v, expected ErrCharset", text, from, to, err)
		}
	}

	check("café", "UTF-8", "ISO-8859-1", "caf\xe9")
	check("caf\xe9", "iso-8859-1", "utf-8", "café")
	check("plain", "US-ASCII", "UTF-8", "plain")
	check("plain", "UTF-8", "US-ASCII", "plain")
	check("same", "KOI8-R", "koi8-r", "same")
	check("\xa4", "ISO-8859-15", "UTF-8", "€")

	checkErr("日本", "UTF-8", "ISO-8859-1")
	checkErr("café", "UTF-8", "US-ASCII")
	checkErr("caf\xe9", "US-ASCII", "UTF-8")
	checkErr("caf\xe9", "UTF-8", "ISO-8859-1")
	checkErr("x", "UTF-8", "no-such-charset")
	checkErr("x", "no-such-charset", "UTF-8")
}

func TestSetCharset(t *testing.T) {
	q := New()
	tcompare(t, q.Charset(), "US-ASCII")

	// Without reencoder only the charset changes.
	tcheckf(t, q.SetCharset("utf-8", nil), "set charset")
	tcompare(t, q.Charset(), "UTF-8")

	q.HeaderText("Subject", "café", false)
	q.Text("né", true, false)
	tcheckf(t, q.SetCharset("iso-8859-1", ConvertCharset), "set charset")
	tcompare(t, q.Charset(), "ISO-8859-1")

	c, err := q.Build(CapSet{})
	tcheckf(t, err, "build")
	tcompare(t, c.Charset, "ISO-8859-1")
	tcompare(t, c.Tokens, toks(bare("SUBJECT"), astring("caf\xe9"), bare("BODY"), astring("n\xe9")))

	// And back.
	tcheckf(t, q.SetCharset("UTF-8", ConvertCharset), "set charset")
	c, err = q.Build(CapSet{})
	tcheckf(t, err, "build")
	tcompare(t, c.Tokens, toks(bare("SUBJECT"), astring("café"), bare("BODY"), astring("né")))

	// A failed conversion leaves the query unchanged.
	q.Text("日本", false, false)
	before, err := q.MarshalBinary()
	tcheckf(t, err, "marshal")
	err = q.SetCharset("ISO-8859-1", ConvertCharset)
	if !errors.Is(err, ErrCharset) {
		t.Fatalf("got err %v, expected ErrCharset", err)
	}
	tcompare(t, q.Charset(), "UTF-8")
	after, err := q.MarshalBinary()
	tcheckf(t, err, "marshal")
	tcompare(t, string(after), string(before))

	// Reencoder is called with the previous charset, US-ASCII if none was set.
	q = New()
	q.Text("x", false, false)
	var from, to string
	err = q.SetCharset("utf-8", func(text, f, tt string) (string, error) {
		from, to = f, tt
		return text + "!", nil
	})
	tcheckf(t, err, "set charset")
	tcompare(t, []string{from, to}, []string{"US-ASCII", "UTF-8"})
	c, err = q.Build(CapSet{})
	tcheckf(t, err, "build")
	tcompare(t, c.Tokens, toks(bare("TEXT"), astring("x!")))
}
