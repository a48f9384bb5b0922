package searchquery

import (
	"errors"
	"testing"
	"time"
)

func TestSerialize(t *testing.T) {
	buf, err := New().MarshalBinary()
	tcheckf(t, err, "marshal")
	tcompare(t, string(buf), `{"Version":1,"Search":{}}`)

	q := New()
	q.Flag(`\Seen`, true)
	buf, err = q.MarshalBinary()
	tcheckf(t, err, "marshal")
	tcompare(t, string(buf), `{"Version":1,"Search":{"Flags":[{"Name":"SEEN","Set":true,"Keyword":false}]}}`)
}

func TestSerializeRoundtrip(t *testing.T) {
	now := time.Date(2024, time.June, 1, 8, 0, 0, 0, time.UTC)
	timeNow = func() time.Time { return now }
	defer func() { timeNow = time.Now }()

	child := New()
	child.Flag("$Forwarded", false, Fuzzy)
	tcheckf(t, child.Size(1024, true, true), "size")
	other := New()
	other.HeaderText("X-Priority", "1", false)
	tcheckf(t, other.ModSeq(12, `/flags/\answered`, EntryPriv, false), "modseq")

	q := New()
	tcheckf(t, q.SetCharset("UTF-8", nil), "set charset")
	q.NewMessages(true)
	q.Flag(`\Flagged`, true)
	q.HeaderText("Subject", "über", true)
	q.Text("hello world", false, false, Fuzzy)
	tcheckf(t, q.Sequence([]uint32{9, 1, 2}, true, false), "sequence")
	tcheckf(t, q.Date(now, DateSince, true, false), "date")
	tcheckf(t, q.Date(now, DateBefore, false, true), "date")
	tcheckf(t, q.Interval(3600, IntervalYounger, false), "interval")
	q.PreviousResult(true)
	q.And(child)
	q.Or(other)

	buf, err := q.MarshalBinary()
	tcheckf(t, err, "marshal")
	nq, err := Unmarshal(buf)
	tcheckf(t, err, "unmarshal")
	nbuf, err := nq.MarshalBinary()
	tcheckf(t, err, "marshal again")
	tcompare(t, string(nbuf), string(buf))
	tcompare(t, nq.Charset(), "UTF-8")

	for _, caps := range []Capabilities{AllCapabilities, NewCapSet("CONDSTORE", "SEARCHRES", "SEARCH=FUZZY")} {
		c, err := q.Build(caps)
		tcheckf(t, err, "build")
		nc, err := nq.Build(caps)
		tcheckf(t, err, "build deserialized")
		tcompare(t, nc, c)
	}

	// Same failure too.
	_, err = q.Build(CapSet{})
	_, nerr := nq.Build(CapSet{})
	tcompare(t, nerr.Error(), err.Error())

	// UnmarshalBinary replaces existing state.
	var xq Query
	xq.Text("gone", false, false)
	tcheckf(t, xq.UnmarshalBinary(buf), "unmarshal")
	xbuf, err := xq.MarshalBinary()
	tcheckf(t, err, "marshal")
	tcompare(t, string(xbuf), string(buf))
}

func TestSerializeRawText(t *testing.T) {
	q := New()
	tcheckf(t, q.SetCharset("UTF-8", nil), "set charset")
	q.Text("café", false, false)
	q.HeaderText("Subject", "grüße", true)
	q.HeaderText("From", "bob", false)
	tcheckf(t, q.SetCharset("ISO-8859-1", ConvertCharset), "set charset")
	tcompare(t, q.keys.Texts[0].Text, rawText("caf\xe9"))
	tcompare(t, q.keys.Headers[0].Text, rawText("gr\xfc\xdfe"))

	buf, err := q.MarshalBinary()
	tcheckf(t, err, "marshal")
	nq, err := Unmarshal(buf)
	tcheckf(t, err, "unmarshal")
	tcompare(t, nq.keys.Texts, q.keys.Texts)
	tcompare(t, nq.keys.Headers, q.keys.Headers)
	nbuf, err := nq.MarshalBinary()
	tcheckf(t, err, "marshal again")
	tcompare(t, string(nbuf), string(buf))

	c, err := q.Build(CapSet{})
	tcheckf(t, err, "build")
	nc, err := nq.Build(CapSet{})
	tcheckf(t, err, "build deserialized")
	tcompare(t, nc, c)
	tcompare(t, nc.Charset, "ISO-8859-1")

	// Valid utf-8 stays a plain string.
	q = New()
	q.Text("café", true, false)
	buf, err = q.MarshalBinary()
	tcheckf(t, err, "marshal")
	tcompare(t, string(buf), `{"Version":1,"Search":{"Texts":[{"Text":"café","BodyOnly":true,"Not":false}]}}`)
}

func TestUnmarshalErrors(t *testing.T) {
	check := func(s string, expErr error) {
		t.Helper()
		_, err := Unmarshal([]byte(s))
		if !errors.Is(err, expErr) {
			t.Fatalf("unmarshal %s: got err %v, expected %v", s, err, expErr)
		}
	}

	check(`{"Version":2,"Search":{}}`, ErrVersionMismatch)
	check(`{"Search":{}}`, ErrVersionMismatch)
	check(`nope`, ErrMalformed)
	check(``, ErrMalformed)
	check(`{"Version":1,"Search":{"Bogus":1}}`, ErrMalformed)
	check(`{"Version":1,"Search":{"Larger":{"Size":-1,"Not":false}}}`, ErrMalformed)
	check(`{"Version":1,"Search":{"Flags":[{"Name":"","Set":true,"Keyword":true}]}}`, ErrMalformed)
	check(`{"Version":1,"Search":{"IDs":{"Set":"","SeqNums":false,"Not":false}}}`, ErrMalformed)
	check(`{"Version":1,"Search":{"InternalDate":{"Date":"01-Jan-2024","Range":"AFTER","Not":false}}}`, ErrMalformed)
	check(`{"Version":1,"Search":{"ModSeq":{"Value":1,"Name":"x","Type":"bad","Not":false}}}`, ErrMalformed)
	check(`{"Version":1,"Search":{"Or":[{"Older":{"Seconds":-5,"Not":false}}]}}`, ErrMalformed)
	// Raw form is only for text that is not utf-8.
	check(`{"Version":1,"Search":{"Texts":[{"Text":{"Raw":"YWJj"},"BodyOnly":true,"Not":false}]}}`, ErrMalformed)
	check(`{"Version":1,"Search":{"Texts":[{"Text":{"Raw":"6Q==","X":1},"BodyOnly":true,"Not":false}]}}`, ErrMalformed)
	check(`{"Version":1,"Search":{"Texts":[{"Text":5,"BodyOnly":true,"Not":false}]}}`, ErrMalformed)
}
