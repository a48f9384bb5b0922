package imapwire

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/imapsearch/imapsearch/searchquery"
)

func tcheckf(t *testing.T, err error, format string, args ...any) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", fmt.Sprintf(format, args...), err)
	}
}

func tcompare(t *testing.T, a, b any) {
	t.Helper()
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("got:\n%#v\nexpected:\n%#v", a, b)
	}
}

func TestParseCapabilities(t *testing.T) {
	check := func(line string, exp []string) {
		t.Helper()
		tcompare(t, ParseCapabilities(line).List(), exp)
	}

	check("* CAPABILITY IMAP4rev1 WITHIN Search=Fuzzy\r\n", []string{"IMAP4REV1", "SEARCH=FUZZY", "WITHIN"})
	check("capability CONDSTORE", []string{"CONDSTORE"})
	check("* OK [CAPABILITY IMAP4rev2 LITERAL+] mox imap", []string{"IMAP4REV2", "LITERAL+"})
	check("SEARCHRES esearch", []string{"ESEARCH", "SEARCHRES"})
	check("", []string{})
	tcompare(t, ParseCapabilities("* CAPABILITY WITHIN").Has(string(CapWithin)), true)
}

func TestAString(t *testing.T) {
	check := func(s, exp string) {
		t.Helper()
		tcompare(t, astring(s, Opts{}), exp)
	}

	check("hello", "hello")
	check("", `""`)
	check("hello world", `"hello world"`)
	check(`a"b`, `"a\"b"`)
	check(`a\b`, `"a\\b"`)
	check("(x)", `"(x)"`)
	check("a]", "a]")
	check("line\r\nbreak", "{11}\r\nline\r\nbreak")
	check("caf\xe9", "{4}\r\ncaf\xe9")
	check("café", "{5}\r\ncafé")

	tcompare(t, astring("a\nb", Opts{LiteralPlus: true}), "{3+}\r\na\nb")
}

func TestSearchCommand(t *testing.T) {
	q := searchquery.New()
	q.Flag(`\Seen`, false)
	q.HeaderText("Subject", "status report", false)
	q.HeaderText("X-Mailer", "mutt", true)
	err := q.Sequence([]uint32{1, 2, 3, 10}, false, true)
	tcheckf(t, err, "sequence")
	c, err := q.Build(searchquery.CapSet{})
	tcheckf(t, err, "build")
	tcompare(t, SearchCommand("a1", true, c, Opts{}), `a1 UID SEARCH UNSEEN SUBJECT "status report" NOT HEADER X-MAILER mutt NOT UID 1:3,10`+"\r\n")

	q = searchquery.New()
	err = q.SetCharset("utf-8", nil)
	tcheckf(t, err, "charset")
	q.Text("grüße", true, false)
	q.Flag("$Work", true)
	c, err = q.Build(searchquery.CapSet{})
	tcheckf(t, err, "build")
	tcompare(t, SearchCommand("x", false, c, Opts{}), "x SEARCH CHARSET UTF-8 KEYWORD $WORK BODY {7}\r\ngrüße\r\n")
	tcompare(t, SearchCommand("x", false, c, Opts{LiteralPlus: true}), "x SEARCH CHARSET UTF-8 KEYWORD $WORK BODY {7+}\r\ngrüße\r\n")
}

func TestProgram(t *testing.T) {
	a := searchquery.New()
	a.Text("a", true, false)
	b := searchquery.New()
	err := b.Size(1000, true, false)
	tcheckf(t, err, "size")
	err = b.ModSeq(5, `/flags/\draft`, "", false)
	tcheckf(t, err, "modseq")
	q := searchquery.New()
	q.Flag(`\Flagged`, true)
	q.Or(a, b)
	q.PreviousResult(true)
	err = q.Date(time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC), searchquery.DateSince, false, false)
	tcheckf(t, err, "date")

	c, err := q.Build(searchquery.AllCapabilities)
	tcheckf(t, err, "build")
	tcompare(t, Program(c, Opts{}), `OR (LARGER 1000 MODSEQ "/flags/\\draft" all 5) OR (BODY a) FLAGGED SINCE 29-Feb-2024 NOT $`)

	c, err = searchquery.New().Build(nil)
	tcheckf(t, err, "build")
	tcompare(t, Program(c, Opts{}), "ALL")
}
