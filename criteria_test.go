package main

import (
	"testing"

	"github.com/imapsearch/imapsearch/imapwire"
	"github.com/imapsearch/imapsearch/searchquery"
)

func TestParseCriteria(t *testing.T) {
	check := func(caps searchquery.Capabilities, exp string, words ...string) {
		t.Helper()
		q, err := parseCriteria(words)
		if err != nil {
			t.Fatalf("parsing %q: %v", words, err)
		}
		c, err := q.Build(caps)
		if err != nil {
			t.Fatalf("building %q: %v", words, err)
		}
		if got := imapwire.Program(c, imapwire.Opts{}); got != exp {
			t.Fatalf("criteria %q: got %q, expected %q", words, got, exp)
		}
	}
	none := searchquery.CapSet{}
	all := searchquery.AllCapabilities

	check(none, "UNSEEN FROM alice", "unseen", "from=alice")
	check(none, "UNFLAGGED", "not:flagged")
	check(none, "SEEN", "not:unseen")
	check(none, "NOT RECENT", "not:recent")
	check(none, "KEYWORD WORK", "keyword=Work")
	check(none, "UNKEYWORD $JUNK", "not:keyword=$Junk")
	check(none, "NEW", "unseen", "new")
	check(none, "HEADER X-SPAM yes", "header:X-Spam=yes")
	check(none, `NOT BODY "hello world"`, "not:body=hello world")
	check(none, "TEXT invoice", "text=invoice")
	check(none, "LARGER 1000 SMALLER 5000", "smaller=5000", "larger=1000")
	check(none, "UID 1,5:7", "uid=1,5:7")
	check(none, "1:*", "seq=")
	check(none, "NOT UID 3", "not:uid=3")
	check(none, "SINCE 31-Jan-2024", "since=2024-01-31")
	check(none, "SENTBEFORE 31-Jan-2024", "sentbefore=31-Jan-2024")
	check(searchquery.NewCapSet("WITHIN"), "OLDER 129600", "older=36h")
	check(searchquery.NewCapSet("WITHIN"), "NOT YOUNGER 60", "not:younger=60")
	check(all, `MODSEQ "/flags/\\draft" priv 5`, `modseq=5,/flags/\draft,priv`)
	check(all, "MODSEQ 7", "modseq=7")
	check(all, "FUZZY NOT SUBJECT x", "fuzzy:not:subject=x")
	check(all, "$", "prev")
	check(none, "OR (DELETED) OR (FLAGGED) SEEN", "seen", "or", "flagged", "OR", "deleted")
	check(none, "OR (DELETED) SEEN FLAGGED", "seen", "flagged", "or", "deleted")
}

func TestParseCriteriaErrors(t *testing.T) {
	check := func(words ...string) {
		t.Helper()
		if _, err := parseCriteria(words); err == nil {
			t.Fatalf("parsing %q: expected error", words)
		}
	}

	check("or", "seen")
	check("seen", "or")
	check("seen", "or", "or", "flagged")
	check("bogus")
	check("seen=1")
	check("from")
	check("keyword=")
	check(`keyword=\`)
	check("larger=x")
	check("larger=-1")
	check("uid=0")
	check("uid=1:100000")
	check("not:new")
	check("before=31/01/2024")
	check("older=soon")
	check("modseq=x")
	check("modseq=1,name,other")
	check("header:=x")
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs("3,1:2,9:7")
	if err != nil {
		t.Fatalf("parse ids: %v", err)
	}
	if searchquery.FormatSequence(ids) != "1:3,7:9" {
		t.Fatalf("unexpected ids %v", ids)
	}
}
