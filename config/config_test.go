package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/imapsearch/imapsearch/mlog"
)

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func TestDescribeParse(t *testing.T) {
	var b bytes.Buffer
	tcheck(t, Describe(&b), "describe")
	if !strings.Contains(b.String(), "# Directory where the query cache is stored.") {
		t.Fatalf("missing documentation in described config:\n%s", b.String())
	}

	// The example must be valid.
	p := filepath.Join(t.TempDir(), "imapsearch.conf")
	tcheck(t, os.WriteFile(p, b.Bytes(), 0660), "write config")
	c, err := ParseFile(p)
	tcheck(t, err, "parse described config")
	if !reflect.DeepEqual(c.Static, Example) {
		t.Fatalf("got %#v, expected %#v", c.Static, Example)
	}
	if c.Log[""] != mlog.LevelInfo || c.Log["querycache"] != mlog.LevelDebug {
		t.Fatalf("unexpected log levels %v", c.Log)
	}
	if c.DataDirPath("querycache.db") != filepath.Join(filepath.Dir(p), "data", "querycache.db") {
		t.Fatalf("unexpected data dir path %q", c.DataDirPath("querycache.db"))
	}
	if !c.CapSet().Has("within") || !c.LiteralPlus() || c.CapSet().Has("SEARCHRES") {
		t.Fatalf("unexpected capabilities %v", c.CapSet().List())
	}
}

func TestParse(t *testing.T) {
	const conf = "DataDir: /var/lib/imapsearch\nLogLevel: debug\n"
	c, err := Parse(strings.NewReader(conf), "/etc/imapsearch.conf")
	tcheck(t, err, "parse")
	if c.DataDirPath("x") != "/var/lib/imapsearch/x" {
		t.Fatalf("unexpected data dir path %q", c.DataDirPath("x"))
	}
	if c.LiteralPlus() || len(c.CapSet()) != 0 {
		t.Fatalf("unexpected capabilities")
	}

	_, err = ParseFile(filepath.Join(t.TempDir(), "absent.conf"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("got err %v, expected not exist", err)
	}
}

func TestParseErrors(t *testing.T) {
	check := func(conf, exp string) {
		t.Helper()
		_, err := Parse(strings.NewReader(conf), "test.conf")
		if err == nil || !strings.Contains(err.Error(), exp) {
			t.Fatalf("got err %v, expected error containing %q", err, exp)
		}
	}

	check("DataDir: data\nLogLevel: loud\n", `invalid log level "loud"`)
	check("DataDir: data\nLogLevel: info\nPackageLogLevels:\n\tquerycache: verbose\n", `invalid package log level "verbose"`)
	check("DataDir: data\nLogLevel: info\nCharset: no-such-charset\n", `charset "no-such-charset"`)
	check("DataDir: data\nLogLevel: info\nBogus: 1\n", "parsing test.conf")
	check("LogLevel: info\n", "parsing test.conf")
}
