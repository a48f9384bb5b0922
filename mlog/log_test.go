package mlog

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	defer SetConfig(map[string]slog.Level{"": LevelError})

	var b strings.Builder
	log := NewWriter("searchquery", &b)

	SetConfig(map[string]slog.Level{"": LevelError})
	log.Debug("hidden")
	if b.Len() != 0 {
		t.Fatalf("debug line printed at error level: %q", b.String())
	}

	SetConfig(map[string]slog.Level{"": LevelError, "searchquery": LevelDebug})
	log.Debugx("fallback", errors.New("boom"), slog.String("ext", "WITHIN"))
	exp := "debug: fallback: boom (pkg: searchquery; ext: WITHIN)\n"
	if got := b.String(); got != exp {
		t.Fatalf("got %q, expected %q", got, exp)
	}

	b.Reset()
	other := NewWriter("querycache", &b)
	other.Debug("hidden")
	other.Print("always")
	if got := b.String(); got != "print: always (pkg: querycache)\n" {
		t.Fatalf("got %q", got)
	}
}

func TestCid(t *testing.T) {
	var b strings.Builder
	ctx := context.WithValue(context.Background(), CidKey, int64(255))
	log := NewWriter("main", &b).WithContext(ctx)
	log.Print("hi")
	if got := b.String(); got != "print: hi (pkg: main; cid: ff)\n" {
		t.Fatalf("got %q", got)
	}
}

func TestLogfmt(t *testing.T) {
	Logfmt = true
	defer func() { Logfmt = false }()

	var b strings.Builder
	NewWriter("main", &b).Printx("bad input", errors.New("x y"), slog.Int("n", 1))
	exp := `l=print m="bad input" err="x y" pkg=main n=1` + "\n"
	if got := b.String(); got != exp {
		t.Fatalf("got %q, expected %q", got, exp)
	}
}
