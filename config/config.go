// Package config holds the configuration file for building and storing search
// queries, in sconf format.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mjl-/sconf"

	"github.com/imapsearch/imapsearch/mlog"
	"github.com/imapsearch/imapsearch/searchquery"
)

// Static is the parsed form of the configuration file.
type Static struct {
	DataDir          string            `sconf-doc:"NOTE: This config file is in 'sconf' format. Indent with tabs. Comments must be on their own line, they don't end a line. Do not escape or quote strings. Details: https://pkg.go.dev/github.com/mjl-/sconf.\n\n\nDirectory where the query cache is stored. If this is a relative path, it is relative to the directory of the config file."`
	LogLevel         string            `sconf-doc:"Default log level, one of: error, info, debug, trace."`
	PackageLogLevels map[string]string `sconf:"optional" sconf-doc:"Overrides of log level per package (e.g. searchquery, querycache, main)."`
	Capabilities     []string          `sconf:"optional" sconf-doc:"Capabilities announced by the IMAP server that queries are built for, as in its CAPABILITY response. Relevant: WITHIN, CONDSTORE, SEARCHRES, SEARCH=FUZZY and LITERAL+. Without WITHIN, searches for older/younger messages are done by date."`
	Charset          string            `sconf:"optional" sconf-doc:"Charset of search strings, e.g. UTF-8. Default US-ASCII."`
}

// Config is a checked configuration.
type Config struct {
	Static

	Path string                // Of the config file, for resolving DataDir.
	Log  map[string]slog.Level // From LogLevel and PackageLogLevels, for mlog.SetConfig.
}

// Example is written by Describe.
var Example = Static{
	DataDir:  "data",
	LogLevel: "info",
	PackageLogLevels: map[string]string{
		"querycache": "debug",
	},
	Capabilities: []string{"IMAP4rev1", "LITERAL+", "WITHIN", "CONDSTORE"},
	Charset:      "UTF-8",
}

// ParseFile reads and checks the configuration file at path.
func ParseFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()
	return Parse(f, path)
}

// Parse reads and checks a configuration from r. Path is used for resolving a
// relative DataDir.
func Parse(r io.Reader, path string) (*Config, error) {
	c := &Config{Path: path}
	if err := sconf.Parse(r, &c.Static); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := c.prepare(); err != nil {
		return nil, fmt.Errorf("checking %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) prepare() error {
	var errs []error
	addErrorf := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.DataDir == "" {
		addErrorf("missing DataDir")
	}

	if logLevel, ok := mlog.Levels[c.LogLevel]; ok {
		c.Log = map[string]slog.Level{"": logLevel}
	} else {
		c.Log = map[string]slog.Level{"": mlog.LevelError}
		addErrorf("invalid log level %q", c.LogLevel)
	}
	for pkg, s := range c.PackageLogLevels {
		if logLevel, ok := mlog.Levels[s]; ok {
			c.Log[pkg] = logLevel
		} else {
			addErrorf("invalid package log level %q", s)
		}
	}

	for _, name := range c.Capabilities {
		if name == "" || strings.ContainsAny(name, " \t()") {
			addErrorf("invalid capability %q", name)
		}
	}

	if c.Charset != "" {
		if _, err := searchquery.ConvertCharset("", "UTF-8", c.Charset); err != nil {
			addErrorf("charset %q: %v", c.Charset, err)
		}
	}

	return errors.Join(errs...)
}

// DataDirPath returns the path to name in the data directory.
func (c *Config) DataDirPath(name string) string {
	dir := c.DataDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.Dir(c.Path), dir)
	}
	return filepath.Join(dir, name)
}

// CapSet returns the configured server capabilities.
func (c *Config) CapSet() searchquery.CapSet {
	return searchquery.NewCapSet(c.Capabilities...)
}

// LiteralPlus returns whether the server accepts non-synchronizing literals.
func (c *Config) LiteralPlus() bool {
	return c.CapSet().Has("LITERAL+")
}

// Describe writes Example as a documented configuration file.
func Describe(w io.Writer) error {
	return sconf.Describe(w, &Example)
}
