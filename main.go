package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/imapsearch/imapsearch/buildvar"
	"github.com/imapsearch/imapsearch/config"
	"github.com/imapsearch/imapsearch/imapwire"
	"github.com/imapsearch/imapsearch/metrics"
	"github.com/imapsearch/imapsearch/mlog"
	"github.com/imapsearch/imapsearch/querycache"
	"github.com/imapsearch/imapsearch/searchquery"
)

var ctxbg = context.Background()

func envString(k, def string) string {
	s := os.Getenv(k)
	if s == "" {
		return def
	}
	return s
}

var commands = []struct {
	cmd string
	fn  func(c *cmd)
}{
	{"build", cmdBuild},
	{"cache save", cmdCacheSave},
	{"cache show", cmdCacheShow},
	{"cache list", cmdCacheList},
	{"cache delete", cmdCacheDelete},
	{"cache backup", cmdCacheBackup},
	{"cache verify", cmdCacheVerify},
	{"capabilities", cmdCapabilities},
	{"config test", cmdConfigTest},
	{"config describe", cmdConfigDescribe},
	{"metrics", cmdMetrics},
	{"version", cmdVersion},
	{"help", cmdHelp},
}

var cmds []cmd

func init() {
	for _, xc := range commands {
		c := cmd{words: strings.Split(xc.cmd, " "), fn: xc.fn}
		cmds = append(cmds, c)
	}
}

type cmd struct {
	words []string
	fn    func(c *cmd)

	// Set before calling command.
	flag     *flag.FlagSet
	flagArgs []string
	_gather  bool // Set when using Parse to gather usage for a command.

	// Set by invoked command or Parse.
	params string // Arguments to command. Multiple lines possible.
	help   string // Additional explanation. First line is synopsis, the rest is only printed for an explicit help/usage for that command.
	args   []string

	log mlog.Log
}

func (c *cmd) Parse() []string {
	// To gather params and usage information, we just run the command but cause this
	// panic after the command has registered its flags and set its params and help
	// information. This is then caught and that info printed.
	if c._gather {
		panic("gather")
	}

	c.flag.Usage = c.Usage
	c.flag.Parse(c.flagArgs)
	c.args = c.flag.Args()
	return c.args
}

func (c *cmd) gather() {
	c.flag = flag.NewFlagSet("imapsearch "+strings.Join(c.words, " "), flag.ExitOnError)
	c._gather = true
	defer func() {
		x := recover()
		// panic generated by Parse.
		if x != "gather" {
			panic(x)
		}
	}()
	c.fn(c)
}

func (c *cmd) makeUsage() string {
	var r strings.Builder
	cs := "imapsearch " + strings.Join(c.words, " ")
	for i, line := range strings.Split(strings.TrimSpace(c.params), "\n") {
		s := ""
		if i == 0 {
			s = "usage:"
		}
		if line != "" {
			line = " " + line
		}
		fmt.Fprintf(&r, "%6s %s%s\n", s, cs, line)
	}
	c.flag.SetOutput(&r)
	c.flag.PrintDefaults()
	return r.String()
}

func (c *cmd) printUsage() {
	fmt.Fprint(os.Stderr, c.makeUsage())
	if c.help != "" {
		fmt.Fprint(os.Stderr, "\n"+c.help+"\n")
	}
}

func (c *cmd) Usage() {
	c.printUsage()
	os.Exit(2)
}

func cmdHelp(c *cmd) {
	c.params = "[command ...]"
	c.help = `Prints help about matching commands.

If multiple commands match, they are listed along with the first line of their help text.
If a single command matches, its usage and full help text is printed.
`
	args := c.Parse()
	if len(args) == 0 {
		c.Usage()
	}

	prefix := func(l, pre []string) bool {
		if len(pre) > len(l) {
			return false
		}
		return slices.Equal(pre, l[:len(pre)])
	}

	var partial []cmd
	for _, c := range cmds {
		if slices.Equal(c.words, args) {
			c.gather()
			fmt.Print(c.makeUsage())
			if c.help != "" {
				fmt.Print("\n" + c.help + "\n")
			}
			return
		} else if prefix(c.words, args) {
			partial = append(partial, c)
		}
	}
	if len(partial) == 0 {
		fmt.Fprintf(os.Stderr, "%s: unknown command\n", strings.Join(args, " "))
		os.Exit(2)
	}
	for _, c := range partial {
		c.gather()
		line := "imapsearch " + strings.Join(c.words, " ")
		fmt.Printf("%s\n", line)
		if c.help != "" {
			fmt.Printf("\t%s\n", strings.Split(c.help, "\n")[0])
		}
	}
}

func usage(l []cmd, partial bool) {
	var lines []string
	if !partial {
		lines = append(lines, "imapsearch [-config imapsearch.conf] [-loglevel level] [-metrics] ...")
	}
	for _, c := range l {
		c.gather()
		for _, line := range strings.Split(c.params, "\n") {
			x := append([]string{"imapsearch"}, c.words...)
			if line != "" {
				x = append(x, line)
			}
			lines = append(lines, strings.Join(x, " "))
		}
	}
	for i, line := range lines {
		pre := "       "
		if i == 0 {
			pre = "usage: "
		}
		fmt.Fprintln(os.Stderr, pre+line)
	}
	os.Exit(2)
}

var configPath string
var loglevel string // Empty means the level from the config file, or info without config.
var dumpMetrics bool

// loadConfig parses the config file. If required is false, a missing config file
// is not an error and nil is returned. Log levels from the config file are
// applied, except when overridden on the command-line.
func loadConfig(required bool) *config.Config {
	conf, err := config.ParseFile(configPath)
	if !required && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	xcheckf(err, "loading config")
	if loglevel != "" {
		conf.Log[""] = mlog.Levels[loglevel]
	}
	mlog.SetConfig(conf.Log)
	return conf
}

func openCache(c *cmd) (*config.Config, *querycache.Cache) {
	conf := loadConfig(true)
	qc, err := querycache.Open(ctxbg, conf.DataDirPath("querycache.db"), c.log.Logger)
	xcheckf(err, "opening query cache")
	return conf, qc
}

func main() {
	log.SetFlags(0)

	flag.StringVar(&configPath, "config", envString("IMAPSEARCHCONF", "imapsearch.conf"), "configuration file, defaults to $IMAPSEARCHCONF with a fallback to imapsearch.conf")
	flag.StringVar(&loglevel, "loglevel", "", "if non-empty, this log level is set early in startup")
	flag.BoolVar(&mlog.Logfmt, "logfmt", false, "write log lines in logfmt")
	flag.BoolVar(&dumpMetrics, "metrics", false, "print metrics to stderr after the command completes")

	flag.Usage = func() { usage(cmds, false) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage(cmds, false)
	}

	ll := loglevel
	if ll == "" {
		ll = "info"
	}
	if level, ok := mlog.Levels[ll]; ok {
		mlog.SetConfig(map[string]slog.Level{"": level})
		// note: SetConfig may be called again when subcommands load config.
	} else {
		log.Fatalf("unknown loglevel %q", loglevel)
	}

	var partial []cmd
next:
	for _, c := range cmds {
		for i, w := range c.words {
			if i >= len(args) || w != args[i] {
				if i > 0 {
					partial = append(partial, c)
				}
				continue next
			}
		}
		c.flag = flag.NewFlagSet("imapsearch "+strings.Join(c.words, " "), flag.ExitOnError)
		c.flagArgs = args[len(c.words):]
		c.log = mlog.New(strings.Join(c.words, ""), nil)
		run(&c)
		return
	}
	if len(partial) > 0 {
		usage(partial, true)
	}
	usage(cmds, false)
}

func run(c *cmd) {
	defer func() {
		x := recover()
		if x == nil {
			return
		}
		metrics.PanicInc("main")
		c.log.Error("unhandled panic", slog.Any("panic", x))
		printMetrics()
		panic(x)
	}()
	c.fn(c)
	printMetrics()
}

func printMetrics() {
	if dumpMetrics {
		err := metrics.WriteText(os.Stderr, "imapsearch_")
		xcheckf(err, "writing metrics")
	}
}

func xcheckf(err error, format string, args ...any) {
	if err == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	log.Fatalf("%s: %s", msg, err)
}

// serverCaps returns the capabilities to build for: from the command-line if
// set, otherwise from the config file if present.
func serverCaps(conf *config.Config, capsFlag string, all bool) searchquery.Capabilities {
	if all {
		return searchquery.AllCapabilities
	}
	if capsFlag != "" {
		return imapwire.ParseCapabilities(strings.ReplaceAll(capsFlag, ",", " "))
	}
	if conf != nil {
		return conf.CapSet()
	}
	return searchquery.CapSet{}
}

func printCommand(c *cmd, tag string, uid bool, q *searchquery.Query, caps searchquery.Capabilities, literalPlus bool) {
	prog, err := q.Build(caps)
	xcheckf(err, "building search")
	c.log.Debug("search built",
		slog.Any("extensions", prog.Extensions),
		slog.Bool("imap4", prog.IMAP4),
		slog.String("charset", prog.Charset))
	fmt.Print(imapwire.SearchCommand(tag, uid, prog, imapwire.Opts{LiteralPlus: literalPlus}))
}

func cmdBuild(c *cmd) {
	c.params = "[flags] criterion ..."
	c.help = `Build an IMAP SEARCH command from criteria and print it.

Capabilities of the server are taken from -caps, or from the config file if
present. Criteria that need an extension the server lacks cause an error,
except for older/younger, which fall back to a search by date without WITHIN.

` + criteriaHelp
	var capsFlag, charset, tag string
	var all, uid, literalPlus bool
	c.flag.StringVar(&capsFlag, "caps", "", "comma-separated server capabilities, e.g. WITHIN,CONDSTORE")
	c.flag.BoolVar(&all, "all", false, "assume the server supports all extensions")
	c.flag.StringVar(&charset, "charset", "", "charset of search strings, converted from utf-8; default from config or US-ASCII")
	c.flag.StringVar(&tag, "tag", "A1", "command tag")
	c.flag.BoolVar(&uid, "uid", false, "write a UID SEARCH command")
	c.flag.BoolVar(&literalPlus, "literalplus", false, "write non-synchronizing literals, default from LITERAL+ in capabilities")
	args := c.Parse()
	if len(args) == 0 {
		c.Usage()
	}

	conf := loadConfig(false)
	q := xparseCriteria(args, conf, charset)
	caps := serverCaps(conf, capsFlag, all)
	printCommand(c, tag, uid, q, caps, literalPlus || caps.Has(string(imapwire.CapLiteralPlus)))
}

// xparseCriteria parses criteria given as UTF-8 and converts them to the
// charset from the flag or config.
func xparseCriteria(args []string, conf *config.Config, charset string) *searchquery.Query {
	q, err := parseCriteria(args)
	xcheckf(err, "parsing criteria")
	if charset == "" && conf != nil {
		charset = conf.Charset
	}
	if charset != "" {
		err := q.SetCharset("UTF-8", nil)
		xcheckf(err, "setting charset")
		err = q.SetCharset(charset, searchquery.ConvertCharset)
		xcheckf(err, "converting criteria to charset %s", charset)
	}
	return q
}

func cmdCacheSave(c *cmd) {
	c.params = "[-mailbox mailbox] [-charset charset] name criterion ..."
	c.help = `Store criteria in the query cache under name.

An existing query with the same name is replaced.

` + criteriaHelp
	var mailbox, charset string
	c.flag.StringVar(&mailbox, "mailbox", "", "mailbox the query is used for")
	c.flag.StringVar(&charset, "charset", "", "charset of search strings, converted from utf-8; default from config or US-ASCII")
	args := c.Parse()
	if len(args) < 2 {
		c.Usage()
	}

	conf, qc := openCache(c)
	defer qc.Close()
	q := xparseCriteria(args[1:], conf, charset)
	err := qc.Save(ctxbg, args[0], mailbox, q)
	xcheckf(err, "saving query")
}

func cmdCacheShow(c *cmd) {
	c.params = "[-caps list] [-all] [-uid] [-tag tag] [-json] name"
	c.help = `Print the stored query as IMAP SEARCH command, or in serialized form with -json.

Capabilities of the server are taken from -caps, or from the config file.
`
	var capsFlag, tag string
	var all, uid, raw bool
	c.flag.StringVar(&capsFlag, "caps", "", "comma-separated server capabilities, e.g. WITHIN,CONDSTORE")
	c.flag.BoolVar(&all, "all", false, "assume the server supports all extensions")
	c.flag.StringVar(&tag, "tag", "A1", "command tag")
	c.flag.BoolVar(&uid, "uid", false, "write a UID SEARCH command")
	c.flag.BoolVar(&raw, "json", false, "print the stored serialized form")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	conf, qc := openCache(c)
	defer qc.Close()
	q, err := qc.Load(ctxbg, args[0])
	if errors.Is(err, querycache.ErrStale) {
		log.Fatalf("stored query %q was removed because it was stored by an incompatible version, save it again", args[0])
	}
	xcheckf(err, "loading query")

	if raw {
		buf, err := q.MarshalBinary()
		xcheckf(err, "serializing query")
		fmt.Println(string(buf))
		return
	}
	caps := serverCaps(conf, capsFlag, all)
	printCommand(c, tag, uid, q, caps, caps.Has(string(imapwire.CapLiteralPlus)))
}

func cmdCacheList(c *cmd) {
	c.params = "[-mailbox mailbox]"
	c.help = `List stored queries, optionally only those for mailbox.`
	var mailbox string
	c.flag.StringVar(&mailbox, "mailbox", "", "only list queries for mailbox")
	args := c.Parse()
	if len(args) != 0 {
		c.Usage()
	}

	_, qc := openCache(c)
	defer qc.Close()
	l, err := qc.List(ctxbg, mailbox)
	xcheckf(err, "listing queries")
	for _, r := range l {
		fmt.Printf("%-30s %-20s %s\n", r.Name, r.Mailbox, r.Updated.Format("2006-01-02 15:04:05"))
	}
}

func cmdCacheDelete(c *cmd) {
	c.params = "name"
	c.help = `Remove a stored query.`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	_, qc := openCache(c)
	defer qc.Close()
	err := qc.Delete(ctxbg, args[0])
	xcheckf(err, "removing query")
}

func cmdCacheBackup(c *cmd) {
	c.params = "dest-file"
	c.help = `Write a consistent copy of the query cache database to dest-file.

The destination file must not exist.
`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	_, qc := openCache(c)
	defer qc.Close()
	os.MkdirAll(filepath.Dir(args[0]), 0770)
	f, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0660)
	xcheckf(err, "creating destination file")
	err = qc.Backup(ctxbg, f)
	if err != nil {
		f.Close()
		os.Remove(args[0])
		xcheckf(err, "copying database")
	}
	err = f.Close()
	xcheckf(err, "closing destination file")
	c.log.Print("backup written", slog.String("path", args[0]))
}

func cmdCacheVerify(c *cmd) {
	c.params = "[database-file]"
	c.help = `Check a query cache database file for consistency.

Without parameter, the database in the data directory is checked. The database
must not be in use. Each stored query must be readable by this version.
`
	args := c.Parse()
	if len(args) > 1 {
		c.Usage()
	}

	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		path = loadConfig(true).DataDirPath("querycache.db")
	}
	problems, err := querycache.Verify(ctxbg, path)
	xcheckf(err, "verifying %s", path)
	for _, p := range problems {
		fmt.Printf("%s\n", p)
	}
	if len(problems) > 0 {
		os.Exit(1)
	}
	fmt.Println("database OK")
}

func cmdCapabilities(c *cmd) {
	c.params = "capability-line"
	c.help = `Parse a CAPABILITY response and list the search extensions it announces.

Useful for copying capabilities from a server greeting into the config file.
Example: imapsearch capabilities '* OK [CAPABILITY IMAP4rev1 WITHIN] ready'
`
	args := c.Parse()
	if len(args) == 0 {
		c.Usage()
	}

	caps := imapwire.ParseCapabilities(strings.Join(args, " "))
	for _, name := range caps.List() {
		fmt.Println(name)
	}
	for _, ext := range []imapwire.Capability{imapwire.CapWithin, imapwire.CapCondstore, imapwire.CapSearchRes, imapwire.CapSearchFuzzy} {
		if !caps.Has(string(ext)) {
			c.log.Info("search extension not announced", slog.String("extension", string(ext)))
		}
	}
}

func cmdConfigTest(c *cmd) {
	c.help = `Parses and validates the configuration file.

If valid, the command exits with status 0. If not valid, all errors encountered
are printed.
`
	args := c.Parse()
	if len(args) != 0 {
		c.Usage()
	}

	_, err := config.ParseFile(configPath)
	if err != nil {
		log.Fatalf("%s", err)
	}
	fmt.Println("config OK")
}

func cmdConfigDescribe(c *cmd) {
	c.params = ">imapsearch.conf"
	c.help = `Prints an annotated example configuration for use as imapsearch.conf.`
	if len(c.Parse()) != 0 {
		c.Usage()
	}

	err := config.Describe(os.Stdout)
	xcheckf(err, "describing config")
}

func cmdMetrics(c *cmd) {
	c.help = `Print the metrics of this process in prometheus text format.

Mostly useful to see which metrics exist. Use the global -metrics flag to print
metrics after another command.
`
	if len(c.Parse()) != 0 {
		c.Usage()
	}

	err := metrics.WriteText(os.Stdout, "")
	xcheckf(err, "writing metrics")
}

func cmdVersion(c *cmd) {
	c.help = "Prints this imapsearch version."
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	fmt.Println(buildvar.Version)
}
