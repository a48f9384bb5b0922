package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/imapsearch/imapsearch/searchquery"
)

const criteriaHelp = `Criteria, all must match:

	seen, answered, deleted, draft, flagged, recent, and with "un" prefix, e.g. unseen
	keyword=K, unkeyword=K
	new, old
	from=text, to=, cc=, bcc=, subject=, header:Name=text
	body=text, text=text (headers and body)
	larger=bytes, smaller=bytes
	uid=1,5:7 (empty for all), seq=1:3
	before=2024-01-31, on=, since=, sentbefore=, senton=, sentsince=
	older=seconds, younger=seconds (or Go duration, e.g. 36h)
	modseq=N, modseq=N,entry-name[,shared|priv|all]
	prev (result of previous search)

A criterion prefixed with "not:" is negated, with "fuzzy:" it matches
approximately. The word "or" makes the criteria after it an alternative to the
first criterion before the first "or". Other criteria before the first "or"
must match as well.
`

var errCriterion = errors.New("bad criterion")

// parseCriteria parses command-line criteria into a query. Groups of criteria
// separated by "or" are combined with OR.
func parseCriteria(words []string) (*searchquery.Query, error) {
	var groups [][]string
	var cur []string
	for _, w := range words {
		if strings.EqualFold(w, "or") {
			groups = append(groups, cur)
			cur = nil
			continue
		}
		cur = append(cur, w)
	}
	groups = append(groups, cur)

	var q *searchquery.Query
	for _, g := range groups {
		if len(g) == 0 {
			return nil, fmt.Errorf(`%w: "or" without criteria on both sides`, errCriterion)
		}
		gq := searchquery.New()
		for _, w := range g {
			if err := parseCriterion(gq, w); err != nil {
				return nil, err
			}
		}
		if q == nil {
			q = gq
		} else {
			q.Or(gq)
		}
	}
	return q, nil
}

func parseCriterion(q *searchquery.Query, word string) error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w %q: %s", errCriterion, word, fmt.Sprintf(format, args...))
	}

	s := word
	var not bool
	var mods []searchquery.Modifier
	for {
		if t, ok := strings.CutPrefix(s, "not:"); ok {
			not = true
			s = t
		} else if t, ok := strings.CutPrefix(s, "fuzzy:"); ok {
			mods = append(mods, searchquery.Fuzzy)
			s = t
		} else {
			break
		}
	}
	key, value, hasValue := strings.Cut(s, "=")
	key = strings.ToLower(key)
	needValue := func() error {
		if !hasValue {
			return bad("missing value")
		}
		return nil
	}
	noValue := func() error {
		if hasValue {
			return bad("unexpected value")
		}
		return nil
	}

	switch key {
	case "seen", "answered", "deleted", "draft", "flagged", "recent":
		if err := noValue(); err != nil {
			return err
		}
		return q.Flag(key, !not, mods...)

	case "unseen", "unanswered", "undeleted", "undraft", "unflagged":
		if err := noValue(); err != nil {
			return err
		}
		return q.Flag(strings.TrimPrefix(key, "un"), not, mods...)

	case "keyword", "unkeyword":
		if err := needValue(); err != nil {
			return err
		} else if value == "" {
			return bad("empty keyword")
		}
		if err := q.Flag(value, (key == "keyword") != not, mods...); err != nil {
			return bad("%v", err)
		}

	case "new", "old":
		if err := noValue(); err != nil {
			return err
		} else if not {
			return bad("cannot be negated, use the opposite")
		}
		q.NewMessages(key == "new", mods...)

	case "from", "to", "cc", "bcc", "subject":
		if err := needValue(); err != nil {
			return err
		}
		q.HeaderText(key, value, not, mods...)

	case "body", "text":
		if err := needValue(); err != nil {
			return err
		}
		q.Text(value, key == "body", not, mods...)

	case "larger", "smaller":
		if err := needValue(); err != nil {
			return err
		}
		size, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return bad("parsing size: %v", err)
		}
		return q.Size(size, key == "larger", not, mods...)

	case "uid", "seq":
		if err := needValue(); err != nil {
			return err
		}
		ids, err := parseIDs(value)
		if err != nil {
			return bad("%v", err)
		}
		return q.Sequence(ids, key == "seq", not, mods...)

	case "before", "on", "since", "sentbefore", "senton", "sentsince":
		if err := needValue(); err != nil {
			return err
		}
		date, err := parseDate(value)
		if err != nil {
			return bad("%v", err)
		}
		header := strings.HasPrefix(key, "sent")
		cmp := searchquery.DateComparison(strings.ToUpper(strings.TrimPrefix(key, "sent")))
		return q.Date(date, cmp, header, not, mods...)

	case "older", "younger":
		if err := needValue(); err != nil {
			return err
		}
		secs, err := parseSeconds(value)
		if err != nil {
			return bad("%v", err)
		}
		return q.Interval(secs, searchquery.IntervalDirection(strings.ToUpper(key)), not, mods...)

	case "modseq":
		if err := needValue(); err != nil {
			return err
		}
		t := strings.SplitN(value, ",", 3)
		v, err := strconv.ParseUint(t[0], 10, 64)
		if err != nil {
			return bad("parsing modseq: %v", err)
		}
		var name string
		var typ searchquery.EntryType
		if len(t) > 1 {
			name = t[1]
		}
		if len(t) > 2 {
			typ = searchquery.EntryType(t[2])
		}
		return q.ModSeq(v, name, typ, not, mods...)

	case "prev":
		if err := noValue(); err != nil {
			return err
		}
		q.PreviousResult(not, mods...)

	default:
		if name, ok := strings.CutPrefix(key, "header:"); ok && name != "" {
			if err := needValue(); err != nil {
				return err
			}
			q.HeaderText(name, value, not, mods...)
			return nil
		}
		return bad("unknown")
	}
	return nil
}

// parseIDs parses a comma-separated list of ids and ranges, e.g. "1,5:7". An
// empty string returns no ids, i.e. all messages.
func parseIDs(s string) ([]uint32, error) {
	if s == "" {
		return nil, nil
	}
	var ids []uint32
	for _, e := range strings.Split(s, ",") {
		first, last, isRange := strings.Cut(e, ":")
		a, err := strconv.ParseUint(first, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parsing id: %v", err)
		}
		b := a
		if isRange {
			b, err = strconv.ParseUint(last, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("parsing id: %v", err)
			}
		}
		if a > b {
			a, b = b, a
		}
		if b-a >= 1<<16 {
			return nil, fmt.Errorf("range %s too large", e)
		}
		for i := a; i <= b; i++ {
			ids = append(ids, uint32(i))
		}
	}
	return ids, nil
}

// parseDate accepts dates like 2024-01-31 and the IMAP form 31-Jan-2024.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(searchquery.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q, expected yyyy-mm-dd", s)
	}
	return t, nil
}

// parseSeconds parses a number of seconds, or a Go duration like "36h".
func parseSeconds(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing interval %q, expected seconds or duration", s)
	}
	return int64(d / time.Second), nil
}
