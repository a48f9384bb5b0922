// Package searchquery builds IMAP SEARCH programs (RFC 3501 section 6.4.4) from
// typed search criteria.
//
// A Query accumulates criteria through its methods, in any order. Build compiles
// the criteria into tokens for a SEARCH command, taking the extensions announced
// by the server into account: WITHIN (RFC 5032), CONDSTORE (RFC 7162), SEARCHRES
// (RFC 5182) and SEARCH=FUZZY (RFC 6203). Build does not modify the Query and can
// be called repeatedly.
//
// A Query is not safe for concurrent modification. Concurrent calls to Build are
// fine as long as no modification is in progress.
//
// Queries combined with And and Or are held by reference, not copied. Changes to
// such a query before Build of the combined query are reflected in the result. A
// query must not be combined with itself or one of its ancestors.
package searchquery

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultCharset is the charset of search strings if none was set.
const DefaultCharset = "US-ASCII"

// DateLayout is the format of dates in search keys, e.g. "02-Jan-2006".
const DateLayout = "02-Jan-2006"

var (
	ErrUnsupportedExtension = errors.New("searchquery: extension not supported by server")
	ErrVersionMismatch      = errors.New("searchquery: unrecognized serialized version")
	ErrMalformed            = errors.New("searchquery: malformed serialized query")
	ErrInvalidArgument      = errors.New("searchquery: invalid argument")
	ErrCharset              = errors.New("searchquery: text not representable in charset")
)

// ExtensionError is returned by Build when a criterium needs an extension the
// server does not have. It matches ErrUnsupportedExtension with errors.Is.
type ExtensionError struct {
	Extension string // E.g. "CONDSTORE".
}

func (e *ExtensionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnsupportedExtension, e.Extension)
}

func (e *ExtensionError) Unwrap() error {
	return ErrUnsupportedExtension
}

// Modifier changes how a single search key is matched.
type Modifier int

const (
	// Fuzzy prefixes the search key with FUZZY, letting the server decide what
	// matches approximately. Requires SEARCH=FUZZY.
	Fuzzy Modifier = 1 << iota
)

func isFuzzy(mods []Modifier) bool {
	for _, m := range mods {
		if m&Fuzzy != 0 {
			return true
		}
	}
	return false
}

// DateComparison is how a message date is compared.
type DateComparison string

const (
	DateBefore DateComparison = "BEFORE"
	DateOn     DateComparison = "ON"
	DateSince  DateComparison = "SINCE"
)

// IntervalDirection is the direction of an interval relative to now.
type IntervalDirection string

const (
	IntervalOlder   IntervalDirection = "OLDER"
	IntervalYounger IntervalDirection = "YOUNGER"
)

// EntryType is the metadata item type for a MODSEQ search on an entry.
type EntryType string

const (
	EntryShared EntryType = "shared"
	EntryPriv   EntryType = "priv"
	EntryAll    EntryType = "all"
)

// System flags, RFC 3501 section 2.3.2. Other flags are keywords.
var systemFlags = map[string]bool{
	"ANSWERED": true,
	"DELETED":  true,
	"DRAFT":    true,
	"FLAGGED":  true,
	"RECENT":   true,
	"SEEN":     true,
}

// Headers with their own search key.
var systemHeaders = map[string]bool{
	"BCC":     true,
	"CC":      true,
	"FROM":    true,
	"SUBJECT": true,
	"TO":      true,
}

type newKey struct {
	New   bool
	Fuzzy bool `json:",omitempty"`
}

type flagKey struct {
	Name    string // Upper case, without leading backslash.
	Set     bool
	Keyword bool
	Fuzzy   bool `json:",omitempty"`
}

type headerKey struct {
	Header string // Upper case.
	Text   rawText
	Not    bool
	Fuzzy  bool `json:",omitempty"`
}

type textKey struct {
	Text     rawText
	BodyOnly bool // BODY if set, TEXT otherwise.
	Not      bool
	Fuzzy    bool `json:",omitempty"`
}

type sizeKey struct {
	Size  int64
	Not   bool
	Fuzzy bool `json:",omitempty"`
}

type idsKey struct {
	Set     string // Formatted sequence set.
	SeqNums bool   // Message sequence numbers instead of UIDs.
	Not     bool
	Fuzzy   bool `json:",omitempty"`
}

type dateKey struct {
	Date  string // In DateLayout.
	Range DateComparison
	Not   bool
	Fuzzy bool `json:",omitempty"`
}

type intervalKey struct {
	Seconds int64
	Not     bool
	Fuzzy   bool `json:",omitempty"`
}

type modseqKey struct {
	Value uint64
	Name  string    `json:",omitempty"`
	Type  EntryType `json:",omitempty"`
	Not   bool
	Fuzzy bool `json:",omitempty"`
}

type prevKey struct {
	Not   bool
	Fuzzy bool `json:",omitempty"`
}

// keys holds the criteria of a single query, excluding combined queries. Field
// order is the serialized order.
type keys struct {
	New          *newKey      `json:",omitempty"`
	Flags        []flagKey    `json:",omitempty"`
	Headers      []headerKey  `json:",omitempty"`
	Texts        []textKey    `json:",omitempty"`
	Larger       *sizeKey     `json:",omitempty"`
	Smaller      *sizeKey     `json:",omitempty"`
	IDs          *idsKey      `json:",omitempty"`
	HeaderDate   *dateKey     `json:",omitempty"`
	InternalDate *dateKey     `json:",omitempty"`
	Older        *intervalKey `json:",omitempty"`
	Younger      *intervalKey `json:",omitempty"`
	ModSeq       *modseqKey   `json:",omitempty"`
	PrevSearch   *prevKey     `json:",omitempty"`
}

// Query is a set of search criteria. The zero value is an empty query, which
// matches all messages.
type Query struct {
	charset string // Upper case, empty if not set.
	keys    keys
	and     []*Query
	or      []*Query
}

// New returns an empty query.
func New() *Query {
	return &Query{}
}

// Charset returns the charset set with SetCharset, or DefaultCharset.
func (q *Query) Charset() string {
	if q.charset == "" {
		return DefaultCharset
	}
	return q.charset
}

// Flag adds a search for messages with (set true) or without a flag or keyword.
// The name is case-insensitive, a leading backslash is ignored. A later search
// for the same flag replaces the earlier one.
func (q *Query) Flag(name string, set bool, mods ...Modifier) error {
	name = strings.ToUpper(strings.TrimLeft(name, `\`))
	if name == "" {
		return fmt.Errorf("%w: empty flag name", ErrInvalidArgument)
	}
	fk := flagKey{name, set, !systemFlags[name], isFuzzy(mods)}
	for i, f := range q.keys.Flags {
		if f.Name == name {
			q.keys.Flags[i] = fk
			return nil
		}
	}
	q.keys.Flags = append(q.keys.Flags, fk)
	return nil
}

// HasFlagSearch returns whether the query searches for flags.
func (q *Query) HasFlagSearch() bool {
	return len(q.keys.Flags) > 0
}

// NewMessages adds a search for new messages (recent and not seen) if isNew,
// otherwise for old messages (not recent). Searches for \Recent are removed, and
// for new messages searches for unseen messages too, they are implied.
func (q *Query) NewMessages(isNew bool, mods ...Modifier) {
	q.keys.New = &newKey{isNew, isFuzzy(mods)}
	var l []flagKey
	for _, f := range q.keys.Flags {
		if !impliedByNew(f, isNew) {
			l = append(l, f)
		}
	}
	q.keys.Flags = l
}

// impliedByNew returns whether the flag search is part of a NEW or OLD search.
func impliedByNew(f flagKey, isNew bool) bool {
	switch {
	case f.Name == "RECENT":
		return true
	case !isNew:
		return false
	case f.Name == "UNSEEN":
		return true
	case f.Name == "SEEN" && !f.Set:
		return true
	}
	return false
}

// HeaderText adds a search for text in a message header field. Searches
// accumulate.
func (q *Query) HeaderText(header, text string, not bool, mods ...Modifier) {
	q.keys.Headers = append(q.keys.Headers, headerKey{strings.ToUpper(header), rawText(text), not, isFuzzy(mods)})
}

// Text adds a search for text in the message body, or in the full message
// (headers and body) if bodyOnly is false. Searches accumulate.
func (q *Query) Text(text string, bodyOnly, not bool, mods ...Modifier) {
	q.keys.Texts = append(q.keys.Texts, textKey{rawText(text), bodyOnly, not, isFuzzy(mods)})
}

// Size adds a search for messages larger, or smaller if larger is false, than
// size bytes. One search per direction is kept.
func (q *Query) Size(size int64, larger, not bool, mods ...Modifier) error {
	if size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrInvalidArgument, size)
	}
	sk := &sizeKey{size, not, isFuzzy(mods)}
	if larger {
		q.keys.Larger = sk
	} else {
		q.keys.Smaller = sk
	}
	return nil
}

// Sequence adds a search for messages by UID, or by message sequence number if
// seqNums is set. An empty ids matches all messages. It replaces an earlier
// sequence search.
func (q *Query) Sequence(ids []uint32, seqNums, not bool, mods ...Modifier) error {
	for _, id := range ids {
		if id == 0 {
			return fmt.Errorf("%w: zero message id", ErrInvalidArgument)
		}
	}
	q.keys.IDs = &idsKey{FormatSequence(ids), seqNums, not, isFuzzy(mods)}
	return nil
}

// Date adds a search on the date of the message, in the Date header if header
// is set, or the internal date (typically arrival) otherwise. Only the day
// (in the location of date) is used. One search per kind of date is kept.
func (q *Query) Date(date time.Time, cmp DateComparison, header, not bool, mods ...Modifier) error {
	switch cmp {
	case DateBefore, DateOn, DateSince:
	default:
		return fmt.Errorf("%w: date comparison %q", ErrInvalidArgument, cmp)
	}
	dk := &dateKey{date.Format(DateLayout), cmp, not, isFuzzy(mods)}
	if header {
		q.keys.HeaderDate = dk
	} else {
		q.keys.InternalDate = dk
	}
	return nil
}

// Interval adds a search for messages older or younger than seconds. The
// WITHIN extension is used if available, otherwise a date search is done that
// is accurate to a day. One search per direction is kept.
func (q *Query) Interval(seconds int64, dir IntervalDirection, not bool, mods ...Modifier) error {
	if seconds < 0 {
		return fmt.Errorf("%w: negative interval %d", ErrInvalidArgument, seconds)
	}
	ik := &intervalKey{seconds, not, isFuzzy(mods)}
	switch dir {
	case IntervalOlder:
		q.keys.Older = ik
	case IntervalYounger:
		q.keys.Younger = ik
	default:
		return fmt.Errorf("%w: interval direction %q", ErrInvalidArgument, dir)
	}
	return nil
}

// And combines the queries with q: each query in its entirety must match too.
func (q *Query) And(queries ...*Query) {
	q.and = append(q.and, queries...)
}

// Or combines the queries with q: messages match if they match q or any of the
// queries.
func (q *Query) Or(queries ...*Query) {
	q.or = append(q.or, queries...)
}

// ModSeq adds a search for messages with a mod-sequence of at least value,
// optionally for a metadata entry name. If name is set and typ is empty, typ
// is EntryAll. Requires CONDSTORE. It replaces an earlier modseq search.
func (q *Query) ModSeq(value uint64, name string, typ EntryType, not bool, mods ...Modifier) error {
	typ = EntryType(strings.ToLower(string(typ)))
	switch typ {
	case "", EntryShared, EntryPriv, EntryAll:
	default:
		return fmt.Errorf("%w: entry type %q", ErrInvalidArgument, typ)
	}
	if name != "" && typ == "" {
		typ = EntryAll
	}
	q.keys.ModSeq = &modseqKey{value, name, typ, not, isFuzzy(mods)}
	return nil
}

// PreviousResult adds a search for messages in the result saved by an earlier
// SEARCH, or not in it if not is set. Requires SEARCHRES.
func (q *Query) PreviousResult(not bool, mods ...Modifier) {
	q.keys.PrevSearch = &prevKey{not, isFuzzy(mods)}
}
