package searchquery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Version of the serialized form. Bumped on incompatible changes, older forms
// are rejected with ErrVersionMismatch.
const serializedVersion = 1

// rawText is search text, possibly in a charset other than UTF-8. Valid UTF-8 is
// serialized as a string, other text as base64 in an object {"Raw": ...}.
type rawText string

func (t rawText) MarshalJSON() ([]byte, error) {
	if utf8.ValidString(string(t)) {
		return json.Marshal(string(t))
	}
	return json.Marshal(struct{ Raw []byte }{[]byte(t)})
}

func (t *rawText) UnmarshalJSON(buf []byte) error {
	if len(buf) > 0 && buf[0] == '{' {
		var v struct{ Raw []byte }
		dec := json.NewDecoder(bytes.NewReader(buf))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&v); err != nil {
			return err
		}
		if utf8.Valid(v.Raw) {
			return fmt.Errorf("raw text is valid utf-8")
		}
		*t = rawText(v.Raw)
		return nil
	}
	var s string
	if err := json.Unmarshal(buf, &s); err != nil {
		return err
	}
	*t = rawText(s)
	return nil
}

type state struct {
	Charset string `json:",omitempty"`
	keys
	And []state `json:",omitempty"`
	Or  []state `json:",omitempty"`
}

type document struct {
	Version int
	Search  state
}

func (q *Query) state() state {
	s := state{Charset: q.charset, keys: q.keys}
	for _, sq := range q.and {
		s.And = append(s.And, sq.state())
	}
	for _, sq := range q.or {
		s.Or = append(s.Or, sq.state())
	}
	return s
}

// MarshalBinary returns the serialized query, including combined queries, for
// storage in a cache. The output is deterministic: serializing a query read back
// with Unmarshal returns the same bytes.
func (q *Query) MarshalBinary() ([]byte, error) {
	return json.Marshal(document{serializedVersion, q.state()})
}

// UnmarshalBinary replaces q with a query serialized by MarshalBinary.
func (q *Query) UnmarshalBinary(buf []byte) error {
	var v struct{ Version int }
	if err := json.Unmarshal(buf, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if v.Version != serializedVersion {
		return fmt.Errorf("%w: version %d, expected %d", ErrVersionMismatch, v.Version, serializedVersion)
	}

	var doc document
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	nq, err := fromState(doc.Search)
	if err != nil {
		return err
	}
	*q = *nq
	return nil
}

// Unmarshal returns the query serialized by MarshalBinary. ErrVersionMismatch is
// returned for data from an unknown version, the cached data should be
// discarded.
func Unmarshal(buf []byte) (*Query, error) {
	q := &Query{}
	if err := q.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	return q, nil
}

func fromState(s state) (*Query, error) {
	if err := s.keys.check(); err != nil {
		return nil, err
	}
	q := &Query{charset: s.Charset, keys: s.keys}
	for _, ss := range s.And {
		sq, err := fromState(ss)
		if err != nil {
			return nil, err
		}
		q.and = append(q.and, sq)
	}
	for _, ss := range s.Or {
		sq, err := fromState(ss)
		if err != nil {
			return nil, err
		}
		q.or = append(q.or, sq)
	}
	return q, nil
}

// check verifies values that the setters would not have stored.
func (k keys) check() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
	}
	for _, f := range k.Flags {
		if f.Name == "" {
			return bad("empty flag name")
		}
	}
	for _, sk := range []*sizeKey{k.Larger, k.Smaller} {
		if sk != nil && sk.Size < 0 {
			return bad("negative size")
		}
	}
	if k.IDs != nil && k.IDs.Set == "" {
		return bad("empty sequence set")
	}
	for _, dk := range []*dateKey{k.HeaderDate, k.InternalDate} {
		if dk == nil {
			continue
		}
		switch dk.Range {
		case DateBefore, DateOn, DateSince:
		default:
			return bad("date comparison %q", dk.Range)
		}
	}
	for _, ik := range []*intervalKey{k.Older, k.Younger} {
		if ik != nil && ik.Seconds < 0 {
			return bad("negative interval")
		}
	}
	if ms := k.ModSeq; ms != nil {
		switch ms.Type {
		case "", EntryShared, EntryPriv, EntryAll:
		default:
			return bad("entry type %q", ms.Type)
		}
	}
	return nil
}
