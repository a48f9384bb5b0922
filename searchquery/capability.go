package searchquery

import (
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Capabilities reports whether a server supports an extension, by its
// capability name, e.g. "WITHIN" or "SEARCH=FUZZY".
type Capabilities interface {
	Has(name string) bool
}

// CapSet is a set of capability names, stored in upper case.
type CapSet map[string]struct{}

var _ Capabilities = CapSet(nil)

// NewCapSet returns a set with names.
func NewCapSet(names ...string) CapSet {
	s := CapSet{}
	s.Add(names...)
	return s
}

// Add adds names to the set.
func (s CapSet) Add(names ...string) {
	for _, n := range names {
		s[strings.ToUpper(n)] = struct{}{}
	}
}

// Has returns whether name is in the set, case-insensitive.
func (s CapSet) Has(name string) bool {
	_, ok := s[strings.ToUpper(name)]
	return ok
}

// List returns the names in the set, sorted.
func (s CapSet) List() []string {
	l := maps.Keys(s)
	slices.Sort(l)
	return l
}

type allCapabilities struct{}

func (allCapabilities) Has(name string) bool { return true }

// AllCapabilities claims support for every extension. Useful for showing a
// query without a server at hand.
var AllCapabilities Capabilities = allCapabilities{}
