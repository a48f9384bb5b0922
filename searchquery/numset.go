package searchquery

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// FormatSequence returns ids as IMAP sequence set, with consecutive numbers
// collapsed into ranges, e.g. "1:3,5,7:9". Order and duplicates in ids don't
// matter. An empty ids returns "1:*", i.e. all messages.
func FormatSequence(ids []uint32) string {
	if len(ids) == 0 {
		return "1:*"
	}
	l := slices.Clone(ids)
	slices.Sort(l)
	l = slices.Compact(l)

	var b strings.Builder
	for i := 0; i < len(l); {
		first := l[i]
		last := first
		i++
		for i < len(l) && l[i] == last+1 {
			last = l[i]
			i++
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if first == last {
			fmt.Fprintf(&b, "%d", first)
		} else {
			fmt.Fprintf(&b, "%d:%d", first, last)
		}
	}
	return b.String()
}
