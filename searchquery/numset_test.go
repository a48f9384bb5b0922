package searchquery

import (
	"testing"
)

func TestFormatSequence(t *testing.T) {
	check := func(ids []uint32, exp string) {
		t.Helper()
		tcompare(t, FormatSequence(ids), exp)
	}

	check(nil, "1:*")
	check([]uint32{}, "1:*")
	check([]uint32{5}, "5")
	check([]uint32{3, 1, 2, 2}, "1:3")
	check([]uint32{1, 3, 5}, "1,3,5")
	check([]uint32{10, 9, 1, 2, 4}, "1:2,4,9:10")
	check([]uint32{4294967295, 4294967294}, "4294967294:4294967295")

	// Input is not modified.
	ids := []uint32{3, 2, 1}
	FormatSequence(ids)
	tcompare(t, ids, []uint32{3, 2, 1})
}
