package snapshot

import (
	"cmp"
	"slices"
	"strings"
)

// SplitRef splits "AB12" into its column number (1-based) and row. ok is
// false when ref is not a plain A1-style reference.
func SplitRef(ref string) (col, row int, ok bool) {
	ref = strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(ref, "$", "")))
	i := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		col = col*26 + int(ref[i]-'A'+1)
		i++
	}
	if i == 0 || i == len(ref) {
		return 0, 0, false
	}
	for _, ch := range ref[i:] {
		if ch < '0' || ch > '9' {
			return 0, 0, false
		}
		row = row*10 + int(ch-'0')
	}
	return col, row, row > 0
}

// SortAddresses orders cell addresses row-major; malformed addresses sort
// last, lexically.
func SortAddresses(addrs []string) {
	slices.SortFunc(addrs, func(a, b string) int {
		ac, ar, aok := SplitRef(a)
		bc, br, bok := SplitRef(b)
		switch {
		case aok && bok:
			if c := cmp.Compare(ar, br); c != 0 {
				return c
			}
			return cmp.Compare(ac, bc)
		case aok:
			return -1
		case bok:
			return 1
		default:
			return strings.Compare(a, b)
		}
	})
}

// SortNames orders sheet names for stable output.
func SortNames(names []string) {
	slices.Sort(names)
}
