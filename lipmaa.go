package provlog

// Lipmaa returns the seqno an entry at seqno n links back to through
// its lipmaa field. For most n this is n-1; at the powers of the
// underlying ternary tree it jumps much further back, which keeps
// verification paths to the genesis entry logarithmic.
func Lipmaa(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	m := uint64(1)
	po3 := uint64(3)
	for m < n {
		po3 *= 3
		m = (po3 - 1) / 2
	}
	po3 /= 3
	if m != n {
		x := n
		for x != 0 {
			m = (po3 - 1) / 2
			po3 /= 3
			x %= m
		}
		if m != po3 {
			po3 = m
		}
	}
	return n - po3
}

// IsLipmaa reports whether the entry at seqno n carries a long backlink,
// one that skips past n-1.
func IsLipmaa(n uint64) bool {
	if n == 0 {
		return false
	}
	return Lipmaa(n)+1 != n
}

// NodeZ returns the greatest seqno in n's certificate pool.
func NodeZ(n uint64) uint64 {
	m := uint64(1)
	po3 := uint64(3)
	for m < n {
		po3 *= 3
		m = (po3 - 1) / 2
	}
	return po3 / 2
}
