package provlog

import "testing"

func TestLipmaaZero(t *testing.T) {
	if Lipmaa(0) != 0 {
		t.Errorf("Lipmaa(0) = %d, want 0", Lipmaa(0))
	}
	if IsLipmaa(0) {
		t.Error("0 must not be a long backlink")
	}
}

func TestLipmaaBacklinks(t *testing.T) {
	// (seqno, long hop, backlink target)
	table := []struct {
		n        uint64
		longHop  bool
		backlink uint64
	}{
		{1, false, 0},
		{2, false, 1},
		{3, false, 2},
		{4, true, 1},
		{5, false, 4},
		{6, false, 5},
		{7, false, 6},
		{8, true, 4},
		{9, false, 8},
		{10, false, 9},
		{11, false, 10},
		{12, true, 8},
		{13, true, 4},
		{14, false, 13},
		{15, false, 14},
		{16, false, 15},
		{17, true, 13},
		{18, false, 17},
		{19, false, 18},
		{20, false, 19},
		{21, true, 17},
		{22, false, 21},
		{23, false, 22},
		{24, false, 23},
		{25, true, 21},
		{26, true, 13},
		{27, false, 26},
		{28, false, 27},
		{29, false, 28},
		{30, true, 26},
		{31, false, 30},
		{32, false, 31},
		{33, false, 32},
		{34, true, 30},
		{35, false, 34},
		{36, false, 35},
		{37, false, 36},
		{38, true, 34},
		{39, true, 26},
		{40, true, 13},
	}
	for _, row := range table {
		if got := Lipmaa(row.n); got != row.backlink {
			t.Errorf("Lipmaa(%d) = %d, want %d", row.n, got, row.backlink)
		}
		if got := IsLipmaa(row.n); got != row.longHop {
			t.Errorf("IsLipmaa(%d) = %v, want %v", row.n, got, row.longHop)
		}
	}
}
