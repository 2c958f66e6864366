package collate

import "testing"

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"a", "a", 0},
		{"a", "b", -1},
		{"b", "a", 1},
		{"a", "ab", -1},
		{"file2", "file10", -1},
		{"file10", "file2", 1},
		{"file2a", "file2b", -1},
		{"2", "10", -1},
		{"10", "10", 0},
		{"k1", "k2", -1},
		{"key", "key1", -1},
		{"a1b2", "a1b10", -1},
		{"2021-11-03", "2021-11-05", -1},
		{"2021-11-10", "2021-11-10", 0},
		{"2021-11-10", "2022-01-01", -1},
	}
	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCompareTotalOrder(t *testing.T) {
	// Numerically equal runs with different leading zeros must still order
	// deterministically and consistently in both directions.
	if Compare("01", "1") == 0 {
		t.Error("Compare(\"01\", \"1\") must not be 0")
	}
	if Compare("01", "1") != -Compare("1", "01") {
		t.Error("Compare must be antisymmetric for leading-zero runs")
	}
}

func TestLess(t *testing.T) {
	if !Less("file2", "file10") {
		t.Error("Less(file2, file10) = false, want true")
	}
	if Less("file10", "file2") {
		t.Error("Less(file10, file2) = true, want false")
	}
}
