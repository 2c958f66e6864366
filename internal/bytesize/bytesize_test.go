package bytesize

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want ByteSize
	}{
		{"0", 0},
		{"1024", 1024},
		{"1Ki", KiB},
		{"5Mi", 5 * MiB},
		{"5MiB", 5 * MiB},
		{"100MB", 100 * MB},
		{"1.5Gi", ByteSize(1.5 * float64(GiB))},
		{"2 Gi", 2 * GiB},
		{"1tb", TB},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "-5", "5Xi", "Mi"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", in)
		}
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		in   ByteSize
		want string
	}{
		{5 * MiB, "5Mi"},
		{2 * GiB, "2Gi"},
		{KiB, "1Ki"},
		{1234, "1234"},
	}
	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", uint64(tt.in), got, tt.want)
		}
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	if err := b.UnmarshalText([]byte("5Mi")); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if b != 5*MiB {
		t.Errorf("b = %d, want %d", b, 5*MiB)
	}
	if err := b.UnmarshalText([]byte("nope")); err == nil {
		t.Error("UnmarshalText accepted garbage")
	}
}
