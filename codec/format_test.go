package codec

import "testing"

func TestWindowBitsToFormat(t *testing.T) {
	cases := []struct {
		in         int
		wantFormat Format
		wantWindow int
		wantOK     bool
	}{
		{-15, FormatRaw, 15, true},
		{-8, FormatRaw, 8, true},
		{8, FormatZlib, 8, true},
		{15, FormatZlib, 15, true},
		{16, FormatGzip, 0, true},
		{31, FormatGzip, 15, true},
		{0, FormatRaw, 0, false},
		{32, FormatRaw, 0, false},
		{-16, FormatRaw, 0, false},
	}
	for _, c := range cases {
		format, window, ok := WindowBitsToFormat(c.in)
		if format != c.wantFormat || window != c.wantWindow || ok != c.wantOK {
			t.Errorf("WindowBitsToFormat(%d) = (%v, %d, %v), want (%v, %d, %v)",
				c.in, format, window, ok, c.wantFormat, c.wantWindow, c.wantOK)
		}
	}
}
