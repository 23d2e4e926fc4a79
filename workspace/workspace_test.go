package workspace

import (
	"testing"

	"github.com/hwzedc/hwzedc/codec"
	"github.com/hwzedc/hwzedc/transport"
)

func TestAllocatorPlainScratch(t *testing.T) {
	a := New(KindPlain, nil)
	defer a.Close()

	s, err := a.Scratch()
	if err != nil {
		t.Fatalf("Scratch: %v", err)
	}
	if len(s.Buf) < codec.ScratchSize {
		t.Fatalf("scratch buffer too small: %d < %d", len(s.Buf), codec.ScratchSize)
	}
	if len(s.Buf)%PageSize != 0 {
		t.Fatalf("scratch buffer not page-rounded: %d", len(s.Buf))
	}
}

func TestAllocatorStagingBuffersDefaults(t *testing.T) {
	a := New(KindPlain, nil)
	defer a.Close()

	in, out, err := a.StagingBuffers(0, 0, 8192)
	if err != nil {
		t.Fatalf("StagingBuffers: %v", err)
	}
	if len(in) < 8192 {
		t.Fatalf("default input staging buffer too small: %d", len(in))
	}
	wantOut := 8192*15/8 + PageSize
	if len(out) < wantOut {
		t.Fatalf("default output staging buffer = %d, want at least %d", len(out), wantOut)
	}
}

func TestAllocatorStagingBuffersExplicitSizes(t *testing.T) {
	a := New(KindPlain, nil)
	defer a.Close()

	in, out, err := a.StagingBuffers(10000, 20000, 999)
	if err != nil {
		t.Fatalf("StagingBuffers: %v", err)
	}
	if len(in) != roundUpPage(10000) {
		t.Fatalf("len(in) = %d, want %d", len(in), roundUpPage(10000))
	}
	if len(out) != roundUpPage(20000) {
		t.Fatalf("len(out) = %d, want %d", len(out), roundUpPage(20000))
	}
}

func TestAllocatorDMARoundTrip(t *testing.T) {
	h := transport.NewSimHandle(0, transport.ModeReadWrite)
	a := New(KindDMA, h)

	buf, err := a.alloc(100)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if len(buf) != PageSize {
		t.Fatalf("alloc(100) = %d bytes, want one page (%d)", len(buf), PageSize)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRoundUpPage(t *testing.T) {
	cases := map[int]int{0: 0, 1: PageSize, PageSize: PageSize, PageSize + 1: 2 * PageSize}
	for in, want := range cases {
		if got := roundUpPage(in); got != want {
			t.Errorf("roundUpPage(%d) = %d, want %d", in, got, want)
		}
	}
}
