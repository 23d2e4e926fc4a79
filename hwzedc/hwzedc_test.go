package hwzedc

import (
	"bytes"
	"crypto/rand"
	"sync"
	"testing"

	"github.com/hwzedc/hwzedc/codec"
	"github.com/hwzedc/hwzedc/status"
)

func deflateAll(t *testing.T, s *DeflateStream, input []byte, chunk int) []byte {
	t.Helper()
	var out bytes.Buffer
	scratch := make([]byte, chunk)
	for {
		flush := codec.FlushNone
		if len(input) <= chunk {
			flush = codec.FlushFinish
		}
		n := chunk
		if n > len(input) {
			n = len(input)
		}
		consumed, produced, st, err := s.Deflate(input[:n], scratch, flush)
		if err != nil {
			t.Fatalf("Deflate: %v", err)
		}
		out.Write(scratch[:produced])
		input = input[consumed:]
		if st == status.StreamEnd {
			break
		}
	}
	return out.Bytes()
}

func inflateAll(t *testing.T, s *InflateStream, compressed []byte, chunk int) []byte {
	t.Helper()
	var out bytes.Buffer
	scratch := make([]byte, chunk)
	for i := 0; i < 100000; i++ {
		n := chunk
		if n > len(compressed) {
			n = len(compressed)
		}
		consumed, produced, st, err := s.Inflate(compressed[:n], scratch, codec.FlushNone)
		if err != nil {
			t.Fatalf("Inflate: %v", err)
		}
		out.Write(scratch[:produced])
		compressed = compressed[consumed:]
		if st == status.StreamEnd {
			return out.Bytes()
		}
	}
	t.Fatal("Inflate never reached StreamEnd")
	return nil
}

func newTestAccelerator(t *testing.T) *Accelerator {
	t.Helper()
	cfg := DefaultConfig()
	accel, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { accel.Close() })
	return accel
}

func TestRoundTripAllFormatsHardware(t *testing.T) {
	accel := newTestAccelerator(t)
	input := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 500)

	for _, windowBits := range []int{-15, 15, 31} {
		cfg := DefaultConfig()
		ds, err := NewDeflateStream(cfg, accel, 6, windowBits)
		if err != nil {
			t.Fatalf("windowBits=%d: NewDeflateStream: %v", windowBits, err)
		}
		compressed := deflateAll(t, ds, input, 4096)
		if err := ds.End(); err != nil {
			t.Fatalf("windowBits=%d: DeflateStream.End: %v", windowBits, err)
		}

		is, err := NewInflateStream(cfg, accel, windowBits)
		if err != nil {
			t.Fatalf("windowBits=%d: NewInflateStream: %v", windowBits, err)
		}
		got := inflateAll(t, is, compressed, 4096)
		if err := is.End(); err != nil {
			t.Fatalf("windowBits=%d: InflateStream.End: %v", windowBits, err)
		}
		if !bytes.Equal(got, input) {
			t.Fatalf("windowBits=%d: round trip mismatch: got %d bytes, want %d", windowBits, len(got), len(input))
		}
	}
}

func TestRoundTrip1MiBChunked(t *testing.T) {
	accel := newTestAccelerator(t)
	input := make([]byte, 1<<20)
	if _, err := rand.Read(input); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	cfg := DefaultConfig()
	ds, err := NewDeflateStream(cfg, accel, 6, 15)
	if err != nil {
		t.Fatalf("NewDeflateStream: %v", err)
	}
	compressed := deflateAll(t, ds, input, 4096)
	ds.End()

	is, err := NewInflateStream(cfg, accel, 15)
	if err != nil {
		t.Fatalf("NewInflateStream: %v", err)
	}
	got := inflateAll(t, is, compressed, 4096)
	is.End()

	if !bytes.Equal(got, input) {
		t.Fatalf("1 MiB round trip mismatch: got %d bytes, want %d", len(got), len(input))
	}
}

func TestGzipByteChunkedInflate(t *testing.T) {
	accel := newTestAccelerator(t)
	input := bytes.Repeat([]byte{0xaa, 0x55, 0x00, 0xff}, 16*1024)

	cfg := DefaultConfig()
	ds, err := NewDeflateStream(cfg, accel, 6, 31)
	if err != nil {
		t.Fatalf("NewDeflateStream: %v", err)
	}
	compressed := deflateAll(t, ds, input, 8192)
	ds.End()

	is, err := NewInflateStream(cfg, accel, 31)
	if err != nil {
		t.Fatalf("NewInflateStream: %v", err)
	}
	got := inflateAll(t, is, compressed, 1)
	is.End()

	if !bytes.Equal(got, input) {
		t.Fatalf("byte-at-a-time gzip inflate mismatch: got %d bytes, want %d", len(got), len(input))
	}
}

func TestRawInflateWithDictionary(t *testing.T) {
	accel := newTestAccelerator(t)
	dict := bytes.Repeat([]byte("shared preset dictionary contents "), 512)[:32*1024]
	input := []byte("shared preset dictionary contents appears here too")

	cfg := DefaultConfig()
	ds, err := NewDeflateStream(cfg, accel, 6, -15)
	if err != nil {
		t.Fatalf("NewDeflateStream: %v", err)
	}
	if err := ds.SetDictionary(dict); err != nil {
		t.Fatalf("SetDictionary: %v", err)
	}
	compressed := deflateAll(t, ds, input, 4096)
	ds.End()

	withDict, err := NewInflateStream(cfg, accel, -15)
	if err != nil {
		t.Fatalf("NewInflateStream: %v", err)
	}
	if err := withDict.SetDictionary(dict); err != nil {
		t.Fatalf("SetDictionary: %v", err)
	}
	got := inflateAll(t, withDict, compressed, 4096)
	withDict.End()
	if !bytes.Equal(got, input) {
		t.Fatalf("inflate-with-dictionary mismatch: got %q, want %q", got, input)
	}
}

func TestSwitchingShimSmallInputGoesSoftware(t *testing.T) {
	accel := newTestAccelerator(t)
	cfg := DefaultConfig()
	cfg.InflateSmallInputThreshold = 16 * 1024
	input := bytes.Repeat([]byte("tiny stream, below threshold. "), 4)

	ds, err := NewDeflateStream(cfg, accel, 6, 15)
	if err != nil {
		t.Fatalf("NewDeflateStream: %v", err)
	}
	compressed := deflateAll(t, ds, input, 4096)
	ds.End()

	is, err := NewInflateStream(cfg, accel, 15)
	if err != nil {
		t.Fatalf("NewInflateStream: %v", err)
	}
	if is.shim.current != implHardware {
		t.Fatalf("initial impl = %v, want implHardware", is.shim.current)
	}
	got := inflateAll(t, is, compressed, 4096)
	if is.shim.current != implSoftware {
		t.Fatalf("impl after small-input step = %v, want implSoftware (should have switched)", is.shim.current)
	}
	is.End()
	if !bytes.Equal(got, input) {
		t.Fatalf("post-switch round trip mismatch: got %q, want %q", got, input)
	}
}

func TestConcurrentStreamsShareOneDispatcher(t *testing.T) {
	accel := newTestAccelerator(t)
	cfg := DefaultConfig()

	const streams = 16
	const size = 4 * 1024 * 1024

	var wg sync.WaitGroup
	errs := make([]error, streams)
	for i := 0; i < streams; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			input := make([]byte, size)
			if _, err := rand.Read(input); err != nil {
				errs[i] = err
				return
			}

			ds, err := NewDeflateStream(cfg, accel, 6, 15)
			if err != nil {
				errs[i] = err
				return
			}
			var compressed bytes.Buffer
			scratch := make([]byte, 64*1024)
			remaining := input
			for {
				flush := codec.FlushNone
				if len(remaining) <= 64*1024 {
					flush = codec.FlushFinish
				}
				n := 64 * 1024
				if n > len(remaining) {
					n = len(remaining)
				}
				consumed, produced, st, err := ds.Deflate(remaining[:n], scratch, flush)
				if err != nil {
					errs[i] = err
					return
				}
				compressed.Write(scratch[:produced])
				remaining = remaining[consumed:]
				if st == status.StreamEnd {
					break
				}
			}
			ds.End()

			is, err := NewInflateStream(cfg, accel, 15)
			if err != nil {
				errs[i] = err
				return
			}
			var out bytes.Buffer
			compBytes := compressed.Bytes()
			for {
				n := 64 * 1024
				if n > len(compBytes) {
					n = len(compBytes)
				}
				consumed, produced, st, err := is.Inflate(compBytes[:n], scratch, codec.FlushNone)
				if err != nil {
					errs[i] = err
					return
				}
				out.Write(scratch[:produced])
				compBytes = compBytes[consumed:]
				if st == status.StreamEnd {
					break
				}
			}
			is.End()

			if !bytes.Equal(out.Bytes(), input) {
				errs[i] = errBadRoundTrip
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("stream %d: %v", i, err)
		}
	}
}

var errBadRoundTrip = status.New(status.DataError, "concurrent round trip mismatch")

func TestResetStartsFreshStream(t *testing.T) {
	accel := newTestAccelerator(t)
	cfg := DefaultConfig()

	ds, err := NewDeflateStream(cfg, accel, 6, 15)
	if err != nil {
		t.Fatalf("NewDeflateStream: %v", err)
	}
	defer ds.End()

	scratch := make([]byte, 4096)
	if _, _, _, err := ds.Deflate([]byte("warm up the stream"), scratch, codec.FlushSync); err != nil {
		t.Fatalf("Deflate: %v", err)
	}
	if err := ds.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	out := deflateAll(t, ds, []byte("A"), 4096)

	is, err := NewInflateStream(cfg, accel, 15)
	if err != nil {
		t.Fatalf("NewInflateStream: %v", err)
	}
	defer is.End()
	got := inflateAll(t, is, out, 4096)
	if string(got) != "A" {
		t.Fatalf("post-reset round trip = %q, want %q", got, "A")
	}
}
