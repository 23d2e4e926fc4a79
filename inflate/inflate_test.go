package inflate

import (
	"bytes"
	"testing"

	"github.com/hwzedc/hwzedc/codec"
	"github.com/hwzedc/hwzedc/ddcb"
	"github.com/hwzedc/hwzedc/deflate"
	"github.com/hwzedc/hwzedc/status"
	"github.com/hwzedc/hwzedc/transport"
)

func newTestDispatcher(t *testing.T) (*ddcb.Dispatcher, *ddcb.Simulator) {
	t.Helper()
	sim := ddcb.NewSimulator()
	handle := transport.NewSimHandleWithExecutor(0, transport.ModeReadWrite, sim.Execute)
	d, err := ddcb.New(handle)
	if err != nil {
		t.Fatalf("ddcb.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d, sim
}

func compressWithEngine(t *testing.T, dispatcher *ddcb.Dispatcher, sim *ddcb.Simulator, windowBits int, contextID uint32, header *codec.GzipHeader, input []byte) []byte {
	t.Helper()
	e, err := deflate.New(windowBits, dispatcher, sim, contextID)
	if err != nil {
		t.Fatalf("deflate.New: %v", err)
	}
	if header != nil {
		if err := e.SetHeader(header); err != nil {
			t.Fatalf("SetHeader: %v", err)
		}
	}
	in := &codec.Cursor{Buf: input}
	outBuf := make([]byte, 8192)
	out := &codec.Cursor{Buf: outBuf}
	st, err := e.Deflate(in, out, codec.FlushFinish)
	if err != nil {
		t.Fatalf("Deflate: %v", err)
	}
	if st != status.StreamEnd {
		t.Fatalf("Deflate status = %v, want StreamEnd", st)
	}
	e.End()
	return outBuf[:out.Total]
}

func TestEngineRawInflateRoundTrip(t *testing.T) {
	dispatcher, sim := newTestDispatcher(t)
	input := []byte("round trip through both hardware engines, raw format")
	compressed := compressWithEngine(t, dispatcher, sim, -15, 1, nil, input)

	e, err := New(-15, dispatcher, sim, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.End() })

	in := &codec.Cursor{Buf: compressed}
	outBuf := make([]byte, 8192)
	out := &codec.Cursor{Buf: outBuf}
	st, err := e.Inflate(in, out, codec.FlushNone)
	if err != nil {
		t.Fatalf("Inflate: %v", err)
	}
	if st != status.StreamEnd {
		t.Fatalf("status = %v, want StreamEnd", st)
	}
	if !bytes.Equal(outBuf[:out.Total], input) {
		t.Fatalf("round-trip mismatch: got %q, want %q", outBuf[:out.Total], input)
	}
}

// gzipTrailerLen/zlibTrailerLen match the fixed-size trailers
// deflate.Engine appends (CRC32+ISIZE, Adler32 respectively). Tests
// split these off and feed them in their own Inflate call after the
// compressed body.
const (
	gzipTrailerLen = 8
	zlibTrailerLen = 4
)

func TestEngineGzipInflateVerifiesTrailer(t *testing.T) {
	dispatcher, sim := newTestDispatcher(t)
	input := []byte("hello from the accelerator, with a gzip wrapper this time")
	hdr := &codec.GzipHeader{Name: "payload.bin", OS: 3, XFlags: 2}
	compressed := compressWithEngine(t, dispatcher, sim, 31, 10, hdr, input)
	body, trailer := compressed[:len(compressed)-gzipTrailerLen], compressed[len(compressed)-gzipTrailerLen:]

	e, err := New(31, dispatcher, sim, 11)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.End() })

	outBuf := make([]byte, 8192)
	out := &codec.Cursor{Buf: outBuf}
	in := &codec.Cursor{Buf: body}
	st, err := e.Inflate(in, out, codec.FlushNone)
	if err != nil {
		t.Fatalf("Inflate(body): %v", err)
	}
	if st != status.Ok {
		t.Fatalf("status after body = %v, want Ok (trailer not yet seen)", st)
	}

	in = &codec.Cursor{Buf: trailer}
	st, err = e.Inflate(in, out, codec.FlushNone)
	if err != nil {
		t.Fatalf("Inflate(trailer): %v", err)
	}
	if st != status.StreamEnd {
		t.Fatalf("status after trailer = %v, want StreamEnd", st)
	}
	if !bytes.Equal(outBuf[:out.Total], input) {
		t.Fatalf("round-trip mismatch: got %q, want %q", outBuf[:out.Total], input)
	}

	got, err := e.GetHeader()
	if err != nil {
		t.Fatalf("GetHeader: %v", err)
	}
	if got.Name != hdr.Name {
		t.Fatalf("GetHeader().Name = %q, want %q", got.Name, hdr.Name)
	}
}

func TestEngineGzipInflateCorruptTrailerIsDataError(t *testing.T) {
	dispatcher, sim := newTestDispatcher(t)
	input := []byte("a short payload")
	compressed := compressWithEngine(t, dispatcher, sim, 31, 20, nil, input)
	compressed[len(compressed)-1] ^= 0xFF // flip a bit in the ISIZE trailer field
	body, trailer := compressed[:len(compressed)-gzipTrailerLen], compressed[len(compressed)-gzipTrailerLen:]

	e, err := New(31, dispatcher, sim, 21)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.End() })

	out := &codec.Cursor{Buf: make([]byte, 8192)}
	in := &codec.Cursor{Buf: body}
	if _, err := e.Inflate(in, out, codec.FlushNone); err != nil {
		t.Fatalf("Inflate(body): %v", err)
	}

	in = &codec.Cursor{Buf: trailer}
	st, err := e.Inflate(in, out, codec.FlushNone)
	if err == nil || st != status.DataError {
		t.Fatalf("Inflate with corrupted trailer = (%v, %v), want (DataError, non-nil error)", st, err)
	}
}

func TestEngineOneByteAtATimeChunking(t *testing.T) {
	dispatcher, sim := newTestDispatcher(t)
	input := []byte("chunked one byte at a time to exercise partial wrapper parsing")
	compressed := compressWithEngine(t, dispatcher, sim, 15, 30, nil, input)

	e, err := New(15, dispatcher, sim, 31)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.End() })

	var result bytes.Buffer
	for i := 0; i < len(compressed); i++ {
		in := &codec.Cursor{Buf: compressed[i : i+1]}
		outBuf := make([]byte, 256)
		out := &codec.Cursor{Buf: outBuf}
		st, err := e.Inflate(in, out, codec.FlushNone)
		result.Write(outBuf[:out.Total])
		if err != nil {
			t.Fatalf("Inflate byte %d: %v", i, err)
		}
		if st == status.StreamEnd {
			break
		}
	}
	if !bytes.Equal(result.Bytes(), input) {
		t.Fatalf("one-byte-at-a-time round-trip mismatch: got %q, want %q", result.Bytes(), input)
	}
}
