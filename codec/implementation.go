package codec

import "github.com/hwzedc/hwzedc/status"

// FlushMode mirrors the zlib flush argument passed to deflate()/
// inflate() calls.
type FlushMode int

const (
	FlushNone FlushMode = iota
	FlushSync
	FlushPartial
	FlushFull
	FlushFinish
)

// Cursor tracks a buffer's {pointer, remaining, total} triple from
// spec.md §3. It is expressed here as a byte-slice view plus a running
// total rather than a raw pointer/length pair, since the Go core reads
// and writes through slices instead of C pointers.
type Cursor struct {
	Buf   []byte // remaining bytes, shrinks as bytes are consumed/produced
	Total int64  // cumulative bytes consumed/produced over the stream's life
}

// Advance consumes n bytes from the front of the cursor and adds them
// to Total.
func (c *Cursor) Advance(n int) {
	c.Buf = c.Buf[n:]
	c.Total += int64(n)
}

// Deflater is the shared interface the hardware deflate engine and the
// software fallback both satisfy, letting the switching shim hold a
// single interface value and swap it at the one allowed switch point
// (spec.md §9: "a shared interface trait that exposes the minimal
// streaming operations").
type Deflater interface {
	SetDictionary(dict []byte) error
	SetHeader(h *GzipHeader) error
	Deflate(in, out *Cursor, flush FlushMode) (status.Status, error)
	Reset() error
	End() error
}

// Inflater is the Inflater-side equivalent of Deflater.
type Inflater interface {
	SetDictionary(dict []byte) error
	GetDictionary() ([]byte, error)
	GetHeader() (*GzipHeader, error)
	Inflate(in, out *Cursor, flush FlushMode) (status.Status, error)
	Reset() error
	Reset2(windowBits int) error
	End() error
}
