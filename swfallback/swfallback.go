// Package swfallback implements codec.Deflater/codec.Inflater purely
// in software, for streams the switching shim routes away from the
// accelerator (spec.md §9's sum-type-over-{Hardware,Software} shim)
// and for any caller configured with force-software-only. It is a
// thin adapter over github.com/klauspost/compress, the retrieval
// pack's real-world drop-in replacement for compress/flate (seen
// vendored under rclone, moby, and DataDog's own tooling), not a
// second compression engine: re-deriving DEFLATE bit-shuffling here
// would be exactly the general-purpose-compression-library Non-goal
// spec.md rules out.
package swfallback

import (
	"io"

	"github.com/hwzedc/hwzedc/codec"
)

// flushWriter is the common surface of klauspost's flate/zlib/gzip
// Writer types this package drives.
type flushWriter interface {
	io.Writer
	Flush() error
	Close() error
}

// drain copies as much of pending as out.Buf has room for, advances
// out, and returns the bytes that remain undelivered.
func drain(pending []byte, out *codec.Cursor) []byte {
	n := copy(out.Buf, pending)
	out.Advance(n)
	return pending[n:]
}
