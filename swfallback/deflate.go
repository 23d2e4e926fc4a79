package swfallback

import (
	"bytes"
	"fmt"
	"time"

	kflate "github.com/klauspost/compress/flate"
	kgzip "github.com/klauspost/compress/gzip"
	kzlib "github.com/klauspost/compress/zlib"

	"github.com/hwzedc/hwzedc/codec"
	"github.com/hwzedc/hwzedc/status"
)

// Deflater is the software-only codec.Deflater implementation.
type Deflater struct {
	format codec.Format
	level  int
	dict   []byte
	header *codec.GzipHeader

	buf      bytes.Buffer // compressed bytes produced but not yet delivered
	w        flushWriter
	finished bool
}

// NewDeflater builds a Deflater for the wrapper format windowBits
// selects, at the given zlib-compatible compression level.
func NewDeflater(windowBits, level int) (*Deflater, error) {
	format, _, ok := codec.WindowBitsToFormat(windowBits)
	if !ok {
		return nil, status.New(status.StreamError, "invalid window_bits")
	}
	d := &Deflater{format: format, level: level}
	if err := d.reopen(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Deflater) reopen() error {
	d.buf.Reset()
	d.finished = false

	switch d.format {
	case codec.FormatGzip:
		gz, err := kgzip.NewWriterLevel(&d.buf, d.level)
		if err != nil {
			return fmt.Errorf("swfallback: %w", err)
		}
		if d.header != nil {
			gz.Name = d.header.Name
			gz.Comment = d.header.Comment
			gz.ModTime = time.Unix(int64(d.header.Time), 0)
			gz.OS = d.header.OS
			gz.Extra = d.header.Extra
		}
		d.w = gz

	case codec.FormatZlib:
		var zw *kzlib.Writer
		var err error
		if len(d.dict) > 0 {
			zw, err = kzlib.NewWriterLevelDict(&d.buf, d.level, d.dict)
		} else {
			zw, err = kzlib.NewWriterLevel(&d.buf, d.level)
		}
		if err != nil {
			return fmt.Errorf("swfallback: %w", err)
		}
		d.w = zw

	default:
		var fw *kflate.Writer
		var err error
		if len(d.dict) > 0 {
			fw, err = kflate.NewWriterDict(&d.buf, d.level, d.dict)
		} else {
			fw, err = kflate.NewWriter(&d.buf, d.level)
		}
		if err != nil {
			return fmt.Errorf("swfallback: %w", err)
		}
		d.w = fw
	}
	return nil
}

// SetDictionary installs a preset dictionary. Per zlib convention this
// must happen before the first Deflate call; gzip streams carry no
// dictionary concept and reject a non-empty one.
func (d *Deflater) SetDictionary(dict []byte) error {
	if d.format == codec.FormatGzip && len(dict) > 0 {
		return status.New(status.StreamError, "gzip format does not support preset dictionaries")
	}
	d.dict = dict
	return d.reopen()
}

// SetHeader installs gzip header fields to emit; a no-op for
// non-gzip formats.
func (d *Deflater) SetHeader(h *codec.GzipHeader) error {
	d.header = h
	if d.format == codec.FormatGzip {
		return d.reopen()
	}
	return nil
}

// Deflate feeds in.Buf to the underlying compressor, applies flush,
// and drains whatever compressed output fits into out.Buf.
func (d *Deflater) Deflate(in, out *codec.Cursor, flush codec.FlushMode) (status.Status, error) {
	if d.finished && len(in.Buf) > 0 {
		return status.StreamError, status.New(status.StreamError, "deflate called after finish")
	}

	if len(in.Buf) > 0 {
		n, err := d.w.Write(in.Buf)
		in.Advance(n)
		if err != nil {
			return status.DataError, fmt.Errorf("swfallback: deflate write: %w", err)
		}
	}

	switch flush {
	case codec.FlushFinish:
		if err := d.w.Close(); err != nil {
			return status.DataError, fmt.Errorf("swfallback: deflate close: %w", err)
		}
		d.finished = true
	case codec.FlushSync, codec.FlushPartial, codec.FlushFull:
		if err := d.w.Flush(); err != nil {
			return status.DataError, fmt.Errorf("swfallback: deflate flush: %w", err)
		}
	}

	remaining := drain(d.buf.Bytes(), out)
	d.buf.Reset()
	d.buf.Write(remaining)

	if d.finished && d.buf.Len() == 0 {
		return status.StreamEnd, nil
	}
	return status.Ok, nil
}

// Reset reinitializes the stream, clearing dictionary and header as
// deflateReset does.
func (d *Deflater) Reset() error {
	d.dict = nil
	d.header = nil
	return d.reopen()
}

// End releases the underlying writer.
func (d *Deflater) End() error {
	if !d.finished {
		d.w.Close()
	}
	return nil
}
