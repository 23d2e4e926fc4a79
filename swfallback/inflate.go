package swfallback

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	kflate "github.com/klauspost/compress/flate"
	kgzip "github.com/klauspost/compress/gzip"
	kzlib "github.com/klauspost/compress/zlib"

	"github.com/hwzedc/hwzedc/codec"
	"github.com/hwzedc/hwzedc/status"
)

// Inflater is the software-only codec.Inflater implementation. Since
// klauspost's flate/zlib/gzip readers expect a blocking io.Reader
// rather than a Feed-style incremental API, newly-arrived input is
// written into one end of an io.Pipe while a dedicated goroutine runs
// the decompressor against the other end — a pipe Read rendezvous
// naturally stalls the decompressor exactly when it has consumed
// everything fed so far, which is the behavior an incremental caller
// needs.
type Inflater struct {
	format     codec.Format
	windowBits int
	dict       []byte
	header     *codec.GzipHeader

	pr *io.PipeReader
	pw *io.PipeWriter

	mu       sync.Mutex
	out      bytes.Buffer
	notify   chan struct{} // signaled after every append to out
	done     bool
	finalErr error
}

// NewInflater builds an Inflater for the wrapper format windowBits
// selects.
func NewInflater(windowBits int) (*Inflater, error) {
	format, _, ok := codec.WindowBitsToFormat(windowBits)
	if !ok {
		return nil, status.New(status.StreamError, "invalid window_bits")
	}
	inf := &Inflater{format: format, windowBits: windowBits}
	inf.reopen()
	return inf, nil
}

func (inf *Inflater) reopen() {
	if inf.pw != nil {
		inf.pw.Close()
	}
	inf.pr, inf.pw = io.Pipe()
	inf.out.Reset()
	inf.notify = make(chan struct{}, 1)
	inf.done = false
	inf.finalErr = nil

	go inf.run()
}

func (inf *Inflater) run() {
	var (
		r   io.Reader
		err error
	)
	switch inf.format {
	case codec.FormatGzip:
		var gz *kgzip.Reader
		gz, err = kgzip.NewReader(inf.pr)
		if err == nil {
			inf.mu.Lock()
			inf.header = &codec.GzipHeader{
				Name:    gz.Name,
				Comment: gz.Comment,
				Extra:   gz.Extra,
				OS:      gz.OS,
				Time:    uint32(gz.ModTime.Unix()),
				Done:    true,
			}
			inf.mu.Unlock()
		}
		r = gz
	case codec.FormatZlib:
		if len(inf.dict) > 0 {
			r, err = kzlib.NewReaderDict(inf.pr, inf.dict)
		} else {
			r, err = kzlib.NewReader(inf.pr)
		}
	default:
		if len(inf.dict) > 0 {
			r = kflate.NewReaderDict(inf.pr, inf.dict)
		} else {
			r = kflate.NewReader(inf.pr)
		}
	}
	if err != nil {
		inf.finish(err)
		return
	}

	buf := make([]byte, 32*1024)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			inf.mu.Lock()
			inf.out.Write(buf[:n])
			inf.mu.Unlock()
			select {
			case inf.notify <- struct{}{}:
			default:
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				inf.finish(nil)
			} else {
				inf.finish(rerr)
			}
			return
		}
	}
}

func (inf *Inflater) finish(err error) {
	inf.mu.Lock()
	inf.done = true
	inf.finalErr = err
	inf.mu.Unlock()
	select {
	case inf.notify <- struct{}{}:
	default:
	}
}

// SetDictionary installs a preset dictionary, required before the
// first Inflate call for streams encoded with one.
func (inf *Inflater) SetDictionary(dict []byte) error {
	inf.dict = dict
	inf.reopen()
	return nil
}

// GetDictionary is unsupported in software mode: klauspost's readers
// do not expose the window contents, only hardware's own dictionary
// page would.
func (inf *Inflater) GetDictionary() ([]byte, error) {
	return nil, status.New(status.StreamError, "GetDictionary unavailable in software mode")
}

// GetHeader returns the gzip header fields parsed from the stream, if
// any have been observed yet.
func (inf *Inflater) GetHeader() (*codec.GzipHeader, error) {
	inf.mu.Lock()
	defer inf.mu.Unlock()
	if inf.header != nil {
		return inf.header, nil
	}
	return &codec.GzipHeader{}, nil
}

// Inflate writes in.Buf into the pipe and drains whatever output the
// background decompressor has produced into out.Buf.
func (inf *Inflater) Inflate(in, out *codec.Cursor, flush codec.FlushMode) (status.Status, error) {
	if len(in.Buf) > 0 {
		n, err := inf.pw.Write(in.Buf)
		in.Advance(n)
		if err != nil {
			return inf.classify(err)
		}
	}

	select {
	case <-inf.notify:
	case <-time.After(5 * time.Millisecond):
	}

	inf.mu.Lock()
	pending := append([]byte(nil), inf.out.Bytes()...)
	inf.out.Reset()
	done := inf.done
	finalErr := inf.finalErr
	inf.mu.Unlock()

	remaining := drain(pending, out)
	inf.mu.Lock()
	inf.out.Write(remaining)
	inf.mu.Unlock()

	if done && len(remaining) == 0 {
		if finalErr != nil {
			return inf.classify(finalErr)
		}
		return status.StreamEnd, nil
	}
	return status.Ok, nil
}

func (inf *Inflater) classify(err error) (status.Status, error) {
	return status.DataError, fmt.Errorf("swfallback: inflate: %w", err)
}

// Reset reinitializes the stream, clearing dictionary and header.
func (inf *Inflater) Reset() error {
	inf.dict = nil
	inf.header = nil
	inf.reopen()
	return nil
}

// Reset2 reinitializes the stream with a new window_bits selection.
func (inf *Inflater) Reset2(windowBits int) error {
	format, _, ok := codec.WindowBitsToFormat(windowBits)
	if !ok {
		return status.New(status.StreamError, "invalid window_bits")
	}
	inf.format = format
	inf.windowBits = windowBits
	return inf.Reset()
}

// End releases the pipe and lets the background goroutine exit.
func (inf *Inflater) End() error {
	return inf.pw.Close()
}
