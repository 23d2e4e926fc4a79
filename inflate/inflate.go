// Package inflate implements the hardware Inflate Engine: wrapper
// strip, DDCB construction/result parsing, and trailer verification
// from spec.md §4.5. As with deflate, the accelerator only ever
// exchanges raw DEFLATE bytes; wrapper bytes are consumed here, ahead
// of any hardware submission, via codec.WrapperParser.
package inflate

import (
	"context"
	"encoding/binary"
	"hash/adler32"

	"github.com/hwzedc/hwzedc/codec"
	"github.com/hwzedc/hwzedc/ddcb"
	"github.com/hwzedc/hwzedc/status"
)

// Engine is the hardware-backed codec.Inflater.
type Engine struct {
	state      *codec.State
	parser     *codec.WrapperParser
	dispatcher *ddcb.Dispatcher
	sim        *ddcb.Simulator
	contextID  uint32

	dict    []byte
	eobSeen bool
}

// New builds an Engine bound to one dispatcher context.
func New(windowBits int, dispatcher *ddcb.Dispatcher, sim *ddcb.Simulator, contextID uint32) (*Engine, error) {
	format, _, ok := codec.WindowBitsToFormat(windowBits)
	if !ok {
		return nil, status.New(status.StreamError, "invalid window_bits")
	}
	state := codec.NewState(format)
	state.Header = &codec.GzipHeader{}
	return &Engine{
		state:      state,
		parser:     codec.NewWrapperParser(format, state.Header),
		dispatcher: dispatcher,
		sim:        sim,
		contextID:  contextID,
	}, nil
}

// SetDictionary installs a preset dictionary, required before the
// first Inflate call when the encoder used one.
func (e *Engine) SetDictionary(dict []byte) error {
	e.dict = dict
	e.state.Dict.Seed(dict)
	if e.sim != nil {
		e.sim.SetDictionary(e.contextID, dict)
	}
	return nil
}

// GetDictionary returns the current dictionary page contents.
func (e *Engine) GetDictionary() ([]byte, error) {
	return e.state.Dict.In()[:e.state.Dict.Len], nil
}

// GetHeader returns the gzip header fields the wrapper parser has
// collected so far.
func (e *Engine) GetHeader() (*codec.GzipHeader, error) {
	return e.state.Header, nil
}

// Inflate implements codec.Inflater.
func (e *Engine) Inflate(in, out *codec.Cursor, flush codec.FlushMode) (status.Status, error) {
	// A single gzip header can require several of the parser's internal
	// state transitions (fixed fields, then FEXTRA/FNAME/FCOMMENT/FHCRC
	// in turn); drain every transition the already-available bytes
	// allow before giving up and asking the caller for more.
	for !e.parser.Done() {
		prevState := e.parser.State
		consumed, err := e.parser.Feed(in.Buf)
		in.Advance(consumed)
		e.state.WrapperState = e.parser.State

		if err != nil {
			return status.DataError, err
		}
		if e.parser.NeedDictionary() {
			if !e.dictMatches(e.parser.DictAdler32()) {
				return status.NeedDict, nil
			}
		}
		if e.parser.Done() {
			break
		}
		if consumed == 0 && e.parser.State == prevState {
			// No progress is possible with the bytes on hand.
			return status.Ok, nil
		}
	}

	if !e.eobSeen {
		if len(in.Buf) == 0 {
			return status.Ok, nil
		}
		if st, err := e.submit(in, out); err != nil || st != status.Ok {
			return st, err
		}
	}

	if e.eobSeen {
		if e.state.BytesInDict > 0 {
			n := copy(out.Buf, e.state.Dict.In()[e.state.Dict.Len-e.state.BytesInDict:e.state.Dict.Len])
			out.Advance(n)
			e.state.BytesInDict -= n
		}
		if e.state.BytesInDict == 0 {
			done, err := e.verifyTrailer(in)
			if err != nil {
				return status.DataError, err
			}
			if !done {
				// The trailer hasn't fully arrived yet. None of it was
				// consumed; it is checked on a later call whose input
				// holds the whole trailer.
				return status.Ok, nil
			}
			return status.StreamEnd, nil
		}
	}
	return status.Ok, nil
}

func (e *Engine) dictMatches(wantAdler uint32) bool {
	if len(e.dict) == 0 {
		return false
	}
	return adler32.Checksum(e.dict) == wantAdler
}

// submit drives one DDCB round trip and reports a non-nil error only
// on a genuinely terminal outcome; status.NeedDict/status.Ok are
// reported through the returned Status with a nil error so Inflate can
// fold them into its normal return path.
func (e *Engine) submit(in, out *codec.Cursor) (status.Status, error) {
	req := &ddcb.Request{
		ContextID: e.contextID,
		Opcode:    ddcb.OpcodeInflate,
		ASIV:      ddcb.EncodeRequestASIV(in.Buf, out.Buf, false),
		ASVLen:    12,
	}
	if err := e.dispatcher.Execute(context.Background(), req); err != nil {
		return status.StreamError, err
	}
	if req.Status == status.NeedDict {
		// Raw streams have no dictionary-discovery protocol of their
		// own (no FDICT bit to have carried a mismatch through); a
		// raw-format NeedDict from the accelerator means the data
		// itself references back-references it can't resolve, which
		// is a data error rather than something a caller can fix by
		// calling SetDictionary.
		if e.state.Format == codec.FormatRaw {
			return status.DataError, status.New(status.DataError, "raw stream references missing dictionary data")
		}
		return status.NeedDict, nil
	}
	if req.Status.IsError() {
		return status.StreamError, status.New(req.Status, "inflate DDCB failed")
	}

	consumed := binary.BigEndian.Uint32(req.Result[0:4])
	produced := binary.BigEndian.Uint32(req.Result[4:8])
	final := req.Result[8]&1 != 0

	produced32 := int(produced)
	if produced32 > 0 {
		e.state.UpdateChecksums(out.Buf[:produced32])
		e.state.Dict.SlideAndSwap(out.Buf[:produced32])
	}
	if err := e.state.CheckInvariants(); err != nil {
		return status.StreamError, err
	}
	e.state.TotalIn += int64(consumed)
	e.state.TotalOut += int64(produced)
	in.Advance(int(consumed))
	out.Advance(produced32)

	if final {
		e.eobSeen = true
		e.state.Flags.EOBSeen = true
		e.state.Flags.FinalEOB = true
	}
	return status.Ok, nil
}

// verifyTrailer checks the wrapper's trailer checksum once the whole
// trailer is present in in. When in holds fewer bytes than the trailer
// needs it returns done=false with a nil error and consumes nothing;
// trailer bytes are not collected across calls.
func (e *Engine) verifyTrailer(in *codec.Cursor) (done bool, err error) {
	switch e.state.Format {
	case codec.FormatGzip:
		if len(in.Buf) < 8 {
			return false, nil
		}
		wantCRC := binary.LittleEndian.Uint32(in.Buf[0:4])
		wantSize := binary.LittleEndian.Uint32(in.Buf[4:8])
		in.Advance(8)
		if wantCRC != e.state.CRC32 {
			return true, status.New(status.DataError, "gzip CRC-32 mismatch")
		}
		if wantSize != uint32(e.state.TotalOut) {
			return true, status.New(status.DataError, "gzip ISIZE mismatch")
		}
	case codec.FormatZlib:
		if len(in.Buf) < 4 {
			return false, nil
		}
		wantAdler := binary.BigEndian.Uint32(in.Buf[0:4])
		in.Advance(4)
		if wantAdler != e.state.Adler {
			return true, status.New(status.DataError, "zlib Adler-32 mismatch")
		}
	}
	return true, nil
}

// Reset reinitializes the stream.
func (e *Engine) Reset() error {
	return e.reinit(e.state.Format)
}

// Reset2 reinitializes the stream with a new window_bits selection.
func (e *Engine) Reset2(windowBits int) error {
	format, _, ok := codec.WindowBitsToFormat(windowBits)
	if !ok {
		return status.New(status.StreamError, "invalid window_bits")
	}
	return e.reinit(format)
}

func (e *Engine) reinit(format codec.Format) error {
	state := codec.NewState(format)
	state.Header = &codec.GzipHeader{}
	e.state = state
	e.parser = codec.NewWrapperParser(format, state.Header)
	e.dict = nil
	e.eobSeen = false
	if e.sim != nil {
		e.sim.Forget(e.contextID)
		e.sim.SetDictionary(e.contextID, nil)
	}
	return nil
}

// End releases this engine's dispatcher context resources.
func (e *Engine) End() error {
	if e.sim != nil {
		e.sim.Forget(e.contextID)
	}
	return nil
}
