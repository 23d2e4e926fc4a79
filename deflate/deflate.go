// Package deflate implements the hardware Deflate Engine: wrapper
// header emission, DDCB construction/result parsing and trailer
// emission from spec.md §4.4. End-of-block framing is the
// accelerator's own self-terminating output: the engine synthesizes no
// EOB byte patterns, and it has no skip-last-dictionary optimization.
// The accelerator (real or simulated) only ever sees raw
// DEFLATE bytes; wrapper framing is this package's job, drained
// through codec's byte FIFOs independently of any hardware
// submission, per spec.md §2's data-flow description.
package deflate

import (
	"context"
	"encoding/binary"
	"hash/adler32"

	"github.com/hwzedc/hwzedc/codec"
	"github.com/hwzedc/hwzedc/ddcb"
	"github.com/hwzedc/hwzedc/status"
)

// Engine is the hardware-backed codec.Deflater.
type Engine struct {
	state      *codec.State
	dispatcher *ddcb.Dispatcher
	sim        *ddcb.Simulator // non-nil only against a simulated transport
	contextID  uint32
	finished   bool
}

// New builds an Engine bound to one dispatcher context. sim is nil
// when the dispatcher is backed by real hardware; against a
// Simulator it lets SetDictionary seed the simulated compressor,
// since real DMA-resident dictionary pages aren't modeled by this
// exercise's simplified ASIV encoding (see ddcb.Simulator's doc
// comment).
func New(windowBits int, dispatcher *ddcb.Dispatcher, sim *ddcb.Simulator, contextID uint32) (*Engine, error) {
	format, _, ok := codec.WindowBitsToFormat(windowBits)
	if !ok {
		return nil, status.New(status.StreamError, "invalid window_bits")
	}
	return &Engine{
		state:      codec.NewState(format),
		dispatcher: dispatcher,
		sim:        sim,
		contextID:  contextID,
	}, nil
}

// SetDictionary installs a preset dictionary, required before the
// first Deflate call.
func (e *Engine) SetDictionary(dict []byte) error {
	e.state.Dict.Seed(dict)
	e.state.Flags.HaveDict = true
	// The zlib header carries the dictionary's Adler-32 as its
	// dictionary id; the first submit replaces it with the running
	// checksum of the data.
	e.state.Adler = adler32.Checksum(dict)
	if e.sim != nil {
		e.sim.SetDictionary(e.contextID, dict)
	}
	return nil
}

// SetHeader installs gzip header fields to emit.
func (e *Engine) SetHeader(h *codec.GzipHeader) error {
	if h != nil && h.OptionalBytesLen() > codec.MaxOptionalHeaderBytes {
		return status.New(status.StreamError, "gzip optional header fields exceed FIFO capacity")
	}
	e.state.Header = h
	return nil
}

func (e *Engine) emitHeader() {
	if e.state.Flags.HeaderAdded {
		return
	}
	switch e.state.Format {
	case codec.FormatZlib:
		e.emitZlibHeader()
	case codec.FormatGzip:
		e.emitGzipHeader()
	}
	e.state.Flags.HeaderAdded = true
}

func (e *Engine) emitZlibHeader() {
	cmf := byte(0x78)
	flg := byte(0x9c)
	if e.state.Flags.HaveDict {
		flg = 0xbb
	}
	e.state.PreFIFO.Push([]byte{cmf, flg})
	if e.state.Flags.HaveDict {
		var id [4]byte
		binary.BigEndian.PutUint32(id[:], e.state.Adler)
		e.state.PreFIFO.Push(id[:])
	}
}

func (e *Engine) emitGzipHeader() {
	h := e.state.Header
	if h == nil {
		h = codec.DefaultGzipHeader(0)
	}
	flg := byte(0)
	if len(h.Extra) > 0 {
		flg |= flgExtra
	}
	if h.Name != "" {
		flg |= flgName
	}
	if h.Comment != "" {
		flg |= flgComment
	}
	if h.HCRC {
		flg |= flgHCRC
	}
	if h.Text {
		flg |= flgText
	}

	hdr := make([]byte, 10)
	hdr[0], hdr[1] = gzipID1, gzipID2
	hdr[2] = gzipDeflate
	hdr[3] = flg
	binary.LittleEndian.PutUint32(hdr[4:], h.Time)
	hdr[8] = h.XFlags
	hdr[9] = h.OS
	e.state.PreFIFO.Push(hdr)

	if len(h.Extra) > 0 {
		var l [2]byte
		binary.LittleEndian.PutUint16(l[:], uint16(len(h.Extra)))
		e.state.PreFIFO.Push(l[:])
		e.state.PreFIFO.Push(h.Extra)
	}
	if h.Name != "" {
		e.state.PreFIFO.Push(append([]byte(h.Name), 0))
	}
	if h.Comment != "" {
		e.state.PreFIFO.Push(append([]byte(h.Comment), 0))
	}
	if h.HCRC {
		e.state.PreFIFO.Push([]byte{0, 0})
	}
}

// Gzip wire constants mirrored from codec.wrapper_parser.go's reader
// side, for the writer side this package owns.
const (
	gzipID1     = 0x1f
	gzipID2     = 0x8b
	gzipDeflate = 8

	flgText    = 1 << 0
	flgHCRC    = 1 << 1
	flgExtra   = 1 << 2
	flgName    = 1 << 3
	flgComment = 1 << 4
)

func (e *Engine) emitTrailer() {
	if e.state.Flags.TrailerAdded {
		return
	}
	switch e.state.Format {
	case codec.FormatZlib:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], e.state.Adler)
		e.state.PostFIFO.Push(b[:])
	case codec.FormatGzip:
		var b [8]byte
		binary.LittleEndian.PutUint32(b[0:], e.state.CRC32)
		binary.LittleEndian.PutUint32(b[4:], uint32(e.state.TotalIn))
		e.state.PostFIFO.Push(b[:])
	}
	e.state.Flags.TrailerAdded = true
}

// Deflate implements codec.Deflater.
func (e *Engine) Deflate(in, out *codec.Cursor, flush codec.FlushMode) (status.Status, error) {
	if e.finished && len(in.Buf) > 0 {
		return status.StreamError, status.New(status.StreamError, "deflate called after finish")
	}

	e.emitHeader()

	// Wrapper bytes always drain before any hardware submission.
	if !e.state.PreFIFO.Empty() {
		var staged [codec.FIFOCapacity]byte
		n := e.state.PreFIFO.Drain(staged[:])
		leftover := drainInto(staged[:n], out)
		if leftover > 0 {
			e.state.PreFIFO.Push(staged[n-leftover : n])
		}
	}

	finish := flush == codec.FlushFinish
	syncPoint := flush == codec.FlushSync || flush == codec.FlushPartial || flush == codec.FlushFull
	if len(in.Buf) > 0 || ((finish || syncPoint) && !e.finished) {
		if err := e.submit(in, out, finish); err != nil {
			return status.StreamError, err
		}
	}

	// SYNC_FLUSH/PARTIAL_FLUSH/FULL_FLUSH all force the submission
	// above to hand back a decodable boundary (ddcb.Simulator.runDeflate
	// flushes its writer on every non-finish submit already, per
	// spec.md §4.4's sync-pattern requirement); FULL_FLUSH additionally
	// drops the carried-forward dictionary length, per spec.md §4.4's
	// "same as sync-flush plus clear the input-dictionary length".
	if flush == codec.FlushFull {
		e.state.Dict.Len = 0
	}

	if finish && len(in.Buf) == 0 && e.finished {
		e.emitTrailer()
	}

	if !e.state.PostFIFO.Empty() {
		var staged [codec.FIFOCapacity]byte
		n := e.state.PostFIFO.Drain(staged[:])
		leftover := drainInto(staged[:n], out)
		if leftover > 0 {
			e.state.PostFIFO.Push(staged[n-leftover : n])
		}
	}

	if e.finished && e.state.PreFIFO.Empty() && e.state.PostFIFO.Empty() {
		return status.StreamEnd, nil
	}
	return status.Ok, nil
}

func (e *Engine) submit(in, out *codec.Cursor, finish bool) error {
	inputBytes := in.Buf
	outputBytes := out.Buf

	req := &ddcb.Request{
		ContextID: e.contextID,
		Opcode:    ddcb.OpcodeDeflate,
		ASIV:      ddcb.EncodeRequestASIV(inputBytes, outputBytes, finish),
		ASVLen:    12,
	}
	if err := e.dispatcher.Execute(context.Background(), req); err != nil {
		return err
	}
	if req.Status.IsError() {
		return status.New(req.Status, "deflate DDCB failed")
	}

	consumed := binary.BigEndian.Uint32(req.Result[0:4])
	produced := binary.BigEndian.Uint32(req.Result[4:8])
	finalBlock := req.Result[8]&1 != 0

	consumedBytes := in.Buf[:consumed]
	e.state.UpdateChecksums(consumedBytes)
	e.state.TotalIn += int64(consumed)
	e.state.TotalOut += int64(produced)
	e.state.Dict.SlideAndSwap(consumedBytes)
	if err := e.state.CheckInvariants(); err != nil {
		return err
	}
	in.Advance(int(consumed))
	out.Advance(int(produced))

	// The final block counts only once its output fit in out; otherwise
	// the next finish call collects the rest.
	if finalBlock && int(produced) < len(outputBytes) {
		e.finished = true
	}
	return nil
}

// drainInto copies as much of staged as out.Buf has room for,
// advances out, and returns how many bytes of staged could not be
// delivered this call.
func drainInto(staged []byte, out *codec.Cursor) int {
	n := copy(out.Buf, staged)
	out.Advance(n)
	return len(staged) - n
}

// Reset reinitializes the stream, clearing dictionary and header.
func (e *Engine) Reset() error {
	format := e.state.Format
	e.state = codec.NewState(format)
	e.finished = false
	if e.sim != nil {
		e.sim.Forget(e.contextID)
		e.sim.SetDictionary(e.contextID, nil)
	}
	return nil
}

// End releases this engine's dispatcher context resources. The
// dispatcher itself is shared and owned by the caller.
func (e *Engine) End() error {
	if e.sim != nil {
		e.sim.Forget(e.contextID)
	}
	return nil
}
