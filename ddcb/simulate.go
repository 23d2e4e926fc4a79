package ddcb

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"
	"unsafe"

	"github.com/klauspost/compress/flate"
)

// Simulator performs the raw-DEFLATE transform a real accelerator
// would perform in silicon, keyed per stream context so a sequence of
// DDCB submissions against the same context observes the same
// streaming compressor/decompressor state a hardware engine's
// dictionary-carry would provide. It is injected into
// transport.NewSimHandleWithExecutor for tests and for any caller
// without real hardware. Wrapper framing (zlib/gzip headers,
// trailers, checksums) never reaches here: the deflate/inflate engine
// packages drain those through codec.FIFO independently, matching
// spec.md §2's data-flow description of DDCBs carrying only the raw
// compressed bitstream.
type Simulator struct {
	mu      sync.Mutex
	streams map[uint32]*simStream
	dicts   map[uint32][]byte
}

type simStream struct {
	mu sync.Mutex

	// deflate side
	out *bytes.Buffer
	zw  *flate.Writer

	// inflate side: all compressed bytes seen so far, re-decoded from
	// scratch on every call. Simulators favor correctness over
	// performance.
	compressed *bytes.Buffer
	decoded    []byte
	dict       []byte
}

// NewSimulator constructs an empty Simulator.
func NewSimulator() *Simulator {
	return &Simulator{
		streams: make(map[uint32]*simStream),
		dicts:   make(map[uint32][]byte),
	}
}

// SetDictionary records a preset dictionary for a context, consumed
// the next time that context's stream is lazily created. Must be
// called before the context's first Execute.
func (s *Simulator) SetDictionary(id uint32, dict []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dicts[id] = dict
}

func (s *Simulator) stream(id uint32) *simStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	if !ok {
		out := &bytes.Buffer{}
		dict := s.dicts[id]
		var zw *flate.Writer
		if len(dict) > 0 {
			zw, _ = flate.NewWriterDict(out, flate.DefaultCompression, dict)
		} else {
			zw, _ = flate.NewWriter(out, flate.DefaultCompression)
		}
		st = &simStream{
			out:        out,
			zw:         zw,
			compressed: &bytes.Buffer{},
			dict:       dict,
		}
		s.streams[id] = st
	}
	return st
}

// Forget drops per-context state once a stream ends, so long-lived
// processes don't leak an entry per stream ever opened.
func (s *Simulator) Forget(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, id)
}

// simASIV is the Simulator's own ASIV payload convention, living after
// the 4-byte context-id prefix every DDCB carries. It passes raw
// process addresses because the simulator runs in the same address
// space as its caller — SimHandle already does the same trick to
// reinterpret the mmap'd queue memory it is handed.
type simASIV struct {
	inPtr  uint64
	inLen  uint32
	outPtr uint64
	outCap uint32
	finish bool
}

const (
	simInPtr  = 0
	simInLen  = 8
	simOutPtr = 12
	simOutCap = 20
	simFlags  = 24

	simFlagFinish = 1 << 0
)

func decodeSimASIV(payload []byte) simASIV {
	return simASIV{
		inPtr:  binary.BigEndian.Uint64(payload[simInPtr:]),
		inLen:  binary.BigEndian.Uint32(payload[simInLen:]),
		outPtr: binary.BigEndian.Uint64(payload[simOutPtr:]),
		outCap: binary.BigEndian.Uint32(payload[simOutCap:]),
		finish: payload[simFlags]&simFlagFinish != 0,
	}
}

// EncodeRequestASIV builds the ASIV payload (excluding the context-id
// prefix, which Dispatcher.install adds) for one simulated DDCB
// submission. Exported so the deflate/inflate engines can build
// requests against this executor without duplicating the layout.
func EncodeRequestASIV(in, out []byte, finish bool) []byte {
	buf := make([]byte, 25)
	binary.BigEndian.PutUint64(buf[simInPtr:], uint64(uintptr(ptrOf(in))))
	binary.BigEndian.PutUint32(buf[simInLen:], uint32(len(in)))
	binary.BigEndian.PutUint64(buf[simOutPtr:], uint64(uintptr(ptrOf(out))))
	binary.BigEndian.PutUint32(buf[simOutCap:], uint32(len(out)))
	if finish {
		buf[simFlags] = simFlagFinish
	}
	return buf
}

func ptrOf(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

func sliceAt(addr uint64, length int) []byte {
	if length == 0 {
		return nil
	}
	a := uintptr(addr)
	ptr := *(*unsafe.Pointer)(unsafe.Pointer(&a))
	return unsafe.Slice((*byte)(ptr), length)
}

// Result fields written back into the ASV region, at fixed offsets.
const (
	simResultConsumed = 0
	simResultProduced = 4
	simResultFlags    = 8

	simResultFinalBlock = 1 << 0
)

// Execute is a transport.Executor: it reads the submitted DDCB's
// opcode and ASIV payload, performs the transform, and writes the
// consumed/produced counts plus completion codes back into the block.
func (s *Simulator) Execute(raw []byte) {
	var b Block
	copy(b[:], raw)

	ctxID := b.ASIVContextID()
	asiv := decodeSimASIV(b.ASIVPayload())
	in := sliceAt(asiv.inPtr, int(asiv.inLen))
	out := sliceAt(asiv.outPtr, int(asiv.outCap))

	st := s.stream(ctxID)
	st.mu.Lock()
	var consumed, produced int
	var finalBlock bool
	var retc, attn uint16 = 0x102, 0 // "finished normally", no fault

	switch b.Opcode() {
	case OpcodeDeflate:
		consumed, produced, finalBlock = st.runDeflate(in, out, asiv.finish)
	case OpcodeInflate:
		var err error
		consumed, produced, finalBlock, err = st.runInflate(in, out)
		if err != nil {
			retc, attn = 0x104, 0x801A // reclassified to NeedDict upstream when applicable
		}
	default:
		retc, attn = 0, 0xFFFF
	}
	st.mu.Unlock()

	result := make([]byte, 12)
	binary.BigEndian.PutUint32(result[simResultConsumed:], uint32(consumed))
	binary.BigEndian.PutUint32(result[simResultProduced:], uint32(produced))
	if finalBlock {
		result[simResultFlags] = simResultFinalBlock
	}
	copy(b.ASV(), result)
	b.SetCompletion(retc, attn)
	copy(raw, b[:])
}

func (st *simStream) runDeflate(in, out []byte, finish bool) (consumed, produced int, final bool) {
	if len(in) > 0 {
		st.zw.Write(in)
		consumed = len(in)
	}
	if finish {
		st.zw.Close()
		final = true
	} else {
		st.zw.Flush()
	}
	produced = copy(out, st.out.Bytes())
	remaining := st.out.Bytes()[produced:]
	st.out.Reset()
	st.out.Write(remaining)
	return consumed, produced, final
}

func (st *simStream) runInflate(in, out []byte) (consumed, produced int, final bool, err error) {
	prev := st.compressed.Len()
	if len(in) > 0 {
		st.compressed.Write(in)
		consumed = len(in)
	}

	src := bytes.NewReader(st.compressed.Bytes())
	var zr io.ReadCloser
	if len(st.dict) > 0 {
		zr = flate.NewReaderDict(src, st.dict)
	} else {
		zr = flate.NewReader(src)
	}
	decoded, rerr := io.ReadAll(zr)
	zr.Close()

	if rerr != nil && rerr != io.ErrUnexpectedEOF && rerr != io.EOF {
		return consumed, 0, false, rerr
	}
	final = rerr == nil
	if final {
		// Bytes past the end of the DEFLATE stream (a wrapper trailer)
		// are reported as not consumed.
		used := st.compressed.Len() - src.Len()
		consumed = max(used-prev, 0)
		st.compressed.Truncate(used)
	}

	// Only bytes beyond what was already delivered in a previous call
	// are new; st.decoded tracks the high-water mark delivered so far.
	fresh := decoded[len(st.decoded):]
	produced = copy(out, fresh)
	st.decoded = append(st.decoded, fresh[:produced]...)
	return consumed, produced, final, nil
}
