package codec

import (
	"hash"
	"hash/adler32"
	"hash/crc32"
)

// DictPageSize is the sliding-dictionary window carried across DDCB
// calls, per spec.md §3.
const DictPageSize = 32 * 1024

// ScratchSize is the upper bound on the tree/scratch area that holds
// the most recently identified Huffman tree bits plus unconsumed input
// bits straddling a call boundary.
const ScratchSize = 64 * 1024

// PartialByte carries fewer than 8 residual output bits across deflate
// calls (the inflate-side equivalent is tracked via ProcBits on
// TreeScratch instead, per spec.md's `proc_bits` field).
type PartialByte struct {
	Byte  byte
	NBits uint8 // 0..7
}

// DictionaryState is the double-buffered 32 KiB sliding window. After
// each hardware call the roles swap: Out becomes the next call's In.
type DictionaryState struct {
	pages  [2][DictPageSize]byte
	toggle int // 0 or 1: index of the current "in" page

	Offset int // 0..15, per-call misalignment between calls
	Len    int // 0..32768, bytes currently valid in the "in" page
}

// In returns the whole current input dictionary page (DictPageSize
// bytes); callers slice it to the Len valid bytes themselves.
func (d *DictionaryState) In() []byte {
	return d.pages[d.toggle][:DictPageSize]
}

// Out returns the current output dictionary page (the one a hardware
// call will fill in as its "dictionary-out").
func (d *DictionaryState) Out() []byte {
	return d.pages[1-d.toggle][:DictPageSize]
}

// Swap toggles input/output page roles after a completed call and
// records the new valid length and offset reported by the accelerator.
func (d *DictionaryState) Swap(newLen, newOffset int) {
	d.toggle = 1 - d.toggle
	d.Len = newLen
	d.Offset = newOffset
}

// Reset clears the dictionary state without freeing the backing pages.
func (d *DictionaryState) Reset() {
	d.toggle, d.Offset, d.Len = 0, 0, 0
}

// SlideAndSwap advances the sliding dictionary window by appending
// newly processed bytes to whatever was already valid in the current
// "in" page, keeping only the most recent DictPageSize bytes, and
// swaps the result into the "in" role for the next call. This is the
// engine-side half of spec.md §3's double-buffer discipline: a real
// accelerator hands back a dictionary-out page already assembled this
// way, so the engine only has to carry it forward across calls.
func (d *DictionaryState) SlideAndSwap(data []byte) {
	combined := make([]byte, 0, d.Len+len(data))
	combined = append(combined, d.In()[:d.Len]...)
	combined = append(combined, data...)
	if len(combined) > DictPageSize {
		combined = combined[len(combined)-DictPageSize:]
	}
	out := d.Out()
	n := copy(out, combined)
	for i := n; i < DictPageSize; i++ {
		out[i] = 0
	}
	d.Swap(n, 0)
}

// Seed copies a caller-supplied dictionary (set_dictionary) into the
// current input page, truncating to the last DictPageSize bytes if
// larger, as RFC 1951 only ever needs the most recent 32 KiB.
func (d *DictionaryState) Seed(dict []byte) {
	if len(dict) > DictPageSize {
		dict = dict[len(dict)-DictPageSize:]
	}
	n := copy(d.pages[d.toggle][:], dict)
	d.Len = n
	d.Offset = 0
}

// TreeScratch accounts for the bit offsets within the tree/scratch
// buffer. The invariant from spec.md §3 is that HeaderBits + TreeBits +
// PadBits + ScratchBits + PreScratchBits is always a multiple of 8.
type TreeScratch struct {
	Buf []byte // up to ScratchSize bytes, hardware-opaque payload + input

	HeaderBits      int // hdr_ib
	TreeBits        int // tree_bits
	PadBits         int // pad_bits
	ScratchBits     int // scratch_ib (bits of trailing unconsumed input)
	PreScratchBits  int // pre_scratch_bits, carried into the next call's accounting
	ProcBits        int // proc_bits, inflate's residual-bit counter
	CopyblockLen    int
	HdrStart        int
	HdrStartBits    int
	OutHdrBits      int
}

// SumBits returns the running total that spec.md's sum-of-bits
// invariant requires to be a multiple of 8.
func (t *TreeScratch) SumBits() int {
	return t.HeaderBits + t.TreeBits + t.PadBits + t.ScratchBits + t.PreScratchBits
}

// Flags bundles the small set of booleans the engines must carry
// across calls.
type Flags struct {
	HeaderAdded  bool
	EOBAdded     bool
	TrailerAdded bool
	HaveDict     bool
	EOBSeen      bool
	FinalEOB     bool // INFL_STAT_FINAL_EOB
}

// State is the codec state block shared by the deflate and inflate
// engines: wrapper format, FIFOs, partial-byte holder, dictionary
// double-buffer, tree/scratch area, flags and running counters. It is
// the Go analogue of the original library's opaque per-stream private
// state.
type State struct {
	Format Format

	PreFIFO  FIFO // header bytes staged ahead of compressed output
	PostFIFO FIFO // trailer/sync bytes staged after compressed output

	Partial PartialByte
	Dict    DictionaryState
	Scratch TreeScratch
	Flags   Flags

	CRC32  uint32
	Adler  uint32
	crcH   hash.Hash32
	adlerH hash.Hash32

	InProcessed   int64 // inp_processed, running
	OutReturned   int64 // outp_returned, running
	BytesInDict   int   // obytes_in_dict

	TotalIn  int64
	TotalOut int64

	Header *GzipHeader

	WrapperState WrapperState // inflate-only, HEADER_START.. HEADER_DONE
}

// NewState returns a freshly initialized State for the given wrapper
// format, with CRC-32 at 0 and Adler-32 at 1 per RFC 1950/1951/1952.
func NewState(format Format) *State {
	s := &State{
		Format: format,
		Adler:  adler32.Checksum(nil),
		crcH:   crc32.NewIEEE(),
		adlerH: adler32.New(),
	}
	return s
}

// Reset restores a State to its post-init values while keeping the
// allocated scratch/dictionary backing storage, matching the
// "reset preserves allocated workspace" contract from spec.md §3.
func (s *State) Reset() {
	s.PreFIFO.Reset()
	s.PostFIFO.Reset()
	s.Partial = PartialByte{}
	s.Dict.Reset()
	s.Scratch = TreeScratch{Buf: s.Scratch.Buf}
	s.Flags = Flags{}
	s.CRC32 = 0
	s.Adler = adler32.Checksum(nil)
	s.crcH.Reset()
	s.adlerH.Reset()
	s.InProcessed, s.OutReturned, s.BytesInDict = 0, 0, 0
	s.TotalIn, s.TotalOut = 0, 0
	s.WrapperState = WrapperHeaderStart
}

// UpdateChecksums folds newly-produced decompressed bytes into the
// running CRC-32 and Adler-32, which must reflect every byte logically
// written to the decompressed stream including bytes still held back
// in BytesInDict.
func (s *State) UpdateChecksums(p []byte) {
	s.crcH.Write(p)
	s.adlerH.Write(p)
	s.CRC32 = s.crcH.Sum32()
	s.Adler = s.adlerH.Sum32()
}

// CheckInvariants validates the invariants spec.md §3 requires to hold
// at all times; the deflate and inflate engines call it after every
// DDCB submission to catch a bookkeeping bug close to its source.
func (s *State) CheckInvariants() error {
	if s.Scratch.SumBits()%8 != 0 {
		return errInvariant("tree/scratch bit sum not a multiple of 8")
	}
	if s.BytesInDict > s.Dict.Len || s.Dict.Len > DictPageSize {
		return errInvariant("obytes_in_dict/dict_len out of range")
	}
	return nil
}

type invariantError string

func (e invariantError) Error() string { return string(e) }

func errInvariant(msg string) error { return invariantError(msg) }
