// Package ddcb implements the 256-byte Device Driver Control Block
// wire layout and the per-context dispatcher that submits them to an
// accelerator transport and demultiplexes asynchronous completions
// back to blocked callers, per spec.md §4.2 and §6.
package ddcb

import "encoding/binary"

// Size is the fixed DDCB wire size.
const Size = 256

// Region byte offsets within a DDCB, per spec.md §6.
const (
	offPreamble = 0
	lenPreamble = 32

	offASIV = 32
	lenASIV = 104

	offATS = 136
	lenATS = 8

	offASV = 144
	lenASV = 64

	// remainder (144+64=208 .. 256) is reserved.
)

// Preamble field offsets, relative to offPreamble.
const (
	preCmd        = 0 // command byte (preset-preamble constant)
	preOpcode     = 1 // accelerator-function opcode
	preFlags      = 2 // 1 byte of control flags (interrupt-enable, ...)
	preASIVLenW   = 3 // ASIV length in 8-byte words
	preASIVLenPad = 4 // reserved
	preASVLenW    = 5 // ASV length in 8-byte words
	preRetc       = 6 // 2-byte return code (accelerator-written)
	preAttn       = 8 // 2-byte attention/fault code (accelerator-written)
	preProgress   = 10
	preSeq        = 16 // 2-byte sequence number
	preOptions    = 18 // 2-byte options
	preTimestamp  = 24 // 8-byte dispatch timestamp
)

// Preamble flag bits (preFlags).
const (
	FlagInterruptEnable byte = 1 << 0
)

// Opcode identifies the accelerator function a DDCB requests.
type Opcode byte

const (
	OpcodeDeflate Opcode = 0x01
	OpcodeInflate Opcode = 0x02
)

// RetcFinishedNormally is the return code a successfully completed
// DDCB carries; any other value is a fault for status.ClassifyCardFault
// to decode.
const RetcFinishedNormally = 0x102

// Block is one 256-byte DDCB, addressable directly as the backing
// array for a dispatcher slot or reinterpreted from mmap'd queue
// memory by the transport layer.
type Block [Size]byte

// Reset zeroes the whole block.
func (b *Block) Reset() { *b = Block{} }

// SetPreamble writes the fixed preamble fields ahead of submission.
func (b *Block) SetPreamble(opcode Opcode, flags byte, asivWords, asvWords byte, seq uint16, options uint16) {
	p := b[offPreamble : offPreamble+lenPreamble]
	p[preCmd] = 0xD0 // preset-preamble constant observed on the wire
	p[preOpcode] = byte(opcode)
	p[preFlags] = flags
	p[preASIVLenW] = asivWords
	p[preASVLenW] = asvWords
	binary.BigEndian.PutUint16(p[preRetc:], 0)
	binary.BigEndian.PutUint16(p[preAttn:], 0)
	binary.BigEndian.PutUint16(p[preSeq:], seq)
	binary.BigEndian.PutUint16(p[preOptions:], options)
}

// Seq reads the sequence number written into the preamble.
func (b *Block) Seq() uint16 {
	return binary.BigEndian.Uint16(b[offPreamble+preSeq:])
}

// Opcode reads the opcode written into the preamble.
func (b *Block) Opcode() Opcode {
	return Opcode(b[offPreamble+preOpcode])
}

// RETC/ATTN returns the accelerator-written return and attention
// codes, valid once the slot has transitioned to a completed state.
func (b *Block) RETC() uint16 {
	return binary.BigEndian.Uint16(b[offPreamble+preRetc:])
}

func (b *Block) ATTN() uint16 {
	return binary.BigEndian.Uint16(b[offPreamble+preAttn:])
}

// SetCompletion is called by the executor (real or simulated) to
// publish the completion codes into the preamble.
func (b *Block) SetCompletion(retc, attn uint16) {
	binary.BigEndian.PutUint16(b[offPreamble+preRetc:], retc)
	binary.BigEndian.PutUint16(b[offPreamble+preAttn:], attn)
}

// ASIV returns the 104-byte application-specific input-variant region.
// By convention the first 4 bytes of every ASIV region this core emits
// carry the owning stream's context id, so a shared executor (real or
// simulated) can recover per-stream state without the dispatcher
// needing to know the deflate/inflate payload shape underneath it.
func (b *Block) ASIV() []byte { return b[offASIV : offASIV+lenASIV] }

const asivContextIDOffset = 0

// SetASIVContextID writes the context id prefix described above.
func (b *Block) SetASIVContextID(id uint32) {
	binary.BigEndian.PutUint32(b.ASIV()[asivContextIDOffset:], id)
}

// ASIVContextID reads the context id prefix.
func (b *Block) ASIVContextID() uint32 {
	return binary.BigEndian.Uint32(b.ASIV()[asivContextIDOffset:])
}

// ASIVPayload returns the ASIV bytes after the context-id prefix,
// where opcode-specific parameters live.
func (b *Block) ASIVPayload() []byte { return b.ASIV()[4:] }

// ATS returns the 8-byte address-translation-specification region.
func (b *Block) ATS() []byte { return b[offATS : offATS+lenATS] }

// ASV returns the 64-byte result region.
func (b *Block) ASV() []byte { return b[offASV : offASV+lenASV] }

// WordsFor rounds a byte length up to a count of 8-byte words, the
// unit the preamble's ASIV/ASV length fields are expressed in.
func WordsFor(n int) byte {
	return byte((n + 7) / 8)
}
