// Package workspace allocates and owns the page-aligned, optionally
// pinned buffers a stream needs for its lifetime: the tree/scratch
// area and the input/output staging buffers, per spec.md §4's
// Workspace Allocator component.
package workspace

import (
	"fmt"
	"unsafe"

	"github.com/hwzedc/hwzedc/codec"
	"github.com/hwzedc/hwzedc/transport"
)

// PageSize is the allocation granularity the allocator rounds every
// request up to.
const PageSize = 4096

// stagingOverheadNumerator/Denominator implement the deflate output
// staging size rule from spec.md's environment controls: worst-case
// expansion of stored blocks is input*(5/4) plus block headers: the
// accelerator firmware's own convention observed by the core is
// input*15/8 rounded up to one extra page, which this mirrors.
const (
	stagingOverheadNumerator   = 15
	stagingOverheadDenominator = 8
)

// Kind selects how the allocator backs its buffers.
type Kind int

const (
	// KindPlain allocates ordinary page-aligned host memory, for
	// buffers the accelerator never addresses directly.
	KindPlain Kind = iota
	// KindDMA allocates through the transport handle's DMAAlloc and
	// pins every buffer for the accelerator to address directly.
	KindDMA
)

// Allocator owns the buffers backing one stream's workspace. Buffers
// obtained through it are released together by Close.
type Allocator struct {
	kind   Kind
	handle transport.Handle

	buffers [][]byte
}

// New constructs an Allocator. handle may be nil when kind is
// KindPlain.
func New(kind Kind, handle transport.Handle) *Allocator {
	return &Allocator{kind: kind, handle: handle}
}

func roundUpPage(n int) int {
	if n%PageSize == 0 {
		return n
	}
	return (n/PageSize + 1) * PageSize
}

// alloc returns a zeroed buffer of at least length bytes, pinned if
// the allocator is KindDMA.
func (a *Allocator) alloc(length int) ([]byte, error) {
	length = roundUpPage(length)
	var buf []byte
	var err error
	switch a.kind {
	case KindDMA:
		buf, err = a.handle.DMAAlloc(length)
		if err != nil {
			return nil, fmt.Errorf("workspace: %w", err)
		}
		if err := a.handle.Pin(buf); err != nil {
			a.handle.DMAFree(buf)
			return nil, fmt.Errorf("workspace: pinning buffer: %w", err)
		}
	default:
		// Over-allocate by one page and start at the first page boundary.
		raw := make([]byte, length+PageSize)
		pad := (PageSize - int(uintptr(unsafe.Pointer(&raw[0]))%PageSize)) % PageSize
		buf = raw[pad : pad+length : pad+length]
	}
	for i := range buf {
		buf[i] = 0
	}
	a.buffers = append(a.buffers, buf)
	return buf, nil
}

// Scratch allocates the ~64 KiB tree/scratch area described in
// spec.md §3 and wraps it in a ready-to-use codec.TreeScratch.
func (a *Allocator) Scratch() (*codec.TreeScratch, error) {
	buf, err := a.alloc(codec.ScratchSize)
	if err != nil {
		return nil, err
	}
	return &codec.TreeScratch{Buf: buf}, nil
}

// StagingBuffers allocates the input and output staging buffers sized
// from the environment's configured totals, falling back to a size
// derived from the caller's largest expected chunk when the
// environment leaves them at zero (spec.md §6 "input/output staging
// buffer total size").
func (a *Allocator) StagingBuffers(inputSize, outputSize, maxChunk int) (in, out []byte, err error) {
	if inputSize <= 0 {
		inputSize = maxChunk
	}
	if outputSize <= 0 {
		outputSize = maxChunk*stagingOverheadNumerator/stagingOverheadDenominator + PageSize
	}
	in, err = a.alloc(inputSize)
	if err != nil {
		return nil, nil, err
	}
	out, err = a.alloc(outputSize)
	if err != nil {
		return nil, nil, err
	}
	return in, out, nil
}

// Close releases every buffer this allocator produced.
func (a *Allocator) Close() error {
	var firstErr error
	for _, buf := range a.buffers {
		if a.kind == KindDMA {
			if err := a.handle.Unpin(buf); err != nil && firstErr == nil {
				firstErr = err
			}
			if err := a.handle.DMAFree(buf); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	a.buffers = nil
	return firstErr
}
