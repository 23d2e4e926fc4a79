package transport

import (
	"fmt"
	"sync"
	"time"
	"unsafe"
)

// Executor "executes" one DDCB in place: given the raw 256-byte slot
// bytes (preamble + ASIV + ATS + ASV), it performs whatever the
// command opcode asks and writes the result back into the ASV region
// of the same slice. Real hardware does this in silicon; SimHandle
// calls an injected Executor instead, keeping transport ignorant of
// DDCB/opcode semantics exactly as the real PCIe link is.
type Executor func(ddcbBytes []byte)

// SimHandle is an in-process accelerator simulation: submitted slots
// are "executed" by the injected Executor and a completion event is
// posted on a buffered channel that WaitEvent drains. It is the
// backend the test suite and any caller without real hardware uses,
// mirroring the teacher's WASM/mock Port sitting behind the same
// serial.Port interface as NativePort.
type SimHandle struct {
	cardIndex int
	mode      Mode
	exec      Executor

	mu       sync.Mutex
	queue    []byte // depth*256 bytes, reinterpreted from the caller's address
	depth    int
	firstSeq uint16

	events chan Event

	regs map[uint32]uint64

	latency time.Duration // artificial per-submission delay, for concurrency tests
}

// NewSimHandle constructs a SimHandle with a no-op executor; callers
// that need the queue to actually perform compression should use
// NewSimHandleWithExecutor.
func NewSimHandle(cardIndex int, mode Mode) *SimHandle {
	return NewSimHandleWithExecutor(cardIndex, mode, func([]byte) {})
}

// NewSimHandleWithExecutor constructs a SimHandle backed by exec.
func NewSimHandleWithExecutor(cardIndex int, mode Mode, exec Executor) *SimHandle {
	return &SimHandle{
		cardIndex: cardIndex,
		mode:      mode,
		exec:      exec,
		events:    make(chan Event, 64),
		regs:      make(map[uint32]uint64),
	}
}

// SetLatency installs an artificial delay applied to every submission,
// useful for exercising the dispatcher's concurrency under contention.
func (s *SimHandle) SetLatency(d time.Duration) { s.latency = d }

func sliceFromAddr(addr uintptr, length int) []byte {
	ptr := *(*unsafe.Pointer)(unsafe.Pointer(&addr))
	return unsafe.Slice((*byte)(ptr), length)
}

func (s *SimHandle) SubmitQueueStart(queueBase uintptr, firstSeq uint16, depth int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = sliceFromAddr(queueBase, depth*256)
	s.depth = depth
	s.firstSeq = firstSeq
	return nil
}

func (s *SimHandle) SubmitTrigger(seq uint16) error {
	s.mu.Lock()
	if s.depth == 0 {
		s.mu.Unlock()
		return fmt.Errorf("transport: queue not started")
	}
	idx := int(seq-s.firstSeq) % s.depth
	if idx < 0 {
		idx += s.depth
	}
	slot := s.queue[idx*256 : idx*256+256]
	exec := s.exec
	latency := s.latency
	s.mu.Unlock()

	go func() {
		if latency > 0 {
			time.Sleep(latency)
		}
		exec(slot)
		s.events <- Event{Interrupt: true}
	}()
	return nil
}

func (s *SimHandle) WaitEvent(timeoutMillis int) (Event, error) {
	if timeoutMillis <= 0 {
		return <-s.events, nil
	}
	select {
	case ev := <-s.events:
		return ev, nil
	case <-time.After(time.Duration(timeoutMillis) * time.Millisecond):
		return Event{Timeout: true}, nil
	}
}

func (s *SimHandle) ReadReg(offset uint32) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[offset], nil
}

func (s *SimHandle) WriteReg(offset uint32, value uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[offset] = value
	return nil
}

func (s *SimHandle) Pin([]byte) error   { return nil }
func (s *SimHandle) Unpin([]byte) error { return nil }

// simPageSize matches the common host page size; a pure in-process
// simulation has no real DMA engine to satisfy, but returning
// genuinely page-aligned memory keeps callers honest about the
// contract they'd face against CAPIHandle.
const simPageSize = 4096

func (s *SimHandle) DMAAlloc(length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("transport: DMAAlloc length must be positive")
	}
	raw := make([]byte, length+simPageSize)
	addr := uintptr(unsafe.Pointer(&raw[0]))
	pad := (simPageSize - int(addr%simPageSize)) % simPageSize
	return raw[pad : pad+length], nil
}

func (s *SimHandle) DMAFree([]byte) error { return nil }

func (s *SimHandle) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.events:
	default:
	}
	return nil
}

// InjectFault posts a fatal event to every waiter, simulating a
// storage fault, AFU error, or event-read failure per spec.md §4.1.
func (s *SimHandle) InjectFault(ev Event) {
	s.events <- ev
}
