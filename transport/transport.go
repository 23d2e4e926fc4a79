// Package transport owns the per-context accelerator handle: device
// open, MMIO register window, event channel, and pinned DMA region
// lifetime, per spec.md §4.1. It mirrors the shape of the teacher's
// host/serial.Port abstraction — a narrow interface with a native
// backend and a second backend for environments without the real
// device — generalized from a Klipper serial link to a PCIe/CAPI
// accelerator handle.
package transport

import (
	"errors"
	"fmt"
)

// Mode is the set of advisory open-time flags from spec.md §4.1.
type Mode uint32

const (
	ModeReadOnly Mode = 1 << iota
	ModeWriteOnly
	ModeReadWrite
	ModeAsyncNotification
	ModeNonBlocking
	ModePollingCompletion
	ModeMaster
)

// Kind selects the accelerator family a Handle talks to, per spec.md
// §6's "accelerator kind (generic vs capi)" environment control.
type Kind int

const (
	KindGeneric Kind = iota
	KindCAPI
)

// CardRedundant is the distinguished card index meaning "transport
// internally pools several cards and round-robins on retryable
// errors" (spec.md §4.2 Redundant-card mode).
const CardRedundant = -1

// ErrCard is returned by Open when the app-id register does not match
// the required mask.
var ErrCard = errors.New("transport: accelerator app-id mismatch")

// ErrOpen is returned by Open when the device node cannot be opened.
var ErrOpen = errors.New("transport: failed to open accelerator device node")

// Event is the result of WaitEvent: at most one of Interrupt, Fault,
// AFUError or Timeout is meaningful, matching spec.md §4.1.
type Event struct {
	Interrupt bool
	Fault     bool
	AFUError  bool
	Timeout   bool
}

// Fatal reports whether the event represents a hardware-fatal
// condition that must fail every in-flight DDCB slot.
func (e Event) Fatal() bool {
	return e.Fault || e.AFUError
}

// Handle is the narrow interface the DDCB dispatcher drives. Three
// concrete types satisfy it: CAPIHandle (a real device node, Linux
// only), SimHandle (an in-process accelerator simulation used by
// tests and by any caller without real hardware) and RedundantHandle
// (a pool of other Handles for redundant-card mode).
type Handle interface {
	// SubmitQueueStart programs the DDCB-queue start pointer and
	// configuration registers for a freshly (re)started queue.
	SubmitQueueStart(queueBase uintptr, firstSeq uint16, depth int) error

	// SubmitTrigger writes the DDCB-queue command register to start
	// processing the slot at seq.
	SubmitTrigger(seq uint16) error

	// WaitEvent blocks (up to timeoutMillis, 0 = forever) for the next
	// completion-relevant event on this context.
	WaitEvent(timeoutMillis int) (Event, error)

	// ReadReg/WriteReg access the MMIO register window described in
	// spec.md §6.
	ReadReg(offset uint32) (uint64, error)
	WriteReg(offset uint32, value uint64) error

	// Pin/Unpin register a DMA region with the device driver.
	Pin(buf []byte) error
	Unpin(buf []byte) error

	// DMAAlloc/DMAFree obtain and release page-aligned memory suitable
	// for pinning and DMA addressing.
	DMAAlloc(length int) ([]byte, error)
	DMAFree(buf []byte) error

	// Close releases the accelerator handle and any pinned regions.
	Close() error
}

// Open constructs a Handle for the given kind, card index, mode and
// app-id match. CardRedundant builds a RedundantHandle pooling every
// card of the requested kind found on the system.
func Open(kind Kind, cardIndex int, mode Mode, appID, appIDMask uint64) (Handle, error) {
	if cardIndex == CardRedundant {
		return openRedundant(kind, mode, appID, appIDMask)
	}
	switch kind {
	case KindCAPI:
		return openCAPI(cardIndex, mode, appID, appIDMask)
	default:
		return NewSimHandle(cardIndex, mode), nil
	}
}

func openRedundant(kind Kind, mode Mode, appID, appIDMask uint64) (Handle, error) {
	indexes, err := discoverCards(kind)
	if err != nil {
		return nil, err
	}
	if len(indexes) == 0 {
		return nil, fmt.Errorf("transport: no %v cards found for redundant mode", kind)
	}
	handles := make([]Handle, 0, len(indexes))
	for _, idx := range indexes {
		h, err := Open(kind, idx, mode, appID, appIDMask)
		if err != nil {
			continue
		}
		handles = append(handles, h)
	}
	if len(handles) == 0 {
		return nil, ErrCard
	}
	return NewRedundantHandle(handles), nil
}
