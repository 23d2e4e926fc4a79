//go:build linux

package transport

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// regWindowSize is the size of the MMIO register window mapped from
// the accelerator device node. The genwqe/zEDC register map in
// spec.md §6 fits comfortably inside one page.
const regWindowSize = 4096

// CAPIHandle drives a real PCIe/CAPI accelerator device node on Linux
// via golang.org/x/sys/unix — mmap for the register window and DMA
// buffers, mlock/munlock for pin/unpin — rather than cgo, following the same
// syscall-only approach the retrieval pack's go-ublk queue runner uses
// to drive a real in-kernel accelerator-style device.
type CAPIHandle struct {
	fd   int
	mode Mode

	mu   sync.Mutex
	regs []byte // mmap'd register window

	eventFD int
}

func devicePath(cardIndex int) string {
	return fmt.Sprintf("/dev/cxl/afu%d.0s", cardIndex)
}

func openCAPI(cardIndex int, mode Mode, appID, appIDMask uint64) (Handle, error) {
	path := devicePath(cardIndex)
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}

	regs, err := unix.Mmap(fd, 0, regWindowSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: mmap register window: %v", ErrOpen, err)
	}

	h := &CAPIHandle{fd: fd, mode: mode, regs: regs}

	got, err := h.ReadReg(regAppID)
	if err != nil {
		h.Close()
		return nil, err
	}
	if got&appIDMask != appID&appIDMask {
		h.Close()
		return nil, ErrCard
	}

	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err == nil {
		h.eventFD = efd
	}

	return h, nil
}

// Register offsets observed by the core, per spec.md §6.
const (
	regAppID        = 0x00
	regFreeTimer     = 0x08
	regQueueWorkTime = 0x10
	regQueueStart    = 0x18
	regQueueConfig   = 0x20
	regQueueCommand  = 0x28
)

// SubmitQueueStart programs the queue-config register with the
// current sequence number, the first DDCB slot index (0, since
// queueBase always points at the start of the ring) and depth-1, per
// spec.md §6.
func (h *CAPIHandle) SubmitQueueStart(queueBase uintptr, firstSeq uint16, depth int) error {
	const firstDDCB = 0
	cfg := uint64(firstSeq)<<48 | uint64(firstDDCB)<<24 | uint64(depth-1)<<16
	if err := h.WriteReg(regQueueStart, uint64(queueBase)); err != nil {
		return err
	}
	return h.WriteReg(regQueueConfig, cfg)
}

func (h *CAPIHandle) SubmitTrigger(seq uint16) error {
	const startBit = 1
	return h.WriteReg(regQueueCommand, uint64(seq)<<48|startBit)
}

func (h *CAPIHandle) WaitEvent(timeoutMillis int) (Event, error) {
	if h.eventFD == 0 {
		return Event{}, fmt.Errorf("transport: no event channel configured")
	}
	fds := []unix.PollFd{{Fd: int32(h.eventFD), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, timeoutMillis)
	if err != nil {
		return Event{}, fmt.Errorf("transport: %w: %v", fmt.Errorf("select failed"), err)
	}
	if n == 0 {
		return Event{Timeout: true}, nil
	}
	if fds[0].Revents&unix.POLLERR != 0 {
		return Event{Fault: true}, nil
	}
	buf := make([]byte, 8)
	unix.Read(h.eventFD, buf)
	return Event{Interrupt: true}, nil
}

func (h *CAPIHandle) ReadReg(offset uint32) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(offset)+8 > len(h.regs) {
		return 0, fmt.Errorf("transport: register offset out of range")
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(h.regs[int(offset)+i])
	}
	return v, nil
}

func (h *CAPIHandle) WriteReg(offset uint32, value uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(offset)+8 > len(h.regs) {
		return fmt.Errorf("transport: register offset out of range")
	}
	for i := 7; i >= 0; i-- {
		h.regs[int(offset)+i] = byte(value)
		value >>= 8
	}
	return nil
}

func (h *CAPIHandle) Pin(buf []byte) error {
	return unix.Mlock(buf)
}

func (h *CAPIHandle) Unpin(buf []byte) error {
	return unix.Munlock(buf)
}

func (h *CAPIHandle) DMAAlloc(length int) ([]byte, error) {
	buf, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("transport: DMAAlloc: %w", err)
	}
	return buf, nil
}

func (h *CAPIHandle) DMAFree(buf []byte) error {
	return unix.Munmap(buf)
}

func (h *CAPIHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.regs != nil {
		unix.Munmap(h.regs)
		h.regs = nil
	}
	if h.eventFD != 0 {
		unix.Close(h.eventFD)
	}
	if h.fd != 0 {
		err := unix.Close(h.fd)
		h.fd = 0
		return err
	}
	return nil
}
