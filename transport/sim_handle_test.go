package transport

import (
	"testing"
	"time"
	"unsafe"
)

func TestSimHandleSubmitAndWait(t *testing.T) {
	var executed []byte
	h := NewSimHandleWithExecutor(0, ModeReadWrite, func(slot []byte) {
		executed = append([]byte(nil), slot...)
		slot[0] = 0xAB
	})

	queue := make([]byte, 256)
	queue[10] = 0x42
	base := uintptr(unsafe.Pointer(&queue[0]))

	if err := h.SubmitQueueStart(base, 5, 1); err != nil {
		t.Fatalf("SubmitQueueStart: %v", err)
	}
	if err := h.SubmitTrigger(5); err != nil {
		t.Fatalf("SubmitTrigger: %v", err)
	}

	ev, err := h.WaitEvent(1000)
	if err != nil {
		t.Fatalf("WaitEvent: %v", err)
	}
	if !ev.Interrupt || ev.Fatal() {
		t.Fatalf("WaitEvent = %+v, want plain interrupt", ev)
	}
	if len(executed) != 256 || executed[10] != 0x42 {
		t.Fatal("executor did not see the submitted slot contents")
	}
	if queue[0] != 0xAB {
		t.Fatal("executor's write to the slot should be visible through the shared queue memory")
	}
}

func TestSimHandleWaitEventTimeout(t *testing.T) {
	h := NewSimHandle(0, ModeReadWrite)
	ev, err := h.WaitEvent(10)
	if err != nil {
		t.Fatalf("WaitEvent: %v", err)
	}
	if !ev.Timeout {
		t.Fatal("expected a Timeout event when nothing was submitted")
	}
}

func TestSimHandleRegisters(t *testing.T) {
	h := NewSimHandle(0, ModeReadWrite)
	if err := h.WriteReg(4, 99); err != nil {
		t.Fatalf("WriteReg: %v", err)
	}
	got, err := h.ReadReg(4)
	if err != nil {
		t.Fatalf("ReadReg: %v", err)
	}
	if got != 99 {
		t.Fatalf("ReadReg = %d, want 99", got)
	}
}

func TestSimHandleDMAAllocPageAligned(t *testing.T) {
	h := NewSimHandle(0, ModeReadWrite)
	buf, err := h.DMAAlloc(1024)
	if err != nil {
		t.Fatalf("DMAAlloc: %v", err)
	}
	if len(buf) != 1024 {
		t.Fatalf("len(buf) = %d, want 1024", len(buf))
	}
	addr := uintptr(unsafe.Pointer(&buf[0]))
	if addr%simPageSize != 0 {
		t.Fatalf("DMAAlloc returned unaligned address %#x", addr)
	}
}

func TestSimHandleInjectFault(t *testing.T) {
	h := NewSimHandle(0, ModeReadWrite)
	h.InjectFault(Event{Fault: true})
	ev, err := h.WaitEvent(1000)
	if err != nil {
		t.Fatalf("WaitEvent: %v", err)
	}
	if !ev.Fatal() {
		t.Fatal("injected fault event should be Fatal()")
	}
}

func TestSimHandleLatency(t *testing.T) {
	h := NewSimHandle(0, ModeReadWrite)
	h.SetLatency(20 * time.Millisecond)
	queue := make([]byte, 256)
	h.SubmitQueueStart(uintptr(unsafe.Pointer(&queue[0])), 0, 1)

	start := time.Now()
	h.SubmitTrigger(0)
	h.WaitEvent(0)
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("expected artificial latency to delay the completion event")
	}
}
