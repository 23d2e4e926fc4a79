package ddcb

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sync/semaphore"

	"github.com/hwzedc/hwzedc/status"
	"github.com/hwzedc/hwzedc/transport"
)

// Depth is the fixed DDCB ring depth per context, per spec.md §4.2.
const Depth = 4

// defaultWaitMillis bounds how long the completion thread blocks in
// WaitEvent between cancellation checkpoints.
const defaultWaitMillis = 2000

// Request is one submission: an opcode, its ASIV payload, and the
// number of result bytes the caller wants copied back from the ASV
// region. Requests may be chained via Next so several slots are
// installed before the caller blocks exactly once, on the tail
// request's completion.
type Request struct {
	ContextID uint32 // identifies the owning stream to the executor
	Opcode    Opcode
	Flags     byte
	Options   uint16
	ASIV      []byte // opcode-specific payload, at most 100 bytes (after the context-id prefix)
	ASVLen    int     // bytes to copy back from the 64-byte ASV region, at most 64
	Next      *Request

	// Populated by the dispatcher once the request completes.
	Result  []byte
	RETC    uint16
	ATTN    uint16
	Status  status.Status

	seq       uint16
	threadWait bool
	done      chan struct{}
}

type slotState int32

const (
	slotFree slotState = iota
	slotIn
	slotOut
)

// Dispatcher owns one context's fixed-depth submission queue: a slab
// of Depth DDCB blocks, a free-slot counting semaphore, monotone
// sequence numbers, and the single completion thread that drains
// transport.Handle.WaitEvent and demultiplexes results back to
// blocked callers. Modeled on protocol/transport_host.go's
// ackChan/responseChan/readLoop split between a writer path and a
// dedicated reader goroutine, generalized from one in-flight ACK to a
// multi-slot ring.
type Dispatcher struct {
	handle transport.Handle
	blocks []Block // Depth contiguous DDCB blocks, backing the hardware queue

	mu       sync.Mutex
	requests []*Request // parallel to blocks, by slot index
	status   []slotState
	nextSeq  uint16
	firstSeq uint16
	head     int
	tail     int

	freeSem *semaphore.Weighted

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New builds a Dispatcher over an already-opened transport handle and
// starts its completion thread.
func New(handle transport.Handle) (*Dispatcher, error) {
	d := &Dispatcher{
		handle:   handle,
		blocks:   make([]Block, Depth),
		requests: make([]*Request, Depth),
		status:   make([]slotState, Depth),
		freeSem:  semaphore.NewWeighted(Depth),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	queueBase := uintptr(unsafe.Pointer(&d.blocks[0]))
	if err := handle.SubmitQueueStart(queueBase, d.firstSeq, Depth); err != nil {
		return nil, fmt.Errorf("ddcb: starting queue: %w", err)
	}

	go d.completionLoop()
	return d, nil
}

// Execute installs every request in the chain starting at req, one
// per slot, and blocks once on the chain's final request.
func (d *Dispatcher) Execute(ctx context.Context, req *Request) error {
	var chain []*Request
	for r := req; r != nil; r = r.Next {
		chain = append(chain, r)
	}
	if len(chain) == 0 {
		return nil
	}
	for i, r := range chain {
		r.done = make(chan struct{})
		r.threadWait = i == len(chain)-1
		if err := d.install(ctx, r); err != nil {
			return err
		}
	}

	tail := chain[len(chain)-1]
	select {
	case <-tail.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) install(ctx context.Context, r *Request) error {
	if err := d.freeSem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("ddcb: acquiring slot: %w", err)
	}

	d.mu.Lock()
	seq := d.nextSeq
	d.nextSeq++
	idx := d.tail
	d.tail = (d.tail + 1) % Depth

	block := &d.blocks[idx]
	block.Reset()
	block.SetPreamble(r.Opcode, r.Flags, WordsFor(len(r.ASIV)+4), WordsFor(r.ASVLen), seq, r.Options)
	block.SetASIVContextID(r.ContextID)
	copy(block.ASIVPayload(), r.ASIV)

	r.seq = seq
	d.requests[idx] = r
	d.status[idx] = slotIn
	d.mu.Unlock()

	return d.handle.SubmitTrigger(seq)
}

// completionLoop is the single reader goroutine: it waits for the
// next hardware event and walks the ring forward from head while the
// head slot carries a completed DDCB, demultiplexing results back to
// whichever request.done channel (if any) is waiting.
func (d *Dispatcher) completionLoop() {
	defer close(d.doneCh)
	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		ev, err := d.handle.WaitEvent(defaultWaitMillis)
		if err != nil {
			d.failInFlight(status.SelectFail)
			continue
		}
		switch {
		case ev.Timeout:
			continue
		case ev.Fatal():
			d.failInFlight(status.EventFail)
		case ev.Interrupt:
			d.drainCompletions()
		}
	}
}

func (d *Dispatcher) drainCompletions() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for d.status[d.head] == slotIn {
		idx := d.head
		block := &d.blocks[idx]
		retc := block.RETC()
		attn := block.ATTN()
		if retc == 0 {
			break // head slot hasn't completed yet
		}

		r := d.requests[idx]
		r.RETC = retc
		r.ATTN = attn
		if retc == RetcFinishedNormally {
			r.Status = status.Ok
		} else {
			r.Status = status.ClassifyCardFault(uint32(retc), uint32(attn))
		}
		if r.ASVLen > 0 {
			r.Result = append(r.Result[:0], block.ASV()[:r.ASVLen]...)
		}

		d.status[idx] = slotFree
		d.requests[idx] = nil
		d.head = (d.head + 1) % Depth
		d.freeSem.Release(1)

		if r.threadWait {
			close(r.done)
		}
	}
}

// failInFlight marks every currently occupied slot with st and wakes
// its waiter, used for hardware-fatal events and WaitEvent errors. A
// WaitEvent timeout fails nothing: in-flight requests keep waiting for
// their completion.
func (d *Dispatcher) failInFlight(st status.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for d.status[d.head] != slotFree {
		idx := d.head
		r := d.requests[idx]
		r.Status = st
		d.status[idx] = slotFree
		d.requests[idx] = nil
		d.head = (d.head + 1) % Depth
		d.freeSem.Release(1)
		if r.threadWait {
			close(r.done)
		}
	}
	d.tail = d.head
}

// Close stops the completion thread and releases the transport
// handle. It does not wait for in-flight requests; callers must drain
// those first.
func (d *Dispatcher) Close() error {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.doneCh
	return d.handle.Close()
}
