package hwzedc

import (
	"sync/atomic"

	"github.com/hwzedc/hwzedc/ddcb"
	"github.com/hwzedc/hwzedc/registry"
	"github.com/hwzedc/hwzedc/transport"
)

// Accelerator is one opened accelerator handle plus the dispatcher
// multiplexing DDCB submissions across however many streams share it,
// looked up through a registry.Registry once per process rather than
// once per stream (spec.md §9's design note, generalized in
// registry.Registry from core/driver_registry.go's per-OID pattern to
// per-kind accelerator factories).
type Accelerator struct {
	handle     transport.Handle
	dispatcher *ddcb.Dispatcher
	sim        *ddcb.Simulator // non-nil only when backed by an in-process simulation

	nextContext uint32
}

// Open builds an Accelerator for cfg.AcceleratorKind/cfg.CardIndex. If
// reg is nil, a fresh registry.New() is used with its KindGeneric
// factory overridden to wire a ddcb.Simulator as the executor — the
// registry's default KindGeneric factory opens a bare SimHandle with
// no executor, which is only useful once something supplies one.
func Open(cfg *Config, reg *registry.Registry) (*Accelerator, error) {
	var sim *ddcb.Simulator
	if reg == nil {
		sim = ddcb.NewSimulator()
		reg = registry.New()
		reg.Register(transport.KindGeneric, func(cardIndex int, mode transport.Mode, _, _ uint64) (transport.Handle, error) {
			return transport.NewSimHandleWithExecutor(cardIndex, mode, sim.Execute), nil
		})
	}

	mode := transport.ModeReadWrite
	handle, err := reg.Open(cfg.AcceleratorKind, cfg.CardIndex, mode, 0, 0)
	if err != nil {
		return nil, err
	}
	dispatcher, err := ddcb.New(handle)
	if err != nil {
		handle.Close()
		return nil, err
	}

	a := &Accelerator{handle: handle, dispatcher: dispatcher}
	if cfg.AcceleratorKind == transport.KindGeneric {
		a.sim = sim
	}
	return a, nil
}

// nextContextID hands out a fresh, process-unique context id for a
// new stream to stamp on every DDCB it submits through this
// Accelerator's shared dispatcher.
func (a *Accelerator) nextContextID() uint32 {
	return atomic.AddUint32(&a.nextContext, 1)
}

// Close stops the dispatcher's completion thread and releases the
// transport handle. Every stream built against this Accelerator must
// have called End first.
func (a *Accelerator) Close() error {
	return a.dispatcher.Close()
}
