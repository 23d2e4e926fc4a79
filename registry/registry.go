// Package registry is a process-wide, explicitly constructed registry
// of accelerator factories keyed by transport.Kind, generalized from
// core/driver_registry.go's per-OID driver instance registry to
// per-kind accelerator handle factories. Unlike that registry, this
// one is never reached through a package-level global: a caller builds
// one Registry, seeds or overrides its factories, and passes it to
// hwzedc.Open explicitly.
package registry

import (
	"fmt"
	"sync"

	"github.com/hwzedc/hwzedc/transport"
)

// Factory opens a transport.Handle for one card of a given kind.
type Factory func(cardIndex int, mode transport.Mode, appID, appIDMask uint64) (transport.Handle, error)

// Registry maps a transport.Kind to the Factory that opens handles for
// it. The zero value is not usable; construct one with New.
type Registry struct {
	mu        sync.Mutex
	factories map[transport.Kind]Factory
}

// New returns a Registry pre-seeded with the two built-in factories:
// KindGeneric opens an in-process SimHandle, KindCAPI opens a real
// device node. Either can be overridden with Register, which is how
// tests substitute a Simulator-backed executor for KindGeneric without
// touching the default.
func New() *Registry {
	r := &Registry{factories: make(map[transport.Kind]Factory)}
	r.factories[transport.KindGeneric] = func(cardIndex int, mode transport.Mode, _, _ uint64) (transport.Handle, error) {
		return transport.NewSimHandle(cardIndex, mode), nil
	}
	r.factories[transport.KindCAPI] = func(cardIndex int, mode transport.Mode, appID, appIDMask uint64) (transport.Handle, error) {
		return transport.Open(transport.KindCAPI, cardIndex, mode, appID, appIDMask)
	}
	return r
}

// Register installs or replaces the factory for kind.
func (r *Registry) Register(kind transport.Kind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Open looks up the factory for kind and opens a handle with it.
// cardIndex == transport.CardRedundant still goes through
// transport.Open's own card-pooling logic rather than this registry's
// single-factory-per-kind model, since redundancy spans every card of
// a kind rather than selecting among kinds.
func (r *Registry) Open(kind transport.Kind, cardIndex int, mode transport.Mode, appID, appIDMask uint64) (transport.Handle, error) {
	if cardIndex == transport.CardRedundant {
		return transport.Open(kind, cardIndex, mode, appID, appIDMask)
	}

	r.mu.Lock()
	factory, ok := r.factories[kind]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("registry: no factory registered for kind %v", kind)
	}
	return factory(cardIndex, mode, appID, appIDMask)
}
