//go:build !linux

package transport

import "fmt"

// openCAPI is only implemented on Linux, where the accelerator device
// node and golang.org/x/sys/unix syscalls are available. On other
// platforms it returns ErrOpen; KindGeneric (SimHandle) is the kind
// that opens there.
func openCAPI(cardIndex int, mode Mode, appID, appIDMask uint64) (Handle, error) {
	return nil, fmt.Errorf("%w: CAPI transport requires linux", ErrOpen)
}
