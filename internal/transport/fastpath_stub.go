//go:build !giouring
// +build !giouring

package transport

import "fmt"

// FastEndpoint is unavailable without the giouring build tag; Get on an
// untagged build always returns an error explaining why, mirroring the
// teacher's NewRealRing stub (internal/uring/iouring_stub.go).
type FastEndpoint struct{ *Endpoint }

// NewFastEndpoint reports that the io_uring fast path was not compiled in.
func NewFastEndpoint(ep *Endpoint, entries uint32) (*FastEndpoint, error) {
	return nil, fmt.Errorf("giouring not enabled; build with -tags giouring")
}

func (f *FastEndpoint) Get() ([]byte, error) {
	return nil, fmt.Errorf("giouring not enabled; build with -tags giouring")
}
