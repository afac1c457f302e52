package session

import (
	"context"
	"time"
)

// Adapter persists encoded session Maps, one record per session id.
//
// Adapters are safe for concurrent use. Storage faults never escape an Adapter except as
// the ErrNotFound/ErrUnavailable flags returned by Read or as false results.
type Adapter interface {
	// Read returns the record stored for id.
	// A missing record returns an error wrapping ErrNotFound, other faults wrap ErrUnavailable.
	Read(ctx context.Context, id string) ([]byte, error)

	// Write replaces the record stored for id. It returns false if the record could not be
	// fully written, in which case the previous record is left in place.
	Write(ctx context.Context, id string, data []byte) bool

	// Destroy removes the record stored for id. Destroying a missing record succeeds.
	Destroy(ctx context.Context, id string) bool

	// GC removes records not written for more than maxAge and returns how many were removed.
	GC(ctx context.Context, maxAge time.Duration) (int, bool)

	// Close releases the connections held by the Adapter.
	Close() error
}

const (
	// DefaultClientAddr is recorded for clients whose address is unknown.
	DefaultClientAddr = "0.0.0.0"

	// MaxClientAddrLength is the length of the longest recorded client address.
	MaxClientAddrLength = 64
)

type clientAddrKey struct{}

// WithClientAddr returns a Context that carries the network address of the session client.
func WithClientAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, clientAddrKey{}, addr)
}

// ClientAddr returns the client address set by WithClientAddr or "".
func ClientAddr(ctx context.Context) string {
	if nil == ctx {
		return ""
	}
	addr, _ := ctx.Value(clientAddrKey{}).(string)
	return addr
}

// StoredClientAddr returns the client address recorded by Adapters that bind sessions to it.
// It is DefaultClientAddr when ctx carries no address and is truncated to MaxClientAddrLength.
func StoredClientAddr(ctx context.Context) string {
	addr := ClientAddr(ctx)
	if "" == addr {
		return DefaultClientAddr
	}
	if len(addr) > MaxClientAddrLength {
		addr = addr[:MaxClientAddrLength]
	}
	return addr
}
