package update

import (
	"net"
	"sync"
	"time"
)

const (
	connectivityProbeTimeout = 2 * time.Second
	// connectivityCacheWindow bounds how often the dial probe actually
	// runs; checks inside the window reuse the previous answer.
	connectivityCacheWindow = 10 * time.Second
)

// DialConnectivity answers Online by attempting a TCP dial to the origin
// host, caching the answer briefly so guard evaluation stays cheap.
type DialConnectivity struct {
	// Addr is a host:port to dial, e.g. the origin server.
	Addr string

	mu        sync.Mutex
	lastProbe time.Time
	lastState bool
}

// NewDialConnectivity creates a probe against addr.
func NewDialConnectivity(addr string) *DialConnectivity {
	return &DialConnectivity{Addr: addr}
}

// Online reports reachability of the origin.
func (d *DialConnectivity) Online() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if time.Since(d.lastProbe) < connectivityCacheWindow {
		return d.lastState
	}
	conn, err := net.DialTimeout("tcp", d.Addr, connectivityProbeTimeout)
	d.lastProbe = time.Now()
	d.lastState = err == nil
	if conn != nil {
		_ = conn.Close()
	}
	return d.lastState
}
