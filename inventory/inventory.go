// Package inventory keeps track of the routers a client can reach.
//
// A Router names a device and the address of its NETCONF endpoint. Two
// implementations exist: EtcdInventory, shared between processes, and
// StaticInventory, filled from a config file.
package inventory

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Lookup when no router has the given name.
var ErrNotFound = errors.New("inventory: router not found")

type Router struct {
	Name    string `json:"name"`
	Addr    string `json:"addr"`              // host:port of the NETCONF endpoint
	Framing string `json:"framing,omitempty"` // "eom" or "chunked", see protocol.ParseFraming
}

type Inventory interface {
	Register(ctx context.Context, router Router, ttl int64) error
	Deregister(ctx context.Context, name string) error
	Lookup(ctx context.Context, name string) (Router, error)
	List(ctx context.Context) ([]Router, error)
	Watch(ctx context.Context) <-chan []Router
}
