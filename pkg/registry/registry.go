// Package registry tracks the network clients attached to the device stream
// and fans device data out to them.
//
// Broadcast takes a snapshot of the members under the registry mutex and
// writes to each one outside of it. Members whose write fails are removed
// and closed in a single pass after the iteration, so a broken client never
// affects delivery to the others.
package registry

import (
	"sync"

	"github.com/pion/logging"
)

// Config configures a Registry.
type Config struct {
	// Name is used for the logger scope, e.g. "websocket" or "tcp".
	Name string

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Registry is a synchronized set of clients.
type Registry struct {
	name string
	log  logging.LeveledLogger

	mu      sync.Mutex
	members []*Client
}

// New creates an empty registry.
func New(config Config) *Registry {
	r := &Registry{name: config.Name}
	if r.name == "" {
		r.name = "clients"
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("registry-" + r.name)
	}
	return r
}

// Name returns the registry name.
func (r *Registry) Name() string { return r.name }

// Add registers c. A client can belong to at most one registry.
func (r *Registry) Add(c *Client) error {
	if c.Closed() {
		return ErrClientClosed
	}
	r.mu.Lock()
	if !c.owner.CompareAndSwap(nil, r) {
		r.mu.Unlock()
		return ErrAlreadyRegistered
	}
	r.members = append(r.members, c)
	n := len(r.members)
	r.mu.Unlock()

	if r.log != nil {
		r.log.Debugf("added %s client %s from %s (%d total)", c.Kind(), c.ID(), c.RemoteAddr(), n)
	}
	return nil
}

// Remove deregisters c and closes it. Removing a client that is not a
// member only closes it.
func (r *Registry) Remove(c *Client) {
	if r.detach(c) && r.log != nil {
		r.log.Debugf("removed %s client %s", c.Kind(), c.ID())
	}
	c.Close()
}

func (r *Registry) detach(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !c.owner.CompareAndSwap(r, nil) {
		return false
	}
	for i, m := range r.members {
		if m == c {
			last := len(r.members) - 1
			r.members[i] = r.members[last]
			r.members[last] = nil
			r.members = r.members[:last]
			return true
		}
	}
	return false
}

// Broadcast sends p to every member and returns how many writes succeeded.
// Members whose write fails are removed and closed after the iteration.
func (r *Registry) Broadcast(p []byte) int {
	snapshot := r.Clients()
	if len(snapshot) == 0 {
		return 0
	}

	var failed []*Client
	delivered := 0
	for _, c := range snapshot {
		if err := c.Send(p); err != nil {
			if r.log != nil {
				r.log.Debugf("evicting %s client %s: %v", c.Kind(), c.ID(), err)
			}
			failed = append(failed, c)
			continue
		}
		delivered++
	}

	for _, c := range failed {
		r.Remove(c)
	}
	return delivered
}

// Clients returns a snapshot of the current members.
func (r *Registry) Clients() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, len(r.members))
	copy(out, r.members)
	return out
}

// Len returns the number of members.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// CloseAll removes and closes every member.
func (r *Registry) CloseAll() int {
	snapshot := r.Clients()
	for _, c := range snapshot {
		r.Remove(c)
	}
	if r.log != nil && len(snapshot) > 0 {
		r.log.Infof("closed %d %s clients", len(snapshot), r.name)
	}
	return len(snapshot)
}
