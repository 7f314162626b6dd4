// Package hooks implements the request pipeline's hook registry: an
// ordered, append-only chain of handlers consulted for every
// inbound HTTP request. The first hook to claim a request wins; iteration
// itself needs no lock once startup registration is done.
package hooks

import "github.com/gin-gonic/gin"

// Hook evaluates one inbound request. It returns true if it claimed the
// request (and has already written a response), false to let the next hook
// in the registry have a turn.
type Hook interface {
	Evaluate(c *gin.Context) bool
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc func(c *gin.Context) bool

func (f HookFunc) Evaluate(c *gin.Context) bool { return f(c) }

// Registry is the ordered hook chain. Registration happens once at startup
// (Add); Dispatch is read-only and safe for concurrent use thereafter.
type Registry struct {
	hooks []Hook
}

// NewRegistry builds a Registry from hooks in priority order.
func NewRegistry(hooks ...Hook) *Registry {
	return &Registry{hooks: hooks}
}

// Add appends another hook to the end of the chain. Only meant to be called
// during startup wiring, before the registry is handed to the server.
func (r *Registry) Add(h Hook) {
	r.hooks = append(r.hooks, h)
}

// Dispatch walks the chain in order and stops at the first hook that claims
// the request. Callers should register a catch-all (e.g. NotFoundHook) last
// so Dispatch always returns true.
func (r *Registry) Dispatch(c *gin.Context) bool {
	for _, h := range r.hooks {
		if h.Evaluate(c) {
			return true
		}
	}
	return false
}
