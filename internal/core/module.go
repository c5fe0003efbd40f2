// Package core is the module system foundation for braid. Pluggable
// backends (record stores, model providers) register themselves at init
// time under a namespaced ID and are instantiated, configured, and
// started from the application config.
package core

import "strings"

// ModuleID identifies a module. IDs are namespaced by concern with a dot,
// e.g. "store.sqlite" or "provider.openai".
type ModuleID string

// Namespace returns the portion of the ID before the first dot, or the
// whole ID when there is none.
func (id ModuleID) Namespace() string {
	s := string(id)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

// ModuleInfo is the registration record for a module.
type ModuleInfo struct {
	ID ModuleID

	// New returns a fresh, unconfigured instance of the module.
	New func() Module
}

// Module is the minimal interface every pluggable backend implements.
// Optional lifecycle behavior is expressed through the interfaces in
// lifecycle.go.
type Module interface {
	ModuleInfo() ModuleInfo
}
