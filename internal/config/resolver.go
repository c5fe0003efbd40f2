package config

import "slices"

// Resolve flattens the modules section into the list of module IDs to
// load. IDs come back sorted so provisioning order is stable across
// runs regardless of map iteration order; modules that depend on
// collaborators bind them lazily at start rather than at load time.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
