package plugin

import (
	"github.com/lni/dragonboat/v4/logger"
	"github.com/stratadb/strata/lib/command"
	"github.com/stratadb/strata/lib/db"
)

var log = logger.GetLogger("plugin")

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

// Registry holds the node's plugins in registration order with a per-plugin
// enabled flag.
//
// Thread-safety: Register and enablement changes happen during node
// assembly, before dispatch starts; dispatch itself is read-only and runs
// on the single pipeline goroutine.
type Registry struct {
	entries []*entry
	byName  map[string]*entry
}

type entry struct {
	plugin  Plugin
	enabled bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*entry)}
}

// Register appends p to the dispatch order, enabled. Registering a second
// plugin under an existing name is ignored with a warning.
func (r *Registry) Register(p Plugin) {
	name := p.Name()
	if _, exists := r.byName[name]; exists {
		log.Warningf("plugin %q already registered, ignoring", name)
		return
	}
	e := &entry{plugin: p, enabled: true}
	r.entries = append(r.entries, e)
	r.byName[name] = e
}

// SetEnabled flips the enabled flag of a plugin. Returns false if no plugin
// with that name is registered.
func (r *Registry) SetEnabled(name string, enabled bool) bool {
	e, ok := r.byName[name]
	if !ok {
		return false
	}
	e.enabled = enabled
	return true
}

// Configure enables exactly the named plugins and disables the rest.
// Unknown names are logged and skipped.
func (r *Registry) Configure(enabled []string) {
	for _, e := range r.entries {
		e.enabled = false
	}
	for _, name := range enabled {
		if !r.SetEnabled(name, true) {
			log.Warningf("cannot enable unknown plugin %q", name)
		}
	}
}

// Enabled reports whether the named plugin is registered and enabled.
func (r *Registry) Enabled(name string) bool {
	e, ok := r.byName[name]
	return ok && e.enabled
}

// Names returns all registered plugin names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.plugin.Name())
	}
	return out
}

// EnabledNames returns the enabled plugin names in registration order.
func (r *Registry) EnabledNames() []string {
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		if e.enabled {
			out = append(out, e.plugin.Name())
		}
	}
	return out
}

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

// DispatchPeek offers cmd to every enabled plugin's Peek in registration
// order, stopping at the first claim. Returns false after exhausting the
// list without a claim. A plugin error stops dispatch and is returned to
// the pipeline boundary.
func (r *Registry) DispatchPeek(h Host, d *db.DB, cmd *command.Command) (bool, error) {
	for _, e := range r.entries {
		if !e.enabled {
			continue
		}
		claimed, err := e.plugin.Peek(h, d, cmd)
		if err != nil {
			return false, err
		}
		if claimed {
			log.Infof("plugin %q peeked command %q", e.plugin.Name(), cmd.Request.Method)
			return true, nil
		}
	}
	return false, nil
}

// DispatchProcess offers cmd to every enabled plugin's Process in
// registration order with the same first-claim-wins contract as
// DispatchPeek.
func (r *Registry) DispatchProcess(h Host, d *db.DB, cmd *command.Command) (bool, error) {
	for _, e := range r.entries {
		if !e.enabled {
			continue
		}
		claimed, err := e.plugin.Process(h, d, cmd)
		if err != nil {
			return false, err
		}
		if claimed {
			log.Infof("plugin %q processed command %q", e.plugin.Name(), cmd.Request.Method)
			return true, nil
		}
	}
	return false, nil
}

// DispatchUpgrade invokes UpgradeSchema on every enabled plugin in
// registration order. There is no claim-based short-circuit; an error
// aborts the remaining upgrades and the caller rolls back the surrounding
// transaction.
func (r *Registry) DispatchUpgrade(h Host, d *db.DB) error {
	for _, e := range r.entries {
		if !e.enabled {
			continue
		}
		log.Infof("upgrading schema for plugin %q", e.plugin.Name())
		if err := e.plugin.UpgradeSchema(h, d); err != nil {
			return err
		}
	}
	return nil
}
