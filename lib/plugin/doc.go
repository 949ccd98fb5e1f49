// Package plugin defines the capability contract between a strata node and
// its command plugins, and the ordered registry through which the pipeline
// dispatches commands.
//
// A plugin exposes three capabilities:
//
//   - Peek: attempt to answer a command read-only, without a write
//     transaction. Returning (true, nil) claims the command and finishes
//     it; (false, nil) passes it to the next plugin.
//   - Process: handle a command inside the node's write transaction. The
//     same first-claim-wins contract applies.
//   - UpgradeSchema: bring the plugin's tables up to date. Invoked for
//     every enabled plugin, in registration order, once per promotion to
//     leader (via the reserved UpgradeDatabase command), before the node
//     serves ordinary write traffic.
//
// Registration order is significant: dispatch consults plugins in the order
// they were registered and stops at the first claim. Disabled plugins are
// skipped entirely in both dispatch directions and in schema upgrades.
//
// The registry is constructed once during node assembly and handed to the
// pipeline; there is no global plugin list.
package plugin
