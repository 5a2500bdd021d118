// Package registry tracks the POS agents that have announced themselves to
// the hub.
//
// # Records
//
// There is exactly one Record per agent identity. Each announcement replaces
// the whole record (last writer wins, device lists are never merged) and
// stamps LastSeen. The callback address is derived from the network source
// of the announcement plus the fixed agent port; agents never report their
// own address.
//
// # Liveness
//
// Status is never stored. An agent is online iff now - LastSeen is strictly
// less than the online window (60s by default). Records are never evicted;
// an agent that stops announcing is reported offline forever.
//
// # Changes
//
// Subscribe returns a channel of Change values (registered, announced,
// touched). Publishing never blocks the announcing request; watchers that
// fall behind lose changes.
package registry
