// Package hub owns the table of client connections on this instance.
//
// A single goroutine (the actor) serializes registration, removal, snapshots
// and fanout passes; callers talk to it through typed commands on a buffered
// channel. Deliveries never block the actor: each Conn exposes a non-blocking
// TrySend, and destinations that fail are evicted after the pass completes.
package hub
