// Package resource provides integer-indexed arenas for host-side values.
//
// Every registry the bridge needs (handle values, references, callback
// infos, closures, async work, worker contexts) is an Arena owned by a single
// bridge instance instead of a package-level map, so several bridges can run
// in one process and tear down deterministically.
//
// # Handles
//
// Handle 0 is reserved and always invalid. Freed handles are recycled in
// LIFO order:
//
//	a := resource.NewArena[*Reference]()
//	h := a.Insert(kindRef, ref)
//	ref, ok := a.Get(h)
//	a.Remove(h)
//
// Low handles can be reserved for well-known values:
//
//	a.Reserve(5) // handles 1..5 are never returned by Insert
//
// # Observers
//
// Table wraps an Arena and reports lifecycle events, which the bridge uses
// to drive gauges and debug logging:
//
//	t := resource.NewTable[any]()
//	t.Subscribe(observer)
//
// Values implementing Dropper are notified when removed through a Table.
package resource
