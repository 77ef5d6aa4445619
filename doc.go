// Package eventual provides lazy promises over a cooperative driving
// protocol.
//
// A promise represents a value that may not be known yet. Unlike eager
// promise implementations, a promise created by this package does nothing
// until it is driven: its producer runs as a coroutine that a driver steps
// from suspension point to suspension point, observing the yielded markers
// along the way. Settle drives a promise to completion in one call, the
// await subpackage pumps promises concurrently under a context.
//
// Chains built with Then, Catch and Finally, as well as the All, Race, Any
// and AllSettled combinators, stay fully cooperative: driving the last
// promise of a chain transitively drives everything it depends on.
package eventual
