// Package broadcast implements the WebSocket subscriber registry and scan
// fan-out using the actor pattern.
//
// A single goroutine owns the set of connected subscribers and receives
// register, unregister, broadcast and count commands over a channel (no
// mutexes). Each subscriber gets its own writer goroutine with a bounded send
// queue, so a slow or dead socket only ever affects itself.
package broadcast
